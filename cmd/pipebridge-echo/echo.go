// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/bureau-foundation/pipebridge/lib/endpoint"
	"github.com/bureau-foundation/pipebridge/transport"
)

// echoServer accepts connections on one pipe address and echoes
// everything it reads.
type echoServer struct {
	// Address is the pipe address to serve, e.g. \\.\pipe\echo.
	Address string

	// Transport opens the listening instances.
	Transport transport.Transport

	// Logger receives structured log output. If nil, slog.Default() is
	// used.
	Logger *slog.Logger

	endpoint    endpoint.Endpoint
	cancel      context.CancelFunc
	done        chan struct{}
	connections sync.WaitGroup
}

func (s *echoServer) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Start validates the address and begins accepting in the background.
func (s *echoServer) Start(ctx context.Context) error {
	if s.Transport == nil {
		return errors.New("echo: Transport is required")
	}
	parsed, err := endpoint.Parse(s.Address)
	if err != nil {
		return fmt.Errorf("echo: %w", err)
	}
	s.endpoint = parsed

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.acceptLoop(ctx)
	}()

	s.logger().Info("echo server started", "address", s.Address)
	return nil
}

// Stop cancels the pending accept and waits for open connections to
// drain.
func (s *echoServer) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.Wait()
}

// Wait blocks until the server has stopped.
func (s *echoServer) Wait() {
	if s.done != nil {
		<-s.done
	}
}

// acceptLoop keeps one accept pending at a time, as a classic named
// pipe server does. It waits for in-flight connections before
// returning.
func (s *echoServer) acceptLoop(ctx context.Context) {
	var connectionCount int64

	for {
		connection, err := s.Transport.Accept(ctx, s.endpoint)
		if err != nil {
			if ctx.Err() != nil {
				s.connections.Wait()
				return
			}
			s.logger().Error("accept failed", "error", err)
			continue
		}

		connectionCount++
		connectionID := connectionCount
		s.connections.Add(1)
		go func() {
			defer s.connections.Done()
			s.handleConnection(ctx, connection, connectionID)
		}()
	}
}

func (s *echoServer) handleConnection(ctx context.Context, connection net.Conn, connectionID int64) {
	logger := s.logger().With("connection_id", connectionID)
	logger.Debug("connection accepted")

	stop := context.AfterFunc(ctx, func() { connection.Close() })
	defer stop()
	defer connection.Close()

	bytesCopied, err := io.Copy(connection, connection)
	if err != nil && !transport.IsExpectedCloseError(err) {
		logger.Debug("echo copy error",
			"bytes_copied", bytesCopied,
			"error", err,
		)
	}
	logger.Debug("connection closed", "bytes_copied", bytesCopied)
}
