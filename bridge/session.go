// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/bureau-foundation/pipebridge/lib/ipc"
)

// SessionConfig configures a Session.
type SessionConfig struct {
	// Channel carries commands in and responses out. Required.
	Channel Channel

	// Connections performs the pipe operations. Required.
	Connections Connections

	// Version is reported in the handshake.
	Version string

	// Message is an opaque string passed to the client in the
	// handshake.
	Message string

	// Logger receives structured log output. If nil, slog.Default() is
	// used.
	Logger *slog.Logger
}

// Session serves one client over one channel.
type Session struct {
	id     string
	config SessionConfig
	logger *slog.Logger
}

// NewSession creates a Session with a fresh random identifier.
func NewSession(config SessionConfig) (*Session, error) {
	if config.Channel == nil {
		return nil, errors.New("bridge: Channel is required")
	}
	if config.Connections == nil {
		return nil, errors.New("bridge: Connections is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &Session{
		id:     id,
		config: config,
		logger: logger.With("session", id),
	}, nil
}

// ID returns the session identifier sent in the handshake.
func (s *Session) ID() string {
	return s.id
}

// Run writes the handshake and serves commands until the channel
// reaches EOF, the channel fails, or ctx is cancelled. Before returning
// it shuts down the connections, waits for every in-flight command, and
// delivers all outstanding responses.
//
// A clean EOF returns nil. Cancellation returns ctx.Err(). When ctx is
// cancelled the goroutine blocked in Channel.Receive stays blocked
// until the channel's reader is closed by its owner.
func (s *Session) Run(ctx context.Context) error {
	handshake := ipc.Handshake{
		Protocol: ipc.ProtocolVersion,
		Session:  s.id,
		Version:  s.config.Version,
		Message:  s.config.Message,
	}
	if err := s.config.Channel.Send(handshake); err != nil {
		return fmt.Errorf("writing handshake: %w", err)
	}
	s.logger.Info("session started", "version", s.config.Version)

	outbox := NewOutbox(func(response ipc.Response) error {
		return s.config.Channel.Send(response)
	}, s.logger)
	dispatcher := NewDispatcher(s.config.Connections, outbox, s.logger)

	dispatchCtx, cancelDispatch := context.WithCancel(ctx)
	defer cancelDispatch()

	received := make(chan receivedCommand)
	go s.receive(dispatchCtx, received)

	var runError error
	commands := 0
loop:
	for {
		select {
		case <-ctx.Done():
			runError = ctx.Err()
			break loop
		case next := <-received:
			if next.err != nil {
				var messageError *MessageError
				if errors.As(next.err, &messageError) {
					s.logger.Warn("rejecting malformed command", "seq", next.command.Sequence, "error", next.err)
					dispatcher.Reject(next.command, &CommandError{Verb: next.command.Verb, Reason: messageError.Err.Error()})
					continue
				}
				if !errors.Is(next.err, io.EOF) {
					runError = fmt.Errorf("reading command: %w", next.err)
				}
				break loop
			}
			commands++
			dispatcher.Dispatch(dispatchCtx, next.command)
		}
	}

	// Cancel pending dials and accepts, then close every handle so
	// blocked reads and writes return. Operations that completed
	// between the two steps are collected by the second Shutdown.
	cancelDispatch()
	s.config.Connections.Shutdown()
	dispatcher.Wait()
	s.config.Connections.Shutdown()
	outbox.Close()

	if err := outbox.Err(); err != nil && runError == nil {
		runError = fmt.Errorf("writing response: %w", err)
	}
	s.logger.Info("session ended", "commands", commands, "error", runError)
	return runError
}

type receivedCommand struct {
	command ipc.Command
	err     error
}

// receive reads commands until the channel fails, forwarding each to
// received. A MessageError does not end the loop.
func (s *Session) receive(ctx context.Context, received chan<- receivedCommand) {
	for {
		var command ipc.Command
		err := s.config.Channel.Receive(&command)
		select {
		case received <- receivedCommand{command: command, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			var messageError *MessageError
			if !errors.As(err, &messageError) {
				return
			}
		}
	}
}
