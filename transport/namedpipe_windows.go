// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/Microsoft/go-winio"

	"github.com/bureau-foundation/pipebridge/lib/endpoint"
)

var _ Transport = (*NamedPipe)(nil)

// NamedPipe is the Windows named-pipe transport. Server instances are
// duplex byte-mode pipes created with go-winio.
type NamedPipe struct {
	listeners *sharedListeners
}

// NewNamedPipe creates a named-pipe transport. bufferSize sets the input
// and output buffer size of server instances; zero uses the default.
func NewNamedPipe(bufferSize int32) (*NamedPipe, error) {
	config := &winio.PipeConfig{
		InputBufferSize:  bufferSize,
		OutputBufferSize: bufferSize,
	}
	return &NamedPipe{
		listeners: newSharedListeners(func(path string) (net.Listener, error) {
			return winio.ListenPipe(path, config)
		}),
	}, nil
}

// Dial connects to the pipe, waiting while every server instance is busy
// until ctx is done.
func (p *NamedPipe) Dial(ctx context.Context, ep endpoint.Endpoint) (net.Conn, error) {
	return winio.DialPipeContext(ctx, ep.PipePath())
}

// Accept creates server instances for the pipe until one peer connects.
// Server instances can only be created on the local machine.
func (p *NamedPipe) Accept(ctx context.Context, ep endpoint.Endpoint) (net.Conn, error) {
	if !ep.IsLocal() {
		return nil, fmt.Errorf("listening on %s: %w", ep, ErrRemoteHost)
	}
	return p.listeners.accept(ctx, ep.PipePath())
}
