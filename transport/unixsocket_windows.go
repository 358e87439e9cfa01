// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/bureau-foundation/pipebridge/lib/endpoint"
)

// UnixSocket is unavailable on Windows, where NamedPipe is the native
// transport.
type UnixSocket struct{}

// NewUnixSocket always fails with ErrUnsupported on Windows.
func NewUnixSocket(string) (*UnixSocket, error) {
	return nil, fmt.Errorf("unix sockets: %w", ErrUnsupported)
}

func (*UnixSocket) Dial(context.Context, endpoint.Endpoint) (net.Conn, error) {
	return nil, ErrUnsupported
}

func (*UnixSocket) Accept(context.Context, endpoint.Endpoint) (net.Conn, error) {
	return nil, ErrUnsupported
}

func (*UnixSocket) Pending(endpoint.Endpoint) int { return 0 }
