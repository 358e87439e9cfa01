// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/bureau-foundation/pipebridge/lib/endpoint"
)

// NamedPipe is the Windows named-pipe transport. It cannot be created on
// this platform.
type NamedPipe struct{}

// NewNamedPipe always fails with ErrUnsupported outside Windows.
func NewNamedPipe(int32) (*NamedPipe, error) {
	return nil, fmt.Errorf("named pipes: %w", ErrUnsupported)
}

func (*NamedPipe) Dial(context.Context, endpoint.Endpoint) (net.Conn, error) {
	return nil, ErrUnsupported
}

func (*NamedPipe) Accept(context.Context, endpoint.Endpoint) (net.Conn, error) {
	return nil, ErrUnsupported
}
