// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/pipebridge/lib/endpoint"
)

// readResult is one scripted outcome of scriptedConn.Read.
type readResult struct {
	data []byte
	err  error
}

// scriptedConn is a net.Conn whose reads replay a script and whose
// writes and closes return configured errors. It counts calls so tests
// can assert that no I/O happened.
type scriptedConn struct {
	mu      sync.Mutex
	reads   []readResult
	written []byte

	writeError error
	closeError error

	readCalls  atomic.Int32
	writeCalls atomic.Int32
	closeCalls atomic.Int32
}

func (c *scriptedConn) Read(buffer []byte) (int, error) {
	c.readCalls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.reads) == 0 {
		return 0, errors.New("script exhausted")
	}
	next := c.reads[0]
	c.reads = c.reads[1:]
	return copy(buffer, next.data), next.err
}

func (c *scriptedConn) Write(data []byte) (int, error) {
	c.writeCalls.Add(1)
	if c.writeError != nil {
		return 0, c.writeError
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, data...)
	return len(data), nil
}

func (c *scriptedConn) Close() error {
	c.closeCalls.Add(1)
	return c.closeError
}

func (c *scriptedConn) LocalAddr() net.Addr              { return &net.UnixAddr{Name: "local", Net: "unix"} }
func (c *scriptedConn) RemoteAddr() net.Addr             { return &net.UnixAddr{Name: "remote", Net: "unix"} }
func (c *scriptedConn) SetDeadline(time.Time) error      { return nil }
func (c *scriptedConn) SetReadDeadline(time.Time) error  { return nil }
func (c *scriptedConn) SetWriteDeadline(time.Time) error { return nil }

// fakeTransport hands out connections from dial and accept functions and
// counts calls.
type fakeTransport struct {
	dial   func(ctx context.Context, ep endpoint.Endpoint) (net.Conn, error)
	accept func(ctx context.Context, ep endpoint.Endpoint) (net.Conn, error)

	dialCalls   atomic.Int32
	acceptCalls atomic.Int32
}

func (f *fakeTransport) Dial(ctx context.Context, ep endpoint.Endpoint) (net.Conn, error) {
	f.dialCalls.Add(1)
	return f.dial(ctx, ep)
}

func (f *fakeTransport) Accept(ctx context.Context, ep endpoint.Endpoint) (net.Conn, error) {
	f.acceptCalls.Add(1)
	return f.accept(ctx, ep)
}

// connectingTransport dials successfully, returning conn (or a fresh
// scriptedConn per call when conn is nil).
func connectingTransport(conn *scriptedConn) *fakeTransport {
	return &fakeTransport{
		dial: func(context.Context, endpoint.Endpoint) (net.Conn, error) {
			if conn != nil {
				return conn, nil
			}
			return &scriptedConn{}, nil
		},
		accept: func(context.Context, endpoint.Endpoint) (net.Conn, error) {
			return &scriptedConn{}, nil
		},
	}
}
