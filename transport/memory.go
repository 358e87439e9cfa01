// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/bureau-foundation/pipebridge/lib/endpoint"
)

var _ Transport = (*Memory)(nil)

// ErrPipeNotFound is returned by Memory.Dial when no accept is pending on
// the requested pipe name.
var ErrPipeNotFound = errors.New("pipe not found")

// Memory is an in-process Transport for tests. Dial pairs with the oldest
// pending Accept on the same pipe name through net.Pipe. Hosts are not
// distinguished: \\.\pipe\a and \\other\pipe\a are the same pipe.
type Memory struct {
	mu      sync.Mutex
	waiting map[string][]*memoryAcceptor
}

type memoryAcceptor struct {
	// connection receives the server end of the pipe. Buffered so the
	// dialer never blocks while holding the transport lock.
	connection chan net.Conn
}

// NewMemory creates an empty in-process transport.
func NewMemory() *Memory {
	return &Memory{waiting: make(map[string][]*memoryAcceptor)}
}

// Dial connects to the oldest pending accept on ep's name, or fails with
// ErrPipeNotFound.
func (m *Memory) Dial(ctx context.Context, ep endpoint.Endpoint) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	queue := m.waiting[ep.Name]
	if len(queue) == 0 {
		return nil, fmt.Errorf("dialing %s: %w", ep, ErrPipeNotFound)
	}
	acceptor := queue[0]
	m.setQueue(ep.Name, queue[1:])

	client, server := net.Pipe()
	acceptor.connection <- server
	return client, nil
}

// Accept waits for a Dial on ep's name.
func (m *Memory) Accept(ctx context.Context, ep endpoint.Endpoint) (net.Conn, error) {
	acceptor := &memoryAcceptor{connection: make(chan net.Conn, 1)}

	m.mu.Lock()
	m.waiting[ep.Name] = append(m.waiting[ep.Name], acceptor)
	m.mu.Unlock()

	select {
	case connection := <-acceptor.connection:
		return connection, nil
	case <-ctx.Done():
	}

	m.mu.Lock()
	removed := m.remove(ep.Name, acceptor)
	m.mu.Unlock()
	if !removed {
		// A dialer claimed this acceptor before it was withdrawn. The
		// connection is already buffered; close it so the dialer sees
		// the session end.
		(<-acceptor.connection).Close()
	}
	return nil, ctx.Err()
}

// Pending returns the number of accepts waiting on ep's name.
func (m *Memory) Pending(ep endpoint.Endpoint) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiting[ep.Name])
}

func (m *Memory) remove(name string, target *memoryAcceptor) bool {
	queue := m.waiting[name]
	for index, acceptor := range queue {
		if acceptor == target {
			m.setQueue(name, append(queue[:index:index], queue[index+1:]...))
			return true
		}
	}
	return false
}

func (m *Memory) setQueue(name string, queue []*memoryAcceptor) {
	if len(queue) == 0 {
		delete(m.waiting, name)
		return
	}
	m.waiting[name] = queue
}
