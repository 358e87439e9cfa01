// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"sync"

	"github.com/bureau-foundation/pipebridge/lib/endpoint"
)

// Transport connects and accepts byte-stream sessions on named-pipe
// endpoints. Implementations are safe for concurrent use.
type Transport interface {
	// Dial connects to the pipe at ep. It fails if nothing is
	// accepting on that address.
	Dial(ctx context.Context, ep endpoint.Endpoint) (net.Conn, error)

	// Accept listens on ep until one peer connects or ctx is done. The
	// listening instance exists only for the duration of the call.
	Accept(ctx context.Context, ep endpoint.Endpoint) (net.Conn, error)
}

// Transport kinds accepted by New.
const (
	KindAuto       = "auto"
	KindNamedPipe  = "named-pipe"
	KindUnixSocket = "unix-socket"
	KindMemory     = "memory"
)

// ErrUnsupported is returned when a transport kind is not available on
// the running platform.
var ErrUnsupported = errors.New("transport not supported on this platform")

// ErrRemoteHost is returned by transports that can only reach the local
// machine when an endpoint names another host.
var ErrRemoteHost = errors.New("remote pipe hosts are not reachable with this transport")

// Options configures the transports built by New.
type Options struct {
	// SocketDirectory is where UnixSocket places socket files.
	SocketDirectory string

	// PipeBufferSize is the input and output buffer size, in bytes, of
	// NamedPipe server instances. Zero uses the system default.
	PipeBufferSize int32
}

// New builds the transport named by kind. KindAuto selects NamedPipe on
// Windows and UnixSocket elsewhere.
func New(kind string, options Options) (Transport, error) {
	if kind == KindAuto || kind == "" {
		if runtime.GOOS == "windows" {
			kind = KindNamedPipe
		} else {
			kind = KindUnixSocket
		}
	}

	switch kind {
	case KindNamedPipe:
		pipe, err := NewNamedPipe(options.PipeBufferSize)
		if err != nil {
			return nil, err
		}
		return pipe, nil
	case KindUnixSocket:
		socket, err := NewUnixSocket(options.SocketDirectory)
		if err != nil {
			return nil, err
		}
		return socket, nil
	case KindMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", kind)
	}
}

// listenFunc binds an OS listener at a transport-specific address.
type listenFunc func(address string) (net.Listener, error)

// sharedListeners hands out OS listeners to concurrent Accept calls.
// Each address has at most one listener, created on the first pending
// accept and closed when the last pending accept returns.
type sharedListeners struct {
	listen listenFunc

	mu     sync.Mutex
	active map[string]*sharedListener
}

type sharedListener struct {
	listener net.Listener

	// waiters counts pending Accept calls. Guarded by sharedListeners.mu.
	waiters int

	// connections hands accepted connections to waiters. Unbuffered so
	// a connection is never parked where no waiter can reach it.
	connections chan net.Conn

	// done is closed when the last waiter leaves.
	done      chan struct{}
	closeOnce sync.Once

	// failed is closed when the accept loop stops on an error, which is
	// stored in err first.
	failed chan struct{}
	err    error
}

func newSharedListeners(listen listenFunc) *sharedListeners {
	return &sharedListeners{
		listen: listen,
		active: make(map[string]*sharedListener),
	}
}

// accept waits for one connection on the listener for address, creating
// the listener if no other accept is pending.
func (s *sharedListeners) accept(ctx context.Context, address string) (net.Conn, error) {
	entry, err := s.acquire(address)
	if err != nil {
		return nil, err
	}
	defer s.release(address, entry)

	select {
	case connection := <-entry.connections:
		return connection, nil
	case <-entry.failed:
		return nil, entry.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *sharedListeners) acquire(address string) (*sharedListener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.active[address]; ok {
		entry.waiters++
		return entry, nil
	}

	listener, err := s.listen(address)
	if err != nil {
		return nil, err
	}
	entry := &sharedListener{
		listener:    listener,
		waiters:     1,
		connections: make(chan net.Conn),
		done:        make(chan struct{}),
		failed:      make(chan struct{}),
	}
	s.active[address] = entry
	go s.acceptLoop(address, entry)
	return entry, nil
}

func (s *sharedListeners) release(address string, entry *sharedListener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.waiters--
	if entry.waiters > 0 {
		return
	}
	if s.active[address] == entry {
		delete(s.active, address)
	}
	entry.shutdown()
}

func (s *sharedListeners) acceptLoop(address string, entry *sharedListener) {
	for {
		connection, err := entry.listener.Accept()
		if err != nil {
			// Unpublish before anyone can acquire the broken listener
			// again. Waiters still holding the entry see failed.
			s.mu.Lock()
			if s.active[address] == entry {
				delete(s.active, address)
			}
			entry.listener.Close()
			s.mu.Unlock()

			entry.err = err
			close(entry.failed)
			return
		}

		select {
		case entry.connections <- connection:
		case <-entry.done:
			connection.Close()
			return
		}
	}
}

// count returns the number of pending accepts on address.
func (s *sharedListeners) count(address string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.active[address]; ok {
		return entry.waiters
	}
	return 0
}

func (l *sharedListener) shutdown() {
	l.closeOnce.Do(func() {
		close(l.done)
		l.listener.Close()
	})
}
