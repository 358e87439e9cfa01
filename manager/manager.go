// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/bureau-foundation/pipebridge/lib/endpoint"
	"github.com/bureau-foundation/pipebridge/lib/handle"
	"github.com/bureau-foundation/pipebridge/transport"
)

// DefaultMaxReadLength bounds the buffer a single Read allocates when
// Options.MaxReadLength is zero.
const DefaultMaxReadLength = 1 << 20

// Options configures a Manager.
type Options struct {
	// Logger receives structured log output. If nil, slog.Default() is
	// used. Per-resource events are logged at Debug level.
	Logger *slog.Logger

	// MaxReadLength caps the length of a single Read. Larger requests
	// are served as short reads, which io.Reader semantics allow.
	MaxReadLength int
}

// Manager performs pipe operations on behalf of a bridge session. All
// methods are safe for concurrent use.
type Manager struct {
	transport     transport.Transport
	logger        *slog.Logger
	maxReadLength int

	connections *handle.Table[net.Conn]
	listeners   *handle.Table[*listener]
}

// listener is a stored address plus the context its pending accepts
// are bound to.
type listener struct {
	endpoint endpoint.Endpoint
	ctx      context.Context
	cancel   context.CancelCauseFunc
}

// Stats is a snapshot of live resource counts.
type Stats struct {
	Connections int
	Listeners   int
}

// New creates a Manager that opens connections with pipeTransport.
func New(pipeTransport transport.Transport, options Options) *Manager {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxReadLength := options.MaxReadLength
	if maxReadLength <= 0 {
		maxReadLength = DefaultMaxReadLength
	}
	return &Manager{
		transport:     pipeTransport,
		logger:        logger,
		maxReadLength: maxReadLength,
		connections:   handle.NewTable[net.Conn]("connection"),
		listeners:     handle.NewTable[*listener]("listener"),
	}
}

// Connect dials address and returns the new connection's identifier.
// Malformed addresses fail with *endpoint.FormatError before any
// transport call; dial failures return *TransportError.
func (m *Manager) Connect(ctx context.Context, address string) (handle.ID, error) {
	parsed, err := endpoint.Parse(address)
	if err != nil {
		return handle.Invalid, err
	}

	connection, err := m.transport.Dial(ctx, parsed)
	if err != nil {
		return handle.Invalid, &TransportError{Op: "connect", Endpoint: address, Err: err}
	}

	id, err := m.promote(connection)
	if err != nil {
		return handle.Invalid, err
	}
	m.logger.Debug("connection opened", "connection_id", id, "endpoint", address)
	return id, nil
}

// Read reads up to maxLength bytes from the connection. A zero length
// returns immediately without touching the transport. A transport read
// that completes with no bytes and no error is retried, so a successful
// Read always returns at least one byte. On error the bytes read before
// the failure are returned alongside an *IOError.
func (m *Manager) Read(id handle.ID, maxLength int) ([]byte, error) {
	connection, err := m.connections.Lookup(id)
	if err != nil {
		return nil, err
	}
	if maxLength == 0 {
		return []byte{}, nil
	}
	if maxLength < 0 {
		return nil, &IOError{Op: "read", ConnectionID: id, Err: fmt.Errorf("negative read length %d", maxLength)}
	}

	buffer := make([]byte, min(maxLength, m.maxReadLength))
	for {
		count, err := connection.Read(buffer)
		if err != nil {
			return buffer[:count], &IOError{Op: "read", ConnectionID: id, Err: err}
		}
		if count > 0 {
			return buffer[:count], nil
		}
	}
}

// Write writes data to the connection. Writes are all-or-nothing: on
// success every byte was written and len(data) is returned; on failure
// zero is reported with an *IOError. Empty data succeeds without
// touching the transport.
func (m *Manager) Write(id handle.ID, data []byte) (int, error) {
	connection, err := m.connections.Lookup(id)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}

	if written, err := connection.Write(data); err != nil {
		if written > 0 {
			m.logger.Debug("write failed after partial transfer",
				"connection_id", id,
				"written", written,
				"requested", len(data),
			)
		}
		return 0, &IOError{Op: "write", ConnectionID: id, Err: err}
	}
	return len(data), nil
}

// Close closes the connection and removes its identifier. If the close
// fails the identifier stays valid and the error is returned. Closing an
// unknown identifier returns *handle.NotFoundError.
func (m *Manager) Close(id handle.ID) error {
	err := m.connections.RemoveIf(id, func(connection net.Conn) error {
		if err := connection.Close(); err != nil {
			return &IOError{Op: "close", ConnectionID: id, Err: err}
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.logger.Debug("connection closed", "connection_id", id)
	return nil
}

// Listen records address for later Accept calls and returns the
// listener's identifier. No transport resource is created.
func (m *Manager) Listen(address string) (handle.ID, error) {
	parsed, err := endpoint.Parse(address)
	if err != nil {
		return handle.Invalid, err
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	id, err := m.listeners.Insert(&listener{endpoint: parsed, ctx: ctx, cancel: cancel})
	if err != nil {
		cancel(err)
		return handle.Invalid, err
	}
	m.logger.Debug("listener registered", "listener_id", id, "endpoint", address)
	return id, nil
}

// Accept waits for one inbound connection on the listener's address and
// returns the new connection's identifier. Every call creates its own
// listening instance; concurrent calls on one listener are not
// serialized. The wait ends early when ctx is done or the listener is
// closed, in which case the *TransportError wraps ErrListenerClosed.
func (m *Manager) Accept(ctx context.Context, listenerID handle.ID) (handle.ID, error) {
	owner, err := m.listeners.Lookup(listenerID)
	if err != nil {
		return handle.Invalid, err
	}

	acceptCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(owner.ctx, func() {
		cancel(ErrListenerClosed)
	})
	defer stop()

	connection, err := m.transport.Accept(acceptCtx, owner.endpoint)
	if err != nil {
		if cause := context.Cause(acceptCtx); errors.Is(cause, ErrListenerClosed) {
			err = ErrListenerClosed
		}
		return handle.Invalid, &TransportError{Op: "accept", Endpoint: owner.endpoint.String(), Err: err}
	}

	id, err := m.promote(connection)
	if err != nil {
		return handle.Invalid, err
	}
	m.logger.Debug("connection accepted",
		"connection_id", id,
		"listener_id", listenerID,
		"endpoint", owner.endpoint.String(),
	)
	return id, nil
}

// CloseListener removes the listener and cancels its pending accepts.
// Closing an unknown listener is not an error.
func (m *Manager) CloseListener(listenerID handle.ID) error {
	if owner, ok := m.listeners.Remove(listenerID); ok {
		owner.cancel(ErrListenerClosed)
		m.logger.Debug("listener closed", "listener_id", listenerID)
	}
	return nil
}

// Shutdown closes every listener and connection. Pending accepts are
// cancelled and in-flight reads and writes fail. The Manager stays
// usable afterwards; identifiers continue from where they were.
func (m *Manager) Shutdown() {
	listeners := m.listeners.Drain()
	for _, owner := range listeners {
		owner.cancel(ErrListenerClosed)
	}

	connections := m.connections.Drain()
	for _, connection := range connections {
		if err := connection.Close(); err != nil && !transport.IsExpectedCloseError(err) {
			m.logger.Warn("closing connection during shutdown", "error", err)
		}
	}

	if len(listeners) > 0 || len(connections) > 0 {
		m.logger.Info("connection manager shut down",
			"listeners", len(listeners),
			"connections", len(connections),
		)
	}
}

// Stats returns the current number of live connections and listeners.
func (m *Manager) Stats() Stats {
	return Stats{
		Connections: m.connections.Len(),
		Listeners:   m.listeners.Len(),
	}
}

// promote stores a freshly opened connection. If the identifier space is
// exhausted the connection is closed so it does not leak.
func (m *Manager) promote(connection net.Conn) (handle.ID, error) {
	id, err := m.connections.Insert(connection)
	if err != nil {
		attrs := []any{"error", err}
		if closeErr := connection.Close(); closeErr != nil {
			attrs = append(attrs, "close_error", closeErr)
		}
		m.logger.Error("connection identifiers exhausted, new connection closed", attrs...)
		return handle.Invalid, err
	}
	return id, nil
}
