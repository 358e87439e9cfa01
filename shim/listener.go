// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package shim

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/bureau-foundation/pipebridge/lib/ipc"
)

// listener is a host-side listener identifier presented as a
// net.Listener.
type listener struct {
	client  *Client
	id      int32
	address Addr

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

var _ net.Listener = (*listener)(nil)

func newListener(client *Client, id int32, address string) *listener {
	ctx, cancel := context.WithCancel(context.Background())
	return &listener{
		client:  client,
		id:      id,
		address: Addr(address),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Accept issues one accept command and waits for an inbound
// connection. After Close it returns an error matching net.ErrClosed.
func (l *listener) Accept() (net.Conn, error) {
	response, err := l.client.call(l.ctx, ipc.Command{Verb: ipc.VerbAccept, ListenerID: l.id})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
			err = net.ErrClosed
		}
		return nil, &net.OpError{Op: "accept", Net: "pipe", Addr: l.address, Err: err}
	}
	return newConn(l.client, response.ID, string(l.address)), nil
}

// Close closes the host-side listener, which cancels pending accepts.
// Connections already accepted stay open.
func (l *listener) Close() error {
	l.closeOnce.Do(func() {
		l.cancel()
		if _, err := l.client.call(context.Background(), ipc.Command{Verb: ipc.VerbCloseListener, ListenerID: l.id}); err != nil {
			l.closeErr = &net.OpError{Op: "close", Net: "pipe", Addr: l.address, Err: err}
		}
	})
	return l.closeErr
}

func (l *listener) Addr() net.Addr { return l.address }
