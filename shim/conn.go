// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package shim

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/pipebridge/lib/ipc"
)

// ErrDeadlineUnsupported is returned by the deadline methods of
// connections made through a Client.
var ErrDeadlineUnsupported = errors.New("shim: deadlines are not supported over a bridge")

// Addr is the address of a pipe reached through a bridge host.
type Addr string

func (a Addr) Network() string { return "pipe" }
func (a Addr) String() string  { return string(a) }

// conn is a host-side connection identifier presented as a net.Conn.
type conn struct {
	client  *Client
	id      int32
	address Addr

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ net.Conn = (*conn)(nil)

func newConn(client *Client, id int32, address string) *conn {
	return &conn{client: client, id: id, address: Addr(address)}
}

// Read issues one read command for up to len(buffer) bytes.
func (c *conn) Read(buffer []byte) (int, error) {
	if c.closed.Load() {
		return 0, c.opError("read", net.ErrClosed)
	}
	if len(buffer) == 0 {
		return 0, nil
	}

	response, callErr := c.client.call(context.Background(), ipc.Command{
		Verb:         ipc.VerbRead,
		ConnectionID: c.id,
		Length:       len(buffer),
	})

	// A failed read may still carry the bytes obtained before the error.
	data, err := base64.StdEncoding.DecodeString(response.Data)
	if err != nil {
		return 0, c.opError("read", fmt.Errorf("decoding read payload: %w", err))
	}
	if len(data) > len(buffer) {
		return 0, c.opError("read", fmt.Errorf("host returned %d bytes for a %d byte read", len(data), len(buffer)))
	}
	count := copy(buffer, data)
	if callErr != nil {
		return count, c.translate("read", callErr)
	}
	return count, nil
}

// Write sends data in chunks of at most the client's MaxWriteChunk.
func (c *conn) Write(data []byte) (int, error) {
	written := 0
	for written < len(data) {
		if c.closed.Load() {
			return written, c.opError("write", net.ErrClosed)
		}
		chunk := data[written:min(len(data), written+c.client.maxWriteChunk)]
		response, err := c.client.call(context.Background(), ipc.Command{
			Verb:         ipc.VerbWrite,
			ConnectionID: c.id,
			Data:         base64.StdEncoding.EncodeToString(chunk),
		})
		if err != nil {
			return written, c.translate("write", err)
		}
		written += response.Count
	}
	return written, nil
}

// Close closes the host-side connection. Reads and writes blocked on it
// fail. Later calls return the first call's result.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if _, err := c.client.call(context.Background(), ipc.Command{Verb: ipc.VerbClose, ConnectionID: c.id}); err != nil {
			c.closeErr = c.opError("close", err)
		}
	})
	return c.closeErr
}

func (c *conn) LocalAddr() net.Addr  { return c.address }
func (c *conn) RemoteAddr() net.Addr { return c.address }

func (c *conn) SetDeadline(time.Time) error      { return ErrDeadlineUnsupported }
func (c *conn) SetReadDeadline(time.Time) error  { return ErrDeadlineUnsupported }
func (c *conn) SetWriteDeadline(time.Time) error { return ErrDeadlineUnsupported }

// translate keeps io.EOF bare, as io.Reader callers compare it
// directly, and reports failures after Close as net.ErrClosed.
func (c *conn) translate(op string, err error) error {
	if err == io.EOF {
		return err
	}
	if c.closed.Load() {
		return c.opError(op, net.ErrClosed)
	}
	return c.opError(op, err)
}

func (c *conn) opError(op string, err error) error {
	return &net.OpError{Op: op, Net: "pipe", Addr: c.address, Err: err}
}
