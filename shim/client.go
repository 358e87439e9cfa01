// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package shim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/bureau-foundation/pipebridge/bridge"
	"github.com/bureau-foundation/pipebridge/lib/ipc"
)

// ErrClientClosed is returned by requests outstanding when the Client
// is closed or its channel fails.
var ErrClientClosed = errors.New("shim: client closed")

// RemoteError is a failure reported by the host.
type RemoteError struct {
	Verb    ipc.Verb
	Kind    ipc.ErrorKind
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Verb, e.Message)
}

// Is lets a cancelled accept match net.ErrClosed, the error
// net.Listener.Accept conventionally returns after Close.
func (e *RemoteError) Is(target error) bool {
	return target == net.ErrClosed && e.Kind == ipc.ErrorKindListenerClosed
}

// Options configures a Client.
type Options struct {
	// Logger receives structured log output. If nil, slog.Default() is
	// used.
	Logger *slog.Logger

	// MaxWriteChunk bounds the payload of one write command. Larger
	// writes are split. Zero selects DefaultMaxWriteChunk.
	MaxWriteChunk int
}

// DefaultMaxWriteChunk keeps a base64-encoded write command well below
// bridge.DefaultMaxMessageSize.
const DefaultMaxWriteChunk = 1 << 20

// Client issues commands to a bridge host over one channel. All methods
// are safe for concurrent use.
type Client struct {
	channel       bridge.Channel
	logger        *slog.Logger
	handshake     ipc.Handshake
	maxWriteChunk int

	mu       sync.Mutex
	sequence int64
	pending  map[int64]chan ipc.Response
	err      error
	done     chan struct{}
}

// New reads the host's handshake from channel and starts routing
// responses. ctx bounds the wait for the handshake only. If ctx ends
// first, the goroutine reading the handshake stays blocked until the
// channel's reader is closed.
func New(ctx context.Context, channel bridge.Channel, options Options) (*Client, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxWriteChunk := options.MaxWriteChunk
	if maxWriteChunk <= 0 {
		maxWriteChunk = DefaultMaxWriteChunk
	}

	type handshakeResult struct {
		handshake ipc.Handshake
		err       error
	}
	received := make(chan handshakeResult, 1)
	go func() {
		var handshake ipc.Handshake
		err := channel.Receive(&handshake)
		received <- handshakeResult{handshake: handshake, err: err}
	}()

	var handshake ipc.Handshake
	select {
	case result := <-received:
		if result.err != nil {
			return nil, fmt.Errorf("reading handshake: %w", result.err)
		}
		handshake = result.handshake
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for handshake: %w", ctx.Err())
	}
	if handshake.Protocol != ipc.ProtocolVersion {
		return nil, fmt.Errorf("host speaks protocol %d, want %d", handshake.Protocol, ipc.ProtocolVersion)
	}

	client := &Client{
		channel:       channel,
		logger:        logger.With("session", handshake.Session),
		handshake:     handshake,
		maxWriteChunk: maxWriteChunk,
		pending:       make(map[int64]chan ipc.Response),
		done:          make(chan struct{}),
	}
	go client.readLoop()

	client.logger.Debug("connected to bridge host", "version", handshake.Version)
	return client, nil
}

// Handshake returns the handshake the host sent.
func (c *Client) Handshake() ipc.Handshake {
	return c.handshake
}

// Close fails every outstanding request with ErrClientClosed. It does
// not close the channel, which the caller owns.
func (c *Client) Close() error {
	c.fail(ErrClientClosed)
	return nil
}

// Dial connects to the pipe at address through the host.
func (c *Client) Dial(ctx context.Context, address string) (net.Conn, error) {
	response, err := c.call(ctx, ipc.Command{Verb: ipc.VerbConnect, Endpoint: address})
	if err != nil {
		return nil, err
	}
	return newConn(c, response.ID, address), nil
}

// Listen registers address with the host and returns a listener whose
// Accept waits for inbound connections.
func (c *Client) Listen(address string) (net.Listener, error) {
	response, err := c.call(context.Background(), ipc.Command{Verb: ipc.VerbListen, Endpoint: address})
	if err != nil {
		return nil, err
	}
	return newListener(c, response.ID, address), nil
}

// call sends command and waits for its response. A response carrying an
// error is returned as *RemoteError, or io.EOF for the eof kind. If ctx
// ends first and the command created a resource, the resource is
// released when its late response arrives.
func (c *Client) call(ctx context.Context, command ipc.Command) (ipc.Response, error) {
	if err := ctx.Err(); err != nil {
		return ipc.Response{}, err
	}
	reply := make(chan ipc.Response, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return ipc.Response{}, err
	}
	c.sequence++
	command.Sequence = c.sequence
	c.pending[command.Sequence] = reply
	c.mu.Unlock()

	if err := c.channel.Send(command); err != nil {
		c.forget(command.Sequence)
		return ipc.Response{}, fmt.Errorf("sending %s: %w", command.Verb, err)
	}

	select {
	case response := <-reply:
		return response, responseError(response)
	case <-c.done:
		return ipc.Response{}, c.failure()
	case <-ctx.Done():
		go c.releaseAbandoned(command.Verb, reply)
		return ipc.Response{}, ctx.Err()
	}
}

// releaseAbandoned waits for the response to a command whose caller
// gave up, and closes the connection it produced, if any.
func (c *Client) releaseAbandoned(verb ipc.Verb, reply <-chan ipc.Response) {
	if verb != ipc.VerbConnect && verb != ipc.VerbAccept {
		return
	}
	select {
	case response := <-reply:
		if response.Error != "" {
			return
		}
		c.logger.Debug("closing connection from abandoned request", "verb", verb, "connection_id", response.ID)
		if _, err := c.call(context.Background(), ipc.Command{Verb: ipc.VerbClose, ConnectionID: response.ID}); err != nil {
			c.logger.Warn("closing abandoned connection", "connection_id", response.ID, "error", err)
		}
	case <-c.done:
	}
}

func (c *Client) readLoop() {
	for {
		var response ipc.Response
		if err := c.channel.Receive(&response); err != nil {
			var messageError *bridge.MessageError
			if errors.As(err, &messageError) {
				c.logger.Warn("discarding malformed response", "error", err)
				continue
			}
			if errors.Is(err, io.EOF) {
				c.logger.Debug("bridge host closed the channel")
			} else {
				c.logger.Error("reading from bridge host", "error", err)
			}
			c.fail(ErrClientClosed)
			return
		}

		c.mu.Lock()
		reply, ok := c.pending[response.Sequence]
		delete(c.pending, response.Sequence)
		c.mu.Unlock()

		if !ok {
			c.logger.Warn("response for unknown request", "seq", response.Sequence, "verb", response.Verb)
			continue
		}
		reply <- response
	}
}

// fail records err as the terminal state and wakes every waiter. Only
// the first call has an effect.
func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	c.err = err
	c.pending = make(map[int64]chan ipc.Response)
	close(c.done)
}

func (c *Client) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) forget(sequence int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, sequence)
}

func responseError(response ipc.Response) error {
	if response.Error == "" {
		return nil
	}
	if response.ErrorKind == ipc.ErrorKindEOF {
		return io.EOF
	}
	return &RemoteError{Verb: response.Verb, Kind: response.ErrorKind, Message: response.Error}
}
