// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"log/slog"
	"sync"

	"github.com/eapache/queue"

	"github.com/bureau-foundation/pipebridge/lib/ipc"
)

// Outbox delivers responses to a channel from a single goroutine.
// Post never blocks on the channel, so a goroutine finishing a slow
// read can hand off its response and exit even while the parent is not
// draining the host's output.
type Outbox struct {
	send   func(ipc.Response) error
	logger *slog.Logger

	mu      sync.Mutex
	pending *queue.Queue
	closed  bool
	err     error

	wake chan struct{}
	done chan struct{}
}

// NewOutbox starts a delivery goroutine that passes posted responses to
// send in FIFO order. After send fails, later responses are discarded
// and the error is reported by Err.
func NewOutbox(send func(ipc.Response) error, logger *slog.Logger) *Outbox {
	if logger == nil {
		logger = slog.Default()
	}
	outbox := &Outbox{
		send:    send,
		logger:  logger,
		pending: queue.New(),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go outbox.deliver()
	return outbox
}

// Post queues response for delivery. Responses posted after Close are
// dropped with a warning.
func (o *Outbox) Post(response ipc.Response) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		o.logger.Warn("response posted after outbox closed",
			"seq", response.Sequence,
			"verb", response.Verb,
		)
		return
	}
	o.pending.Add(response)
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Close stops accepting responses and blocks until every queued
// response has been handed to send.
func (o *Outbox) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
	<-o.done
}

// Err returns the first error from send, if any.
func (o *Outbox) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

func (o *Outbox) deliver() {
	defer close(o.done)
	for {
		o.mu.Lock()
		if o.pending.Length() == 0 {
			closed := o.closed
			o.mu.Unlock()
			if closed {
				return
			}
			<-o.wake
			continue
		}
		response := o.pending.Remove().(ipc.Response)
		failed := o.err != nil
		o.mu.Unlock()

		if failed {
			continue
		}
		if err := o.send(response); err != nil {
			o.logger.Error("writing response failed, discarding further responses",
				"seq", response.Sequence,
				"error", err,
			)
			o.mu.Lock()
			o.err = err
			o.mu.Unlock()
		}
	}
}
