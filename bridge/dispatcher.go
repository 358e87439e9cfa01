// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/pipebridge/lib/endpoint"
	"github.com/bureau-foundation/pipebridge/lib/handle"
	"github.com/bureau-foundation/pipebridge/lib/ipc"
	"github.com/bureau-foundation/pipebridge/manager"
)

// Connections is the set of pipe operations the dispatcher drives.
// *manager.Manager implements it.
type Connections interface {
	Connect(ctx context.Context, address string) (handle.ID, error)
	Read(id handle.ID, maxLength int) ([]byte, error)
	Write(id handle.ID, data []byte) (int, error)
	Close(id handle.ID) error
	Listen(address string) (handle.ID, error)
	Accept(ctx context.Context, listenerID handle.ID) (handle.ID, error)
	CloseListener(listenerID handle.ID) error
	Shutdown()
}

var _ Connections = (*manager.Manager)(nil)

// CommandError reports a command the dispatcher could not interpret.
type CommandError struct {
	Verb   ipc.Verb
	Reason string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("bad %q command: %s", e.Verb, e.Reason)
}

// Dispatcher performs commands and posts their responses.
type Dispatcher struct {
	connections Connections
	outbox      *Outbox
	logger      *slog.Logger

	inflight sync.WaitGroup
}

// NewDispatcher creates a Dispatcher that runs commands against
// connections and posts responses to outbox.
func NewDispatcher(connections Connections, outbox *Outbox, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		connections: connections,
		outbox:      outbox,
		logger:      logger,
	}
}

// Dispatch performs command and posts exactly one response for it.
// Connect, read, write, and accept run on their own goroutine and
// Dispatch returns before they complete; the remaining verbs are
// answered before Dispatch returns. ctx bounds connect and accept.
func (d *Dispatcher) Dispatch(ctx context.Context, command ipc.Command) {
	d.logger.Debug("command received",
		"seq", command.Sequence,
		"verb", command.Verb,
	)

	switch command.Verb {
	case ipc.VerbConnect:
		d.async(func() {
			id, err := d.connections.Connect(ctx, command.Endpoint)
			d.reply(command, ipc.Response{ID: id}, err)
		})

	case ipc.VerbRead:
		d.async(func() {
			data, err := d.connections.Read(command.ConnectionID, command.Length)
			d.reply(command, ipc.Response{Data: base64.StdEncoding.EncodeToString(data)}, err)
		})

	case ipc.VerbWrite:
		data, err := base64.StdEncoding.DecodeString(command.Data)
		if err != nil {
			d.reply(command, ipc.Response{}, &CommandError{Verb: command.Verb, Reason: "payload is not valid base64"})
			return
		}
		d.async(func() {
			count, err := d.connections.Write(command.ConnectionID, data)
			d.reply(command, ipc.Response{Count: count}, err)
		})

	case ipc.VerbClose:
		d.reply(command, ipc.Response{}, d.connections.Close(command.ConnectionID))

	case ipc.VerbListen:
		id, err := d.connections.Listen(command.Endpoint)
		d.reply(command, ipc.Response{ID: id}, err)

	case ipc.VerbAccept:
		d.async(func() {
			id, err := d.connections.Accept(ctx, command.ListenerID)
			d.reply(command, ipc.Response{ID: id}, err)
		})

	case ipc.VerbCloseListener:
		d.reply(command, ipc.Response{}, d.connections.CloseListener(command.ListenerID))

	default:
		d.Reject(command, &CommandError{Verb: command.Verb, Reason: "unknown verb"})
	}
}

// Reject posts a failure response for command without performing it.
func (d *Dispatcher) Reject(command ipc.Command, err error) {
	d.reply(command, ipc.Response{}, err)
}

// Wait blocks until every command started by Dispatch has posted its
// response.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

func (d *Dispatcher) async(operation func()) {
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		operation()
	}()
}

// reply fills in the correlation fields and, on failure, the error and
// the verb's failure sentinel, then posts the response.
func (d *Dispatcher) reply(command ipc.Command, response ipc.Response, err error) {
	response.Sequence = command.Sequence
	response.Verb = command.Verb

	if err != nil {
		response.Count = 0
		if command.Verb != ipc.VerbRead {
			// A failed read still carries the bytes obtained before the
			// error.
			response.Data = ""
		}
		response.Error = err.Error()
		response.ErrorKind = Classify(err)
		switch command.Verb {
		case ipc.VerbConnect, ipc.VerbListen, ipc.VerbAccept:
			response.ID = handle.Invalid
		}
		d.logger.Debug("command failed",
			"seq", command.Sequence,
			"verb", command.Verb,
			"error_kind", response.ErrorKind,
			"error", err,
		)
	}

	d.outbox.Post(response)
}

// Classify maps an operation error to the ErrorKind reported on the
// wire.
func Classify(err error) ipc.ErrorKind {
	var (
		commandError   *CommandError
		formatError    *endpoint.FormatError
		notFound       *handle.NotFoundError
		exhausted      *handle.ExhaustedError
		transportError *manager.TransportError
	)
	switch {
	case errors.As(err, &commandError):
		return ipc.ErrorKindBadCommand
	case errors.As(err, &formatError):
		return ipc.ErrorKindEndpointFormat
	case errors.As(err, &notFound):
		return ipc.ErrorKindHandleNotFound
	case errors.As(err, &exhausted):
		return ipc.ErrorKindHandleExhausted
	case errors.Is(err, manager.ErrListenerClosed):
		return ipc.ErrorKindListenerClosed
	case errors.As(err, &transportError):
		if transportError.Op == "accept" {
			return ipc.ErrorKindTransportAccept
		}
		return ipc.ErrorKindTransportConnect
	case errors.Is(err, io.EOF):
		return ipc.ErrorKindEOF
	default:
		return ipc.ErrorKindIO
	}
}
