// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/bureau-foundation/pipebridge/lib/endpoint"
	"github.com/bureau-foundation/pipebridge/lib/ipc"
	"github.com/bureau-foundation/pipebridge/lib/testutil"
	"github.com/bureau-foundation/pipebridge/manager"
	"github.com/bureau-foundation/pipebridge/transport"
)

// sessionHarness runs a Session over in-memory pipes and plays the
// client side of the channel.
type sessionHarness struct {
	handshake     ipc.Handshake
	client        *JSONChannel
	commandWriter *io.PipeWriter
	responses     chan ipc.Response
	cancel        context.CancelFunc
	manager       *manager.Manager

	// done is closed when Run returns; runError holds its result.
	done     chan struct{}
	runError error
}

func startSession(t *testing.T, pipeTransport transport.Transport) *sessionHarness {
	t.Helper()

	commandReader, commandWriter := io.Pipe()
	responseReader, responseWriter := io.Pipe()

	connections := manager.New(pipeTransport, manager.Options{})
	session, err := NewSession(SessionConfig{
		Channel:     NewJSONChannel(commandReader, responseWriter, 0),
		Connections: connections,
		Version:     "test",
		Message:     `\\.\pipe\demo`,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	harness := &sessionHarness{
		client:        NewJSONChannel(responseReader, commandWriter, 0),
		commandWriter: commandWriter,
		responses:     make(chan ipc.Response, 64),
		done:          make(chan struct{}),
		cancel:        cancel,
		manager:       connections,
	}
	go func() {
		harness.runError = session.Run(ctx)
		close(harness.done)
		responseWriter.Close()
	}()

	handshake := make(chan error, 1)
	go func() {
		err := harness.client.Receive(&harness.handshake)
		handshake <- err
		if err != nil {
			return
		}
		for {
			var response ipc.Response
			if err := harness.client.Receive(&response); err != nil {
				close(harness.responses)
				return
			}
			harness.responses <- response
		}
	}()
	if err := testutil.RequireReceive(t, handshake, 5*time.Second, "handshake"); err != nil {
		t.Fatalf("reading handshake: %v", err)
	}
	if harness.handshake.Session != session.ID() {
		t.Fatalf("handshake session = %q, want %q", harness.handshake.Session, session.ID())
	}

	t.Cleanup(func() {
		cancel()
		commandWriter.Close()
		select {
		case <-harness.done:
		case <-time.After(5 * time.Second):
			t.Error("session did not stop")
		}
	})
	return harness
}

func (h *sessionHarness) send(t *testing.T, command ipc.Command) {
	t.Helper()
	if err := h.client.Send(command); err != nil {
		t.Fatalf("sending %s: %v", command.Verb, err)
	}
}

func (h *sessionHarness) receive(t *testing.T) ipc.Response {
	t.Helper()
	select {
	case response, ok := <-h.responses:
		if !ok {
			t.Fatal("response stream ended")
		}
		return response
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a response")
	}
	return ipc.Response{}
}

// wait blocks until Run returns and reports its result.
func (h *sessionHarness) wait(t *testing.T) error {
	t.Helper()
	select {
	case <-h.done:
		return h.runError
	case <-time.After(5 * time.Second):
		t.Fatal("session did not exit")
	}
	return nil
}

// expect asserts the (seq, id, error) triple of a response.
func expect(t *testing.T, response ipc.Response, sequence int64, id int32, wantError bool) {
	t.Helper()
	if response.Sequence != sequence || response.ID != id || (response.Error != "") != wantError {
		t.Fatalf("response = (%d, %d, %q), want (%d, %d, error=%v)",
			response.Sequence, response.ID, response.Error, sequence, id, wantError)
	}
}

// gatedTransport connects one Dial to one Accept through net.Pipe, but
// holds the Accept back until release is closed.
type gatedTransport struct {
	client  net.Conn
	server  net.Conn
	release chan struct{}
}

func newGatedTransport() *gatedTransport {
	client, server := net.Pipe()
	return &gatedTransport{client: client, server: server, release: make(chan struct{})}
}

func (g *gatedTransport) Dial(context.Context, endpoint.Endpoint) (net.Conn, error) {
	return g.client, nil
}

func (g *gatedTransport) Accept(ctx context.Context, _ endpoint.Endpoint) (net.Conn, error) {
	select {
	case <-g.release:
		return g.server, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestSessionHandshake(t *testing.T) {
	harness := startSession(t, transport.NewMemory())
	if harness.handshake.Protocol != ipc.ProtocolVersion {
		t.Errorf("Protocol = %d, want %d", harness.handshake.Protocol, ipc.ProtocolVersion)
	}
	if harness.handshake.Version != "test" || harness.handshake.Message != `\\.\pipe\demo` {
		t.Errorf("handshake = %+v", harness.handshake)
	}
}

func TestSessionListenAcceptConnectOutOfOrder(t *testing.T) {
	gate := newGatedTransport()
	harness := startSession(t, gate)

	harness.send(t, ipc.Command{Sequence: 1, Verb: ipc.VerbListen, Endpoint: `\\.\pipe\test`})
	harness.send(t, ipc.Command{Sequence: 2, Verb: ipc.VerbAccept, ListenerID: 0})
	harness.send(t, ipc.Command{Sequence: 3, Verb: ipc.VerbConnect, Endpoint: `\\.\pipe\test`})

	expect(t, harness.receive(t), 1, 0, false)
	expect(t, harness.receive(t), 3, 0, false)
	close(gate.release)
	expect(t, harness.receive(t), 2, 1, false)

	// Bytes written on the dialed connection arrive on the accepted one.
	harness.send(t, ipc.Command{Sequence: 4, Verb: ipc.VerbWrite, ConnectionID: 0, Data: base64.StdEncoding.EncodeToString([]byte("ping"))})
	harness.send(t, ipc.Command{Sequence: 5, Verb: ipc.VerbRead, ConnectionID: 1, Length: 64})
	bySequence := map[int64]ipc.Response{}
	for range 2 {
		response := harness.receive(t)
		bySequence[response.Sequence] = response
	}
	if bySequence[4].Count != 4 || bySequence[4].Error != "" {
		t.Errorf("write response = %+v", bySequence[4])
	}
	if data, _ := base64.StdEncoding.DecodeString(bySequence[5].Data); string(data) != "ping" {
		t.Errorf("read response = %+v", bySequence[5])
	}

	harness.send(t, ipc.Command{Sequence: 6, Verb: ipc.VerbClose, ConnectionID: 0})
	expect(t, harness.receive(t), 6, 0, false)
	harness.send(t, ipc.Command{Sequence: 7, Verb: ipc.VerbClose, ConnectionID: 0})
	notFound := harness.receive(t)
	if notFound.Sequence != 7 || notFound.ErrorKind != ipc.ErrorKindHandleNotFound {
		t.Errorf("second close response = %+v", notFound)
	}

	harness.send(t, ipc.Command{Sequence: 8, Verb: ipc.VerbCloseListener, ListenerID: 0})
	expect(t, harness.receive(t), 8, 0, false)
	harness.send(t, ipc.Command{Sequence: 9, Verb: ipc.VerbCloseListener, ListenerID: 0})
	expect(t, harness.receive(t), 9, 0, false)
}

func TestSessionMalformedEndpoint(t *testing.T) {
	harness := startSession(t, transport.NewMemory())

	harness.send(t, ipc.Command{Sequence: 1, Verb: ipc.VerbConnect, Endpoint: `\\.\pipe`})
	response := harness.receive(t)
	expect(t, response, 1, -1, true)
	if response.ErrorKind != ipc.ErrorKindEndpointFormat {
		t.Errorf("ErrorKind = %q", response.ErrorKind)
	}

	harness.send(t, ipc.Command{Sequence: 2, Verb: ipc.VerbListen, Endpoint: `\\.\pipe\ok`})
	expect(t, harness.receive(t), 2, 0, false)
}

func TestSessionRejectsMalformedMessages(t *testing.T) {
	harness := startSession(t, transport.NewMemory())

	if _, err := io.WriteString(harness.commandWriter, "{\"seq\":\"x\",\"verb\":\"read\"}\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	response := harness.receive(t)
	if response.ErrorKind != ipc.ErrorKindBadCommand {
		t.Errorf("response = %+v, want bad-command", response)
	}

	harness.send(t, ipc.Command{Sequence: 2, Verb: "explode"})
	response = harness.receive(t)
	if response.Sequence != 2 || response.ErrorKind != ipc.ErrorKindBadCommand {
		t.Errorf("response = %+v, want bad-command for seq 2", response)
	}

	// The session keeps serving after rejecting.
	harness.send(t, ipc.Command{Sequence: 3, Verb: ipc.VerbListen, Endpoint: `\\.\pipe\still-alive`})
	expect(t, harness.receive(t), 3, 0, false)
}

func TestSessionEOFDrainsInflightCommands(t *testing.T) {
	memory := transport.NewMemory()
	harness := startSession(t, memory)
	address := testutil.PipeAddress("drain")
	ep, _ := endpoint.Parse(address)

	harness.send(t, ipc.Command{Sequence: 1, Verb: ipc.VerbListen, Endpoint: address})
	expect(t, harness.receive(t), 1, 0, false)
	harness.send(t, ipc.Command{Sequence: 2, Verb: ipc.VerbAccept, ListenerID: 0})
	testutil.Eventually(t, func() bool { return memory.Pending(ep) == 1 }, 5*time.Second, "accept pending")

	harness.commandWriter.Close()

	response := harness.receive(t)
	expect(t, response, 2, -1, true)
	if err := harness.wait(t); err != nil {
		t.Fatalf("Run = %v, want nil on EOF", err)
	}

	if stats := harness.manager.Stats(); stats.Listeners != 0 || stats.Connections != 0 {
		t.Errorf("Stats after session = %+v", stats)
	}
	if memory.Pending(ep) != 0 {
		t.Error("session left a listening instance behind")
	}
}

func TestSessionContextCancellation(t *testing.T) {
	harness := startSession(t, transport.NewMemory())
	harness.cancel()

	if err := harness.wait(t); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
}

func TestSessionManyConcurrentConnects(t *testing.T) {
	memory := transport.NewMemory()
	harness := startSession(t, memory)
	address := testutil.PipeAddress("many")
	ep, _ := endpoint.Parse(address)
	const count = 16

	harness.send(t, ipc.Command{Sequence: 1, Verb: ipc.VerbListen, Endpoint: address})
	expect(t, harness.receive(t), 1, 0, false)
	for index := range count {
		harness.send(t, ipc.Command{Sequence: int64(100 + index), Verb: ipc.VerbAccept, ListenerID: 0})
	}
	testutil.Eventually(t, func() bool { return memory.Pending(ep) == count }, 5*time.Second, "accepts pending")
	for index := range count {
		harness.send(t, ipc.Command{Sequence: int64(200 + index), Verb: ipc.VerbConnect, Endpoint: address})
	}

	seen := map[int32]string{}
	for range 2 * count {
		response := harness.receive(t)
		if response.Error != "" {
			t.Fatalf("response %d failed: %s", response.Sequence, response.Error)
		}
		if previous, duplicate := seen[response.ID]; duplicate {
			t.Fatalf("connection id %d issued twice (%s and seq %d)", response.ID, previous, response.Sequence)
		}
		seen[response.ID] = fmt.Sprintf("seq %d", response.Sequence)
	}
	for id := range int32(2 * count) {
		if _, ok := seen[id]; !ok {
			t.Errorf("connection id %d never issued", id)
		}
	}
}
