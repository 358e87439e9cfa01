// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/pipebridge/lib/testutil"
)

// fakeListener is a net.Listener whose connections are injected by the
// test through deliver.
type fakeListener struct {
	incoming  chan net.Conn
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeListener() *fakeListener {
	return &fakeListener{
		incoming: make(chan net.Conn),
		closed:   make(chan struct{}),
	}
}

func (l *fakeListener) Accept() (net.Conn, error) {
	select {
	case connection := <-l.incoming:
		return connection, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *fakeListener) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

func (l *fakeListener) Addr() net.Addr { return &net.UnixAddr{Name: "fake", Net: "unix"} }

func (l *fakeListener) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

// trackedConn records whether Close was called.
type trackedConn struct {
	net.Conn
	closed atomic.Bool
}

func (c *trackedConn) Close() error {
	c.closed.Store(true)
	return c.Conn.Close()
}

func newTrackedConn() *trackedConn {
	local, remote := net.Pipe()
	remote.Close()
	return &trackedConn{Conn: local}
}

// countingListen returns a listenFunc that creates fake listeners and
// records each one.
func countingListen() (listenFunc, func() []*fakeListener) {
	var mu sync.Mutex
	var created []*fakeListener
	listen := func(string) (net.Listener, error) {
		mu.Lock()
		defer mu.Unlock()
		listener := newFakeListener()
		created = append(created, listener)
		return listener, nil
	}
	snapshot := func() []*fakeListener {
		mu.Lock()
		defer mu.Unlock()
		return append([]*fakeListener(nil), created...)
	}
	return listen, snapshot
}

func TestSharedListeners_ConcurrentAcceptsShareOneListener(t *testing.T) {
	listen, created := countingListen()
	registry := newSharedListeners(listen)

	results := make(chan net.Conn, 2)
	for range 2 {
		go func() {
			connection, err := registry.accept(context.Background(), "pipe")
			if err != nil {
				t.Errorf("accept: %v", err)
			}
			results <- connection
		}()
	}
	testutil.Eventually(t, func() bool { return registry.count("pipe") == 2 }, 5*time.Second, "two pending accepts")

	listeners := created()
	if len(listeners) != 1 {
		t.Fatalf("created %d listeners, want 1", len(listeners))
	}

	first, second := newTrackedConn(), newTrackedConn()
	listeners[0].incoming <- first
	listeners[0].incoming <- second

	got := map[net.Conn]bool{
		testutil.RequireReceive(t, results, 5*time.Second, "first accept"):  true,
		testutil.RequireReceive(t, results, 5*time.Second, "second accept"): true,
	}
	if !got[first] || !got[second] {
		t.Fatal("accepts did not receive the two delivered connections")
	}

	testutil.Eventually(t, listeners[0].isClosed, 5*time.Second, "listener closed after last accept")
	if registry.count("pipe") != 0 {
		t.Errorf("pending count = %d after both accepts returned", registry.count("pipe"))
	}
}

func TestSharedListeners_FreshListenerPerIdlePeriod(t *testing.T) {
	listen, created := countingListen()
	registry := newSharedListeners(listen)

	for round := range 2 {
		done := make(chan net.Conn, 1)
		go func() {
			connection, _ := registry.accept(context.Background(), "pipe")
			done <- connection
		}()
		testutil.Eventually(t, func() bool { return len(created()) == round+1 }, 5*time.Second, "listener for round %d", round)
		created()[round].incoming <- newTrackedConn()
		testutil.RequireReceive(t, done, 5*time.Second, "accept round %d", round)
	}

	for index, listener := range created() {
		testutil.Eventually(t, listener.isClosed, 5*time.Second, "listener %d closed", index)
	}
}

func TestSharedListeners_CancelledAcceptReleasesListener(t *testing.T) {
	listen, created := countingListen()
	registry := newSharedListeners(listen)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := registry.accept(ctx, "pipe")
		errs <- err
	}()
	testutil.Eventually(t, func() bool { return registry.count("pipe") == 1 }, 5*time.Second, "accept pending")

	cancel()
	err := testutil.RequireReceive(t, errs, 5*time.Second, "cancelled accept")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("accept error = %v, want context.Canceled", err)
	}
	testutil.Eventually(t, created()[0].isClosed, 5*time.Second, "listener closed after cancellation")
}

func TestSharedListeners_LateConnectionIsClosed(t *testing.T) {
	listener := newFakeListener()
	registry := newSharedListeners(func(string) (net.Listener, error) { return listener, nil })

	entry, err := registry.acquire("pipe")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// Hold the accept loop mid-delivery: it has a connection but no
	// waiter receives it. Releasing the last waiter must close it.
	late := newTrackedConn()
	listener.incoming <- late
	registry.release("pipe", entry)

	testutil.Eventually(t, late.closed.Load, 5*time.Second, "undelivered connection closed")
}

func TestSharedListeners_ListenError(t *testing.T) {
	listenError := errors.New("access denied")
	registry := newSharedListeners(func(string) (net.Listener, error) { return nil, listenError })

	_, err := registry.accept(context.Background(), "pipe")
	if !errors.Is(err, listenError) {
		t.Fatalf("accept error = %v, want %v", err, listenError)
	}
	if registry.count("pipe") != 0 {
		t.Error("failed listen left a registry entry")
	}
}

func TestSharedListeners_AcceptFailureReachesWaiters(t *testing.T) {
	listener := &failingListener{err: errors.New("pipe instance broken")}
	registry := newSharedListeners(func(string) (net.Listener, error) { return listener, nil })

	_, err := registry.accept(context.Background(), "pipe")
	if !errors.Is(err, listener.err) {
		t.Fatalf("accept error = %v, want %v", err, listener.err)
	}
}

type failingListener struct{ err error }

func (l *failingListener) Accept() (net.Conn, error) { return nil, l.err }
func (l *failingListener) Close() error              { return nil }
func (l *failingListener) Addr() net.Addr            { return &net.UnixAddr{Name: "failing", Net: "unix"} }

func TestNew(t *testing.T) {
	memory, err := New(KindMemory, Options{})
	if err != nil {
		t.Fatalf("New(memory): %v", err)
	}
	if _, ok := memory.(*Memory); !ok {
		t.Errorf("New(memory) = %T", memory)
	}

	if _, err := New("carrier-pigeon", Options{}); err == nil {
		t.Error("New with unknown kind succeeded")
	}
}
