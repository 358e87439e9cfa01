// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/pipebridge/lib/endpoint"
)

var _ Transport = (*UnixSocket)(nil)

// ErrPipeBusy is returned by UnixSocket.Accept when another transport,
// usually in another process, is already listening on the pipe.
var ErrPipeBusy = errors.New("pipe is already being served by another listener")

const lockSuffix = ".lock"

// UnixSocket carries pipe sessions over Unix domain sockets. The pipe
// \\.\pipe\NAME lives at <directory>/NAME, guarded by the lock file
// <directory>/NAME.lock while a listener is open. Names ending in .lock
// are therefore not valid pipe names.
type UnixSocket struct {
	directory string
	listeners *sharedListeners
}

// NewUnixSocket creates a transport rooted at directory. The directory is
// created with mode 0700 on first listen if it does not exist.
func NewUnixSocket(directory string) (*UnixSocket, error) {
	if directory == "" {
		return nil, errors.New("unix socket transport: socket directory is required")
	}
	transport := &UnixSocket{directory: directory}
	transport.listeners = newSharedListeners(transport.listen)
	return transport, nil
}

// Dial connects to the socket for ep.
func (u *UnixSocket) Dial(ctx context.Context, ep endpoint.Endpoint) (net.Conn, error) {
	path, err := u.socketPath(ep)
	if err != nil {
		return nil, err
	}
	var dialer net.Dialer
	return dialer.DialContext(ctx, "unix", path)
}

// Accept binds the socket for ep, if no other accept has, and waits for
// one peer.
func (u *UnixSocket) Accept(ctx context.Context, ep endpoint.Endpoint) (net.Conn, error) {
	path, err := u.socketPath(ep)
	if err != nil {
		return nil, err
	}
	return u.listeners.accept(ctx, path)
}

// Pending returns the number of accepts waiting on ep.
func (u *UnixSocket) Pending(ep endpoint.Endpoint) int {
	path, err := u.socketPath(ep)
	if err != nil {
		return 0
	}
	return u.listeners.count(path)
}

func (u *UnixSocket) socketPath(ep endpoint.Endpoint) (string, error) {
	if !ep.IsLocal() {
		return "", fmt.Errorf("%s: %w", ep, ErrRemoteHost)
	}
	if ep.Name == "" || ep.Name == "." || ep.Name == ".." || strings.ContainsRune(ep.Name, '/') || strings.HasSuffix(ep.Name, lockSuffix) {
		return "", fmt.Errorf("%s: pipe name %q is not a valid socket file name", ep, ep.Name)
	}
	return filepath.Join(u.directory, ep.Name), nil
}

func (u *UnixSocket) listen(path string) (net.Listener, error) {
	if err := os.MkdirAll(u.directory, 0o700); err != nil {
		return nil, fmt.Errorf("creating socket directory %s: %w", u.directory, err)
	}
	lock, err := lockSocket(path)
	if err != nil {
		return nil, err
	}
	if err := removeStaleSocket(path); err != nil {
		lock.Close()
		return nil, err
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		lock.Close()
		return nil, err
	}
	return &lockedListener{Listener: listener, lock: lock}, nil
}

// lockedListener holds the socket's lock file for as long as the
// listener is open. Closing the listener unlinks the socket before the
// lock is released.
type lockedListener struct {
	net.Listener
	lock *os.File
}

func (l *lockedListener) Close() error {
	err := l.Listener.Close()
	l.lock.Close()
	return err
}

// lockSocket takes an exclusive lock on <path>.lock. Holding it means
// no other transport is serving path, so any socket file found there is
// stale. The lock file itself is left in place.
func lockSocket(path string) (*os.File, error) {
	lock, err := os.OpenFile(path+lockSuffix, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening lock for %s: %w", path, err)
	}
	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lock.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%s: %w", path, ErrPipeBusy)
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	return lock, nil
}

// removeStaleSocket unlinks a socket file left behind by a process that
// exited without closing its listener. The caller holds the socket's
// lock, so nothing is listening there. Anything other than a socket is
// refused.
func removeStaleSocket(path string) error {
	var stat unix.Stat_t
	if err := unix.Lstat(path, &stat); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil
		}
		return fmt.Errorf("inspecting %s: %w", path, err)
	}
	if stat.Mode&unix.S_IFMT != unix.S_IFSOCK {
		return fmt.Errorf("%s exists and is not a socket", path)
	}
	if err := unix.Unlink(path); err != nil && !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("removing stale socket %s: %w", path, err)
	}
	return nil
}
