// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/pipebridge/lib/handle"
)

// ErrListenerClosed is the cause reported by an Accept that was
// cancelled because its listener was closed.
var ErrListenerClosed = errors.New("listener closed")

// TransportError reports a failed connect or accept. Err is the
// transport's error.
type TransportError struct {
	// Op is "connect" or "accept".
	Op       string
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IOError reports a failed read, write, or close on a connection. A
// failed read may still have returned bytes alongside the error.
type IOError struct {
	// Op is "read", "write", or "close".
	Op           string
	ConnectionID handle.ID
	Err          error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s connection %d: %v", e.Op, e.ConnectionID, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
