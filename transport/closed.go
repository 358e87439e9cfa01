// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"io"
	"net"
)

// IsExpectedCloseError reports whether err is a normal end of a pipe
// session: EOF, a closed connection, or one of the platform's broken-pipe
// and reset errors. Callers log these at debug level rather than as
// failures.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	return isPlatformCloseError(err)
}
