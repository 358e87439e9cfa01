// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package transport

import (
	"errors"

	"golang.org/x/sys/unix"
)

func isPlatformCloseError(err error) bool {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return false
	}
	return errno == unix.EPIPE || errno == unix.ECONNRESET
}
