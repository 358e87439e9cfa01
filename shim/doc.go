// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package shim is the client side of a pipe bridge. It turns the
// command protocol spoken by a bridge host into ordinary net.Conn and
// net.Listener values, so Go code can use named pipes through a host
// process it cannot open pipes in directly (a sandboxed child, a
// process on the other side of a stdio boundary).
//
// A [Client] owns one channel to a host. Requests are tagged with
// increasing sequence numbers and answered out of order; a single
// reader goroutine routes each response to the waiting caller.
//
//	client, err := shim.New(ctx, bridge.NewJSONChannel(hostStdout, hostStdin, 0), shim.Options{})
//	conn, err := client.Dial(ctx, `\\.\pipe\service`)
//
// The connections do not support deadlines: the host has no way to
// interrupt a pipe read on a timer, so SetDeadline and friends return
// ErrDeadlineUnsupported. Close the connection to abandon a blocked
// Read.
package shim
