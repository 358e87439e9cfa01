// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge runs the host side of a pipe bridge: it reads commands
// from a message channel, performs them against a connection manager,
// and writes one response per command.
//
// The host's parent process (a browser extension, a language runtime
// without native pipe access, a test harness) talks to the host over a
// [Channel], usually the host's stdin and stdout. The channel carries
// [ipc.Command] messages in and [ipc.Response] messages out. Commands
// that block on the pipe (connect, read, write, accept) run on their
// own goroutines, so a pending accept never stalls a read on another
// connection. Their responses are therefore written in completion
// order, not submission order; the client correlates by sequence
// number.
//
// [Dispatcher] maps each command to a manager operation and builds the
// response. [Outbox] serializes responses onto the channel from a
// single goroutine. [Session] ties the two to a channel for the
// lifetime of one parent connection: it writes the [ipc.Handshake],
// loops over incoming commands, and on exit shuts the manager down and
// drains every in-flight response.
package bridge
