// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport opens named-pipe connections for the connection
// manager.
//
// A [Transport] has two operations. Dial connects to an existing pipe.
// Accept creates a listening instance for an address, waits for one peer,
// and returns the connected end. Nothing listens between Accept calls, so
// a peer can only connect while at least one Accept is pending. This
// matches Windows named-pipe server instances, which exist only until a
// client takes them.
//
// Concurrent Accept calls on the same address share one OS listener
// through a reference-counted registry. The listener is created by the
// first pending Accept and closed when the last one returns. A connection
// that arrives after every waiter has given up is closed rather than
// leaked.
//
// Three implementations exist:
//
//   - [NamedPipe] uses github.com/Microsoft/go-winio on Windows.
//   - [UnixSocket] maps pipe names to socket files in a directory on
//     every other platform. Only local hosts ("." and "localhost") are
//     reachable.
//   - [Memory] connects in-process peers over net.Pipe, for tests.
//
// [New] selects one by kind name for configuration-driven callers.
package transport
