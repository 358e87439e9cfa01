// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package manager owns the live pipe connections and listeners of one
// bridge session.
//
// The scripting side never sees a transport handle. It holds integer
// identifiers, allocated from two [handle.Table] instances, and every
// operation names the resource it acts on by identifier. An identifier
// is allocated only after the connect or accept that created the
// resource succeeded, so failed operations consume nothing.
//
// Operations that wait on the transport (Connect, Read, Write, Accept)
// look up their resource under the table lock and then perform I/O
// without it. A stalled pipe never blocks table operations for other
// connections. Close, Listen, and CloseListener are table mutations plus
// a local close and do not wait.
//
// Listeners hold only an address. Each Accept creates a listening
// instance for that call; see package transport. CloseListener cancels
// every Accept still pending on the listener. Close on a connection with
// a Read or Write in flight closes the transport handle, which makes the
// in-flight operation fail with an [IOError] rather than hang.
//
// A Manager has an explicit lifetime: construct one per session with
// [New] and call [Manager.Shutdown] when the session ends.
package manager
