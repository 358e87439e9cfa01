// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Pipebridge-host performs named-pipe operations on behalf of its parent
// process. The parent writes commands to the host's stdin and reads one
// response per command from its stdout; the first line on stdout is a
// handshake. The host exits when stdin reaches EOF or on SIGINT or
// SIGTERM, closing every pipe it opened.
package main
