// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Pipebridge-echo is a manual test peer for pipebridge-host. "serve"
// accepts connections on a pipe address and echoes every byte back;
// "ping" connects, writes a message, and prints the echo. With --host,
// ping starts a pipebridge-host child and connects through it, which
// exercises the full command protocol end to end.
package main
