// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for pipebridge packages.
//
// [SocketDir] creates a short temporary directory for Unix domain
// sockets, whose paths are limited to 108 bytes. [PipeAddress] returns a
// pipe address that no other test in the process uses.
//
// [RequireReceive] and [Eventually] are the only places tests wait on
// the wall clock. Both fail the test instead of hanging when the
// condition never arrives.
//
// All helpers call t.Fatalf on failure rather than returning errors.
package testutil
