// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc defines the messages exchanged over a bridge channel.
// The host (bridge.Session) and the client (shim.Client) both import
// this package so the wire types are defined once rather than mirrored.
//
// A session starts with one Handshake from the host. After that the
// client sends Commands and the host answers each with exactly one
// Response carrying the command's sequence number. Responses may
// arrive in any order.
package ipc
