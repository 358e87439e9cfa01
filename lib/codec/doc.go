// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the shared CBOR configuration for the bridge
// channel.
//
// The bridge speaks two channel encodings. Newline-delimited JSON is
// the default because the host's stdio is usually wired to a
// text-oriented parent (a browser extension host, a test harness).
// CBOR is the compact alternative when both ends are Go. This package
// keeps the CBOR modes in one place so the host and the shim encode
// identically:
//
//	encoder := codec.NewEncoder(stdout)
//	decoder := codec.NewDecoder(stdin)
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same logical message always produces identical bytes.
//
// # Struct Tags
//
// Wire types in lib/ipc carry only `json` tags. fxamacker/cbor v2 reads
// `json` tags when `cbor` tags are absent, so one tag controls field
// naming and omitempty in both encodings. Never put both tags on one
// field.
package codec
