// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

// ProtocolVersion is the channel protocol revision written in the
// Handshake. Incremented on incompatible changes to Command or Response.
const ProtocolVersion = 1

// Verb names the operation a Command requests.
type Verb string

const (
	VerbConnect       Verb = "connect"
	VerbRead          Verb = "read"
	VerbWrite         Verb = "write"
	VerbClose         Verb = "close"
	VerbListen        Verb = "listen"
	VerbAccept        Verb = "accept"
	VerbCloseListener Verb = "close-listener"
)

// Valid reports whether v is one of the known verbs.
func (v Verb) Valid() bool {
	switch v {
	case VerbConnect, VerbRead, VerbWrite, VerbClose, VerbListen, VerbAccept, VerbCloseListener:
		return true
	}
	return false
}

// ErrorKind classifies a failed Response so clients can react without
// parsing the message text.
type ErrorKind string

const (
	// ErrorKindEndpointFormat: the address did not have five
	// backslash-separated components.
	ErrorKindEndpointFormat ErrorKind = "endpoint-format"

	// ErrorKindTransportConnect: the pipe could not be opened.
	ErrorKindTransportConnect ErrorKind = "transport-connect"

	// ErrorKindTransportAccept: waiting for an inbound connection failed.
	ErrorKindTransportAccept ErrorKind = "transport-accept"

	// ErrorKindHandleNotFound: the connection or listener identifier is
	// not live.
	ErrorKindHandleNotFound ErrorKind = "handle-not-found"

	// ErrorKindHandleExhausted: no identifiers remain.
	ErrorKindHandleExhausted ErrorKind = "handle-exhausted"

	// ErrorKindIO: a read, write, or close on a live connection failed.
	ErrorKindIO ErrorKind = "io"

	// ErrorKindEOF: the peer closed its end. Clients surface this as
	// io.EOF.
	ErrorKindEOF ErrorKind = "eof"

	// ErrorKindListenerClosed: the accept was cancelled because its
	// listener was closed.
	ErrorKindListenerClosed ErrorKind = "listener-closed"

	// ErrorKindBadCommand: the command had an unknown verb or an
	// undecodable payload.
	ErrorKindBadCommand ErrorKind = "bad-command"
)

// Command is one request from the client.
type Command struct {
	// Sequence is chosen by the client and echoed in the Response.
	// The host does not interpret it.
	Sequence int64 `json:"seq"`

	Verb Verb `json:"verb"`

	// Endpoint is the pipe address for connect and listen, in the form
	// \\host\pipe\name.
	Endpoint string `json:"endpoint,omitempty"`

	// ConnectionID selects the connection for read, write, and close.
	ConnectionID int32 `json:"connection_id,omitempty"`

	// ListenerID selects the listener for accept and close-listener.
	ListenerID int32 `json:"listener_id,omitempty"`

	// Length is the maximum number of bytes a read may return.
	Length int `json:"length,omitempty"`

	// Data is the base64-encoded (standard alphabet, padded) payload of
	// a write.
	Data string `json:"data,omitempty"`
}

// Response answers exactly one Command.
//
// On failure Error is non-empty and the result fields hold their
// failure sentinels: ID is -1 for connect, listen, and accept; Data is
// empty for read; Count is 0 for write.
type Response struct {
	Sequence int64 `json:"seq"`
	Verb     Verb  `json:"verb"`

	// ID is the new connection identifier (connect, accept) or listener
	// identifier (listen).
	ID int32 `json:"id"`

	// Count is the number of bytes written.
	Count int `json:"count"`

	// Data is the base64-encoded bytes returned by a read.
	Data string `json:"data,omitempty"`

	// Error is empty on success.
	Error string `json:"error,omitempty"`

	ErrorKind ErrorKind `json:"error_kind,omitempty"`
}

// Handshake is the first message the host writes on a channel.
type Handshake struct {
	Protocol int `json:"protocol"`

	// Session identifies this host run in logs on both ends.
	Session string `json:"session"`

	// Version is the host binary's version string.
	Version string `json:"version"`

	// Message is an opaque string from the host's configuration, for
	// example the pipe address a client should use.
	Message string `json:"message,omitempty"`
}
