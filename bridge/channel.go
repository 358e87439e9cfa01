// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/bureau-foundation/pipebridge/lib/codec"
)

// DefaultMaxMessageSize bounds one encoded channel message. A read of
// manager.DefaultMaxReadLength bytes grows by a third under base64, so
// this leaves room for the largest response.
const DefaultMaxMessageSize = 4 << 20

// Channel carries messages between a bridge host and its client. Send
// is safe for concurrent use; Receive must be called from a single
// goroutine. Receive returns io.EOF when the peer closes the channel
// cleanly.
type Channel interface {
	Send(message any) error
	Receive(message any) error
}

// MessageError reports a message that was read in full but could not
// be decoded. The channel remains usable.
type MessageError struct {
	Err error
}

func (e *MessageError) Error() string {
	return fmt.Sprintf("malformed message: %v", e.Err)
}

func (e *MessageError) Unwrap() error {
	return e.Err
}

// MessageTooLargeError reports a message exceeding the channel's size
// limit. The channel is unusable afterwards.
type MessageTooLargeError struct {
	Limit int
}

func (e *MessageTooLargeError) Error() string {
	return fmt.Sprintf("message exceeds %d bytes", e.Limit)
}

// JSONChannel encodes one JSON object per line.
type JSONChannel struct {
	scanner        *bufio.Scanner
	maxMessageSize int

	writeMu sync.Mutex
	encoder *json.Encoder
}

var _ Channel = (*JSONChannel)(nil)

// NewJSONChannel reads newline-delimited JSON from r and writes it to
// w. A maxMessageSize of zero selects DefaultMaxMessageSize.
func NewJSONChannel(r io.Reader, w io.Writer, maxMessageSize int) *JSONChannel {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)

	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)

	return &JSONChannel{
		scanner:        scanner,
		maxMessageSize: maxMessageSize,
		encoder:        encoder,
	}
}

// Send writes message followed by a newline in a single write.
func (c *JSONChannel) Send(message any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.encoder.Encode(message)
}

// Receive decodes the next non-blank line into message.
func (c *JSONChannel) Receive(message any) error {
	for c.scanner.Scan() {
		line := bytes.TrimSpace(c.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := json.Unmarshal(line, message); err != nil {
			return &MessageError{Err: err}
		}
		return nil
	}
	if err := c.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return &MessageTooLargeError{Limit: c.maxMessageSize}
		}
		return err
	}
	return io.EOF
}

// CBORChannel encodes a stream of CBOR data items with no framing
// between them.
type CBORChannel struct {
	decoder        *codec.Decoder
	maxMessageSize int

	writeMu sync.Mutex
	encoder *codec.Encoder
}

var _ Channel = (*CBORChannel)(nil)

// NewCBORChannel reads CBOR items from r and writes them to w. A
// maxMessageSize of zero selects DefaultMaxMessageSize.
func NewCBORChannel(r io.Reader, w io.Writer, maxMessageSize int) *CBORChannel {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	return &CBORChannel{
		decoder:        codec.NewDecoder(r),
		maxMessageSize: maxMessageSize,
		encoder:        codec.NewEncoder(w),
	}
}

// Send encodes message as one CBOR item.
func (c *CBORChannel) Send(message any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.encoder.Encode(message)
}

// Receive decodes the next CBOR item into message. CBOR decode errors
// leave the stream position undefined, so they are returned as-is and
// end the channel.
func (c *CBORChannel) Receive(message any) error {
	before := c.decoder.NumBytesRead()
	if err := c.decoder.Decode(message); err != nil {
		return err
	}
	if size := c.decoder.NumBytesRead() - before; size > c.maxMessageSize {
		return &MessageTooLargeError{Limit: c.maxMessageSize}
	}
	return nil
}
