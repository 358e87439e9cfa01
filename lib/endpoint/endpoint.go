// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package endpoint parses named-pipe addresses of the form
// \\<host>\pipe\<name>.
//
// Parsing is purely structural: the address must split on backslash into
// exactly five components (two empty leading components, the host, the
// literal "pipe", and the name). Host and name contents are not inspected
// or canonicalized; transports decide what they can reach.
package endpoint

import (
	"fmt"
	"strings"
)

// separator delimits the components of a named-pipe address.
const separator = `\`

// componentCount is the number of separator-delimited components in a
// well-formed address: "", "", host, "pipe", name.
const componentCount = 5

// Endpoint is a parsed named-pipe address. The zero value is not a valid
// endpoint; obtain one from Parse.
type Endpoint struct {
	// Host is the machine component ("." for the local machine).
	Host string

	// Name is the pipe name, the last component of the address.
	Name string

	address string
}

// FormatError reports an address that does not have the named-pipe
// shape.
type FormatError struct {
	Address    string
	Components int
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid endpoint format: %q has %d components, want %d", e.Address, e.Components, componentCount)
}

// Parse splits address into its named-pipe components. It fails with a
// *FormatError unless the address has exactly five components.
func Parse(address string) (Endpoint, error) {
	components := strings.Split(address, separator)
	if len(components) != componentCount {
		return Endpoint{}, &FormatError{Address: address, Components: len(components)}
	}
	return Endpoint{
		Host:    components[2],
		Name:    components[4],
		address: address,
	}, nil
}

// String returns the address the endpoint was parsed from.
func (e Endpoint) String() string {
	return e.address
}

// PipePath returns the address rebuilt from its components, suitable for
// the Windows pipe APIs.
func (e Endpoint) PipePath() string {
	return separator + separator + e.Host + separator + "pipe" + separator + e.Name
}

// IsLocal reports whether the host component names the local machine.
func (e Endpoint) IsLocal() bool {
	return e.Host == "." || strings.EqualFold(e.Host, "localhost")
}
