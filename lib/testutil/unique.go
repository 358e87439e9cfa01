// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"sync/atomic"
)

var pipeCounter atomic.Uint64

// PipeAddress returns a local pipe address of the form
// \\.\pipe\<prefix>-N, unique within the test process.
func PipeAddress(prefix string) string {
	return fmt.Sprintf(`\\.\pipe\%s-%d`, prefix, pipeCounter.Add(1))
}
