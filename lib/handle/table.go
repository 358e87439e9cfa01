// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package handle maps opaque integer identifiers to live resources.
//
// A [Table] allocates identifiers from a monotonically increasing int32
// counter starting at zero. Identifiers are never reused: once the
// counter wraps into the negative range (where [Invalid] lives) every
// further allocation fails with an [ExhaustedError]. Callers allocate
// only after the resource exists, so a failed operation never consumes
// an identifier.
package handle

import (
	"fmt"
	"sync"
)

// ID identifies a resource in a Table.
type ID = int32

// Invalid is the identifier reported across the bridge when an
// operation failed to produce a resource.
const Invalid ID = -1

// NotFoundError is returned for an identifier that is not in the table,
// either because it was never allocated or because its resource was
// removed.
type NotFoundError struct {
	Kind string
	ID   ID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("invalid %s id %d", e.Kind, e.ID)
}

// ExhaustedError is returned once a table's identifier counter has
// wrapped.
type ExhaustedError struct {
	Kind string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s ids exhausted", e.Kind)
}

// Table is a concurrency-safe identifier-to-resource map. The zero value
// is not usable; create tables with NewTable or NewTableFrom.
type Table[T any] struct {
	kind string

	mu      sync.Mutex
	next    ID
	entries map[ID]T
}

// NewTable creates an empty table whose first identifier is 0. kind names
// the resource in error messages ("connection", "listener").
func NewTable[T any](kind string) *Table[T] {
	return NewTableFrom[T](kind, 0)
}

// NewTableFrom creates an empty table whose first identifier is first.
func NewTableFrom[T any](kind string, first ID) *Table[T] {
	return &Table[T]{
		kind:    kind,
		next:    first,
		entries: make(map[ID]T),
	}
}

// Insert stores value under the next identifier and returns it.
func (t *Table[T]) Insert(value T) (ID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.next < 0 {
		return Invalid, &ExhaustedError{Kind: t.kind}
	}
	id := t.next
	t.next++
	t.entries[id] = value
	return id, nil
}

// Lookup returns the value stored under id.
func (t *Table[T]) Lookup(id ID) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	value, ok := t.entries[id]
	if !ok {
		var zero T
		return zero, &NotFoundError{Kind: t.kind, ID: id}
	}
	return value, nil
}

// Remove deletes id from the table, returning the value it held. Removing
// an absent identifier is not an error; ok reports whether it was present.
func (t *Table[T]) Remove(id ID) (value T, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	value, ok = t.entries[id]
	delete(t.entries, id)
	return value, ok
}

// RemoveIf calls release with the value stored under id while holding the
// table lock, and deletes the entry only if release returns nil. The
// release error is returned unchanged. release must not block on I/O.
func (t *Table[T]) RemoveIf(id ID, release func(T) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	value, ok := t.entries[id]
	if !ok {
		return &NotFoundError{Kind: t.kind, ID: id}
	}
	if err := release(value); err != nil {
		return err
	}
	delete(t.entries, id)
	return nil
}

// Drain removes every entry and returns the removed values in no
// particular order. Identifier allocation continues from where it was.
func (t *Table[T]) Drain() []T {
	t.mu.Lock()
	defer t.mu.Unlock()

	values := make([]T, 0, len(t.entries))
	for id, value := range t.entries {
		values = append(values, value)
		delete(t.entries, id)
	}
	return values
}

// Len returns the number of live entries.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
