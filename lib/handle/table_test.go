// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handle

import (
	"errors"
	"math"
	"sort"
	"sync"
	"testing"
)

func TestInsertAllocatesSequentially(t *testing.T) {
	table := NewTable[string]("connection")

	for want := ID(0); want < 3; want++ {
		id, err := table.Insert("value")
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
		if id != want {
			t.Errorf("Insert returned id %d, want %d", id, want)
		}
	}
	if table.Len() != 3 {
		t.Errorf("Len() = %d, want 3", table.Len())
	}
}

func TestIdentifiersAreNotReused(t *testing.T) {
	table := NewTable[string]("connection")

	first, _ := table.Insert("a")
	table.Remove(first)
	second, err := table.Insert("b")
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if second == first {
		t.Fatalf("identifier %d reused after removal", first)
	}
}

func TestLookup(t *testing.T) {
	table := NewTable[string]("connection")
	id, _ := table.Insert("stored")

	value, err := table.Lookup(id)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if value != "stored" {
		t.Errorf("Lookup = %q, want %q", value, "stored")
	}

	_, err = table.Lookup(id + 1)
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Lookup of absent id: error = %v, want *NotFoundError", err)
	}
	if notFound.Error() != "invalid connection id 1" {
		t.Errorf("error text = %q", notFound.Error())
	}
}

func TestExhaustion(t *testing.T) {
	table := NewTableFrom[string]("listener", math.MaxInt32)

	last, err := table.Insert("last")
	if err != nil {
		t.Fatalf("Insert at MaxInt32: %v", err)
	}
	if last != math.MaxInt32 {
		t.Fatalf("Insert returned %d, want MaxInt32", last)
	}

	for range 2 {
		id, err := table.Insert("overflow")
		var exhausted *ExhaustedError
		if !errors.As(err, &exhausted) {
			t.Fatalf("Insert after wrap: error = %v, want *ExhaustedError", err)
		}
		if id != Invalid {
			t.Errorf("Insert after wrap returned id %d, want Invalid", id)
		}
		if exhausted.Error() != "listener ids exhausted" {
			t.Errorf("error text = %q", exhausted.Error())
		}
	}
	if table.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (failed inserts must not store)", table.Len())
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	table := NewTable[int]("listener")
	id, _ := table.Insert(7)

	value, ok := table.Remove(id)
	if !ok || value != 7 {
		t.Fatalf("Remove = (%d, %v), want (7, true)", value, ok)
	}
	if _, ok := table.Remove(id); ok {
		t.Fatal("second Remove reported the entry present")
	}
}

func TestRemoveIf(t *testing.T) {
	table := NewTable[string]("connection")
	id, _ := table.Insert("resource")

	releaseError := errors.New("close failed")
	if err := table.RemoveIf(id, func(string) error { return releaseError }); err != releaseError {
		t.Fatalf("RemoveIf with failing release = %v, want %v", err, releaseError)
	}
	if _, err := table.Lookup(id); err != nil {
		t.Fatalf("entry removed despite failed release: %v", err)
	}

	var released string
	if err := table.RemoveIf(id, func(value string) error {
		released = value
		return nil
	}); err != nil {
		t.Fatalf("RemoveIf: %v", err)
	}
	if released != "resource" {
		t.Errorf("release saw %q", released)
	}

	err := table.RemoveIf(id, func(string) error { return nil })
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("RemoveIf of removed id = %v, want *NotFoundError", err)
	}
}

func TestDrain(t *testing.T) {
	table := NewTable[int]("connection")
	for value := range 4 {
		table.Insert(value)
	}

	values := table.Drain()
	sort.Ints(values)
	if len(values) != 4 || values[0] != 0 || values[3] != 3 {
		t.Fatalf("Drain = %v", values)
	}
	if table.Len() != 0 {
		t.Errorf("Len() after Drain = %d", table.Len())
	}
	id, _ := table.Insert(9)
	if id != 4 {
		t.Errorf("Insert after Drain returned %d, want 4", id)
	}
}

func TestConcurrentInsert(t *testing.T) {
	table := NewTable[int]("connection")
	const count = 200

	ids := make([]ID, count)
	var waitGroup sync.WaitGroup
	for index := range count {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			id, err := table.Insert(index)
			if err != nil {
				t.Errorf("Insert: %v", err)
				return
			}
			ids[index] = id
		}()
	}
	waitGroup.Wait()

	seen := make(map[ID]bool, count)
	for _, id := range ids {
		if id < 0 || id >= count {
			t.Errorf("id %d out of range", id)
		}
		if seen[id] {
			t.Errorf("duplicate id %d", id)
		}
		seen[id] = true
	}
}
