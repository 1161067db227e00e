// Copyright 2026 Redpanda Data, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package handle implements the arena of opaque references that lets sandboxed
// code hold on to host values it cannot serialize.
//
// A host value passed "by handle" never crosses the sandbox boundary. Instead
// it is appended to a [Table] and the sandbox receives the integer index. When
// the sandbox hands the index back, the table resolves it to the very same
// value. Indices are assigned monotonically starting at zero and are never
// reused: the table has no removal operation and lives exactly as long as the
// engine that owns it.
package handle

import (
	"fmt"
	"sync"
)

// Ref is a host value together with the index it occupies in a [Table].
//
// Host functions that return a Ref (rather than the bare value) have the
// existing index reused instead of a fresh one allocated, which keeps round
// trips idempotent.
type Ref struct {
	index int
	value any
}

// Index returns the integer handed to the sandbox for this reference.
func (r Ref) Index() int { return r.index }

// Value returns the referenced host value.
func (r Ref) Value() any { return r.value }

// OutOfRangeError is returned when the sandbox presents an index the table
// never handed out.
type OutOfRangeError struct {
	Index int
	Len   int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("handle %d out of range (table holds %d handles)", e.Index, e.Len)
}

// Table is an append-only arena of host values. It is safe for concurrent use.
type Table struct {
	mu     sync.RWMutex
	values []any
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{}
}

// Allocate appends v and returns its reference.
func (t *Table) Allocate(v any) Ref {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.values = append(t.values, v)
	return Ref{index: len(t.values) - 1, value: v}
}

// Resolve returns the value stored at index.
func (t *Table) Resolve(index int) (any, error) {
	ref, err := t.Ref(index)
	if err != nil {
		return nil, err
	}
	return ref.value, nil
}

// Ref returns the reference stored at index.
func (t *Table) Ref(index int) (Ref, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if index < 0 || index >= len(t.values) {
		return Ref{}, &OutOfRangeError{Index: index, Len: len(t.values)}
	}
	return Ref{index: index, value: t.values[index]}, nil
}

// IndexOf returns the index to hand to the sandbox for v. A [Ref] (or *Ref)
// keeps its index; any other value is allocated a new one.
func (t *Table) IndexOf(v any) int {
	switch r := v.(type) {
	case Ref:
		return r.index
	case *Ref:
		if r != nil {
			return r.index
		}
	}
	return t.Allocate(v).index
}

// Len returns the number of handles allocated so far.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.values)
}
