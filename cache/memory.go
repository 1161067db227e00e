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

package cache

import (
	"bytes"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-memdb"
)

const (
	table   = "bytecode"
	idIndex = "id"
)

// entry is stored in go-memdb.
type entry struct {
	Key      string
	Bytecode []byte
}

// Memory is an unbounded cache backed by go-memdb.
type Memory struct {
	db *memdb.MemDB
}

var _ Cache = (*Memory)(nil)

// NewMemory creates an empty in-memory cache.
func NewMemory() (*Memory, error) {
	schema := &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			table: {
				Name: table,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Key"},
					},
				},
			},
		},
	}

	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, errors.Wrap(err, "create memdb")
	}
	return &Memory{db: db}, nil
}

func (m *Memory) lookup(src []byte) *entry {
	txn := m.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(table, idIndex, Key(src))
	if err != nil || raw == nil {
		return nil
	}
	e, _ := raw.(*entry)
	return e
}

// Exists reports whether bytecode for src is present.
func (m *Memory) Exists(src []byte) bool {
	return m.lookup(src) != nil
}

// Get returns a copy of the bytecode stored for src.
func (m *Memory) Get(src []byte) ([]byte, bool) {
	e := m.lookup(src)
	if e == nil {
		return nil, false
	}
	return bytes.Clone(e.Bytecode), true
}

// Set stores a copy of compiled under the key of src.
func (m *Memory) Set(src, compiled []byte) {
	txn := m.db.Txn(true)
	defer txn.Abort()

	// Insert only fails on schema violations, which a fixed schema rules out.
	if err := txn.Insert(table, &entry{Key: Key(src), Bytecode: bytes.Clone(compiled)}); err != nil {
		return
	}
	txn.Commit()
}

// Clear drops every entry.
func (m *Memory) Clear() {
	txn := m.db.Txn(true)
	defer txn.Abort()

	if _, err := txn.DeleteAll(table, idIndex); err != nil {
		return
	}
	txn.Commit()
}

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	txn := m.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(table, idIndex)
	if err != nil {
		return 0
	}
	n := 0
	for obj := it.Next(); obj != nil; obj = it.Next() {
		n++
	}
	return n
}
