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

// Package cache stores compiled bytecode keyed by a digest of the exact source
// it was compiled from.
package cache

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Cache maps final source text to the bytecode compiled from it.
// Implementations are safe for concurrent use.
type Cache interface {
	// Exists reports whether bytecode for src is present.
	Exists(src []byte) bool
	// Get returns the bytecode for src.
	Get(src []byte) ([]byte, bool)
	// Set records compiled as the bytecode for src.
	Set(src, compiled []byte)
	// Clear drops every entry.
	Clear()
}

// Key returns the cache key for src: the hex encoded BLAKE2b-256 digest of its
// bytes.
func Key(src []byte) string {
	sum := blake2b.Sum256(src)
	return hex.EncodeToString(sum[:])
}

type nop struct{}

// Nop returns a cache that never stores anything.
func Nop() Cache { return nop{} }

func (nop) Exists([]byte) bool { return false }
func (nop) Get([]byte) ([]byte, bool) { return nil, false }
func (nop) Set([]byte, []byte) {}
func (nop) Clear() {}
