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
	lru "github.com/hashicorp/golang-lru/v2"
)

// LRU is a cache holding at most a fixed number of entries, evicting the least
// recently used one first.
type LRU struct {
	c *lru.Cache[string, []byte]
}

var _ Cache = (*LRU)(nil)

// NewLRU creates a cache holding up to size entries.
func NewLRU(size int) (*LRU, error) {
	c, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, errors.Wrapf(err, "create lru cache of size %d", size)
	}
	return &LRU{c: c}, nil
}

func (l *LRU) Exists(src []byte) bool {
	return l.c.Contains(Key(src))
}

func (l *LRU) Get(src []byte) ([]byte, bool) {
	v, ok := l.c.Get(Key(src))
	if !ok {
		return nil, false
	}
	return bytes.Clone(v), true
}

func (l *LRU) Set(src, compiled []byte) {
	l.c.Add(Key(src), bytes.Clone(compiled))
}

func (l *LRU) Clear() {
	l.c.Purge()
}

// Len returns the number of stored entries.
func (l *LRU) Len() int {
	return l.c.Len()
}
