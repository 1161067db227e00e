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

package gojs

import (
	"slices"

	"github.com/cockroachdb/errors"
)

// reserved keeps pointer 0 out of reach so it can mean "no buffer".
const reserved = 8

type span struct {
	off, size uint32
}

// arena emulates a linear memory with a first-fit allocator. It grows on
// demand up to limit bytes.
type arena struct {
	mem   []byte
	limit uint32
	free  []span // sorted by offset, never adjacent
	used  map[uint32]uint32
}

func newArena(limit uint32) *arena {
	return &arena{
		mem:   make([]byte, reserved),
		limit: limit,
		used:  map[uint32]uint32{},
	}
}

func (a *arena) allocate(size uint32) (uint32, error) {
	size = max(size, 1)
	for i, s := range a.free {
		if s.size < size {
			continue
		}
		if s.size == size {
			a.free = slices.Delete(a.free, i, i+1)
		} else {
			a.free[i] = span{off: s.off + size, size: s.size - size}
		}
		clear(a.mem[s.off : s.off+size])
		a.used[s.off] = size
		return s.off, nil
	}

	off := uint32(len(a.mem))
	if uint64(off)+uint64(size) > uint64(a.limit) {
		return 0, errors.Newf("out of memory: cannot allocate %d bytes, %d of %d in use", size, off, a.limit)
	}
	a.mem = append(a.mem, make([]byte, size)...)
	a.used[off] = size
	return off, nil
}

func (a *arena) release(ptr uint32) error {
	size, ok := a.used[ptr]
	if !ok {
		return errors.Newf("free of unallocated pointer %d", ptr)
	}
	delete(a.used, ptr)

	i, _ := slices.BinarySearchFunc(a.free, ptr, func(s span, p uint32) int {
		switch {
		case s.off < p:
			return -1
		case s.off > p:
			return 1
		}
		return 0
	})
	a.free = slices.Insert(a.free, i, span{off: ptr, size: size})

	// Coalesce with the following and preceding spans.
	if i+1 < len(a.free) && a.free[i].off+a.free[i].size == a.free[i+1].off {
		a.free[i].size += a.free[i+1].size
		a.free = slices.Delete(a.free, i+1, i+2)
	}
	if i > 0 && a.free[i-1].off+a.free[i-1].size == a.free[i].off {
		a.free[i-1].size += a.free[i].size
		a.free = slices.Delete(a.free, i, i+1)
	}
	return nil
}

func (a *arena) bounds(ptr, size uint32) error {
	if uint64(ptr)+uint64(size) > uint64(len(a.mem)) {
		return errors.Newf("access of %d bytes at %d is out of range", size, ptr)
	}
	return nil
}

func (a *arena) read(ptr, size uint32) ([]byte, error) {
	if err := a.bounds(ptr, size); err != nil {
		return nil, err
	}
	return slices.Clone(a.mem[ptr : ptr+size]), nil
}

func (a *arena) write(ptr uint32, data []byte) error {
	if err := a.bounds(ptr, uint32(len(data))); err != nil {
		return err
	}
	copy(a.mem[ptr:], data)
	return nil
}

// inUse returns the number of allocated bytes.
func (a *arena) inUse() int {
	n := 0
	for _, size := range a.used {
		n += int(size)
	}
	return n
}
