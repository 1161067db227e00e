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

package handle_test

import (
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/redpanda-data/common-go/jsbridge/handle"
)

type conn struct {
	addr string
}

func TestAllocateIsMonotonic(t *testing.T) {
	table := handle.NewTable()
	for i := range 5 {
		ref := table.Allocate(i)
		require.Equal(t, i, ref.Index())
		require.Equal(t, i, ref.Value())
	}
	require.Equal(t, 5, table.Len())
}

func TestResolveIndexOfIsIdentity(t *testing.T) {
	table := handle.NewTable()
	c := &conn{addr: "localhost:9092"}

	idx := table.IndexOf(c)
	got, err := table.Resolve(idx)
	require.NoError(t, err)
	require.Same(t, c, got.(*conn))
}

func TestIndexOfReusesRefs(t *testing.T) {
	table := handle.NewTable()
	ref := table.Allocate(&conn{addr: "a"})

	require.Equal(t, ref.Index(), table.IndexOf(ref))
	require.Equal(t, ref.Index(), table.IndexOf(&ref))
	require.Equal(t, 1, table.Len())

	// Bare values are never deduplicated.
	v := &conn{addr: "b"}
	first := table.IndexOf(v)
	second := table.IndexOf(v)
	require.NotEqual(t, first, second)
	require.Equal(t, 3, table.Len())
}

func TestResolveOutOfRange(t *testing.T) {
	table := handle.NewTable()
	table.Allocate("x")

	for _, idx := range []int{-1, 1, 100} {
		_, err := table.Resolve(idx)
		var oor *handle.OutOfRangeError
		require.True(t, errors.As(err, &oor), "index %d", idx)
		require.Equal(t, idx, oor.Index)
		require.Equal(t, 1, oor.Len)
	}
}

func TestConcurrentAllocate(t *testing.T) {
	table := handle.NewTable()

	var wg sync.WaitGroup
	seen := make([]int, 100)
	for i := range seen {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen[i] = table.Allocate(i).Index()
		}()
	}
	wg.Wait()

	unique := map[int]struct{}{}
	for i, idx := range seen {
		unique[idx] = struct{}{}
		v, err := table.Resolve(idx)
		require.NoError(t, err)
		require.Equal(t, i, v)
	}
	require.Len(t, unique, 100)
}
