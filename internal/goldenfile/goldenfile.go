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

// Package goldenfile implements snapshot assertions for generated source and
// captured guest output. Snapshots live in txtar archives so one file can
// hold every case of a test.
package goldenfile

import (
	"flag"
	"os"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/txtar"
)

var update = flag.Bool("update-golden", false, "if true, golden assertions will update the expected file instead of performing an assertion")

// Update returns value of the -update-golden CLI flag. A value of true indicates that
// computed files should be updated instead of asserted against.
func Update() bool {
	return *update
}

// Assertion selects how actual and expected content are compared.
type Assertion int

const (
	Text Assertion = iota
	JSON
)

func assertGolden(t *testing.T, assertion Assertion, name string, expected, actual []byte, write func([]byte) error) {
	t.Helper()

	if Update() {
		require.NoError(t, write(actual))
		return
	}

	const msg = "Divergence from snapshot %q. If this change is expected re-run this test with -update-golden."

	switch assertion {
	case Text:
		assert.Equal(t, string(expected), string(actual), msg, name)
	case JSON:
		assert.JSONEq(t, string(expected), string(actual), msg, name)
	default:
		require.Fail(t, "unknown assertion type", "%#v", assertion)
	}
}

// TxTar is a set of snapshots stored in one txtar archive.
type TxTar struct {
	mu      sync.Mutex
	archive *txtar.Archive
}

// NewTxTar loads the archive at path. With -update-golden the archive is
// rewritten, sorted by file name, when the test finishes.
func NewTxTar(t *testing.T, path string) *TxTar {
	archive, err := txtar.ParseFile(path)
	if os.IsNotExist(err) {
		archive = &txtar.Archive{}
	} else {
		require.NoError(t, err)
	}

	g := &TxTar{archive: archive}

	if Update() {
		t.Cleanup(func() {
			require.NoError(t, g.write(path))
		})
	}

	return g
}

func (g *TxTar) write(path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	slices.SortFunc(g.archive.Files, func(a, b txtar.File) int {
		return strings.Compare(a.Name, b.Name)
	})

	return os.WriteFile(path, txtar.Format(g.archive), 0o644)
}

func (g *TxTar) file(name string) *txtar.File {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, file := range g.archive.Files {
		if file.Name == name {
			return &g.archive.Files[i]
		}
	}
	g.archive.Files = append(g.archive.Files, txtar.File{
		Name: name,
		Data: []byte{},
	})
	return &g.archive.Files[len(g.archive.Files)-1]
}

// AssertGolden compares actual with the archive member called name.
func (g *TxTar) AssertGolden(t *testing.T, assertion Assertion, name string, actual []byte) {
	t.Helper()

	file := g.file(name)

	assertGolden(t, assertion, name, file.Data, actual, func(b []byte) error {
		g.mu.Lock()
		defer g.mu.Unlock()
		file.Data = b
		return nil
	})
}
