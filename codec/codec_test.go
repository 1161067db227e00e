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

package codec_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/redpanda-data/common-go/jsbridge/codec"
	"github.com/redpanda-data/common-go/jsbridge/handle"
)

type point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func TestEncodeArgs(t *testing.T) {
	c := codec.New(handle.NewTable())

	tests := []struct {
		name     string
		types    []codec.Type
		values   []any
		expected string
	}{
		{
			name:     "empty",
			expected: `[]`,
		},
		{
			name:     "scalars",
			types:    []codec.Type{codec.Int, codec.Long, codec.Double, codec.Bool, codec.String},
			values:   []any{int32(40), int64(1) << 40, 2.5, true, "ciao"},
			expected: `[40,1099511627776,2.5,true,"ciao"]`,
		},
		{
			name:     "float keeps its precision",
			types:    []codec.Type{codec.Float},
			values:   []any{float32(0.1)},
			expected: `[0.1]`,
		},
		{
			name:     "struct",
			types:    []codec.Type{codec.Struct[point]()},
			values:   []any{point{X: 1, Y: 3}},
			expected: `[{"x":1,"y":3}]`,
		},
		{
			name:     "nil values",
			types:    []codec.Type{codec.Any, codec.Handle},
			values:   []any{nil, nil},
			expected: `[null,null]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.EncodeArgs(tt.types, tt.values)
			require.NoError(t, err)
			require.JSONEq(t, tt.expected, string(got))
		})
	}
}

func TestEncodeArgsArityMismatch(t *testing.T) {
	c := codec.New(handle.NewTable())

	_, err := c.EncodeArgs([]codec.Type{codec.Int, codec.Int}, []any{int32(1)})
	var perr *codec.ProtocolError
	require.True(t, errors.As(err, &perr))
	require.Contains(t, perr.Error(), "expected 2 arguments, got 1")
}

func TestEncodeValueChecksKinds(t *testing.T) {
	c := codec.New(handle.NewTable())

	tests := []struct {
		name  string
		typ   codec.Type
		value any
		ok    bool
	}{
		{"int32 as Int", codec.Int, int32(7), true},
		{"int in range as Int", codec.Int, 1 << 20, true},
		{"uint8 as Int", codec.Int, uint8(255), true},
		{"string as Int", codec.Int, "not-an-int", false},
		{"int overflowing Int", codec.Int, int64(1) << 32, false},
		{"uint overflowing Long", codec.Long, uint64(1) << 63, false},
		{"float as Int", codec.Int, 1.5, false},
		{"nil as Int", codec.Int, nil, false},
		{"int64 as Long", codec.Long, int64(-1) << 40, true},
		{"int as Double", codec.Double, 3, true},
		{"string as Double", codec.Double, "3", false},
		{"float64 as Float", codec.Float, 0.5, true},
		{"bool as Bool", codec.Bool, false, true},
		{"int as Bool", codec.Bool, 1, false},
		{"string as String", codec.String, "oops", true},
		{"int as String", codec.String, 42, false},
		{"struct as Struct", codec.Struct[point](), point{X: 1}, true},
		{"pointer as Struct", codec.Struct[point](), &point{X: 1}, true},
		{"map as Struct", codec.Struct[point](), map[string]int{"x": 1}, false},
		{"anything as Any", codec.Any, []string{"a"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.EncodeValue(tt.typ, tt.value)
			if tt.ok {
				require.NoError(t, err)
				return
			}
			var perr *codec.ProtocolError
			require.True(t, errors.As(err, &perr), "got %v", err)
		})
	}
}

func TestEncodeArgsRejectsWrongKind(t *testing.T) {
	c := codec.New(handle.NewTable())

	_, err := c.EncodeArgs([]codec.Type{codec.Int}, []any{"not-an-int"})
	var perr *codec.ProtocolError
	require.True(t, errors.As(err, &perr))
	require.Contains(t, perr.Error(), "argument 0")
	require.Contains(t, perr.Error(), "cannot encode string as Int")
}

func TestDecodeArgs(t *testing.T) {
	c := codec.New(handle.NewTable())

	got, err := c.DecodeArgs(
		[]codec.Type{codec.Int, codec.Long, codec.Double, codec.Float, codec.Bool, codec.String, codec.Struct[point](), codec.Any},
		[]byte(`[40, 1e3, 2.5, 0.5, false, "ciao", {"x": 1, "y": 3}, {"a": [1, "b"]}]`),
		false,
	)
	require.NoError(t, err)
	require.Equal(t, []any{
		int32(40),
		int64(1000),
		2.5,
		float32(0.5),
		false,
		"ciao",
		point{X: 1, Y: 3},
		map[string]any{"a": []any{float64(1), "b"}},
	}, got)
}

func TestDecodeArgsNullsAreZeroValues(t *testing.T) {
	c := codec.New(handle.NewTable())

	got, err := c.DecodeArgs(
		[]codec.Type{codec.Int, codec.String, codec.Struct[point](), codec.Handle, codec.Any},
		[]byte(`[null, null, null, null, null]`),
		false,
	)
	require.NoError(t, err)
	require.Equal(t, []any{int32(0), "", point{}, nil, nil}, got)
}

func TestDecodeArgsArity(t *testing.T) {
	c := codec.New(handle.NewTable())
	types := []codec.Type{codec.Int, codec.Int}

	for _, raw := range []string{`[1]`, `[1, 2, 3]`, `[]`} {
		_, err := c.DecodeArgs(types, []byte(raw), false)
		var perr *codec.ProtocolError
		require.True(t, errors.As(err, &perr), raw)
	}

	got, err := c.DecodeArgs(types, []byte(`[7]`), true)
	require.NoError(t, err)
	require.Equal(t, []any{int32(7), int32(0)}, got)
}

func TestDecodeArgsRejectsWrongKinds(t *testing.T) {
	c := codec.New(handle.NewTable())

	tests := []struct {
		name string
		typ  codec.Type
		raw  string
	}{
		{"int from string", codec.Int, `["1"]`},
		{"int from fraction", codec.Int, `[1.5]`},
		{"int overflow", codec.Int, `[4294967296]`},
		{"bool from number", codec.Bool, `[1]`},
		{"string from object", codec.String, `[{}]`},
		{"double from bool", codec.Double, `[true]`},
		{"struct from string", codec.Struct[point](), `["p"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.DecodeArgs([]codec.Type{tt.typ}, []byte(tt.raw), false)
			var perr *codec.ProtocolError
			require.True(t, errors.As(err, &perr))
			require.Contains(t, perr.Error(), "argument 0")
		})
	}
}

func TestDecodeArgsNotAnArray(t *testing.T) {
	c := codec.New(handle.NewTable())

	for _, raw := range []string{`{}`, `42`, `[1,`, ``} {
		_, err := c.DecodeArgs(nil, []byte(raw), false)
		var perr *codec.ProtocolError
		require.True(t, errors.As(err, &perr), raw)
	}
}

func TestHandleRoundTrip(t *testing.T) {
	table := handle.NewTable()
	c := codec.New(table)
	conn := &struct{ name string }{name: "broker-0"}

	raw, err := c.EncodeArgs([]codec.Type{codec.Handle}, []any{conn})
	require.NoError(t, err)
	require.Equal(t, `[0]`, string(raw))

	got, err := c.DecodeArgs([]codec.Type{codec.Handle}, raw, false)
	require.NoError(t, err)
	require.Same(t, conn, got[0])

	ref, err := table.Ref(0)
	require.NoError(t, err)
	res, err := c.EncodeValue(codec.Handle, ref)
	require.NoError(t, err)
	require.Equal(t, `0`, string(res))
	require.Equal(t, 1, table.Len())
}

func TestDecodeUnknownHandle(t *testing.T) {
	c := codec.New(handle.NewTable())

	_, err := c.DecodeArgs([]codec.Type{codec.Handle}, []byte(`[3]`), false)
	var oor *handle.OutOfRangeError
	require.True(t, errors.As(err, &oor))
	var perr *codec.ProtocolError
	require.True(t, errors.As(err, &perr))
}

func TestEncodeResult(t *testing.T) {
	c := codec.New(handle.NewTable())

	got, err := c.EncodeValue(codec.Void, "ignored")
	require.NoError(t, err)
	require.Equal(t, "null", string(got))

	got, err = c.EncodeValue(codec.Int, int32(42))
	require.NoError(t, err)
	require.Equal(t, "42", string(got))

	v, err := c.Decode(codec.Struct[point](), []byte(`{"x":2,"y":6}`))
	require.NoError(t, err)
	require.Equal(t, point{X: 2, Y: 6}, v)
}

func TestTypeString(t *testing.T) {
	require.Equal(t, "Int", codec.Int.String())
	require.Equal(t, "Struct(codec_test.point)", codec.Struct[point]().String())
	require.Equal(t, "Kind(42)", codec.Kind(42).String())
}
