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

// Package codec converts between Go values and the JSON text that travels
// through sandbox memory.
//
// Argument lists always travel as a single JSON array. Scalars map directly to
// JSON scalars, structured values go through encoding/json using the Go type
// registered as their schema, and values of [KindHandle] are never serialized:
// they are replaced by their index in the engine's [handle.Table].
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/gjson"

	"github.com/redpanda-data/common-go/jsbridge/handle"
)

var null = []byte("null")

// Codec encodes and decodes values for one engine. Handle kinds are resolved
// against the table passed to [New].
type Codec struct {
	handles *handle.Table
}

// New returns a codec resolving handles through t.
func New(t *handle.Table) *Codec {
	return &Codec{handles: t}
}

// Handles returns the table backing handle kinds.
func (c *Codec) Handles() *handle.Table {
	return c.handles
}

// EncodeArgs encodes values as a JSON array according to types. The number
// of values must match the number of types.
func (c *Codec) EncodeArgs(types []Type, values []any) ([]byte, error) {
	if len(types) != len(values) {
		return nil, newProtocolError(
			fmt.Sprintf("expected %d arguments, got %d", len(types), len(values)), nil)
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, t := range types {
		if i > 0 {
			buf.WriteByte(',')
		}
		data, err := c.EncodeValue(t, values[i])
		if err != nil {
			return nil, newProtocolError(fmt.Sprintf("argument %d", i), err)
		}
		buf.Write(data)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// EncodeValue encodes a single value of type t. A Go value that does not fit
// t is a [ProtocolError].
func (c *Codec) EncodeValue(t Type, v any) ([]byte, error) {
	if err := check(t, v); err != nil {
		return nil, err
	}
	switch t.Kind {
	case KindVoid:
		return null, nil
	case KindHandle:
		if v == nil {
			return null, nil
		}
		return strconv.AppendInt(nil, int64(c.handles.IndexOf(v)), 10), nil
	case KindFloat:
		// Marshal float32 at its own precision so 0.1 does not become 0.10000000149011612.
		if f, ok := v.(float32); ok {
			return json.Marshal(json.Number(strconv.FormatFloat(float64(f), 'g', -1, 32)))
		}
	}
	return json.Marshal(v)
}

// check reports whether v may be encoded as t. Integers must fit the range of
// Int and Long, any Go number is accepted for Double and Float.
func check(t Type, v any) error {
	switch t.Kind {
	case KindVoid, KindAny, KindHandle:
		return nil
	case KindStruct:
		if v == nil || t.Schema == nil {
			return nil
		}
		rt := reflect.TypeOf(v)
		if rt == t.Schema || (rt.Kind() == reflect.Pointer && rt.Elem() == t.Schema) {
			return nil
		}
		return kindMismatch(t, v)
	}

	if v == nil {
		return kindMismatch(t, v)
	}
	rv := reflect.ValueOf(v)
	switch t.Kind {
	case KindInt, KindLong:
		bits := 64
		if t.Kind == KindInt {
			bits = 32
		}
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if n := rv.Int(); n < -1<<(bits-1) || n > 1<<(bits-1)-1 {
				return newProtocolError(fmt.Sprintf("integer %d overflows %s", n, t), nil)
			}
			return nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			if n := rv.Uint(); n > 1<<(bits-1)-1 {
				return newProtocolError(fmt.Sprintf("integer %d overflows %s", n, t), nil)
			}
			return nil
		}
	case KindDouble, KindFloat:
		switch rv.Kind() {
		case reflect.Float32, reflect.Float64,
			reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return nil
		}
	case KindBool:
		if rv.Kind() == reflect.Bool {
			return nil
		}
	case KindString:
		if rv.Kind() == reflect.String {
			return nil
		}
	}
	return kindMismatch(t, v)
}

func kindMismatch(t Type, v any) *ProtocolError {
	return newProtocolError(fmt.Sprintf("cannot encode %T as %s", v, t), nil)
}

// DecodeArgs decodes a JSON array into one value per type. A length mismatch
// is a [ProtocolError] unless lenient is set, in which case missing trailing
// values decode as JSON null and extra values are ignored.
func (c *Codec) DecodeArgs(types []Type, raw []byte, lenient bool) ([]any, error) {
	if !gjson.ValidBytes(raw) {
		return nil, newProtocolError("arguments are not valid JSON", nil)
	}
	res := gjson.ParseBytes(raw)
	if !res.IsArray() {
		return nil, newProtocolError("arguments must be a JSON array", nil)
	}
	elems := res.Array()
	if !lenient && len(elems) != len(types) {
		return nil, newProtocolError(
			fmt.Sprintf("expected %d arguments, got %d", len(types), len(elems)), nil)
	}
	out := make([]any, len(types))
	for i, t := range types {
		var elem gjson.Result
		if i < len(elems) {
			elem = elems[i]
		}
		v, err := c.decode(t, elem)
		if err != nil {
			return nil, newProtocolError(fmt.Sprintf("argument %d", i), err)
		}
		out[i] = v
	}
	return out, nil
}

// Decode decodes a single JSON value of type t.
func (c *Codec) Decode(t Type, raw []byte) (any, error) {
	if !gjson.ValidBytes(raw) {
		return nil, newProtocolError("value is not valid JSON", nil)
	}
	return c.decode(t, gjson.ParseBytes(raw))
}

func (c *Codec) decode(t Type, r gjson.Result) (any, error) {
	if !r.Exists() || r.Type == gjson.Null {
		return t.zero(), nil
	}
	switch t.Kind {
	case KindInt:
		n, err := integral(r, 32)
		if err != nil {
			return nil, err
		}
		return int32(n), nil
	case KindLong:
		return integral(r, 64)
	case KindDouble:
		if r.Type != gjson.Number {
			return nil, mismatch(t, r)
		}
		return r.Num, nil
	case KindFloat:
		if r.Type != gjson.Number {
			return nil, mismatch(t, r)
		}
		return float32(r.Num), nil
	case KindBool:
		if r.Type != gjson.True && r.Type != gjson.False {
			return nil, mismatch(t, r)
		}
		return r.Bool(), nil
	case KindString:
		if r.Type != gjson.String {
			return nil, mismatch(t, r)
		}
		return r.Str, nil
	case KindStruct:
		if t.Schema == nil {
			return nil, errors.New("struct type has no schema")
		}
		ptr := reflect.New(t.Schema)
		if err := json.Unmarshal([]byte(r.Raw), ptr.Interface()); err != nil {
			return nil, err
		}
		return ptr.Elem().Interface(), nil
	case KindHandle:
		n, err := integral(r, 32)
		if err != nil {
			return nil, err
		}
		return c.handles.Resolve(int(n))
	case KindAny:
		var v any
		if err := json.Unmarshal([]byte(r.Raw), &v); err != nil {
			return nil, err
		}
		return v, nil
	case KindVoid:
		return nil, nil
	}
	return nil, errors.Newf("unknown kind %s", t.Kind)
}

func integral(r gjson.Result, bits int) (int64, error) {
	if r.Type != gjson.Number {
		return 0, errors.Newf("expected integer, got %s", r.Type)
	}
	if n, err := strconv.ParseInt(r.Raw, 10, bits); err == nil {
		return n, nil
	}
	// Exponent forms such as 1e3 are still integral.
	f := r.Num
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, errors.Newf("expected integer, got %s", r.Raw)
	}
	limit := math.Ldexp(1, bits-1)
	if f < -limit || f >= limit {
		return 0, errors.Newf("integer %s overflows %d bits", r.Raw, bits)
	}
	return int64(f), nil
}

func mismatch(t Type, r gjson.Result) error {
	return errors.Newf("expected %s, got %s", t, r.Type)
}
