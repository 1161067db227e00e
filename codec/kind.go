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

package codec

import (
	"reflect"
	"strconv"
)

// Kind is the closed set of value shapes that can cross the sandbox boundary.
type Kind int

const (
	KindInt    Kind = iota // int32
	KindLong               // int64
	KindDouble             // float64
	KindFloat              // float32
	KindBool
	KindString
	KindStruct // decoded into Type.Schema
	KindHandle // passed by reference through the handle table
	KindVoid   // return kind only
	KindAny    // free-form JSON
)

var kindNames = [...]string{
	KindInt:    "Int",
	KindLong:   "Long",
	KindDouble: "Double",
	KindFloat:  "Float",
	KindBool:   "Bool",
	KindString: "String",
	KindStruct: "Struct",
	KindHandle: "Handle",
	KindVoid:   "Void",
	KindAny:    "Any",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
	return kindNames[k]
}

// Type describes a parameter or return value: its kind and, for
// [KindStruct], the Go type the JSON is decoded into.
type Type struct {
	Kind   Kind
	Schema reflect.Type
}

// Predefined types for the scalar kinds.
var (
	Int    = Type{Kind: KindInt}
	Long   = Type{Kind: KindLong}
	Double = Type{Kind: KindDouble}
	Float  = Type{Kind: KindFloat}
	Bool   = Type{Kind: KindBool}
	String = Type{Kind: KindString}
	Handle = Type{Kind: KindHandle}
	Void   = Type{Kind: KindVoid}
	Any    = Type{Kind: KindAny}
)

// Struct returns the structured type decoded into T.
func Struct[T any]() Type {
	return StructOf(reflect.TypeFor[T]())
}

// StructOf returns the structured type decoded into t.
func StructOf(t reflect.Type) Type {
	return Type{Kind: KindStruct, Schema: t}
}

func (t Type) String() string {
	if t.Kind == KindStruct && t.Schema != nil {
		return "Struct(" + t.Schema.String() + ")"
	}
	return t.Kind.String()
}

// zero returns the value a JSON null decodes to.
func (t Type) zero() any {
	switch t.Kind {
	case KindInt:
		return int32(0)
	case KindLong:
		return int64(0)
	case KindDouble:
		return float64(0)
	case KindFloat:
		return float32(0)
	case KindBool:
		return false
	case KindString:
		return ""
	case KindStruct:
		if t.Schema != nil {
			return reflect.Zero(t.Schema).Interface()
		}
	}
	return nil
}
