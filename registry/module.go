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

package registry

import (
	"context"
	"regexp"
	"slices"

	"github.com/cockroachdb/errors"

	"github.com/redpanda-data/common-go/jsbridge/codec"
)

// Module and function names are spliced into generated source, so they must
// be plain identifiers.
var identifier = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

func validateName(kind, name string) error {
	if !identifier.MatchString(name) {
		return errors.Newf("invalid %s name %q: must be an identifier", kind, name)
	}
	return nil
}

// Module is a named, immutable group of host functions.
type Module struct {
	name  string
	funcs []*HostFunction
	index map[string]*HostFunction
}

func newModule(name string, funcs []*HostFunction) *Module {
	m := &Module{
		name:  name,
		funcs: funcs,
		index: make(map[string]*HostFunction, len(funcs)),
	}
	for _, f := range funcs {
		m.index[f.name] = f
	}
	return m
}

// Name returns the module name, which is also the sandbox global the
// functions are installed on.
func (m *Module) Name() string { return m.name }

// Lookup returns the function called name.
func (m *Module) Lookup(name string) (*HostFunction, bool) {
	f, ok := m.index[name]
	return f, ok
}

// Functions returns the functions in the order they were added.
func (m *Module) Functions() []*HostFunction { return slices.Clone(m.funcs) }

// ModuleBuilder accumulates host functions for a [Module]. Errors are
// reported once, by Build.
type ModuleBuilder struct {
	name  string
	funcs []*HostFunction
	seen  map[string]struct{}
	errs  []error
}

// NewModule starts a module called name.
func NewModule(name string) *ModuleBuilder {
	b := &ModuleBuilder{name: name, seen: map[string]struct{}{}}
	if err := validateName("module", name); err != nil {
		b.errs = append(b.errs, err)
	}
	return b
}

// Add appends host functions. Adding two functions with the same name is an
// error reported by Build.
func (b *ModuleBuilder) Add(fns ...*HostFunction) *ModuleBuilder {
	for _, fn := range fns {
		if err := validateName("function", fn.name); err != nil {
			b.errs = append(b.errs, err)
			continue
		}
		if _, ok := b.seen[fn.name]; ok {
			b.errs = append(b.errs, errors.Newf("a function with name %q is already defined in module %q", fn.name, b.name))
			continue
		}
		b.seen[fn.name] = struct{}{}
		b.funcs = append(b.funcs, fn)
	}
	return b
}

// AddFunc is shorthand for Add(NewHostFunction(...)).
func (b *ModuleBuilder) AddFunc(name string, params []codec.Type, ret codec.Type, fn HostFunc) *ModuleBuilder {
	return b.Add(NewHostFunction(name, params, ret, fn))
}

// AddIntIntToInt adds fn(int32, int32) int32.
func (b *ModuleBuilder) AddIntIntToInt(name string, fn func(a, b int32) int32) *ModuleBuilder {
	return b.AddFunc(name, []codec.Type{codec.Int, codec.Int}, codec.Int, func(_ context.Context, args []any) (any, error) {
		return fn(args[0].(int32), args[1].(int32)), nil
	})
}

// AddVoidToInt adds fn() int32.
func (b *ModuleBuilder) AddVoidToInt(name string, fn func() int32) *ModuleBuilder {
	return b.AddFunc(name, nil, codec.Int, func(context.Context, []any) (any, error) {
		return fn(), nil
	})
}

// AddVoidToString adds fn() string.
func (b *ModuleBuilder) AddVoidToString(name string, fn func() string) *ModuleBuilder {
	return b.AddFunc(name, nil, codec.String, func(context.Context, []any) (any, error) {
		return fn(), nil
	})
}

// AddIntToVoid adds fn(int32).
func (b *ModuleBuilder) AddIntToVoid(name string, fn func(int32)) *ModuleBuilder {
	return b.AddFunc(name, []codec.Type{codec.Int}, codec.Void, func(_ context.Context, args []any) (any, error) {
		fn(args[0].(int32))
		return nil, nil
	})
}

// AddVoidToVoid adds fn().
func (b *ModuleBuilder) AddVoidToVoid(name string, fn func()) *ModuleBuilder {
	return b.AddFunc(name, nil, codec.Void, func(context.Context, []any) (any, error) {
		fn()
		return nil, nil
	})
}

// AddIntToString adds fn(int32) string.
func (b *ModuleBuilder) AddIntToString(name string, fn func(int32) string) *ModuleBuilder {
	return b.AddFunc(name, []codec.Type{codec.Int}, codec.String, func(_ context.Context, args []any) (any, error) {
		return fn(args[0].(int32)), nil
	})
}

// AddStringToInt adds fn(string) int32.
func (b *ModuleBuilder) AddStringToInt(name string, fn func(string) int32) *ModuleBuilder {
	return b.AddFunc(name, []codec.Type{codec.String}, codec.Int, func(_ context.Context, args []any) (any, error) {
		return fn(args[0].(string)), nil
	})
}

// AddStringToString adds fn(string) string.
func (b *ModuleBuilder) AddStringToString(name string, fn func(string) string) *ModuleBuilder {
	return b.AddFunc(name, []codec.Type{codec.String}, codec.String, func(_ context.Context, args []any) (any, error) {
		return fn(args[0].(string)), nil
	})
}

// AddStringToVoid adds fn(string).
func (b *ModuleBuilder) AddStringToVoid(name string, fn func(string)) *ModuleBuilder {
	return b.AddFunc(name, []codec.Type{codec.String}, codec.Void, func(_ context.Context, args []any) (any, error) {
		fn(args[0].(string))
		return nil, nil
	})
}

// Build validates the accumulated functions and freezes them into a Module.
func (b *ModuleBuilder) Build() (*Module, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	return newModule(b.name, slices.Clone(b.funcs)), nil
}

// MustBuild is like Build but panics on error. It is meant for package level
// declarations in generated code.
func (b *ModuleBuilder) MustBuild() *Module {
	m, err := b.Build()
	if err != nil {
		panic(err)
	}
	return m
}

// Invokables is a named, immutable group of guest functions.
type Invokables struct {
	name  string
	funcs []*GuestFunction
	index map[string]*GuestFunction
}

// Name returns the module name the guest functions are exported under.
func (inv *Invokables) Name() string { return inv.name }

// Lookup returns the guest function called name.
func (inv *Invokables) Lookup(name string) (*GuestFunction, bool) {
	f, ok := inv.index[name]
	return f, ok
}

// Functions returns the guest functions in the order they were added.
func (inv *Invokables) Functions() []*GuestFunction { return slices.Clone(inv.funcs) }

// InvokablesBuilder accumulates guest functions for an [Invokables].
type InvokablesBuilder struct {
	name  string
	funcs []*GuestFunction
	seen  map[string]struct{}
	errs  []error
}

// NewInvokables starts an invokables module called name.
func NewInvokables(name string) *InvokablesBuilder {
	b := &InvokablesBuilder{name: name, seen: map[string]struct{}{}}
	if err := validateName("module", name); err != nil {
		b.errs = append(b.errs, err)
	}
	return b
}

// Add appends guest functions.
func (b *InvokablesBuilder) Add(fns ...*GuestFunction) *InvokablesBuilder {
	for _, fn := range fns {
		if err := validateName("function", fn.name); err != nil {
			b.errs = append(b.errs, err)
			continue
		}
		if !identifier.MatchString(fn.globalName) {
			b.errs = append(b.errs, errors.Newf("invalid global name %q for guest function %q", fn.globalName, fn.name))
			continue
		}
		if _, ok := b.seen[fn.name]; ok {
			b.errs = append(b.errs, errors.Newf("a function with name %q is already defined in module %q", fn.name, b.name))
			continue
		}
		b.seen[fn.name] = struct{}{}
		b.funcs = append(b.funcs, fn)
	}
	return b
}

// Build validates the accumulated functions and freezes them.
func (b *InvokablesBuilder) Build() (*Invokables, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	inv := &Invokables{
		name:  b.name,
		funcs: slices.Clone(b.funcs),
		index: make(map[string]*GuestFunction, len(b.funcs)),
	}
	for _, f := range inv.funcs {
		inv.index[f.name] = f
	}
	return inv, nil
}

// MustBuild is like Build but panics on error.
func (b *InvokablesBuilder) MustBuild() *Invokables {
	inv, err := b.Build()
	if err != nil {
		panic(err)
	}
	return inv
}
