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

// Package registry holds the host functions exposed to sandboxed code and the
// guest functions the host can call back into, and dispatches host calls
// arriving from the sandbox.
package registry

import (
	"context"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/redpanda-data/common-go/jsbridge/codec"
)

// Registry is the immutable set of modules known to one engine.
type Registry struct {
	codec      *codec.Codec
	modules    map[string]*Module
	names      []string
	invokables map[string]*Invokables
	invNames   []string
}

// New builds a registry from host modules and guest function groups. For
// every guest function a "<name>_set_result" host function is registered in
// the module named after its group, so a group may share its name with a host
// module as long as no function names collide.
func New(c *codec.Codec, modules []*Module, invokables []*Invokables) (*Registry, error) {
	r := &Registry{
		codec:      c,
		modules:    map[string]*Module{},
		invokables: map[string]*Invokables{},
	}

	funcs := map[string][]*HostFunction{}
	for _, m := range modules {
		if _, ok := funcs[m.name]; ok {
			return nil, errors.Newf("module %q is registered twice", m.name)
		}
		funcs[m.name] = slices.Clone(m.funcs)
	}

	for _, inv := range invokables {
		if _, ok := r.invokables[inv.name]; ok {
			return nil, errors.Newf("invokables %q are registered twice", inv.name)
		}
		r.invokables[inv.name] = inv

		// Guest functions and their result functions share one namespace
		// with the host functions of the module named after the group.
		taken := map[string]string{}
		for _, f := range funcs[inv.name] {
			taken[f.name] = "host function"
		}
		for _, g := range inv.funcs {
			if what, ok := taken[g.name]; ok {
				return nil, errors.Newf("guest function %q of module %q clashes with %s %q",
					g.name, inv.name, what, g.name)
			}
			taken[g.name] = "guest function"

			setResult := g.SetResultFunction()
			if what, ok := taken[setResult.name]; ok {
				return nil, errors.Newf("result function of guest function %q of module %q clashes with %s %q",
					g.name, inv.name, what, setResult.name)
			}
			taken[setResult.name] = "result function"
			funcs[inv.name] = append(funcs[inv.name], setResult)
		}
	}

	for name, fns := range funcs {
		r.modules[name] = newModule(name, fns)
		r.names = append(r.names, name)
	}
	for name := range r.invokables {
		r.invNames = append(r.invNames, name)
	}
	// Generated source is keyed by content in the bytecode cache, so module
	// order must not depend on map iteration.
	slices.Sort(r.names)
	slices.Sort(r.invNames)
	return r, nil
}

// Modules returns every host module, including the ones synthesized for
// guest function results, sorted by name.
func (r *Registry) Modules() []*Module {
	out := make([]*Module, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.modules[n])
	}
	return out
}

// Invokables returns every guest function group, sorted by name.
func (r *Registry) Invokables() []*Invokables {
	out := make([]*Invokables, 0, len(r.invNames))
	for _, n := range r.invNames {
		out = append(out, r.invokables[n])
	}
	return out
}

// Module returns the host module called name.
func (r *Registry) Module(name string) (*Module, bool) {
	m, ok := r.modules[name]
	return m, ok
}

// GuestFunction returns the guest function registered as module.name.
func (r *Registry) GuestFunction(module, name string) (*GuestFunction, error) {
	inv, ok := r.invokables[module]
	if !ok {
		return nil, &codec.ProtocolError{Module: module, Function: name, Reason: "no invokables registered under this module"}
	}
	g, ok := inv.Lookup(name)
	if !ok {
		return nil, &codec.ProtocolError{Module: module, Function: name, Reason: "no such guest function"}
	}
	return g, nil
}

// Invoke dispatches a host call: it resolves module.function, decodes args
// against the declared parameters, runs the body and encodes its result.
//
// Lookup and decoding failures are returned as [codec.ProtocolError] before
// the body runs. An error returned by the body is passed through unchanged.
func (r *Registry) Invoke(ctx context.Context, module, function string, args []byte) ([]byte, error) {
	m, ok := r.modules[module]
	if !ok {
		return nil, &codec.ProtocolError{
			Module:   module,
			Function: function,
			Reason:   "unknown module, registered modules are [" + strings.Join(r.names, ", ") + "]",
		}
	}
	f, ok := m.Lookup(function)
	if !ok {
		return nil, &codec.ProtocolError{Module: module, Function: function, Reason: "unknown function"}
	}

	values, err := r.codec.DecodeArgs(f.params, args, f.lenient)
	if err != nil {
		var perr *codec.ProtocolError
		if errors.As(err, &perr) {
			return nil, perr.WithTarget(module, function)
		}
		return nil, &codec.ProtocolError{Module: module, Function: function, Reason: "decoding arguments", Err: err}
	}

	res, err := f.fn(ctx, values)
	if err != nil {
		return nil, err
	}

	out, err := r.codec.EncodeValue(f.ret, res)
	if err != nil {
		return nil, &codec.ProtocolError{Module: module, Function: function, Reason: "encoding result", Err: err}
	}
	return out, nil
}
