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
	"slices"
	"sync"
	"sync/atomic"

	"github.com/redpanda-data/common-go/jsbridge/codec"
)

// HostFunc is the body of a host function. args holds one decoded value per
// declared parameter, in order. An error returned here aborts the running
// script and is handed unchanged to whoever started the execution.
type HostFunc func(ctx context.Context, args []any) (any, error)

// HostFunction is a Go function callable from sandboxed code.
type HostFunction struct {
	name    string
	params  []codec.Type
	ret     codec.Type
	fn      HostFunc
	lenient bool
}

// NewHostFunction returns a host function with the given signature.
func NewHostFunction(name string, params []codec.Type, ret codec.Type, fn HostFunc) *HostFunction {
	return &HostFunction{
		name:   name,
		params: slices.Clone(params),
		ret:    ret,
		fn:     fn,
	}
}

// Name returns the function name as seen from the sandbox.
func (f *HostFunction) Name() string { return f.name }

// Params returns the declared parameter types.
func (f *HostFunction) Params() []codec.Type { return slices.Clone(f.params) }

// Return returns the declared return type.
func (f *HostFunction) Return() codec.Type { return f.ret }

// Call invokes the body directly, bypassing the codec.
func (f *HostFunction) Call(ctx context.Context, args []any) (any, error) {
	return f.fn(ctx, args)
}

// GuestFunction is a function implemented by sandboxed code and called from
// the host.
//
// The result of an invocation is reported by the sandbox through a dedicated
// host function named "<name>_set_result" and kept in a single slot, so at
// most one invocation of a GuestFunction may be in flight at any time.
type GuestFunction struct {
	name       string
	globalName string
	params     []codec.Type
	ret        codec.Type
	setResult  *HostFunction

	inFlight atomic.Bool
	mu       sync.Mutex
	result   any
}

// NewGuestFunction returns a guest function implemented by the global of the
// same name.
func NewGuestFunction(name string, params []codec.Type, ret codec.Type) *GuestFunction {
	return NewGuestFunctionWithGlobal(name, name, params, ret)
}

// NewGuestFunctionWithGlobal returns a guest function implemented by the
// sandbox global globalName and exposed under name.
func NewGuestFunctionWithGlobal(name, globalName string, params []codec.Type, ret codec.Type) *GuestFunction {
	g := &GuestFunction{
		name:       name,
		globalName: globalName,
		params:     slices.Clone(params),
		ret:        ret,
	}
	g.setResult = &HostFunction{
		name:    g.SetResultName(),
		params:  []codec.Type{ret},
		ret:     codec.Void,
		lenient: true,
		fn: func(_ context.Context, args []any) (any, error) {
			g.mu.Lock()
			g.result = args[0]
			g.mu.Unlock()
			return nil, nil
		},
	}
	return g
}

// Name returns the name the host invokes the function by.
func (g *GuestFunction) Name() string { return g.name }

// GlobalName returns the sandbox global implementing the function.
func (g *GuestFunction) GlobalName() string { return g.globalName }

// Params returns the declared parameter types.
func (g *GuestFunction) Params() []codec.Type { return slices.Clone(g.params) }

// Return returns the declared return type.
func (g *GuestFunction) Return() codec.Type { return g.ret }

// SetResultName returns the name of the host function the sandbox reports
// results through.
func (g *GuestFunction) SetResultName() string { return g.name + "_set_result" }

// SetResultFunction returns the host function the sandbox reports results
// through.
func (g *GuestFunction) SetResultFunction() *HostFunction { return g.setResult }

// Begin marks an invocation as in flight and clears the result slot. It
// reports false if another invocation has not ended yet.
func (g *GuestFunction) Begin() bool {
	if !g.inFlight.CompareAndSwap(false, true) {
		return false
	}
	g.mu.Lock()
	g.result = nil
	g.mu.Unlock()
	return true
}

// End marks the current invocation as finished.
func (g *GuestFunction) End() {
	g.inFlight.Store(false)
}

// Result returns the value last reported by the sandbox.
func (g *GuestFunction) Result() any {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.result
}
