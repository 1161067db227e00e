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

package jsbridge_test

import (
	"context"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redpanda-data/common-go/jsbridge"
	"github.com/redpanda-data/common-go/jsbridge/codec"
	"github.com/redpanda-data/common-go/jsbridge/registry"
)

const calcLibrary = `
function double(x) { return m.add(x, x) }
async function greet(name) { return "hello " + name }
function fail() { throw new Error("nope") }
`

func calcInvokables() *registry.Invokables {
	return registry.NewInvokables("calc").
		Add(
			registry.NewGuestFunction("double", []codec.Type{codec.Int}, codec.Int),
			registry.NewGuestFunction("greet", []codec.Type{codec.String}, codec.String),
			registry.NewGuestFunction("fail", nil, codec.Void),
		).
		MustBuild()
}

func newCalcEngine(t *testing.T, opts ...jsbridge.Option) *jsbridge.Engine {
	t.Helper()
	return newEngine(t, append([]jsbridge.Option{
		jsbridge.WithModules(mathModule()),
		jsbridge.WithInvokables(calcInvokables()),
	}, opts...)...)
}

func TestInvokeGuestFunction(t *testing.T) {
	e := newCalcEngine(t)

	got, err := e.InvokeGuestFunction(context.Background(), "calc", "double", calcLibrary, int32(21))
	require.NoError(t, err)
	require.Equal(t, int32(42), got)

	got, err = e.InvokeGuestFunction(context.Background(), "calc", "greet", calcLibrary, "world")
	require.NoError(t, err)
	require.Equal(t, "hello world", got)

	got, err = e.InvokeGuestFunction(context.Background(), "calc", "double", calcLibrary, int32(4))
	require.NoError(t, err)
	require.Equal(t, int32(8), got)
}

func TestInvokeGuestFunctionErrors(t *testing.T) {
	e := newCalcEngine(t)

	_, err := e.InvokeGuestFunction(context.Background(), "calc", "fail", calcLibrary)
	var gerr *jsbridge.GuestError
	require.True(t, errors.As(err, &gerr), "got %v", err)
	require.Contains(t, gerr.Message, "nope")

	tests := []struct {
		name     string
		module   string
		function string
		args     []any
	}{
		{"unknown module", "nope", "double", []any{int32(1)}},
		{"unknown function", "calc", "triple", []any{int32(1)}},
		{"too few arguments", "calc", "double", nil},
		{"too many arguments", "calc", "double", []any{int32(1), int32(2)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.InvokeGuestFunction(context.Background(), tt.module, tt.function, calcLibrary, tt.args...)
			var perr *jsbridge.ProtocolError
			require.True(t, errors.As(err, &perr), "got %v", err)
			require.Equal(t, tt.module, perr.Module)
			require.Equal(t, tt.function, perr.Function)
		})
	}

	// A failed invocation releases the function.
	got, err := e.InvokeGuestFunction(context.Background(), "calc", "double", calcLibrary, int32(1))
	require.NoError(t, err)
	require.Equal(t, int32(2), got)
}

func TestPrecompiledGuestFunction(t *testing.T) {
	e := newCalcEngine(t)

	bc, err := e.CompilePortableGuestFunction(context.Background(), calcLibrary)
	require.NoError(t, err)

	for _, n := range []int32{1, 2, 50} {
		got, err := e.InvokePrecompiledGuestFunction(context.Background(), "calc", "double", bc, n)
		require.NoError(t, err)
		require.Equal(t, 2*n, got)
	}

	got, err := e.InvokePrecompiledGuestFunction(context.Background(), "calc", "greet", bc, "again")
	require.NoError(t, err)
	require.Equal(t, "hello again", got)

	// Bytecode runs on any engine with the same registrations.
	other := newCalcEngine(t)
	got, err = other.InvokePrecompiledGuestFunction(context.Background(), "calc", "double", bc, int32(8))
	require.NoError(t, err)
	require.Equal(t, int32(16), got)
}

func TestPrecompiledSharesCacheEntry(t *testing.T) {
	e := newCalcEngine(t)

	first, err := e.CompilePortableGuestFunction(context.Background(), calcLibrary)
	require.NoError(t, err)
	second, err := e.CompilePortableGuestFunction(context.Background(), calcLibrary)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestGuestFunctionFromHostIsRejected(t *testing.T) {
	var e *jsbridge.Engine
	host := registry.NewModule("host").
		AddFunc("callback", nil, codec.Void, func(ctx context.Context, _ []any) (any, error) {
			_, err := e.InvokeGuestFunction(ctx, "calc", "double", calcLibrary, int32(1))
			return nil, err
		}).
		MustBuild()
	e = newCalcEngine(t, jsbridge.WithModules(host))

	err := e.CompileAndExec(context.Background(), []byte(`host.callback()`))
	require.ErrorIs(t, err, jsbridge.ErrReentrant)
}

type point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

const geoLibrary = `
function double(p) { return from_java.double(p) }
function same(h) { return h }
`

func newGeoEngine(t *testing.T) *jsbridge.Engine {
	t.Helper()
	pt := codec.Struct[point]()
	host := registry.NewModule("from_java").
		AddFunc("double", []codec.Type{pt}, pt, func(_ context.Context, args []any) (any, error) {
			p := args[0].(point)
			return point{X: p.X * 2, Y: p.Y * 2}, nil
		}).
		MustBuild()
	inv := registry.NewInvokables("geo").
		Add(
			registry.NewGuestFunction("double", []codec.Type{pt}, pt),
			registry.NewGuestFunction("same", []codec.Type{codec.Handle}, codec.Handle),
		).
		MustBuild()
	return newEngine(t, jsbridge.WithModules(host), jsbridge.WithInvokables(inv))
}

func TestGuestFunctionValueKinds(t *testing.T) {
	type conn struct{ name string }
	broker := &conn{name: "broker-0"}

	tests := []struct {
		name     string
		function string
		arg      any
		check    func(t *testing.T, got any)
	}{
		{
			name:     "struct",
			function: "double",
			arg:      point{X: 1, Y: 3},
			check: func(t *testing.T, got any) {
				require.Equal(t, point{X: 2, Y: 6}, got)
			},
		},
		{
			name:     "handle",
			function: "same",
			arg:      broker,
			check: func(t *testing.T, got any) {
				require.Same(t, broker, got)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name+"/inline", func(t *testing.T) {
			e := newGeoEngine(t)
			got, err := e.InvokeGuestFunction(context.Background(), "geo", tt.function, geoLibrary, tt.arg)
			require.NoError(t, err)
			tt.check(t, got)
		})
		t.Run(tt.name+"/portable", func(t *testing.T) {
			e := newGeoEngine(t)
			bc, err := e.CompilePortableGuestFunction(context.Background(), geoLibrary)
			require.NoError(t, err)
			got, err := e.InvokePrecompiledGuestFunction(context.Background(), "geo", tt.function, bc, tt.arg)
			require.NoError(t, err)
			tt.check(t, got)
		})
	}
}

func TestConcurrentGuestInvocationsQueue(t *testing.T) {
	e := newCalcEngine(t)
	bc, err := e.CompilePortableGuestFunction(context.Background(), calcLibrary)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range int32(8) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var (
				got any
				err error
			)
			if i%2 == 0 {
				got, err = e.InvokeGuestFunction(context.Background(), "calc", "double", calcLibrary, i)
			} else {
				got, err = e.InvokePrecompiledGuestFunction(context.Background(), "calc", "double", bc, i)
			}
			assert.NoError(t, err)
			assert.Equal(t, 2*i, got)
		}()
	}
	wg.Wait()
}

func TestSharedGuestFunctionIsBusy(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	gate := registry.NewModule("gate").
		AddFunc("wait", nil, codec.Void, func(context.Context, []any) (any, error) {
			select {
			case entered <- struct{}{}:
			default:
			}
			<-release
			return nil, nil
		}).
		MustBuild()
	inv := registry.NewInvokables("blocking").
		Add(registry.NewGuestFunction("run", nil, codec.Int)).
		MustBuild()
	const library = `function run() { gate.wait(); return 1 }`

	a := newEngine(t, jsbridge.WithModules(gate), jsbridge.WithInvokables(inv))
	b := newEngine(t, jsbridge.WithModules(gate), jsbridge.WithInvokables(inv))

	done := make(chan error, 1)
	go func() {
		got, err := a.InvokeGuestFunction(context.Background(), "blocking", "run", library)
		assert.Equal(t, int32(1), got)
		done <- err
	}()
	<-entered

	_, err := b.InvokeGuestFunction(context.Background(), "blocking", "run", library)
	require.ErrorIs(t, err, jsbridge.ErrBusy)

	close(release)
	require.NoError(t, <-done)

	got, err := b.InvokeGuestFunction(context.Background(), "blocking", "run", library)
	require.NoError(t, err)
	require.Equal(t, int32(1), got)
}
