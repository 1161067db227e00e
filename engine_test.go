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
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/redpanda-data/common-go/jsbridge"
	"github.com/redpanda-data/common-go/jsbridge/cache"
	"github.com/redpanda-data/common-go/jsbridge/codec"
	"github.com/redpanda-data/common-go/jsbridge/internal/goldenfile"
	"github.com/redpanda-data/common-go/jsbridge/registry"
	"github.com/redpanda-data/common-go/jsbridge/sandbox"
	"github.com/redpanda-data/common-go/jsbridge/sandbox/gojs"
)

func newEngine(t *testing.T, opts ...jsbridge.Option) *jsbridge.Engine {
	t.Helper()
	return newEngineWith(t, gojs.Factory(), opts...)
}

func newEngineWith(t *testing.T, factory sandbox.Factory, opts ...jsbridge.Option) *jsbridge.Engine {
	t.Helper()
	e, err := jsbridge.New(context.Background(), factory, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

// countingSandbox records how many times the sandbox compiler is entered.
type countingSandbox struct {
	*gojs.Sandbox
	compiles *atomic.Int32
}

func (s *countingSandbox) CompileSource(ctx context.Context, ptr, size uint32) (uint32, error) {
	s.compiles.Add(1)
	return s.Sandbox.CompileSource(ctx, ptr, size)
}

func countingFactory(compiles *atomic.Int32) sandbox.Factory {
	return func(ctx context.Context, call sandbox.HostCall) (sandbox.Sandbox, error) {
		sb, err := gojs.New(ctx, call)
		if err != nil {
			return nil, err
		}
		return &countingSandbox{Sandbox: sb, compiles: compiles}, nil
	}
}

func mathModule() *registry.Module {
	return registry.NewModule("m").
		AddIntIntToInt("add", func(a, b int32) int32 { return a + b }).
		MustBuild()
}

func TestCompileAndExecCallsHost(t *testing.T) {
	e := newEngine(t, jsbridge.WithModules(mathModule()))

	require.NoError(t, e.CompileAndExec(context.Background(), []byte(`console.log(m.add(40, 2))`)))
	require.Equal(t, "42\n", e.Stdout())

	require.NoError(t, e.CompileAndExec(context.Background(), []byte(`console.error("warn"); console.log(m.add(1, 1))`)))
	require.Equal(t, "42\n2\n", e.Stdout())
	require.Equal(t, "warn\n", e.Stderr())
}

func TestStructValues(t *testing.T) {
	type point struct {
		X int `json:"x"`
		Y int `json:"y"`
	}
	pt := codec.Struct[point]()
	geo := registry.NewModule("geo").
		AddFunc("double", []codec.Type{pt}, pt, func(_ context.Context, args []any) (any, error) {
			p := args[0].(point)
			return point{X: p.X * 2, Y: p.Y * 2}, nil
		}).
		MustBuild()
	e := newEngine(t, jsbridge.WithModules(geo))

	require.NoError(t, e.CompileAndExec(context.Background(), []byte(`console.log(JSON.stringify(geo.double({x: 1, y: 3})))`)))
	require.JSONEq(t, `{"x":2,"y":6}`, e.Stdout())
}

func TestHostErrorIsReturnedUnchanged(t *testing.T) {
	boom := errors.New("broker unavailable")
	m := registry.NewModule("m").
		AddFunc("fail", nil, codec.Void, func(context.Context, []any) (any, error) { return nil, boom }).
		MustBuild()
	e := newEngine(t, jsbridge.WithModules(m))

	// Scripts cannot swallow host errors.
	err := e.CompileAndExec(context.Background(), []byte(`try { m.fail() } catch (e) { console.log("caught") }`))
	require.Same(t, boom, err)
}

func TestProtocolErrorSkipsBody(t *testing.T) {
	var calls atomic.Int32
	m := registry.NewModule("m").
		AddIntIntToInt("add", func(a, b int32) int32 { calls.Add(1); return a + b }).
		MustBuild()
	e := newEngine(t, jsbridge.WithModules(m))

	tests := []struct {
		name   string
		script string
	}{
		{"too few arguments", `m.add(1)`},
		{"wrong kind", `m.add("1", 2)`},
		{"unknown function", `java_invoke("m", "sub", "[1,2]")`},
		{"unknown module", `java_invoke("nope", "add", "[1,2]")`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.CompileAndExec(context.Background(), []byte(tt.script))
			var perr *jsbridge.ProtocolError
			require.True(t, errors.As(err, &perr), "got %v", err)
		})
	}
	require.Zero(t, calls.Load())
}

func TestGuestExceptions(t *testing.T) {
	e := newEngine(t)

	err := e.CompileAndExec(context.Background(), []byte(`throw new Error("kaboom")`))
	var gerr *jsbridge.GuestError
	require.True(t, errors.As(err, &gerr))
	require.Contains(t, gerr.Message, "kaboom")
	require.Contains(t, gerr.Error(), "an exception occurred during the execution")

	_, err = e.Compile(context.Background(), []byte(`function (`))
	var cerr *jsbridge.CompileError
	require.True(t, errors.As(err, &cerr))
	require.Contains(t, cerr.Error(), "failed to compile script")

	// The engine stays usable after script failures.
	require.NoError(t, e.CompileAndExec(context.Background(), []byte(`console.log("ok")`)))
}

func TestTimeoutPoisonsEngine(t *testing.T) {
	e := newEngine(t,
		jsbridge.WithTimeout(500*time.Millisecond),
		jsbridge.WithCloseGrace(time.Second),
	)
	bc, err := e.Compile(context.Background(), []byte(`while (true) {}`))
	require.NoError(t, err)

	start := time.Now()
	err = e.Exec(context.Background(), bc)
	require.Less(t, time.Since(start), 2*time.Second)

	var terr *jsbridge.TimeoutError
	require.True(t, errors.As(err, &terr), "got %v", err)
	require.Equal(t, 500*time.Millisecond, terr.Timeout)
	require.True(t, e.Poisoned())

	err = e.CompileAndExec(context.Background(), []byte(`console.log("late")`))
	require.ErrorIs(t, err, jsbridge.ErrPoisoned)

	// Cached bytecode is not handed out either.
	_, err = e.Compile(context.Background(), []byte(`while (true) {}`))
	require.ErrorIs(t, err, jsbridge.ErrPoisoned)

	require.NoError(t, e.Close(context.Background()))
}

func TestCacheHitSkipsSandbox(t *testing.T) {
	var compiles atomic.Int32
	shared, err := cache.NewMemory()
	require.NoError(t, err)
	e := newEngineWith(t, countingFactory(&compiles), jsbridge.WithCache(shared))

	src := []byte(`console.log("cached")`)
	first, err := e.Compile(context.Background(), src)
	require.NoError(t, err)
	second, err := e.Compile(context.Background(), src)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, int32(1), compiles.Load())
	require.Equal(t, 1, shared.Len())

	// The cache is shared, not owned.
	require.NoError(t, e.Close(context.Background()))
	require.Equal(t, 1, shared.Len())
}

func TestHandleIdentity(t *testing.T) {
	type conn struct{ name string }
	broker := &conn{name: "broker-0"}
	var seen any
	res := registry.NewModule("res").
		AddFunc("open", nil, codec.Handle, func(context.Context, []any) (any, error) {
			return broker, nil
		}).
		AddFunc("use", []codec.Type{codec.Handle}, codec.Void, func(_ context.Context, args []any) (any, error) {
			seen = args[0]
			return nil, nil
		}).
		MustBuild()
	e := newEngine(t, jsbridge.WithModules(res))

	require.NoError(t, e.CompileAndExec(context.Background(), []byte(`const h = res.open(); console.log(typeof h); res.use(h)`)))
	require.Equal(t, "number\n", e.Stdout())
	require.Same(t, broker, seen)
	require.Equal(t, 1, e.Handles().Len())
}

func TestReentrantCallIsRejected(t *testing.T) {
	var e *jsbridge.Engine
	m := registry.NewModule("m").
		AddFunc("nested", nil, codec.Void, func(ctx context.Context, _ []any) (any, error) {
			return nil, e.CompileAndExec(ctx, []byte(`1`))
		}).
		MustBuild()
	e = newEngine(t, jsbridge.WithModules(m))

	err := e.CompileAndExec(context.Background(), []byte(`m.nested()`))
	var perr *jsbridge.ProtocolError
	require.True(t, errors.As(err, &perr), "got %v", err)
	require.ErrorIs(t, err, jsbridge.ErrReentrant)
}

func TestClose(t *testing.T) {
	e := newEngine(t)
	_, err := e.Compile(context.Background(), []byte(`1`))
	require.NoError(t, err)

	require.NoError(t, e.Close(context.Background()))
	require.NoError(t, e.Close(context.Background()))
	require.ErrorIs(t, e.CompileAndExec(context.Background(), []byte(`1`)), jsbridge.ErrClosed)

	_, err = e.Compile(context.Background(), []byte(`1`))
	require.ErrorIs(t, err, jsbridge.ErrClosed)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := newEngine(t,
		jsbridge.WithModules(mathModule()),
		jsbridge.WithRegisterer(reg),
		jsbridge.WithMetricsNamespace("test"),
		jsbridge.WithConstLabels(map[string]string{"engine": "a"}),
	)

	for range 2 {
		require.NoError(t, e.CompileAndExec(context.Background(), []byte(`m.add(1, 2)`)))
	}

	n, err := testutil.GatherAndCount(reg, "test_bytecode_cache_hits_total", "test_bytecode_cache_misses_total", "test_host_calls_total")
	require.NoError(t, err)
	require.Equal(t, 3, n)

	expected := `
# HELP test_bytecode_cache_hits_total Number of compilations served from the bytecode cache
# TYPE test_bytecode_cache_hits_total counter
test_bytecode_cache_hits_total{engine="a"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "test_bytecode_cache_hits_total"))
}

func TestPrelude(t *testing.T) {
	calc := registry.NewInvokables("calc").
		Add(registry.NewGuestFunction("double", []codec.Type{codec.Int}, codec.Int)).
		MustBuild()
	e := newEngine(t, jsbridge.WithModules(mathModule()), jsbridge.WithInvokables(calc))

	golden := goldenfile.NewTxTar(t, "testdata/prelude.txtar")
	golden.AssertGolden(t, goldenfile.Text, "prelude.js", e.Prelude())
}
