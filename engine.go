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

// Package jsbridge lets Go code run JavaScript in an isolated sandbox and
// exchange calls with it in both directions.
//
// Host functions are grouped in modules and exposed to scripts as
// globalThis.<module>.<function>. Guest functions, implemented by scripts,
// are called from Go with [Engine.InvokeGuestFunction] or through a portable
// precompiled unit. Values cross the boundary as JSON, except opaque host
// objects which travel as indices into the engine's handle table.
//
// An Engine owns one sandbox and a worker goroutine through which every
// sandbox call is serialized. Compiled bytecode is cached by source digest.
//
//	m := registry.NewModule("m").
//		AddIntIntToInt("add", func(a, b int32) int32 { return a + b }).
//		MustBuild()
//	engine, err := jsbridge.New(ctx, gojs.Factory(), jsbridge.WithModules(m))
//	if err != nil {
//		return err
//	}
//	defer engine.Close(ctx)
//
//	err = engine.CompileAndExec(ctx, []byte(`console.log(m.add(40, 2))`))
package jsbridge

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"

	"github.com/redpanda-data/common-go/jsbridge/cache"
	"github.com/redpanda-data/common-go/jsbridge/codec"
	"github.com/redpanda-data/common-go/jsbridge/handle"
	"github.com/redpanda-data/common-go/jsbridge/internal/log"
	"github.com/redpanda-data/common-go/jsbridge/internal/metrics"
	"github.com/redpanda-data/common-go/jsbridge/internal/worker"
	"github.com/redpanda-data/common-go/jsbridge/registry"
	"github.com/redpanda-data/common-go/jsbridge/sandbox"
)

const defaultCloseGrace = 5 * time.Second

// Engine runs scripts in one sandbox. It is safe to call from multiple
// goroutines but calls are executed one at a time.
type Engine struct {
	log        logr.Logger
	handles    *handle.Table
	codec      *codec.Codec
	registry   *registry.Registry
	sb         sandbox.Sandbox
	cache      cache.Cache
	ownsCache  bool
	worker     *worker.Worker
	metrics    *metrics.Metrics
	timeout    time.Duration
	closeGrace time.Duration

	prelude []byte
	suffix  []byte

	// Target of the running portable invocation, read by the accessor module.
	invMu       sync.Mutex
	invModule   string
	invFunction string
	invArgs     string
	guestSem    chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// New creates an engine on a sandbox built by factory.
func New(ctx context.Context, factory sandbox.Factory, opts ...Option) (*Engine, error) {
	cfg := &engineCfg{
		closeGrace: defaultCloseGrace,
		logger:     logr.Discard(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	e := &Engine{
		guestSem:   make(chan struct{}, 1),
		log:        cfg.logger.WithName("jsbridge"),
		handles:    handle.NewTable(),
		timeout:    cfg.timeout,
		closeGrace: cfg.closeGrace,
	}
	e.codec = codec.New(e.handles)

	accessor, err := registry.NewModule(accessorModule).
		AddVoidToString("module_name", e.invocationModule).
		AddVoidToString("function_name", e.invocationFunction).
		AddVoidToString("args", e.invocationArgs).
		Build()
	if err != nil {
		return nil, err
	}
	modules := append([]*registry.Module{accessor}, cfg.modules...)
	if e.registry, err = registry.New(e.codec, modules, cfg.invokables); err != nil {
		return nil, err
	}
	e.prelude = buildPrelude(e.registry)
	e.suffix = buildSuffix(e.registry)

	if e.metrics, err = metrics.New(
		metrics.WithRegistry(cfg.registerer),
		metrics.WithMetricsNamespace(cfg.metricsNamespace),
		metrics.WithConstLabels(cfg.constLabels),
	); err != nil {
		return nil, err
	}

	e.cache = cfg.cache
	if e.cache == nil {
		mem, err := cache.NewMemory()
		if err != nil {
			return nil, err
		}
		e.cache, e.ownsCache = mem, true
	}

	if e.sb, err = factory(ctx, e.hostCall); err != nil {
		return nil, errors.Wrap(err, "create sandbox")
	}
	e.worker = worker.New()
	return e, nil
}

func (e *Engine) invocationModule() string {
	e.invMu.Lock()
	defer e.invMu.Unlock()
	return e.invModule
}

func (e *Engine) invocationFunction() string {
	e.invMu.Lock()
	defer e.invMu.Unlock()
	return e.invFunction
}

func (e *Engine) invocationArgs() string {
	e.invMu.Lock()
	defer e.invMu.Unlock()
	return e.invArgs
}

func (e *Engine) setInvocation(module, function, args string) {
	e.invMu.Lock()
	defer e.invMu.Unlock()
	e.invModule, e.invFunction, e.invArgs = module, function, args
}

// hostCall serves calls from the sandbox.
func (e *Engine) hostCall(ctx context.Context, module, function string, args []byte) ([]byte, error) {
	out, err := e.registry.Invoke(ctx, module, function, args)
	switch {
	case err == nil:
		e.metrics.HostCall(module, function, "ok")
	case errors.HasType(err, (*ProtocolError)(nil)):
		// Targets are chosen by the guest and may not exist.
		e.metrics.HostCall("unknown", "unknown", "protocol_error")
		log.Debug(ctx, "rejected host call", "module", module, "function", function, "error", err)
	default:
		e.metrics.HostCall(module, function, "error")
	}
	return out, err
}

// do runs fn on the worker, handing it a context carrying the engine logger.
func (e *Engine) do(ctx context.Context, timeout time.Duration, fn worker.Job) error {
	err := e.worker.Do(log.IntoContext(ctx, e.log), timeout, fn)
	if errors.Is(err, worker.ErrReentrant) {
		return &ProtocolError{Reason: "reentrant call from a running script", Err: err}
	}
	return err
}

// Compile compiles src with the host function prelude prepended.
func (e *Engine) Compile(ctx context.Context, src []byte) ([]byte, error) {
	full := make([]byte, 0, len(e.prelude)+len(src))
	full = append(full, e.prelude...)
	full = append(full, src...)
	return e.CompileRaw(ctx, full)
}

// CompileRaw compiles src as is. Bytecode for identical source is served
// from the cache without entering the sandbox.
func (e *Engine) CompileRaw(ctx context.Context, src []byte) ([]byte, error) {
	if err := e.worker.Err(); err != nil {
		return nil, err
	}
	if bc, ok := e.cache.Get(src); ok {
		e.metrics.CacheHit()
		e.log.V(1).Info("bytecode cache hit", "key", cache.Key(src))
		return bc, nil
	}
	e.metrics.CacheMiss()

	var bc []byte
	start := time.Now()
	err := e.do(ctx, 0, func(ctx context.Context) error {
		ptr, err := sandbox.WriteBuffer(ctx, e.sb, src)
		if err != nil {
			return err
		}
		wide, err := e.sb.CompileSource(ctx, ptr, uint32(len(src)))
		if ferr := e.sb.Free(ctx, ptr, uint32(len(src))); err == nil && ferr != nil {
			return ferr
		}
		if err != nil {
			return err
		}
		bc, err = sandbox.ReadWideBuffer(e.sb, wide)
		return errors.CombineErrors(err, sandbox.FreeWide(ctx, e.sb, wide))
	})
	e.metrics.ObserveCompile(time.Since(start))
	if err != nil {
		var trap *sandbox.TrapError
		if errors.As(err, &trap) {
			return nil, &CompileError{
				Source: string(src),
				Stdout: trap.Stdout,
				Stderr: trap.Stderr,
				Err:    trap,
			}
		}
		return nil, err
	}

	e.log.V(1).Info("compiled", "key", cache.Key(src), "bytes", len(bc), "duration", time.Since(start))
	e.cache.Set(src, bc)
	return bc, nil
}

// Exec runs bytecode. It is bounded by the engine timeout.
//
// An error returned by a host function during the execution is returned
// unchanged. An uncaught exception is a [*GuestError].
func (e *Engine) Exec(ctx context.Context, bytecode []byte) error {
	start := time.Now()
	err := e.do(ctx, e.timeout, func(ctx context.Context) error {
		ptr, err := sandbox.WriteBuffer(ctx, e.sb, bytecode)
		if err != nil {
			return err
		}
		err = e.sb.Execute(ctx, ptr, uint32(len(bytecode)))
		if ferr := e.sb.Free(ctx, ptr, uint32(len(bytecode))); err == nil {
			err = ferr
		}
		return err
	})

	status := "ok"
	var (
		trap *sandbox.TrapError
		terr *TimeoutError
	)
	switch {
	case err == nil:
	case errors.As(err, &terr):
		status = "timeout"
		e.metrics.Timeout()
		e.log.Error(err, "execution timed out, engine is poisoned")
	case errors.As(err, &trap):
		status = "guest_error"
		err = &GuestError{
			Message: trap.Message,
			Stdout:  trap.Stdout,
			Stderr:  trap.Stderr,
			Err:     trap,
		}
	default:
		status = "error"
	}
	e.metrics.ObserveExec(time.Since(start), status)
	e.log.V(1).Info("executed", "bytes", len(bytecode), "duration", time.Since(start), "status", status)
	return err
}

// CompileAndExec compiles src with the prelude and runs it.
func (e *Engine) CompileAndExec(ctx context.Context, src []byte) error {
	bc, err := e.Compile(ctx, src)
	if err != nil {
		return err
	}
	return e.Exec(ctx, bc)
}

// Prelude returns the source prepended by Compile.
func (e *Engine) Prelude() []byte {
	return append([]byte(nil), e.prelude...)
}

// Stdout returns everything scripts wrote to standard output so far.
func (e *Engine) Stdout() string { return string(e.sb.Stdout()) }

// Stderr returns everything scripts wrote to standard error so far.
func (e *Engine) Stderr() string { return string(e.sb.Stderr()) }

// Handles returns the table opaque host values are stored in.
func (e *Engine) Handles() *handle.Table { return e.handles }

// Registry returns the modules known to the engine.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Poisoned reports whether an execution has been abandoned. A poisoned
// engine only accepts Close.
func (e *Engine) Poisoned() bool { return e.worker.Poisoned() }

// Close stops the worker, waiting for a running execution up to the close
// grace period, and releases the sandbox. A cache owned by the engine is
// cleared.
func (e *Engine) Close(ctx context.Context) error {
	e.closeOnce.Do(func() {
		var errs []error
		if err := e.worker.Close(e.closeGrace); err != nil {
			errs = append(errs, err)
		}
		if err := e.sb.Close(ctx); err != nil {
			errs = append(errs, errors.Wrap(err, "close sandbox"))
		}
		if e.ownsCache {
			e.cache.Clear()
		}
		e.closeErr = errors.Join(errs...)
		if e.closeErr != nil {
			e.log.Error(e.closeErr, "closing engine")
		}
	})
	return e.closeErr
}
