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

// Package wasm hosts a Javy style JavaScript plugin module on wazero.
//
// The plugin is a WASI reactor embedding a JavaScript engine. It must export
//
//	initialize_runtime()
//	canonical_abi_realloc(orig_ptr, orig_size, align, new_size) -> ptr
//	canonical_abi_free(ptr, size, align)
//	compile_src(src_ptr, src_len) -> wide_ptr
//	invoke(bytecode_ptr, bytecode_len, fn_name_ptr, fn_name_len)
//	memory
//
// and import the host call primitive, by default as "chicory" "invoke", which
// it exposes to scripts as the global java_invoke(module, function, args).
//
// Compiling the plugin is expensive, so it is done once by [NewInterpreter].
// The resulting [Interpreter] then produces any number of isolated sandboxes
// through [Interpreter.Factory].
package wasm

import (
	"bytes"
	"context"
	"slices"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/redpanda-data/common-go/jsbridge/sandbox"
)

const pageSize = 65536

type instanceKeyType int

const instanceKey instanceKeyType = 0

// Interpreter holds a compiled plugin module ready to be instantiated.
//
// Always call Close when done to release the compiled modules.
type Interpreter struct {
	wasip1Mod wazero.CompiledModule
	hostMod   wazero.CompiledModule
	mod       wazero.CompiledModule
	cache     wazero.CompilationCache
	cfg       wazero.RuntimeConfig
}

type interpreterCfg struct {
	hostModule string
}

// InterpreterOpt configures [NewInterpreter].
type InterpreterOpt func(*interpreterCfg)

// WithHostModule sets the import namespace the plugin expects the host call
// primitive in.
//
// Default: "chicory"
func WithHostModule(name string) InterpreterOpt {
	return func(c *interpreterCfg) { c.hostModule = name }
}

// NewInterpreter compiles a plugin binary and validates that it implements the
// plugin ABI.
func NewInterpreter(ctx context.Context, wasmBinary []byte, opts ...InterpreterOpt) (*Interpreter, error) {
	iCfg := &interpreterCfg{hostModule: sandbox.DefaultHostModule}
	for _, opt := range opts {
		opt(iCfg)
	}

	cache := wazero.NewCompilationCache()
	rtCfg := wazero.NewRuntimeConfig().
		WithCompilationCache(cache).
		WithCloseOnContextDone(true).
		WithCoreFeatures(api.CoreFeaturesV2)
	rt := wazero.NewRuntimeWithConfig(ctx, rtCfg)
	defer rt.Close(ctx)

	wasip1Mod, err := wasi_snapshot_preview1.NewBuilder(rt).Compile(ctx)
	if err != nil {
		return nil, errors.Join(err, cache.Close(ctx))
	}
	i32 := api.ValueTypeI32
	hostMod, err := rt.NewHostModuleBuilder(iCfg.hostModule).
		NewFunctionBuilder().
		WithGoModuleFunction(
			api.GoModuleFunc(hostCall),
			[]api.ValueType{i32, i32, i32, i32, i32, i32},
			[]api.ValueType{i32},
		).
		Export(sandbox.HostCallFunction).
		Compile(ctx)
	if err != nil {
		return nil, errors.Join(err, wasip1Mod.Close(ctx), cache.Close(ctx))
	}
	mod, err := rt.CompileModule(ctx, wasmBinary)
	if err != nil {
		return nil, errors.Join(err, hostMod.Close(ctx), wasip1Mod.Close(ctx), cache.Close(ctx))
	}
	if err := validateABI(mod, iCfg.hostModule); err != nil {
		return nil, errors.Join(err, mod.Close(ctx), hostMod.Close(ctx), wasip1Mod.Close(ctx), cache.Close(ctx))
	}

	return &Interpreter{
		wasip1Mod: wasip1Mod,
		hostMod:   hostMod,
		mod:       mod,
		cache:     cache,
		cfg:       rtCfg,
	}, nil
}

// Close releases the compiled modules and the compilation cache.
func (p *Interpreter) Close(ctx context.Context) error {
	return errors.Join(
		p.cache.Close(ctx),
		p.mod.Close(ctx),
		p.hostMod.Close(ctx),
		p.wasip1Mod.Close(ctx),
	)
}

type sandboxCfg struct {
	memoryPages uint32
	useRealtime bool
}

// SandboxOpt configures sandboxes created by [Interpreter.Factory].
type SandboxOpt func(*sandboxCfg)

// WithMaxMemory sets the maximum memory a sandbox can use, in bytes, rounded
// down to the nearest 64KiB page.
//
// Default: 4GiB
func WithMaxMemory(maxBytes uint32) SandboxOpt {
	pages := maxBytes / pageSize
	return func(c *sandboxCfg) { c.memoryPages = min(c.memoryPages, pages) }
}

// WithRealtime exposes the host wall and monotonic clocks to the guest. By
// default the guest sees a deterministic clock.
func WithRealtime() SandboxOpt {
	return func(c *sandboxCfg) { c.useRealtime = true }
}

// Factory returns a [sandbox.Factory] instantiating this interpreter.
func (p *Interpreter) Factory(opts ...SandboxOpt) sandbox.Factory {
	sCfg := &sandboxCfg{memoryPages: 65536}
	for _, opt := range opts {
		opt(sCfg)
	}
	return func(ctx context.Context, call sandbox.HostCall) (sandbox.Sandbox, error) {
		return p.newInstance(ctx, call, sCfg)
	}
}

func (p *Interpreter) newInstance(ctx context.Context, call sandbox.HostCall, sCfg *sandboxCfg) (*instance, error) {
	inst := &instance{call: call}

	rt := wazero.NewRuntimeWithConfig(ctx, p.cfg.WithMemoryLimitPages(sCfg.memoryPages))
	mCfg := wazero.NewModuleConfig().
		WithStdout(&inst.stdout).
		WithStderr(&inst.stderr).
		WithStartFunctions("_initialize")
	if sCfg.useRealtime {
		mCfg = mCfg.WithSysWalltime().WithSysNanotime().WithSysNanosleep()
	}

	if _, err := rt.InstantiateModule(ctx, p.hostMod, mCfg); err != nil {
		return nil, errors.Join(err, rt.Close(ctx))
	}
	if _, err := rt.InstantiateModule(ctx, p.wasip1Mod, mCfg); err != nil {
		return nil, errors.Join(err, rt.Close(ctx))
	}
	mod, err := rt.InstantiateModule(ctx, p.mod, mCfg)
	if err != nil {
		return nil, errors.Join(err, rt.Close(ctx))
	}
	inst.rt = rt
	inst.mod = mod
	inst.realloc = mod.ExportedFunction("canonical_abi_realloc")
	inst.free = mod.ExportedFunction("canonical_abi_free")
	inst.compile = mod.ExportedFunction("compile_src")
	inst.invoke = mod.ExportedFunction("invoke")

	if _, err := mod.ExportedFunction("initialize_runtime").Call(ctx); err != nil {
		return nil, errors.Join(inst.trap("initialize", err), rt.Close(ctx))
	}
	return inst, nil
}

// instance is one instantiated plugin.
type instance struct {
	rt   wazero.Runtime
	mod  api.Module
	call sandbox.HostCall

	realloc api.Function
	free    api.Function
	compile api.Function
	invoke  api.Function

	stdout sandbox.Capture
	stderr sandbox.Capture

	mu      sync.Mutex
	hostErr error
}

var _ sandbox.Sandbox = (*instance)(nil)

// hostCall serves the host call primitive. The active instance travels in the
// context of the export call that led here.
func hostCall(ctx context.Context, _ api.Module, stack []uint64) {
	inst, ok := ctx.Value(instanceKey).(*instance)
	if !ok {
		panic(errors.New("host call outside of a sandbox call"))
	}
	wide, err := sandbox.ServeHostCall(ctx, inst, inst.call,
		api.DecodeU32(stack[0]), api.DecodeU32(stack[1]),
		api.DecodeU32(stack[2]), api.DecodeU32(stack[3]),
		api.DecodeU32(stack[4]), api.DecodeU32(stack[5]),
	)
	if err != nil {
		inst.mu.Lock()
		inst.hostErr = err
		inst.mu.Unlock()
		// wazero recovers the panic and unwinds the guest.
		panic(err)
	}
	stack[0] = api.EncodeU32(wide)
}

func (i *instance) Allocate(ctx context.Context, size uint32) (uint32, error) {
	res, err := i.realloc.Call(ctx, 0, 0, sandbox.Alignment, api.EncodeU32(size))
	if err != nil {
		return 0, err
	}
	ptr := api.DecodeU32(res[0])
	if ptr == 0 && size > 0 {
		return 0, errors.New("out of memory error")
	}
	return ptr, nil
}

func (i *instance) Write(ptr uint32, data []byte) error {
	if !i.mod.Memory().Write(ptr, data) {
		return errors.Newf("write of %d bytes at %d is out of range", len(data), ptr)
	}
	return nil
}

func (i *instance) Read(ptr, size uint32) ([]byte, error) {
	data, ok := i.mod.Memory().Read(ptr, size)
	if !ok {
		return nil, errors.Newf("read of %d bytes at %d is out of range", size, ptr)
	}
	return bytes.Clone(data), nil
}

func (i *instance) Free(ctx context.Context, ptr, size uint32) error {
	_, err := i.free.Call(ctx, api.EncodeU32(ptr), api.EncodeU32(size), sandbox.Alignment)
	return err
}

func (i *instance) CompileSource(ctx context.Context, ptr, size uint32) (uint32, error) {
	i.resetHostErr()
	res, err := i.compile.Call(context.WithValue(ctx, instanceKey, i), api.EncodeU32(ptr), api.EncodeU32(size))
	if err != nil {
		return 0, i.fail(ctx, "compile", err)
	}
	return api.DecodeU32(res[0]), nil
}

func (i *instance) Execute(ctx context.Context, ptr, size uint32) error {
	i.resetHostErr()
	if _, err := i.invoke.Call(context.WithValue(ctx, instanceKey, i), api.EncodeU32(ptr), api.EncodeU32(size), 0, 0); err != nil {
		return i.fail(ctx, "execute", err)
	}
	return nil
}

func (i *instance) Stdout() []byte { return i.stdout.Bytes() }

func (i *instance) Stderr() []byte { return i.stderr.Bytes() }

func (i *instance) Close(ctx context.Context) error {
	return i.rt.Close(ctx)
}

func (i *instance) resetHostErr() {
	i.mu.Lock()
	i.hostErr = nil
	i.mu.Unlock()
}

// fail maps an error returned by an export call. A failing host call wins
// over the trap it caused, and a trap caused by the context being done
// reports the context error.
func (i *instance) fail(ctx context.Context, op string, err error) error {
	i.mu.Lock()
	hostErr := i.hostErr
	i.mu.Unlock()
	if hostErr != nil {
		return hostErr
	}
	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) && ctx.Err() != nil {
		return errors.Wrapf(ctx.Err(), "sandbox %s aborted", op)
	}
	return i.trap(op, err)
}

func (i *instance) trap(op string, err error) *sandbox.TrapError {
	return &sandbox.TrapError{
		Op:      op,
		Message: string(bytes.TrimSpace(i.stderr.Bytes())),
		Stdout:  i.stdout.Bytes(),
		Stderr:  i.stderr.Bytes(),
		Err:     err,
	}
}

// validateABI checks that the plugin exports every function the bridge needs
// with the right signature and imports the host call primitive from
// hostModule.
func validateABI(mod wazero.CompiledModule, hostModule string) error {
	type funcSig struct {
		params  []api.ValueType
		results []api.ValueType
	}

	i32 := api.ValueTypeI32
	required := map[string]funcSig{
		"initialize_runtime": {
			params:  []api.ValueType{},
			results: []api.ValueType{},
		},
		"canonical_abi_realloc": {
			params:  []api.ValueType{i32, i32, i32, i32}, // (orig_ptr, orig_size, align, new_size)
			results: []api.ValueType{i32},
		},
		"canonical_abi_free": {
			params:  []api.ValueType{i32, i32, i32}, // (ptr, size, align)
			results: []api.ValueType{},
		},
		"compile_src": {
			params:  []api.ValueType{i32, i32}, // (src_ptr, src_len)
			results: []api.ValueType{i32},      // wide pointer
		},
		"invoke": {
			params:  []api.ValueType{i32, i32, i32, i32}, // (bytecode_ptr, bytecode_len, fn_name_ptr, fn_name_len)
			results: []api.ValueType{},
		},
	}

	exported := mod.ExportedFunctions()
	for name, expectedSig := range required {
		def := exported[name]
		if def == nil {
			return errors.New("ABI validation failed: missing required function: " + name)
		}
		if !slices.Equal(def.ParamTypes(), expectedSig.params) {
			return errors.New("ABI validation failed: function " + name + " has incorrect parameter types")
		}
		if !slices.Equal(def.ResultTypes(), expectedSig.results) {
			return errors.New("ABI validation failed: function " + name + " has incorrect result types")
		}
	}

	if mod.ExportedMemories()["memory"] == nil {
		return errors.New("ABI validation failed: missing exported memory")
	}

	for _, def := range mod.ImportedFunctions() {
		moduleName, name, _ := def.Import()
		if moduleName == hostModule && name == sandbox.HostCallFunction {
			return nil
		}
	}
	return errors.New("ABI validation failed: missing import " + hostModule + "." + sandbox.HostCallFunction)
}
