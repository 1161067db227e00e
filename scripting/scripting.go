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

// Package scripting evaluates JavaScript snippets against named bindings and
// returns their completion value as plain Go values.
package scripting

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/redpanda-data/common-go/jsbridge"
	"github.com/redpanda-data/common-go/jsbridge/codec"
	"github.com/redpanda-data/common-go/jsbridge/registry"
	"github.com/redpanda-data/common-go/jsbridge/sandbox"
)

const (
	module   = "bridge_scripting"
	function = "eval"
	global   = "bridgeEval"
)

const library = `function bridgeEval(bindings, script) {
	for (const [k, v] of Object.entries(bindings)) globalThis[k] = v;
	return (0, eval)(script);
}`

// ErrNoSuchFunction is returned by InvokeFunction when the global is not a
// function.
var ErrNoSuchFunction = errors.New("no such function")

var identifier = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// Engine evaluates scripts in one sandbox. Globals defined by a script stay
// visible to the following ones.
type Engine struct {
	engine   *jsbridge.Engine
	bytecode []byte

	mu           sync.Mutex
	stdout       string
	stderr       string
	stdoutOffset int
	stderrOffset int
}

// New creates a scripting engine. opts are passed to [jsbridge.New] and may
// add host modules the scripts can call.
func New(ctx context.Context, factory sandbox.Factory, opts ...jsbridge.Option) (*Engine, error) {
	eval := registry.NewInvokables(module).
		Add(registry.NewGuestFunctionWithGlobal(function, global, []codec.Type{codec.Any, codec.String}, codec.Any))
	inv, err := eval.Build()
	if err != nil {
		return nil, err
	}

	e, err := jsbridge.New(ctx, factory, append(opts, jsbridge.WithInvokables(inv))...)
	if err != nil {
		return nil, err
	}
	bc, err := e.CompilePortableGuestFunction(ctx, library)
	if err != nil {
		return nil, errors.CombineErrors(err, e.Close(ctx))
	}
	return &Engine{engine: e, bytecode: bc}, nil
}

// Eval runs script with every binding set as a global and returns the
// completion value. A promise is awaited.
func (e *Engine) Eval(ctx context.Context, script string, bindings map[string]any) (any, error) {
	return e.eval(ctx, e.bytecode, script, bindings)
}

func (e *Engine) eval(ctx context.Context, bytecode []byte, script string, bindings map[string]any) (any, error) {
	if bindings == nil {
		bindings = map[string]any{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.captureOutput()

	return e.engine.InvokePrecompiledGuestFunction(ctx, module, function, bytecode, bindings, script)
}

// captureOutput records what the last evaluation wrote.
func (e *Engine) captureOutput() {
	out, errOut := e.engine.Stdout(), e.engine.Stderr()
	e.stdout, e.stderr = out[e.stdoutOffset:], errOut[e.stderrOffset:]
	e.stdoutOffset, e.stderrOffset = len(out), len(errOut)
}

// InvokeFunction calls the global function name with args.
func (e *Engine) InvokeFunction(ctx context.Context, name string, args ...any) (any, error) {
	if !identifier.MatchString(name) {
		return nil, errors.Wrapf(ErrNoSuchFunction, "invalid function name %q", name)
	}
	kind, err := e.Eval(ctx, "typeof globalThis."+name, nil)
	if err != nil {
		return nil, err
	}
	if kind != "function" {
		return nil, errors.Wrapf(ErrNoSuchFunction, "%s is %v", name, kind)
	}

	if args == nil {
		args = []any{}
	}
	script := "(() => { try { return " + name + "(...globalThis.__bridge_args) } finally { delete globalThis.__bridge_args } })()"
	return e.Eval(ctx, script, map[string]any{"__bridge_args": args})
}

// CompiledScript is a script compiled once and evaluated many times.
type CompiledScript struct {
	engine   *Engine
	bytecode []byte
}

// Compile checks script for syntax errors and compiles an evaluation unit
// embedding it.
func (e *Engine) Compile(ctx context.Context, script string) (*CompiledScript, error) {
	if _, err := e.engine.CompileRaw(ctx, []byte(script)); err != nil {
		return nil, err
	}
	quoted, err := json.Marshal(script)
	if err != nil {
		return nil, errors.Wrap(err, "quote script")
	}
	lib := strings.Replace(library, "(0, eval)(script)", "(0, eval)("+string(quoted)+")", 1)
	bc, err := e.engine.CompilePortableGuestFunction(ctx, lib)
	if err != nil {
		return nil, err
	}
	return &CompiledScript{engine: e, bytecode: bc}, nil
}

// Eval runs the compiled script with bindings.
func (s *CompiledScript) Eval(ctx context.Context, bindings map[string]any) (any, error) {
	return s.engine.eval(ctx, s.bytecode, "", bindings)
}

// Stdout returns what the last evaluation wrote to standard output.
func (e *Engine) Stdout() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stdout
}

// Stderr returns what the last evaluation wrote to standard error.
func (e *Engine) Stderr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stderr
}

// Close releases the engine.
func (e *Engine) Close(ctx context.Context) error {
	return e.engine.Close(ctx)
}
