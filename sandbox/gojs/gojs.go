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

// Package gojs is an in-process sandbox backend built on goja.
//
// It follows the same memory contract as the WebAssembly plugin: buffers live
// in an emulated linear memory, compilation returns a wide pointer to a
// bytecode buffer and scripts reach the host through the java_invoke global,
// whose arguments and result travel through that memory. Bytecode is an
// envelope around the validated source; parsed programs are kept in a bounded
// LRU so executing the same bytecode twice does not parse it twice.
package gojs

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/dop251/goja"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/redpanda-data/common-go/jsbridge/cache"
	"github.com/redpanda-data/common-go/jsbridge/sandbox"
)

const (
	magic   = "GOJS"
	version = byte(1)
	header  = len(magic) + 1
)

// ErrClosed is returned by operations on a closed sandbox.
var ErrClosed = errors.New("sandbox is closed")

type config struct {
	maxMemory     uint32
	programCache  int
	maxStackDepth int
}

// Opt configures a sandbox.
type Opt func(*config)

// WithMaxMemory limits the emulated linear memory, in bytes.
//
// Default: 64MiB
func WithMaxMemory(maxBytes uint32) Opt {
	return func(c *config) { c.maxMemory = maxBytes }
}

// WithProgramCacheSize sets how many parsed programs are kept.
//
// Default: 64
func WithProgramCacheSize(n int) Opt {
	return func(c *config) { c.programCache = n }
}

// WithMaxCallStackSize limits the depth of the guest call stack.
func WithMaxCallStackSize(n int) Opt {
	return func(c *config) { c.maxStackDepth = n }
}

// Factory returns a [sandbox.Factory] creating goja sandboxes.
func Factory(opts ...Opt) sandbox.Factory {
	return func(ctx context.Context, call sandbox.HostCall) (sandbox.Sandbox, error) {
		return New(ctx, call, opts...)
	}
}

// Sandbox is a goja runtime behind the sandbox memory contract.
type Sandbox struct {
	vm       *goja.Runtime
	call     sandbox.HostCall
	mem      *arena
	programs *lru.Cache[string, *goja.Program]

	stdout sandbox.Capture
	stderr sandbox.Capture

	// ctx is the context of the running Execute, handed to host calls.
	ctx    context.Context
	closed atomic.Bool

	mu         sync.Mutex
	hostErr    error
	rejections map[*goja.Promise]struct{}
}

var _ sandbox.Sandbox = (*Sandbox)(nil)

// New creates a sandbox whose java_invoke global is served by call.
func New(_ context.Context, call sandbox.HostCall, opts ...Opt) (*Sandbox, error) {
	cfg := &config{
		maxMemory:    64 << 20,
		programCache: 64,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	programs, err := lru.New[string, *goja.Program](cfg.programCache)
	if err != nil {
		return nil, errors.Wrap(err, "create program cache")
	}

	s := &Sandbox{
		vm:         goja.New(),
		call:       call,
		mem:        newArena(cfg.maxMemory),
		programs:   programs,
		ctx:        context.Background(),
		rejections: map[*goja.Promise]struct{}{},
	}
	if cfg.maxStackDepth > 0 {
		s.vm.SetMaxCallStackSize(cfg.maxStackDepth)
	}
	s.vm.SetPromiseRejectionTracker(s.trackRejection)
	if err := s.setupGlobals(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sandbox) setupGlobals() error {
	console := s.vm.NewObject()
	for name, w := range map[string]*sandbox.Capture{
		"log":   &s.stdout,
		"info":  &s.stdout,
		"debug": &s.stdout,
		"warn":  &s.stderr,
		"error": &s.stderr,
	} {
		if err := console.Set(name, s.consoleFunc(w)); err != nil {
			return errors.Wrapf(err, "bind console.%s", name)
		}
	}
	if err := s.vm.Set("console", console); err != nil {
		return errors.Wrap(err, "bind console")
	}
	if err := s.vm.Set(sandbox.HostCallGlobal, s.invokeHost); err != nil {
		return errors.Wrapf(err, "bind %s", sandbox.HostCallGlobal)
	}
	return nil
}

func (s *Sandbox) consoleFunc(w *sandbox.Capture) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		var sb strings.Builder
		for i, arg := range call.Arguments {
			if i > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(arg.String())
		}
		sb.WriteByte('\n')
		_, _ = w.Write([]byte(sb.String()))
		return goja.Undefined()
	}
}

// invokeHost implements java_invoke. The three strings are copied into the
// arena and served exactly as the plugin import would serve them.
func (s *Sandbox) invokeHost(call goja.FunctionCall) goja.Value {
	res, err := s.roundTrip(
		call.Argument(0).String(),
		call.Argument(1).String(),
		call.Argument(2).String(),
	)
	if err != nil {
		s.abort(err)
		panic(s.vm.NewGoError(err))
	}
	return s.vm.ToValue(string(res))
}

func (s *Sandbox) roundTrip(module, function, args string) (res []byte, err error) {
	ctx := s.ctx
	var ptrs [3]uint32
	for i, str := range []string{module, function, args} {
		ptrs[i], err = sandbox.WriteBuffer(ctx, s, []byte(str))
		if err != nil {
			return nil, err
		}
		defer func() {
			err = errors.CombineErrors(err, s.Free(ctx, ptrs[i], uint32(len(str))))
		}()
	}

	wide, err := sandbox.ServeHostCall(ctx, s, s.call,
		ptrs[0], uint32(len(module)),
		ptrs[1], uint32(len(function)),
		ptrs[2], uint32(len(args)),
	)
	if err != nil {
		return nil, err
	}
	res, err = sandbox.ReadWideBuffer(s, wide)
	return res, errors.CombineErrors(err, sandbox.FreeWide(ctx, s, wide))
}

// abort records err as the outcome of the running script and stops it.
func (s *Sandbox) abort(err error) {
	s.mu.Lock()
	if s.hostErr == nil {
		s.hostErr = err
	}
	s.mu.Unlock()
	s.vm.Interrupt(err)
}

func (s *Sandbox) trackRejection(p *goja.Promise, op goja.PromiseRejectionOperation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch op {
	case goja.PromiseRejectionReject:
		s.rejections[p] = struct{}{}
	case goja.PromiseRejectionHandle:
		delete(s.rejections, p)
	}
}

// Allocate implements sandbox.Sandbox.
func (s *Sandbox) Allocate(_ context.Context, size uint32) (uint32, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	return s.mem.allocate(size)
}

// Write implements sandbox.Sandbox.
func (s *Sandbox) Write(ptr uint32, data []byte) error {
	return s.mem.write(ptr, data)
}

// Read implements sandbox.Sandbox.
func (s *Sandbox) Read(ptr, size uint32) ([]byte, error) {
	return s.mem.read(ptr, size)
}

// Free implements sandbox.Sandbox.
func (s *Sandbox) Free(_ context.Context, ptr, _ uint32) error {
	return s.mem.release(ptr)
}

// InUse returns the number of bytes currently allocated in the arena.
func (s *Sandbox) InUse() int {
	return s.mem.inUse()
}

// CompileSource implements sandbox.Sandbox. The source is parsed to surface
// syntax errors at compile time; the bytecode is the source wrapped in a
// versioned envelope.
func (s *Sandbox) CompileSource(ctx context.Context, ptr, size uint32) (uint32, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	src, err := s.mem.read(ptr, size)
	if err != nil {
		return 0, err
	}
	prog, err := goja.Compile("", string(src), false)
	if err != nil {
		_, _ = s.stderr.Write([]byte(err.Error() + "\n"))
		return 0, s.trap("compile", err.Error(), err)
	}
	s.programs.Add(cache.Key(src), prog)

	bc := make([]byte, 0, header+len(src))
	bc = append(bc, magic...)
	bc = append(bc, version)
	bc = append(bc, src...)
	return sandbox.WriteWideBuffer(ctx, s, bc)
}

// Execute implements sandbox.Sandbox. Cancelling ctx interrupts the script.
func (s *Sandbox) Execute(ctx context.Context, ptr, size uint32) error {
	if s.closed.Load() {
		return ErrClosed
	}
	bc, err := s.mem.read(ptr, size)
	if err != nil {
		return err
	}
	if len(bc) < header || !bytes.Equal(bc[:len(magic)], []byte(magic)) {
		return s.trap("execute", "invalid bytecode", nil)
	}
	if bc[len(magic)] != version {
		return s.trap("execute", "unsupported bytecode version", nil)
	}
	src := bc[header:]

	key := cache.Key(src)
	prog, ok := s.programs.Get(key)
	if !ok {
		if prog, err = goja.Compile("", string(src), false); err != nil {
			return s.trap("execute", err.Error(), err)
		}
		s.programs.Add(key, prog)
	}

	s.mu.Lock()
	s.hostErr = nil
	clear(s.rejections)
	s.mu.Unlock()

	s.ctx = ctx
	stop := context.AfterFunc(ctx, func() { s.vm.Interrupt(ctx.Err()) })
	// RunProgram drains the promise job queue before returning.
	_, runErr := s.vm.RunProgram(prog)
	stop()
	s.vm.ClearInterrupt()
	s.ctx = context.Background()

	s.mu.Lock()
	hostErr := s.hostErr
	var rejected *goja.Promise
	for p := range s.rejections {
		rejected = p
		break
	}
	clear(s.rejections)
	s.mu.Unlock()

	if hostErr != nil {
		return hostErr
	}
	if runErr != nil {
		var interrupted *goja.InterruptedError
		if errors.As(runErr, &interrupted) {
			if ctx.Err() != nil {
				return errors.Wrap(ctx.Err(), "sandbox execute aborted")
			}
			if s.closed.Load() {
				return ErrClosed
			}
		}
		var ex *goja.Exception
		if errors.As(runErr, &ex) {
			_, _ = s.stderr.Write([]byte("Uncaught " + ex.String() + "\n"))
			return s.trap("execute", ex.Value().String(), runErr)
		}
		return s.trap("execute", runErr.Error(), runErr)
	}
	if rejected != nil {
		msg := "unhandled promise rejection"
		if reason := rejected.Result(); reason != nil {
			msg += ": " + reason.String()
		}
		_, _ = s.stderr.Write([]byte(msg + "\n"))
		return s.trap("execute", msg, nil)
	}
	return nil
}

func (s *Sandbox) trap(op, msg string, err error) *sandbox.TrapError {
	return &sandbox.TrapError{
		Op:      op,
		Message: msg,
		Stdout:  s.stdout.Bytes(),
		Stderr:  s.stderr.Bytes(),
		Err:     err,
	}
}

// Stdout implements sandbox.Sandbox.
func (s *Sandbox) Stdout() []byte { return s.stdout.Bytes() }

// Stderr implements sandbox.Sandbox.
func (s *Sandbox) Stderr() []byte { return s.stderr.Bytes() }

// Close implements sandbox.Sandbox. A running script is interrupted.
func (s *Sandbox) Close(context.Context) error {
	if s.closed.CompareAndSwap(false, true) {
		s.vm.Interrupt(ErrClosed)
		s.programs.Purge()
	}
	return nil
}
