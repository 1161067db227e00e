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

package jsbridge

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/redpanda-data/common-go/jsbridge/registry"
)

// begin resolves a guest function and claims its result slot. The returned
// release func must be called once the invocation is over.
func (e *Engine) begin(ctx context.Context, module, name string, args []any) (*registry.GuestFunction, []byte, func(), error) {
	if e.worker.InJob(ctx) {
		return nil, nil, nil, &ProtocolError{
			Module:   module,
			Function: name,
			Reason:   "guest functions cannot be invoked from a host function",
			Err:      ErrReentrant,
		}
	}
	gf, err := e.registry.GuestFunction(module, name)
	if err != nil {
		return nil, nil, nil, err
	}
	raw, err := e.codec.EncodeArgs(gf.Params(), args)
	if err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) {
			return nil, nil, nil, perr.WithTarget(module, name)
		}
		return nil, nil, nil, err
	}

	// Guest invocations share the accessor state, so they queue.
	select {
	case e.guestSem <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, nil, ctx.Err()
	}
	if !gf.Begin() {
		<-e.guestSem
		return nil, nil, nil, errors.Wrapf(ErrBusy, "guest function %s.%s", module, name)
	}
	return gf, raw, func() {
		gf.End()
		<-e.guestSem
	}, nil
}

// InvokeGuestFunction calls the guest function module.name, defined by
// library, with args and returns its result.
//
// The library source, the generated prelude and a call carrying the encoded
// arguments are compiled together, so every distinct argument list produces
// a separate cache entry. Use [Engine.CompilePortableGuestFunction] and
// [Engine.InvokePrecompiledGuestFunction] to compile the library once.
//
// A promise returned by the guest function is awaited. Concurrent invocations
// on one engine run one after the other.
func (e *Engine) InvokeGuestFunction(ctx context.Context, module, name, library string, args ...any) (any, error) {
	gf, raw, release, err := e.begin(ctx, module, name, args)
	if err != nil {
		return nil, err
	}
	defer release()

	src := assemble(e.prelude, library, e.suffix, inlineInvocation(module, name, raw))
	bc, err := e.CompileRaw(ctx, src)
	if err != nil {
		return nil, err
	}
	if err := e.Exec(ctx, bc); err != nil {
		return nil, err
	}
	return gf.Result(), nil
}

// CompilePortableGuestFunction compiles library into bytecode that can invoke
// any registered guest function it defines. The target and arguments are
// supplied at execution time by [Engine.InvokePrecompiledGuestFunction].
//
// The bytecode can be executed by any engine whose host modules and
// invokables match this one.
func (e *Engine) CompilePortableGuestFunction(ctx context.Context, library string) ([]byte, error) {
	return e.CompileRaw(ctx, assemble(e.prelude, library, e.suffix, portableInvocation))
}

// InvokePrecompiledGuestFunction executes bytecode returned by
// [Engine.CompilePortableGuestFunction], calling module.name with args.
func (e *Engine) InvokePrecompiledGuestFunction(ctx context.Context, module, name string, bytecode []byte, args ...any) (any, error) {
	gf, raw, release, err := e.begin(ctx, module, name, args)
	if err != nil {
		return nil, err
	}
	defer release()

	e.setInvocation(module, name, string(raw))
	defer e.setInvocation("", "", "")

	if err := e.Exec(ctx, bytecode); err != nil {
		return nil, err
	}
	return gf.Result(), nil
}
