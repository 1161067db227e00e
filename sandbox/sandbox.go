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

// Package sandbox defines the memory contract between the host and an
// isolated script runtime.
//
// Only integers and byte buffers cross the boundary. A buffer is addressed by
// a pointer into the sandbox's linear memory plus a length; functions that
// return a buffer return a wide pointer instead, the address of an 8 byte
// record holding the buffer pointer and length as little-endian u32 values.
//
// The sandbox calls back into the host through a single primitive taking six
// integers (module, function and JSON arguments, each as pointer and length)
// and returning a wide pointer to the JSON result. The result buffer and the
// wide pointer record are allocated in sandbox memory by the host and freed by
// the guest.
package sandbox

import (
	"context"
)

const (
	// WidePointerSize is the size of a wide pointer record.
	WidePointerSize = 8
	// Alignment used for every allocation made by the host.
	Alignment = 1

	// DefaultHostModule is the import namespace of the host call primitive.
	DefaultHostModule = "chicory"
	// HostCallFunction is the import name of the host call primitive.
	HostCallFunction = "invoke"
	// HostCallGlobal is the global function scripts use to reach the host call
	// primitive: HostCallGlobal(module, function, jsonArgs) returns JSON text.
	HostCallGlobal = "java_invoke"
)

// HostCall handles a call made from inside the sandbox. args is the JSON
// array of arguments and the returned bytes are the JSON encoded result.
// A returned error aborts the running script.
type HostCall func(ctx context.Context, module, function string, args []byte) ([]byte, error)

// Sandbox is an isolated script runtime with its own linear memory.
//
// Implementations are not safe for concurrent use. Every method that can run
// guest code takes a context; cancelling it aborts the guest and leaves the
// sandbox unusable.
type Sandbox interface {
	// Allocate reserves size bytes of sandbox memory and returns their address.
	Allocate(ctx context.Context, size uint32) (uint32, error)
	// Write copies data into sandbox memory at ptr.
	Write(ptr uint32, data []byte) error
	// Read returns a copy of size bytes of sandbox memory starting at ptr.
	Read(ptr, size uint32) ([]byte, error)
	// Free releases memory returned by Allocate.
	Free(ctx context.Context, ptr, size uint32) error

	// CompileSource compiles the size bytes of source at ptr and returns a
	// wide pointer to the resulting bytecode. The caller owns both the
	// bytecode buffer and the wide pointer record.
	CompileSource(ctx context.Context, ptr, size uint32) (uint32, error)
	// Execute runs the size bytes of bytecode at ptr.
	Execute(ctx context.Context, ptr, size uint32) error

	// Stdout returns everything the guest wrote to standard output so far.
	Stdout() []byte
	// Stderr returns everything the guest wrote to standard error so far.
	Stderr() []byte

	// Close releases the sandbox. It is safe to call Close more than once.
	Close(ctx context.Context) error
}

// Factory creates a sandbox whose host call primitive is served by call.
type Factory func(ctx context.Context, call HostCall) (Sandbox, error)
