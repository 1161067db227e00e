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
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/redpanda-data/common-go/jsbridge/codec"
	"github.com/redpanda-data/common-go/jsbridge/internal/worker"
)

type (
	// ProtocolError reports a call that does not match what the host
	// registered. See [codec.ProtocolError].
	ProtocolError = codec.ProtocolError
	// TimeoutError reports an execution that exceeded the engine timeout.
	TimeoutError = worker.TimeoutError
)

var (
	// ErrPoisoned is returned by every call after an execution timed out or
	// was abandoned. The engine must be closed.
	ErrPoisoned = worker.ErrPoisoned
	// ErrClosed is returned by calls on a closed engine.
	ErrClosed = worker.ErrClosed
	// ErrReentrant is wrapped by the ProtocolError returned when a host
	// function calls back into the engine running it.
	ErrReentrant = worker.ErrReentrant
	// ErrBusy is returned when a guest function is already being invoked by
	// another engine it is registered with.
	ErrBusy = errors.New("guest function is busy")
)

// CompileError reports source the sandbox refused to compile.
type CompileError struct {
	Source string
	Stdout []byte
	Stderr []byte
	Err    error
}

func (e *CompileError) Error() string {
	var sb strings.Builder
	sb.WriteString("failed to compile script")
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *CompileError) Unwrap() error { return e.Err }

// GuestError reports an exception thrown by sandboxed code and not caught
// before the execution ended.
type GuestError struct {
	Message string
	Stdout  []byte
	Stderr  []byte
	Err     error
}

func (e *GuestError) Error() string {
	var sb strings.Builder
	sb.WriteString("an exception occurred during the execution")
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if len(e.Stderr) > 0 {
		sb.WriteString("\nstderr: ")
		sb.Write(e.Stderr)
	}
	return sb.String()
}

func (e *GuestError) Unwrap() error { return e.Err }
