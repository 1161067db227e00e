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

package codec

import (
	"strings"
)

// ProtocolError reports a mismatch between what the sandbox sent and what the
// host registered: an unknown module or function, a wrong number of
// arguments, a value of the wrong kind or a handle index that was never
// allocated. It always names the lookup target.
type ProtocolError struct {
	Module   string
	Function string
	Reason   string
	Err      error
}

func newProtocolError(reason string, cause error) *ProtocolError {
	return &ProtocolError{Reason: reason, Err: cause}
}

func (e *ProtocolError) Error() string {
	var sb strings.Builder
	sb.WriteString("protocol error")
	switch {
	case e.Module != "" && e.Function != "":
		sb.WriteString(" calling ")
		sb.WriteString(e.Module)
		sb.WriteString(".")
		sb.WriteString(e.Function)
	case e.Module != "":
		sb.WriteString(" in module ")
		sb.WriteString(e.Module)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Reason)
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// WithTarget returns a copy of e naming module and function, keeping any
// target already set.
func (e *ProtocolError) WithTarget(module, function string) *ProtocolError {
	c := *e
	if c.Module == "" {
		c.Module = module
	}
	if c.Function == "" {
		c.Function = function
	}
	return &c
}
