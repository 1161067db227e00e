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

	"github.com/redpanda-data/common-go/jsbridge/registry"
	"github.com/redpanda-data/common-go/jsbridge/sandbox"
)

// accessorModule is the host module portable units read their invocation
// target from.
const accessorModule = "bridge_engine"

// portableInvocation calls the target named by the accessor module and
// reports its settled value through the target's result function.
const portableInvocation = "Promise.resolve(globalThis[" + accessorModule + ".module_name()][" + accessorModule + ".function_name()]" +
	"(...JSON.parse(" + accessorModule + ".args()))).then((value) => { " +
	sandbox.HostCallGlobal + "(" + accessorModule + ".module_name(), " + accessorModule + `.function_name() + "_set_result", JSON.stringify([value])) ` +
	"}, (err) => { throw err; })"

// buildPrelude declares one global object per module holding a stub per host
// function. Each stub serializes its arguments, goes through the host call
// global and parses the result.
func buildPrelude(r *registry.Registry) []byte {
	var sb strings.Builder
	for _, m := range r.Modules() {
		name := m.Name()
		sb.WriteString("globalThis." + name + " = {};\n")
		for _, f := range m.Functions() {
			sb.WriteString("globalThis." + name + "." + f.Name() +
				" = (...args) => { return JSON.parse(" + sandbox.HostCallGlobal +
				`("` + name + `", "` + f.Name() + `", JSON.stringify(args))) };` + "\n")
		}
	}
	return []byte(sb.String())
}

// buildSuffix exports every guest function under its module object.
func buildSuffix(r *registry.Registry) []byte {
	var sb strings.Builder
	for _, inv := range r.Invokables() {
		for _, g := range inv.Functions() {
			sb.WriteString("globalThis." + inv.Name() + "." + g.Name() + " = " + g.GlobalName() + ";\n")
		}
	}
	return []byte(sb.String())
}

// inlineInvocation calls module.function with literal arguments and reports
// the settled value through its result function.
func inlineInvocation(module, function string, args []byte) string {
	target := "globalThis." + module + "." + function
	return "Promise.resolve(" + target + "(..." + string(args) + ")).then((value) => { " +
		target + "_set_result(value); }, (err) => { throw err; })"
}

// assemble joins the parts of a guest invocation unit.
func assemble(prelude []byte, library string, suffix []byte, invocation string) []byte {
	var sb strings.Builder
	sb.Grow(len(prelude) + len(library) + len(suffix) + len(invocation) + 4)
	sb.Write(prelude)
	sb.WriteString("\n")
	sb.WriteString(library)
	sb.WriteString("\n")
	sb.Write(suffix)
	sb.WriteString("\n")
	sb.WriteString(invocation)
	sb.WriteString(";\n")
	return []byte(sb.String())
}
