// Copyright 2025 Kadir Pekel
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//     http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package hooks runs user-configured external commands at lifecycle
// events and translates their exit codes into control-flow decisions for
// the caller. External processes are invoked with the same
// os/exec spawn-and-wrap-error pattern used elsewhere in this module,
// run synchronously under a bounded timeout.
package hooks

import "strings"

// matches reports whether matcher (a glob-like pattern over a tool name)
// applies to toolName. An empty matcher means "any tool". The only
// glob metacharacter supported is a trailing "*" wildcard; real hook
// configuration only ever needs a literal tool name or a simple prefix.
func matches(matcher, toolName string) bool {
	if matcher == "" {
		return true
	}
	if strings.HasSuffix(matcher, "*") {
		return strings.HasPrefix(toolName, strings.TrimSuffix(matcher, "*"))
	}
	return matcher == toolName
}
