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

// Package waveconfig loads the externally-authored configuration
// documents the core consumes as already-parsed structures: hook
// definitions, LSP language registrations, and the command-safety policy.
package waveconfig

import (
	"fmt"
	"time"
)

// HookEvent enumerates the lifecycle events a hook may be registered
// against.
type HookEvent string

const (
	EventPreToolUse       HookEvent = "PreToolUse"
	EventPostToolUse      HookEvent = "PostToolUse"
	EventUserPromptSubmit HookEvent = "UserPromptSubmit"
	EventStop             HookEvent = "Stop"
	EventSubagentStop     HookEvent = "SubagentStop"
	EventNotification     HookEvent = "Notification"
)

var validHookEvents = map[HookEvent]bool{
	EventPreToolUse:       true,
	EventPostToolUse:      true,
	EventUserPromptSubmit: true,
	EventStop:             true,
	EventSubagentStop:     true,
	EventNotification:     true,
}

// toolEvents carries a matcher; the rest must not.
var toolEvents = map[HookEvent]bool{
	EventPreToolUse:  true,
	EventPostToolUse: true,
}

// HookCommand is a single external command bound under a matcher.
type HookCommand struct {
	Command string `yaml:"command" mapstructure:"command"`
}

// HookMatcherGroup binds zero or more commands to an optional tool-name
// matcher. An empty Matcher means "any tool" for tool events, and is the
// only legal value for non-tool events.
type HookMatcherGroup struct {
	Matcher string        `yaml:"matcher,omitempty" mapstructure:"matcher"`
	Hooks   []HookCommand `yaml:"hooks" mapstructure:"hooks"`
}

// HookConfiguration is the full `hooks:` document: event name to
// an ordered list of matcher groups.
type HookConfiguration map[HookEvent][]HookMatcherGroup

// Validate rejects invalid event names, matchers on non-tool events, and
// event bodies that are not a list (a nil body); an empty list is accepted.
func (h HookConfiguration) Validate() error {
	for event, groups := range h {
		if !validHookEvents[event] {
			return fmt.Errorf("invalid hook event %q", event)
		}
		if groups == nil {
			return fmt.Errorf("hook event %q must be an array", event)
		}
		if !toolEvents[event] {
			for _, g := range groups {
				if g.Matcher != "" {
					return fmt.Errorf("hook event %q must not carry a matcher", event)
				}
			}
		}
	}
	return nil
}

// Merge overlays project-level config on top of user-level config,
// replacing each event's entire list rather than appending to it, per
// the per-event replacement rule: a project event list replaces the
// user's wholesale, never appends to it.
func Merge(user, project HookConfiguration) HookConfiguration {
	merged := make(HookConfiguration, len(user)+len(project))
	for event, groups := range user {
		merged[event] = groups
	}
	for event, groups := range project {
		merged[event] = groups
	}
	return merged
}

// LanguageServerConfig describes how to spawn and initialize a single
// language's server.
type LanguageServerConfig struct {
	Command               string            `yaml:"command" mapstructure:"command"`
	Args                  []string          `yaml:"args,omitempty" mapstructure:"args"`
	Env                   map[string]string `yaml:"env,omitempty" mapstructure:"env"`
	InitializationOptions map[string]any    `yaml:"initializationOptions,omitempty" mapstructure:"initializationOptions"`
	WorkspaceFolder       string            `yaml:"workspaceFolder,omitempty" mapstructure:"workspaceFolder"`
	// ExtensionToLanguage may also be declared per language entry; the
	// loader folds these into the configuration's top-level map.
	ExtensionToLanguage map[string]string `yaml:"extensionToLanguage,omitempty" mapstructure:"extensionToLanguage"`
}

// LspConfiguration is the `.lsp.json` document: per-language server
// registrations plus an extension-to-language map.
type LspConfiguration struct {
	Languages           map[string]LanguageServerConfig `yaml:"languages" mapstructure:"languages"`
	ExtensionToLanguage map[string]string               `yaml:"extensionToLanguage,omitempty" mapstructure:"extensionToLanguage"`
}

// CommandSafety configures the allowlist-based isCommandSafe predicate
// hooks and custom-command execution validate against.
type CommandSafety struct {
	AllowedCommands  []string      `yaml:"allowed_commands,omitempty" mapstructure:"allowed_commands"`
	EnableSandboxing bool          `yaml:"enable_sandboxing" mapstructure:"enable_sandboxing"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time,omitempty" mapstructure:"max_execution_time"`
}

// SetDefaults fills the execution timeout. The allowlist is deliberately
// left alone: with sandboxing enabled an empty allowlist means "any
// command", and with sandboxing disabled Validate requires an explicit
// one, so there is no safe builtin list to invent here.
func (c *CommandSafety) SetDefaults() {
	if c.MaxExecutionTime == 0 {
		c.MaxExecutionTime = 30 * time.Second
	}
}

// Validate requires an explicit, non-empty allowlist whenever sandboxing
// is disabled: an empty allowlist with sandboxing off would otherwise be
// ambiguous between "nothing allowed" and "everything allowed".
func (c *CommandSafety) Validate() error {
	if !c.EnableSandboxing && len(c.AllowedCommands) == 0 {
		return fmt.Errorf("allowed_commands is required when enable_sandboxing is false")
	}
	return nil
}

// IsCommandSafe reports whether command is permitted to run: with
// sandboxing enabled an empty allowlist is permissive (the sandbox is the
// enforcement boundary); otherwise the command's first space-delimited
// token must appear in the allowlist.
func (c *CommandSafety) IsCommandSafe(command string) bool {
	if c.EnableSandboxing && len(c.AllowedCommands) == 0 {
		return true
	}
	program := firstToken(command)
	for _, allowed := range c.AllowedCommands {
		if allowed == program {
			return true
		}
	}
	return false
}

func firstToken(command string) string {
	i := 0
	for i < len(command) && command[i] == ' ' {
		i++
	}
	start := i
	for i < len(command) && command[i] != ' ' {
		i++
	}
	return command[start:i]
}
