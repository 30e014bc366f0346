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

// Package subagent spawns isolated child agents, propagates cancellation
// to them, optionally detaches them to the background, and guards against
// unbounded recursion. The instantiation shape (a UUID-keyed entry
// wrapping a config plus a runtime handle) follows the same registry
// pattern as an agent entry/registry pair; each child gets its own
// isolated ledger, the same way a session store isolates one
// instance per session id.
package subagent

import (
	"errors"
	"fmt"
)

// Status is an instance's lifecycle state. initializing →
// active → {completed, error, aborted}; terminal states are final.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusActive       Status = "active"
	StatusCompleted    Status = "completed"
	StatusError        Status = "error"
	StatusAborted      Status = "aborted"
)

// IsTerminal reports whether s admits no further transition.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusAborted:
		return true
	}
	return false
}

// ModelSelector discriminates the model-resolution rule a Config carries.
type ModelSelector string

const (
	ModelUndefined ModelSelector = ""
	ModelInherit   ModelSelector = "inherit"
	ModelFast      ModelSelector = "fastModel"
)

// Config is one subagent type's definition, loaded from disk under the
// project workdir.
type Config struct {
	Name         string
	SubagentType string
	SystemPrompt string
	// AllowedTools is nil when the definition carries no allow-list,
	// meaning "all tools except Task".
	AllowedTools []string
	// Model is either "", "inherit", "fastModel", or a literal model name.
	Model string
}

// ResolveModel resolves the configured model against the parent
// agent's configured models.
func (c Config) ResolveModel(parentAgentModel, parentFastModel string) string {
	switch c.Model {
	case string(ModelUndefined), string(ModelInherit):
		return parentAgentModel
	case string(ModelFast):
		return parentFastModel
	default:
		return c.Model
	}
}

// taskToolName is always stripped from the effective allow-list passed to
// the isolated AI loop, preventing a subagent from spawning its own nested
// subagent.
const taskToolName = "Task"

// EffectiveAllowedTools computes the ToolAccess actually handed to the
// isolated AI loop: AllowedTools minus Task, or a nil Tools list when
// AllowedTools is nil ("all tools"). ExcludeTask is always set so the
// loop never calls Task regardless of which branch produced the access
// value.
func (c Config) EffectiveAllowedTools() ToolAccess {
	if c.AllowedTools == nil {
		return ToolAccess{ExcludeTask: true}
	}
	out := make([]string, 0, len(c.AllowedTools))
	for _, t := range c.AllowedTools {
		if t != taskToolName {
			out = append(out, t)
		}
	}
	return ToolAccess{Tools: out, ExcludeTask: true}
}

// ErrNoResponse is returned by Execute when the isolated AI loop produced
// no assistant message at all.
var ErrNoResponse = errors.New("subagent: no response")

// noTextResponse is the literal fallback text.
const noTextResponse = "Task completed with no text response"

// validateConfig rejects a Config whose shape the supervisor cannot use.
func validateConfig(cfg Config) error {
	if cfg.Name == "" {
		return fmt.Errorf("subagent config: name cannot be empty")
	}
	if cfg.SystemPrompt == "" {
		return fmt.Errorf("subagent config %q: systemPrompt cannot be empty", cfg.Name)
	}
	return nil
}
