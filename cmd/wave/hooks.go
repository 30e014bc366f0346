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

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/kadirpekel/wave/pkg/hooks"
	"github.com/kadirpekel/wave/pkg/ledger"
	"github.com/kadirpekel/wave/pkg/waveconfig"
)

// HooksCmd groups hook-configuration validation and a manual dispatch
// dry-run.
type HooksCmd struct {
	Validate HooksValidateCmd `cmd:"" help:"Validate merged hook configuration against a command safety policy."`
	Run      HooksRunCmd      `cmd:"" help:"Dispatch one lifecycle event and print the resulting decision."`
}

// loadHooksFile loads one hooks document; a missing file resolves to an
// empty configuration since both layers are optional.
func loadHooksFile(path string) (waveconfig.HookConfiguration, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return waveconfig.HookConfiguration{}, nil
	}
	provider, err := waveconfig.NewFileProvider(path)
	if err != nil {
		return nil, err
	}
	loader := waveconfig.NewHookLoader(provider, nil)
	defer loader.Close()
	return loader.Load(context.Background())
}

func loadMergedHooks(userPath, projectPath string) (waveconfig.HookConfiguration, error) {
	userCfg, err := loadHooksFile(userPath)
	if err != nil {
		return nil, err
	}
	if projectPath == "" {
		return userCfg, nil
	}
	projectCfg, err := loadHooksFile(projectPath)
	if err != nil {
		return nil, err
	}
	return waveconfig.Merge(userCfg, projectCfg), nil
}

// HooksValidateCmd loads, merges, and validates hook configuration plus a
// command safety policy.
type HooksValidateCmd struct {
	Hooks        string `help:"User-level hooks document." default:".wave/hooks.yaml"`
	ProjectHooks string `help:"Project-level hooks document overlaid on top." default:".wave/project-hooks.yaml"`
	Safety       string `help:"Command safety policy document." default:".wave/safety.yaml"`
}

func (c *HooksValidateCmd) Run(cli *CLI) error {
	merged, err := loadMergedHooks(c.Hooks, c.ProjectHooks)
	if err != nil {
		return fmt.Errorf("failed to load hook configuration: %w", err)
	}

	safety, err := waveconfig.LoadCommandSafety(c.Safety)
	if err != nil {
		return fmt.Errorf("failed to load command safety policy: %w", err)
	}

	if err := hooks.Validate(merged, safety); err != nil {
		return fmt.Errorf("hook configuration is invalid: %w", err)
	}

	fmt.Println("hook configuration is valid")
	return nil
}

// HooksRunCmd dispatches a single lifecycle event against a scratch
// ledger and prints the Dispatcher's decision, without a live agent
// session attached.
type HooksRunCmd struct {
	Hooks        string `help:"User-level hooks document." default:".wave/hooks.yaml"`
	ProjectHooks string `help:"Project-level hooks document overlaid on top." default:".wave/project-hooks.yaml"`
	Safety       string `help:"Command safety policy document." default:".wave/safety.yaml"`
	Workdir      string `help:"Working directory hook commands run from." default:"."`
	PluginRoot   string `help:"Value injected as WAVE_PLUGIN_ROOT."`

	Event   string `arg:"" help:"Lifecycle event name (PreToolUse, PostToolUse, UserPromptSubmit, Stop, SubagentStop, Notification)."`
	Tool    string `help:"Tool name, for PreToolUse/PostToolUse."`
	ToolID  string `help:"Tool call id, for PreToolUse/PostToolUse."`
	Payload string `help:"Prompt text (UserPromptSubmit) or tool output (PostToolUse)."`
}

func (c *HooksRunCmd) Run(cli *CLI) error {
	merged, err := loadMergedHooks(c.Hooks, c.ProjectHooks)
	if err != nil {
		return fmt.Errorf("failed to load hook configuration: %w", err)
	}
	safety, err := waveconfig.LoadCommandSafety(c.Safety)
	if err != nil {
		return fmt.Errorf("failed to load command safety policy: %w", err)
	}

	dispatcher := hooks.New(merged, safety, c.Workdir, c.PluginRoot, nil, nil)
	led := ledger.New(c.Workdir, ledger.Callbacks{})

	result := dispatcher.Dispatch(context.Background(), waveconfig.HookEvent(c.Event), led, c.Tool, c.ToolID, c.Payload)

	fmt.Printf("shouldBlock=%v\n", result.ShouldBlock)
	if result.ErrorMessage != "" {
		fmt.Printf("message: %s\n", result.ErrorMessage)
	}
	for _, msg := range led.Messages() {
		fmt.Printf("-- %s --\n", msg.Role)
		for _, b := range msg.Blocks {
			printBlock(b)
		}
	}
	return nil
}
