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

package hooks

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kadirpekel/wave/pkg/ledger"
	"github.com/kadirpekel/wave/pkg/waveconfig"
)

// fakeExecutor replays a scripted sequence of CommandResults, one per
// invocation, in call order, avoiding any real process spawn in tests.
type fakeExecutor struct {
	results []CommandResult
	calls   []string
}

func (f *fakeExecutor) Run(ctx context.Context, command string, env []string, workdir string, timeout time.Duration) CommandResult {
	f.calls = append(f.calls, command)
	if len(f.results) == 0 {
		return CommandResult{Success: true}
	}
	r := f.results[0]
	f.results = f.results[1:]
	return r
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func exitCode(n int) *int { return &n }

func permissiveSafety() waveconfig.CommandSafety {
	return waveconfig.CommandSafety{EnableSandboxing: true}
}

// TestDispatchPreToolUseVeto: a PreToolUse matcher
// for "Edit" whose command exits 2 with stderr "no edits allowed" blocks
// the tool call and updates its block exactly as specified.
func TestDispatchPreToolUseVeto(t *testing.T) {
	cfg := waveconfig.HookConfiguration{
		waveconfig.EventPreToolUse: {
			{Matcher: "Edit", Hooks: []waveconfig.HookCommand{{Command: "check-edits"}}},
		},
	}
	exec := &fakeExecutor{results: []CommandResult{
		{Success: false, ExitCode: exitCode(2), Stderr: "no edits allowed"},
	}}
	d := New(cfg, permissiveSafety(), t.TempDir(), "", exec, discardLogger())

	led := ledger.New(t.TempDir(), ledger.Callbacks{})
	led.AppendAssistantShell()
	led.UpdateToolBlock("t1", ledger.ToolBlockUpdate{})

	result := d.Dispatch(context.Background(), waveconfig.EventPreToolUse, led, "Edit", "t1", "")
	if !result.ShouldBlock {
		t.Fatal("expected shouldBlock=true")
	}

	msgs := led.Messages()
	last := msgs[len(msgs)-1]
	var toolBlock *ledger.Block
	for _, b := range last.Blocks {
		if b.Type == ledger.BlockTool && b.ToolID == "t1" {
			toolBlock = b
		}
	}
	if toolBlock == nil {
		t.Fatal("expected tool block t1 to exist")
	}
	if toolBlock.Success == nil || *toolBlock.Success {
		t.Fatal("expected tool block success=false")
	}
	if toolBlock.Error != "Hook blocked tool execution" {
		t.Fatalf("unexpected error: %q", toolBlock.Error)
	}
	if toolBlock.Result != "no edits allowed" {
		t.Fatalf("unexpected result: %q", toolBlock.Result)
	}
	if toolBlock.Stage != ledger.ToolStageEnd {
		t.Fatalf("unexpected stage: %q", toolBlock.Stage)
	}
}

// TestDispatchPreToolUseNonMatchingToolNotDispatched confirms a matcher
// that doesn't match the tool name is simply not applicable.
func TestDispatchPreToolUseNonMatchingToolNotDispatched(t *testing.T) {
	cfg := waveconfig.HookConfiguration{
		waveconfig.EventPreToolUse: {
			{Matcher: "Edit", Hooks: []waveconfig.HookCommand{{Command: "check-edits"}}},
		},
	}
	exec := &fakeExecutor{}
	d := New(cfg, permissiveSafety(), t.TempDir(), "", exec, discardLogger())
	led := ledger.New(t.TempDir(), ledger.Callbacks{})
	led.AppendAssistantShell()

	result := d.Dispatch(context.Background(), waveconfig.EventPreToolUse, led, "Grep", "t1", "")
	if result.ShouldBlock {
		t.Fatal("expected no block for a non-matching tool")
	}
	if len(exec.calls) != 0 {
		t.Fatalf("expected no commands to run, got %v", exec.calls)
	}
}

// TestDispatchUserPromptSubmitVetoRemovesLastUserMessage exercises the
// UserPromptSubmit blocking behavior: append error block, pop the last
// user message, and report shouldBlock.
func TestDispatchUserPromptSubmitVetoRemovesLastUserMessage(t *testing.T) {
	cfg := waveconfig.HookConfiguration{
		waveconfig.EventUserPromptSubmit: {
			{Hooks: []waveconfig.HookCommand{{Command: "validate-prompt"}}},
		},
	}
	exec := &fakeExecutor{results: []CommandResult{
		{Success: false, ExitCode: exitCode(2), Stderr: "prompt rejected"},
	}}
	d := New(cfg, permissiveSafety(), t.TempDir(), "", exec, discardLogger())
	led := ledger.New(t.TempDir(), ledger.Callbacks{})
	led.AppendUserMessage("do something bad", "", "user")

	result := d.Dispatch(context.Background(), waveconfig.EventUserPromptSubmit, led, "", "", "do something bad")
	if !result.ShouldBlock {
		t.Fatal("expected shouldBlock=true")
	}
	if result.ErrorMessage != "prompt rejected" {
		t.Fatalf("unexpected error message: %q", result.ErrorMessage)
	}
	msgs := led.Messages()
	if len(msgs) != 0 {
		t.Fatalf("expected the vetoed user message to be removed, got %d messages", len(msgs))
	}
}

// TestDispatchUserPromptSubmitStdoutInjected covers the non-blocking
// pass's exitCode==0 UserPromptSubmit stdout-injection rule.
func TestDispatchUserPromptSubmitStdoutInjected(t *testing.T) {
	cfg := waveconfig.HookConfiguration{
		waveconfig.EventUserPromptSubmit: {
			{Hooks: []waveconfig.HookCommand{{Command: "enrich-prompt"}}},
		},
	}
	exec := &fakeExecutor{results: []CommandResult{
		{Success: true, ExitCode: exitCode(0), Stdout: "extra context"},
	}}
	d := New(cfg, permissiveSafety(), t.TempDir(), "", exec, discardLogger())
	led := ledger.New(t.TempDir(), ledger.Callbacks{})
	led.AppendUserMessage("hello", "", "user")

	d.Dispatch(context.Background(), waveconfig.EventUserPromptSubmit, led, "", "", "hello")

	msgs := led.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected the HOOK message to be appended, got %d messages", len(msgs))
	}
	if msgs[1].Source != "HOOK" {
		t.Fatalf("expected injected message source HOOK, got %q", msgs[1].Source)
	}
}

// TestDispatchStopVetoBlocksTermination covers Stop's shouldBlock=true
// behavior, which prevents the turn from ending.
func TestDispatchStopVetoBlocksTermination(t *testing.T) {
	cfg := waveconfig.HookConfiguration{
		waveconfig.EventStop: {
			{Hooks: []waveconfig.HookCommand{{Command: "check-todos"}}},
		},
	}
	exec := &fakeExecutor{results: []CommandResult{
		{Success: false, ExitCode: exitCode(2), Stderr: "todos remaining"},
	}}
	d := New(cfg, permissiveSafety(), t.TempDir(), "", exec, discardLogger())
	led := ledger.New(t.TempDir(), ledger.Callbacks{})
	led.AppendAssistantShell()

	result := d.Dispatch(context.Background(), waveconfig.EventStop, led, "", "", "")
	if !result.ShouldBlock {
		t.Fatal("expected Stop veto to block termination")
	}
}

// TestDispatchNoApplicableHooksIsNoop confirms an event with no
// configured groups runs nothing and blocks nothing.
func TestDispatchNoApplicableHooksIsNoop(t *testing.T) {
	d := New(waveconfig.HookConfiguration{}, permissiveSafety(), t.TempDir(), "", &fakeExecutor{}, discardLogger())
	led := ledger.New(t.TempDir(), ledger.Callbacks{})

	result := d.Dispatch(context.Background(), waveconfig.EventNotification, led, "", "", "")
	if result.ShouldBlock {
		t.Fatal("expected no-op dispatch to never block")
	}
}

// TestDispatchSequentialNoShortCircuit confirms a failing command doesn't
// stop subsequent commands from running.
func TestDispatchSequentialNoShortCircuit(t *testing.T) {
	cfg := waveconfig.HookConfiguration{
		waveconfig.EventNotification: {
			{Hooks: []waveconfig.HookCommand{
				{Command: "first"},
				{Command: "second"},
			}},
		},
	}
	exec := &fakeExecutor{results: []CommandResult{
		{Success: false, ExitCode: exitCode(1), Stderr: "boom"},
		{Success: true, ExitCode: exitCode(0)},
	}}
	d := New(cfg, permissiveSafety(), t.TempDir(), "", exec, discardLogger())
	led := ledger.New(t.TempDir(), ledger.Callbacks{})

	d.Dispatch(context.Background(), waveconfig.EventNotification, led, "", "", "")
	if len(exec.calls) != 2 {
		t.Fatalf("expected both commands to run, got %v", exec.calls)
	}
}

// TestValidateRejectsUnsafeCommand covers the command-safety validation
// step.
func TestValidateRejectsUnsafeCommand(t *testing.T) {
	cfg := waveconfig.HookConfiguration{
		waveconfig.EventNotification: {
			{Hooks: []waveconfig.HookCommand{{Command: "curl evil.example"}}},
		},
	}
	safety := waveconfig.CommandSafety{EnableSandboxing: false, AllowedCommands: []string{"echo"}}
	if err := Validate(cfg, safety); err == nil {
		t.Fatal("expected an unsafe command to fail validation")
	}
}
