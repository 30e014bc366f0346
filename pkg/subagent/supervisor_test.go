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

package subagent

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kadirpekel/wave/pkg/background"
	"github.com/kadirpekel/wave/pkg/ledger"
)

// fakeLoop is a minimal AILoop stand-in: it records the ToolAccess it was
// run with, appends a canned assistant response to the ledger it's given,
// and supports cooperative abort.
type fakeLoop struct {
	mu         sync.Mutex
	lastAccess ToolAccess
	response   string
	noResponse bool
	block      chan struct{} // when non-nil, Run waits on this until Abort closes it
	aborted    bool
	led        *ledger.Ledger
}

func (f *fakeLoop) Run(ctx context.Context, access ToolAccess) error {
	f.mu.Lock()
	f.lastAccess = access
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
		}
	}

	f.mu.Lock()
	aborted := f.aborted
	f.mu.Unlock()
	if aborted {
		return nil
	}

	if !f.noResponse {
		f.led.AppendAssistantShell()
		f.led.StreamAssistantContent(f.response)
	}
	return nil
}

func (f *fakeLoop) Abort() {
	f.mu.Lock()
	f.aborted = true
	f.mu.Unlock()
	if f.block != nil {
		close(f.block)
	}
}

func writeAgentConfig(t *testing.T, workdir, subagentType, systemPrompt string, allowedTools []string) {
	t.Helper()
	dir := filepath.Join(workdir, configsDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	body := "name: " + subagentType + "\nsystemPrompt: \"" + systemPrompt + "\"\n"
	if len(allowedTools) > 0 {
		body += "allowedTools:\n"
		for _, tool := range allowedTools {
			body += "  - " + tool + "\n"
		}
	}
	if err := os.WriteFile(filepath.Join(dir, subagentType+".yaml"), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func newTestSupervisor(t *testing.T, loops map[string]*fakeLoop) (*Supervisor, *ledger.Ledger) {
	t.Helper()
	parent := ledger.New(t.TempDir(), ledger.Callbacks{})
	bg := background.New(t.TempDir(), nil, nil)

	factory := func(cfg Config, led *ledger.Ledger, toolRegistry any, model string) AILoop {
		loop := loops[cfg.SubagentType]
		loop.led = led
		return loop
	}
	return New(parent, bg, nil, factory, nil, nil), parent
}

// TestExecuteTaskReturnsConcatenatedText covers ExecuteTask's
// happy path.
func TestExecuteTaskReturnsConcatenatedText(t *testing.T) {
	workdir := t.TempDir()
	writeAgentConfig(t, workdir, "reviewer", "You review code.", nil)

	loop := &fakeLoop{response: "looks good"}
	sup, _ := newTestSupervisor(t, map[string]*fakeLoop{"reviewer": loop})

	result, err := sup.ExecuteTask(context.Background(), ExecuteOptions{
		Workdir:      workdir,
		SubagentType: "reviewer",
		Prompt:       "review this diff",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "looks good" {
		t.Fatalf("unexpected text: %q", result.Text)
	}
}

// TestExecuteTaskNoResponseFails covers the NoResponse failure path:
// a loop run that produces no assistant message at all is an error.
func TestExecuteTaskNoResponseFails(t *testing.T) {
	workdir := t.TempDir()
	writeAgentConfig(t, workdir, "silent", "Say nothing.", nil)

	loop := &fakeLoop{noResponse: true}
	sup, _ := newTestSupervisor(t, map[string]*fakeLoop{"silent": loop})

	_, err := sup.ExecuteTask(context.Background(), ExecuteOptions{
		Workdir:      workdir,
		SubagentType: "silent",
		Prompt:       "do nothing",
	})
	if err != ErrNoResponse {
		t.Fatalf("expected ErrNoResponse, got %v", err)
	}
}

// TestEffectiveAllowedToolsNeverContainsTask: for every
// allow-list accepted by the supervisor, Task is never in the effective
// list handed to the loop.
func TestEffectiveAllowedToolsNeverContainsTask(t *testing.T) {
	workdir := t.TempDir()
	writeAgentConfig(t, workdir, "coder", "You write code.", []string{"Edit", "Task", "Grep"})

	loop := &fakeLoop{response: "done"}
	sup, _ := newTestSupervisor(t, map[string]*fakeLoop{"coder": loop})

	_, err := sup.ExecuteTask(context.Background(), ExecuteOptions{
		Workdir:      workdir,
		SubagentType: "coder",
		Prompt:       "fix the bug",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, tool := range loop.lastAccess.Tools {
		if tool == "Task" {
			t.Fatal("Task must never appear in the effective allow-list")
		}
	}
	if !loop.lastAccess.ExcludeTask {
		t.Fatal("ExcludeTask must always be set")
	}
}

// ExecuteTask with RunInBackground=true returns a task id
// immediately; cancelling the parent context does not transition the
// instance (since the context is not linked); calling the background
// task's Stop does, ending in aborted with the background task killed.
func TestDetachedSubagentCancelDoesNotAbortTheInstance(t *testing.T) {
	workdir := t.TempDir()
	writeAgentConfig(t, workdir, "worker", "You work in the background.", nil)

	block := make(chan struct{})
	loop := &fakeLoop{response: "finished", block: block}
	sup, _ := newTestSupervisor(t, map[string]*fakeLoop{"worker": loop})

	parentCtx, cancel := context.WithCancel(context.Background())
	result, err := sup.ExecuteTask(parentCtx, ExecuteOptions{
		Workdir:         workdir,
		SubagentType:    "worker",
		Prompt:          "go do the thing",
		RunInBackground: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.BackgroundTaskID == "" {
		t.Fatal("expected a background task id immediately")
	}

	inst, ok := sup.Get(result.BackgroundTaskID)
	if !ok {
		t.Fatal("expected the instance to be tracked")
	}

	cancel()
	time.Sleep(20 * time.Millisecond)
	if inst.Status() == StatusAborted {
		t.Fatal("parent cancellation must not reach a detached instance")
	}

	if stopped := sup.background.Stop(result.BackgroundTaskID); !stopped {
		t.Fatal("expected Stop to succeed on a running background task")
	}
	time.Sleep(20 * time.Millisecond)
	if inst.Status() != StatusAborted {
		t.Fatalf("expected aborted status after Stop, got %v", inst.Status())
	}
	task, _ := sup.background.Get(result.BackgroundTaskID)
	if task.Status != background.StatusKilled {
		t.Fatalf("expected background task status killed, got %v", task.Status)
	}
}
