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

package background

import (
	"testing"
	"time"

	"github.com/kadirpekel/wave/pkg/procutil"
)

func waitForTerminal(t *testing.T, r *Registry, id string, timeout time.Duration) *Task {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		out, ok := r.GetOutput(id, "")
		if ok && out.Status.IsTerminal() {
			task, _ := r.Get(id)
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach a terminal state within %s", id, timeout)
	return nil
}

func TestStartShellCompletes(t *testing.T) {
	r := New(t.TempDir(), nil, nil)
	task := r.StartShell("echo hello", 0)

	done := waitForTerminal(t, r, task.ID, 2*time.Second)
	if done.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}
	if done.ExitCode == nil || *done.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %v", done.ExitCode)
	}
}

func TestStartShellFailsOnNonZeroExit(t *testing.T) {
	r := New(t.TempDir(), nil, nil)
	task := r.StartShell("exit 3", 0)

	done := waitForTerminal(t, r, task.ID, 2*time.Second)
	if done.Status != StatusFailed {
		t.Fatalf("expected failed per the non-zero-exit decision, got %s", done.Status)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	r := New(t.TempDir(), nil, nil)
	task := r.StartShell("sleep 5", 0)

	if ok := r.Stop(task.ID); !ok {
		t.Fatal("expected first Stop to succeed")
	}
	if ok := r.Stop(task.ID); ok {
		t.Fatal("expected second Stop on a terminal task to return false")
	}
}

func TestStopKillsSleepingProcess(t *testing.T) {
	r := New(t.TempDir(), nil, nil)
	task := r.StartShell("sleep 10", 0)
	time.Sleep(50 * time.Millisecond)

	r.Stop(task.ID)
	done, ok := r.Get(task.ID)
	if !ok || done.Status != StatusKilled {
		t.Fatalf("expected killed status, got %+v", done)
	}
}

// A shell that ignores SIGTERM (the trap applies to the shell itself,
// which keeps respawning short sleeps) must be force-killed by the
// second phase after the grace period.
func TestStopForceKillsTermIgnoringProcess(t *testing.T) {
	r := New(t.TempDir(), nil, nil)
	task := r.StartShell("trap '' TERM; while true; do sleep 0.1; done", 0)
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	if ok := r.Stop(task.ID); !ok {
		t.Fatal("expected Stop to succeed")
	}
	if elapsed := time.Since(start); elapsed < procutil.KillProcessGroupDelay {
		t.Fatalf("expected Stop to wait out the TERM grace period, returned after %s", elapsed)
	}

	done := waitForTerminal(t, r, task.ID, 2*time.Second)
	if done.Status != StatusKilled {
		t.Fatalf("expected killed, got %s", done.Status)
	}
}

func TestShellTimeoutStopsProcess(t *testing.T) {
	r := New(t.TempDir(), nil, nil)
	task := r.StartShell("sleep 10", 200*time.Millisecond)

	done := waitForTerminal(t, r, task.ID, 2*time.Second)
	if done.Status != StatusKilled {
		t.Fatalf("expected killed after timeout, got %s", done.Status)
	}
	if done.Runtime() < 200*time.Millisecond {
		t.Fatalf("expected runtime >= timeout, got %s", done.Runtime())
	}
}

func TestSubagentTaskStopInvokesOnStop(t *testing.T) {
	r := New(t.TempDir(), nil, nil)
	stopped := false
	task := r.AddSubagentTask("sub-1", "test subagent", func() { stopped = true })

	if ok := r.Stop(task.ID); !ok {
		t.Fatal("expected Stop to succeed")
	}
	if !stopped {
		t.Fatal("expected OnStop to be invoked")
	}
}

func TestGetOutputFiltersLines(t *testing.T) {
	r := New(t.TempDir(), nil, nil)
	task := r.StartShell("printf 'one\\ntwo\\nthree\\n'", 0)
	waitForTerminal(t, r, task.ID, 2*time.Second)

	out, ok := r.GetOutput(task.ID, "tw.")
	if !ok {
		t.Fatal("expected output")
	}
	if out.Stdout != "two\n" {
		t.Fatalf("expected filtered output 'two\\n', got %q", out.Stdout)
	}
}

func TestSweeperRemovesOnlyFinishedTasks(t *testing.T) {
	r := New(t.TempDir(), nil, nil)
	finished := r.StartShell("echo done", 0)
	waitForTerminal(t, r, finished.ID, 2*time.Second)
	running := r.StartShell("sleep 10", 0)
	defer r.Stop(running.ID)

	stop := r.StartSweeper(10*time.Millisecond, time.Millisecond)
	defer stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := r.Get(finished.ID); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expected the finished task to be swept")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, ok := r.Get(running.ID); !ok {
		t.Fatal("running task must never be swept")
	}
}

func TestCleanupStopsAllRunningTasks(t *testing.T) {
	r := New(t.TempDir(), nil, nil)
	t1 := r.StartShell("sleep 10", 0)
	t2 := r.StartShell("sleep 10", 0)

	r.Cleanup()

	if _, ok := r.Get(t1.ID); ok {
		t.Fatal("expected registry cleared")
	}
	if _, ok := r.Get(t2.ID); ok {
		t.Fatal("expected registry cleared")
	}
}
