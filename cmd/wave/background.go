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
	"fmt"
	"net/http"
	"time"

	"github.com/kadirpekel/wave/pkg/background"
	"github.com/kadirpekel/wave/pkg/observability"
)

// BackgroundCmd groups operations over a Background Task Registry.
// A CLI-driven registry only tracks what it itself starts in
// this process; it exists to exercise start/stop/output against real
// child processes without an attached agent loop.
type BackgroundCmd struct {
	Run    BackgroundRunCmd    `cmd:"" help:"Run a shell command under the registry and wait for it."`
	List   BackgroundListCmd   `cmd:"" help:"Print a note that tasks are tracked per process; lists no tasks."`
	Output BackgroundOutputCmd `cmd:"" help:"Run a shell command, wait for it, and print its output filtered by an optional regex."`
}

// BackgroundRunCmd starts one shell command through StartShell and blocks
// until it reaches a terminal status, printing captured output. With
// --metrics-addr set, task lifecycle metrics are served at /metrics for
// the duration of the run.
type BackgroundRunCmd struct {
	Workdir     string        `help:"Working directory for the command." default:"."`
	Timeout     time.Duration `help:"Timeout before the task is stopped (0 = none)."`
	MetricsAddr string        `help:"Listen address to serve Prometheus metrics on (empty = disabled)." placeholder:"ADDR"`
	Command     string        `arg:"" help:"Shell command to run."`
}

func (c *BackgroundRunCmd) Run(cli *CLI) error {
	var metrics *observability.Metrics
	if c.MetricsAddr != "" {
		metrics = observability.NewMetrics("")
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		go func() {
			if err := http.ListenAndServe(c.MetricsAddr, mux); err != nil {
				fmt.Printf("metrics server stopped: %v\n", err)
			}
		}()
	}

	reg := background.New(c.Workdir, nil, metrics)
	task := reg.StartShell(c.Command, c.Timeout)

	waitUntilTerminal(reg, task.ID)
	task, _ = reg.Get(task.ID)

	fmt.Printf("task %s status=%s runtime=%s\n", task.ID, task.Status, task.Runtime())
	if task.Stdout != "" {
		fmt.Println("--- stdout ---")
		fmt.Println(task.Stdout)
	}
	if task.Stderr != "" {
		fmt.Println("--- stderr ---")
		fmt.Println(task.Stderr)
	}
	return nil
}

// BackgroundListCmd starts nothing; it documents that a registry's
// tracked tasks are process-local. Listing only makes sense against the
// same in-process registry that started the tasks, which `background run`
// already prints directly.
type BackgroundListCmd struct{}

func (c *BackgroundListCmd) Run(cli *CLI) error {
	fmt.Println("background tasks are tracked per-process; use 'wave background run' to start and observe one directly")
	return nil
}

// BackgroundOutputCmd demonstrates GetOutput's regex-filtering contract
// against a command it starts itself, since the registry holds no
// cross-process task table to query by id alone.
type BackgroundOutputCmd struct {
	Workdir string `help:"Working directory for the command." default:"."`
	Filter  string `help:"Optional regex to filter output lines."`
	Command string `arg:"" help:"Shell command to run and capture."`
}

func (c *BackgroundOutputCmd) Run(cli *CLI) error {
	reg := background.New(c.Workdir, nil, nil)
	task := reg.StartShell(c.Command, 0)

	waitUntilTerminal(reg, task.ID)

	out, ok := reg.GetOutput(task.ID, c.Filter)
	if !ok {
		return fmt.Errorf("task %s not found", task.ID)
	}
	fmt.Printf("status=%s\n--- stdout ---\n%s\n--- stderr ---\n%s\n", out.Status, out.Stdout, out.Stderr)
	return nil
}

// waitUntilTerminal polls the registry until the task reaches a terminal
// status, reading through GetOutput so status checks stay under the
// registry's lock.
func waitUntilTerminal(reg *background.Registry, id string) {
	for {
		out, ok := reg.GetOutput(id, "")
		if !ok || out.Status.IsTerminal() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}
