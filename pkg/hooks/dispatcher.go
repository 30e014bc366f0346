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
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/wave/pkg/ledger"
	"github.com/kadirpekel/wave/pkg/waveconfig"
)

var tracer = otel.Tracer("github.com/kadirpekel/wave/pkg/hooks")

// blockingExitCode is the sentinel exit code that vetoes the triggering
// action.
const blockingExitCode = 2

// pluginRootEnv is the env var injected into a hook command's child
// environment for custom-command bash execution. It is scoped to
// the spawned child only; it must never leak into the parent process.
const pluginRootEnv = "WAVE_PLUGIN_ROOT"

// Dispatcher runs applicable hook commands for a lifecycle event and
// interprets their results in two passes, blocking then non-blocking.
type Dispatcher struct {
	config     waveconfig.HookConfiguration
	safety     waveconfig.CommandSafety
	executor   Executor
	workdir    string
	pluginRoot string
	logger     *slog.Logger
}

// New creates a Dispatcher for the merged hook configuration.
func New(config waveconfig.HookConfiguration, safety waveconfig.CommandSafety, workdir, pluginRoot string, executor Executor, logger *slog.Logger) *Dispatcher {
	if executor == nil {
		executor = ProcessExecutor{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		config:     config,
		safety:     safety,
		executor:   executor,
		workdir:    workdir,
		pluginRoot: pluginRoot,
		logger:     logger.With("component", "hooks"),
	}
}

// Result is the control-flow decision returned to the caller.
type Result struct {
	ShouldBlock  bool
	ErrorMessage string
}

// commandResult pairs a CommandResult with the command string that
// produced it, for logging.
type commandResult struct {
	command string
	result  CommandResult
}

// applicableGroups returns the matcher groups of event that apply: for
// tool events, those whose matcher matches toolName (empty matcher means
// any); for non-tool events, all of them.
func (d *Dispatcher) applicableGroups(event waveconfig.HookEvent, toolName string) []waveconfig.HookMatcherGroup {
	groups := d.config[event]
	if len(groups) == 0 {
		return nil
	}
	if !isToolEvent(event) {
		return groups
	}
	var applicable []waveconfig.HookMatcherGroup
	for _, g := range groups {
		if matches(g.Matcher, toolName) {
			applicable = append(applicable, g)
		}
	}
	return applicable
}

func isToolEvent(event waveconfig.HookEvent) bool {
	return event == waveconfig.EventPreToolUse || event == waveconfig.EventPostToolUse
}

// runAll executes every command of every applicable group, in declaration
// order, with no parallelism and no short-circuiting on failure.
func (d *Dispatcher) runAll(ctx context.Context, event waveconfig.HookEvent, toolName string) []commandResult {
	groups := d.applicableGroups(event, toolName)
	if len(groups) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "hooks.dispatch", trace.WithAttributes(
		attribute.String("hook.event", string(event)),
		attribute.String("hook.tool_name", toolName),
	))
	defer span.End()

	env := append(os.Environ(), fmt.Sprintf("%s=%s", pluginRootEnv, d.pluginRoot))

	var results []commandResult
	for _, group := range groups {
		for _, cmd := range group.Hooks {
			if !d.safety.IsCommandSafe(cmd.Command) {
				d.logger.Warn("hook command rejected by command safety policy", "command", cmd.Command, "event", event)
				results = append(results, commandResult{
					command: cmd.Command,
					result:  CommandResult{Success: false, Stderr: "command rejected by command safety policy"},
				})
				continue
			}

			r := d.executor.Run(ctx, cmd.Command, env, d.workdir, d.safety.MaxExecutionTime)
			if !r.Success {
				span.RecordError(fmt.Errorf("hook command failed: %s", cmd.Command))
			}
			results = append(results, commandResult{command: cmd.Command, result: r})
		}
	}
	span.SetStatus(codes.Ok, "")
	return results
}

// Dispatch runs event's applicable hooks against led, applying both the
// blocking pass and the non-blocking pass, mutating led in place
// per the event-specific behavior table, and returns the caller-facing
// control decision.
// toolName and toolID are only meaningful for PreToolUse/PostToolUse;
// promptOrOutput is not read: hook commands receive neither the prompt
// text nor the tool output.
func (d *Dispatcher) Dispatch(ctx context.Context, event waveconfig.HookEvent, led *ledger.Ledger, toolName, toolID, promptOrOutput string) Result {
	results := d.runAll(ctx, event, toolName)
	if len(results) == 0 {
		return Result{}
	}

	result := d.blockingPass(event, led, toolID, results)
	d.nonBlockingPass(event, led, results)
	return result
}

// blockingPass finds the first result with exitCode==2 and applies the
// per-event veto behavior. Remaining results are
// ignored for blocking purposes (but still run, and still subject to the
// non-blocking pass).
func (d *Dispatcher) blockingPass(event waveconfig.HookEvent, led *ledger.Ledger, toolID string, results []commandResult) Result {
	var blocking *commandResult
	for i := range results {
		if ec := results[i].result.ExitCode; ec != nil && *ec == blockingExitCode {
			blocking = &results[i]
			break
		}
	}
	if blocking == nil {
		return Result{}
	}

	switch event {
	case waveconfig.EventUserPromptSubmit:
		led.AddErrorBlock(blocking.result.Stderr)
		led.RemoveLastUserMessage()
		return Result{ShouldBlock: true, ErrorMessage: blocking.result.Stderr}

	case waveconfig.EventPreToolUse:
		success := false
		errMsg := "Hook blocked tool execution"
		stage := ledger.ToolStageEnd
		led.UpdateToolBlock(toolID, ledger.ToolBlockUpdate{
			Success: &success,
			Error:   &errMsg,
			Result:  &blocking.result.Stderr,
			Stage:   &stage,
		})
		return Result{ShouldBlock: true, ErrorMessage: blocking.result.Stderr}

	case waveconfig.EventPostToolUse:
		led.AppendUserMessage(blocking.result.Stderr, "", "HOOK")
		return Result{ShouldBlock: false}

	case waveconfig.EventStop, waveconfig.EventSubagentStop:
		led.AppendUserMessage(blocking.result.Stderr, "", "HOOK")
		return Result{ShouldBlock: true, ErrorMessage: blocking.result.Stderr}

	case waveconfig.EventNotification:
		led.AddErrorBlock(blocking.result.Stderr)
		return Result{ShouldBlock: false, ErrorMessage: blocking.result.Stderr}
	}

	return Result{}
}

// nonBlockingPass interprets every result with a defined exit code that
// wasn't the blocking sentinel.
func (d *Dispatcher) nonBlockingPass(event waveconfig.HookEvent, led *ledger.Ledger, results []commandResult) {
	for _, cr := range results {
		ec := cr.result.ExitCode
		if ec == nil {
			continue
		}
		switch {
		case *ec == 0:
			if event == waveconfig.EventUserPromptSubmit && cr.result.Stdout != "" {
				led.AppendUserMessage(cr.result.Stdout, "", "HOOK")
			}
		case *ec == blockingExitCode:
			// Already consumed by the blocking pass.
		default:
			msg := cr.result.Stderr
			if msg == "" {
				msg = "Hook execution failed"
			}
			led.AddErrorBlock(msg)
		}
	}
}
