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
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/wave/pkg/background"
	"github.com/kadirpekel/wave/pkg/ledger"
	"github.com/kadirpekel/wave/pkg/observability"
	"github.com/kadirpekel/wave/pkg/procutil"
	"github.com/kadirpekel/wave/pkg/registry"
)

var tracer = otel.Tracer("github.com/kadirpekel/wave/pkg/subagent")

// Supervisor spawns, tracks, and tears down subagent instances.
// It composes every other core component: the Background Task Registry
// for detachment, and (borrowed by reference, never mutated) the parent
// tool registry every instance's isolated AI loop is handed.
type Supervisor struct {
	mu           sync.Mutex
	instances    map[string]*Instance
	configCache  map[string]*registry.BaseRegistry[Config]
	parentLedger *ledger.Ledger
	background   *background.Registry
	toolRegistry any
	loopFactory  LoopFactory
	logger       *slog.Logger
	metrics      *observability.Metrics
}

// New creates a Supervisor. parentLedger receives forwarded subagent
// block updates; bg is where detached instances are registered;
// toolRegistry is shared by reference with every instance's loop, never
// mutated. metrics may be nil.
func New(parentLedger *ledger.Ledger, bg *background.Registry, toolRegistry any, loopFactory LoopFactory, logger *slog.Logger, metrics *observability.Metrics) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		instances:    make(map[string]*Instance),
		configCache:  make(map[string]*registry.BaseRegistry[Config]),
		parentLedger: parentLedger,
		background:   bg,
		toolRegistry: toolRegistry,
		loopFactory:  loopFactory,
		logger:       logger.With("component", "subagent"),
		metrics:      metrics,
	}
}

// loadConfigs lazily reads and caches workdir's subagent definitions.
func (s *Supervisor) loadConfigs(workdir string) (*registry.BaseRegistry[Config], error) {
	s.mu.Lock()
	if reg, ok := s.configCache[workdir]; ok {
		s.mu.Unlock()
		return reg, nil
	}
	s.mu.Unlock()

	reg, err := loadConfigsFromDisk(workdir)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.configCache[workdir] = reg
	s.mu.Unlock()
	return reg, nil
}

// Get returns a tracked instance by id.
func (s *Supervisor) Get(id string) (*Instance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	return inst, ok
}

// syncParentBlock pushes inst's current status and embedded messages to
// the parent ledger's subagent block.
func (s *Supervisor) syncParentBlock(inst *Instance) {
	if s.parentLedger == nil {
		return
	}
	s.parentLedger.AddOrUpdateSubagentBlock(inst.ID, inst.Config.Name, toLedgerStatus(inst.Status()), inst.Ledger.Messages())
}

// ExecuteOptions configures one ExecuteTask call.
type ExecuteOptions struct {
	Workdir          string
	SubagentType     string
	Prompt           string
	RunInBackground  bool
	ParentAgentModel string
	ParentFastModel  string
}

// TaskResult is what ExecuteTask returns for a foreground run, or the
// deferred outcome recorded against a background task for a detached one.
type TaskResult struct {
	Text             string
	BackgroundTaskID string
}

// CreateInstance allocates and registers a new Instance for subagentType
// under workdir, without starting execution.
func (s *Supervisor) CreateInstance(workdir, subagentType string, parentAgentModel, parentFastModel string) (*Instance, error) {
	configs, err := s.loadConfigs(workdir)
	if err != nil {
		return nil, err
	}
	cfg, ok := configs.Get(subagentType)
	if !ok {
		return nil, fmt.Errorf("no subagent configuration named %q", subagentType)
	}
	cfg.Model = cfg.ResolveModel(parentAgentModel, parentFastModel)

	inst := newInstance(cfg, workdir, s.syncParentBlock)
	inst.Loop = s.loopFactory(cfg, inst.Ledger, s.toolRegistry, cfg.Model)

	s.mu.Lock()
	s.instances[inst.ID] = inst
	s.mu.Unlock()

	s.metrics.RecordSessionCreated()
	return inst, nil
}

// ExecuteTask runs opts.Prompt against a freshly created instance of
// opts.SubagentType. A foreground run blocks until completion, error, or
// abort and returns the
// concatenated text of the final assistant message. A background run
// registers a BackgroundTask and returns immediately with its id; the
// execution continues on its own goroutine, deliberately not linked to
// ctx.
func (s *Supervisor) ExecuteTask(ctx context.Context, opts ExecuteOptions) (*TaskResult, error) {
	inst, err := s.CreateInstance(opts.Workdir, opts.SubagentType, opts.ParentAgentModel, opts.ParentFastModel)
	if err != nil {
		return nil, err
	}

	if opts.RunInBackground {
		s.startDetached(inst, opts.Prompt)
		return &TaskResult{BackgroundTaskID: inst.ID}, nil
	}

	text, err := s.runForeground(ctx, inst, opts.Prompt, false)
	if err != nil {
		return nil, err
	}
	return &TaskResult{Text: text}, nil
}

// runForeground executes inst's task under ctx, with a single
// consolidated abort listener translating ctx cancellation into both a
// status transition and a loop abort, detached on every exit path.
func (s *Supervisor) runForeground(ctx context.Context, inst *Instance, prompt string, backgrounded bool) (string, error) {
	ctx, span := tracer.Start(ctx, "subagent.execute", trace.WithAttributes(
		attribute.String("subagent.id", inst.ID),
		attribute.String("subagent.type", inst.Config.SubagentType),
		attribute.Bool("subagent.backgrounded", backgrounded),
	))
	defer span.End()

	abort := procutil.NewAbortGroup(ctx)
	abort.On(func() {
		inst.setStatus(StatusAborted)
		inst.Loop.Abort()
		s.syncParentBlock(inst)
	})
	inst.mu.Lock()
	inst.abort = abort
	inst.mu.Unlock()
	defer abort.Detach()

	inst.setStatus(StatusActive)
	s.syncParentBlock(inst)

	inst.Ledger.AppendUserMessage(prompt, "", "subagent")
	allowed := inst.Config.EffectiveAllowedTools()

	runErr := inst.Loop.Run(ctx, allowed)

	if inst.Status() == StatusAborted {
		span.SetStatus(codes.Error, "aborted")
		s.metrics.RecordSubagentExecution(string(StatusAborted))
		return "", &procutil.CancelledError{Op: "subagent " + inst.ID}
	}
	if runErr != nil {
		inst.setStatus(StatusError)
		s.syncParentBlock(inst)
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		s.metrics.RecordSubagentExecution(string(StatusError))
		return "", runErr
	}

	text, err := lastAssistantText(inst.Ledger)
	if err != nil {
		inst.setStatus(StatusError)
		s.syncParentBlock(inst)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.RecordSubagentExecution(string(StatusError))
		return "", err
	}

	inst.setStatus(StatusCompleted)
	s.syncParentBlock(inst)
	span.SetStatus(codes.Ok, "")
	s.metrics.RecordSubagentExecution(string(StatusCompleted))
	return text, nil
}

// startDetached registers inst as a background subagent task and runs it
// on an independent context: the parent's cancellation token is never
// linked.
func (s *Supervisor) startDetached(inst *Instance, prompt string) {
	inst.BackgroundTaskID = inst.ID
	s.background.AddSubagentTask(inst.ID, fmt.Sprintf("subagent:%s", inst.Config.SubagentType), func() {
		inst.setStatus(StatusAborted)
		inst.Loop.Abort()
		s.syncParentBlock(inst)
	})

	go func() {
		text, err := s.runForeground(context.Background(), inst, prompt, true)
		switch inst.Status() {
		case StatusCompleted:
			s.background.Finish(inst.ID, background.StatusCompleted, text, "")
		case StatusAborted:
			s.background.Finish(inst.ID, background.StatusKilled, "", "aborted")
		default:
			msg := ""
			if err != nil {
				msg = err.Error()
			}
			s.background.Finish(inst.ID, background.StatusFailed, "", msg)
		}
	}()
}

// BackgroundInstance detaches an already-running foreground instance to
// the background mid-flight: its existing abort listener is removed (so
// the parent's cancellation can no longer reach it) and a BackgroundTask
// is registered in its place.
func (s *Supervisor) BackgroundInstance(id string) error {
	inst, ok := s.Get(id)
	if !ok {
		return fmt.Errorf("no subagent instance %q", id)
	}

	inst.mu.Lock()
	abort := inst.abort
	inst.mu.Unlock()
	if abort != nil {
		abort.Detach()
	}

	inst.BackgroundTaskID = inst.ID
	s.background.AddSubagentTask(inst.ID, fmt.Sprintf("subagent:%s", inst.Config.SubagentType), func() {
		inst.setStatus(StatusAborted)
		inst.Loop.Abort()
		s.syncParentBlock(inst)
	})
	return nil
}

// Cleanup removes every terminal instance from the supervisor's tracking
// map.
func (s *Supervisor) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, inst := range s.instances {
		if inst.Status().IsTerminal() {
			delete(s.instances, id)
		}
	}
}

// lastAssistantText concatenates the text blocks of led's last assistant
// message, falling back to noTextResponse, or ErrNoResponse if no
// assistant message exists at all.
func lastAssistantText(led *ledger.Ledger) (string, error) {
	messages := led.Messages()
	var last *ledger.Message
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == ledger.RoleAssistant {
			last = messages[i]
			break
		}
	}
	if last == nil {
		return "", ErrNoResponse
	}

	var parts []string
	for _, b := range last.Blocks {
		if b.Type == ledger.BlockText && b.Content != "" {
			parts = append(parts, b.Content)
		}
	}
	if len(parts) == 0 {
		return noTextResponse, nil
	}
	return strings.Join(parts, ""), nil
}
