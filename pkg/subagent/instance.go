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
	"sync"

	"github.com/google/uuid"

	"github.com/kadirpekel/wave/pkg/ledger"
	"github.com/kadirpekel/wave/pkg/procutil"
)

// AILoop is the minimal interface the Subagent Supervisor needs from the
// model-facing agent loop, which is an external collaborator out of this
// core's scope. Concrete implementations live outside this
// package; the supervisor only ever starts one and asks it to stop.
type AILoop interface {
	// Run drives the loop to completion against the instance's isolated
	// ledger (bound when the LoopFactory built the loop), restricted to
	// the given tool access. Run
	// returns when the loop produces a final assistant message, the
	// context is cancelled, or Abort is called.
	Run(ctx context.Context, access ToolAccess) error
	// Abort requests cooperative cancellation of an in-flight Run.
	Abort()
}

// ToolAccess is the effective tool restriction handed to a subagent's AI
// loop. ExcludeTask is always true: every subagent
// execution strips the Task tool regardless of whether Tools itself is
// an explicit allow-list or "all tools".
type ToolAccess struct {
	// Tools is nil when the config carried no allow-list ("all tools"),
	// otherwise the explicit allow-list with Task already removed.
	Tools       []string
	ExcludeTask bool
}

// LoopFactory constructs the isolated AI loop for one subagent execution,
// bound to its own ledger and sharing the parent's (borrowed, read-only)
// tool registry.
type LoopFactory func(cfg Config, led *ledger.Ledger, toolRegistry any, model string) AILoop

// Instance is one running (or finished) subagent.
type Instance struct {
	ID               string
	Config           Config
	Workdir          string
	Ledger           *ledger.Ledger
	Loop             AILoop
	BackgroundTaskID string

	mu     sync.Mutex
	status Status
	abort  *procutil.AbortGroup
}

// newInstance allocates a UUID and an isolated ledger for cfg, wiring the
// ledger's callbacks to forward events upward by id: the child ledger
// holds no back-reference to the parent, only the closure sync captures.
func newInstance(cfg Config, workdir string, sync func(*Instance)) *Instance {
	inst := &Instance{
		ID:      uuid.NewString(),
		Config:  cfg,
		Workdir: workdir,
		status:  StatusInitializing,
	}

	forward := func() { sync(inst) }
	inst.Ledger = ledger.New(workdir, ledger.Callbacks{
		OnUserMessageAdded:        func(*ledger.Message) { forward() },
		OnAssistantMessageAdded:   func(*ledger.Message) { forward() },
		OnAssistantContentUpdated: func(string, string) { forward() },
		OnToolBlockUpdated:        func(*ledger.Block) { forward() },
		OnDiffBlockAdded:          func(*ledger.Block) { forward() },
		OnErrorBlockAdded:         func(*ledger.Block) { forward() },
		OnMemoryBlockAdded:        func(*ledger.Block) { forward() },
		OnCompressBlockAdded:      func(*ledger.Block) { forward() },
		OnSubagentBlockUpdated:    func(*ledger.Block) { forward() },
		OnCommandOutputAdded:      func(*ledger.Message, *ledger.Block) { forward() },
		OnCommandOutputUpdated:    func(*ledger.Block) { forward() },
		OnCommandOutputCompleted:  func(*ledger.Block) { forward() },
	})
	return inst
}

// Status returns the instance's current lifecycle state.
func (i *Instance) Status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

// setStatus transitions the instance's status. Per the monotonic-
// transition invariant, a terminal status is never overwritten.
func (i *Instance) setStatus(s Status) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.status.IsTerminal() {
		return
	}
	i.status = s
}

// toLedgerStatus maps the instance's internal Status onto the ledger's
// SubagentStatus vocabulary, which has no "initializing" member.
func toLedgerStatus(s Status) ledger.SubagentStatus {
	switch s {
	case StatusCompleted:
		return ledger.SubagentCompleted
	case StatusError:
		return ledger.SubagentError
	case StatusAborted:
		return ledger.SubagentAborted
	default:
		return ledger.SubagentActive
	}
}
