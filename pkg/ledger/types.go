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

// Package ledger is the single source of truth for a session's in-memory
// transcript: an append-only sequence of role-tagged messages, each a
// sequence of typed blocks, with a stream of change callbacks a UI or
// subagent supervisor can subscribe to. The "events owned by
// an interface, callbacks pushed out" shape follows the same pattern as
// a conversational session store; the Block union is a flat,
// JSON-friendly tagged union rather than a typed event hierarchy.
package ledger

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role is the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType discriminates the Block union.
type BlockType string

const (
	BlockText          BlockType = "text"
	BlockTool          BlockType = "tool"
	BlockDiff          BlockType = "diff"
	BlockError         BlockType = "error"
	BlockCompress      BlockType = "compress"
	BlockMemory        BlockType = "memory"
	BlockCommandOutput BlockType = "command_output"
	BlockSubagent      BlockType = "subagent"
	BlockFileHistory   BlockType = "file_history"
)

var validBlockTypes = map[BlockType]bool{
	BlockText:          true,
	BlockTool:          true,
	BlockDiff:          true,
	BlockError:         true,
	BlockCompress:      true,
	BlockMemory:        true,
	BlockCommandOutput: true,
	BlockSubagent:      true,
	BlockFileHistory:   true,
}

// ToolStage is a tool block's lifecycle stage.
type ToolStage string

const (
	ToolStageStart ToolStage = "start"
	ToolStageDelta ToolStage = "delta"
	ToolStageEnd   ToolStage = "end"
)

// CommandOutputState is a command_output block's lifecycle state.
type CommandOutputState string

const (
	CommandOutputRunning CommandOutputState = "running"
	CommandOutputDone    CommandOutputState = "done"
)

// SubagentStatus mirrors the subagent instance's own status.
type SubagentStatus string

const (
	SubagentActive    SubagentStatus = "active"
	SubagentCompleted SubagentStatus = "completed"
	SubagentError     SubagentStatus = "error"
	SubagentAborted   SubagentStatus = "aborted"
)

// MemoryKind discriminates a memory block's scope.
type MemoryKind string

const (
	MemoryProject MemoryKind = "project"
	MemoryUser    MemoryKind = "user"
)

// FileSnapshotRef is the subset of a reversion.Snapshot embedded into a
// file_history block; the Ledger treats snapshotPath as an opaque blob
// identifier.
type FileSnapshotRef struct {
	MessageID    string    `json:"messageId"`
	FilePath     string    `json:"filePath"`
	Operation    string    `json:"operation"`
	Timestamp    time.Time `json:"timestamp"`
	SnapshotPath string    `json:"snapshotPath,omitempty"`
}

// Block is a tagged union over every kind of content a message can carry.
// Only the fields relevant to Type are populated; a flat,
// JSON-friendly struct reads and writes more simply than a Go interface
// would for wire-shaped data like this.
type Block struct {
	Type BlockType `json:"type"`

	// text
	Content string `json:"content,omitempty"`

	// tool
	ToolID     string    `json:"toolId,omitempty"`
	ToolName   string    `json:"toolName,omitempty"`
	Parameters string    `json:"parameters,omitempty"`
	Chunk      string    `json:"chunk,omitempty"`
	Result     string    `json:"result,omitempty"`
	Success    *bool     `json:"success,omitempty"`
	Error      string    `json:"error,omitempty"`
	Stage      ToolStage `json:"stage,omitempty"`

	// diff
	Path       string `json:"path,omitempty"`
	EditScript string `json:"editScript,omitempty"`

	// memory
	MemoryType  MemoryKind `json:"memoryType,omitempty"`
	StoragePath string     `json:"storagePath,omitempty"`

	// command_output
	Command  string             `json:"command,omitempty"`
	Output   string             `json:"output,omitempty"`
	ExitCode *int               `json:"exitCode,omitempty"`
	State    CommandOutputState `json:"state,omitempty"`

	// subagent
	SubagentID string         `json:"subagentId,omitempty"`
	Name       string         `json:"name,omitempty"`
	Status     SubagentStatus `json:"status,omitempty"`
	Messages   []*Message     `json:"messages,omitempty"`

	// file_history
	Snapshots []FileSnapshotRef `json:"snapshots,omitempty"`
}

// UnmarshalJSON rejects blocks carrying an unknown type tag: a persisted
// session written by a newer build must fail loudly rather than load with
// its data silently dropped. Nested subagent messages go through the same
// check since their blocks decode recursively.
func (b *Block) UnmarshalJSON(data []byte) error {
	type blockAlias Block
	var decoded blockAlias
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	if !validBlockTypes[decoded.Type] {
		return fmt.Errorf("unknown block type %q", decoded.Type)
	}
	*b = Block(decoded)
	return nil
}

// Message is an ordered sequence of blocks under a role. Messages may
// carry an optional stable id, assigned by the Ledger on append.
type Message struct {
	ID      string    `json:"id,omitempty"`
	Role    Role      `json:"role"`
	Blocks  []*Block  `json:"blocks"`
	Source  string    `json:"source,omitempty"` // user|hook|...
	Command string    `json:"command,omitempty"`
	AddedAt time.Time `json:"addedAt"`
}

// lastTextBlock returns the message's text block if present.
func (m *Message) lastTextBlock() *Block {
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			return b
		}
	}
	return nil
}
