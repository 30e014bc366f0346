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

package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const maxUserInputHistory = 100

// Callbacks are the change notifications a Ledger fires as it mutates.
// Every field is optional; nil callbacks are simply skipped.
type Callbacks struct {
	OnUserMessageAdded        func(*Message)
	OnAssistantMessageAdded   func(*Message)
	OnAssistantContentUpdated func(chunk, accumulated string)
	OnToolBlockUpdated        func(*Block)
	OnDiffBlockAdded          func(*Block)
	OnErrorBlockAdded         func(*Block)
	OnMemoryBlockAdded        func(*Block)
	OnCompressBlockAdded      func(*Block)
	OnSubagentBlockUpdated    func(*Block)
	OnCommandOutputAdded      func(*Message, *Block)
	OnCommandOutputUpdated    func(*Block)
	OnCommandOutputCompleted  func(*Block)
}

// Ledger is the in-memory transcript for one session. All mutators
// are safe for concurrent use; a single logical event loop means
// contention is not expected, but the Ledger does not rely on that for
// correctness.
type Ledger struct {
	mu sync.Mutex

	sessionID         string
	workdir           string
	startedAt         time.Time
	latestTotalTokens int

	messages         []*Message
	userInputHistory []string

	callbacks Callbacks
}

// New creates an empty Ledger for a freshly started session.
func New(workdir string, callbacks Callbacks) *Ledger {
	return &Ledger{
		sessionID: uuid.NewString(),
		workdir:   workdir,
		startedAt: time.Now(),
		callbacks: callbacks,
	}
}

// SessionID returns the ledger's current session id (changes on compress).
func (l *Ledger) SessionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessionID
}

// AppendUserMessage appends a new user message and fires
// OnUserMessageAdded.
func (l *Ledger) AppendUserMessage(content, command, source string) *Message {
	l.mu.Lock()
	msg := &Message{
		ID:      uuid.NewString(),
		Role:    RoleUser,
		Command: command,
		Source:  source,
		AddedAt: time.Now(),
		Blocks:  []*Block{{Type: BlockText, Content: content}},
	}
	l.messages = append(l.messages, msg)
	l.recordUserInput(content)
	cb := l.callbacks.OnUserMessageAdded
	l.mu.Unlock()

	if cb != nil {
		cb(msg)
	}
	return msg
}

// recordUserInput maintains userInputHistory deduplicated against its
// immediate predecessor and capped at 100 entries.
// Must be called with l.mu held.
func (l *Ledger) recordUserInput(content string) {
	if n := len(l.userInputHistory); n > 0 && l.userInputHistory[n-1] == content {
		return
	}
	l.userInputHistory = append(l.userInputHistory, content)
	if len(l.userInputHistory) > maxUserInputHistory {
		l.userInputHistory = l.userInputHistory[len(l.userInputHistory)-maxUserInputHistory:]
	}
}

// AppendAssistantShell creates an empty assistant message and fires
// OnAssistantMessageAdded.
func (l *Ledger) AppendAssistantShell() *Message {
	l.mu.Lock()
	msg := &Message{
		ID:      uuid.NewString(),
		Role:    RoleAssistant,
		AddedAt: time.Now(),
	}
	l.messages = append(l.messages, msg)
	cb := l.callbacks.OnAssistantMessageAdded
	l.mu.Unlock()

	if cb != nil {
		cb(msg)
	}
	return msg
}

// lastMessage returns the most recently appended message, or nil. Must be
// called with l.mu held.
func (l *Ledger) lastMessage() *Message {
	if len(l.messages) == 0 {
		return nil
	}
	return l.messages[len(l.messages)-1]
}

// StreamAssistantContent accepts the **accumulated** text after a chunk,
// computes the delta against the current text block, rewrites it, and
// fires OnAssistantContentUpdated(chunk, accumulated). A text block is
// prepended if the last assistant message doesn't have one yet.
func (l *Ledger) StreamAssistantContent(accumulated string) {
	l.mu.Lock()
	msg := l.lastMessage()
	if msg == nil || msg.Role != RoleAssistant {
		l.mu.Unlock()
		return
	}

	block := msg.lastTextBlock()
	var oldLen int
	if block == nil {
		block = &Block{Type: BlockText}
		msg.Blocks = append([]*Block{block}, msg.Blocks...)
	} else {
		oldLen = len(block.Content)
	}

	chunk := ""
	if len(accumulated) >= oldLen {
		chunk = accumulated[oldLen:]
	}
	block.Content = accumulated

	cb := l.callbacks.OnAssistantContentUpdated
	l.mu.Unlock()

	if cb != nil {
		cb(chunk, accumulated)
	}
}

// ToolBlockUpdate carries the fields an UpdateToolBlock call overwrites;
// zero values are distinguished from "not provided" via pointers where the
// zero value is meaningful (Success, ExitCode equivalents).
type ToolBlockUpdate struct {
	ToolName   *string
	Parameters *string
	Chunk      *string
	Result     *string
	Success    *bool
	Error      *string
	Stage      *ToolStage
}

// UpdateToolBlock upserts by tool call id into the last assistant message:
// provided fields overwrite, others are left untouched. Fires
// OnToolBlockUpdated with the merged view.
func (l *Ledger) UpdateToolBlock(toolID string, update ToolBlockUpdate) *Block {
	l.mu.Lock()
	msg := l.lastMessage()
	if msg == nil || msg.Role != RoleAssistant {
		l.mu.Unlock()
		return nil
	}

	var block *Block
	for _, b := range msg.Blocks {
		if b.Type == BlockTool && b.ToolID == toolID {
			block = b
			break
		}
	}
	if block == nil {
		block = &Block{Type: BlockTool, ToolID: toolID}
		msg.Blocks = append(msg.Blocks, block)
	}

	if update.ToolName != nil {
		block.ToolName = *update.ToolName
	}
	if update.Parameters != nil {
		block.Parameters = *update.Parameters
	}
	if update.Chunk != nil {
		block.Chunk = *update.Chunk
	}
	if update.Result != nil {
		block.Result = *update.Result
	}
	if update.Success != nil {
		block.Success = update.Success
	}
	if update.Error != nil {
		block.Error = *update.Error
	}
	if update.Stage != nil {
		block.Stage = *update.Stage
	}

	cb := l.callbacks.OnToolBlockUpdated
	l.mu.Unlock()

	if cb != nil {
		cb(block)
	}
	return block
}

// appendBlockToLastAssistant is the shared body of AddDiffBlock,
// AddErrorBlock, AddMemoryBlock, and AddCompressBlock.
func (l *Ledger) appendBlockToLastAssistant(block *Block, cb func(*Block)) {
	l.mu.Lock()
	msg := l.lastMessage()
	if msg == nil || msg.Role != RoleAssistant {
		l.mu.Unlock()
		return
	}
	msg.Blocks = append(msg.Blocks, block)
	l.mu.Unlock()

	if cb != nil {
		cb(block)
	}
}

// AddDiffBlock appends a diff block.
func (l *Ledger) AddDiffBlock(path, editScript string) {
	l.appendBlockToLastAssistant(&Block{Type: BlockDiff, Path: path, EditScript: editScript}, l.callbacks.OnDiffBlockAdded)
}

// AddErrorBlock appends an error block.
func (l *Ledger) AddErrorBlock(message string) {
	l.appendBlockToLastAssistant(&Block{Type: BlockError, Error: message}, l.callbacks.OnErrorBlockAdded)
}

// AddMemoryBlock appends a memory block.
func (l *Ledger) AddMemoryBlock(content string, kind MemoryKind, storagePath string, success bool) {
	l.appendBlockToLastAssistant(&Block{
		Type:        BlockMemory,
		Content:     content,
		MemoryType:  kind,
		StoragePath: storagePath,
		Success:     &success,
	}, l.callbacks.OnMemoryBlockAdded)
}

// AddCompressBlock appends a compress block. This is distinct from
// CompressMessagesAndUpdateSession, which replaces a message range.
func (l *Ledger) AddCompressBlock(content string) {
	l.appendBlockToLastAssistant(&Block{Type: BlockCompress, Content: content}, l.callbacks.OnCompressBlockAdded)
}

// AddCommandOutputMessage opens a new message with a running
// command_output block.
func (l *Ledger) AddCommandOutputMessage(command string) *Message {
	l.mu.Lock()
	msg := &Message{
		ID:      uuid.NewString(),
		Role:    RoleAssistant,
		AddedAt: time.Now(),
		Blocks: []*Block{{
			Type:    BlockCommandOutput,
			Command: command,
			State:   CommandOutputRunning,
		}},
	}
	l.messages = append(l.messages, msg)
	cb := l.callbacks.OnCommandOutputAdded
	block := msg.Blocks[0]
	l.mu.Unlock()

	if cb != nil {
		cb(msg, block)
	}
	return msg
}

// findOpenCommandOutput returns the most recent running command_output
// block matching command, searching messages from the tail. Must be
// called with l.mu held.
func (l *Ledger) findOpenCommandOutput(command string) *Block {
	for i := len(l.messages) - 1; i >= 0; i-- {
		for _, b := range l.messages[i].Blocks {
			if b.Type == BlockCommandOutput && b.Command == command && b.State == CommandOutputRunning {
				return b
			}
		}
	}
	return nil
}

// UpdateCommandOutputMessage replaces the accumulated output of the most
// recent running block matching command.
func (l *Ledger) UpdateCommandOutputMessage(command, output string) {
	l.mu.Lock()
	block := l.findOpenCommandOutput(command)
	if block == nil {
		l.mu.Unlock()
		return
	}
	block.Output = output
	cb := l.callbacks.OnCommandOutputUpdated
	l.mu.Unlock()

	if cb != nil {
		cb(block)
	}
}

// CompleteCommandMessage marks the most recent running block matching
// command as done with the given exit code.
func (l *Ledger) CompleteCommandMessage(command string, exitCode int) {
	l.mu.Lock()
	block := l.findOpenCommandOutput(command)
	if block == nil {
		l.mu.Unlock()
		return
	}
	block.State = CommandOutputDone
	block.ExitCode = &exitCode
	cb := l.callbacks.OnCommandOutputCompleted
	l.mu.Unlock()

	if cb != nil {
		cb(block)
	}
}

// AddOrUpdateSubagentBlock upserts a subagent block keyed by subagentID on
// the last assistant message, mutating status and embedded messages
// atomically.
func (l *Ledger) AddOrUpdateSubagentBlock(subagentID, name string, status SubagentStatus, messages []*Message) *Block {
	l.mu.Lock()
	msg := l.lastMessage()
	if msg == nil || msg.Role != RoleAssistant {
		l.mu.Unlock()
		return nil
	}

	var block *Block
	for _, b := range msg.Blocks {
		if b.Type == BlockSubagent && b.SubagentID == subagentID {
			block = b
			break
		}
	}
	if block == nil {
		block = &Block{Type: BlockSubagent, SubagentID: subagentID, Name: name}
		msg.Blocks = append(msg.Blocks, block)
	}
	block.Status = status
	block.Messages = messages

	cb := l.callbacks.OnSubagentBlockUpdated
	l.mu.Unlock()

	if cb != nil {
		cb(block)
	}
	return block
}

// AttachFileHistory appends a file_history block carrying refs onto the
// message identified by messageID, so committed snapshots drained from
// the reversion log stay discoverable for a later revert. Returns false
// when refs is empty or no such message exists.
func (l *Ledger) AttachFileHistory(messageID string, refs []FileSnapshotRef) bool {
	if len(refs) == 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := len(l.messages) - 1; i >= 0; i-- {
		if l.messages[i].ID == messageID {
			l.messages[i].Blocks = append(l.messages[i].Blocks, &Block{Type: BlockFileHistory, Snapshots: refs})
			return true
		}
	}
	return false
}

// RemoveLastUserMessage pops the last message iff its role is user; used
// by hook vetoes on UserPromptSubmit.
func (l *Ledger) RemoveLastUserMessage() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.messages) == 0 {
		return false
	}
	last := l.messages[len(l.messages)-1]
	if last.Role != RoleUser {
		return false
	}
	l.messages = l.messages[:len(l.messages)-1]
	return true
}

// Messages returns a shallow copy of the current message slice.
func (l *Ledger) Messages() []*Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// UserInputHistory returns a copy of the deduplicated, capped input
// history.
func (l *Ledger) UserInputHistory() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.userInputHistory))
	copy(out, l.userInputHistory)
	return out
}

// CompressMessagesAndUpdateSession replaces messages [0, actualIndex) with
// a single compress block and regenerates the session id; old persisted
// sessions are not rewritten. insertIndex may be
// negative, counting from the tail.
func (l *Ledger) CompressMessagesAndUpdateSession(insertIndex int, content string) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	actual := insertIndex
	if actual < 0 {
		actual = len(l.messages) + actual
	}
	if actual < 0 {
		actual = 0
	}
	if actual > len(l.messages) {
		actual = len(l.messages)
	}

	compressed := &Message{
		ID:      uuid.NewString(),
		Role:    RoleAssistant,
		AddedAt: time.Now(),
		Blocks:  []*Block{{Type: BlockCompress, Content: content}},
	}

	remaining := make([]*Message, 0, len(l.messages)-actual+1)
	remaining = append(remaining, compressed)
	remaining = append(remaining, l.messages[actual:]...)
	l.messages = remaining

	l.sessionID = uuid.NewString()
	return l.sessionID
}

// SetLatestTotalTokens records the most recent total-token usage, embedded
// into the persisted session metadata.
func (l *Ledger) SetLatestTotalTokens(tokens int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.latestTotalTokens = tokens
}

// Workdir returns the ledger's originating working directory.
func (l *Ledger) Workdir() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.workdir
}

// toRecord snapshots the ledger's persisted fields. It takes l.mu itself,
// so it must not be called with l.mu already held.
func (l *Ledger) toRecord() *SessionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	messages := make([]*Message, len(l.messages))
	copy(messages, l.messages)
	return &SessionRecord{
		ID:                l.sessionID,
		Workdir:           l.workdir,
		StartedAt:         l.startedAt,
		LatestTotalTokens: l.latestTotalTokens,
		Messages:          messages,
	}
}

// fromRecord replaces the ledger's in-memory state with a persisted
// record and recomputes userInputHistory.
func (l *Ledger) fromRecord(rec *SessionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sessionID = rec.ID
	l.workdir = rec.Workdir
	l.startedAt = rec.StartedAt
	l.latestTotalTokens = rec.LatestTotalTokens
	l.messages = rec.Messages

	l.userInputHistory = nil
	for _, msg := range l.messages {
		if msg.Role != RoleUser {
			continue
		}
		if block := msg.lastTextBlock(); block != nil {
			l.recordUserInput(block.Content)
		}
	}
}

// errNoLatestSession is returned by ContinueLatestSession when no session exists
// for the workdir; this is fatal to the caller.
var errNoLatestSession = fmt.Errorf("no session found to continue")
