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

// Package reversion stages file-mutation snapshots so a turn's edits can
// be atomically committed or rolled back. The staging/commit split
// follows a buffer-under-a-key checkpoint pattern (persist on commit,
// drop on discard), applied here to on-disk snapshot files instead of
// session-state JSON blobs.
package reversion

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Operation classifies what kind of mutation a snapshot recorded.
type Operation string

const (
	OpCreate Operation = "create"
	OpModify Operation = "modify"
	OpDelete Operation = "delete"
)

// Snapshot is a buffered or committed record of a file's prior state.
type Snapshot struct {
	ID                string
	MessageID         string
	FilePath          string
	Operation         Operation
	Timestamp         time.Time
	ContentBefore     []byte // nil means the file didn't exist (expected for create)
	ContentBeforeNull bool
	SnapshotPath      string // set once committed
}

// snapshotID builds the "<messageId>-<filePath>-<timestamp>" id.
func snapshotID(messageID, filePath string, ts time.Time) string {
	return fmt.Sprintf("%s-%s-%d", messageID, filePath, ts.UnixNano())
}

// Log is the Reversion Log: it exclusively owns buffered and committed
// snapshots until they are attached to a message.
type Log struct {
	mu        sync.Mutex
	buffered  map[string]*Snapshot
	committed []*Snapshot
	blobDir   string
	logger    *slog.Logger
}

// New creates a Log that persists committed snapshot content under
// blobDir (typically wavepath.SnapshotDir()).
func New(blobDir string, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		buffered: make(map[string]*Snapshot),
		blobDir:  blobDir,
		logger:   logger.With("component", "reversion"),
	}
}

// Record reads the file's current bytes (nil if absent, expected for
// create) and buffers a snapshot, returning its id.
func (l *Log) Record(messageID, filePath string, op Operation) (string, error) {
	content, err := os.ReadFile(filePath)
	var missing bool
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to read %s for snapshot: %w", filePath, err)
		}
		missing = true
		content = nil
	}

	ts := time.Now()
	id := snapshotID(messageID, filePath, ts)

	snap := &Snapshot{
		ID:                id,
		MessageID:         messageID,
		FilePath:          filePath,
		Operation:         op,
		Timestamp:         ts,
		ContentBefore:     content,
		ContentBeforeNull: missing,
	}

	l.mu.Lock()
	l.buffered[id] = snap
	l.mu.Unlock()

	return id, nil
}

// Commit persists a buffered snapshot's content to the blob area, records
// its SnapshotPath, and moves it to the per-turn committed list.
func (l *Log) Commit(snapshotID string) (*Snapshot, error) {
	l.mu.Lock()
	snap, ok := l.buffered[snapshotID]
	if !ok {
		l.mu.Unlock()
		return nil, fmt.Errorf("no buffered snapshot %q", snapshotID)
	}
	delete(l.buffered, snapshotID)
	l.mu.Unlock()

	if !snap.ContentBeforeNull {
		if err := os.MkdirAll(l.blobDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
		}
		// The id embeds the file path, so its separators are escaped to
		// keep the blob a single file directly under blobDir.
		blobPath := filepath.Join(l.blobDir, url.PathEscape(snapshotID)+".blob")
		if err := os.WriteFile(blobPath, snap.ContentBefore, 0644); err != nil {
			return nil, fmt.Errorf("failed to persist snapshot blob: %w", err)
		}
		snap.SnapshotPath = blobPath
	}

	l.mu.Lock()
	l.committed = append(l.committed, snap)
	l.mu.Unlock()

	return snap, nil
}

// Discard drops a buffered entry without persisting it.
func (l *Log) Discard(snapshotID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buffered, snapshotID)
}

// DrainCommitted returns and clears the per-turn committed list so the
// caller can embed the snapshots into a `file_history` block.
func (l *Log) DrainCommitted() []*Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	drained := l.committed
	l.committed = nil
	return drained
}

// RevertTo collects every snapshot in snapshotsByMessage for the target
// messageIDs, sorts strictly descending by timestamp (LIFO), and
// applies each: create → force-delete; otherwise restore
// SnapshotPath's content, or force-delete if the content was null; a
// missing SnapshotPath on a non-create operation also force-deletes, a
// documented (if surprising) fallback. Individual failures are skipped
// and counted; the number successfully reverted is returned.
func (l *Log) RevertTo(messageIDs []string, snapshotsByMessage map[string][]*Snapshot) int {
	wanted := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		wanted[id] = true
	}

	var all []*Snapshot
	for msgID, snaps := range snapshotsByMessage {
		if wanted[msgID] {
			all = append(all, snaps...)
		}
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].Timestamp.After(all[j].Timestamp)
	})

	reverted := 0
	for _, snap := range all {
		if err := l.applyRevert(snap); err != nil {
			l.logger.Warn("failed to revert snapshot, skipping", "snapshot_id", snap.ID, "file_path", snap.FilePath, "error", err)
			continue
		}
		reverted++
	}
	return reverted
}

func (l *Log) applyRevert(snap *Snapshot) error {
	switch snap.Operation {
	case OpCreate:
		return forceDelete(snap.FilePath)
	default:
		if snap.SnapshotPath == "" {
			return forceDelete(snap.FilePath)
		}
		content, err := os.ReadFile(snap.SnapshotPath)
		if err != nil {
			return err
		}
		if snap.ContentBeforeNull {
			return forceDelete(snap.FilePath)
		}
		return os.WriteFile(snap.FilePath, content, 0644)
	}
}

func forceDelete(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
