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
	"context"
	"fmt"

	"github.com/kadirpekel/wave/pkg/ledger"
	"github.com/kadirpekel/wave/pkg/reversion"
	"github.com/kadirpekel/wave/pkg/wavepath"
)

// SessionRevertCmd collects every file_history snapshot recorded against
// the named messages of a session and applies them newest-first, undoing
// the file mutations those messages made.
type SessionRevertCmd struct {
	storageFlags
	Session  string   `arg:"" help:"Session id holding the file history."`
	Messages []string `arg:"" help:"Message ids whose file mutations should be reverted."`
}

func (c *SessionRevertCmd) Run(cli *CLI) error {
	store, closeStore, err := c.open()
	if err != nil {
		return err
	}
	defer closeStore()

	rec, err := store.Load(context.Background(), c.Session)
	if err != nil {
		return fmt.Errorf("failed to load session %s: %w", c.Session, err)
	}

	blobDir, err := wavepath.SnapshotDir()
	if err != nil {
		return err
	}

	byMessage := collectSnapshots(rec.Messages)
	log := reversion.New(blobDir, nil)
	reverted := log.RevertTo(c.Messages, byMessage)
	fmt.Printf("reverted %d snapshot(s)\n", reverted)
	return nil
}

// collectSnapshots walks every file_history block in messages and
// rebuilds the reversion snapshots they reference, keyed by message id.
func collectSnapshots(messages []*ledger.Message) map[string][]*reversion.Snapshot {
	out := make(map[string][]*reversion.Snapshot)
	for _, msg := range messages {
		for _, block := range msg.Blocks {
			if block.Type != ledger.BlockFileHistory {
				continue
			}
			for _, ref := range block.Snapshots {
				out[ref.MessageID] = append(out[ref.MessageID], &reversion.Snapshot{
					MessageID:    ref.MessageID,
					FilePath:     ref.FilePath,
					Operation:    reversion.Operation(ref.Operation),
					Timestamp:    ref.Timestamp,
					SnapshotPath: ref.SnapshotPath,
				})
			}
		}
	}
	return out
}
