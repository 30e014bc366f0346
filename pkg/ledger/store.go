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
	"context"
	"time"
)

// SessionRecord is the persisted shape of a session.
type SessionRecord struct {
	ID                string     `json:"id"`
	Workdir           string     `json:"workdir"`
	StartedAt         time.Time  `json:"startedAt"`
	LatestTotalTokens int        `json:"latestTotalTokens"`
	Messages          []*Message `json:"messages"`
}

// SessionStore persists and retrieves SessionRecords. Two implementations
// are provided: FileStore (one JSON file per session, the default)
// and SQLStore (an optional multi-dialect backend over database/sql).
type SessionStore interface {
	Save(ctx context.Context, rec *SessionRecord) error
	Load(ctx context.Context, sessionID string) (*SessionRecord, error)
	LatestInWorkdir(ctx context.Context, workdir string) (*SessionRecord, error)
	List(ctx context.Context, workdir string, pageSize int, pageToken string) ([]*SessionRecord, string, error)
	Delete(ctx context.Context, sessionID string) error
}

// SaveSession persists the ledger's current state via store. Persistence
// errors are logged by the caller and do not abort the turn; SaveSession
// simply returns the error for the caller to handle per that policy.
func (l *Ledger) SaveSession(ctx context.Context, store SessionStore) error {
	return store.Save(ctx, l.toRecord())
}

// RestoreSession replaces the in-memory state from a named session.
// Failure here is fatal to the process; RestoreSession only surfaces the
// error, leaving it to the caller to treat as fatal.
func (l *Ledger) RestoreSession(ctx context.Context, store SessionStore, sessionID string) error {
	rec, err := store.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	l.fromRecord(rec)
	return nil
}

// ContinueLatestSession restores the most recently updated session for
// workdir. A missing latest session
// is fatal; ContinueLatestSession returns errNoLatestSession in that case
// for the caller to treat as fatal.
func (l *Ledger) ContinueLatestSession(ctx context.Context, store SessionStore, workdir string) error {
	rec, err := store.LatestInWorkdir(ctx, workdir)
	if err != nil {
		return err
	}
	if rec == nil {
		return errNoLatestSession
	}
	l.fromRecord(rec)
	return nil
}
