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
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	// Database drivers registered for their side effect on database/sql.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const createSessionsTableSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    id VARCHAR(255) PRIMARY KEY,
    workdir VARCHAR(1024) NOT NULL,
    started_at TIMESTAMP NOT NULL,
    latest_total_tokens INTEGER NOT NULL,
    messages TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_workdir ON sessions(workdir);
CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at);
`

// SQLStore is a SessionStore backed by database/sql, supporting
// PostgreSQL, MySQL, and SQLite behind one dialect switch and a single
// JSON-blob-per-column schema for the Messages slice.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore wraps an already-open *sql.DB. dialect must be one of
// "postgres", "mysql", "sqlite".
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx, createSessionsTableSQL)
	return err
}

// placeholder returns the dialect-correct positional parameter.
func (s *SQLStore) placeholder(n int) string {
	if s.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLStore) Save(ctx context.Context, rec *SessionRecord) error {
	messagesJSON, err := json.Marshal(rec.Messages)
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}

	now := time.Now()
	var query string
	if s.dialect == "postgres" {
		query = `
INSERT INTO sessions (id, workdir, started_at, latest_total_tokens, messages, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
    workdir = EXCLUDED.workdir,
    latest_total_tokens = EXCLUDED.latest_total_tokens,
    messages = EXCLUDED.messages,
    updated_at = EXCLUDED.updated_at
`
	} else {
		query = `
INSERT INTO sessions (id, workdir, started_at, latest_total_tokens, messages, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    workdir = VALUES(workdir),
    latest_total_tokens = VALUES(latest_total_tokens),
    messages = VALUES(messages),
    updated_at = VALUES(updated_at)
`
		if s.dialect == "sqlite" {
			query = `
INSERT INTO sessions (id, workdir, started_at, latest_total_tokens, messages, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    workdir = excluded.workdir,
    latest_total_tokens = excluded.latest_total_tokens,
    messages = excluded.messages,
    updated_at = excluded.updated_at
`
		}
	}

	_, err = s.db.ExecContext(ctx, query, rec.ID, rec.Workdir, rec.StartedAt, rec.LatestTotalTokens, string(messagesJSON), now)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *SQLStore) scanRecord(row *sql.Row) (*SessionRecord, error) {
	var (
		id, workdir, messagesJSON string
		startedAt, updatedAt      time.Time
		latestTotalTokens         int
	)
	if err := row.Scan(&id, &workdir, &startedAt, &latestTotalTokens, &messagesJSON, &updatedAt); err != nil {
		return nil, err
	}

	var messages []*Message
	if err := json.Unmarshal([]byte(messagesJSON), &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal messages: %w", err)
	}

	return &SessionRecord{
		ID:                id,
		Workdir:           workdir,
		StartedAt:         startedAt,
		LatestTotalTokens: latestTotalTokens,
		Messages:          messages,
	}, nil
}

func (s *SQLStore) Load(ctx context.Context, sessionID string) (*SessionRecord, error) {
	query := fmt.Sprintf(`
SELECT id, workdir, started_at, latest_total_tokens, messages, updated_at
FROM sessions WHERE id = %s`, s.placeholder(1))

	row := s.db.QueryRowContext(ctx, query, sessionID)
	rec, err := s.scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return rec, nil
}

func (s *SQLStore) LatestInWorkdir(ctx context.Context, workdir string) (*SessionRecord, error) {
	query := fmt.Sprintf(`
SELECT id, workdir, started_at, latest_total_tokens, messages, updated_at
FROM sessions WHERE workdir = %s ORDER BY updated_at DESC LIMIT 1`, s.placeholder(1))

	row := s.db.QueryRowContext(ctx, query, workdir)
	rec, err := s.scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest session: %w", err)
	}
	return rec, nil
}

func (s *SQLStore) List(ctx context.Context, workdir string, pageSize int, pageToken string) ([]*SessionRecord, string, error) {
	offset := 0
	fmt.Sscanf(pageToken, "%d", &offset)
	if pageSize <= 0 {
		pageSize = 50
	}

	var query string
	if s.dialect == "postgres" {
		query = `
SELECT id, workdir, started_at, latest_total_tokens, messages, updated_at
FROM sessions WHERE workdir = $1 ORDER BY updated_at DESC LIMIT $2 OFFSET $3`
	} else {
		query = `
SELECT id, workdir, started_at, latest_total_tokens, messages, updated_at
FROM sessions WHERE workdir = ? ORDER BY updated_at DESC LIMIT ? OFFSET ?`
	}

	rows, err := s.db.QueryContext(ctx, query, workdir, pageSize+1, offset)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []*SessionRecord
	for rows.Next() {
		var (
			id, wd, messagesJSON string
			startedAt, updatedAt time.Time
			latestTotalTokens    int
		)
		if err := rows.Scan(&id, &wd, &startedAt, &latestTotalTokens, &messagesJSON, &updatedAt); err != nil {
			return nil, "", fmt.Errorf("failed to scan session row: %w", err)
		}
		var messages []*Message
		if err := json.Unmarshal([]byte(messagesJSON), &messages); err != nil {
			return nil, "", fmt.Errorf("failed to unmarshal messages: %w", err)
		}
		out = append(out, &SessionRecord{
			ID:                id,
			Workdir:           wd,
			StartedAt:         startedAt,
			LatestTotalTokens: latestTotalTokens,
			Messages:          messages,
		})
	}

	nextToken := ""
	if len(out) > pageSize {
		out = out[:pageSize]
		nextToken = fmt.Sprintf("%d", offset+pageSize)
	}
	return out, nextToken, nil
}

func (s *SQLStore) Delete(ctx context.Context, sessionID string) error {
	query := fmt.Sprintf("DELETE FROM sessions WHERE id = %s", s.placeholder(1))
	_, err := s.db.ExecContext(ctx, query, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// SweepOlderThan deletes sessions whose last update predates ttl, the
// SQL counterpart of FileStore's startup sweep. Returns the number of
// sessions removed.
func (s *SQLStore) SweepOlderThan(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().Add(-ttl)
	query := fmt.Sprintf("DELETE FROM sessions WHERE updated_at < %s", s.placeholder(1))
	res, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

var _ SessionStore = (*SQLStore)(nil)
var _ SessionStore = (*FileStore)(nil)
