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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// fileDocument is the on-disk session shape, distinct from SessionRecord's
// flat fields: {id, workdir, startedAt,
// metadata:{latestTotalTokens}, messages}.
type fileDocument struct {
	ID        string    `json:"id"`
	Workdir   string    `json:"workdir"`
	StartedAt time.Time `json:"startedAt"`
	Metadata  struct {
		LatestTotalTokens int `json:"latestTotalTokens"`
	} `json:"metadata"`
	Messages []*Message `json:"messages"`
}

// FileStore is the default SessionStore: one JSON file per session under
// sessionDir (typically wavepath.SessionDir()), following the same
// Get/Create/List/Delete shape an in-memory session service would use,
// persisted to disk instead of an in-memory map.
type FileStore struct {
	sessionDir string
}

// NewFileStore creates a FileStore rooted at sessionDir and sweeps any
// session file older than ttl (0 disables the sweep), mirroring "sessions
// older than a TTL are cleaned on startup".
func NewFileStore(sessionDir string, ttl time.Duration) (*FileStore, error) {
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	fs := &FileStore{sessionDir: sessionDir}
	if ttl > 0 {
		fs.sweep(ttl)
	}
	return fs, nil
}

func (fs *FileStore) sweep(ttl time.Duration) {
	entries, err := os.ReadDir(fs.sessionDir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-ttl)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		os.Remove(filepath.Join(fs.sessionDir, entry.Name()))
	}
}

func (fs *FileStore) path(sessionID string) string {
	return filepath.Join(fs.sessionDir, sessionID+".json")
}

func toFileDocument(rec *SessionRecord) *fileDocument {
	doc := &fileDocument{
		ID:        rec.ID,
		Workdir:   rec.Workdir,
		StartedAt: rec.StartedAt,
		Messages:  rec.Messages,
	}
	doc.Metadata.LatestTotalTokens = rec.LatestTotalTokens
	return doc
}

func fromFileDocument(doc *fileDocument) *SessionRecord {
	return &SessionRecord{
		ID:                doc.ID,
		Workdir:           doc.Workdir,
		StartedAt:         doc.StartedAt,
		LatestTotalTokens: doc.Metadata.LatestTotalTokens,
		Messages:          doc.Messages,
	}
}

// Save writes rec as a JSON document, overwriting any existing file.
func (fs *FileStore) Save(ctx context.Context, rec *SessionRecord) error {
	data, err := json.MarshalIndent(toFileDocument(rec), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := os.WriteFile(fs.path(rec.ID), data, 0644); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

// Load reads a session by id.
func (fs *FileStore) Load(ctx context.Context, sessionID string) (*SessionRecord, error) {
	data, err := os.ReadFile(fs.path(sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", sessionID, err)
	}
	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse session %s: %w", sessionID, err)
	}
	return fromFileDocument(&doc), nil
}

// LatestInWorkdir returns the most recently modified session file whose
// workdir field matches, or nil if none exist.
func (fs *FileStore) LatestInWorkdir(ctx context.Context, workdir string) (*SessionRecord, error) {
	entries, err := os.ReadDir(fs.sessionDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list session directory: %w", err)
	}

	var latestPath string
	var latestMod time.Time
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(fs.sessionDir, entry.Name()))
		if err != nil {
			continue
		}
		var doc fileDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			continue
		}
		if doc.Workdir != workdir {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if latestPath == "" || info.ModTime().After(latestMod) {
			latestPath = filepath.Join(fs.sessionDir, entry.Name())
			latestMod = info.ModTime()
		}
	}

	if latestPath == "" {
		return nil, nil
	}
	data, err := os.ReadFile(latestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read latest session: %w", err)
	}
	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse latest session: %w", err)
	}
	return fromFileDocument(&doc), nil
}

// List returns sessions for workdir, newest first, paginated by a simple
// numeric offset token in the same PageSize/PageToken shape a paged list
// RPC would use.
func (fs *FileStore) List(ctx context.Context, workdir string, pageSize int, pageToken string) ([]*SessionRecord, string, error) {
	entries, err := os.ReadDir(fs.sessionDir)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list session directory: %w", err)
	}

	type candidate struct {
		doc     *fileDocument
		modTime time.Time
	}
	var candidates []candidate
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(fs.sessionDir, entry.Name()))
		if err != nil {
			continue
		}
		var doc fileDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			continue
		}
		if doc.Workdir != workdir {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{doc: &doc, modTime: info.ModTime()})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].modTime.After(candidates[j].modTime)
	})

	offset := 0
	if pageToken != "" {
		fmt.Sscanf(pageToken, "%d", &offset)
	}
	if pageSize <= 0 {
		pageSize = len(candidates)
	}

	end := offset + pageSize
	if end > len(candidates) {
		end = len(candidates)
	}
	if offset > len(candidates) {
		offset = len(candidates)
	}

	var out []*SessionRecord
	for _, c := range candidates[offset:end] {
		out = append(out, fromFileDocument(c.doc))
	}

	nextToken := ""
	if end < len(candidates) {
		nextToken = fmt.Sprintf("%d", end)
	}
	return out, nextToken, nil
}

// Delete removes a session's file.
func (fs *FileStore) Delete(ctx context.Context, sessionID string) error {
	err := os.Remove(fs.path(sessionID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
