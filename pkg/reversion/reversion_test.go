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

package reversion

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRecordCommitModifyRestoresContent(t *testing.T) {
	workDir := t.TempDir()
	blobDir := t.TempDir()
	target := filepath.Join(workDir, "foo.txt")
	if err := os.WriteFile(target, []byte("original"), 0644); err != nil {
		t.Fatal(err)
	}

	l := New(blobDir, nil)
	id, err := l.Record("msg-1", target, OpModify)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(target, []byte("changed"), 0644); err != nil {
		t.Fatal(err)
	}

	snap, err := l.Commit(id)
	if err != nil {
		t.Fatal(err)
	}
	if snap.SnapshotPath == "" {
		t.Fatal("expected snapshot path to be set")
	}

	reverted := l.RevertTo([]string{"msg-1"}, map[string][]*Snapshot{"msg-1": {snap}})
	if reverted != 1 {
		t.Fatalf("expected 1 reverted snapshot, got %d", reverted)
	}

	content, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "original" {
		t.Fatalf("expected restored content, got %q", content)
	}
}

func TestRecordCommitCreateRevertsByDeleting(t *testing.T) {
	workDir := t.TempDir()
	blobDir := t.TempDir()
	target := filepath.Join(workDir, "new.txt")

	l := New(blobDir, nil)
	id, err := l.Record("msg-1", target, OpCreate)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(target, []byte("new content"), 0644); err != nil {
		t.Fatal(err)
	}

	snap, err := l.Commit(id)
	if err != nil {
		t.Fatal(err)
	}
	if snap.SnapshotPath != "" {
		t.Fatalf("expected no blob for a create snapshot, got %q", snap.SnapshotPath)
	}

	l.RevertTo([]string{"msg-1"}, map[string][]*Snapshot{"msg-1": {snap}})

	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatal("expected created file to be deleted on revert")
	}
}

func TestDiscardDropsBufferedSnapshot(t *testing.T) {
	workDir := t.TempDir()
	target := filepath.Join(workDir, "foo.txt")
	os.WriteFile(target, []byte("x"), 0644)

	l := New(t.TempDir(), nil)
	id, err := l.Record("msg-1", target, OpModify)
	if err != nil {
		t.Fatal(err)
	}
	l.Discard(id)

	if _, err := l.Commit(id); err == nil {
		t.Fatal("expected commit of discarded snapshot to fail")
	}
}

func TestDrainCommittedClearsList(t *testing.T) {
	workDir := t.TempDir()
	target := filepath.Join(workDir, "foo.txt")
	os.WriteFile(target, []byte("x"), 0644)

	l := New(t.TempDir(), nil)
	id, _ := l.Record("msg-1", target, OpModify)
	l.Commit(id)

	drained := l.DrainCommitted()
	if len(drained) != 1 {
		t.Fatalf("expected 1 committed snapshot, got %d", len(drained))
	}
	if more := l.DrainCommitted(); len(more) != 0 {
		t.Fatalf("expected drain to clear the list, got %d", len(more))
	}
}

func TestRevertToAppliesLIFOOrder(t *testing.T) {
	workDir := t.TempDir()
	target := filepath.Join(workDir, "foo.txt")
	os.WriteFile(target, []byte("v0"), 0644)

	l := New(t.TempDir(), nil)

	id1, _ := l.Record("msg-1", target, OpModify)
	os.WriteFile(target, []byte("v1"), 0644)
	snap1, err := l.Commit(id1)
	if err != nil {
		t.Fatal(err)
	}

	id2, _ := l.Record("msg-2", target, OpModify)
	os.WriteFile(target, []byte("v2"), 0644)
	snap2, err := l.Commit(id2)
	if err != nil {
		t.Fatal(err)
	}

	byMsg := map[string][]*Snapshot{"msg-1": {snap1}, "msg-2": {snap2}}
	reverted := l.RevertTo([]string{"msg-1", "msg-2"}, byMsg)
	if reverted != 2 {
		t.Fatalf("expected both snapshots reverted, got %d", reverted)
	}

	content, _ := os.ReadFile(target)
	if string(content) != "v0" {
		t.Fatalf("expected fully reverted to v0, got %q", content)
	}
}
