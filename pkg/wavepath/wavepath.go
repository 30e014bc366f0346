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

// Package wavepath resolves the on-disk locations wave's subsystems read
// and write under the user's home area.
package wavepath

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

const rootDirName = ".wave"

// ensureDir creates dir (and parents) if missing and returns it.
func ensureDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory '%s': %w", dir, err)
	}
	return dir, nil
}

// Root returns (and creates) <home>/.wave.
func Root() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return ensureDir(filepath.Join(home, rootDirName))
}

// SessionDir returns (and creates) <home>/.wave/sessions, the default
// session file directory.
func SessionDir() (string, error) {
	root, err := Root()
	if err != nil {
		return "", err
	}
	return ensureDir(filepath.Join(root, "sessions"))
}

// PlanDir returns (and creates) <home>/.wave/plans.
func PlanDir() (string, error) {
	root, err := Root()
	if err != nil {
		return "", err
	}
	return ensureDir(filepath.Join(root, "plans"))
}

// SnapshotDir returns (and creates) <home>/.wave/snapshots, the area the
// Reversion Log treats as opaque blob storage.
func SnapshotDir() (string, error) {
	root, err := Root()
	if err != nil {
		return "", err
	}
	return ensureDir(filepath.Join(root, "snapshots"))
}

// NewPlanFile creates an empty markdown plan file with a random name
// under PlanDir and returns its path.
func NewPlanFile() (string, error) {
	dir, err := PlanDir()
	if err != nil {
		return "", err
	}
	name := make([]byte, 6)
	if _, err := rand.Read(name); err != nil {
		return "", fmt.Errorf("failed to generate plan name: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("plan-%s.md", hex.EncodeToString(name)))
	if err := os.WriteFile(path, nil, 0644); err != nil {
		return "", fmt.Errorf("failed to create plan file: %w", err)
	}
	return path, nil
}

// HookDir returns (and creates) <home>/.wave/hooks, used for any
// hook-scratch files (none currently, reserved for plugin state).
func HookDir() (string, error) {
	root, err := Root()
	if err != nil {
		return "", err
	}
	return ensureDir(filepath.Join(root, "hooks"))
}

// LspConfigPath returns <workdir>/.lsp.json.
func LspConfigPath(workdir string) string {
	return filepath.Join(workdir, ".lsp.json")
}
