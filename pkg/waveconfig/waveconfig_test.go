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

package waveconfig

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestHookConfigurationValidateRejectsMatcherOnNonToolEvent(t *testing.T) {
	cfg := HookConfiguration{
		EventStop: {{Matcher: "Edit", Hooks: []HookCommand{{Command: "true"}}}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for matcher on non-tool event")
	}
}

func TestHookConfigurationValidateRejectsUnknownEvent(t *testing.T) {
	cfg := HookConfiguration{"BogusEvent": {{}}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown event")
	}
}

func TestMergeReplacesWholeEventList(t *testing.T) {
	user := HookConfiguration{
		EventPreToolUse: {{Matcher: "Edit", Hooks: []HookCommand{{Command: "user-hook"}}}},
	}
	project := HookConfiguration{
		EventPreToolUse: {{Matcher: "Edit", Hooks: []HookCommand{{Command: "project-hook"}}}},
	}

	merged := Merge(user, project)
	groups := merged[EventPreToolUse]
	if len(groups) != 1 || len(groups[0].Hooks) != 1 || groups[0].Hooks[0].Command != "project-hook" {
		t.Fatalf("expected project hook to fully replace user hook, got %+v", groups)
	}
}

func TestCommandSafetyPermissiveWhenSandboxedWithNoAllowlist(t *testing.T) {
	cs := CommandSafety{EnableSandboxing: true}
	if !cs.IsCommandSafe("rm -rf /") {
		t.Fatal("sandboxed with empty allowlist should be permissive")
	}
}

func TestCommandSafetyRequiresAllowlistWithoutSandboxing(t *testing.T) {
	cs := CommandSafety{EnableSandboxing: false}
	if err := cs.Validate(); err == nil {
		t.Fatal("expected validation error when sandboxing disabled and allowlist empty")
	}
}

func TestCommandSafetyChecksFirstToken(t *testing.T) {
	cs := CommandSafety{EnableSandboxing: false, AllowedCommands: []string{"git"}}
	if !cs.IsCommandSafe("git status") {
		t.Fatal("expected git to be allowed")
	}
	if cs.IsCommandSafe("rm -rf /") {
		t.Fatal("expected rm to be rejected")
	}
}

func TestHookLoaderLoadsAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hooks.yaml")
	doc := "PreToolUse:\n  - matcher: Edit\n    hooks:\n      - command: \"true\"\n"
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	provider, err := NewFileProvider(path)
	if err != nil {
		t.Fatal(err)
	}
	defer provider.Close()

	loader := NewHookLoader(provider, nil)
	cfg, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg[EventPreToolUse]) != 1 || cfg[EventPreToolUse][0].Matcher != "Edit" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadLspConfigurationMissingFileIsEmpty(t *testing.T) {
	cfg, err := LoadLspConfiguration(filepath.Join(t.TempDir(), "missing.lsp.json"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if len(cfg.Languages) != 0 {
		t.Fatalf("expected empty languages map, got %v", cfg.Languages)
	}
}

func TestLoadLspConfigurationFoldsPerLanguageExtensions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".lsp.json")
	doc := `{"languages":{"go":{"command":"gopls","extensionToLanguage":{".go":"go"}}}}`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadLspConfiguration(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ExtensionToLanguage[".go"] != "go" {
		t.Fatalf("expected per-language extension map folded to the top level, got %v", cfg.ExtensionToLanguage)
	}
	if cfg.Languages["go"].Command != "gopls" {
		t.Fatalf("unexpected language entry: %+v", cfg.Languages["go"])
	}
}

func TestLoadCommandSafetyMissingFileIsEmptyAndUnsandboxed(t *testing.T) {
	cfg, err := LoadCommandSafety(filepath.Join(t.TempDir(), "missing-safety.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg.EnableSandboxing {
		t.Fatalf("expected sandboxing disabled by default, got enabled")
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an empty, unsandboxed policy to fail Validate")
	}
}

// A sandboxed policy with no allowlist must stay permissive through the
// real loading path: SetDefaults fills only the execution timeout and
// never invents an allowlist behind the operator's back.
func TestLoadCommandSafetySandboxedWithoutAllowlistStaysPermissive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "safety.yaml")
	if err := os.WriteFile(path, []byte("enable_sandboxing: true\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadCommandSafety(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.AllowedCommands) != 0 {
		t.Fatalf("expected the allowlist to stay empty, got %v", cfg.AllowedCommands)
	}
	if !cfg.IsCommandSafe("arbitrary-command --flag") {
		t.Fatal("expected sandboxed policy with no allowlist to be permissive")
	}
	if cfg.MaxExecutionTime == 0 {
		t.Fatal("expected SetDefaults to fill the execution timeout")
	}
}

func TestLoadCommandSafetyDecodesAllowlist(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "safety.yaml")
	body := "allowed_commands:\n  - git\n  - go\nenable_sandboxing: false\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadCommandSafety(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected a non-empty allowlist to validate: %v", err)
	}
	if !cfg.IsCommandSafe("git status") || cfg.IsCommandSafe("rm -rf /") {
		t.Fatalf("unexpected allowlist evaluation: %+v", cfg)
	}
}
