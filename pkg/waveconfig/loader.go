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
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// HookLoader loads and hot-reloads a HookConfiguration from a FileProvider.
type HookLoader struct {
	provider *FileProvider
	onChange func(HookConfiguration)
}

// NewHookLoader creates a loader bound to provider.
func NewHookLoader(provider *FileProvider, onChange func(HookConfiguration)) *HookLoader {
	return &HookLoader{provider: provider, onChange: onChange}
}

// Load reads, decodes, and validates the hook configuration.
func (l *HookLoader) Load(ctx context.Context) (HookConfiguration, error) {
	data, err := l.provider.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load hook config: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse hook config: %w", err)
	}

	cfg := HookConfiguration{}
	if err := decode(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode hook config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("hook config validation failed: %w", err)
	}

	return cfg, nil
}

// Watch blocks, reloading and invoking onChange whenever the underlying
// file changes, until ctx is cancelled.
func (l *HookLoader) Watch(ctx context.Context) error {
	changes, err := l.provider.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to start watching hook config: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			cfg, err := l.Load(ctx)
			if err != nil {
				slog.Error("failed to reload hook config", "error", err)
				continue
			}
			if l.onChange != nil {
				l.onChange(cfg)
			}
		}
	}
}

// Close releases the underlying provider.
func (l *HookLoader) Close() error {
	return l.provider.Close()
}

// LoadLspConfiguration reads and decodes a `.lsp.json`/`.lsp.yaml`
// document. A missing file is not an error: it resolves to an empty
// configuration, since LSP registration may be purely programmatic. Any
// other read failure is propagated.
func LoadLspConfiguration(path string) (LspConfiguration, error) {
	provider, err := NewFileProvider(path)
	if err != nil {
		return LspConfiguration{}, err
	}

	data, err := provider.Load(context.Background())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return LspConfiguration{Languages: map[string]LanguageServerConfig{}, ExtensionToLanguage: map[string]string{}}, nil
		}
		return LspConfiguration{}, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return LspConfiguration{}, fmt.Errorf("failed to parse lsp config: %w", err)
	}

	cfg := LspConfiguration{}
	if err := decode(raw, &cfg); err != nil {
		return LspConfiguration{}, fmt.Errorf("failed to decode lsp config: %w", err)
	}
	if cfg.Languages == nil {
		cfg.Languages = map[string]LanguageServerConfig{}
	}
	if cfg.ExtensionToLanguage == nil {
		cfg.ExtensionToLanguage = map[string]string{}
	}
	// Per-language extension maps fold into the top-level one, which is
	// what the multiplexer resolves against.
	for lang, server := range cfg.Languages {
		for ext, mapped := range server.ExtensionToLanguage {
			if mapped == "" {
				mapped = lang
			}
			cfg.ExtensionToLanguage[ext] = mapped
		}
	}
	return cfg, nil
}

// LoadCommandSafety reads and decodes a command-safety policy document,
// applying CommandSafety.SetDefaults. A missing file resolves to an
// empty, sandboxing-disabled policy, which Validate will then reject
// unless the caller supplies an allowlist; command safety has no safe
// default to fall back to silently. Any other read failure (permissions,
// I/O) is propagated rather than mistaken for absence.
func LoadCommandSafety(path string) (CommandSafety, error) {
	provider, err := NewFileProvider(path)
	if err != nil {
		return CommandSafety{}, err
	}

	data, err := provider.Load(context.Background())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return CommandSafety{}, nil
		}
		return CommandSafety{}, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return CommandSafety{}, fmt.Errorf("failed to parse command safety config: %w", err)
	}

	cfg := CommandSafety{}
	if err := decode(raw, &cfg); err != nil {
		return CommandSafety{}, fmt.Errorf("failed to decode command safety config: %w", err)
	}
	cfg.SetDefaults()
	return cfg, nil
}

// decode maps a parsed YAML/JSON document onto a typed struct via
// mapstructure, tolerating loosely-typed input shapes (string durations,
// comma-separated lists) the way hand-authored config documents tend to
// arrive.
func decode(input map[string]any, output any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           output,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return decoder.Decode(input)
}
