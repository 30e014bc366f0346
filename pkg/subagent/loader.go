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

package subagent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/wave/pkg/registry"
)

// configsDirName is where subagent definitions live under the project
// workdir.
const configsDirName = ".wave/agents"

// fileConfig is the on-disk YAML shape of one subagent definition.
type fileConfig struct {
	Name         string   `yaml:"name"`
	SystemPrompt string   `yaml:"systemPrompt"`
	AllowedTools []string `yaml:"allowedTools,omitempty"`
	Model        string   `yaml:"model,omitempty"`
}

// loadConfigsFromDisk reads every *.yaml/*.yml file under
// <workdir>/.wave/agents into a Config, keyed by its subagentType (the
// filename stem). A missing directory yields an empty set rather than an
// error; subagent definitions are optional.
func loadConfigsFromDisk(workdir string) (*registry.BaseRegistry[Config], error) {
	reg := registry.NewBaseRegistry[Config]()

	dir := filepath.Join(workdir, configsDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return reg, nil
		}
		return nil, fmt.Errorf("failed to read subagent config dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := filepath.Ext(name)
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		subagentType := strings.TrimSuffix(name, ext)

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read subagent config %s: %w", name, err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("failed to parse subagent config %s: %w", name, err)
		}

		cfg := Config{
			Name:         fc.Name,
			SubagentType: subagentType,
			SystemPrompt: fc.SystemPrompt,
			AllowedTools: fc.AllowedTools,
			Model:        fc.Model,
		}
		if cfg.Name == "" {
			cfg.Name = subagentType
		}
		if err := validateConfig(cfg); err != nil {
			return nil, fmt.Errorf("invalid subagent config %s: %w", name, err)
		}

		if err := reg.Register(subagentType, cfg); err != nil {
			return nil, fmt.Errorf("duplicate subagent config %s: %w", name, err)
		}
	}

	return reg, nil
}
