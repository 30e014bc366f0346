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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kadirpekel/wave/pkg/wavepath"
)

// PlanCmd manages the markdown plan files the agent creates on demand.
type PlanCmd struct {
	New  PlanNewCmd  `cmd:"" help:"Create an empty plan file and print its path."`
	List PlanListCmd `cmd:"" help:"List existing plan files."`
}

type PlanNewCmd struct{}

func (c *PlanNewCmd) Run(cli *CLI) error {
	path, err := wavepath.NewPlanFile()
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

type PlanListCmd struct{}

func (c *PlanListCmd) Run(cli *CLI) error {
	dir, err := wavepath.PlanDir()
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to list plan directory: %w", err)
	}
	found := false
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		fmt.Println(filepath.Join(dir, entry.Name()))
		found = true
	}
	if !found {
		fmt.Println("no plan files")
	}
	return nil
}
