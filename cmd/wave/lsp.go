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

	"github.com/kadirpekel/wave/pkg/lsp"
	"github.com/kadirpekel/wave/pkg/waveconfig"
	"github.com/kadirpekel/wave/pkg/wavepath"
)

// LspCmd issues a single textDocument/* query through the multiplexer,
// spawning (and lazily initializing) the backing language server
// on first use.
type LspCmd struct {
	Query LspQueryCmd `cmd:"" help:"Run one LSP operation against a file position."`
}

// LspQueryCmd mirrors Request's fields directly: operation, filePath,
// and a 1-based line/character position.
type LspQueryCmd struct {
	Workdir   string `help:"Project workdir whose .lsp.json governs language resolution." default:"."`
	Operation string `arg:"" help:"definition, hover, references, or documentSymbol."`
	FilePath  string `arg:"" help:"File to query, relative to workdir."`
	Line      int    `arg:"" help:"1-based line number."`
	Character int    `arg:"" help:"1-based character offset."`
}

func (c *LspQueryCmd) Run(cli *CLI) error {
	cfg, err := waveconfig.LoadLspConfiguration(wavepath.LspConfigPath(c.Workdir))
	if err != nil {
		return fmt.Errorf("failed to load lsp configuration: %w", err)
	}

	mux := lsp.New(cfg, c.Workdir, nil)
	defer mux.Close()

	result := mux.Execute(context.Background(), lsp.Request{
		Operation: c.Operation,
		FilePath:  c.FilePath,
		Line:      c.Line,
		Character: c.Character,
	})

	if !result.Success {
		return fmt.Errorf("lsp query failed: %s", result.Content)
	}
	fmt.Println(result.Content)
	return nil
}
