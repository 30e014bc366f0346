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

// Command wave is an inspection and administration CLI over the
// execution kernel: the host process that embeds this core (the actual
// model loop and terminal UI) is an external collaborator;
// this binary exists to exercise and operate the kernel directly,
// inspecting sessions, background tasks, and hook/LSP configuration
// without a model loop attached.
// Usage:
//	wave session list --workdir .
//	wave session show <id>
//	wave background run --workdir . "make test"
//	wave hooks validate --hooks .wave/hooks.yaml --safety .wave/safety.yaml
//	wave lsp query --workdir . definition path/to/file.go 10 5
//	wave session revert <session-id> <message-id>...
//	wave plan new
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"
)

// CLI defines wave's command-line interface: a flat set of kong
// subcommands plus global logging flags consumed before any subcommand
// runs.
type CLI struct {
	Version    VersionCmd    `cmd:"" help:"Show version information."`
	Session    SessionCmd    `cmd:"" help:"Inspect and manage conversation sessions."`
	Background BackgroundCmd `cmd:"" help:"Inspect and control background tasks."`
	Hooks      HooksCmd      `cmd:"" help:"Validate and dry-run hook configuration."`
	Lsp        LspCmd        `cmd:"" help:"Query a language server through the multiplexer."`
	Plan       PlanCmd       `cmd:"" help:"Create and list plan files."`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, or custom)." default:"simple"`
}

// VersionCmd prints the build version, falling back to "dev" when no
// module version is embedded in the binary.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("wave version %s\n", version)
	return nil
}

func main() {
	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("wave"),
		kong.Description("Execution kernel for an interactive AI coding agent"),
		kong.UsageOnError(),
	)

	level, err := parseLogLevelOrDefault(cli.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q: %v\n", cli.LogLevel, err)
		os.Exit(1)
	}

	var logOutput *os.File = os.Stderr
	var cleanup func()
	if cli.LogFile != "" {
		f, closeFn, err := openLogFileOrExit(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
			os.Exit(1)
		}
		logOutput = f
		cleanup = closeFn
	}
	if cleanup != nil {
		defer cleanup()
	}
	initLogging(level, logOutput, cli.LogFormat)

	shutdownTracing := initTracing()
	defer shutdownTracing()

	err = kctx.Run(&cli)
	if err != nil {
		slog.Error("wave: command failed", "error", err)
	}
	kctx.FatalIfErrorf(err)
}
