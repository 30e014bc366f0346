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
	"database/sql"
	"fmt"
	"time"

	"github.com/kadirpekel/wave/pkg/ledger"
	"github.com/kadirpekel/wave/pkg/wavepath"
)

// sessionTTL controls how long a stale session is kept before it is
// swept on startup; one week is a conservative default for a CLI that
// may run far apart in time from the host agent process.
const sessionTTL = 7 * 24 * time.Hour

// SessionCmd groups session inspection subcommands over a SessionStore:
// the default one-file-per-session FileStore, or the multi-dialect
// SQLStore when --storage names a dialect.
type SessionCmd struct {
	List     SessionListCmd     `cmd:"" help:"List sessions for a workdir."`
	Show     SessionShowCmd     `cmd:"" help:"Show one session's messages."`
	Continue SessionContinueCmd `cmd:"" help:"Restore the latest session in a workdir."`
	Revert   SessionRevertCmd   `cmd:"" help:"Revert file mutations recorded against a session's messages."`
}

// storageFlags selects between FileStore and SQLStore.
type storageFlags struct {
	Storage   string `help:"Session store backend: empty for the default file store, or sqlite/postgres/mysql." placeholder:"BACKEND"`
	StorageDB string `help:"Database path/DSN for --storage." placeholder:"PATH"`
}

func (f storageFlags) open() (ledger.SessionStore, func(), error) {
	if f.Storage == "" {
		dir, err := wavepath.SessionDir()
		if err != nil {
			return nil, nil, err
		}
		store, err := ledger.NewFileStore(dir, sessionTTL)
		return store, func() {}, err
	}

	driver := f.Storage
	if driver == "sqlite" {
		driver = "sqlite3" // mattn/go-sqlite3 registers under "sqlite3", not "sqlite"
	}
	db, err := sql.Open(driver, f.StorageDB)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s database: %w", f.Storage, err)
	}
	store, err := ledger.NewSQLStore(db, f.Storage)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	if _, err := store.SweepOlderThan(context.Background(), sessionTTL); err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, func() { db.Close() }, nil
}

// SessionListCmd lists sessions under --workdir, newest first.
type SessionListCmd struct {
	storageFlags
	Workdir  string `help:"Project workdir to list sessions for." default:"."`
	PageSize int    `help:"Maximum sessions to list." default:"20"`
}

func (c *SessionListCmd) Run(cli *CLI) error {
	store, closeStore, err := c.open()
	if err != nil {
		return err
	}
	defer closeStore()

	records, _, err := store.List(context.Background(), c.Workdir, c.PageSize, "")
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("no sessions found")
		return nil
	}
	for _, rec := range records {
		fmt.Printf("%s\t%s\t%d messages\t%s\n", rec.ID, rec.StartedAt.Format(time.RFC3339), len(rec.Messages), rec.Workdir)
	}
	return nil
}

// SessionShowCmd prints one session's messages as a readable transcript.
type SessionShowCmd struct {
	storageFlags
	ID string `arg:"" help:"Session id to show."`
}

func (c *SessionShowCmd) Run(cli *CLI) error {
	store, closeStore, err := c.open()
	if err != nil {
		return err
	}
	defer closeStore()

	rec, err := store.Load(context.Background(), c.ID)
	if err != nil {
		return fmt.Errorf("failed to load session %s: %w", c.ID, err)
	}

	fmt.Printf("session %s  workdir=%s  started=%s\n", rec.ID, rec.Workdir, rec.StartedAt.Format(time.RFC3339))
	for _, msg := range rec.Messages {
		fmt.Printf("-- %s (%s) --\n", msg.Role, msg.ID)
		for _, block := range msg.Blocks {
			printBlock(block)
		}
	}
	return nil
}

func printBlock(b *ledger.Block) {
	switch b.Type {
	case ledger.BlockText:
		fmt.Println(b.Content)
	case ledger.BlockTool:
		success := "?"
		if b.Success != nil {
			success = fmt.Sprintf("%v", *b.Success)
		}
		fmt.Printf("[tool %s (%s) stage=%s success=%s]\n", b.ToolName, b.ToolID, b.Stage, success)
	case ledger.BlockDiff:
		fmt.Printf("[diff %s]\n", b.Path)
	case ledger.BlockError:
		fmt.Printf("[error] %s\n", b.Error)
	case ledger.BlockCommandOutput:
		exit := "running"
		if b.ExitCode != nil {
			exit = fmt.Sprintf("%d", *b.ExitCode)
		}
		fmt.Printf("[command %s exit=%s]\n", b.Command, exit)
	case ledger.BlockSubagent:
		fmt.Printf("[subagent %s %s status=%s]\n", b.SubagentID, b.Name, b.Status)
	default:
		fmt.Printf("[%s]\n", b.Type)
	}
}

// SessionContinueCmd restores and prints the latest session recorded for
// a workdir; per the ledger's failure
// semantics, a missing latest session is fatal rather than silently
// starting empty.
type SessionContinueCmd struct {
	storageFlags
	Workdir string `help:"Project workdir to continue." default:"."`
}

func (c *SessionContinueCmd) Run(cli *CLI) error {
	store, closeStore, err := c.open()
	if err != nil {
		return err
	}
	defer closeStore()

	led := ledger.New(c.Workdir, ledger.Callbacks{})
	if err := led.ContinueLatestSession(context.Background(), store, c.Workdir); err != nil {
		return fmt.Errorf("no session to continue in %s: %w", c.Workdir, err)
	}

	fmt.Printf("continuing session %s (%d messages, %d prior inputs)\n", led.SessionID(), len(led.Messages()), len(led.UserInputHistory()))
	return nil
}
