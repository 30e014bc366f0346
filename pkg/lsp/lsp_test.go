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

package lsp

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strconv"
	"testing"

	"github.com/kadirpekel/wave/pkg/waveconfig"
)

// TestDrainMessagesParsesSplitFrames exercises the header/body state
// machine directly, feeding it a Content-Length frame split arbitrarily
// across several Write calls, and confirms it extracts the message intact
// regardless of the split points.
func TestDrainMessagesParsesSplitFrames(t *testing.T) {
	m := &Multiplexer{logger: discardLogger()}
	proc := &process{language: "go", pending: make(map[int]*pendingRequest), openDocs: make(map[string]bool)}
	pending := &pendingRequest{resultCh: make(chan rpcMessage, 1)}
	proc.pending[1] = pending

	body := `{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`
	frame := "Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n" + body

	var buf bytes.Buffer
	for i := 0; i < len(frame); i += 7 {
		end := i + 7
		if end > len(frame) {
			end = len(frame)
		}
		buf.WriteString(frame[i:end])
		m.drainMessages(proc, &buf)
	}

	select {
	case resp := <-pending.resultCh:
		if string(resp.Result) != `{"ok":true}` {
			t.Fatalf("unexpected result payload: %s", resp.Result)
		}
	default:
		t.Fatal("expected the split frame to be fully parsed and dispatched")
	}

	if _, stillPending := proc.pending[1]; stillPending {
		t.Fatal("expected the pending entry to be removed once dispatched")
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// A process that hasn't completed its handshake must not receive
// document notifications, and one whose child has exited must not accept
// new requests.
func TestRequestsGatedOnProcessState(t *testing.T) {
	m := New(waveconfig.LspConfiguration{}, t.TempDir(), nil)

	uninitialized := &process{language: "go", state: stateSpawned, pending: make(map[int]*pendingRequest), openDocs: make(map[string]bool)}
	if err := m.ensureOpen(context.Background(), uninitialized, "/tmp/a.go"); err == nil {
		t.Fatal("expected ensureOpen to reject an uninitialized server")
	}

	exited := &process{language: "go", state: stateExited, pending: make(map[int]*pendingRequest)}
	if _, err := m.sendRequest(context.Background(), exited, "textDocument/hover", nil); err == nil {
		t.Fatal("expected sendRequest to reject an exited server")
	}
}

func TestExecuteUnsupportedOperationReturnsFailureNotError(t *testing.T) {
	m := New(waveconfig.LspConfiguration{}, t.TempDir(), nil)
	result := m.Execute(context.Background(), Request{Operation: "rename", FilePath: "a.go"})
	if result.Success {
		t.Fatal("expected unsupported operation to fail")
	}
	if result.Content == "" {
		t.Fatal("expected a descriptive message")
	}
}

func TestExecuteUnknownLanguageReturnsFailure(t *testing.T) {
	m := New(waveconfig.LspConfiguration{}, t.TempDir(), nil)
	result := m.Execute(context.Background(), Request{Operation: "hover", FilePath: "a.rs"})
	if result.Success {
		t.Fatal("expected missing extension mapping to fail gracefully")
	}
}
