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

// Package lsp multiplexes JSON-RPC requests across lazily spawned
// per-language child processes. The lazy-spawn / pending-table /
// stdin-writer shape follows the same pattern as stdio-transport MCP
// tool clients, re-expressed for Content-Length framed JSON-RPC rather
// than MCP's own wire format.
package lsp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/wave/pkg/waveconfig"
)

var tracer = otel.Tracer("github.com/kadirpekel/wave/pkg/lsp")

// processState is the per-child-process lifecycle.
type processState string

const (
	stateSpawned     processState = "spawned"
	stateInitialized processState = "initialized"
	stateExited      processState = "exited"
)

type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int            `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  any             `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("lsp error %d: %s", e.Code, e.Message)
}

type pendingRequest struct {
	resultCh chan rpcMessage
}

// process is one spawned language server and its framing/demux state.
type process struct {
	language string
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	mu       sync.Mutex
	state    processState
	nextID   int
	pending  map[int]*pendingRequest
	openDocs map[string]bool
}

// Multiplexer manages per-language child processes and routes textDocument
// requests to them. All public methods are safe to call from the
// agent's event loop or from anywhere else; state is protected by an
// internal mutex regardless.
type Multiplexer struct {
	mu sync.Mutex
	// processes holds only fully initialized servers; spawning tracks
	// in-flight handshakes so concurrent callers wait instead of racing.
	processes map[string]*process
	spawning  map[string]chan struct{}
	config    waveconfig.LspConfiguration
	workdir   string
	logger    *slog.Logger
}

// New creates a Multiplexer using the merged LSP configuration and rooted
// at workdir (used to resolve workspaceFolder when unset).
func New(config waveconfig.LspConfiguration, workdir string, logger *slog.Logger) *Multiplexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multiplexer{
		processes: make(map[string]*process),
		spawning:  make(map[string]chan struct{}),
		config:    config,
		workdir:   workdir,
		logger:    logger.With("component", "lsp"),
	}
}

// languageFor resolves filePath's extension through the configured
// extensionToLanguage map.
func (m *Multiplexer) languageFor(filePath string) (string, bool) {
	ext := filepath.Ext(filePath)
	lang, ok := m.config.ExtensionToLanguage[ext]
	return lang, ok
}

// Request is the public operation surface for an LSP query.
type Request struct {
	Operation string
	FilePath  string
	Line      int // 1-based, caller-facing
	Character int // 1-based, caller-facing
}

// Result is what execute() returns to the caller.
type Result struct {
	Success bool
	Content string
}

var methodByOperation = map[string]string{
	"definition":     "textDocument/definition",
	"goToDefinition": "textDocument/definition",
	"hover":          "textDocument/hover",
	"references":     "textDocument/references",
	"documentSymbol": "textDocument/documentSymbol",
}

// Execute dispatches {operation, filePath, line, character} to the
// matching textDocument/* method, converting the caller's 1-based
// position to the protocol's 0-based one. Unknown operations return
// {success:false}, never an error.
func (m *Multiplexer) Execute(ctx context.Context, req Request) Result {
	method, ok := methodByOperation[req.Operation]
	if !ok {
		return Result{Success: false, Content: fmt.Sprintf("Unsupported LSP operation: %s", req.Operation)}
	}

	lang, ok := m.languageFor(req.FilePath)
	if !ok {
		return Result{Success: false, Content: fmt.Sprintf("no language configured for %s", req.FilePath)}
	}

	ctx, span := tracer.Start(ctx, "lsp.request", trace.WithAttributes(
		attribute.String("lsp.method", method),
		attribute.String("lsp.language", lang),
	))
	defer span.End()

	proc, err := m.ensureProcess(ctx, lang)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{Success: false, Content: err.Error()}
	}

	absPath, err := filepath.Abs(req.FilePath)
	if err != nil {
		absPath = req.FilePath
	}
	if err := m.ensureOpen(ctx, proc, absPath); err != nil {
		span.RecordError(err)
		return Result{Success: false, Content: err.Error()}
	}

	params := map[string]any{
		"textDocument": map[string]any{"uri": "file://" + absPath},
		"position": map[string]any{
			"line":      req.Line - 1,
			"character": req.Character - 1,
		},
	}

	resp, err := m.sendRequest(ctx, proc, method, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{Success: false, Content: err.Error()}
	}

	return Result{Success: true, Content: string(resp.Result)}
}

// ensureProcess returns lang's initialized child process, spawning it and
// completing the initialize/initialized handshake first if absent. The
// process is only published into the map once the handshake finishes;
// concurrent callers for the same language wait on the in-flight spawn
// instead of racing requests against an uninitialized server.
func (m *Multiplexer) ensureProcess(ctx context.Context, lang string) (*process, error) {
	for {
		m.mu.Lock()
		if proc, ok := m.processes[lang]; ok {
			m.mu.Unlock()
			return proc, nil
		}
		inflight, ok := m.spawning[lang]
		if !ok {
			break // m.mu still held; this caller claims the spawn
		}
		m.mu.Unlock()
		select {
		case <-inflight:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	done := make(chan struct{})
	m.spawning[lang] = done
	m.mu.Unlock()

	proc, err := m.spawnAndInitialize(ctx, lang)

	m.mu.Lock()
	delete(m.spawning, lang)
	if err == nil {
		m.processes[lang] = proc
	}
	m.mu.Unlock()
	close(done)

	if err != nil {
		return nil, err
	}
	return proc, nil
}

// spawnAndInitialize starts lang's server and runs the handshake, killing
// the child on any failure. It never touches m.processes; publishing the
// ready process is ensureProcess's job.
func (m *Multiplexer) spawnAndInitialize(ctx context.Context, lang string) (*process, error) {
	cfg, ok := m.config.Languages[lang]
	if !ok {
		return nil, fmt.Errorf("no language server configured for %q", lang)
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = m.workdir
	if len(cfg.Env) > 0 {
		env := os.Environ()
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin for %s server: %w", lang, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout for %s server: %w", lang, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to spawn %s language server: %w", lang, err)
	}

	proc := &process{
		language: lang,
		cmd:      cmd,
		stdin:    stdin,
		state:    stateSpawned,
		pending:  make(map[int]*pendingRequest),
		openDocs: make(map[string]bool),
	}

	go m.readLoop(proc, stdout)

	workspaceFolder := cfg.WorkspaceFolder
	if workspaceFolder == "" {
		workspaceFolder = m.workdir
	}

	initParams := map[string]any{
		"processId":             os.Getpid(),
		"rootUri":               "file://" + workspaceFolder,
		"capabilities":          map[string]any{},
		"initializationOptions": cfg.InitializationOptions,
	}

	if _, err := m.sendRequest(ctx, proc, "initialize", initParams); err != nil {
		stdin.Close()
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		return nil, fmt.Errorf("initialize failed for %s: %w", lang, err)
	}

	m.sendNotification(proc, "initialized", map[string]any{})

	proc.mu.Lock()
	proc.state = stateInitialized
	proc.mu.Unlock()

	return proc, nil
}

// ensureOpen sends didOpen the first time absPath is referenced on proc.
// Only an initialized server may receive document notifications.
func (m *Multiplexer) ensureOpen(ctx context.Context, proc *process, absPath string) error {
	proc.mu.Lock()
	state := proc.state
	opened := proc.openDocs[absPath]
	proc.mu.Unlock()
	if state != stateInitialized {
		return fmt.Errorf("%s language server is not initialized", proc.language)
	}
	if opened {
		return nil
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", absPath, err)
	}

	proc.mu.Lock()
	proc.openDocs[absPath] = true
	proc.mu.Unlock()

	lang := proc.language
	m.sendNotification(proc, "textDocument/didOpen", map[string]any{
		"textDocument": map[string]any{
			"uri":        "file://" + absPath,
			"languageId": lang,
			"version":    1,
			"text":       string(content),
		},
	})
	return nil
}

// sendRequest assigns the next integer id, registers a pending entry,
// writes the framed message, and blocks until the matching response
// arrives or ctx is cancelled.
func (m *Multiplexer) sendRequest(ctx context.Context, proc *process, method string, params any) (rpcMessage, error) {
	proc.mu.Lock()
	if proc.state == stateExited {
		proc.mu.Unlock()
		return rpcMessage{}, fmt.Errorf("%s language server has exited", proc.language)
	}
	proc.nextID++
	id := proc.nextID
	pending := &pendingRequest{resultCh: make(chan rpcMessage, 1)}
	proc.pending[id] = pending
	proc.mu.Unlock()

	msg := rpcMessage{JSONRPC: "2.0", ID: &id, Method: method, Params: params}
	if err := m.write(proc, msg); err != nil {
		proc.mu.Lock()
		delete(proc.pending, id)
		proc.mu.Unlock()
		return rpcMessage{}, err
	}

	select {
	case resp := <-pending.resultCh:
		if resp.Error != nil {
			return rpcMessage{}, resp.Error
		}
		return resp, nil
	case <-ctx.Done():
		return rpcMessage{}, ctx.Err()
	}
}

// sendNotification writes a message with no id; it never completes.
func (m *Multiplexer) sendNotification(proc *process, method string, params any) {
	msg := rpcMessage{JSONRPC: "2.0", Method: method, Params: params}
	_ = m.write(proc, msg)
}

func (m *Multiplexer) write(proc *process, msg rpcMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal lsp message: %w", err)
	}

	proc.mu.Lock()
	defer proc.mu.Unlock()
	framed := fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body)
	_, err = io.WriteString(proc.stdin, framed)
	return err
}

// readLoop accumulates stdout into a byte buffer and alternates between
// header and body parsing, dispatching
// each complete message by id.
func (m *Multiplexer) readLoop(proc *process, stdout io.ReadCloser) {
	reader := bufio.NewReader(stdout)
	var buf bytes.Buffer
	chunk := make([]byte, 4096)

	for {
		n, err := reader.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			m.drainMessages(proc, &buf)
		}
		if err != nil {
			break
		}
	}

	m.mu.Lock()
	delete(m.processes, proc.language)
	m.mu.Unlock()

	proc.mu.Lock()
	proc.state = stateExited
	proc.mu.Unlock()
	// In-flight requests are left unresolved by design; they error out
	// when the caller's context is cancelled.
}

func (m *Multiplexer) drainMessages(proc *process, buf *bytes.Buffer) {
	for {
		data := buf.Bytes()
		headerEnd := bytes.Index(data, []byte("\r\n\r\n"))
		if headerEnd < 0 {
			return
		}

		header := string(data[:headerEnd])
		contentLength := -1
		for _, line := range strings.Split(header, "\r\n") {
			if strings.HasPrefix(line, "Content-Length:") {
				v := strings.TrimSpace(strings.TrimPrefix(line, "Content-Length:"))
				if n, err := strconv.Atoi(v); err == nil {
					contentLength = n
				}
			}
		}
		if contentLength < 0 {
			buf.Next(headerEnd + 4)
			continue
		}

		bodyStart := headerEnd + 4
		if len(data) < bodyStart+contentLength {
			return
		}

		body := data[bodyStart : bodyStart+contentLength]
		buf.Next(bodyStart + contentLength)

		var msg rpcMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			m.logger.Warn("malformed lsp frame, skipping", "language", proc.language, "error", err)
			continue
		}
		m.dispatch(proc, msg)
	}
}

func (m *Multiplexer) dispatch(proc *process, msg rpcMessage) {
	if msg.ID == nil {
		return // server-originated notification; not modeled
	}

	proc.mu.Lock()
	pending, ok := proc.pending[*msg.ID]
	if ok {
		delete(proc.pending, *msg.ID)
	}
	proc.mu.Unlock()

	if !ok {
		m.logger.Warn("unknown lsp response id, skipping", "language", proc.language, "id", *msg.ID)
		return
	}
	pending.resultCh <- msg
}

// Close terminates every spawned language server unconditionally.
func (m *Multiplexer) Close() {
	m.mu.Lock()
	procs := make([]*process, 0, len(m.processes))
	for _, p := range m.processes {
		procs = append(procs, p)
	}
	m.processes = make(map[string]*process)
	m.mu.Unlock()

	for _, p := range procs {
		p.stdin.Close()
		if p.cmd.Process != nil {
			p.cmd.Process.Kill()
		}
	}
}
