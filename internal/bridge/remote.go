package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"livesheet/engine/internal/logging"
)

const (
	jsonRPCVersion    = "2.0"
	maxMessageSize    = 12 * 1024 * 1024
	maxRestartAttempt = 3
)

// Remote is a Driver backed by a host-automation worker subprocess speaking
// newline-delimited JSON-RPC on stdio. The worker owns the platform-specific
// automation; this side only cares whether a call succeeded.
type Remote struct {
	mu       sync.Mutex
	cond     *sync.Cond
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	reader   *bufio.Reader
	pending  map[int]chan remoteResponse
	nextID   int
	failures int
	disabled bool
	starting bool
	closed   bool
	logger   *slog.Logger
}

type remoteRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type remoteRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *remoteRPCError `json:"error,omitempty"`
}

type remoteRPCError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

type remoteResponse struct {
	result json.RawMessage
	err    *remoteRPCError
}

func NewRemote(logger *slog.Logger) *Remote {
	if logger == nil {
		logger = logging.Nop()
	}
	r := &Remote{
		pending: make(map[int]chan remoteResponse),
		nextID:  1,
		logger:  logger,
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *Remote) Start() error {
	return r.ensureRunning()
}

func (r *Remote) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	cmd := r.cmd
	r.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
	return nil
}

func (r *Remote) HealthCheck(ctx context.Context) error {
	var info struct {
		OK     bool   `json:"ok"`
		Driver string `json:"driver"`
	}
	if err := r.call(ctx, "DriverGetInfo", map[string]any{}, &info); err != nil {
		return fmt.Errorf("driver health check failed: %w", err)
	}
	if !info.OK {
		return errors.New("driver health check returned not ok")
	}
	r.logger.Debug("bridge.health_check_ok", "driver", info.Driver)
	return nil
}

func (r *Remote) call(ctx context.Context, method string, params any, result any) error {
	if err := r.ensureRunning(); err != nil {
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrConnection
	}
	id := r.nextID
	r.nextID++
	respCh := make(chan remoteResponse, 1)
	r.pending[id] = respCh
	stdin := r.stdin
	r.mu.Unlock()

	if stdin == nil {
		r.removePending(id)
		return ErrConnection
	}

	payload, err := json.Marshal(remoteRequest{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: params})
	if err != nil {
		r.removePending(id)
		return err
	}
	if _, err := stdin.Write(append(payload, '\n')); err != nil {
		r.removePending(id)
		r.mu.Lock()
		cmd := r.cmd
		r.mu.Unlock()
		r.handleProcessExit(cmd, err)
		return ErrConnection
	}

	select {
	case resp := <-respCh:
		if resp.err != nil {
			return &DriverError{Op: method, Message: resp.err.Message}
		}
		if result != nil && len(resp.result) > 0 {
			if err := json.Unmarshal(resp.result, result); err != nil {
				return err
			}
		}
		return nil
	case <-ctx.Done():
		r.removePending(id)
		return ctx.Err()
	}
}

func (r *Remote) ensureRunning() error {
	r.mu.Lock()
	for r.starting {
		r.cond.Wait()
	}
	if r.closed {
		r.mu.Unlock()
		return ErrConnection
	}
	if r.cmd != nil {
		r.mu.Unlock()
		return nil
	}
	if r.disabled {
		r.mu.Unlock()
		return ErrConnection
	}
	r.starting = true
	failures := r.failures
	r.mu.Unlock()

	if failures > 0 {
		backoff := time.Duration(1<<uint(failures-1)) * time.Second
		time.Sleep(backoff)
	}

	err := r.startProcess()

	r.mu.Lock()
	r.starting = false
	r.cond.Broadcast()
	if err != nil {
		r.failures++
		if r.failures >= maxRestartAttempt {
			r.disabled = true
		}
	} else {
		r.failures = 0
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("bridge.start_failed", "error", err.Error())
		return ErrConnection
	}
	return nil
}

func (r *Remote) startProcess() error {
	cmdPath, args, err := resolveDriverCommand()
	if err != nil {
		return err
	}
	cmd := exec.Command(cmdPath, args...)
	env := append([]string{}, os.Environ()...)
	env = append(env, "PYTHONUNBUFFERED=1")
	cmd.Env = env
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	r.mu.Lock()
	r.cmd = cmd
	r.stdin = stdin
	r.reader = bufio.NewReader(stdout)
	if r.pending == nil {
		r.pending = make(map[int]chan remoteResponse)
	}
	r.mu.Unlock()

	r.logger.Debug("bridge.started", "cmd", cmdPath)

	go r.readLoop(cmd, r.reader)
	go r.stderrLoop(stderr)
	go r.waitLoop(cmd)
	return nil
}

func (r *Remote) readLoop(cmd *exec.Cmd, reader *bufio.Reader) {
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			r.handleProcessExit(cmd, err)
			return
		}
		if len(line) == 0 {
			continue
		}
		if len(line) > maxMessageSize {
			r.handleProcessExit(cmd, errors.New("message too large"))
			return
		}
		var resp remoteRPCResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			r.logger.Warn("bridge.invalid_json", "error", err.Error())
			continue
		}
		if resp.ID == 0 {
			continue
		}
		r.mu.Lock()
		ch := r.pending[resp.ID]
		delete(r.pending, resp.ID)
		r.mu.Unlock()
		if ch != nil {
			ch <- remoteResponse{result: resp.Result, err: resp.Error}
			close(ch)
		}
	}
}

func (r *Remote) stderrLoop(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		r.logger.Warn("bridge.stderr", "message", line)
	}
}

func (r *Remote) waitLoop(cmd *exec.Cmd) {
	_ = cmd.Wait()
	r.handleProcessExit(cmd, errors.New("process exited"))
}

func (r *Remote) handleProcessExit(cmd *exec.Cmd, err error) {
	r.mu.Lock()
	if r.cmd != cmd {
		r.mu.Unlock()
		return
	}
	r.cmd = nil
	r.stdin = nil
	r.reader = nil
	pending := r.pending
	r.pending = make(map[int]chan remoteResponse)
	if !r.closed {
		r.failures++
		if r.failures >= maxRestartAttempt {
			r.disabled = true
		}
	}
	r.mu.Unlock()

	for _, ch := range pending {
		ch <- remoteResponse{err: &remoteRPCError{Message: ErrConnection.Error()}}
		close(ch)
	}

	if err != nil && !errors.Is(err, io.EOF) {
		r.logger.Warn("bridge.exited", "error", err.Error())
	}
}

func (r *Remote) removePending(id int) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

func resolveDriverCommand() (string, []string, error) {
	path := strings.TrimSpace(os.Getenv("LIVESHEET_DRIVER_PATH"))
	if path == "" {
		return "", nil, errors.New("LIVESHEET_DRIVER_PATH not set")
	}
	if _, err := os.Stat(path); err != nil {
		return "", nil, err
	}
	if strings.HasSuffix(strings.ToLower(path), ".py") {
		python, err := resolvePython()
		if err != nil {
			return "", nil, err
		}
		return python, []string{"-u", path}, nil
	}
	return path, nil, nil
}

func resolvePython() (string, error) {
	if path, err := exec.LookPath("python3"); err == nil {
		return path, nil
	}
	if path, err := exec.LookPath("python"); err == nil {
		return path, nil
	}
	return "", errors.New("python not found in PATH")
}

func (r *Remote) ListInstances(ctx context.Context) ([]InstanceID, error) {
	var out struct {
		Instances []InstanceID `json:"instances"`
	}
	if err := r.call(ctx, "ListInstances", map[string]any{}, &out); err != nil {
		return nil, err
	}
	return out.Instances, nil
}

func (r *Remote) Launch(ctx context.Context) (InstanceID, error) {
	var out struct {
		Instance InstanceID `json:"instance"`
	}
	if err := r.call(ctx, "Launch", map[string]any{}, &out); err != nil {
		return "", err
	}
	return out.Instance, nil
}

func (r *Remote) TerminateInstance(ctx context.Context, instance InstanceID) error {
	return r.call(ctx, "TerminateInstance", map[string]any{"instance": instance}, nil)
}

func (r *Remote) ListDocuments(ctx context.Context, instance InstanceID) ([]DocumentRef, error) {
	var out struct {
		Documents []struct {
			Handle      DocumentHandle `json:"handle"`
			Path        string         `json:"path"`
			DisplayName string         `json:"display_name"`
		} `json:"documents"`
	}
	if err := r.call(ctx, "ListDocuments", map[string]any{"instance": instance}, &out); err != nil {
		return nil, err
	}
	refs := make([]DocumentRef, 0, len(out.Documents))
	for _, doc := range out.Documents {
		refs = append(refs, DocumentRef{
			Handle:   doc.Handle,
			Identity: Identity{Path: doc.Path, DisplayName: doc.DisplayName},
		})
	}
	return refs, nil
}

func (r *Remote) OpenFile(ctx context.Context, instance InstanceID, path string) (DocumentHandle, error) {
	var out struct {
		Handle DocumentHandle `json:"handle"`
	}
	if err := r.call(ctx, "OpenFile", map[string]any{"instance": instance, "path": path}, &out); err != nil {
		return "", err
	}
	return out.Handle, nil
}

func (r *Remote) NewDocument(ctx context.Context, instance InstanceID) (DocumentHandle, error) {
	var out struct {
		Handle DocumentHandle `json:"handle"`
	}
	if err := r.call(ctx, "NewDocument", map[string]any{"instance": instance}, &out); err != nil {
		return "", err
	}
	return out.Handle, nil
}

func (r *Remote) CloseDocument(ctx context.Context, handle DocumentHandle, discardChanges bool) error {
	return r.call(ctx, "CloseDocument", map[string]any{"handle": handle, "discard_changes": discardChanges}, nil)
}

func (r *Remote) ActivateDocument(ctx context.Context, handle DocumentHandle) error {
	return r.call(ctx, "ActivateDocument", map[string]any{"handle": handle}, nil)
}

func (r *Remote) IsHandleValid(ctx context.Context, handle DocumentHandle) bool {
	var out struct {
		Valid bool `json:"valid"`
	}
	if err := r.call(ctx, "IsHandleValid", map[string]any{"handle": handle}, &out); err != nil {
		return false
	}
	return out.Valid
}

func (r *Remote) DocumentIdentity(ctx context.Context, handle DocumentHandle) (Identity, error) {
	var out struct {
		Path        string `json:"path"`
		DisplayName string `json:"display_name"`
	}
	if err := r.call(ctx, "DocumentIdentity", map[string]any{"handle": handle}, &out); err != nil {
		return Identity{}, err
	}
	return Identity{Path: out.Path, DisplayName: out.DisplayName}, nil
}

func (r *Remote) PersistToFile(ctx context.Context, handle DocumentHandle, path string) error {
	return r.call(ctx, "PersistToFile", map[string]any{"handle": handle, "path": path}, nil)
}

func (r *Remote) ListSheets(ctx context.Context, handle DocumentHandle) ([]string, error) {
	var out struct {
		Sheets []string `json:"sheets"`
	}
	if err := r.call(ctx, "ListSheets", map[string]any{"handle": handle}, &out); err != nil {
		return nil, err
	}
	return out.Sheets, nil
}

func (r *Remote) AddSheet(ctx context.Context, handle DocumentHandle, name string) error {
	return r.call(ctx, "AddSheet", map[string]any{"handle": handle, "name": name}, nil)
}

func (r *Remote) SheetExtent(ctx context.Context, handle DocumentHandle, sheet string) (string, error) {
	var out struct {
		Extent string `json:"extent"`
	}
	if err := r.call(ctx, "SheetExtent", map[string]any{"handle": handle, "sheet": sheet}, &out); err != nil {
		return "", err
	}
	return out.Extent, nil
}

func (r *Remote) ReadFirstRow(ctx context.Context, handle DocumentHandle, sheet string, maxCells int) ([]string, error) {
	var out struct {
		Cells []string `json:"cells"`
	}
	params := map[string]any{"handle": handle, "sheet": sheet, "max_cells": maxCells}
	if err := r.call(ctx, "ReadFirstRow", params, &out); err != nil {
		return nil, err
	}
	return out.Cells, nil
}

func (r *Remote) ListNamedRanges(ctx context.Context, handle DocumentHandle) (map[string]string, error) {
	var out struct {
		Names map[string]string `json:"names"`
	}
	if err := r.call(ctx, "ListNamedRanges", map[string]any{"handle": handle}, &out); err != nil {
		return nil, err
	}
	return out.Names, nil
}
