package sandbox

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"go.starlark.net/starlark"
	"golang.org/x/sync/errgroup"
)

// workerRequest is the message-passing envelope shipped to an isolated
// worker: the submission plus a deep copy of the serializable namespace and
// the policy configuration to rebuild the sandbox on the far side.
type workerRequest struct {
	Code    string         `json:"code"`
	Globals map[string]any `json:"globals"`
	Locals  map[string]any `json:"locals"`
	Config  Config         `json:"config"`
}

// workerResponse carries the result and the worker's updated namespace back
// to the parent.
type workerResponse struct {
	Result  Result         `json:"result"`
	Globals map[string]any `json:"globals"`
	Locals  map[string]any `json:"locals"`
}

// executeIsolated runs one submission in a separate worker process with a
// hard wall-clock timeout. On timeout the worker is killed and reaped; on
// normal completion the worker's namespace is merged back last-writer-wins.
// Caller holds s.mu.
func (s *Sandbox) executeIsolated(code string) Result {
	exe, err := os.Executable()
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("cannot locate worker binary: %v", err)}
	}

	req := workerRequest{
		Code:    code,
		Globals: dictToGo(s.globals),
		Locals:  dictToGo(s.locals),
		Config:  s.workerConfig(),
	}

	cmd := exec.Command(exe, s.cfg.WorkerArgs...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("worker stdin: %v", err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("worker stdout: %v", err)}
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return Result{Success: false, Error: fmt.Sprintf("failed to start worker: %v", err)}
	}

	var resp workerResponse
	var g errgroup.Group
	g.Go(func() error {
		defer stdin.Close()
		return json.NewEncoder(stdin).Encode(req)
	})
	g.Go(func() error {
		dec := json.NewDecoder(io.LimitReader(stdout, s.cfg.MaxStateBytes))
		dec.UseNumber()
		return dec.Decode(&resp)
	})

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case <-time.After(s.cfg.Timeout):
		// Hard-terminate and reap; a hung worker must never be leaked.
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		s.logger.Warn("worker timed out")
		return Result{
			Success: false,
			Error:   fmt.Sprintf("execution timed out after %s", s.cfg.Timeout),
		}
	case err := <-done:
		waitErr := cmd.Wait()
		if err != nil || waitErr != nil {
			if err == nil {
				err = waitErr
			}
			return Result{
				Success: false,
				Error:   "failed to retrieve execution result from worker",
				Detail:  err.Error(),
			}
		}
	}

	if resp.Result.Success {
		s.mergeNamespace(resp.Globals, resp.Locals)
	}
	return resp.Result
}

// workerConfig is the child-side configuration: same policy and output bound,
// but never isolated again.
func (s *Sandbox) workerConfig() Config {
	cfg := s.cfg
	cfg.Isolate = false
	return cfg
}

// dictToGo converts a namespace layer to its serializable subset. Callables
// and opaque host values stay behind; they are re-derived, not transferred.
func dictToGo(dict starlark.StringDict) map[string]any {
	out := make(map[string]any, len(dict))
	for name, value := range dict {
		if gv, ok := fromStarlark(value); ok {
			out[name] = gv
		}
	}
	return out
}

// mergeNamespace folds the worker's resulting namespace into the parent,
// last-writer-wins per key. Caller holds s.mu.
func (s *Sandbox) mergeNamespace(globals, locals map[string]any) {
	for name, value := range globals {
		if sv, err := toStarlark(value); err == nil {
			s.globals[name] = sv
		}
	}
	for name, value := range locals {
		if sv, err := toStarlark(value); err == nil {
			s.locals[name] = sv
		}
	}
}

// RunWorker is the child-process entry point for subprocess isolation. The
// binary that embeds this package must dispatch the configured worker
// arguments here, wiring r and w to the parent's pipes. It executes exactly
// one submission and exits.
func RunWorker(r io.Reader, w io.Writer) error {
	var req workerRequest
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return fmt.Errorf("decode worker request: %w", err)
	}

	sb, err := New(req.Config, nil)
	if err != nil {
		return fmt.Errorf("build worker sandbox: %w", err)
	}
	for name, value := range req.Globals {
		if err := sb.SetVar(name, value); err != nil {
			return fmt.Errorf("seed global %q: %w", name, err)
		}
	}
	for name, value := range req.Locals {
		sv, err := toStarlark(value)
		if err != nil {
			return fmt.Errorf("seed local %q: %w", name, err)
		}
		sb.locals[name] = sv
	}

	result := sb.Execute(req.Code)

	resp := workerResponse{
		Result:  result,
		Globals: dictToGo(sb.globals),
		Locals:  dictToGo(sb.locals),
	}
	return json.NewEncoder(w).Encode(resp)
}
