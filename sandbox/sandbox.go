package sandbox

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
	"go.uber.org/zap"
)

// truncationMarker is appended when captured output exceeds the configured bound.
const truncationMarker = "\n... (output truncated)"

// Config configures a Sandbox. It is immutable for the sandbox's lifetime.
//
// For AllowedImports and AllowedModes, nil means "unrestricted" and an empty
// non-nil slice means "nothing permitted". AllowedRoots denies all file
// operations when nil OR empty.
type Config struct {
	AllowedImports []string `json:"allowed_imports"`
	AllowedRoots   []string `json:"allowed_roots"`
	AllowedModes   []string `json:"allowed_modes"`

	// Timeout is the hard wall-clock bound for one submission. Enforced only
	// in isolated mode; in-process execution runs on the caller's goroutine
	// and cannot be cancelled.
	Timeout time.Duration `json:"timeout"`

	// MaxOutputChars bounds captured output per submission.
	MaxOutputChars int `json:"max_output_chars"`

	// Isolate runs each submission in a separate worker process, providing
	// crash containment and an enforceable timeout at the cost of
	// serializing the namespace across the process boundary.
	Isolate bool `json:"isolate"`

	// MaxStateBytes bounds the serialized namespace returned by an isolated
	// worker, so adversarial code cannot grow parent memory without bound.
	MaxStateBytes int64 `json:"max_state_bytes"`

	// WorkerArgs are the arguments passed to the re-executed binary to enter
	// worker mode. The process named by os.Executable must dispatch these to
	// RunWorker.
	WorkerArgs []string `json:"worker_args,omitempty"`
}

// DefaultConfig returns conservative defaults: no file access, unrestricted
// imports of the (already safe) module registry, 30s timeout, 10k output cap.
func DefaultConfig() Config {
	return Config{
		Timeout:        30 * time.Second,
		MaxOutputChars: 10000,
		MaxStateBytes:  1 << 20,
		WorkerArgs:     []string{"sandbox-worker"},
	}
}

// Result is the immutable outcome of one code submission.
type Result struct {
	// Success reports whether the submission ran to completion.
	Success bool `json:"success"`
	// Output is everything the submission printed, possibly truncated.
	// On failure it holds whatever was captured before the fault.
	Output string `json:"output"`
	// Error is the failure message, empty on success.
	Error string `json:"error,omitempty"`
	// Detail is the full diagnostic backtrace when one exists.
	Detail string `json:"detail,omitempty"`
}

// Record pairs a submission with its result in the execution history.
type Record struct {
	Code   string `json:"code"`
	Result Result `json:"result"`
}

// HostFunc is a host-provided function exposed to sandboxed code via
// InjectFunc. Arguments and results use the JSON-shaped Go value subset.
type HostFunc func(args ...any) (any, error)

// Sandbox executes untrusted Starlark submissions against a persistent
// namespace under a capability policy. One instance is exclusively owned by
// one conversation; instances are never shared.
type Sandbox struct {
	cfg    Config
	policy *Policy
	logger *zap.Logger

	mu       sync.Mutex
	builtins starlark.StringDict
	globals  starlark.StringDict // host-seeded bindings: SetVar, InjectFunc
	locals   starlark.StringDict // bindings created by executed code; shadow globals
	history  []Record
}

// New creates a sandbox with the given config. Configuration errors (invalid
// roots, non-positive bounds) fail construction; nothing else does.
func New(cfg Config, logger *zap.Logger) (*Sandbox, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxOutputChars <= 0 {
		return nil, fmt.Errorf("max output chars must be positive, got %d", cfg.MaxOutputChars)
	}
	if cfg.MaxStateBytes <= 0 {
		cfg.MaxStateBytes = 1 << 20
	}
	if len(cfg.WorkerArgs) == 0 {
		cfg.WorkerArgs = []string{"sandbox-worker"}
	}
	policy, err := NewPolicy(cfg.AllowedImports, cfg.AllowedRoots, cfg.AllowedModes)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sandbox{
		cfg:     cfg,
		policy:  policy,
		logger:  logger.With(zap.String("component", "sandbox")),
		globals: make(starlark.StringDict),
		locals:  make(starlark.StringDict),
	}
	s.builtins = s.newBuiltins()
	return s, nil
}

// fileOptions enables the non-core Starlark features generated code leans on:
// top-level control flow, while loops, set literals, and global reassignment
// so submissions can rebind names across calls.
func fileOptions() *syntax.FileOptions {
	return &syntax.FileOptions{
		Set:             true,
		While:           true,
		TopLevelControl: true,
		GlobalReassign:  true,
		Recursion:       true,
	}
}

// Execute runs one code submission and returns its result. The result is also
// appended to the execution history regardless of outcome. Failures of the
// submission itself (syntax errors, runtime faults, capability denials,
// timeouts) are reported in the Result, never as a host crash.
func (s *Sandbox) Execute(code string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result Result
	if s.cfg.Isolate {
		result = s.executeIsolated(code)
	} else {
		result = s.executeInProcess(code)
	}

	s.history = append(s.history, Record{Code: code, Result: result})
	s.logger.Debug("executed submission",
		zap.Bool("success", result.Success),
		zap.Int("code_length", len(code)),
		zap.Int("output_length", len(result.Output)))
	return result
}

// executeInProcess runs the submission on the calling goroutine with output
// captured into a per-call buffer via the thread print hook.
func (s *Sandbox) executeInProcess(code string) Result {
	var buf bytes.Buffer
	thread := &starlark.Thread{
		Name: "sandbox",
		Print: func(_ *starlark.Thread, msg string) {
			buf.WriteString(msg)
			buf.WriteByte('\n')
		},
		Load: s.load,
	}

	opts := fileOptions()

	// Syntax check first: a malformed submission is an execution failure,
	// not a crash.
	file, err := opts.Parse("<submission>", code, 0)
	if err != nil {
		return s.failure(&buf, err)
	}

	env := s.environment()

	// Prefer evaluating a single expression so its value can be observed.
	if expr, err := opts.ParseExpr("<submission>", code, 0); err == nil {
		value, err := starlark.EvalExprOptions(opts, thread, expr, env)
		if err != nil {
			return s.failure(&buf, err)
		}
		if value != starlark.None {
			buf.WriteString(value.String())
			buf.WriteByte('\n')
		}
		return s.success(&buf)
	}

	// Statement sequence: compile against the merged environment and run with
	// the persistent namespace. New top-level bindings land in locals; there
	// is no rollback on failure, partially created bindings stay visible.
	prog, err := starlark.FileProgram(file, env.Has)
	if err != nil {
		return s.failure(&buf, err)
	}
	bound, err := prog.Init(thread, env)
	for name, value := range bound {
		s.locals[name] = value
	}
	if err != nil {
		return s.failure(&buf, err)
	}
	return s.success(&buf)
}

// environment merges builtins, host globals and code-created locals into the
// predeclared environment for one call. Locals shadow globals.
func (s *Sandbox) environment() starlark.StringDict {
	env := make(starlark.StringDict, len(s.builtins)+len(s.globals)+len(s.locals))
	for name, value := range s.builtins {
		env[name] = value
	}
	for name, value := range s.globals {
		env[name] = value
	}
	for name, value := range s.locals {
		env[name] = value
	}
	return env
}

func (s *Sandbox) success(buf *bytes.Buffer) Result {
	return Result{Success: true, Output: s.truncate(buf.String())}
}

func (s *Sandbox) failure(buf *bytes.Buffer, err error) Result {
	result := Result{
		Success: false,
		Output:  s.truncate(buf.String()),
		Error:   err.Error(),
		Detail:  err.Error(),
	}
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		result.Error = evalErr.Msg
		result.Detail = evalErr.Backtrace()
	}
	return result
}

func (s *Sandbox) truncate(output string) string {
	if len(output) > s.cfg.MaxOutputChars {
		return output[:s.cfg.MaxOutputChars] + truncationMarker
	}
	return output
}

// Reset clears the namespace and history and re-derives a fresh
// capability-scoped builtin set. Injected host functions are dropped.
func (s *Sandbox) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globals = make(starlark.StringDict)
	s.locals = make(starlark.StringDict)
	s.history = nil
	s.builtins = s.newBuiltins()
	s.logger.Debug("sandbox reset")
}

// Snapshot returns the non-private bindings (names not starting with "__") of
// the namespace as plain Go values. Unserializable bindings are omitted.
func (s *Sandbox) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any)
	collect := func(dict starlark.StringDict) {
		for name, value := range dict {
			if strings.HasPrefix(name, "__") {
				continue
			}
			if gv, ok := fromStarlark(value); ok {
				out[name] = gv
			}
		}
	}
	collect(s.globals)
	collect(s.locals)
	return out
}

// SetVar binds a value in the global namespace.
func (s *Sandbox) SetVar(name string, value any) error {
	sv, err := toStarlark(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globals[name] = sv
	return nil
}

// GetVar returns the binding for name, with locals shadowing globals, or def
// when the name is unbound or has no Go representation.
func (s *Sandbox) GetVar(name string, def any) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value, ok := s.locals[name]; ok {
		if gv, ok := fromStarlark(value); ok {
			return gv
		}
		return def
	}
	if value, ok := s.globals[name]; ok {
		if gv, ok := fromStarlark(value); ok {
			return gv
		}
		return def
	}
	return def
}

// InjectFunc pre-registers a host-provided function under the given name
// before any code runs, exposing a limited host service without opening a
// general capability. Dropped on Reset. Injected functions do not transfer
// to isolated workers; they are in-process only.
func (s *Sandbox) InjectFunc(name string, fn HostFunc) {
	builtin := starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(kwargs) > 0 {
			return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
		}
		goArgs := make([]any, 0, len(args))
		for _, arg := range args {
			gv, ok := fromStarlark(arg)
			if !ok {
				return nil, fmt.Errorf("%s: argument %s has no host representation", b.Name(), arg.Type())
			}
			goArgs = append(goArgs, gv)
		}
		out, err := fn(goArgs...)
		if err != nil {
			return nil, err
		}
		return toStarlark(out)
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globals[name] = builtin
}

// History returns a copy of the execution history in submission order.
func (s *Sandbox) History() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.history))
	copy(out, s.history)
	return out
}

// VarNames returns the sorted non-private binding names, for diagnostics.
func (s *Sandbox) VarNames() []string {
	snapshot := s.Snapshot()
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
