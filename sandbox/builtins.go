package sandbox

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.starlark.net/lib/json"
	"go.starlark.net/lib/math"
	libtime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// stdModules is the registry of loadable modules. A load() statement must
// pass the import policy first; being in this registry alone grants nothing.
var stdModules = map[string]starlark.StringDict{
	"math":   {"math": math.Module},
	"time":   {"time": libtime.Module},
	"json":   {"json": json.Module},
	"struct": {"struct": starlark.NewBuiltin("struct", starlarkstruct.Make)},
}

// load implements the thread load hook: policy check, then registry lookup.
func (s *Sandbox) load(_ *starlark.Thread, module string) (starlark.StringDict, error) {
	if err := s.policy.Check(Import{Module: module}); err != nil {
		return nil, err
	}
	mod, ok := stdModules[module]
	if !ok {
		return nil, fmt.Errorf("module %q is not available", module)
	}
	return mod, nil
}

// newBuiltins derives the capability-scoped builtin set for this sandbox.
// Called at construction and again on Reset.
func (s *Sandbox) newBuiltins() starlark.StringDict {
	return starlark.StringDict{
		"open": starlark.NewBuiltin("open", s.openFile),
	}
}

// openFile is the restricted open() builtin. Every call goes through the
// capability policy; denials surface as ordinary execution failures.
func (s *Sandbox) openFile(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	mode := "r"
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path, "mode?", &mode); err != nil {
		return nil, err
	}

	if err := s.policy.Check(OpenFile{Path: path, Mode: mode}); err != nil {
		return nil, err
	}

	flags, err := openFlags(mode)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, err
	}
	return &fileHandle{name: path, mode: mode, f: f}, nil
}

// openFlags translates a Python-style mode string into os.OpenFile flags.
func openFlags(mode string) (int, error) {
	plus := strings.Contains(mode, "+")
	base := strings.TrimSuffix(baseMode(mode), "+")
	switch base {
	case "r":
		if plus {
			return os.O_RDWR, nil
		}
		return os.O_RDONLY, nil
	case "w":
		flags := os.O_CREATE | os.O_TRUNC | os.O_WRONLY
		if plus {
			flags = os.O_CREATE | os.O_TRUNC | os.O_RDWR
		}
		return flags, nil
	case "a":
		flags := os.O_CREATE | os.O_APPEND | os.O_WRONLY
		if plus {
			flags = os.O_CREATE | os.O_APPEND | os.O_RDWR
		}
		return flags, nil
	case "x":
		return os.O_CREATE | os.O_EXCL | os.O_WRONLY, nil
	}
	return 0, fmt.Errorf("unsupported file mode %q", mode)
}

// fileHandle exposes an opened file to Starlark code with read/write/close
// methods. It is deliberately minimal: whole-content reads and string writes
// cover what generated code needs for workspace artifacts.
type fileHandle struct {
	name   string
	mode   string
	f      *os.File
	closed bool
}

var _ starlark.HasAttrs = (*fileHandle)(nil)

func (h *fileHandle) String() string        { return fmt.Sprintf("<file %q mode %q>", h.name, h.mode) }
func (h *fileHandle) Type() string          { return "file" }
func (h *fileHandle) Freeze()               {}
func (h *fileHandle) Truth() starlark.Bool  { return starlark.Bool(!h.closed) }
func (h *fileHandle) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: file") }

func (h *fileHandle) AttrNames() []string { return []string{"close", "name", "read", "write"} }

func (h *fileHandle) Attr(name string) (starlark.Value, error) {
	switch name {
	case "name":
		return starlark.String(h.name), nil
	case "read":
		return starlark.NewBuiltin("read", h.read), nil
	case "write":
		return starlark.NewBuiltin("write", h.write), nil
	case "close":
		return starlark.NewBuiltin("close", h.close), nil
	}
	return nil, nil
}

func (h *fileHandle) read(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	if h.closed {
		return nil, fmt.Errorf("read on closed file %q", h.name)
	}
	data, err := io.ReadAll(h.f)
	if err != nil {
		return nil, err
	}
	return starlark.String(data), nil
}

func (h *fileHandle) write(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var data string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "data", &data); err != nil {
		return nil, err
	}
	if h.closed {
		return nil, fmt.Errorf("write on closed file %q", h.name)
	}
	n, err := h.f.WriteString(data)
	if err != nil {
		return nil, err
	}
	return starlark.MakeInt(n), nil
}

func (h *fileHandle) close(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	if h.closed {
		return starlark.None, nil
	}
	h.closed = true
	if err := h.f.Close(); err != nil {
		return nil, err
	}
	return starlark.None, nil
}
