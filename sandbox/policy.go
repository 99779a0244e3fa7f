package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Request is a capability the sandboxed program asks the policy to grant.
// It is a closed union: Import and OpenFile are the only implementations.
type Request interface {
	// Describe returns a short human-readable form of the request,
	// e.g. `import "os"` or `open "/etc/passwd" mode "r"`.
	Describe() string
}

// Import requests permission to load the named module.
type Import struct {
	Module string
}

func (r Import) Describe() string { return fmt.Sprintf("import %q", r.Module) }

// OpenFile requests permission to open Path with the given mode string
// ("r", "w", "a", optionally with "b"/"t"/"+" modifiers).
type OpenFile struct {
	Path string
	Mode string
}

func (r OpenFile) Describe() string { return fmt.Sprintf("open %q mode %q", r.Path, r.Mode) }

// PermissionError is returned for every policy denial. It carries the denied
// request and the allowed set so the failure can be surfaced verbatim to the
// model, which is expected to adapt.
type PermissionError struct {
	Request Request
	Allowed []string
	Reason  string
}

func (e *PermissionError) Error() string {
	if len(e.Allowed) > 0 {
		return fmt.Sprintf("%s denied: %s (allowed: %s)", e.Request.Describe(), e.Reason, strings.Join(e.Allowed, ", "))
	}
	return fmt.Sprintf("%s denied: %s", e.Request.Describe(), e.Reason)
}

// Policy decides capability requests. It is pure data plus logic: no I/O
// beyond path canonicalization, and immutable after construction.
//
// For each restriction list, nil means "unrestricted" and an empty non-nil
// list means "nothing permitted" — except allowed roots, where both nil and
// empty mean no file operations at all.
type Policy struct {
	imports []string
	roots   []string
	modes   []string

	importSet map[string]struct{}
	modeSet   map[string]struct{}
}

// NewPolicy builds a policy from allowed import names, allowed filesystem
// roots, and allowed file modes. All roots must be absolute paths.
func NewPolicy(imports, roots, modes []string) (*Policy, error) {
	var notAbsolute []string
	cleanRoots := make([]string, 0, len(roots))
	for _, r := range roots {
		if !filepath.IsAbs(r) {
			notAbsolute = append(notAbsolute, r)
			continue
		}
		cleanRoots = append(cleanRoots, filepath.Clean(r))
	}
	if len(notAbsolute) > 0 {
		return nil, fmt.Errorf("allowed roots must be absolute paths, got: %s", strings.Join(notAbsolute, ", "))
	}
	if roots == nil {
		cleanRoots = nil
	}

	p := &Policy{imports: imports, roots: cleanRoots, modes: modes}
	if imports != nil {
		p.importSet = make(map[string]struct{}, len(imports))
		for _, m := range imports {
			p.importSet[m] = struct{}{}
		}
	}
	if modes != nil {
		p.modeSet = make(map[string]struct{}, len(modes))
		for _, m := range modes {
			p.modeSet[m] = struct{}{}
		}
	}
	return p, nil
}

// Check evaluates one capability request, returning nil to allow or a
// *PermissionError to deny.
func (p *Policy) Check(req Request) error {
	switch r := req.(type) {
	case Import:
		return p.checkImport(r)
	case OpenFile:
		return p.checkOpen(r)
	default:
		return &PermissionError{Request: req, Reason: "unknown capability"}
	}
}

// checkImport allows a module iff itself or any dotted-prefix ancestor is in
// the allowed set. A nil set allows everything.
func (p *Policy) checkImport(r Import) error {
	if p.importSet == nil && p.imports == nil {
		return nil
	}
	parts := strings.Split(r.Module, ".")
	for i := len(parts); i > 0; i-- {
		if _, ok := p.importSet[strings.Join(parts[:i], ".")]; ok {
			return nil
		}
	}
	return &PermissionError{Request: r, Allowed: p.imports, Reason: "module is not in the allowed import set"}
}

func (p *Policy) checkOpen(r OpenFile) error {
	// No roots configured (nil or empty) means no file operations at all.
	if len(p.roots) == 0 {
		return &PermissionError{Request: r, Reason: "file operations are not allowed in this environment"}
	}

	if err := p.checkMode(r); err != nil {
		return err
	}

	canonical, err := canonicalPath(r.Path)
	if err != nil {
		return &PermissionError{Request: r, Reason: fmt.Sprintf("invalid file path: %v", err)}
	}

	for _, root := range p.roots {
		if pathWithin(canonical, root) {
			return nil
		}
	}
	return &PermissionError{Request: r, Allowed: p.roots, Reason: fmt.Sprintf("path %q is outside the allowed directories", canonical)}
}

// checkMode allows a mode iff the raw mode or its base form (with the "b"/"t"
// encoding modifiers stripped) is in the allowed set. A nil set allows all
// modes. "+" is not a modifier here: it widens the capability, so "r+" needs
// its own entry even when "r" is allowed.
func (p *Policy) checkMode(r OpenFile) error {
	if p.modeSet == nil && p.modes == nil {
		return nil
	}
	if _, ok := p.modeSet[r.Mode]; ok {
		return nil
	}
	if _, ok := p.modeSet[baseMode(r.Mode)]; ok {
		return nil
	}
	return &PermissionError{Request: r, Allowed: p.modes, Reason: fmt.Sprintf("file mode %q is not allowed", r.Mode)}
}

func baseMode(mode string) string {
	return strings.Map(func(c rune) rune {
		switch c {
		case 'b', 't':
			return -1
		}
		return c
	}, mode)
}

// canonicalPath resolves path to absolute form following symlinks. For paths
// that do not exist yet (e.g. files about to be created), the deepest existing
// ancestor is resolved and the remaining components are rejoined, matching the
// non-strict resolution the open hook needs for write modes.
func canonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	dir, base := filepath.Split(filepath.Clean(abs))
	suffix := base
	for dir != "" {
		dir = filepath.Clean(dir)
		resolved, err = filepath.EvalSymlinks(dir)
		if err == nil {
			return filepath.Join(resolved, suffix), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		var next string
		dir, next = filepath.Split(dir)
		suffix = filepath.Join(next, suffix)
	}
	return abs, nil
}

// pathWithin reports whether path equals root or is a descendant of it.
// Plain prefix comparison is not enough: /data2 must not match root /data.
func pathWithin(path, root string) bool {
	if path == root {
		return true
	}
	if root == string(filepath.Separator) {
		return strings.HasPrefix(path, root)
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}
