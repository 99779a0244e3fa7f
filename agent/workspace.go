package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Workspace is the working directory for one conversation. Code actions write
// their artifacts here; the loop tells the model where the latest one lives.
type Workspace struct {
	dir string
}

// NewWorkspace creates (if needed) the per-conversation directory under root
// and returns a tracker for it.
func NewWorkspace(root, conversationID string) (*Workspace, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root must not be empty")
	}
	if conversationID == "" {
		return nil, fmt.Errorf("conversation id must not be empty")
	}
	dir, err := filepath.Abs(filepath.Join(root, conversationID))
	if err != nil {
		return nil, fmt.Errorf("resolve workspace path: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", dir, err)
	}
	return &Workspace{dir: dir}, nil
}

// Dir returns the workspace directory path.
func (w *Workspace) Dir() string { return w.dir }

// LastWorkingCopy returns the path of the most recently modified non-hidden
// regular file directly inside the workspace, or "" when there is none.
func (w *Workspace) LastWorkingCopy() string {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTime time.Time
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestTime) {
			best = filepath.Join(w.dir, entry.Name())
			bestTime = info.ModTime()
		}
	}
	return best
}
