package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPolicyRejectsRelativeRoots(t *testing.T) {
	_, err := NewPolicy(nil, []string{"data", "/ok"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absolute")
}

func TestPolicyImports(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		module  string
		wantOK  bool
	}{
		{"nil set allows anything", nil, "os", true},
		{"empty set denies everything", []string{}, "math", false},
		{"exact match", []string{"math", "json"}, "math", true},
		{"dotted child of allowed parent", []string{"pkg"}, "pkg.sub.leaf", true},
		{"dotted ancestor not allowed by child", []string{"pkg.sub"}, "pkg", false},
		{"sibling prefix is not an ancestor", []string{"pkg"}, "pkgother", false},
		{"unlisted module", []string{"math"}, "time", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPolicy(tt.allowed, nil, nil)
			require.NoError(t, err)
			err = p.Check(Import{Module: tt.module})
			if tt.wantOK {
				assert.NoError(t, err)
			} else {
				var perm *PermissionError
				require.ErrorAs(t, err, &perm)
			}
		})
	}
}

func TestPolicyOpenRoots(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))

	tests := []struct {
		name   string
		roots  []string
		path   string
		wantOK bool
	}{
		{"nil roots deny all file operations", nil, filepath.Join(dir, "f.txt"), false},
		{"empty roots deny all file operations", []string{}, filepath.Join(dir, "f.txt"), false},
		{"root itself", []string{dir}, dir, true},
		{"direct child", []string{dir}, filepath.Join(dir, "f.txt"), true},
		{"nested child", []string{dir}, filepath.Join(sub, "deep", "f.txt"), true},
		{"outside any root", []string{sub}, filepath.Join(dir, "f.txt"), false},
		{"sibling directory sharing a name prefix", []string{sub}, sub + "2/f.txt", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPolicy(nil, tt.roots, nil)
			require.NoError(t, err)
			err = p.Check(OpenFile{Path: tt.path, Mode: "r"})
			if tt.wantOK {
				assert.NoError(t, err)
			} else {
				var perm *PermissionError
				require.ErrorAs(t, err, &perm)
			}
		})
	}
}

func TestPolicyOpenResolvesSymlinkEscapes(t *testing.T) {
	outside := t.TempDir()
	allowed := t.TempDir()

	secret := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("hidden"), 0o600))

	// A symlink inside the allowed root pointing outside must be denied.
	link := filepath.Join(allowed, "escape")
	require.NoError(t, os.Symlink(secret, link))

	p, err := NewPolicy(nil, []string{allowed}, nil)
	require.NoError(t, err)

	err = p.Check(OpenFile{Path: link, Mode: "r"})
	var perm *PermissionError
	require.ErrorAs(t, err, &perm)

	// A symlinked directory escape is denied even for a file that does not
	// exist yet.
	dirLink := filepath.Join(allowed, "dirlink")
	require.NoError(t, os.Symlink(outside, dirLink))
	err = p.Check(OpenFile{Path: filepath.Join(dirLink, "new.txt"), Mode: "w"})
	require.ErrorAs(t, err, &perm)

	// A regular new file under the allowed root is still fine.
	assert.NoError(t, p.Check(OpenFile{Path: filepath.Join(allowed, "new.txt"), Mode: "w"}))
}

func TestPolicyModes(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name   string
		modes  []string
		mode   string
		wantOK bool
	}{
		{"nil modes allow anything", nil, "w+", true},
		{"empty modes deny everything", []string{}, "r", false},
		{"exact mode", []string{"r"}, "r", true},
		{"binary modifier maps to base mode", []string{"r"}, "rb", true},
		{"text modifier maps to base mode", []string{"r"}, "rt", true},
		{"plus modifier widens and is denied", []string{"r"}, "r+", false},
		{"write denied when only read allowed", []string{"r"}, "w", false},
		{"explicit widened mode allowed", []string{"r", "r+"}, "r+", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPolicy(nil, []string{dir}, tt.modes)
			require.NoError(t, err)
			err = p.Check(OpenFile{Path: filepath.Join(dir, "f.txt"), Mode: tt.mode})
			if tt.wantOK {
				assert.NoError(t, err)
			} else {
				var perm *PermissionError
				require.ErrorAs(t, err, &perm)
			}
		})
	}
}

func TestPermissionErrorMessage(t *testing.T) {
	p, err := NewPolicy([]string{"math"}, nil, nil)
	require.NoError(t, err)

	err = p.Check(Import{Module: "os"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `import "os"`)
	assert.Contains(t, err.Error(), "math")
}
