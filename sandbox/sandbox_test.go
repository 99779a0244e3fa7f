package sandbox

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSandbox(t *testing.T, cfg Config) *Sandbox {
	t.Helper()
	if cfg.MaxOutputChars == 0 {
		cfg.MaxOutputChars = 10000
	}
	s, err := New(cfg, nil)
	require.NoError(t, err)
	return s
}

func TestExecutePrintCapture(t *testing.T) {
	s := newTestSandbox(t, Config{})
	res := s.Execute(`print("hello")` + "\n" + `print("world")`)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "hello\nworld\n", res.Output)
}

func TestExecuteExpressionValueIsPrinted(t *testing.T) {
	s := newTestSandbox(t, Config{})
	res := s.Execute("1 + 2")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "3\n", res.Output)
}

func TestNamespacePersistsAcrossSubmissions(t *testing.T) {
	s := newTestSandbox(t, Config{})

	res := s.Execute("x = 5")
	require.True(t, res.Success, res.Error)

	res = s.Execute("x + 1")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "6\n", res.Output)

	res = s.Execute("def double(n):\n    return n * 2")
	require.True(t, res.Success, res.Error)
	res = s.Execute("double(x)")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "10\n", res.Output)
}

func TestMutableStatePersists(t *testing.T) {
	s := newTestSandbox(t, Config{})

	res := s.Execute("items = []")
	require.True(t, res.Success, res.Error)
	res = s.Execute(`items.append("a")`)
	require.True(t, res.Success, res.Error)
	res = s.Execute("len(items)")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "1\n", res.Output)
}

func TestSyntaxErrorIsFailure(t *testing.T) {
	s := newTestSandbox(t, Config{})
	res := s.Execute("def broken(:")
	require.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
	assert.Empty(t, res.Output)
}

func TestRuntimeErrorKeepsPriorOutput(t *testing.T) {
	s := newTestSandbox(t, Config{})
	res := s.Execute(`print("before")` + "\n" + `fail("boom")`)
	require.False(t, res.Success)
	assert.Equal(t, "before\n", res.Output)
	assert.Contains(t, res.Error, "boom")
	assert.NotEmpty(t, res.Detail)
}

func TestBindingsSurviveFailedSubmission(t *testing.T) {
	s := newTestSandbox(t, Config{})
	res := s.Execute("y = 7\nfail(\"after binding\")")
	require.False(t, res.Success)

	res = s.Execute("y")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "7\n", res.Output)
}

func TestOutputTruncation(t *testing.T) {
	s := newTestSandbox(t, Config{MaxOutputChars: 20})
	res := s.Execute(`print("a" * 100)`)
	require.True(t, res.Success, res.Error)
	assert.True(t, strings.HasSuffix(res.Output, truncationMarker))
	assert.Len(t, res.Output, 20+len(truncationMarker))
}

func TestReset(t *testing.T) {
	s := newTestSandbox(t, Config{})
	require.True(t, s.Execute("x = 1").Success)
	require.Len(t, s.History(), 1)

	s.Reset()

	assert.Empty(t, s.History())
	res := s.Execute("x")
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "undefined")
}

func TestOpenDeniedWithoutRoots(t *testing.T) {
	s := newTestSandbox(t, Config{})
	res := s.Execute(`open("/etc/passwd")`)
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "not allowed")
}

func TestOpenReadWriteWithinRoot(t *testing.T) {
	dir := t.TempDir()
	s := newTestSandbox(t, Config{
		AllowedRoots: []string{dir},
		AllowedModes: []string{"r", "w"},
	})

	target := filepath.Join(dir, "note.txt")
	res := s.Execute(`f = open("` + target + `", "w")` + "\n" +
		`f.write("artifact")` + "\n" +
		`f.close()`)
	require.True(t, res.Success, res.Error)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "artifact", string(data))

	res = s.Execute(`g = open("` + target + `")` + "\n" +
		`print(g.read())` + "\n" +
		`g.close()`)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "artifact\n", res.Output)
}

func TestOpenOutsideRootDenied(t *testing.T) {
	dir := t.TempDir()
	other := t.TempDir()
	s := newTestSandbox(t, Config{
		AllowedRoots: []string{dir},
		AllowedModes: []string{"r", "w"},
	})

	res := s.Execute(`open("` + filepath.Join(other, "f.txt") + `", "w")`)
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "outside the allowed directories")
}

func TestLoadGatedByImportPolicy(t *testing.T) {
	s := newTestSandbox(t, Config{AllowedImports: []string{"math"}})

	res := s.Execute(`load("math", "math")` + "\n" + `print(math.sqrt(16))`)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "4.0\n", res.Output)

	res = s.Execute(`load("time", "time")`)
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "not in the allowed import set")
}

func TestInjectFunc(t *testing.T) {
	s := newTestSandbox(t, Config{})
	var got []any
	s.InjectFunc("lookup", func(args ...any) (any, error) {
		got = args
		return map[string]any{"status": "ok", "count": int64(2)}, nil
	})

	res := s.Execute(`r = lookup("query", 42)` + "\n" + `print(r["status"], r["count"])`)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "ok 2\n", res.Output)
	require.Len(t, got, 2)
	assert.Equal(t, "query", got[0])
	assert.Equal(t, int64(42), got[1])

	// Injected functions do not survive Reset.
	s.Reset()
	res = s.Execute(`lookup("x")`)
	require.False(t, res.Success)
}

func TestSetVarGetVarSnapshot(t *testing.T) {
	s := newTestSandbox(t, Config{})
	require.NoError(t, s.SetVar("seed", 10))
	require.NoError(t, s.SetVar("_scratch", "kept"))
	require.NoError(t, s.SetVar("__internal", "dropped"))

	require.True(t, s.Execute("derived = seed * 3").Success)

	assert.Equal(t, int64(30), s.GetVar("derived", nil))
	assert.Equal(t, int64(10), s.GetVar("seed", nil))
	assert.Equal(t, "fallback", s.GetVar("missing", "fallback"))

	// Only dunder names are filtered; a single leading underscore is an
	// ordinary binding.
	snap := s.Snapshot()
	assert.Equal(t, int64(30), snap["derived"])
	assert.Equal(t, "kept", snap["_scratch"])
	assert.NotContains(t, snap, "__internal")

	assert.Equal(t, []string{"_scratch", "derived", "seed"}, s.VarNames())
}

func TestLocalsShadowGlobals(t *testing.T) {
	s := newTestSandbox(t, Config{})
	require.NoError(t, s.SetVar("n", 1))
	require.True(t, s.Execute("n = 99").Success)
	assert.Equal(t, int64(99), s.GetVar("n", nil))
}

func TestHistoryRecordsEveryOutcome(t *testing.T) {
	s := newTestSandbox(t, Config{})
	s.Execute(`print("ok")`)
	s.Execute("this is not valid (")

	hist := s.History()
	require.Len(t, hist, 2)
	assert.True(t, hist[0].Result.Success)
	assert.Equal(t, `print("ok")`, hist[0].Code)
	assert.False(t, hist[1].Result.Success)
}

func TestNewRejectsNonPositiveOutputBound(t *testing.T) {
	_, err := New(Config{MaxOutputChars: -1}, nil)
	require.Error(t, err)
}
