package sandbox

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const workerEnvMarker = "CODEACT_SANDBOX_WORKER"

// TestSandboxWorkerHelper is not a real test: isolated sandboxes in this file
// re-exec the test binary with -test.run targeting it, turning the test
// process into a worker.
func TestSandboxWorkerHelper(t *testing.T) {
	if os.Getenv(workerEnvMarker) != "1" {
		t.Skip("helper process entry point")
	}
	if err := RunWorker(os.Stdin, os.Stdout); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

func newIsolatedSandbox(t *testing.T, cfg Config) *Sandbox {
	t.Helper()
	cfg.Isolate = true
	cfg.WorkerArgs = []string{"-test.run=TestSandboxWorkerHelper"}
	if cfg.MaxOutputChars == 0 {
		cfg.MaxOutputChars = 10000
	}
	t.Setenv(workerEnvMarker, "1")
	s, err := New(cfg, nil)
	require.NoError(t, err)
	return s
}

func TestRunWorkerRoundTrip(t *testing.T) {
	var in, out bytes.Buffer
	req := workerRequest{
		Code:    "y = base + 1\nprint(y)",
		Globals: map[string]any{"base": int64(41)},
		Config:  Config{MaxOutputChars: 1000},
	}
	require.NoError(t, json.NewEncoder(&in).Encode(req))

	require.NoError(t, RunWorker(&in, &out))

	var resp workerResponse
	require.NoError(t, json.NewDecoder(&out).Decode(&resp))
	assert.True(t, resp.Result.Success, resp.Result.Error)
	assert.Equal(t, "42\n", resp.Result.Output)
	assert.EqualValues(t, 42, resp.Locals["y"])
	assert.EqualValues(t, 41, resp.Globals["base"])
}

func TestRunWorkerReportsFailure(t *testing.T) {
	var in, out bytes.Buffer
	req := workerRequest{
		Code:   `fail("inside worker")`,
		Config: Config{MaxOutputChars: 1000},
	}
	require.NoError(t, json.NewEncoder(&in).Encode(req))
	require.NoError(t, RunWorker(&in, &out))

	var resp workerResponse
	require.NoError(t, json.NewDecoder(&out).Decode(&resp))
	assert.False(t, resp.Result.Success)
	assert.Contains(t, resp.Result.Error, "inside worker")
}

func TestIsolatedExecution(t *testing.T) {
	s := newIsolatedSandbox(t, Config{Timeout: 30 * time.Second})

	res := s.Execute("x = 5")
	require.True(t, res.Success, res.Error)

	// State created by one worker is visible to the next.
	res = s.Execute("print(x + 1)")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "6\n", res.Output)
}

func TestIsolatedFailureDiscardsNamespaceChanges(t *testing.T) {
	s := newIsolatedSandbox(t, Config{Timeout: 30 * time.Second})

	res := s.Execute("kept = 1")
	require.True(t, res.Success, res.Error)

	res = s.Execute("dropped = 2\nfail(\"abort\")")
	require.False(t, res.Success)

	res = s.Execute("print(kept)")
	require.True(t, res.Success, res.Error)

	res = s.Execute("print(dropped)")
	require.False(t, res.Success)
}

func TestIsolatedTimeoutKillsWorker(t *testing.T) {
	s := newIsolatedSandbox(t, Config{Timeout: 1 * time.Second})

	start := time.Now()
	res := s.Execute("while True:\n    pass")
	elapsed := time.Since(start)

	require.False(t, res.Success)
	assert.Contains(t, res.Error, "timed out")
	assert.Empty(t, res.Output)
	assert.Less(t, elapsed, 5*time.Second)

	// The sandbox stays usable after reclaiming the worker.
	res = s.Execute("print(1)")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "1\n", res.Output)
}
