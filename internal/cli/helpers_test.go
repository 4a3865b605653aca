package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

var definitionsDir = filepath.Join("..", "..", "testdata", "strategies")

// runCLI executes the root command and returns stdout and stderr.
func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "results.db")
}

// runFlip runs the flip-all strategy on 0101 and returns its summary.
func runFlip(t *testing.T, db string, extra ...string) RunSummary {
	t.Helper()
	args := append([]string{"--db", db, "--format", "json", "run", definitionsDir, "flip-all", "--bits", "0101", "--budget", "10"}, extra...)
	out, _, err := runCLI(t, args...)
	require.NoError(t, err, out)
	return decodeData[RunSummary](t, out)
}

// decodeData unmarshals the data field of a JSON CLI response.
func decodeData[T any](t *testing.T, out string) T {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	var v T
	require.NoError(t, json.Unmarshal(resp.Data, &v), out)
	return v
}

// writeDefinitions writes a definitions directory with the given files.
func writeDefinitions(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}
