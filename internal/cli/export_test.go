package cli

import (
	"archive/zip"
	"encoding/csv"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bitstrat/internal/export"
	"github.com/roach88/bitstrat/internal/ir"
)

func TestExportJSONToStdout(t *testing.T) {
	db := tempDB(t)
	id := runFlip(t, db).ID

	out, _, err := runCLI(t, "--db", db, "export", id)
	require.NoError(t, err)

	var res ir.ExecutionResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, id, res.ID)
	assert.Equal(t, "1010", res.FinalBits.String())
	assert.Len(t, res.Steps, 1)
}

func TestExportCSV(t *testing.T) {
	db := tempDB(t)
	id := runFlip(t, db).ID

	out, _, err := runCLI(t, "--db", db, "export", id, "--as", "csv")
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, export.CSVHeader, rows[0])
	assert.Equal(t, "NOT", rows[1][3])
	assert.Equal(t, "committed", rows[1][5])
}

func TestExportBundleToFile(t *testing.T) {
	db := tempDB(t)
	id := runFlip(t, db).ID
	path := filepath.Join(t.TempDir(), "run.zip")

	out, _, err := runCLI(t, "--db", db, "export", id, "--as", "bundle", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ exported "+id+" to "+path)

	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{
		"report.csv", "result.json", "steps/000.json",
		"bits/initial.bin", "bits/initial.txt", "bits/final.bin", "bits/final.txt",
	}, names)
}

func TestExportErrors(t *testing.T) {
	db := tempDB(t)
	id := runFlip(t, db).ID

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown format", []string{"export", id, "--as", "xml"}, `unknown export format "xml"`},
		{"bundle needs output", []string{"export", id, "--as", "bundle"}, "bundle export requires --output"},
		{"missing execution", []string{"export", "missing-id"}, "execution missing-id not found"},
		{"unwritable output", []string{"export", id, "-o", filepath.Join(t.TempDir(), "no", "such", "dir.json")}, "failed to write"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := runCLI(t, append([]string{"--db", db}, tt.args...)...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, out, tt.want)
		})
	}
}
