package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpsListsStandardLibrary(t *testing.T) {
	out, _, err := runCLI(t, "--db", tempDB(t), "--format", "json", "ops")
	require.NoError(t, err, out)

	infos := decodeData[[]OperationInfo](t, out)
	byName := map[string]OperationInfo{}
	for _, info := range infos {
		byName[info.Name] = info
	}

	require.Contains(t, byName, "NOT")
	assert.Equal(t, float64(1), byName["NOT"].Cost)
	assert.Equal(t, "bitwise", byName["NOT"].Category)
	assert.False(t, byName["NOT"].LengthChanging)

	require.Contains(t, byName, "INSERT")
	assert.True(t, byName["INSERT"].LengthChanging)
	assert.Equal(t, []string{"position", "bits"}, byName["INSERT"].Params)

	assert.Equal(t, "AND", infos[0].Name, "sorted by name")
}

func TestOpsAppliesConfiguredCosts(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "bitstrat.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("operation_costs:\n  not: 4.5\n"), 0o644))

	out, _, err := runCLI(t, "--config", cfgPath, "ops")
	require.NoError(t, err)
	assert.Contains(t, out, "OPERATION")
	assert.Regexp(t, `(?m)^NOT\s+bitwise\s+4\.5\s`, out)
}

func TestOpsRejectsUnknownCostOverride(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "bitstrat.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("operation_costs:\n  TELEPORT: 1\n"), 0o644))

	_, _, err := runCLI(t, "--config", cfgPath, "ops")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `unknown operation "TELEPORT"`)
}
