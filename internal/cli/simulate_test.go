package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sensorgate/internal/simulate"
	"github.com/roach88/sensorgate/internal/validator"
)

func TestSimulate_CleanTraffic(t *testing.T) {
	out, _, err := execute(t, "simulate", "--count", "2", "--seed", "7", "--fault-rate", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "Simulation: 2 round(s), 6 sensor(s), seed 7, markers mode")
	assert.Contains(t, out, "Total:    12")
	assert.Contains(t, out, "Accepted: 12")
	assert.Contains(t, out, "Rejected: 0")
	assert.NotContains(t, out, "=== Injected Faults ===")
}

func TestSimulate_JSONWithFaults(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "simulate", "--count", "30", "--seed", "42", "--fault-rate", "0.5")
	require.NoError(t, err)

	var result SimulateResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, uint64(42), result.Seed)
	assert.False(t, result.Sealed)
	assert.Equal(t, 180, result.Report.Total)
	assert.Equal(t, result.Report.Total, result.Report.Accepted+result.Report.Rejected)
	assert.Positive(t, result.Report.Rejected)
	assert.Positive(t, result.Report.ByFault[simulate.FaultUnknownID])
	assert.Equal(t, result.Report.ByFault[simulate.FaultUnknownID], result.Report.ByCode[validator.CodeUnauthorized])
}

func TestSimulate_Sealed(t *testing.T) {
	dir := t.TempDir()
	_, _, err := execute(t, "keygen", "--dir", dir,
		"--id", "Soil_01", "--id", "Soil_02", "--id", "Atmo_01", "--id", "Plant_01", "--id", "Water_01", "--id", "Threat_01")
	require.NoError(t, err)

	out, _, err := execute(t, "--format", "json", "simulate", "--count", "5", "--seed", "3", "--fault-rate", "0", "--key-dir", dir)
	require.NoError(t, err)

	var result SimulateResult
	decodeResponse(t, out, &result)
	assert.True(t, result.Sealed)
	assert.Equal(t, 30, result.Report.Accepted)
}

func TestSimulate_SealedMissingSecrets(t *testing.T) {
	dir := t.TempDir()
	_, _, err := execute(t, "keygen", "--dir", dir, "--id", "Soil_01")
	require.NoError(t, err)

	out, _, err := execute(t, "simulate", "--count", "1", "--key-dir", dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E203]: failed to load secrets for Soil_02")
}

func TestSimulate_PersistsToLedger(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ledger.db")

	_, _, err := execute(t, "simulate", "--count", "3", "--seed", "1", "--fault-rate", "0", "--db", db)
	require.NoError(t, err)

	out, _, err := execute(t, "--format", "json", "ledger", "--db", db, "--limit", "0")
	require.NoError(t, err)
	var report LedgerReport
	decodeResponse(t, out, &report)
	assert.Equal(t, 18, report.Total)
	assert.Len(t, report.Entries, 18)
}

func TestSimulate_VerboseLogsOutcomes(t *testing.T) {
	_, stderr, err := execute(t, "--verbose", "simulate", "--count", "1", "--seed", "5", "--fault-rate", "0")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Simulating 1 round(s) for 6 sensor(s), seed 5")
	assert.Contains(t, stderr, "Threat_01")
}

func TestSimulate_InvalidFlags(t *testing.T) {
	for _, args := range [][]string{
		{"simulate", "--fault-rate", "1.5"},
		{"simulate", "--count", "-1"},
	} {
		out, _, err := execute(t, args...)
		require.Error(t, err, args)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, out, "Error [E204]")
	}
}
