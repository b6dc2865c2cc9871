package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sensorgate/internal/sensor"
	"github.com/roach88/sensorgate/internal/store"
)

const waterPayload = `{"flow_rate": 10, "water_level": 1, "salinity": 1, "ph": 7.2, "turbidity": 1}`

func seedLedger(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "ledger.db")
	submissions := []struct {
		typ, id, nonce, payload string
	}{
		{"soil", "Soil_01", "n-1", soilPayload},
		{"soil", "Soil_02", "n-2", soilPayload},
		{"water", "Water_01", "n-3", waterPayload},
	}
	for _, s := range submissions {
		_, _, err := execute(t, "submit", "--db", db, "--type", s.typ, "--id", s.id, "--nonce", s.nonce, "--payload", s.payload)
		require.NoError(t, err)
	}
	// A rejection leaves no trace.
	_, _, err := execute(t, "submit", "--db", db, "--type", "soil", "--id", "Soil_01", "--nonce", "n-1", "--payload", soilPayload)
	require.Error(t, err)
	return db
}

func TestLedger_Text(t *testing.T) {
	db := seedLedger(t)

	out, _, err := execute(t, "ledger", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Ledger: 3 accepted nonce(s)")
	assert.Contains(t, out, "=== Recent ===")
	assert.Contains(t, out, "n-3")
	assert.Contains(t, out, "=== Per Type ===")
	assert.Regexp(t, `soil\s+2`, out)
	assert.Regexp(t, `water\s+1`, out)
}

func TestLedger_JSONWithLimit(t *testing.T) {
	db := seedLedger(t)

	out, _, err := execute(t, "--format", "json", "ledger", "--db", db, "--limit", "2")
	require.NoError(t, err)

	var report LedgerReport
	resp := decodeResponse(t, out, &report)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 3, report.Total)
	require.Len(t, report.Entries, 2)
	assert.Equal(t, "n-2", report.Entries[0].Nonce)
	assert.Equal(t, "n-3", report.Entries[1].Nonce)
	assert.Equal(t, sensor.TypeWater, report.Entries[1].SensorType)
	assert.NotEmpty(t, report.Entries[1].Digest)
	assert.Equal(t, []store.TypeCount{
		{SensorType: sensor.TypeSoil, Accepted: 2},
		{SensorType: sensor.TypeWater, Accepted: 1},
	}, report.Stats)
}

func TestLedger_Empty(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ledger.db")
	st, err := store.Open(db)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, _, err := execute(t, "ledger", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Ledger: 0 accepted nonce(s)")
	assert.Contains(t, out, "(none)")
}

func TestLedger_MissingDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "absent.db")

	out, _, err := execute(t, "ledger", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E202]: ledger not found")
	assert.NoFileExists(t, db)
}

func TestLedger_NegativeLimit(t *testing.T) {
	db := seedLedger(t)

	_, _, err := execute(t, "ledger", "--db", db, "--limit", "-1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
