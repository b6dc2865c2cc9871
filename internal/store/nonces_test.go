package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sensorgate/internal/ledger"
	"github.com/roach88/sensorgate/internal/sensor"
)

func entry(nonce string, typ sensor.Type, at time.Time) ledger.Entry {
	return ledger.Entry{
		Nonce:      nonce,
		SensorID:   "Soil_01",
		SensorType: typ,
		AcceptedAt: at,
		Digest:     ledger.Digest([]byte(nonce)),
	}
}

func TestClaim_FirstWinsSecondLoses(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ok, err := s.Claim(ctx, entry("n-1", sensor.TypeSoil, at))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Claim(ctx, entry("n-1", sensor.TypeWater, at.Add(time.Minute)))
	require.NoError(t, err)
	assert.False(t, ok)

	entries, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, sensor.TypeSoil, entries[0].SensorType, "first claim must not be overwritten")
	assert.True(t, at.Equal(entries[0].AcceptedAt))
}

func TestSeen(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	seen, err := s.Seen(ctx, "")
	require.NoError(t, err)
	assert.False(t, seen)

	_, err = s.Claim(ctx, entry("", sensor.TypeSoil, time.Now()))
	require.NoError(t, err)

	seen, err = s.Seen(ctx, "")
	require.NoError(t, err)
	assert.True(t, seen, "empty nonce participates in replay tracking")
}

func TestClaim_NonceIsCaseSensitive(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	ok, err := s.Claim(ctx, entry("abc", sensor.TypeSoil, time.Now()))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Claim(ctx, entry("ABC", sensor.TypeSoil, time.Now()))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClaim_ConcurrentAdmitsOne(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Claim(ctx, entry("race", sensor.TypeSoil, time.Now()))
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestClaim_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	s1, err := Open(path)
	require.NoError(t, err)
	ok, err := s1.Claim(ctx, entry("persisted", sensor.TypeSoil, time.Now()))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	seen, err := s2.Seen(ctx, "persisted")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestList_LimitReturnsMostRecentInOrder(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := s.Claim(ctx, entry(fmt.Sprintf("n-%d", i), sensor.TypeSoil, base))
		require.NoError(t, err)
	}

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "n-0", all[0].Nonce)

	last, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "n-3", last[0].Nonce)
	assert.Equal(t, "n-4", last[1].Nonce)
}

func TestList_EmptyIsNotNil(t *testing.T) {
	s := createTestStore(t)
	entries, err := s.List(context.Background(), 0)
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	now := time.Now()

	for i, typ := range []sensor.Type{sensor.TypeWater, sensor.TypeSoil, sensor.TypeSoil} {
		_, err := s.Claim(ctx, entry(fmt.Sprintf("n-%d", i), typ, now))
		require.NoError(t, err)
	}

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []TypeCount{
		{SensorType: sensor.TypeSoil, Accepted: 2},
		{SensorType: sensor.TypeWater, Accepted: 1},
	}, stats)
}

// Failure paths against a mocked driver.

var claimQuery = regexp.QuoteMeta("INSERT INTO nonces")

func TestClaim_ExecError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	boom := errors.New("disk I/O error")
	mock.ExpectExec(claimQuery).
		WithArgs("n-1", "Soil_01", "soil", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(boom)

	s := New(db)
	ok, err := s.Claim(context.Background(), entry("n-1", sensor.TypeSoil, time.Now()))
	require.Error(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaim_ConflictReportsNotInserted(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(claimQuery).WillReturnResult(sqlmock.NewResult(0, 0))

	s := New(db)
	ok, err := s.Claim(context.Background(), entry("n-1", sensor.TypeSoil, time.Now()))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaim_RowsAffectedError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(claimQuery).WillReturnResult(sqlmock.NewErrorResult(errors.New("driver cannot count")))

	s := New(db)
	_, err = s.Claim(context.Background(), entry("n-1", sensor.TypeSoil, time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rows affected")
}

func TestSeen_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM nonces WHERE nonce = ?")).
		WithArgs("n-1").
		WillReturnError(errors.New("database is locked"))

	s := New(db)
	_, err = s.Seen(context.Background(), "n-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "check nonce")
}

func TestList_BadTimestamp(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"nonce", "sensor_id", "sensor_type", "digest", "accepted_at"}).
		AddRow("n-1", "Soil_01", "soil", "", "yesterday")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT nonce, sensor_id")).WillReturnRows(rows)

	s := New(db)
	_, err = s.List(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse accepted_at")
}
