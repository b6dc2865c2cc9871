package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/sensorgate/internal/ledger"
	"github.com/roach88/sensorgate/internal/sensor"
)

// Seen reports whether nonce has been claimed.
func (s *Store) Seen(ctx context.Context, nonce string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM nonces WHERE nonce = ?
	`, nonce).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check nonce: %w", err)
	}
	return count > 0, nil
}

// Claim inserts e unless its nonce already exists.
// Uses ON CONFLICT(nonce) DO NOTHING; the affected row count reports the winner.
// An existing row is never modified.
func (s *Store) Claim(ctx context.Context, e ledger.Entry) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO nonces
		(nonce, sensor_id, sensor_type, digest, accepted_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(nonce) DO NOTHING
	`,
		e.Nonce,
		e.SensorID,
		string(e.SensorType),
		e.Digest,
		e.AcceptedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("claim nonce: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim nonce: rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Len returns the number of claimed nonces.
func (s *Store) Len(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nonces`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count nonces: %w", err)
	}
	return count, nil
}

// List returns up to limit entries in admission order, most recent last.
// A limit <= 0 returns every entry.
//
// Returns an empty slice (not nil) if the ledger is empty.
func (s *Store) List(ctx context.Context, limit int) ([]ledger.Entry, error) {
	query := `
		SELECT nonce, sensor_id, sensor_type, digest, accepted_at
		FROM nonces
		ORDER BY id ASC
	`
	args := []any{}
	if limit > 0 {
		// Most recent `limit` rows, still returned oldest first.
		query = `
			SELECT nonce, sensor_id, sensor_type, digest, accepted_at FROM (
				SELECT id, nonce, sensor_id, sensor_type, digest, accepted_at
				FROM nonces
				ORDER BY id DESC
				LIMIT ?
			) ORDER BY id ASC
		`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query nonces: %w", err)
	}
	defer rows.Close()

	entries := []ledger.Entry{}
	for rows.Next() {
		var (
			e          ledger.Entry
			sensorType string
			acceptedAt string
		)
		if err := rows.Scan(&e.Nonce, &e.SensorID, &sensorType, &e.Digest, &acceptedAt); err != nil {
			return nil, fmt.Errorf("scan nonce: %w", err)
		}
		e.SensorType = sensor.Type(sensorType)
		e.AcceptedAt, err = time.Parse(time.RFC3339Nano, acceptedAt)
		if err != nil {
			return nil, fmt.Errorf("parse accepted_at %q: %w", acceptedAt, err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nonces: %w", err)
	}

	return entries, nil
}

// TypeCount is the number of accepted submissions for one sensor type.
type TypeCount struct {
	SensorType sensor.Type `json:"sensor_type"`
	Accepted   int         `json:"accepted"`
}

// Stats returns per-type accepted counts ordered by sensor type.
func (s *Store) Stats(ctx context.Context) ([]TypeCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sensor_type, COUNT(*)
		FROM nonces
		GROUP BY sensor_type
		ORDER BY sensor_type COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	stats := []TypeCount{}
	for rows.Next() {
		var (
			tc  TypeCount
			typ string
		)
		if err := rows.Scan(&typ, &tc.Accepted); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		tc.SensorType = sensor.Type(typ)
		stats = append(stats, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}
	return stats, nil
}
