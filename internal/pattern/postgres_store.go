package pattern

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore persists pattern statistics in PostgreSQL.
//
// Increment atomicity comes from a single upsert statement: concurrent
// RecordOutcome calls for the same fingerprint serialize on the row lock
// inside Postgres, so no increments are lost.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed pattern store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the pattern_stats table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS pattern_stats (
			fingerprint      VARCHAR(64) PRIMARY KEY,
			request_type     TEXT NOT NULL,
			success_count    BIGINT NOT NULL DEFAULT 0 CHECK (success_count >= 0),
			failure_count    BIGINT NOT NULL DEFAULT 0 CHECK (failure_count >= 0),
			last_success_at  TIMESTAMPTZ,
			confidence_score NUMERIC(4,3) NOT NULL DEFAULT 0.3,
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_pattern_stats_type
			ON pattern_stats (request_type);
	`)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, fingerprint string) (*Stats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT fingerprint, request_type, success_count, failure_count, last_success_at, confidence_score, updated_at
		FROM pattern_stats WHERE fingerprint = $1`, fingerprint)
	return scanStats(row)
}

func (s *PostgresStore) RecordOutcome(ctx context.Context, fingerprint, requestType string, success bool, at time.Time) (*Stats, error) {
	succ, fail := 0, 1
	if success {
		succ, fail = 1, 0
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO pattern_stats (fingerprint, request_type, success_count, failure_count, last_success_at, updated_at)
		VALUES ($1, $2, $3, $4, CASE WHEN $3 = 1 THEN $5::timestamptz ELSE NULL END, $5)
		ON CONFLICT (fingerprint) DO UPDATE SET
			success_count   = pattern_stats.success_count + $3,
			failure_count   = pattern_stats.failure_count + $4,
			last_success_at = CASE WHEN $3 = 1 THEN $5::timestamptz ELSE pattern_stats.last_success_at END,
			updated_at      = $5
		RETURNING fingerprint, request_type, success_count, failure_count, last_success_at, confidence_score, updated_at`,
		fingerprint, requestType, succ, fail, at,
	)

	stats, err := scanStats(row)
	if err != nil {
		return nil, fmt.Errorf("record outcome: %w", err)
	}

	// Refresh the cached score from the authoritative counters.
	stats.ConfidenceScore = Confidence(stats, at)
	if err := s.UpdateConfidence(ctx, fingerprint, stats.ConfidenceScore); err != nil {
		return nil, fmt.Errorf("update confidence cache: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) All(ctx context.Context) ([]*Stats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fingerprint, request_type, success_count, failure_count, last_success_at, confidence_score, updated_at
		FROM pattern_stats`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Stats
	for rows.Next() {
		st := &Stats{}
		var lastSuccess sql.NullTime
		if err := rows.Scan(&st.Fingerprint, &st.RequestType, &st.SuccessCount, &st.FailureCount,
			&lastSuccess, &st.ConfidenceScore, &st.UpdatedAt); err != nil {
			return nil, err
		}
		if lastSuccess.Valid {
			t := lastSuccess.Time
			st.LastSuccessAt = &t
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateConfidence(ctx context.Context, fingerprint string, score float64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE pattern_stats SET confidence_score = $1 WHERE fingerprint = $2`,
		score, fingerprint)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoHistory
	}
	return nil
}

func scanStats(row *sql.Row) (*Stats, error) {
	st := &Stats{}
	var lastSuccess sql.NullTime
	err := row.Scan(&st.Fingerprint, &st.RequestType, &st.SuccessCount, &st.FailureCount,
		&lastSuccess, &st.ConfidenceScore, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNoHistory
	}
	if err != nil {
		return nil, err
	}
	if lastSuccess.Valid {
		t := lastSuccess.Time
		st.LastSuccessAt = &t
	}
	return st, nil
}

var _ Store = (*PostgresStore)(nil)
