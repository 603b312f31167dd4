package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PostgresStore persists the audit log in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed audit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the decisions table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS decisions (
			id               VARCHAR(40) PRIMARY KEY,
			ts               TIMESTAMPTZ NOT NULL,
			agent_id         TEXT NOT NULL,
			request_type     TEXT NOT NULL,
			attributes       JSONB NOT NULL DEFAULT '{}',
			fingerprint      VARCHAR(64) NOT NULL,
			risk_level       SMALLINT NOT NULL CHECK (risk_level BETWEEN 1 AND 5),
			confidence_score NUMERIC(4,3) NOT NULL,
			auto_accepted    BOOLEAN NOT NULL,
			reasoning        JSONB NOT NULL DEFAULT '[]',
			outcome          TEXT CHECK (outcome IN ('success', 'failure', 'partial', 'rolled_back', 'manual_override')),
			error_detail     TEXT,
			outcome_at       TIMESTAMPTZ
		);

		CREATE INDEX IF NOT EXISTS idx_decisions_ts ON decisions (ts DESC);
		CREATE INDEX IF NOT EXISTS idx_decisions_agent ON decisions (agent_id, ts DESC);
		CREATE INDEX IF NOT EXISTS idx_decisions_fingerprint ON decisions (fingerprint, ts DESC);
		CREATE INDEX IF NOT EXISTS idx_decisions_failure_at ON decisions (outcome_at) WHERE outcome = 'failure';
	`)
	return err
}

const decisionColumns = `id, ts, agent_id, request_type, attributes, fingerprint,
	risk_level, confidence_score, auto_accepted, reasoning, outcome, error_detail, outcome_at`

func (s *PostgresStore) Append(ctx context.Context, d *Decision) error {
	attrsJSON, err := json.Marshal(d.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	reasoningJSON, err := json.Marshal(d.Reasoning)
	if err != nil {
		return fmt.Errorf("marshal reasoning: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decisions (id, ts, agent_id, request_type, attributes, fingerprint,
			risk_level, confidence_score, auto_accepted, reasoning)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.Timestamp, d.AgentID, d.RequestType, attrsJSON, d.Fingerprint,
		d.RiskLevel, d.ConfidenceScore, d.AutoAccepted, reasoningJSON,
	)
	if err != nil {
		return fmt.Errorf("append decision: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Decision, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+decisionColumns+` FROM decisions WHERE id = $1`, id)
	return scanDecision(rowScanner{row})
}

func (s *PostgresStore) SetOutcome(ctx context.Context, id string, outcome OutcomeKind, errorDetail string, at time.Time) (*Decision, error) {
	// The WHERE outcome IS NULL clause makes the write-once guarantee atomic:
	// a second writer matches zero rows.
	row := s.db.QueryRowContext(ctx, `
		UPDATE decisions
		SET outcome = $1, error_detail = NULLIF($2, ''), outcome_at = $3
		WHERE id = $4 AND outcome IS NULL
		RETURNING `+decisionColumns,
		string(outcome), errorDetail, at, id,
	)

	d, err := scanDecision(rowScanner{row})
	if err == ErrDecisionNotFound {
		// Distinguish "missing" from "already resolved".
		if _, getErr := s.Get(ctx, id); getErr == nil {
			return nil, ErrAlreadyResolved
		}
		return nil, ErrDecisionNotFound
	}
	return d, err
}

func (s *PostgresStore) Query(ctx context.Context, f QueryFilter) ([]*Decision, error) {
	var conds []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !f.Since.IsZero() {
		conds = append(conds, "ts >= "+arg(f.Since))
	}
	if !f.Until.IsZero() {
		conds = append(conds, "ts <= "+arg(f.Until))
	}
	if f.AgentID != "" {
		conds = append(conds, "agent_id = "+arg(f.AgentID))
	}
	if f.RequestType != "" {
		conds = append(conds, "request_type = "+arg(f.RequestType))
	}
	if f.AutoAccepted != nil {
		conds = append(conds, "auto_accepted = "+arg(*f.AutoAccepted))
	}
	if f.Outcome != "" {
		conds = append(conds, "outcome = "+arg(string(f.Outcome)))
	}
	if f.MinRiskLevel > 0 {
		conds = append(conds, "risk_level >= "+arg(f.MinRiskLevel))
	}
	if !f.Before.IsZero() {
		conds = append(conds, "(ts, id) < ("+arg(f.Before)+", "+arg(f.BeforeID)+")")
	}

	query := `SELECT ` + decisionColumns + ` FROM decisions`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY ts DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RecentStats(ctx context.Context, window time.Duration, now time.Time) (*WindowStats, error) {
	// Failures are windowed on outcome_at, not ts: a failure reported long
	// after evaluation still counts against the current window.
	stats := &WindowStats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE ts >= $1),
		       COUNT(*) FILTER (WHERE ts >= $1 AND auto_accepted),
		       COUNT(*) FILTER (WHERE outcome = 'failure' AND outcome_at >= $1)
		FROM decisions
		WHERE ts >= $1 OR (outcome = 'failure' AND outcome_at >= $1)`,
		now.Add(-window),
	).Scan(&stats.Total, &stats.Accepted, &stats.Failures)
	if err != nil {
		return nil, fmt.Errorf("recent stats: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM decisions WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

type rowScanner struct{ row *sql.Row }

func (r rowScanner) Scan(dest ...interface{}) error { return r.row.Scan(dest...) }

func scanDecision(sc scanner) (*Decision, error) {
	d := &Decision{}
	var attrsJSON, reasoningJSON []byte
	var outcome, errorDetail sql.NullString
	var outcomeAt sql.NullTime

	err := sc.Scan(&d.ID, &d.Timestamp, &d.AgentID, &d.RequestType, &attrsJSON, &d.Fingerprint,
		&d.RiskLevel, &d.ConfidenceScore, &d.AutoAccepted, &reasoningJSON,
		&outcome, &errorDetail, &outcomeAt)
	if err == sql.ErrNoRows {
		return nil, ErrDecisionNotFound
	}
	if err != nil {
		return nil, err
	}

	if len(attrsJSON) > 0 {
		if err := json.Unmarshal(attrsJSON, &d.Attributes); err != nil {
			return nil, fmt.Errorf("corrupt attributes for decision %s: %w", d.ID, err)
		}
	}
	if len(reasoningJSON) > 0 {
		if err := json.Unmarshal(reasoningJSON, &d.Reasoning); err != nil {
			return nil, fmt.Errorf("corrupt reasoning for decision %s: %w", d.ID, err)
		}
	}
	if outcome.Valid {
		d.Outcome = OutcomeKind(outcome.String)
	}
	if errorDetail.Valid {
		d.ErrorDetail = errorDetail.String
	}
	if outcomeAt.Valid {
		t := outcomeAt.Time
		d.OutcomeAt = &t
	}
	return d, nil
}

var _ Store = (*PostgresStore)(nil)
