package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore persists SOP rules in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed rule store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the sop_rules table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sop_rules (
			id                    VARCHAR(40) PRIMARY KEY,
			request_type          TEXT NOT NULL,
			name                  TEXT NOT NULL,
			conditions            JSONB NOT NULL DEFAULT '[]',
			required_confidence   NUMERIC(4,3) NOT NULL CHECK (required_confidence >= 0 AND required_confidence <= 1),
			max_risk_level        SMALLINT NOT NULL CHECK (max_risk_level BETWEEN 1 AND 5),
			requires_verification BOOLEAN NOT NULL DEFAULT false,
			enabled               BOOLEAN NOT NULL DEFAULT true,
			position              INTEGER NOT NULL DEFAULT 0,
			created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_sop_rules_type ON sop_rules (request_type, position);
	`)
	return err
}

const ruleColumns = `id, request_type, name, conditions, required_confidence,
	max_risk_level, requires_verification, enabled, position, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, r *SOPRule) error {
	condsJSON, err := json.Marshal(r.Conditions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sop_rules (id, request_type, name, conditions, required_confidence,
			max_risk_level, requires_verification, enabled, position, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, r.RequestType, r.Name, condsJSON, r.RequiredConfidence,
		r.MaxRiskLevel, r.RequiresVerification, r.Enabled, r.Position, r.CreatedAt, r.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*SOPRule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM sop_rules WHERE id = $1`, id)
	return scanRule(row.Scan)
}

func (s *PostgresStore) ListByType(ctx context.Context, requestType string) ([]*SOPRule, error) {
	return s.list(ctx, `SELECT `+ruleColumns+` FROM sop_rules
		WHERE request_type = $1 ORDER BY position ASC, created_at ASC`, requestType)
}

func (s *PostgresStore) List(ctx context.Context) ([]*SOPRule, error) {
	return s.list(ctx, `SELECT `+ruleColumns+` FROM sop_rules
		ORDER BY position ASC, created_at ASC`)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...interface{}) ([]*SOPRule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*SOPRule
	for rows.Next() {
		r, err := scanRule(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, r *SOPRule) error {
	condsJSON, err := json.Marshal(r.Conditions)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE sop_rules
		SET name = $1, conditions = $2, required_confidence = $3, max_risk_level = $4,
			requires_verification = $5, enabled = $6, position = $7, updated_at = $8
		WHERE id = $9`,
		r.Name, condsJSON, r.RequiredConfidence, r.MaxRiskLevel,
		r.RequiresVerification, r.Enabled, r.Position, r.UpdatedAt, r.ID,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sop_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sop_rules`).Scan(&n)
	return n, err
}

func scanRule(scan func(...interface{}) error) (*SOPRule, error) {
	r := &SOPRule{}
	var condsJSON []byte
	err := scan(&r.ID, &r.RequestType, &r.Name, &condsJSON, &r.RequiredConfidence,
		&r.MaxRiskLevel, &r.RequiresVerification, &r.Enabled, &r.Position, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(condsJSON) > 0 {
		if err := json.Unmarshal(condsJSON, &r.Conditions); err != nil {
			// Corrupt conditions must not silently widen a rule's scope.
			return nil, fmt.Errorf("corrupt conditions for rule %s: %w", r.ID, err)
		}
	}
	return r, nil
}

var _ Store = (*PostgresStore)(nil)
