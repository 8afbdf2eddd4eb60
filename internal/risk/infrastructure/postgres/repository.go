package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	risk "plugwatch/internal/risk/domain"
)

// Repository persists risk accumulators. Counterpart counts are stored as a
// JSONB column since their key set is unbounded and only read back whole.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs a repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the backing table when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if r == nil || r.db == nil {
		return errors.New("risk repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS risk_accumulators (
	subject_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	total_sessions BIGINT NOT NULL,
	total_anomalies BIGINT NOT NULL,
	avg_deviation_pct DOUBLE PRECISION NOT NULL,
	max_deviation_pct DOUBLE PRECISION NOT NULL,
	score DOUBLE PRECISION NOT NULL,
	level TEXT NOT NULL,
	counterparts JSONB NOT NULL DEFAULT '{}',
	last_anomaly_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (kind, subject_id)
)`)
	return err
}

// Upsert writes one accumulator.
func (r *Repository) Upsert(ctx context.Context, acc risk.Accumulator) error {
	if r == nil || r.db == nil {
		return errors.New("risk repo: nil db")
	}
	if acc.SubjectID == "" || !acc.Kind.Valid() {
		return errors.New("risk repo: invalid accumulator")
	}
	counterparts, err := json.Marshal(acc.Counterparts)
	if err != nil {
		return err
	}
	var lastAnomaly sql.NullTime
	if !acc.LastAnomalyAt.IsZero() {
		lastAnomaly = sql.NullTime{Time: acc.LastAnomalyAt, Valid: true}
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO risk_accumulators (
	subject_id, kind, total_sessions, total_anomalies,
	avg_deviation_pct, max_deviation_pct, score, level,
	counterparts, last_anomaly_at, updated_at
) VALUES (
	$1, $2, $3, $4,
	$5, $6, $7, $8,
	$9, $10, $11
)
ON CONFLICT (kind, subject_id) DO UPDATE SET
	total_sessions = EXCLUDED.total_sessions,
	total_anomalies = EXCLUDED.total_anomalies,
	avg_deviation_pct = EXCLUDED.avg_deviation_pct,
	max_deviation_pct = EXCLUDED.max_deviation_pct,
	score = EXCLUDED.score,
	level = EXCLUDED.level,
	counterparts = EXCLUDED.counterparts,
	last_anomaly_at = EXCLUDED.last_anomaly_at,
	updated_at = EXCLUDED.updated_at`,
		acc.SubjectID, string(acc.Kind), acc.TotalSessions, acc.TotalAnomalies,
		acc.AvgDeviation, acc.MaxDeviation, acc.Score, string(acc.Level),
		counterparts, lastAnomaly, acc.UpdatedAt)
	return err
}

// LoadAll returns every persisted accumulator.
func (r *Repository) LoadAll(ctx context.Context) ([]risk.Accumulator, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("risk repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT subject_id, kind, total_sessions, total_anomalies,
	avg_deviation_pct, max_deviation_pct, score, level,
	counterparts, last_anomaly_at, updated_at
FROM risk_accumulators`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []risk.Accumulator
	for rows.Next() {
		var acc risk.Accumulator
		var kind, level string
		var counterparts []byte
		var lastAnomaly sql.NullTime
		if err := rows.Scan(
			&acc.SubjectID,
			&kind,
			&acc.TotalSessions,
			&acc.TotalAnomalies,
			&acc.AvgDeviation,
			&acc.MaxDeviation,
			&acc.Score,
			&level,
			&counterparts,
			&lastAnomaly,
			&acc.UpdatedAt,
		); err != nil {
			return nil, err
		}
		acc.Kind = risk.SubjectKind(kind)
		acc.Level = risk.Level(level)
		acc.Counterparts = make(map[string]int64)
		if len(counterparts) > 0 {
			if err := json.Unmarshal(counterparts, &acc.Counterparts); err != nil {
				return nil, err
			}
		}
		if lastAnomaly.Valid {
			acc.LastAnomalyAt = lastAnomaly.Time.UTC()
		}
		acc.UpdatedAt = acc.UpdatedAt.UTC()
		result = append(result, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
