package postgres

import (
	"context"
	"database/sql"
	"errors"

	stats "plugwatch/internal/stats/domain"
)

// Repository persists running statistics. The in-memory engine stays
// authoritative; this is the write-through copy used to warm restarts.
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
		return errors.New("stats repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS running_stats (
	key TEXT PRIMARY KEY,
	family TEXT NOT NULL,
	equipment_id TEXT NOT NULL DEFAULT '',
	service_id TEXT NOT NULL DEFAULT '',
	combination TEXT NOT NULL DEFAULT '',
	hour INTEGER NOT NULL,
	energy_count BIGINT NOT NULL,
	energy_mean DOUBLE PRECISION NOT NULL,
	energy_m2 DOUBLE PRECISION NOT NULL,
	minutes_count BIGINT NOT NULL,
	minutes_mean DOUBLE PRECISION NOT NULL,
	minutes_m2 DOUBLE PRECISION NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`)
	return err
}

// Upsert writes one aggregate.
func (r *Repository) Upsert(ctx context.Context, stat stats.RunningStat) error {
	if r == nil || r.db == nil {
		return errors.New("stats repo: nil db")
	}
	if err := stat.Key.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO running_stats (
	key, family, equipment_id, service_id, combination, hour,
	energy_count, energy_mean, energy_m2,
	minutes_count, minutes_mean, minutes_m2, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6,
	$7, $8, $9,
	$10, $11, $12, $13
)
ON CONFLICT (key) DO UPDATE SET
	energy_count = EXCLUDED.energy_count,
	energy_mean = EXCLUDED.energy_mean,
	energy_m2 = EXCLUDED.energy_m2,
	minutes_count = EXCLUDED.minutes_count,
	minutes_mean = EXCLUDED.minutes_mean,
	minutes_m2 = EXCLUDED.minutes_m2,
	updated_at = EXCLUDED.updated_at`,
		stat.Key.String(), string(stat.Key.Family), stat.Key.EquipmentID, stat.Key.ServiceID,
		stat.Key.Combination, stat.Key.Hour,
		stat.EnergyKWh.Count, stat.EnergyKWh.Mean, stat.EnergyKWh.M2,
		stat.Minutes.Count, stat.Minutes.Mean, stat.Minutes.M2, stat.UpdatedAt)
	return err
}

// LoadAll returns every persisted aggregate.
func (r *Repository) LoadAll(ctx context.Context) ([]stats.RunningStat, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("stats repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT family, equipment_id, service_id, combination, hour,
	energy_count, energy_mean, energy_m2,
	minutes_count, minutes_mean, minutes_m2, updated_at
FROM running_stats`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []stats.RunningStat
	for rows.Next() {
		var stat stats.RunningStat
		var family string
		if err := rows.Scan(
			&family,
			&stat.Key.EquipmentID,
			&stat.Key.ServiceID,
			&stat.Key.Combination,
			&stat.Key.Hour,
			&stat.EnergyKWh.Count,
			&stat.EnergyKWh.Mean,
			&stat.EnergyKWh.M2,
			&stat.Minutes.Count,
			&stat.Minutes.Mean,
			&stat.Minutes.M2,
			&stat.UpdatedAt,
		); err != nil {
			return nil, err
		}
		stat.Key.Family = stats.Family(family)
		stat.UpdatedAt = stat.UpdatedAt.UTC()
		result = append(result, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes one aggregate.
func (r *Repository) Delete(ctx context.Context, key stats.Key) error {
	if r == nil || r.db == nil {
		return errors.New("stats repo: nil db")
	}
	if err := key.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM running_stats WHERE key = $1`, key.String())
	return err
}
