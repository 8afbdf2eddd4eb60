package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	catalog "plugwatch/internal/catalog/domain"
)

// Repository is a Postgres repository for service definitions.
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
		return errors.New("catalog repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS service_definitions (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	duration_minutes INTEGER NOT NULL,
	treatment_duration_minutes INTEGER NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`)
	return err
}

// Get loads one service definition.
func (r *Repository) Get(ctx context.Context, serviceID string) (catalog.ServiceDefinition, error) {
	if r == nil || r.db == nil {
		return catalog.ServiceDefinition{}, errors.New("catalog repo: nil db")
	}
	if serviceID == "" {
		return catalog.ServiceDefinition{}, catalog.ErrInvalidDefinition
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, name, duration_minutes, treatment_duration_minutes, updated_at
FROM service_definitions
WHERE id = $1
LIMIT 1`, serviceID)
	var def catalog.ServiceDefinition
	if err := row.Scan(
		&def.ID,
		&def.Name,
		&def.DurationMinutes,
		&def.TreatmentDurationMinutes,
		&def.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.ServiceDefinition{}, catalog.ErrNotFound
		}
		return catalog.ServiceDefinition{}, err
	}
	def.UpdatedAt = def.UpdatedAt.UTC()
	return def, nil
}

// List returns all service definitions ordered by id.
func (r *Repository) List(ctx context.Context) ([]catalog.ServiceDefinition, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("catalog repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, name, duration_minutes, treatment_duration_minutes, updated_at
FROM service_definitions
ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []catalog.ServiceDefinition
	for rows.Next() {
		var def catalog.ServiceDefinition
		if err := rows.Scan(
			&def.ID,
			&def.Name,
			&def.DurationMinutes,
			&def.TreatmentDurationMinutes,
			&def.UpdatedAt,
		); err != nil {
			return nil, err
		}
		def.UpdatedAt = def.UpdatedAt.UTC()
		result = append(result, def)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Save upserts one service definition.
func (r *Repository) Save(ctx context.Context, def catalog.ServiceDefinition) error {
	if r == nil || r.db == nil {
		return errors.New("catalog repo: nil db")
	}
	if err := def.Validate(); err != nil {
		return err
	}
	if def.UpdatedAt.IsZero() {
		def.UpdatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO service_definitions (
	id, name, duration_minutes, treatment_duration_minutes, updated_at
) VALUES (
	$1, $2, $3, $4, $5
)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	duration_minutes = EXCLUDED.duration_minutes,
	treatment_duration_minutes = EXCLUDED.treatment_duration_minutes,
	updated_at = EXCLUDED.updated_at`,
		def.ID, def.Name, def.DurationMinutes, def.TreatmentDurationMinutes, def.UpdatedAt)
	return err
}
