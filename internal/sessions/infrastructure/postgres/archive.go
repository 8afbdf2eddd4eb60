package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	sessions "plugwatch/internal/sessions/domain"
)

// Archive is the durable audit log of closed sessions. Live sessions are
// memory-only; every terminal session lands here exactly once.
type Archive struct {
	db *sql.DB
}

// NewArchive constructs an archive.
func NewArchive(db *sql.DB) *Archive {
	return &Archive{db: db}
}

// EnsureSchema creates the backing table when missing.
func (a *Archive) EnsureSchema(ctx context.Context) error {
	if a == nil || a.db == nil {
		return errors.New("session archive: nil db")
	}
	_, err := a.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS session_archive (
	id TEXT PRIMARY KEY,
	device_id TEXT NOT NULL,
	occurrence_id TEXT NOT NULL,
	occurrence JSONB NOT NULL,
	status TEXT NOT NULL,
	assigned_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	ended_at TIMESTAMPTZ,
	energy_kwh DOUBLE PRECISION NOT NULL,
	active_seconds DOUBLE PRECISION NOT NULL,
	auto_shutdown BOOLEAN NOT NULL,
	abort_reason TEXT NOT NULL DEFAULT ''
)`)
	if err != nil {
		return err
	}
	_, err = a.db.ExecContext(ctx, `
CREATE INDEX IF NOT EXISTS session_archive_occurrence_idx
ON session_archive (occurrence_id)`)
	return err
}

// Insert records one closed session.
func (a *Archive) Insert(ctx context.Context, session sessions.Session) error {
	if a == nil || a.db == nil {
		return errors.New("session archive: nil db")
	}
	if session.ID == "" {
		return errors.New("session archive: empty session id")
	}
	occurrence, err := json.Marshal(session.Occurrence)
	if err != nil {
		return err
	}
	var started, ended sql.NullTime
	if !session.StartedAt.IsZero() {
		started = sql.NullTime{Time: session.StartedAt, Valid: true}
	}
	if !session.EndedAt.IsZero() {
		ended = sql.NullTime{Time: session.EndedAt, Valid: true}
	}
	_, err = a.db.ExecContext(ctx, `
INSERT INTO session_archive (
	id, device_id, occurrence_id, occurrence, status,
	assigned_at, started_at, ended_at,
	energy_kwh, active_seconds, auto_shutdown, abort_reason
) VALUES (
	$1, $2, $3, $4, $5,
	$6, $7, $8,
	$9, $10, $11, $12
)
ON CONFLICT (id) DO NOTHING`,
		session.ID, session.DeviceID, session.Occurrence.ID, occurrence, string(session.Status),
		session.AssignedAt, started, ended,
		session.EnergyKWh, session.ActiveFor.Seconds(), session.AutoShutdown, session.AbortReason)
	return err
}

// ListByOccurrence returns archived sessions for one occurrence, newest first.
func (a *Archive) ListByOccurrence(ctx context.Context, occurrenceID string) ([]sessions.Session, error) {
	if a == nil || a.db == nil {
		return nil, errors.New("session archive: nil db")
	}
	if occurrenceID == "" {
		return nil, errors.New("session archive: empty occurrence id")
	}
	rows, err := a.db.QueryContext(ctx, `
SELECT id, device_id, occurrence, status,
	assigned_at, started_at, ended_at,
	energy_kwh, active_seconds, auto_shutdown, abort_reason
FROM session_archive
WHERE occurrence_id = $1
ORDER BY assigned_at DESC`, occurrenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []sessions.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanSession(rows *sql.Rows) (sessions.Session, error) {
	var session sessions.Session
	var occurrence []byte
	var status string
	var started, ended sql.NullTime
	var activeSeconds float64
	if err := rows.Scan(
		&session.ID,
		&session.DeviceID,
		&occurrence,
		&status,
		&session.AssignedAt,
		&started,
		&ended,
		&session.EnergyKWh,
		&activeSeconds,
		&session.AutoShutdown,
		&session.AbortReason,
	); err != nil {
		return sessions.Session{}, err
	}
	if err := json.Unmarshal(occurrence, &session.Occurrence); err != nil {
		return sessions.Session{}, err
	}
	session.Status = sessions.Status(status)
	session.AssignedAt = session.AssignedAt.UTC()
	if started.Valid {
		session.StartedAt = started.Time.UTC()
	}
	if ended.Valid {
		session.EndedAt = ended.Time.UTC()
	}
	session.ActiveFor = time.Duration(activeSeconds * float64(time.Second))
	return session, nil
}
