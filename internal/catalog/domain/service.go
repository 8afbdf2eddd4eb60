package catalog

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for unknown service ids.
	ErrNotFound = errors.New("catalog: service not found")
	// ErrInvalidDefinition is returned for definitions missing required fields.
	ErrInvalidDefinition = errors.New("catalog: invalid service definition")
	// ErrDurationInvariant is returned when a treatment duration would exceed
	// the total service duration.
	ErrDurationInvariant = errors.New("catalog: treatment duration exceeds service duration")
)

// ServiceDefinition is the catalog entry for one bookable service. The total
// duration covers the whole appointment slot, the treatment duration the
// equipment-active part of it.
type ServiceDefinition struct {
	ID                       string    `json:"id"`
	Name                     string    `json:"name"`
	DurationMinutes          int       `json:"duration_minutes"`
	TreatmentDurationMinutes int       `json:"treatment_duration_minutes"`
	UpdatedAt                time.Time `json:"updated_at"`
}

// Validate checks required fields and the duration invariant.
func (d ServiceDefinition) Validate() error {
	if d.ID == "" || d.Name == "" {
		return ErrInvalidDefinition
	}
	if d.DurationMinutes <= 0 || d.TreatmentDurationMinutes <= 0 {
		return ErrInvalidDefinition
	}
	if d.TreatmentDurationMinutes > d.DurationMinutes {
		return ErrDurationInvariant
	}
	return nil
}

// Repository persists service definitions.
type Repository interface {
	Get(ctx context.Context, serviceID string) (ServiceDefinition, error)
	List(ctx context.Context) ([]ServiceDefinition, error)
	Save(ctx context.Context, def ServiceDefinition) error
}
