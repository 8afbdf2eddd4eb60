package application

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	catalog "plugwatch/internal/catalog/domain"
)

// Service exposes catalog reads and the duration update operation.
type Service struct {
	repo   catalog.Repository
	logger zerolog.Logger
}

// NewService constructs a catalog service.
func NewService(repo catalog.Repository, logger zerolog.Logger) (*Service, error) {
	if repo == nil {
		return nil, errors.New("catalog: nil repository")
	}
	return &Service{repo: repo, logger: logger}, nil
}

// Get loads one service definition.
func (s *Service) Get(ctx context.Context, serviceID string) (catalog.ServiceDefinition, error) {
	return s.repo.Get(ctx, serviceID)
}

// List returns all service definitions.
func (s *Service) List(ctx context.Context) ([]catalog.ServiceDefinition, error) {
	return s.repo.List(ctx)
}

// TreatmentMinutes returns the configured treatment duration for a service.
func (s *Service) TreatmentMinutes(ctx context.Context, serviceID string) (int, error) {
	def, err := s.repo.Get(ctx, serviceID)
	if err != nil {
		return 0, err
	}
	return def.TreatmentDurationMinutes, nil
}

// UpdateDurations persists new durations for a service. The treatment
// duration may never exceed the total, so a treatment raise past the current
// total raises the total with it.
func (s *Service) UpdateDurations(ctx context.Context, serviceID string, totalMinutes, treatmentMinutes int) (catalog.ServiceDefinition, error) {
	def, err := s.repo.Get(ctx, serviceID)
	if err != nil {
		return catalog.ServiceDefinition{}, err
	}
	if totalMinutes > 0 {
		def.DurationMinutes = totalMinutes
	}
	if treatmentMinutes > 0 {
		def.TreatmentDurationMinutes = treatmentMinutes
	}
	if def.TreatmentDurationMinutes > def.DurationMinutes {
		def.DurationMinutes = def.TreatmentDurationMinutes
	}
	if err := def.Validate(); err != nil {
		return catalog.ServiceDefinition{}, err
	}
	if err := s.repo.Save(ctx, def); err != nil {
		return catalog.ServiceDefinition{}, err
	}
	s.logger.Info().
		Str("service_id", serviceID).
		Int("duration_minutes", def.DurationMinutes).
		Int("treatment_duration_minutes", def.TreatmentDurationMinutes).
		Msg("service durations updated")
	return def, nil
}
