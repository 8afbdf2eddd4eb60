package application

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog"

	catalogapp "plugwatch/internal/catalog/application"
	"plugwatch/internal/observability/metrics"
	stats "plugwatch/internal/stats/domain"
)

var (
	// ErrInsufficientData is returned when a service has too few closed
	// sessions to support a proposal. Callers report it, they never apply a
	// proposal derived from thin data.
	ErrInsufficientData = errors.New("calibration: insufficient data")
	// ErrInvariantViolation is returned when an applied proposal would leave
	// the treatment duration above the total service duration.
	ErrInvariantViolation = errors.New("calibration: treatment duration exceeds service duration")
)

// Proposal is a suggested duration change for one service.
type Proposal struct {
	ServiceID                string    `json:"service_id"`
	SampleCount              int64     `json:"sample_count"`
	ObservedMeanMinutes      float64   `json:"observed_mean_minutes"`
	ObservedStdDevMinutes    float64   `json:"observed_stddev_minutes"`
	TreatmentDurationMinutes int       `json:"treatment_duration_minutes"`
	ServiceDurationMinutes   int       `json:"service_duration_minutes"`
	RaisesTotal              bool      `json:"raises_total"`
	GeneratedAt              time.Time `json:"generated_at"`
}

// SnapshotSource supplies the per-hour aggregates for one service.
type SnapshotSource interface {
	ServiceSnapshots(ctx context.Context, serviceID string) []stats.Snapshot
}

// Advisor turns observed duration statistics into catalog duration proposals.
type Advisor struct {
	source         SnapshotSource
	catalog        *catalogapp.Service
	floor          int64
	roundToMinutes int
	logger         zerolog.Logger
}

// AdvisorOption customizes an Advisor.
type AdvisorOption func(*Advisor)

// WithFloor overrides the reliability floor.
func WithFloor(n int64) AdvisorOption {
	return func(a *Advisor) {
		if n > 0 {
			a.floor = n
		}
	}
}

// WithRounding overrides the proposal granularity in minutes.
func WithRounding(minutes int) AdvisorOption {
	return func(a *Advisor) {
		if minutes > 0 {
			a.roundToMinutes = minutes
		}
	}
}

// NewAdvisor constructs an advisor.
func NewAdvisor(source SnapshotSource, cat *catalogapp.Service, logger zerolog.Logger, opts ...AdvisorOption) (*Advisor, error) {
	if source == nil {
		return nil, errors.New("calibration: nil snapshot source")
	}
	if cat == nil {
		return nil, errors.New("calibration: nil catalog")
	}
	a := &Advisor{
		source:         source,
		catalog:        cat,
		floor:          10,
		roundToMinutes: 5,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// ProposeDuration merges the service's hour-bucket aggregates and proposes a
// treatment duration equal to the observed mean, rounded to the configured
// granularity. When the proposal exceeds the current total service duration
// the total is raised with it, never silently violated.
func (a *Advisor) ProposeDuration(ctx context.Context, serviceID string) (Proposal, error) {
	def, err := a.catalog.Get(ctx, serviceID)
	if err != nil {
		return Proposal{}, err
	}

	var merged stats.Welford
	for _, snap := range a.source.ServiceSnapshots(ctx, serviceID) {
		merged.Merge(snap.Minutes)
	}
	if merged.Count < a.floor {
		return Proposal{}, ErrInsufficientData
	}

	treatment := roundToNearest(merged.Mean, a.roundToMinutes)
	if treatment < a.roundToMinutes {
		treatment = a.roundToMinutes
	}
	proposal := Proposal{
		ServiceID:                serviceID,
		SampleCount:              merged.Count,
		ObservedMeanMinutes:      merged.Mean,
		ObservedStdDevMinutes:    merged.StdDev(),
		TreatmentDurationMinutes: treatment,
		ServiceDurationMinutes:   def.DurationMinutes,
		GeneratedAt:              time.Now().UTC(),
	}
	if treatment > def.DurationMinutes {
		proposal.ServiceDurationMinutes = treatment
		proposal.RaisesTotal = true
	}
	return proposal, nil
}

// ApplyCalibration re-validates a proposal and persists it through the
// catalog. Proposals that would break the duration invariant are rejected
// before anything reaches the catalog.
func (a *Advisor) ApplyCalibration(ctx context.Context, proposal Proposal) error {
	if proposal.ServiceID == "" || proposal.TreatmentDurationMinutes <= 0 {
		return ErrInvariantViolation
	}
	if proposal.TreatmentDurationMinutes > proposal.ServiceDurationMinutes {
		return ErrInvariantViolation
	}
	if _, err := a.catalog.UpdateDurations(ctx, proposal.ServiceID, proposal.ServiceDurationMinutes, proposal.TreatmentDurationMinutes); err != nil {
		return err
	}
	metrics.IncCalibration("applied")
	a.logger.Info().
		Str("service_id", proposal.ServiceID).
		Int64("sample_count", proposal.SampleCount).
		Int("treatment_duration_minutes", proposal.TreatmentDurationMinutes).
		Int("service_duration_minutes", proposal.ServiceDurationMinutes).
		Msg("calibration applied")
	return nil
}

func roundToNearest(value float64, granularity int) int {
	if granularity <= 0 {
		granularity = 1
	}
	g := float64(granularity)
	return int(math.Round(value/g) * g)
}
