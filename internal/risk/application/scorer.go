package application

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"plugwatch/internal/observability/metrics"
	risk "plugwatch/internal/risk/domain"
	sessionapp "plugwatch/internal/sessions/application"
	sessions "plugwatch/internal/sessions/domain"
	stats "plugwatch/internal/stats/domain"
)

// Classification is the outcome of scoring one closed session.
type Classification string

const (
	// ClassUnscored marks sessions with no usable baseline. Insufficient
	// data is reported, never treated as zero deviation.
	ClassUnscored Classification = "unscored"
	ClassNormal   Classification = "normal"
	ClassMinor    Classification = "minor"
	ClassMajor    Classification = "major"
)

// Anomalous reports whether the classification feeds risk accumulators.
func (c Classification) Anomalous() bool {
	return c == ClassMinor || c == ClassMajor
}

// Assessment is the scoring result for one session.
type Assessment struct {
	SessionID          string         `json:"session_id"`
	Classification     Classification `json:"classification"`
	EnergyDeviationPct float64        `json:"energy_deviation_pct"`
	BaselineCount      int64          `json:"baseline_count"`
	BaselineKey        string         `json:"baseline_key"`
	AutoShutdown       bool           `json:"auto_shutdown"`
}

// StatsEngine is the statistics port used by the scorer.
type StatsEngine interface {
	Observe(ctx context.Context, key stats.Key, energyKWh, minutes float64) (stats.Snapshot, error)
	MinSamples() int
}

// DurationProvider supplies configured treatment durations, used to allocate
// a multi-service session's totals across its services.
type DurationProvider interface {
	TreatmentMinutes(ctx context.Context, serviceID string) (int, error)
}

// Tuning carries the scoring policy knobs.
type Tuning struct {
	MinorSigma    float64
	MajorSigma    float64
	Weights       risk.Weights
	DecayHalfLife time.Duration
}

// DefaultTuning matches the production policy defaults.
func DefaultTuning() Tuning {
	return Tuning{
		MinorSigma:    1,
		MajorSigma:    2,
		Weights:       risk.DefaultWeights(),
		DecayHalfLife: 30 * 24 * time.Hour,
	}
}

// Scorer compares closed sessions against their pre-update baselines and
// folds the outcome into per-subject risk accumulators.
type Scorer struct {
	engine    StatsEngine
	store     *Store
	durations DurationProvider
	tuning    Tuning
	logger    zerolog.Logger
}

// NewScorer constructs a scorer.
func NewScorer(engine StatsEngine, store *Store, durations DurationProvider, tuning Tuning, logger zerolog.Logger) (*Scorer, error) {
	if engine == nil {
		return nil, errors.New("risk: nil stats engine")
	}
	if store == nil {
		return nil, errors.New("risk: nil store")
	}
	if tuning.MinorSigma <= 0 || tuning.MajorSigma <= tuning.MinorSigma {
		return nil, errors.New("risk: sigma bands must satisfy 0 < minor < major")
	}
	return &Scorer{
		engine:    engine,
		store:     store,
		durations: durations,
		tuning:    tuning,
		logger:    logger,
	}, nil
}

// HandleSessionClosed scores one closed session. Aborted sessions are
// archived upstream but excluded from statistics and risk.
func (s *Scorer) HandleSessionClosed(ctx context.Context, event sessionapp.SessionClosed) (Assessment, error) {
	start := time.Now()
	session := event.Session

	if session.Status == sessions.StatusAborted {
		metrics.ObserveScoring("skipped_aborted", time.Since(start))
		return Assessment{SessionID: session.ID, Classification: ClassUnscored}, nil
	}
	if session.Status != sessions.StatusCompleted {
		metrics.ObserveScoring("skipped_open", time.Since(start))
		return Assessment{}, errors.New("risk: session not closed")
	}

	baseline, baselineKey, err := s.updateStatistics(ctx, session)
	if err != nil {
		metrics.ObserveScoring("error", time.Since(start))
		return Assessment{}, err
	}

	assessment := s.classify(session, baseline)
	assessment.BaselineKey = baselineKey.String()
	metrics.IncClassification(string(assessment.Classification))

	if err := s.updateRisk(ctx, session, assessment); err != nil {
		metrics.ObserveScoring("error", time.Since(start))
		return assessment, err
	}

	s.logger.Info().
		Str("session_id", session.ID).
		Str("classification", string(assessment.Classification)).
		Float64("energy_deviation_pct", assessment.EnergyDeviationPct).
		Bool("auto_shutdown", session.AutoShutdown).
		Msg("session scored")
	metrics.ObserveScoring("success", time.Since(start))
	return assessment, nil
}

// updateStatistics folds the session into both statistic families and
// returns the baseline snapshot as it stood before this session touched it,
// together with its key. The baseline is the single-service key when the
// occurrence ran one service, otherwise the combination key: concurrent
// services on shared equipment have their own consumption profile.
func (s *Scorer) updateStatistics(ctx context.Context, session sessions.Session) (stats.Snapshot, stats.Key, error) {
	hour := stats.HourBucket(sessionStart(session))
	energy := session.EnergyKWh
	minutes := session.ActiveMinutes()
	serviceIDs := session.Occurrence.ServiceIDs

	comboKey, err := stats.CombinationKey(serviceIDs, hour)
	if err != nil {
		return stats.Snapshot{}, stats.Key{}, err
	}

	shares := s.allocationShares(ctx, serviceIDs)
	var baseline stats.Snapshot
	var baselineKey stats.Key
	single := len(serviceIDs) == 1

	for i, serviceID := range serviceIDs {
		key, err := stats.ServiceKey(session.Occurrence.EquipmentID, serviceID, hour)
		if err != nil {
			return stats.Snapshot{}, stats.Key{}, err
		}
		before, err := s.engine.Observe(ctx, key, energy*shares[i], minutes*shares[i])
		if err != nil {
			return stats.Snapshot{}, stats.Key{}, err
		}
		if single {
			baseline = before
			baselineKey = key
		}
	}

	comboBefore, err := s.engine.Observe(ctx, comboKey, energy, minutes)
	if err != nil {
		return stats.Snapshot{}, stats.Key{}, err
	}
	if !single {
		baseline = comboBefore
		baselineKey = comboKey
	}
	return baseline, baselineKey, nil
}

// allocationShares splits a session's totals across its services in
// proportion to their configured treatment durations, falling back to an
// even split when the catalog cannot answer.
func (s *Scorer) allocationShares(ctx context.Context, serviceIDs []string) []float64 {
	shares := make([]float64, len(serviceIDs))
	if len(serviceIDs) == 1 {
		shares[0] = 1
		return shares
	}

	weights := make([]float64, len(serviceIDs))
	total := 0.0
	if s.durations != nil {
		for i, serviceID := range serviceIDs {
			minutes, err := s.durations.TreatmentMinutes(ctx, serviceID)
			if err != nil || minutes <= 0 {
				total = 0
				break
			}
			weights[i] = float64(minutes)
			total += weights[i]
		}
	}
	if total == 0 {
		even := 1 / float64(len(serviceIDs))
		for i := range shares {
			shares[i] = even
		}
		return shares
	}
	for i := range shares {
		shares[i] = weights[i] / total
	}
	return shares
}

func (s *Scorer) classify(session sessions.Session, baseline stats.Snapshot) Assessment {
	assessment := Assessment{
		SessionID:     session.ID,
		BaselineCount: baseline.EnergyKWh.Count,
		AutoShutdown:  session.AutoShutdown,
	}

	insufficient := baseline.EnergyKWh.Count < int64(s.engine.MinSamples()) || baseline.EnergyKWh.Mean <= 0
	if insufficient {
		// A forced stop is a signal in its own right, baseline or not.
		if session.AutoShutdown {
			assessment.Classification = ClassMinor
		} else {
			assessment.Classification = ClassUnscored
		}
		return assessment
	}

	mean := baseline.EnergyKWh.Mean
	sigma := baseline.EnergyKWh.StdDev()
	deviation := session.EnergyKWh - mean
	assessment.EnergyDeviationPct = deviation / mean * 100

	switch {
	case sigma == 0:
		if deviation == 0 {
			assessment.Classification = ClassNormal
		} else {
			assessment.Classification = ClassMajor
		}
	default:
		z := deviation / sigma
		if z < 0 {
			z = -z
		}
		switch {
		case z <= s.tuning.MinorSigma:
			assessment.Classification = ClassNormal
		case z <= s.tuning.MajorSigma:
			assessment.Classification = ClassMinor
		default:
			assessment.Classification = ClassMajor
		}
	}

	if session.AutoShutdown && assessment.Classification == ClassNormal {
		assessment.Classification = ClassMinor
	}
	return assessment
}

func (s *Scorer) updateRisk(ctx context.Context, session sessions.Session, assessment Assessment) error {
	now := sessionEnd(session)
	subjects := []struct {
		kind        risk.SubjectKind
		id          string
		counterpart string
	}{
		{risk.SubjectCustomer, session.Occurrence.CustomerID, session.Occurrence.OperatorID},
		{risk.SubjectOperator, session.Occurrence.OperatorID, session.Occurrence.CustomerID},
	}

	for _, subject := range subjects {
		previousLevel := risk.LevelLow
		updated, err := s.store.Mutate(ctx, subject.kind, subject.id, func(acc *risk.Accumulator) error {
			previousLevel = acc.Level
			acc.Decay(now, s.tuning.DecayHalfLife)
			acc.ObserveSession(now)
			if assessment.Classification.Anomalous() {
				acc.ObserveAnomaly(assessment.EnergyDeviationPct, subject.counterpart, s.tuning.Weights, now)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if updated.Level != previousLevel {
			metrics.IncRiskLevelChange(string(subject.kind), string(updated.Level))
		}
	}
	return nil
}

func sessionStart(session sessions.Session) time.Time {
	if !session.StartedAt.IsZero() {
		return session.StartedAt
	}
	return session.AssignedAt
}

func sessionEnd(session sessions.Session) time.Time {
	if !session.EndedAt.IsZero() {
		return session.EndedAt
	}
	return time.Now().UTC()
}
