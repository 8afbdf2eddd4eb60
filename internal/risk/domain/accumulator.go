package risk

import (
	"errors"
	"math"
	"time"
)

var (
	// ErrEmptySubject is returned when a subject id is missing.
	ErrEmptySubject = errors.New("risk: empty subject id")
	// ErrUnknownSubject is returned when no accumulator exists for a subject.
	ErrUnknownSubject = errors.New("risk: unknown subject")
	// ErrInvalidKind is returned for subject kinds outside the closed set.
	ErrInvalidKind = errors.New("risk: invalid subject kind")
)

// SubjectKind distinguishes the two scored populations.
type SubjectKind string

const (
	SubjectCustomer SubjectKind = "customer"
	SubjectOperator SubjectKind = "operator"
)

// Valid reports whether the kind is in the closed set.
func (k SubjectKind) Valid() bool {
	return k == SubjectCustomer || k == SubjectOperator
}

// Level is the discrete risk band derived from the score.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// LevelForScore maps a 0-100 score onto a level.
func LevelForScore(score float64) Level {
	switch {
	case score >= 80:
		return LevelCritical
	case score >= 60:
		return LevelHigh
	case score >= 40:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Weights tune the score combination.
type Weights struct {
	Rate      float64
	Magnitude float64
}

// DefaultWeights matches the production tuning.
func DefaultWeights() Weights {
	return Weights{Rate: 0.6, Magnitude: 0.4}
}

// Accumulator is the per-subject risk state. It is never deleted; without
// new anomalies the score decays toward zero with a configured half-life.
type Accumulator struct {
	SubjectID string      `json:"subject_id"`
	Kind      SubjectKind `json:"kind"`

	TotalSessions  int64   `json:"total_sessions"`
	TotalAnomalies int64   `json:"total_anomalies"`
	AvgDeviation   float64 `json:"avg_deviation_pct"`
	MaxDeviation   float64 `json:"max_deviation_pct"`

	Score float64 `json:"score"`
	Level Level   `json:"level"`

	// Counterparts counts anomalies per counterpart subject id, exposing
	// pairings that per-subject averages hide.
	Counterparts map[string]int64 `json:"counterparts,omitempty"`

	LastAnomalyAt time.Time `json:"last_anomaly_at,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewAccumulator initializes an empty accumulator.
func NewAccumulator(kind SubjectKind, subjectID string) (*Accumulator, error) {
	if subjectID == "" {
		return nil, ErrEmptySubject
	}
	if !kind.Valid() {
		return nil, ErrInvalidKind
	}
	return &Accumulator{
		SubjectID:    subjectID,
		Kind:         kind,
		Level:        LevelLow,
		Counterparts: make(map[string]int64),
	}, nil
}

// ObserveSession counts a scored session for the subject.
func (a *Accumulator) ObserveSession(at time.Time) {
	a.TotalSessions++
	a.UpdatedAt = at.UTC()
}

// ObserveAnomaly folds an anomalous session into the accumulator and
// recomputes score and level. deviationPct may be negative; magnitude uses
// the absolute value.
func (a *Accumulator) ObserveAnomaly(deviationPct float64, counterpartID string, weights Weights, at time.Time) {
	magnitude := math.Abs(deviationPct)
	a.TotalAnomalies++
	a.AvgDeviation += (magnitude - a.AvgDeviation) / float64(a.TotalAnomalies)
	if magnitude > a.MaxDeviation {
		a.MaxDeviation = magnitude
	}
	if counterpartID != "" {
		if a.Counterparts == nil {
			a.Counterparts = make(map[string]int64)
		}
		a.Counterparts[counterpartID]++
	}
	a.LastAnomalyAt = at.UTC()
	a.UpdatedAt = at.UTC()
	a.recompute(weights)
}

// Decay applies the exponential half-life to the score based on time since
// the last anomaly. Decay is monotone: it only lowers the score.
func (a *Accumulator) Decay(now time.Time, halfLife time.Duration) {
	if halfLife <= 0 || a.Score == 0 || a.LastAnomalyAt.IsZero() {
		return
	}
	elapsed := now.Sub(a.LastAnomalyAt)
	if elapsed <= 0 {
		return
	}
	factor := math.Pow(0.5, elapsed.Hours()/halfLife.Hours())
	a.Score *= factor
	a.Level = LevelForScore(a.Score)
	a.UpdatedAt = now.UTC()
}

// AnomalyRate returns the share of observed sessions that were anomalous.
func (a *Accumulator) AnomalyRate() float64 {
	if a.TotalSessions == 0 {
		return 0
	}
	return float64(a.TotalAnomalies) / float64(a.TotalSessions)
}

// FavoredCounterpart reports the counterpart holding at least minShare of
// the subject's anomalies, if any. Requires more than one anomaly so a
// single incident never flags a pairing.
func (a *Accumulator) FavoredCounterpart(minShare float64) (string, float64, bool) {
	if a.TotalAnomalies < 2 || len(a.Counterparts) == 0 {
		return "", 0, false
	}
	var bestID string
	var bestCount int64
	for id, count := range a.Counterparts {
		if count > bestCount || (count == bestCount && id < bestID) {
			bestID = id
			bestCount = count
		}
	}
	share := float64(bestCount) / float64(a.TotalAnomalies)
	if share < minShare {
		return "", 0, false
	}
	return bestID, share, true
}

func (a *Accumulator) recompute(weights Weights) {
	score := a.AnomalyRate()*100*weights.Rate + a.AvgDeviation*weights.Magnitude
	a.Score = math.Min(100, score)
	a.Level = LevelForScore(a.Score)
}
