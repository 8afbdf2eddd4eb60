package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy tunes detection and calibration behavior. Values unset in the file
// keep their defaults.
type Policy struct {
	// Synchronizer.
	StaleAfter    time.Duration `yaml:"stale_after"`
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// Scoring.
	MinSamples      int     `yaml:"min_samples"`
	MinorSigma      float64 `yaml:"minor_sigma"`
	MajorSigma      float64 `yaml:"major_sigma"`
	RateWeight      float64 `yaml:"rate_weight"`
	MagnitudeWeight float64 `yaml:"magnitude_weight"`
	FavoredShare    float64 `yaml:"favored_share"`

	// Risk decay. Scores halve every DecayHalfLife without new anomalies.
	DecayHalfLife time.Duration `yaml:"decay_half_life"`

	// Calibration.
	CalibrationFloor int `yaml:"calibration_floor"`
	RoundingMinutes  int `yaml:"rounding_minutes"`

	// Auto-shutdown ceilings in kWh, with per-equipment overrides.
	DefaultCeilingKWh float64            `yaml:"default_ceiling_kwh"`
	EquipmentCeilings map[string]float64 `yaml:"equipment_ceilings"`
}

// DefaultPolicy returns the built-in tuning.
func DefaultPolicy() Policy {
	return Policy{
		StaleAfter:        90 * time.Second,
		SweepInterval:     15 * time.Second,
		MinSamples:        5,
		MinorSigma:        1,
		MajorSigma:        2,
		RateWeight:        0.6,
		MagnitudeWeight:   0.4,
		FavoredShare:      0.7,
		DecayHalfLife:     30 * 24 * time.Hour,
		CalibrationFloor:  10,
		RoundingMinutes:   5,
		DefaultCeilingKWh: 5,
	}
}

// LoadPolicy merges a yaml policy file over the defaults. An empty path
// returns the defaults unchanged.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return policy, err
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return policy, err
	}
	return policy, policy.Validate()
}

// Validate rejects tunings that cannot work.
func (p Policy) Validate() error {
	if p.MinSamples <= 0 {
		return errors.New("config: min_samples must be positive")
	}
	if p.MinorSigma <= 0 || p.MajorSigma <= p.MinorSigma {
		return errors.New("config: sigma bands must satisfy 0 < minor < major")
	}
	if p.RateWeight < 0 || p.MagnitudeWeight < 0 {
		return errors.New("config: score weights must be non-negative")
	}
	if p.DecayHalfLife <= 0 {
		return errors.New("config: decay_half_life must be positive")
	}
	if p.CalibrationFloor <= 0 {
		return errors.New("config: calibration_floor must be positive")
	}
	if p.RoundingMinutes <= 0 {
		return errors.New("config: rounding_minutes must be positive")
	}
	return nil
}

// CeilingFor returns the auto-shutdown ceiling for an equipment id.
func (p Policy) CeilingFor(equipmentID string) float64 {
	if p.EquipmentCeilings != nil {
		if ceiling, ok := p.EquipmentCeilings[equipmentID]; ok {
			return ceiling
		}
	}
	return p.DefaultCeilingKWh
}
