package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadPolicy_Defaults(t *testing.T) {
	policy, err := LoadPolicy("")
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if policy.MinSamples != 5 {
		t.Fatalf("min_samples: expected 5, got %d", policy.MinSamples)
	}
	if policy.StaleAfter != 90*time.Second {
		t.Fatalf("stale_after: expected 90s, got %s", policy.StaleAfter)
	}
	if policy.DecayHalfLife != 30*24*time.Hour {
		t.Fatalf("decay_half_life: expected 720h, got %s", policy.DecayHalfLife)
	}
	if err := policy.Validate(); err != nil {
		t.Fatalf("defaults failed validation: %v", err)
	}
}

func TestLoadPolicy_MergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := []byte(`
min_samples: 8
major_sigma: 3
default_ceiling_kwh: 2.5
equipment_ceilings:
  laser-1: 1.0
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write error: %v", err)
	}

	policy, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if policy.MinSamples != 8 {
		t.Fatalf("min_samples: expected 8, got %d", policy.MinSamples)
	}
	if policy.MajorSigma != 3 {
		t.Fatalf("major_sigma: expected 3, got %v", policy.MajorSigma)
	}
	// Untouched keys keep their defaults.
	if policy.MinorSigma != 1 {
		t.Fatalf("minor_sigma: expected default 1, got %v", policy.MinorSigma)
	}
	if policy.SweepInterval != 15*time.Second {
		t.Fatalf("sweep_interval: expected default 15s, got %s", policy.SweepInterval)
	}
	if got := policy.CeilingFor("laser-1"); got != 1.0 {
		t.Fatalf("ceiling for laser-1: expected 1.0, got %v", got)
	}
	if got := policy.CeilingFor("laser-2"); got != 2.5 {
		t.Fatalf("ceiling fallback: expected 2.5, got %v", got)
	}
}

func TestLoadPolicy_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("minor_sigma: 4\n"), 0o600); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if _, err := LoadPolicy(path); err == nil {
		t.Fatalf("expected validation error for minor_sigma above major_sigma")
	}
}

func TestLoadPolicy_MissingFile(t *testing.T) {
	if _, err := LoadPolicy(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing policy file")
	}
}

func TestPolicyValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"zero min_samples", func(p *Policy) { p.MinSamples = 0 }},
		{"negative rate_weight", func(p *Policy) { p.RateWeight = -1 }},
		{"zero decay", func(p *Policy) { p.DecayHalfLife = 0 }},
		{"zero calibration_floor", func(p *Policy) { p.CalibrationFloor = 0 }},
		{"zero rounding", func(p *Policy) { p.RoundingMinutes = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			policy := DefaultPolicy()
			tc.mutate(&policy)
			if err := policy.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
