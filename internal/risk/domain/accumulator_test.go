package risk

import (
	"math"
	"testing"
	"time"
)

func TestLevelForScore(t *testing.T) {
	cases := []struct {
		score float64
		want  Level
	}{
		{0, LevelLow},
		{39.9, LevelLow},
		{40, LevelMedium},
		{59.9, LevelMedium},
		{60, LevelHigh},
		{79.9, LevelHigh},
		{80, LevelCritical},
		{100, LevelCritical},
	}
	for _, tc := range cases {
		if got := LevelForScore(tc.score); got != tc.want {
			t.Fatalf("score %.1f: expected %s, got %s", tc.score, tc.want, got)
		}
	}
}

func TestAccumulatorScore(t *testing.T) {
	acc, err := NewAccumulator(SubjectCustomer, "cust-1")
	if err != nil {
		t.Fatalf("new error: %v", err)
	}
	at := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		acc.ObserveSession(at)
	}
	acc.ObserveAnomaly(50, "op-1", DefaultWeights(), at)

	// rate 1/10, magnitude avg 50: 0.1*100*0.6 + 50*0.4 = 26.
	if math.Abs(acc.Score-26) > 1e-9 {
		t.Fatalf("expected score 26, got %v", acc.Score)
	}
	if acc.Level != LevelLow {
		t.Fatalf("expected low level, got %s", acc.Level)
	}
	if acc.MaxDeviation != 50 {
		t.Fatalf("expected max deviation 50, got %v", acc.MaxDeviation)
	}
}

func TestAccumulatorScoreCap(t *testing.T) {
	acc, _ := NewAccumulator(SubjectCustomer, "cust-1")
	at := time.Now().UTC()
	acc.ObserveSession(at)
	acc.ObserveAnomaly(500, "op-1", DefaultWeights(), at)
	if acc.Score != 100 {
		t.Fatalf("score must cap at 100, got %v", acc.Score)
	}
	if acc.Level != LevelCritical {
		t.Fatalf("expected critical, got %s", acc.Level)
	}
}

func TestAccumulatorDecay(t *testing.T) {
	acc, _ := NewAccumulator(SubjectOperator, "op-1")
	at := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	acc.ObserveSession(at)
	acc.ObserveAnomaly(100, "cust-1", DefaultWeights(), at)
	start := acc.Score

	halfLife := 30 * 24 * time.Hour
	acc.Decay(at.Add(halfLife), halfLife)
	if math.Abs(acc.Score-start/2) > 1e-9 {
		t.Fatalf("expected score halved after one half-life, got %v (start %v)", acc.Score, start)
	}

	// Decay never raises the score, and a no-elapsed decay is a no-op.
	before := acc.Score
	acc.Decay(at, halfLife)
	if acc.Score != before {
		t.Fatalf("backward decay must be a no-op, got %v", acc.Score)
	}
}

func TestFavoredCounterpart(t *testing.T) {
	acc, _ := NewAccumulator(SubjectCustomer, "cust-1")
	at := time.Now().UTC()
	acc.ObserveSession(at)
	acc.ObserveAnomaly(30, "op-1", DefaultWeights(), at)

	// A single anomaly never flags a pairing.
	if _, _, ok := acc.FavoredCounterpart(0.7); ok {
		t.Fatalf("one anomaly must not flag a counterpart")
	}

	acc.ObserveSession(at)
	acc.ObserveAnomaly(35, "op-1", DefaultWeights(), at)
	acc.ObserveSession(at)
	acc.ObserveAnomaly(32, "op-1", DefaultWeights(), at)
	acc.ObserveSession(at)
	acc.ObserveAnomaly(40, "op-2", DefaultWeights(), at)

	id, share, ok := acc.FavoredCounterpart(0.7)
	if !ok || id != "op-1" {
		t.Fatalf("expected op-1 favored, got %q ok=%v", id, ok)
	}
	if share != 0.75 {
		t.Fatalf("expected share 0.75, got %v", share)
	}

	if _, _, ok := acc.FavoredCounterpart(0.9); ok {
		t.Fatalf("share 0.75 must not satisfy a 0.9 floor")
	}
}
