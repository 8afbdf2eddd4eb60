package application

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	stats "plugwatch/internal/stats/domain"
)

func serviceKey(t *testing.T) stats.Key {
	t.Helper()
	key, err := stats.ServiceKey("laser-1", "svc-1", 14)
	if err != nil {
		t.Fatalf("key error: %v", err)
	}
	return key
}

func TestEngineObserve_ReturnsPreUpdateSnapshot(t *testing.T) {
	engine := NewEngine(zerolog.Nop(), WithMinSamples(1))
	ctx := context.Background()
	key := serviceKey(t)

	before, err := engine.Observe(ctx, key, 1.0, 20)
	if err != nil {
		t.Fatalf("observe error: %v", err)
	}
	if before.EnergyKWh.Count != 0 {
		t.Fatalf("first observation must see an empty baseline, got count %d", before.EnergyKWh.Count)
	}

	before, err = engine.Observe(ctx, key, 3.0, 40)
	if err != nil {
		t.Fatalf("observe error: %v", err)
	}
	// The returned snapshot excludes the sample just folded in.
	if before.EnergyKWh.Count != 1 || before.EnergyKWh.Mean != 1.0 {
		t.Fatalf("expected pre-update baseline of the first sample, got %+v", before.EnergyKWh)
	}

	after, err := engine.Lookup(ctx, key)
	if err != nil {
		t.Fatalf("lookup error: %v", err)
	}
	if after.EnergyKWh.Count != 2 || after.EnergyKWh.Mean != 2.0 {
		t.Fatalf("expected both samples in stored baseline, got %+v", after.EnergyKWh)
	}
}

func TestEngineLookup_BelowFloorIsNoBaseline(t *testing.T) {
	engine := NewEngine(zerolog.Nop(), WithMinSamples(5))
	ctx := context.Background()
	key := serviceKey(t)

	for i := 0; i < 2; i++ {
		if _, err := engine.Observe(ctx, key, 1.5, 20); err != nil {
			t.Fatalf("observe error: %v", err)
		}
	}
	if _, err := engine.Lookup(ctx, key); !errors.Is(err, stats.ErrNoBaseline) {
		t.Fatalf("2 samples under a floor of 5 must report no baseline, got %v", err)
	}
}

func TestEngineLookup_UnknownKey(t *testing.T) {
	engine := NewEngine(zerolog.Nop())
	if _, err := engine.Lookup(context.Background(), serviceKey(t)); !errors.Is(err, stats.ErrNoBaseline) {
		t.Fatalf("expected ErrNoBaseline, got %v", err)
	}
}

func TestEngineServiceSnapshots(t *testing.T) {
	engine := NewEngine(zerolog.Nop(), WithMinSamples(1))
	ctx := context.Background()

	k9, _ := stats.ServiceKey("laser-1", "svc-1", 9)
	k14, _ := stats.ServiceKey("laser-2", "svc-1", 14)
	other, _ := stats.ServiceKey("laser-1", "svc-2", 9)
	for _, key := range []stats.Key{k9, k14, other} {
		if _, err := engine.Observe(ctx, key, 1.0, 25); err != nil {
			t.Fatalf("observe error: %v", err)
		}
	}

	snapshots := engine.ServiceSnapshots(ctx, "svc-1")
	if len(snapshots) != 2 {
		t.Fatalf("expected 2 snapshots for svc-1, got %d", len(snapshots))
	}
	for _, snap := range snapshots {
		if snap.Key.ServiceID != "svc-1" {
			t.Fatalf("foreign key in service snapshots: %s", snap.Key)
		}
	}
}

func TestEngineReset(t *testing.T) {
	engine := NewEngine(zerolog.Nop(), WithMinSamples(1))
	ctx := context.Background()
	key := serviceKey(t)

	if _, err := engine.Observe(ctx, key, 1.0, 20); err != nil {
		t.Fatalf("observe error: %v", err)
	}
	if err := engine.Reset(ctx, key); err != nil {
		t.Fatalf("reset error: %v", err)
	}
	if _, err := engine.Lookup(ctx, key); !errors.Is(err, stats.ErrNoBaseline) {
		t.Fatalf("expected ErrNoBaseline after reset, got %v", err)
	}
}
