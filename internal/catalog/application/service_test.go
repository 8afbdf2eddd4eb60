package application

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	catalog "plugwatch/internal/catalog/domain"
	catalogmem "plugwatch/internal/catalog/infrastructure/memory"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	repo := catalogmem.NewRepository()
	if err := repo.Save(context.Background(), catalog.ServiceDefinition{
		ID:                       "svc-1",
		Name:                     "IPL full body",
		DurationMinutes:          45,
		TreatmentDurationMinutes: 30,
	}); err != nil {
		t.Fatalf("seed error: %v", err)
	}
	svc, err := NewService(repo, zerolog.Nop())
	if err != nil {
		t.Fatalf("setup error: %v", err)
	}
	return svc
}

func TestUpdateDurations(t *testing.T) {
	svc := newTestService(t)
	def, err := svc.UpdateDurations(context.Background(), "svc-1", 50, 35)
	if err != nil {
		t.Fatalf("update error: %v", err)
	}
	if def.DurationMinutes != 50 || def.TreatmentDurationMinutes != 35 {
		t.Fatalf("unexpected durations: %+v", def)
	}
}

func TestUpdateDurations_TreatmentRaisesTotal(t *testing.T) {
	svc := newTestService(t)
	// Treatment pushed past the current total drags the total with it.
	def, err := svc.UpdateDurations(context.Background(), "svc-1", 0, 60)
	if err != nil {
		t.Fatalf("update error: %v", err)
	}
	if def.TreatmentDurationMinutes != 60 || def.DurationMinutes != 60 {
		t.Fatalf("expected total raised to 60: %+v", def)
	}
}

func TestUpdateDurations_ZeroKeepsCurrent(t *testing.T) {
	svc := newTestService(t)
	def, err := svc.UpdateDurations(context.Background(), "svc-1", 0, 0)
	if err != nil {
		t.Fatalf("update error: %v", err)
	}
	if def.DurationMinutes != 45 || def.TreatmentDurationMinutes != 30 {
		t.Fatalf("zero inputs changed durations: %+v", def)
	}
}

func TestUpdateDurations_UnknownService(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.UpdateDurations(context.Background(), "svc-missing", 10, 5); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTreatmentMinutes(t *testing.T) {
	svc := newTestService(t)
	minutes, err := svc.TreatmentMinutes(context.Background(), "svc-1")
	if err != nil {
		t.Fatalf("lookup error: %v", err)
	}
	if minutes != 30 {
		t.Fatalf("expected 30, got %d", minutes)
	}
}
