package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"plugwatch/internal/observability/metrics"
	stats "plugwatch/internal/stats/domain"
)

// Repository persists running statistics. The stored aggregates are a cache
// of derivable facts; the engine stays correct without one.
type Repository interface {
	Upsert(ctx context.Context, stat stats.RunningStat) error
	LoadAll(ctx context.Context) ([]stats.RunningStat, error)
	Delete(ctx context.Context, key stats.Key) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Engine maintains per-key running statistics with per-key exclusivity.
// Updates on distinct keys proceed in parallel.
type Engine struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	repo       Repository
	minSamples int
	clock      Clock
	logger     zerolog.Logger
}

type entry struct {
	mu   sync.Mutex
	stat stats.RunningStat
}

// EngineOption customizes the engine.
type EngineOption func(*Engine)

// WithRepository attaches a durable store.
func WithRepository(repo Repository) EngineOption {
	return func(e *Engine) { e.repo = repo }
}

// WithMinSamples overrides the baseline reliability floor.
func WithMinSamples(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.minSamples = n
		}
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) EngineOption {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// NewEngine constructs a statistics engine.
func NewEngine(logger zerolog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		entries:    make(map[string]*entry),
		minSamples: 5,
		clock:      systemClock{},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MinSamples returns the configured reliability floor.
func (e *Engine) MinSamples() int { return e.minSamples }

// Load warms the engine from the durable store.
func (e *Engine) Load(ctx context.Context) error {
	if e.repo == nil {
		return nil
	}
	loaded, err := e.repo.LoadAll(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	for _, stat := range loaded {
		e.entries[stat.Key.String()] = &entry{stat: stat}
	}
	e.mu.Unlock()
	e.logger.Info().Int("keys", len(loaded)).Msg("running statistics loaded")
	return nil
}

// Observe folds one sample into the key's aggregate and returns the snapshot
// as it stood BEFORE this sample. Callers compare a session against the
// returned snapshot so a sample never smooths itself into its own reference.
func (e *Engine) Observe(ctx context.Context, key stats.Key, energyKWh, minutes float64) (stats.Snapshot, error) {
	if err := key.Validate(); err != nil {
		return stats.Snapshot{}, err
	}

	ent := e.entryFor(key)
	ent.mu.Lock()
	before := ent.stat.Snapshot()
	if err := ent.stat.Add(energyKWh, minutes, e.clock.Now()); err != nil {
		ent.mu.Unlock()
		return stats.Snapshot{}, err
	}
	after := ent.stat
	ent.mu.Unlock()

	metrics.IncStatObservation()
	if e.repo != nil {
		if err := e.repo.Upsert(ctx, after); err != nil {
			e.logger.Error().Err(err).Str("key", key.String()).Msg("stat persistence failed")
		}
	}
	return before, nil
}

// Lookup returns the aggregate for a key. Keys that are unknown or below the
// reliability floor yield ErrNoBaseline rather than a fabricated value.
func (e *Engine) Lookup(_ context.Context, key stats.Key) (stats.Snapshot, error) {
	if err := key.Validate(); err != nil {
		return stats.Snapshot{}, err
	}
	e.mu.RLock()
	ent, ok := e.entries[key.String()]
	e.mu.RUnlock()
	if !ok {
		return stats.Snapshot{}, stats.ErrNoBaseline
	}
	ent.mu.Lock()
	snap := ent.stat.Snapshot()
	ent.mu.Unlock()
	if snap.EnergyKWh.Count < int64(e.minSamples) {
		return stats.Snapshot{}, stats.ErrNoBaseline
	}
	return snap, nil
}

// ServiceSnapshots returns every service-family aggregate for a service,
// across equipment and hour buckets. Callers combine them as needed.
func (e *Engine) ServiceSnapshots(_ context.Context, serviceID string) []stats.Snapshot {
	if serviceID == "" {
		return nil
	}
	e.mu.RLock()
	entries := make([]*entry, 0, len(e.entries))
	for _, ent := range e.entries {
		entries = append(entries, ent)
	}
	e.mu.RUnlock()

	var snaps []stats.Snapshot
	for _, ent := range entries {
		ent.mu.Lock()
		snap := ent.stat.Snapshot()
		ent.mu.Unlock()
		if snap.Key.Family == stats.FamilyService && snap.Key.ServiceID == serviceID {
			snaps = append(snaps, snap)
		}
	}
	return snaps
}

// Reset discards the aggregate for a key, in memory and in the store.
func (e *Engine) Reset(ctx context.Context, key stats.Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.entries, key.String())
	e.mu.Unlock()
	if e.repo == nil {
		return nil
	}
	err := e.repo.Delete(ctx, key)
	if err != nil && !errors.Is(err, stats.ErrNoBaseline) {
		return err
	}
	return nil
}

func (e *Engine) entryFor(key stats.Key) *entry {
	id := key.String()
	e.mu.RLock()
	ent, ok := e.entries[id]
	e.mu.RUnlock()
	if ok {
		return ent
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if ent, ok = e.entries[id]; ok {
		return ent
	}
	ent = &entry{stat: stats.RunningStat{Key: key}}
	e.entries[id] = ent
	return ent
}
