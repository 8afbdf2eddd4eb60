package application

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	risk "plugwatch/internal/risk/domain"
)

// Repository persists risk accumulators. Like running statistics they are
// rebuildable aggregates, so the store stays correct without one.
type Repository interface {
	Upsert(ctx context.Context, acc risk.Accumulator) error
	LoadAll(ctx context.Context) ([]risk.Accumulator, error)
}

// Store keeps per-subject accumulators with per-subject exclusivity.
type Store struct {
	mu       sync.RWMutex
	subjects map[string]*subjectEntry
	repo     Repository
	logger   zerolog.Logger
}

type subjectEntry struct {
	mu  sync.Mutex
	acc *risk.Accumulator
}

// NewStore constructs a risk store. repo may be nil for memory-only use.
func NewStore(repo Repository, logger zerolog.Logger) *Store {
	return &Store{
		subjects: make(map[string]*subjectEntry),
		repo:     repo,
		logger:   logger,
	}
}

// Load warms the store from the durable repository.
func (s *Store) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	loaded, err := s.repo.LoadAll(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	for i := range loaded {
		acc := loaded[i]
		s.subjects[subjectKey(acc.Kind, acc.SubjectID)] = &subjectEntry{acc: &acc}
	}
	s.mu.Unlock()
	s.logger.Info().Int("subjects", len(loaded)).Msg("risk accumulators loaded")
	return nil
}

// Mutate applies fn to the subject's accumulator under its lock, creating
// the accumulator on first use, and writes the result through to the
// repository. The returned copy is safe to retain.
func (s *Store) Mutate(ctx context.Context, kind risk.SubjectKind, subjectID string, fn func(*risk.Accumulator) error) (risk.Accumulator, error) {
	ent, err := s.entryFor(kind, subjectID)
	if err != nil {
		return risk.Accumulator{}, err
	}

	ent.mu.Lock()
	if err := fn(ent.acc); err != nil {
		ent.mu.Unlock()
		return risk.Accumulator{}, err
	}
	frozen := cloneAccumulator(*ent.acc)
	ent.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.Upsert(ctx, frozen); err != nil {
			s.logger.Error().Err(err).
				Str("kind", string(kind)).
				Str("subject_id", subjectID).
				Msg("risk persistence failed")
		}
	}
	return frozen, nil
}

// Get returns a decayed snapshot of one subject's accumulator.
func (s *Store) Get(_ context.Context, kind risk.SubjectKind, subjectID string, now time.Time, halfLife time.Duration) (risk.Accumulator, error) {
	if subjectID == "" {
		return risk.Accumulator{}, risk.ErrEmptySubject
	}
	if !kind.Valid() {
		return risk.Accumulator{}, risk.ErrInvalidKind
	}
	s.mu.RLock()
	ent, ok := s.subjects[subjectKey(kind, subjectID)]
	s.mu.RUnlock()
	if !ok {
		return risk.Accumulator{}, risk.ErrUnknownSubject
	}
	ent.mu.Lock()
	snapshot := cloneAccumulator(*ent.acc)
	ent.mu.Unlock()
	snapshot.Decay(now, halfLife)
	return snapshot, nil
}

// All returns decayed snapshots of every accumulator of one kind.
func (s *Store) All(_ context.Context, kind risk.SubjectKind, now time.Time, halfLife time.Duration) []risk.Accumulator {
	s.mu.RLock()
	entries := make([]*subjectEntry, 0, len(s.subjects))
	for _, ent := range s.subjects {
		entries = append(entries, ent)
	}
	s.mu.RUnlock()

	var result []risk.Accumulator
	for _, ent := range entries {
		ent.mu.Lock()
		snapshot := cloneAccumulator(*ent.acc)
		ent.mu.Unlock()
		if snapshot.Kind != kind {
			continue
		}
		snapshot.Decay(now, halfLife)
		result = append(result, snapshot)
	}
	return result
}

func (s *Store) entryFor(kind risk.SubjectKind, subjectID string) (*subjectEntry, error) {
	if subjectID == "" {
		return nil, risk.ErrEmptySubject
	}
	if !kind.Valid() {
		return nil, risk.ErrInvalidKind
	}
	key := subjectKey(kind, subjectID)
	s.mu.RLock()
	ent, ok := s.subjects[key]
	s.mu.RUnlock()
	if ok {
		return ent, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ent, ok = s.subjects[key]; ok {
		return ent, nil
	}
	acc, err := risk.NewAccumulator(kind, subjectID)
	if err != nil {
		return nil, err
	}
	ent = &subjectEntry{acc: acc}
	s.subjects[key] = ent
	return ent, nil
}

func subjectKey(kind risk.SubjectKind, subjectID string) string {
	return string(kind) + "|" + subjectID
}

func cloneAccumulator(acc risk.Accumulator) risk.Accumulator {
	counterparts := make(map[string]int64, len(acc.Counterparts))
	for id, count := range acc.Counterparts {
		counterparts[id] = count
	}
	acc.Counterparts = counterparts
	return acc
}
