package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	devsync "plugwatch/internal/devices/application"
	"plugwatch/internal/observability/metrics"
	sessions "plugwatch/internal/sessions/domain"
)

// Publisher hands closed sessions to the scoring pipeline.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// Archive persists closed sessions for audit.
type Archive interface {
	Insert(ctx context.Context, session sessions.Session) error
}

// Commander controls the physical relay. Auto-shutdown asks it to switch a
// device off; failures are logged, never fatal.
type Commander interface {
	SwitchOff(ctx context.Context, deviceID string) error
}

// CeilingProvider supplies per-equipment energy ceilings in kWh. A ceiling
// of 0 disables auto-shutdown for that equipment.
type CeilingProvider interface {
	CeilingFor(equipmentID string) float64
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Manager owns the in-memory session table and the device→session binding.
// Terminal transitions are per-session atomic and idempotent: concurrent
// complete/abort races keep whichever transition wins; the loser is a no-op.
type Manager struct {
	mu       sync.Mutex
	byID     map[string]*entry
	byDevice map[string]string

	archive   Archive
	publisher Publisher
	commander Commander
	ceilings  CeilingProvider
	clock     Clock
	logger    zerolog.Logger
	newID     func() string
}

type entry struct {
	mu      sync.Mutex
	session *sessions.Session
}

// ManagerOption customizes the manager.
type ManagerOption func(*Manager)

// WithCommander assigns a relay commander.
func WithCommander(commander Commander) ManagerOption {
	return func(m *Manager) { m.commander = commander }
}

// WithClock assigns a clock.
func WithClock(clock Clock) ManagerOption {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithIDFactory overrides session id generation.
func WithIDFactory(factory func() string) ManagerOption {
	return func(m *Manager) {
		if factory != nil {
			m.newID = factory
		}
	}
}

// NewManager constructs a session manager.
func NewManager(archive Archive, publisher Publisher, ceilings CeilingProvider, logger zerolog.Logger, opts ...ManagerOption) (*Manager, error) {
	if archive == nil {
		return nil, errors.New("sessions: nil archive")
	}
	if publisher == nil {
		return nil, errors.New("sessions: nil publisher")
	}
	if ceilings == nil {
		return nil, errors.New("sessions: nil ceiling provider")
	}
	m := &Manager{
		byID:      make(map[string]*entry),
		byDevice:  make(map[string]string),
		archive:   archive,
		publisher: publisher,
		ceilings:  ceilings,
		clock:     systemClock{},
		logger:    logger,
		newID:     func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Assign binds a device to a service occurrence. Fails with ErrDeviceBusy
// while the device holds an open session.
func (m *Manager) Assign(_ context.Context, deviceID string, occ sessions.Occurrence) (sessions.Session, error) {
	if err := occ.Validate(); err != nil {
		return sessions.Session{}, err
	}
	if deviceID == "" {
		return sessions.Session{}, sessions.ErrInvalidOccurrence
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existingID, ok := m.byDevice[deviceID]; ok {
		if ent, found := m.byID[existingID]; found && !ent.session.Closed() {
			return sessions.Session{}, sessions.ErrDeviceBusy
		}
	}
	session, err := sessions.New(m.newID(), deviceID, occ, m.clock.Now())
	if err != nil {
		return sessions.Session{}, err
	}
	m.byID[session.ID] = &entry{session: session}
	m.byDevice[deviceID] = session.ID
	metrics.IncSessionEvent("assigned")
	m.logger.Info().
		Str("session_id", session.ID).
		Str("device_id", deviceID).
		Str("occurrence_id", occ.ID).
		Msg("session assigned")
	return *session, nil
}

// Activate transitions a session to ACTIVE. Usually driven by the relay-on
// change from the synchronizer, but exposed for manual control too.
func (m *Manager) Activate(_ context.Context, sessionID string) error {
	ent, err := m.entryFor(sessionID)
	if err != nil {
		return err
	}
	ent.mu.Lock()
	if err := ent.session.Activate(0, m.clock.Now()); err != nil {
		ent.mu.Unlock()
		return err
	}
	ent.mu.Unlock()
	metrics.IncSessionEvent("activated")
	m.refreshActiveGauge()
	return nil
}

// Complete closes a session normally. A second close attempt is a no-op.
func (m *Manager) Complete(ctx context.Context, sessionID string) (sessions.Session, error) {
	return m.close(ctx, sessionID, func(s *sessions.Session, now time.Time) error {
		return s.Complete(now, false)
	})
}

// Abort closes a session abnormally. A second close attempt is a no-op.
func (m *Manager) Abort(ctx context.Context, sessionID, reason string) (sessions.Session, error) {
	return m.close(ctx, sessionID, func(s *sessions.Session, now time.Time) error {
		return s.Abort(reason, now)
	})
}

// Get returns a snapshot of one session.
func (m *Manager) Get(sessionID string) (sessions.Session, error) {
	ent, err := m.entryFor(sessionID)
	if err != nil {
		return sessions.Session{}, err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return *ent.session, nil
}

// ByOccurrence returns snapshots of sessions bound to an occurrence.
func (m *Manager) ByOccurrence(occurrenceID string) []sessions.Session {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.byID))
	for _, ent := range m.byID {
		entries = append(entries, ent)
	}
	m.mu.Unlock()

	var result []sessions.Session
	for _, ent := range entries {
		ent.mu.Lock()
		if ent.session.Occurrence.ID == occurrenceID {
			result = append(result, *ent.session)
		}
		ent.mu.Unlock()
	}
	return result
}

// Run consumes synchronizer changes until the context is done. Relay-on
// activates the assigned session, samples accumulate, offline aborts, and
// the energy ceiling forces completion.
func (m *Manager) Run(ctx context.Context, changes <-chan devsync.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			m.handleChange(ctx, change)
		}
	}
}

func (m *Manager) handleChange(ctx context.Context, change devsync.Change) {
	m.mu.Lock()
	sessionID, ok := m.byDevice[change.Device.ID]
	var ent *entry
	if ok {
		ent = m.byID[sessionID]
	}
	m.mu.Unlock()
	if ent == nil {
		return
	}

	ent.mu.Lock()
	session := ent.session
	switch {
	case session.Closed():
		ent.mu.Unlock()
		return
	case !change.Device.Online:
		ent.mu.Unlock()
		if _, err := m.Abort(ctx, session.ID, "device offline"); err != nil && !errors.Is(err, sessions.ErrAlreadyClosed) {
			m.logger.Error().Err(err).Str("session_id", session.ID).Msg("offline abort failed")
		}
		return
	case session.Status == sessions.StatusAssigned && change.Device.RelayOn:
		if err := session.Activate(change.Device.PowerW, change.At); err != nil {
			m.logger.Error().Err(err).Str("session_id", session.ID).Msg("activation failed")
			ent.mu.Unlock()
			return
		}
		metrics.IncSessionEvent("activated")
		ent.mu.Unlock()
		m.refreshActiveGauge()
		m.logger.Info().Str("session_id", session.ID).Msg("session activated by relay")
		return
	case session.Status == sessions.StatusActive:
		if err := session.ObserveSample(change.Device.PowerW, change.Device.RelayOn, change.At); err != nil {
			ent.mu.Unlock()
			return
		}
		ceiling := m.ceilings.CeilingFor(session.Occurrence.EquipmentID)
		over := ceiling > 0 && session.EnergyKWh > ceiling
		sessionID, deviceID := session.ID, session.DeviceID
		ent.mu.Unlock()
		if over {
			m.forceShutdown(ctx, sessionID, deviceID)
		}
		return
	default:
		ent.mu.Unlock()
	}
}

func (m *Manager) forceShutdown(ctx context.Context, sessionID, deviceID string) {
	_, err := m.close(ctx, sessionID, func(s *sessions.Session, now time.Time) error {
		return s.Complete(now, true)
	})
	if err != nil && !errors.Is(err, sessions.ErrAlreadyClosed) {
		m.logger.Error().Err(err).Str("session_id", sessionID).Msg("forced completion failed")
		return
	}
	metrics.IncAutoShutdown()
	m.logger.Warn().
		Str("session_id", sessionID).
		Str("device_id", deviceID).
		Msg("energy ceiling exceeded, session force-completed")
	if m.commander != nil {
		if err := m.commander.SwitchOff(ctx, deviceID); err != nil {
			m.logger.Error().Err(err).Str("device_id", deviceID).Msg("relay switch-off failed")
		}
	}
}

func (m *Manager) close(ctx context.Context, sessionID string, transition func(*sessions.Session, time.Time) error) (sessions.Session, error) {
	ent, err := m.entryFor(sessionID)
	if err != nil {
		return sessions.Session{}, err
	}

	ent.mu.Lock()
	if ent.session.Closed() {
		frozen := *ent.session
		ent.mu.Unlock()
		return frozen, nil
	}
	now := m.clock.Now()
	if err := transition(ent.session, now); err != nil {
		ent.mu.Unlock()
		return sessions.Session{}, err
	}
	frozen := *ent.session
	ent.mu.Unlock()

	m.mu.Lock()
	if m.byDevice[frozen.DeviceID] == frozen.ID {
		delete(m.byDevice, frozen.DeviceID)
	}
	m.mu.Unlock()

	switch frozen.Status {
	case sessions.StatusCompleted:
		metrics.IncSessionEvent("completed")
	case sessions.StatusAborted:
		metrics.IncSessionEvent("aborted")
	}
	m.refreshActiveGauge()

	if err := m.archive.Insert(ctx, frozen); err != nil {
		m.logger.Error().Err(err).Str("session_id", frozen.ID).Msg("session archive failed")
	}
	if err := m.publisher.Publish(ctx, SessionClosed{Session: frozen, ClosedAt: now}); err != nil {
		m.logger.Error().Err(err).Str("session_id", frozen.ID).Msg("session close publish failed")
	}
	return frozen, nil
}

func (m *Manager) entryFor(sessionID string) (*entry, error) {
	if sessionID == "" {
		return nil, sessions.ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ent, ok := m.byID[sessionID]
	if !ok {
		return nil, sessions.ErrNotFound
	}
	return ent, nil
}

func (m *Manager) refreshActiveGauge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	active := 0
	for _, ent := range m.byID {
		ent.mu.Lock()
		if ent.session.Status == sessions.StatusActive {
			active++
		}
		ent.mu.Unlock()
	}
	metrics.SetActiveSessions(active)
}
