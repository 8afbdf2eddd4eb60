package sessions

import (
	"errors"
	"time"
)

var (
	// ErrDeviceBusy is returned when a device already holds an open session.
	ErrDeviceBusy = errors.New("sessions: device busy")
	// ErrNotFound is returned for unknown session ids.
	ErrNotFound = errors.New("sessions: not found")
	// ErrNotAssigned guards activation of sessions past ASSIGNED.
	ErrNotAssigned = errors.New("sessions: not in assigned state")
	// ErrNotActive guards accumulation on sessions that are not ACTIVE.
	ErrNotActive = errors.New("sessions: not in active state")
	// ErrAlreadyClosed marks a terminal session. Double closes resolve to a
	// no-op at the manager, never a failure.
	ErrAlreadyClosed = errors.New("sessions: already closed")
	// ErrInvalidOccurrence is returned for occurrences missing required fields.
	ErrInvalidOccurrence = errors.New("sessions: invalid occurrence")
)

// Status is a session lifecycle state. Transitions are monotonic:
// ASSIGNED → ACTIVE → {COMPLETED, ABORTED}.
type Status string

const (
	StatusAssigned  Status = "ASSIGNED"
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusAborted   Status = "ABORTED"
)

// Occurrence is the scheduling collaborator's metadata for one appointment
// slot. This engine never mutates scheduling state.
type Occurrence struct {
	ID             string    `json:"id"`
	CustomerID     string    `json:"customer_id"`
	OperatorID     string    `json:"operator_id"`
	EquipmentID    string    `json:"equipment_id"`
	ServiceIDs     []string  `json:"service_ids"`
	ScheduledStart time.Time `json:"scheduled_start"`
	ScheduledEnd   time.Time `json:"scheduled_end"`
}

// Validate checks required occurrence fields.
func (o Occurrence) Validate() error {
	if o.ID == "" || o.CustomerID == "" || o.OperatorID == "" || o.EquipmentID == "" {
		return ErrInvalidOccurrence
	}
	if len(o.ServiceIDs) == 0 {
		return ErrInvalidOccurrence
	}
	return nil
}

// Session binds one device to one service occurrence and carries the
// accumulated energy and active time for its lifetime.
type Session struct {
	ID         string     `json:"id"`
	DeviceID   string     `json:"device_id"`
	Occurrence Occurrence `json:"occurrence"`
	Status     Status     `json:"status"`

	AssignedAt time.Time `json:"assigned_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	EndedAt    time.Time `json:"ended_at,omitempty"`

	EnergyKWh    float64       `json:"energy_kwh"`
	ActiveFor    time.Duration `json:"active_for"`
	AutoShutdown bool          `json:"auto_shutdown"`
	AbortReason  string        `json:"abort_reason,omitempty"`

	// Trapezoidal integration state: the previous power sample.
	lastPowerW   float64
	lastSampleAt time.Time
	lastRelayOn  bool
}

// New creates a session in ASSIGNED state.
func New(id, deviceID string, occ Occurrence, at time.Time) (*Session, error) {
	if id == "" || deviceID == "" {
		return nil, ErrInvalidOccurrence
	}
	if err := occ.Validate(); err != nil {
		return nil, err
	}
	return &Session{
		ID:         id,
		DeviceID:   deviceID,
		Occurrence: occ,
		Status:     StatusAssigned,
		AssignedAt: at.UTC(),
	}, nil
}

// Closed reports whether the session reached a terminal state.
func (s *Session) Closed() bool {
	return s.Status == StatusCompleted || s.Status == StatusAborted
}

// Activate transitions ASSIGNED → ACTIVE. Accumulation starts here.
func (s *Session) Activate(powerW float64, at time.Time) error {
	if s.Closed() {
		return ErrAlreadyClosed
	}
	if s.Status != StatusAssigned {
		return ErrNotAssigned
	}
	s.Status = StatusActive
	s.StartedAt = at.UTC()
	s.lastPowerW = powerW
	s.lastSampleAt = at.UTC()
	s.lastRelayOn = true
	return nil
}

// ObserveSample integrates one synchronizer update into the accumulated
// totals: energy is the trapezoid of the two most recent power samples over
// their timestamp delta, active time advances while the relay was on.
func (s *Session) ObserveSample(powerW float64, relayOn bool, at time.Time) error {
	if s.Closed() {
		return ErrAlreadyClosed
	}
	if s.Status != StatusActive {
		return ErrNotActive
	}
	at = at.UTC()
	dt := at.Sub(s.lastSampleAt)
	if dt <= 0 {
		return nil
	}
	if s.lastRelayOn {
		avgW := (s.lastPowerW + powerW) / 2
		s.EnergyKWh += avgW * dt.Hours() / 1000
		s.ActiveFor += dt
	}
	s.lastPowerW = powerW
	s.lastSampleAt = at
	s.lastRelayOn = relayOn
	return nil
}

// Complete transitions ACTIVE → COMPLETED and freezes the totals.
func (s *Session) Complete(at time.Time, autoShutdown bool) error {
	if s.Closed() {
		return ErrAlreadyClosed
	}
	if s.Status != StatusActive {
		return ErrNotActive
	}
	at = at.UTC()
	s.settle(at)
	s.Status = StatusCompleted
	s.EndedAt = at
	s.AutoShutdown = autoShutdown
	return nil
}

// Abort transitions ASSIGNED/ACTIVE → ABORTED and freezes the totals.
// Aborted sessions stay in the audit trail but never feed statistics.
func (s *Session) Abort(reason string, at time.Time) error {
	if s.Closed() {
		return ErrAlreadyClosed
	}
	at = at.UTC()
	s.settle(at)
	s.Status = StatusAborted
	s.AbortReason = reason
	s.EndedAt = at
	return nil
}

// settle folds the span from the last observed sample to the close time
// into the totals. Change notifications only arrive on actual change, so a
// session closed under steady draw has an open interval the samples never
// covered.
func (s *Session) settle(at time.Time) {
	if s.Status != StatusActive || !s.lastRelayOn {
		return
	}
	dt := at.Sub(s.lastSampleAt)
	if dt <= 0 {
		return
	}
	s.EnergyKWh += s.lastPowerW * dt.Hours() / 1000
	s.ActiveFor += dt
	s.lastSampleAt = at
}

// ActiveMinutes returns the accumulated active time in minutes.
func (s *Session) ActiveMinutes() float64 {
	return s.ActiveFor.Minutes()
}
