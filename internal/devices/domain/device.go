package devices

import (
	"errors"
	"time"
)

var (
	// ErrUnknownDevice is returned when a device has never reported state.
	ErrUnknownDevice = errors.New("devices: unknown device")
	// ErrStaleEvent marks an event older than the last applied one.
	ErrStaleEvent = errors.New("devices: stale event")
	// ErrEmptyDeviceID is returned when an event carries no device id.
	ErrEmptyDeviceID = errors.New("devices: empty device id")
	// ErrInvalidTimestamp is returned when an event carries a zero timestamp.
	ErrInvalidTimestamp = errors.New("devices: invalid timestamp")
)

// Device is the current believed state of a metered plug. It is owned by the
// synchronizer and mutated only through applied events.
type Device struct {
	ID          string    `json:"id"`
	Online      bool      `json:"online"`
	RelayOn     bool      `json:"relay_on"`
	PowerW      float64   `json:"power_w"`
	Voltage     *float64  `json:"voltage,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	LastSeen    time.Time `json:"last_seen"`
}

// Event is a typed device-state event. The variant set is closed: everything
// crossing the ingestion boundary is parsed into one of these before any
// internal logic sees it.
type Event interface {
	Device() string
	At() time.Time
	Validate() error

	isDeviceEvent()
}

// PowerSample reports a live reading from an online device. It carries the
// full observable state so applying samples is order-independent under the
// newest-wins rule.
type PowerSample struct {
	DeviceID    string
	RelayOn     bool
	PowerW      float64
	Voltage     *float64
	Temperature *float64
	Timestamp   time.Time
}

// WentOffline reports an explicit or inferred disconnect.
type WentOffline struct {
	DeviceID  string
	Reason    string
	Timestamp time.Time
}

// Device returns the reporting device id.
func (e PowerSample) Device() string { return e.DeviceID }

// At returns the event timestamp.
func (e PowerSample) At() time.Time { return e.Timestamp }

// Validate checks required fields.
func (e PowerSample) Validate() error {
	if e.DeviceID == "" {
		return ErrEmptyDeviceID
	}
	if e.Timestamp.IsZero() {
		return ErrInvalidTimestamp
	}
	return nil
}

func (PowerSample) isDeviceEvent() {}

// Device returns the reporting device id.
func (e WentOffline) Device() string { return e.DeviceID }

// At returns the event timestamp.
func (e WentOffline) At() time.Time { return e.Timestamp }

// Validate checks required fields.
func (e WentOffline) Validate() error {
	if e.DeviceID == "" {
		return ErrEmptyDeviceID
	}
	if e.Timestamp.IsZero() {
		return ErrInvalidTimestamp
	}
	return nil
}

func (WentOffline) isDeviceEvent() {}

// Apply folds an event into the device record. Events at or before LastSeen
// are rejected with ErrStaleEvent so re-ordered delivery never rolls state
// back. The returned bool reports whether observable state actually changed.
func (d *Device) Apply(event Event) (bool, error) {
	if err := event.Validate(); err != nil {
		return false, err
	}
	if !event.At().After(d.LastSeen) && !d.LastSeen.IsZero() {
		return false, ErrStaleEvent
	}

	changed := false
	switch e := event.(type) {
	case PowerSample:
		if !d.Online || d.RelayOn != e.RelayOn || d.PowerW != e.PowerW {
			changed = true
		}
		d.Online = true
		d.RelayOn = e.RelayOn
		d.PowerW = e.PowerW
		d.Voltage = e.Voltage
		d.Temperature = e.Temperature
	case WentOffline:
		if d.Online || d.RelayOn || d.PowerW != 0 {
			changed = true
		}
		d.Online = false
		d.RelayOn = false
		d.PowerW = 0
	default:
		return false, errors.New("devices: unsupported event type")
	}
	d.LastSeen = event.At().UTC()
	return changed, nil
}
