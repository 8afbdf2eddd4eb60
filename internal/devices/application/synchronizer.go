package application

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	devices "plugwatch/internal/devices/domain"
	"plugwatch/internal/observability/metrics"
)

const defaultShardCount = 32

// Change is emitted when a device's observable state actually changed.
type Change struct {
	Device   devices.Device
	Previous devices.Device
	At       time.Time
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Synchronizer maintains the current believed state of every metered device.
// State is partitioned into shards keyed by device id so unrelated devices
// update in parallel while events for one device apply serially.
type Synchronizer struct {
	shards     []*shard
	staleAfter time.Duration
	clock      Clock
	logger     zerolog.Logger

	subMu sync.RWMutex
	subs  []chan Change
}

type shard struct {
	mu      sync.Mutex
	devices map[string]*devices.Device
}

// Option customizes the synchronizer.
type Option func(*Synchronizer)

// WithStaleAfter overrides the suspected-disconnect timeout.
func WithStaleAfter(timeout time.Duration) Option {
	return func(s *Synchronizer) {
		if timeout > 0 {
			s.staleAfter = timeout
		}
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(s *Synchronizer) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewSynchronizer constructs a synchronizer.
func NewSynchronizer(logger zerolog.Logger, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		shards:     make([]*shard, defaultShardCount),
		staleAfter: 90 * time.Second,
		clock:      systemClock{},
		logger:     logger,
	}
	for i := range s.shards {
		s.shards[i] = &shard{devices: make(map[string]*devices.Device)}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply folds one inbound event into device state. Stale events are dropped
// and counted; they are never surfaced to the caller as failures.
func (s *Synchronizer) Apply(ctx context.Context, event devices.Event) error {
	if err := event.Validate(); err != nil {
		metrics.IncTelemetryDropped("invalid")
		return err
	}

	sh := s.shardFor(event.Device())
	sh.mu.Lock()
	device, ok := sh.devices[event.Device()]
	if !ok {
		device = &devices.Device{ID: event.Device()}
		sh.devices[event.Device()] = device
	}
	previous := *device
	changed, err := device.Apply(event)
	current := *device
	sh.mu.Unlock()

	if err != nil {
		if errors.Is(err, devices.ErrStaleEvent) {
			metrics.IncTelemetryDropped("stale")
			s.logger.Debug().
				Str("device_id", event.Device()).
				Time("event_at", event.At()).
				Msg("dropped out-of-order telemetry")
			return nil
		}
		metrics.IncTelemetryDropped("invalid")
		return err
	}

	metrics.IncTelemetryApplied()
	if changed {
		s.notify(ctx, Change{Device: current, Previous: previous, At: event.At().UTC()})
	}
	return nil
}

// Get returns a snapshot of the device's current state.
func (s *Synchronizer) Get(deviceID string) (devices.Device, error) {
	if deviceID == "" {
		return devices.Device{}, devices.ErrEmptyDeviceID
	}
	sh := s.shardFor(deviceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	device, ok := sh.devices[deviceID]
	if !ok {
		return devices.Device{}, devices.ErrUnknownDevice
	}
	return *device, nil
}

// Subscribe registers a change channel. Delivery is best-effort: a full
// subscriber drops the notification and the drop is counted, so slow
// consumers never backpressure live telemetry.
func (s *Synchronizer) Subscribe(buffer int) <-chan Change {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Change, buffer)
	s.subMu.Lock()
	s.subs = append(s.subs, ch)
	s.subMu.Unlock()
	return ch
}

// SweepStale marks devices unheard within the timeout as offline and emits a
// synthetic disconnect change for each. Returns the affected device ids.
func (s *Synchronizer) SweepStale(ctx context.Context) []string {
	now := s.clock.Now()
	cutoff := now.Add(-s.staleAfter)

	var swept []string
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, device := range sh.devices {
			if !device.Online || device.LastSeen.After(cutoff) {
				continue
			}
			previous := *device
			device.Online = false
			device.RelayOn = false
			device.PowerW = 0
			swept = append(swept, id)
			metrics.IncDeviceStale()
			s.notify(ctx, Change{Device: *device, Previous: previous, At: now})
		}
		sh.mu.Unlock()
	}
	if len(swept) > 0 {
		s.logger.Warn().Strs("device_ids", swept).Msg("marked unresponsive devices offline")
	}
	return swept
}

// RunSweeper periodically sweeps stale devices until the context is done.
func (s *Synchronizer) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepStale(ctx)
		}
	}
}

func (s *Synchronizer) notify(_ context.Context, change Change) {
	s.subMu.RLock()
	subs := s.subs
	s.subMu.RUnlock()
	for _, ch := range subs {
		select {
		case ch <- change:
		default:
			metrics.IncChangeDropped()
		}
	}
}

func (s *Synchronizer) shardFor(deviceID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(deviceID))
	return s.shards[int(h.Sum32())%len(s.shards)]
}
