package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	devices "plugwatch/internal/devices/domain"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

func TestSynchronizerApply_DropsStaleSilently(t *testing.T) {
	sync := NewSynchronizer(zerolog.Nop())
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if err := sync.Apply(ctx, devices.PowerSample{DeviceID: "plug-1", PowerW: 300, Timestamp: at}); err != nil {
		t.Fatalf("apply error: %v", err)
	}
	// Out-of-order telemetry is dropped, never surfaced as a failure.
	if err := sync.Apply(ctx, devices.PowerSample{DeviceID: "plug-1", PowerW: 900, Timestamp: at.Add(-time.Minute)}); err != nil {
		t.Fatalf("stale event must not error: %v", err)
	}

	device, err := sync.Get("plug-1")
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if device.PowerW != 300 {
		t.Fatalf("expected power 300, got %v", device.PowerW)
	}
}

func TestSynchronizerApply_InvalidEventErrors(t *testing.T) {
	sync := NewSynchronizer(zerolog.Nop())
	err := sync.Apply(context.Background(), devices.PowerSample{DeviceID: "", Timestamp: time.Now()})
	if !errors.Is(err, devices.ErrEmptyDeviceID) {
		t.Fatalf("expected ErrEmptyDeviceID, got %v", err)
	}
}

func TestSynchronizerGet_Unknown(t *testing.T) {
	sync := NewSynchronizer(zerolog.Nop())
	if _, err := sync.Get("plug-404"); !errors.Is(err, devices.ErrUnknownDevice) {
		t.Fatalf("expected ErrUnknownDevice, got %v", err)
	}
}

func TestSynchronizerSubscribe_ChangeOnly(t *testing.T) {
	sync := NewSynchronizer(zerolog.Nop())
	ctx := context.Background()
	changes := sync.Subscribe(8)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if err := sync.Apply(ctx, devices.PowerSample{DeviceID: "plug-1", RelayOn: true, PowerW: 500, Timestamp: at}); err != nil {
		t.Fatalf("apply error: %v", err)
	}
	// Same observable state: applied but no notification.
	if err := sync.Apply(ctx, devices.PowerSample{DeviceID: "plug-1", RelayOn: true, PowerW: 500, Timestamp: at.Add(time.Second)}); err != nil {
		t.Fatalf("apply error: %v", err)
	}
	if err := sync.Apply(ctx, devices.PowerSample{DeviceID: "plug-1", RelayOn: true, PowerW: 750, Timestamp: at.Add(2 * time.Second)}); err != nil {
		t.Fatalf("apply error: %v", err)
	}

	first := <-changes
	if first.Device.PowerW != 500 || first.Previous.Online {
		t.Fatalf("unexpected first change: %+v", first)
	}
	second := <-changes
	if second.Device.PowerW != 750 || second.Previous.PowerW != 500 {
		t.Fatalf("unexpected second change: %+v", second)
	}
	select {
	case change := <-changes:
		t.Fatalf("unexpected extra change: %+v", change)
	default:
	}
}

func TestSynchronizerSweepStale(t *testing.T) {
	clock := &fixedClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	sync := NewSynchronizer(zerolog.Nop(), WithStaleAfter(time.Minute), WithClock(clock))
	ctx := context.Background()
	changes := sync.Subscribe(8)

	if err := sync.Apply(ctx, devices.PowerSample{DeviceID: "plug-1", RelayOn: true, PowerW: 600, Timestamp: clock.now}); err != nil {
		t.Fatalf("apply error: %v", err)
	}
	if err := sync.Apply(ctx, devices.PowerSample{DeviceID: "plug-2", RelayOn: true, PowerW: 400, Timestamp: clock.now.Add(50 * time.Second)}); err != nil {
		t.Fatalf("apply error: %v", err)
	}
	<-changes
	<-changes

	clock.now = clock.now.Add(70 * time.Second)
	swept := sync.SweepStale(ctx)
	if len(swept) != 1 || swept[0] != "plug-1" {
		t.Fatalf("expected plug-1 swept, got %v", swept)
	}

	device, err := sync.Get("plug-1")
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if device.Online || device.RelayOn || device.PowerW != 0 {
		t.Fatalf("swept device should be offline: %+v", device)
	}
	change := <-changes
	if change.Device.ID != "plug-1" || change.Device.Online {
		t.Fatalf("expected synthetic disconnect change, got %+v", change)
	}

	// A second sweep finds nothing new.
	if swept := sync.SweepStale(ctx); len(swept) != 0 {
		t.Fatalf("expected no devices on second sweep, got %v", swept)
	}
}
