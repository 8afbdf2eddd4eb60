package stats

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNoBaseline is returned when a key has no usable baseline yet.
	ErrNoBaseline = errors.New("stats: no baseline")
	// ErrInvalidKey is returned for keys missing required parts.
	ErrInvalidKey = errors.New("stats: invalid key")
	// ErrInvalidHour is returned for hour buckets outside 0-23.
	ErrInvalidHour = errors.New("stats: invalid hour bucket")
	// ErrNegativeSample is returned when a sample value is negative.
	ErrNegativeSample = errors.New("stats: negative sample")
)

// Family distinguishes the two independent statistic families.
type Family string

const (
	// FamilyService keys stats by equipment + single service + hour bucket.
	FamilyService Family = "service"
	// FamilyCombination keys stats by a hash of the concurrent service set +
	// hour bucket, capturing profiles no single service explains.
	FamilyCombination Family = "combination"
)

// Key identifies one running statistic.
type Key struct {
	Family      Family
	EquipmentID string
	ServiceID   string
	Combination string
	Hour        int
}

// ServiceKey builds a service-family key.
func ServiceKey(equipmentID, serviceID string, hour int) (Key, error) {
	if equipmentID == "" || serviceID == "" {
		return Key{}, ErrInvalidKey
	}
	if hour < 0 || hour > 23 {
		return Key{}, ErrInvalidHour
	}
	return Key{Family: FamilyService, EquipmentID: equipmentID, ServiceID: serviceID, Hour: hour}, nil
}

// CombinationKey builds a combination-family key from the set of services
// sharing the appointment. The hash is order-insensitive.
func CombinationKey(serviceIDs []string, hour int) (Key, error) {
	if len(serviceIDs) == 0 {
		return Key{}, ErrInvalidKey
	}
	if hour < 0 || hour > 23 {
		return Key{}, ErrInvalidHour
	}
	sorted := append([]string(nil), serviceIDs...)
	sort.Strings(sorted)
	sum := sha1.Sum([]byte(strings.Join(sorted, "|")))
	return Key{Family: FamilyCombination, Combination: hex.EncodeToString(sum[:8]), Hour: hour}, nil
}

// String renders a deterministic storage key.
func (k Key) String() string {
	if k.Family == FamilyCombination {
		return fmt.Sprintf("combo:%s:h%02d", k.Combination, k.Hour)
	}
	return fmt.Sprintf("svc:%s:%s:h%02d", k.EquipmentID, k.ServiceID, k.Hour)
}

// Validate checks key completeness.
func (k Key) Validate() error {
	if k.Hour < 0 || k.Hour > 23 {
		return ErrInvalidHour
	}
	switch k.Family {
	case FamilyService:
		if k.EquipmentID == "" || k.ServiceID == "" {
			return ErrInvalidKey
		}
	case FamilyCombination:
		if k.Combination == "" {
			return ErrInvalidKey
		}
	default:
		return ErrInvalidKey
	}
	return nil
}

// HourBucket returns the 0-23 bucket for a timestamp.
func HourBucket(at time.Time) int {
	return at.UTC().Hour()
}

// Welford is an online mean/variance accumulator in count/mean/M2 form. It is
// numerically stable over long accumulation, unlike sum/sum-of-squares.
type Welford struct {
	Count int64   `json:"count"`
	Mean  float64 `json:"mean"`
	M2    float64 `json:"m2"`
}

// Add folds one sample into the accumulator.
func (w *Welford) Add(x float64) {
	w.Count++
	delta := x - w.Mean
	w.Mean += delta / float64(w.Count)
	delta2 := x - w.Mean
	w.M2 += delta * delta2
}

// Variance returns the population variance, 0 when empty.
func (w Welford) Variance() float64 {
	if w.Count == 0 {
		return 0
	}
	v := w.M2 / float64(w.Count)
	if v < 0 {
		return 0
	}
	return v
}

// StdDev returns the population standard deviation.
func (w Welford) StdDev() float64 {
	return math.Sqrt(w.Variance())
}

// Merge combines another accumulator into this one using the parallel
// variant of the update, so per-hour accumulators can be aggregated without
// raw samples.
func (w *Welford) Merge(other Welford) {
	if other.Count == 0 {
		return
	}
	if w.Count == 0 {
		*w = other
		return
	}
	na := float64(w.Count)
	nb := float64(other.Count)
	delta := other.Mean - w.Mean
	total := na + nb
	w.Mean += delta * nb / total
	w.M2 += other.M2 + delta*delta*na*nb/total
	w.Count += other.Count
}

// RunningStat is the per-key aggregate: energy and duration accumulators and
// the last update time. Mean is undefined while Count is 0.
type RunningStat struct {
	Key       Key
	EnergyKWh Welford
	Minutes   Welford
	UpdatedAt time.Time
}

// Add folds one closed-session sample into both accumulators.
func (r *RunningStat) Add(energyKWh, minutes float64, at time.Time) error {
	if energyKWh < 0 || minutes < 0 {
		return ErrNegativeSample
	}
	r.EnergyKWh.Add(energyKWh)
	r.Minutes.Add(minutes)
	r.UpdatedAt = at.UTC()
	return nil
}

// Snapshot is a read-only copy of a RunningStat.
type Snapshot struct {
	Key       Key
	EnergyKWh Welford
	Minutes   Welford
	UpdatedAt time.Time
}

// Snapshot copies the aggregate.
func (r RunningStat) Snapshot() Snapshot {
	return Snapshot{Key: r.Key, EnergyKWh: r.EnergyKWh, Minutes: r.Minutes, UpdatedAt: r.UpdatedAt}
}
