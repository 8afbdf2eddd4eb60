package stats

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"
)

func batchMeanVariance(samples []float64) (float64, float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range samples {
		sum += x
	}
	mean := sum / float64(len(samples))
	var sq float64
	for _, x := range samples {
		sq += (x - mean) * (x - mean)
	}
	return mean, sq / float64(len(samples))
}

func TestWelfordMatchesBatch(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	samples := make([]float64, 500)
	var w Welford
	for i := range samples {
		samples[i] = 0.2 + rng.Float64()*4.5
		w.Add(samples[i])
	}

	mean, variance := batchMeanVariance(samples)
	if math.Abs(w.Mean-mean) > 1e-9 {
		t.Fatalf("mean diverged: online %v batch %v", w.Mean, mean)
	}
	if math.Abs(w.Variance()-variance) > 1e-9 {
		t.Fatalf("variance diverged: online %v batch %v", w.Variance(), variance)
	}
}

func TestWelfordMerge(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var all []float64
	var a, b Welford
	for i := 0; i < 300; i++ {
		x := rng.NormFloat64()*2 + 10
		all = append(all, x)
		if i%2 == 0 {
			a.Add(x)
		} else {
			b.Add(x)
		}
	}
	a.Merge(b)

	mean, variance := batchMeanVariance(all)
	if a.Count != int64(len(all)) {
		t.Fatalf("merged count %d, want %d", a.Count, len(all))
	}
	if math.Abs(a.Mean-mean) > 1e-9 || math.Abs(a.Variance()-variance) > 1e-9 {
		t.Fatalf("merge diverged: mean %v/%v variance %v/%v", a.Mean, mean, a.Variance(), variance)
	}
}

func TestWelfordMerge_EmptySides(t *testing.T) {
	var a, b Welford
	b.Add(3)
	b.Add(5)
	a.Merge(b)
	if a.Count != 2 || a.Mean != 4 {
		t.Fatalf("merge into empty diverged: %+v", a)
	}
	var empty Welford
	a.Merge(empty)
	if a.Count != 2 || a.Mean != 4 {
		t.Fatalf("merging empty must be a no-op: %+v", a)
	}
}

func TestWelfordConstantSamples(t *testing.T) {
	var w Welford
	for i := 0; i < 5; i++ {
		w.Add(20)
	}
	if w.Mean != 20 || w.StdDev() != 0 {
		t.Fatalf("constant samples: mean %v stddev %v", w.Mean, w.StdDev())
	}
}

func TestServiceKeyDeterministic(t *testing.T) {
	k1, err := ServiceKey("laser-1", "svc-1", 14)
	if err != nil {
		t.Fatalf("key error: %v", err)
	}
	k2, _ := ServiceKey("laser-1", "svc-1", 14)
	if k1.String() != k2.String() {
		t.Fatalf("service key unstable: %s vs %s", k1, k2)
	}
	if _, err := ServiceKey("laser-1", "svc-1", 24); !errors.Is(err, ErrInvalidHour) {
		t.Fatalf("expected ErrInvalidHour, got %v", err)
	}
}

func TestCombinationKeyOrderInsensitive(t *testing.T) {
	k1, err := CombinationKey([]string{"svc-b", "svc-a"}, 9)
	if err != nil {
		t.Fatalf("key error: %v", err)
	}
	k2, err := CombinationKey([]string{"svc-a", "svc-b"}, 9)
	if err != nil {
		t.Fatalf("key error: %v", err)
	}
	if k1.String() != k2.String() {
		t.Fatalf("combination key must not depend on order: %s vs %s", k1, k2)
	}
	k3, _ := CombinationKey([]string{"svc-a", "svc-c"}, 9)
	if k1.String() == k3.String() {
		t.Fatalf("distinct sets must map to distinct keys")
	}
}

func TestHourBucketUTC(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	at := time.Date(2026, 3, 1, 22, 30, 0, 0, est)
	if got := HourBucket(at); got != 3 {
		t.Fatalf("expected UTC hour 3, got %d", got)
	}
}

func TestRunningStatAdd_RejectsNegatives(t *testing.T) {
	var stat RunningStat
	if err := stat.Add(-0.1, 10, time.Now()); !errors.Is(err, ErrNegativeSample) {
		t.Fatalf("expected ErrNegativeSample, got %v", err)
	}
}
