package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "plugwatch_"

var (
	registerOnce sync.Once

	telemetryApplied prometheus.Counter
	telemetryDropped *prometheus.CounterVec
	changeDropped    prometheus.Counter
	devicesStale     prometheus.Counter

	sessionEvents   *prometheus.CounterVec
	autoShutdowns   prometheus.Counter
	activeSessions  prometheus.Gauge
	scoringLatency  *prometheus.HistogramVec
	classifications *prometheus.CounterVec
	riskLevelMoves  *prometheus.CounterVec

	statObservations  prometheus.Counter
	calibrationsTotal *prometheus.CounterVec

	ingestRequests *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec
)

// Init registers metrics once. Safe to call from tests and main.
func Init() {
	registerOnce.Do(func() {
		telemetryApplied = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "telemetry_applied_total",
			Help: "Device events applied to the state table",
		})
		telemetryDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "telemetry_dropped_total",
			Help: "Device events dropped by reason",
		}, []string{"reason"})
		changeDropped = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "change_notifications_dropped_total",
			Help: "Change notifications dropped by full subscribers",
		})
		devicesStale = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "devices_marked_stale_total",
			Help: "Devices marked offline by the staleness sweeper",
		})

		sessionEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "session_events_total",
			Help: "Session lifecycle events by type",
		}, []string{"type"})
		autoShutdowns = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "auto_shutdowns_total",
			Help: "Sessions force-completed by the energy ceiling",
		})
		activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "active_sessions",
			Help: "Sessions currently in ACTIVE state",
		})

		scoringLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricPrefix + "scoring_latency_seconds",
			Help:    "Closed-session scoring latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"result"})
		classifications = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "classifications_total",
			Help: "Scored session classifications",
		}, []string{"class"})
		riskLevelMoves = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "risk_level_changes_total",
			Help: "Risk level transitions by subject kind and new level",
		}, []string{"kind", "level"})

		statObservations = prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "stat_observations_total",
			Help: "Samples folded into running statistics",
		})
		calibrationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "calibrations_total",
			Help: "Calibration proposals by result",
		}, []string{"result"})

		ingestRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "ingest_requests_total",
			Help: "HTTP ingest requests by result",
		}, []string{"result"})
		ingestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricPrefix + "ingest_latency_seconds",
			Help:    "HTTP ingest latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"result"})

		prometheus.MustRegister(
			telemetryApplied, telemetryDropped, changeDropped, devicesStale,
			sessionEvents, autoShutdowns, activeSessions,
			scoringLatency, classifications, riskLevelMoves,
			statObservations, calibrationsTotal,
			ingestRequests, ingestLatency,
		)
	})
}

// IncTelemetryApplied counts an applied device event.
func IncTelemetryApplied() {
	if telemetryApplied != nil {
		telemetryApplied.Inc()
	}
}

// IncTelemetryDropped counts a dropped device event.
func IncTelemetryDropped(reason string) {
	if telemetryDropped != nil {
		telemetryDropped.WithLabelValues(reason).Inc()
	}
}

// IncChangeDropped counts a change notification dropped by a slow subscriber.
func IncChangeDropped() {
	if changeDropped != nil {
		changeDropped.Inc()
	}
}

// IncDeviceStale counts a device swept offline.
func IncDeviceStale() {
	if devicesStale != nil {
		devicesStale.Inc()
	}
}

// IncSessionEvent counts a session lifecycle event.
func IncSessionEvent(eventType string) {
	if sessionEvents != nil {
		sessionEvents.WithLabelValues(eventType).Inc()
	}
}

// IncAutoShutdown counts a forced completion.
func IncAutoShutdown() {
	if autoShutdowns != nil {
		autoShutdowns.Inc()
	}
}

// SetActiveSessions sets the active session gauge.
func SetActiveSessions(n int) {
	if activeSessions != nil {
		activeSessions.Set(float64(n))
	}
}

// ObserveScoring records scoring latency.
func ObserveScoring(result string, elapsed time.Duration) {
	if scoringLatency != nil {
		scoringLatency.WithLabelValues(result).Observe(elapsed.Seconds())
	}
}

// IncClassification counts a classification outcome.
func IncClassification(class string) {
	if classifications != nil {
		classifications.WithLabelValues(class).Inc()
	}
}

// IncRiskLevelChange counts a risk level transition.
func IncRiskLevelChange(kind, level string) {
	if riskLevelMoves != nil {
		riskLevelMoves.WithLabelValues(kind, level).Inc()
	}
}

// IncStatObservation counts a statistics sample.
func IncStatObservation() {
	if statObservations != nil {
		statObservations.Inc()
	}
}

// IncCalibration counts a calibration proposal result.
func IncCalibration(result string) {
	if calibrationsTotal != nil {
		calibrationsTotal.WithLabelValues(result).Inc()
	}
}

// ObserveIngest records an HTTP ingest request.
func ObserveIngest(result string, elapsed time.Duration) {
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(elapsed.Seconds())
	}
}
