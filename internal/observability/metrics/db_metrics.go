package metrics

import (
	"database/sql"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var registerDBOnce sync.Once

// InitDB registers gauges backed by table counts. Safe to call once after
// the schema exists; the gauges are evaluated lazily on scrape.
func InitDB(db *sql.DB, logger zerolog.Logger) {
	if db == nil {
		return
	}
	registerDBOnce.Do(func() {
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "archived_sessions",
				Help: "Sessions in the audit archive",
			},
			func() float64 {
				return queryCount(db, logger, "SELECT COUNT(*) FROM session_archive")
			},
		))

		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "risk_subjects",
				Help: "Subjects with persisted risk accumulators",
			},
			func() float64 {
				return queryCount(db, logger, "SELECT COUNT(*) FROM risk_accumulators")
			},
		))

		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "stat_keys",
				Help: "Persisted running statistic keys",
			},
			func() float64 {
				return queryCount(db, logger, "SELECT COUNT(*) FROM running_stats")
			},
		))
	})
}

func queryCount(db *sql.DB, logger zerolog.Logger, query string) float64 {
	var count float64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		logger.Warn().Err(err).Str("query", query).Msg("db metric query failed")
		return 0
	}
	return count
}
