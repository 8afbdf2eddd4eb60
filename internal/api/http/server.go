package apihttp

import (
	"net/http"
	"time"

	gorillahandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"plugwatch/internal/auth"
	calibrationapp "plugwatch/internal/calibration/application"
	catalogapp "plugwatch/internal/catalog/application"
	devsync "plugwatch/internal/devices/application"
	riskapp "plugwatch/internal/risk/application"
	sessionapp "plugwatch/internal/sessions/application"
	statsapp "plugwatch/internal/stats/application"
)

// Server bundles the HTTP surface: query and control routes, the gateway
// ingest route, health and metrics.
type Server struct {
	sync     *devsync.Synchronizer
	sessions *sessionapp.Manager
	engine   *statsapp.Engine
	risk     *riskapp.Store
	advisor  *calibrationapp.Advisor
	catalog  *catalogapp.Service

	halfLife     time.Duration
	favoredShare float64
	logger       zerolog.Logger
}

// NewServer constructs a server.
func NewServer(
	sync *devsync.Synchronizer,
	sessions *sessionapp.Manager,
	engine *statsapp.Engine,
	risk *riskapp.Store,
	advisor *calibrationapp.Advisor,
	catalog *catalogapp.Service,
	halfLife time.Duration,
	favoredShare float64,
	logger zerolog.Logger,
) *Server {
	return &Server{
		sync:         sync,
		sessions:     sessions,
		engine:       engine,
		risk:         risk,
		advisor:      advisor,
		catalog:      catalog,
		halfLife:     halfLife,
		favoredShare: favoredShare,
		logger:       logger,
	}
}

// Router builds the route table with auth applied. The ingest route carries
// its own HMAC middleware instead of JWT auth.
func (s *Server) Router(authMW *auth.Middleware, gatewayMW *auth.GatewayAuth) http.Handler {
	router := mux.NewRouter()

	router.Handle("/healthz", http.HandlerFunc(s.handleHealth)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.Handle("/ingest/state", gatewayMW.Wrap(http.HandlerFunc(s.handleIngest))).Methods(http.MethodPost)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/devices/{id}", s.handleGetDevice).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/assign", s.handleAssign).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/activate", s.handleActivate).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/complete", s.handleComplete).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/abort", s.handleAbort).Methods(http.MethodPost)
	api.HandleFunc("/stats", s.handleStatsLookup).Methods(http.MethodGet)
	api.HandleFunc("/risk/{kind}/{id}", s.handleGetRisk).Methods(http.MethodGet)
	api.HandleFunc("/calibration/propose", s.handlePropose).Methods(http.MethodGet)
	api.HandleFunc("/calibration/apply", s.handleApplyCalibration).Methods(http.MethodPost)
	api.HandleFunc("/services", s.handleListServices).Methods(http.MethodGet)
	api.HandleFunc("/services/{id}", s.handleGetService).Methods(http.MethodGet)
	api.HandleFunc("/services/{id}/durations", s.handleUpdateDurations).Methods(http.MethodPut)
	api.HandleFunc("/reports/risk.xlsx", s.handleRiskXLSX).Methods(http.MethodGet)
	api.HandleFunc("/reports/risk.pdf", s.handleRiskPDF).Methods(http.MethodGet)

	handler := authMW.Wrap(router)
	handler = gorillahandlers.RecoveryHandler()(handler)
	handler = gorillahandlers.CombinedLoggingHandler(zerologWriter{s.logger}, handler)
	return handler
}

// zerologWriter adapts the access log stream onto the structured logger.
type zerologWriter struct {
	logger zerolog.Logger
}

func (w zerologWriter) Write(p []byte) (int, error) {
	w.logger.Info().Str("component", "http").Msg(string(trimNewline(p)))
	return len(p), nil
}

func trimNewline(p []byte) []byte {
	for len(p) > 0 && (p[len(p)-1] == '\n' || p[len(p)-1] == '\r') {
		p = p[:len(p)-1]
	}
	return p
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
