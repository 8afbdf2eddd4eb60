package apihttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	calibrationapp "plugwatch/internal/calibration/application"
	catalog "plugwatch/internal/catalog/domain"
	devices "plugwatch/internal/devices/domain"
	ingest "plugwatch/internal/devices/interfaces/mqtt"
	"plugwatch/internal/observability/metrics"
	"plugwatch/internal/reports"
	risk "plugwatch/internal/risk/domain"
	sessions "plugwatch/internal/sessions/domain"
	stats "plugwatch/internal/stats/domain"
)

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]
	device, err := s.sync.Get(deviceID)
	if err != nil {
		if errors.Is(err, devices.ErrUnknownDevice) {
			http.Error(w, "device not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, device)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	event, err := ingest.ParseMessage("", body)
	if err != nil {
		metrics.ObserveIngest("decode_error", time.Since(start))
		http.Error(w, "invalid state payload", http.StatusBadRequest)
		return
	}
	if err := s.sync.Apply(r.Context(), event); err != nil {
		metrics.ObserveIngest("apply_error", time.Since(start))
		http.Error(w, "apply state event error", http.StatusInternalServerError)
		return
	}
	metrics.ObserveIngest("success", time.Since(start))
	w.WriteHeader(http.StatusAccepted)
}

type assignRequest struct {
	DeviceID   string              `json:"device_id"`
	Occurrence sessions.Occurrence `json:"occurrence"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	session, err := s.sessions.Assign(r.Context(), req.DeviceID, req.Occurrence)
	if err != nil {
		switch {
		case errors.Is(err, sessions.ErrDeviceBusy):
			http.Error(w, "device busy", http.StatusConflict)
		case errors.Is(err, sessions.ErrInvalidOccurrence):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, session)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, session)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	occurrenceID := r.URL.Query().Get("occurrence_id")
	if occurrenceID == "" {
		http.Error(w, "occurrence_id is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, s.sessions.ByOccurrence(occurrenceID))
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Activate(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Complete(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, session)
}

type abortRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	var req abortRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		req.Reason = "aborted by operator"
	}
	session, err := s.sessions.Abort(r.Context(), mux.Vars(r)["id"], req.Reason)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, session)
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sessions.ErrNotFound):
		http.Error(w, "session not found", http.StatusNotFound)
	case errors.Is(err, sessions.ErrNotAssigned), errors.Is(err, sessions.ErrNotActive):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

type statsResponse struct {
	Baseline         *stats.Snapshot `json:"baseline"`
	InsufficientData bool            `json:"insufficient_data,omitempty"`
}

// handleStatsLookup serves GET /api/v1/stats. A key below the reliability
// floor answers with insufficient_data rather than an error.
func (s *Server) handleStatsLookup(w http.ResponseWriter, r *http.Request) {
	key, err := statKeyFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	snapshot, err := s.engine.Lookup(r.Context(), key)
	if err != nil {
		if errors.Is(err, stats.ErrNoBaseline) {
			writeJSON(w, statsResponse{InsufficientData: true})
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, statsResponse{Baseline: &snapshot})
}

func statKeyFromQuery(r *http.Request) (stats.Key, error) {
	query := r.URL.Query()
	hour, err := strconv.Atoi(query.Get("hour"))
	if err != nil {
		return stats.Key{}, errors.New("hour is required")
	}
	if serviceIDs, ok := query["service_ids"]; ok && len(serviceIDs) > 1 {
		return stats.CombinationKey(serviceIDs, hour)
	}
	if combined := query.Get("service_ids"); combined != "" {
		return stats.CombinationKey(splitComma(combined), hour)
	}
	return stats.ServiceKey(query.Get("equipment_id"), query.Get("service_id"), hour)
}

func splitComma(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (s *Server) handleGetRisk(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	kind := risk.SubjectKind(vars["kind"])
	if !kind.Valid() {
		http.Error(w, "kind must be customer or operator", http.StatusBadRequest)
		return
	}
	acc, err := s.risk.Get(r.Context(), kind, vars["id"], time.Now().UTC(), s.halfLife)
	if err != nil {
		http.Error(w, "subject not found", http.StatusNotFound)
		return
	}
	resp := riskResponse{Accumulator: acc}
	if id, share, ok := acc.FavoredCounterpart(s.favoredShare); ok {
		resp.FavoredCounterpart = &favoredCounterpart{SubjectID: id, Share: share}
	}
	writeJSON(w, resp)
}

type riskResponse struct {
	risk.Accumulator
	FavoredCounterpart *favoredCounterpart `json:"favored_counterpart,omitempty"`
}

type favoredCounterpart struct {
	SubjectID string  `json:"subject_id"`
	Share     float64 `json:"share"`
}

type proposalResponse struct {
	Proposal         *calibrationapp.Proposal `json:"proposal"`
	InsufficientData bool                     `json:"insufficient_data,omitempty"`
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	serviceID := r.URL.Query().Get("service_id")
	if serviceID == "" {
		http.Error(w, "service_id is required", http.StatusBadRequest)
		return
	}
	proposal, err := s.advisor.ProposeDuration(r.Context(), serviceID)
	if err != nil {
		switch {
		case errors.Is(err, calibrationapp.ErrInsufficientData):
			writeJSON(w, proposalResponse{InsufficientData: true})
		case errors.Is(err, catalog.ErrNotFound):
			http.Error(w, "service not found", http.StatusNotFound)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, proposalResponse{Proposal: &proposal})
}

func (s *Server) handleApplyCalibration(w http.ResponseWriter, r *http.Request) {
	var proposal calibrationapp.Proposal
	if err := json.NewDecoder(r.Body).Decode(&proposal); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.advisor.ApplyCalibration(r.Context(), proposal); err != nil {
		switch {
		case errors.Is(err, calibrationapp.ErrInvariantViolation), errors.Is(err, catalog.ErrDurationInvariant):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, catalog.ErrNotFound):
			http.Error(w, "service not found", http.StatusNotFound)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	defs, err := s.catalog.List(r.Context())
	if err != nil {
		http.Error(w, "list services error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, defs)
}

func (s *Server) handleGetService(w http.ResponseWriter, r *http.Request) {
	def, err := s.catalog.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			http.Error(w, "service not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, def)
}

type durationsRequest struct {
	DurationMinutes          int `json:"duration_minutes"`
	TreatmentDurationMinutes int `json:"treatment_duration_minutes"`
}

func (s *Server) handleUpdateDurations(w http.ResponseWriter, r *http.Request) {
	var req durationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	def, err := s.catalog.UpdateDurations(r.Context(), mux.Vars(r)["id"], req.DurationMinutes, req.TreatmentDurationMinutes)
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			http.Error(w, "service not found", http.StatusNotFound)
		case errors.Is(err, catalog.ErrDurationInvariant), errors.Is(err, catalog.ErrInvalidDefinition):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, def)
}

func (s *Server) handleRiskXLSX(w http.ResponseWriter, r *http.Request) {
	report, err := s.riskReport(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	payload, err := reports.BuildRiskXLSX(report)
	if err != nil {
		http.Error(w, "build xlsx error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=risk-%s.xlsx", report.Kind))
	_, _ = w.Write(payload)
}

func (s *Server) handleRiskPDF(w http.ResponseWriter, r *http.Request) {
	report, err := s.riskReport(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	payload, err := reports.BuildRiskPDF(report)
	if err != nil {
		http.Error(w, "build pdf error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=risk-%s.pdf", report.Kind))
	_, _ = w.Write(payload)
}

func (s *Server) riskReport(r *http.Request) (reports.Report, error) {
	kind := risk.SubjectKind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = risk.SubjectCustomer
	}
	if !kind.Valid() {
		return reports.Report{}, errors.New("kind must be customer or operator")
	}
	now := time.Now().UTC()
	return reports.Report{
		Kind:        kind,
		GeneratedAt: now,
		Subjects:    s.risk.All(r.Context(), kind, now, s.halfLife),
	}, nil
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(value)
}
