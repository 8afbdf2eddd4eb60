package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret")

func mustToken(t *testing.T, clinicID string, role Role) string {
	t.Helper()
	claims := Claims{
		ClinicID: clinicID,
		Role:     string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "staff-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign error: %v", err)
	}
	return signed
}

func newTestMiddleware() *Middleware {
	policy := NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"})
	return NewMiddleware(testSecret, "clinic-1", policy)
}

func doRequest(t *testing.T, mw *Middleware, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_ExemptPaths(t *testing.T) {
	mw := newTestMiddleware()
	for _, path := range []string{"/healthz", "/metrics", "/ingest/state"} {
		rec := doRequest(t, mw, http.MethodGet, path, "")
		if rec.Code != http.StatusNoContent {
			t.Fatalf("%s: expected 204 without token, got %d", path, rec.Code)
		}
	}
}

func TestMiddleware_MissingToken(t *testing.T) {
	mw := newTestMiddleware()
	rec := doRequest(t, mw, http.MethodGet, "/api/v1/devices/plug-1", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_BadToken(t *testing.T) {
	mw := newTestMiddleware()
	rec := doRequest(t, mw, http.MethodGet, "/api/v1/devices/plug-1", "not-a-jwt")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_WrongSecret(t *testing.T) {
	mw := newTestMiddleware()
	claims := Claims{ClinicID: "clinic-1", Role: string(RoleClinicAdmin)}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("sign error: %v", err)
	}
	rec := doRequest(t, mw, http.MethodGet, "/api/v1/devices/plug-1", signed)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_WrongClinic(t *testing.T) {
	mw := newTestMiddleware()
	rec := doRequest(t, mw, http.MethodGet, "/api/v1/devices/plug-1",
		mustToken(t, "clinic-other", RoleClinicAdmin))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a token from another clinic, got %d", rec.Code)
	}
}

func TestMiddleware_RoleEnforcement(t *testing.T) {
	mw := newTestMiddleware()
	cases := []struct {
		name   string
		method string
		path   string
		role   Role
		want   int
	}{
		{"receptionist reads sessions", http.MethodGet, "/api/v1/sessions", RoleReceptionist, http.StatusNoContent},
		{"receptionist cannot assign", http.MethodPost, "/api/v1/sessions/assign", RoleReceptionist, http.StatusForbidden},
		{"practitioner assigns", http.MethodPost, "/api/v1/sessions/assign", RolePractitioner, http.StatusNoContent},
		{"practitioner cannot apply calibration", http.MethodPost, "/api/v1/calibration/apply", RolePractitioner, http.StatusForbidden},
		{"admin applies calibration", http.MethodPost, "/api/v1/calibration/apply", RoleClinicAdmin, http.StatusNoContent},
		{"practitioner proposes calibration", http.MethodGet, "/api/v1/calibration/propose", RolePractitioner, http.StatusNoContent},
		{"receptionist reads services", http.MethodGet, "/api/v1/services", RoleReceptionist, http.StatusNoContent},
		{"practitioner cannot update services", http.MethodPut, "/api/v1/services/svc-1", RolePractitioner, http.StatusForbidden},
		{"receptionist cannot export reports", http.MethodGet, "/api/v1/reports/risk.pdf", RoleReceptionist, http.StatusForbidden},
		{"admin exports reports", http.MethodGet, "/api/v1/reports/risk.pdf", RoleClinicAdmin, http.StatusNoContent},
		{"receptionist cannot read risk", http.MethodGet, "/api/v1/risk/customer/cust-1", RoleReceptionist, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, mw, tc.method, tc.path, mustToken(t, "clinic-1", tc.role))
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestMiddleware_ExpiredToken(t *testing.T) {
	mw := newTestMiddleware()
	claims := Claims{
		ClinicID: "clinic-1",
		Role:     string(RoleClinicAdmin),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign error: %v", err)
	}
	rec := doRequest(t, mw, http.MethodGet, "/api/v1/devices/plug-1", signed)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_UnknownRole(t *testing.T) {
	mw := newTestMiddleware()
	rec := doRequest(t, mw, http.MethodGet, "/api/v1/devices/plug-1",
		mustToken(t, "clinic-1", Role("janitor")))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown role, got %d", rec.Code)
	}
}

func TestMiddleware_IdentityInContext(t *testing.T) {
	mw := newTestMiddleware()
	var got Identity
	var found bool
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, found = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices/plug-1", nil)
	req.Header.Set("Authorization", "Bearer "+mustToken(t, "clinic-1", RoleReceptionist))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if !found {
		t.Fatalf("identity missing from context")
	}
	if got.ClinicID != "clinic-1" || got.StaffID != "staff-1" || got.Role != RoleReceptionist {
		t.Fatalf("unexpected identity: %+v", got)
	}
}
