package auth

import (
	"net/http"
	"strings"
)

// Middleware authenticates staff tokens and enforces the route policy.
// Tokens minted for another clinic are rejected even when the role would
// fit: one deployment serves one clinic.
type Middleware struct {
	secret   []byte
	clinicID string
	policy   Policy
}

// NewMiddleware constructs the staff auth middleware. clinicID may be empty
// to skip clinic pinning in single-tenant development setups.
func NewMiddleware(secret []byte, clinicID string, policy Policy) *Middleware {
	return &Middleware{secret: secret, clinicID: clinicID, policy: policy}
}

// Wrap applies token validation and role enforcement to the handler.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}
		required, ok := m.policy.RequiredRole(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		identity, err := ParseStaffToken(bearerToken(r), m.secret)
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if m.clinicID != "" && identity.ClinicID != m.clinicID {
			writeAuthError(w, http.StatusForbidden, "wrong clinic")
			return
		}
		if !identity.Role.Allows(required) {
			writeAuthError(w, http.StatusForbidden, "insufficient role")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

func bearerToken(r *http.Request) string {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + message + `"}`))
}
