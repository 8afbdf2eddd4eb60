package auth

import (
	"net/http"
	"strings"
)

// Policy determines required roles by request.
type Policy struct {
	ExemptPaths    map[string]struct{}
	ExemptPrefixes []string
}

// NewDefaultPolicy builds a default policy with exemptions.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{ExemptPaths: set, ExemptPrefixes: exemptPrefixes}
}

// IsExempt returns true when a request should skip auth/RBAC.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	if _, ok := p.ExemptPaths[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.ExemptPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// RequiredRole resolves the required role for a request. Session control
// mutates treatment state, so it needs a practitioner; calibration
// application and report exports carry clinic-wide consequences and need the
// clinic admin.
func (p Policy) RequiredRole(r *http.Request) (Role, bool) {
	if r == nil {
		return "", false
	}
	path := r.URL.Path
	method := r.Method

	switch {
	case strings.HasPrefix(path, "/api/v1/sessions"):
		if method == http.MethodGet {
			return RoleReceptionist, true
		}
		return RolePractitioner, true
	case path == "/api/v1/calibration/apply":
		return RoleClinicAdmin, true
	case strings.HasPrefix(path, "/api/v1/calibration/"):
		return RolePractitioner, true
	case strings.HasPrefix(path, "/api/v1/services"):
		if method == http.MethodGet {
			return RoleReceptionist, true
		}
		return RoleClinicAdmin, true
	case strings.HasPrefix(path, "/api/v1/reports/"):
		return RoleClinicAdmin, true
	case strings.HasPrefix(path, "/api/v1/risk"):
		return RolePractitioner, true
	}

	if strings.HasPrefix(path, "/api/") {
		if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
			return RoleReceptionist, true
		}
		return RolePractitioner, true
	}
	return "", false
}
