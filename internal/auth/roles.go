package auth

// Role is a clinic staff role. Grants form a strict ladder: everything the
// front desk may do, a practitioner may do, and the clinic admin may do all
// of it.
type Role string

const (
	// RoleReceptionist reads device, session, and catalog state at the
	// front desk.
	RoleReceptionist Role = "receptionist"
	// RolePractitioner additionally controls treatment sessions.
	RolePractitioner Role = "practitioner"
	// RoleClinicAdmin additionally manages the catalog, applies
	// calibrations, and exports risk reports.
	RoleClinicAdmin Role = "clinic_admin"
)

var roleLadder = map[Role]int{
	RoleReceptionist: 1,
	RolePractitioner: 2,
	RoleClinicAdmin:  3,
}

// ParseRole maps a token claim onto a known staff role.
func ParseRole(value string) (Role, bool) {
	role := Role(value)
	if _, ok := roleLadder[role]; !ok {
		return "", false
	}
	return role, true
}

// Allows reports whether the role covers everything required grants.
func (r Role) Allows(required Role) bool {
	need, ok := roleLadder[required]
	if !ok {
		return false
	}
	return roleLadder[r] >= need
}
