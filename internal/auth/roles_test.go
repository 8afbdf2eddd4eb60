package auth

import "testing"

func TestParseRole(t *testing.T) {
	for _, raw := range []string{"receptionist", "practitioner", "clinic_admin"} {
		if _, ok := ParseRole(raw); !ok {
			t.Fatalf("expected %q to parse", raw)
		}
	}
	if _, ok := ParseRole("superuser"); ok {
		t.Fatalf("expected unknown role to be rejected")
	}
}

func TestRoleAllows(t *testing.T) {
	cases := []struct {
		role     Role
		required Role
		want     bool
	}{
		{RoleReceptionist, RoleReceptionist, true},
		{RoleReceptionist, RolePractitioner, false},
		{RolePractitioner, RoleReceptionist, true},
		{RolePractitioner, RoleClinicAdmin, false},
		{RoleClinicAdmin, RolePractitioner, true},
		{RoleClinicAdmin, RoleClinicAdmin, true},
		{RoleClinicAdmin, Role("owner"), false},
	}
	for _, tc := range cases {
		if got := tc.role.Allows(tc.required); got != tc.want {
			t.Fatalf("%s allows %s: expected %v, got %v", tc.role, tc.required, tc.want, got)
		}
	}
}
