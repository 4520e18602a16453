package auth

import "testing"

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role Role
		perm Permission
		want bool
	}{
		{RoleViewer, PermPlayoutRead, true},
		{RoleViewer, PermPlayoutOperate, false},
		{RoleViewer, PermRundownIngest, false},
		{RoleOperator, PermPlayoutRead, true},
		{RoleOperator, PermPlayoutOperate, true},
		{RoleOperator, PermRundownIngest, false},
		{RoleAdmin, PermPlayoutOperate, true},
		{RoleAdmin, PermRundownIngest, true},
		{"unknown", PermPlayoutRead, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.role)+"/"+string(tt.perm), func(t *testing.T) {
			if got := HasPermission(tt.role, tt.perm); got != tt.want {
				t.Errorf("HasPermission(%s, %s) = %v, want %v", tt.role, tt.perm, got, tt.want)
			}
		})
	}
}

func TestPermissionsForRole(t *testing.T) {
	perms := PermissionsForRole(RoleAdmin)
	if len(perms) != 3 {
		t.Fatalf("admin has %d permissions, want 3", len(perms))
	}
	perms[0] = "mutated"
	if !HasPermission(RoleAdmin, PermPlayoutRead) {
		t.Error("PermissionsForRole returned the shared slice")
	}
	if PermissionsForRole("nobody") != nil {
		t.Error("unknown role has permissions")
	}
}

func TestIsValidRole(t *testing.T) {
	for _, r := range ValidRoles {
		if !IsValidRole(r) {
			t.Errorf("IsValidRole(%s) = false", r)
		}
	}
	if IsValidRole("owner") || IsValidRole("") {
		t.Error("IsValidRole accepted an unknown role")
	}
}
