package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "citizen create", role: RoleCitizen, action: ActionCreateIssue, allow: true},
		{name: "citizen upvote", role: RoleCitizen, action: ActionUpvote, allow: true},
		{name: "citizen assign", role: RoleCitizen, action: ActionAssign, allow: false},
		{name: "citizen resolve", role: RoleCitizen, action: ActionResolve, allow: false},
		{name: "citizen analytics", role: RoleCitizen, action: ActionViewAnalytics, allow: false},
		{name: "admin create", role: RoleAdmin, action: ActionCreateIssue, allow: false},
		{name: "admin resolve", role: RoleAdmin, action: ActionResolve, allow: true},
		{name: "admin assign", role: RoleAdmin, action: ActionAssign, allow: false},
		{name: "admin queue", role: RoleAdmin, action: ActionListQueue, allow: true},
		{name: "admin analytics", role: RoleAdmin, action: ActionViewAnalytics, allow: true},
		{name: "admin export", role: RoleAdmin, action: ActionExportReport, allow: true},
		{name: "superadmin assign", role: RoleSuperadmin, action: ActionAssign, allow: true},
		{name: "superadmin resolve", role: RoleSuperadmin, action: ActionResolve, allow: false},
		{name: "superadmin create", role: RoleSuperadmin, action: ActionCreateIssue, allow: false},
		{name: "superadmin queue", role: RoleSuperadmin, action: ActionListQueue, allow: false},
		{name: "superadmin analytics", role: RoleSuperadmin, action: ActionViewAnalytics, allow: true},
		{name: "superadmin upvote", role: RoleSuperadmin, action: ActionUpvote, allow: true},
		{name: "unknown read", role: Role("ghost"), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("superadmin"); got != RoleSuperadmin {
		t.Fatalf("Normalize(superadmin) = %q", got)
	}
	if got := Normalize("root"); got != RoleCitizen {
		t.Fatalf("Normalize(root) = %q, want citizen", got)
	}
	if got := Normalize(""); got != RoleCitizen {
		t.Fatalf("Normalize(empty) = %q, want citizen", got)
	}
}
