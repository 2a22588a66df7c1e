// Package rbac is the authorization policy for the issue lifecycle: a pure
// role × action table consulted before every mutating operation. Lifecycle
// legality (whether the issue's current status permits a transition) is the
// engine's concern, not this package's.
package rbac

type Role string
type Action string

const (
	RoleCitizen    Role = "citizen"
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
)

const (
	ActionRead          Action = "read"
	ActionCreateIssue   Action = "create_issue"
	ActionUpvote        Action = "upvote"
	ActionAssign        Action = "assign"
	ActionResolve       Action = "resolve"
	ActionViewAnalytics Action = "view_analytics"
	ActionListQueue     Action = "list_admin_queue"
	ActionExportReport  Action = "export_report"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleCitizen:
		return action == ActionRead || action == ActionCreateIssue || action == ActionUpvote
	case RoleAdmin:
		return action == ActionRead || action == ActionUpvote || action == ActionResolve ||
			action == ActionViewAnalytics || action == ActionListQueue || action == ActionExportReport
	case RoleSuperadmin:
		return action == ActionRead || action == ActionUpvote || action == ActionAssign ||
			action == ActionViewAnalytics || action == ActionExportReport
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleCitizen, RoleAdmin, RoleSuperadmin:
		return Role(role)
	default:
		return RoleCitizen
	}
}
