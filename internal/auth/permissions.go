package auth

import "github.com/aethra/reportdesk/internal/models"

// Action represents a permission action
type Action string

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
	ActionExport Action = "export"
	ActionImport Action = "import"
)

// Resource is a guarded area of the API.
type Resource string

const (
	ResourceReports     Resource = "reports"
	ResourceDashboard   Resource = "dashboard"
	ResourceBranches    Resource = "branches"
	ResourceClients     Resource = "clients"
	ResourceUsers       Resource = "users"
	ResourcePerformance Resource = "performance"
)

// UserPermission is the set of actions a role holds on one resource.
type UserPermission struct {
	CanView   bool
	CanCreate bool
	CanEdit   bool
	CanDelete bool
	CanExport bool
	CanImport bool
}

var fullAccess = UserPermission{CanView: true, CanCreate: true, CanEdit: true, CanDelete: true, CanExport: true, CanImport: true}

// rolePermissions grants per role. Admin is not listed; it holds everything.
var rolePermissions = map[string]map[Resource]UserPermission{
	models.RoleReportingUser: {
		ResourceReports:     {CanView: true, CanCreate: true, CanEdit: true},
		ResourceDashboard:   {CanView: true},
		ResourceBranches:    {CanView: true},
		ResourcePerformance: {CanView: true},
	},
	models.RoleClientUser: {
		ResourceReports:     {CanView: true},
		ResourceDashboard:   {CanView: true},
		ResourceBranches:    {CanView: true, CanExport: true},
		ResourcePerformance: {CanView: true},
	},
}

// GetUserPermission returns what role may do on resource.
func GetUserPermission(role string, resource Resource) UserPermission {
	if role == models.RoleAdmin {
		return fullAccess
	}
	return rolePermissions[role][resource]
}

// CheckPermission reports whether role may perform action on resource.
func CheckPermission(role string, resource Resource, action Action) bool {
	perm := GetUserPermission(role, resource)

	switch action {
	case ActionView:
		return perm.CanView
	case ActionCreate:
		return perm.CanCreate
	case ActionEdit:
		return perm.CanEdit
	case ActionDelete:
		return perm.CanDelete
	case ActionExport:
		return perm.CanExport
	case ActionImport:
		return perm.CanImport
	default:
		return false
	}
}
