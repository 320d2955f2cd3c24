package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleOwner      = "owner"
	RoleOperator   = "operator" // runs campaigns: start, pause, resume, cancel
	RoleAnalyst    = "analyst"  // read-only campaign and report access
	RoleFinance    = "finance"
	RoleSuperAdmin = "super_admin"
	RoleSupport    = "support" // hidden staff role
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }
