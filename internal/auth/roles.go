package auth

// Operator role constants.
const (
	RoleViewer     = "viewer"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "superadmin"
)

// AllOperatorRoles returns all valid operator roles.
func AllOperatorRoles() []string {
	return []string{RoleViewer, RoleAdmin, RoleSuperAdmin}
}

// WriteRoles returns roles that can modify results, settlements and the pipeline.
func WriteRoles() []string {
	return []string{RoleAdmin, RoleSuperAdmin}
}
