package auth

// Role constants. Admin-realm tokens carry the highest admin role the user holds.
const (
	RoleUser       = "user"
	RoleViewer     = "viewer"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "superadmin"
)

// AllAdminRoles returns all valid admin roles.
func AllAdminRoles() []string {
	return []string{RoleViewer, RoleAdmin, RoleSuperAdmin}
}

// HighestAdminRole returns the most privileged admin role in roles, or "".
func HighestAdminRole(roles []string) string {
	best, rank := "", -1
	for _, r := range roles {
		if i := adminRank(r); i > rank {
			best, rank = r, i
		}
	}
	return best
}

// adminRank is the role's position in AllAdminRoles, -1 for non-admin roles.
func adminRank(role string) int {
	for i, admin := range AllAdminRoles() {
		if role == admin {
			return i
		}
	}
	return -1
}
