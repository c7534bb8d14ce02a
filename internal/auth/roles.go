package auth

// Role represents a console role
type Role string

const (
	// RoleAdmin may change keys and configuration
	RoleAdmin Role = "admin"

	// RoleViewer may only read
	RoleViewer Role = "viewer"
)

// String returns the string representation of the role
func (r Role) String() string {
	return string(r)
}

// IsValid checks if the role is a valid role
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleViewer:
		return true
	default:
		return false
	}
}

// HasPermission reports whether r grants required. Admin grants everything.
func (r Role) HasPermission(required Role) bool {
	if r == RoleAdmin {
		return true
	}
	return r == required
}

// HasAnyPermission reports whether any of roles grants required
func HasAnyPermission(roles []string, required Role) bool {
	for _, role := range roles {
		if Role(role).HasPermission(required) {
			return true
		}
	}
	return false
}
