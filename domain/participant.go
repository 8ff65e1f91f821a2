// Package domain contains core concepts of the relay.
// This file defines the identity attached to a connection once authenticated.
// No runtime, network, or UI logic should be added here.
package domain

type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// IsAdmin reports whether the role may read the admin surface.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Identity is the verified (user, role) pair supplied by the identity provider.
// The relay trusts it as-is.
type Identity struct {
	UserID string
	Role   Role
}

func (i Identity) IsZero() bool {
	return i.UserID == ""
}
