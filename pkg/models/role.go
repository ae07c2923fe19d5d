package models

import (
	"time"

	"github.com/google/uuid"
)

// RoleRecord is the authorization row kept for every identity.
// Exactly one record exists per identity (user_id is unique).
type RoleRecord struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"` // 'admin', 'standard'
	CreatedAt time.Time `json:"created_at"`
}

// Role constants for the role store.
const (
	RoleAdmin    = "admin"
	RoleStandard = "standard"
)

// DefaultRole is assigned when no role record exists yet.
const DefaultRole = RoleStandard

// ValidRoles contains all valid role values.
var ValidRoles = []string{RoleAdmin, RoleStandard}

// IsValidRole checks if the given role is valid.
func IsValidRole(role string) bool {
	return contains(ValidRoles, role)
}

// IsAdmin reports whether the record carries the admin role.
func (r *RoleRecord) IsAdmin() bool {
	return r != nil && r.Role == RoleAdmin
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
