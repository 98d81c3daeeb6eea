package models

import (
	"time"
)

// Capabilities grantable on a resource.
const (
	PermissionRead   = "read"
	PermissionWrite  = "write"
	PermissionDelete = "delete"
	PermissionAdmin  = "admin"
)

// ValidPermission reports whether p is a known capability.
func ValidPermission(p string) bool {
	switch p {
	case PermissionRead, PermissionWrite, PermissionDelete, PermissionAdmin:
		return true
	}
	return false
}

// Permission is one ACL tuple: a capability on a resource granted to a user,
// optionally time-bounded. Unique per (user, resource, permission).
type Permission struct {
	ID         uint       `json:"id" gorm:"primaryKey"`
	UserID     string     `json:"user_id" gorm:"uniqueIndex:idx_permission_tuple"`
	Resource   string     `json:"resource" gorm:"uniqueIndex:idx_permission_tuple"`
	Permission string     `json:"permission" gorm:"uniqueIndex:idx_permission_tuple"`
	GrantedBy  string     `json:"granted_by"`
	GrantedAt  time.Time  `json:"granted_at"`
	ExpiresAt  *time.Time `json:"expires_at"` // nil = no expiry

	// Expired is computed at read time for display; expired tuples stay
	// visible in listings until the purge sweep removes them.
	Expired bool `json:"expired" gorm:"-"`
}

// ExpiredAt reports whether the tuple is expired at now. The boundary is
// exclusive: a tuple is already expired at its exact expiry instant.
func (p *Permission) ExpiredAt(now time.Time) bool {
	return p.ExpiresAt != nil && !p.ExpiresAt.After(now)
}
