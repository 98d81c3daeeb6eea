package models

import (
	"time"
)

// Actions recorded in the audit trail. Every mutating engine operation maps
// to exactly one of these.
const (
	ActionRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ActionRateLimitRuleSet  = "RATE_LIMIT_RULE_SET"
	ActionIPBlocked         = "IP_BLOCKED"
	ActionIPUnblocked       = "IP_UNBLOCKED"
	ActionGrantPermission   = "GRANT_PERMISSION"
	ActionRevokePermission  = "REVOKE_PERMISSION"
	ActionPermissionsPurged = "PERMISSIONS_PURGED"
)

// AuditEvent is an immutable record of a security-relevant action. Rows are
// append-only; nothing in the engine updates or deletes them, and the
// auto-increment ID gives a monotonic ordering within equal timestamps.
type AuditEvent struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Timestamp time.Time `json:"timestamp" gorm:"index"`
	ActorID   *string   `json:"actor_id"` // nil = system/anonymous
	Action    string    `json:"action" gorm:"index"`
	Resource  string    `json:"resource" gorm:"index"`
	SourceIP  string    `json:"source_ip" gorm:"index"`
	Success   bool      `json:"success"`
	Details   string    `json:"details" gorm:"type:text"` // JSON, opaque to the engine
}
