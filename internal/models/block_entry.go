package models

import (
	"time"
)

// BlockedBySystem marks block entries created by automatic threat escalation.
// Every other writer is an administrator identity.
const BlockedBySystem = "system"

// BlockEntry is one blocked source IP. Unique per address; re-blocking an
// already blocked IP refreshes reason and expiry.
type BlockEntry struct {
	ID        uint       `json:"id" gorm:"primaryKey"`
	IPAddress string     `json:"ip_address" gorm:"uniqueIndex"`
	Reason    string     `json:"reason"`
	BlockedAt time.Time  `json:"blocked_at"`
	ExpiresAt *time.Time `json:"expires_at"` // nil = permanent
	BlockedBy string     `json:"blocked_by"`
}

// Expired reports whether the entry has passed its expiry at now.
func (b *BlockEntry) Expired(now time.Time) bool {
	return b.ExpiresAt != nil && !b.ExpiresAt.After(now)
}
