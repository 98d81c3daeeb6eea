package models

import (
	"time"
)

// RateLimitRule is the persisted quota definition for one endpoint key
// (method+path or a logical name). The live window counters belong to the
// rate limit service and stay in memory; only the configuration survives a
// restart.
type RateLimitRule struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	EndpointKey   string    `json:"endpoint_key" gorm:"uniqueIndex"`
	Limit         int       `json:"limit"`
	WindowSeconds int       `json:"window_seconds"`
	UpdatedBy     string    `json:"updated_by"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
