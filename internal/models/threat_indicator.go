package models

import (
	"time"
)

// Indicator types understood by the threat tracker.
const (
	IndicatorFailedLogin       = "failed_login"
	IndicatorRateLimitExceeded = "rate_limit_exceeded"
	IndicatorSuspiciousPattern = "suspicious_pattern"
)

// Severity levels, low to critical.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// ValidSeverity reports whether s is a known severity level.
func ValidSeverity(s string) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// ThreatIndicator aggregates scored signals per (type, value) key, where
// value is typically a source IP or an account id. Occurrences only grow;
// stale aggregates are removed by the retention sweep.
type ThreatIndicator struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	IndicatorType string    `json:"indicator_type" gorm:"uniqueIndex:idx_indicator_key"`
	Value         string    `json:"value" gorm:"uniqueIndex:idx_indicator_key"`
	Severity      string    `json:"severity" gorm:"index"`
	Occurrences   int64     `json:"occurrences"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen" gorm:"index"`
}
