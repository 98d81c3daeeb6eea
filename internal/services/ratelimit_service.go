package services

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shieldops/bastion/internal/logger"
	"github.com/shieldops/bastion/internal/metrics"
	"github.com/shieldops/bastion/internal/models"
)

var (
	ErrInvalidRule  = errors.New("invalid rate limit rule")
	ErrRuleNotFound = errors.New("rate limit rule not found")
)

// DenyReason explains a Denied decision.
type DenyReason string

const (
	DenyLimitExceeded    DenyReason = "limit_exceeded"
	DenyNoRuleConfigured DenyReason = "no_rule_configured"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed    bool
	Reason     DenyReason
	Remaining  int
	RetryAfter time.Duration
}

// ruleState is one endpoint's live fixed window. Each key carries its own
// lock so contention stays local to the hot endpoint.
type ruleState struct {
	mu           sync.Mutex
	limit        int
	window       time.Duration
	currentCount int
	windowStart  time.Time

	// hitsToday is a reporting counter independent of the enforcement
	// window; it resets at the local-day boundary.
	hitsToday int64
	day       time.Time
}

// RateLimitSnapshot is the dashboard view of one endpoint rule.
type RateLimitSnapshot struct {
	EndpointKey   string `json:"endpoint_key"`
	Limit         int    `json:"limit"`
	WindowSeconds int    `json:"window_seconds"`
	CurrentCount  int    `json:"current_count"`
	HitsToday     int64  `json:"hits_today"`
}

// RateLimitService enforces per-endpoint request quotas with fixed windows.
// Decisions are made entirely in memory; rule configuration is persisted so
// it survives restarts.
type RateLimitService struct {
	db           *gorm.DB
	audit        *AuditService
	threats      *ThreatService
	defaultAllow bool

	mu    sync.RWMutex
	rules map[string]*ruleState
}

// NewRateLimitService loads persisted rules and returns the limiter.
// defaultAllow selects the policy for endpoints without a rule; it applies
// uniformly to every endpoint.
func NewRateLimitService(db *gorm.DB, audit *AuditService, threats *ThreatService, defaultAllow bool) (*RateLimitService, error) {
	s := &RateLimitService{
		db:           db,
		audit:        audit,
		threats:      threats,
		defaultAllow: defaultAllow,
		rules:        make(map[string]*ruleState),
	}

	var persisted []models.RateLimitRule
	if err := db.Find(&persisted).Error; err != nil {
		return nil, fmt.Errorf("load rate limit rules: %w", err)
	}
	now := time.Now()
	for _, r := range persisted {
		s.rules[r.EndpointKey] = newRuleState(r.Limit, r.WindowSeconds, now)
	}
	return s, nil
}

func newRuleState(limit, windowSeconds int, now time.Time) *ruleState {
	return &ruleState{
		limit:       limit,
		window:      time.Duration(windowSeconds) * time.Second,
		windowStart: now,
		day:         startOfDay(now),
	}
}

// Check applies the quota for endpointKey at now. The decision itself never
// touches storage; the audit write for a denial is bounded and cannot change
// the outcome.
func (s *RateLimitService) Check(endpointKey, sourceIP string, now time.Time) Decision {
	metrics.IncRateLimitCheck()

	s.mu.RLock()
	st := s.rules[endpointKey]
	s.mu.RUnlock()

	if st == nil {
		if s.defaultAllow {
			return Decision{Allowed: true}
		}
		return Decision{Allowed: false, Reason: DenyNoRuleConfigured}
	}

	st.mu.Lock()
	if day := startOfDay(now); !day.Equal(st.day) {
		st.day = day
		st.hitsToday = 0
	}
	st.hitsToday++

	if !now.Before(st.windowStart.Add(st.window)) {
		st.windowStart = now
		st.currentCount = 0
	}
	if st.currentCount < st.limit {
		st.currentCount++
		remaining := st.limit - st.currentCount
		st.mu.Unlock()
		return Decision{Allowed: true, Remaining: remaining}
	}
	retryAfter := st.windowStart.Add(st.window).Sub(now)
	limit := st.limit
	st.mu.Unlock()

	metrics.IncRateLimitDenied()
	if _, err := s.audit.Append(&models.AuditEvent{
		Timestamp: now,
		Action:    models.ActionRateLimitExceeded,
		Resource:  endpointKey,
		SourceIP:  sourceIP,
		Success:   false,
		Details:   fmt.Sprintf(`{"limit":%d}`, limit),
	}); err != nil {
		logger.WithFields(map[string]interface{}{"endpoint": endpointKey}).
			WithError(err).Warn("rate limit denial not recorded")
	}
	if s.threats != nil && sourceIP != "" {
		s.threats.Record(models.IndicatorRateLimitExceeded, sourceIP, models.SeverityMedium, now)
	}

	return Decision{Allowed: false, Reason: DenyLimitExceeded, RetryAfter: retryAfter}
}

// SetRule creates or updates the quota for endpointKey. An existing window's
// count is preserved so rapid reconfiguration cannot reset an exhausted
// quota; lowering the limit below the current count simply denies further
// requests until the window rolls over.
func (s *RateLimitService) SetRule(endpointKey string, limit, windowSeconds int, actor string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if endpointKey == "" || limit <= 0 || windowSeconds < 1 {
		return fmt.Errorf("%w: endpoint=%q limit=%d window=%d", ErrInvalidRule, endpointKey, limit, windowSeconds)
	}

	rule := models.RateLimitRule{
		EndpointKey:   endpointKey,
		Limit:         limit,
		WindowSeconds: windowSeconds,
		UpdatedBy:     actor,
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"limit", "window_seconds", "updated_by", "updated_at"}),
	}).Create(&rule).Error
	if err != nil {
		return fmt.Errorf("save rate limit rule: %w", err)
	}

	now := time.Now()
	s.mu.Lock()
	if st := s.rules[endpointKey]; st != nil {
		st.mu.Lock()
		st.limit = limit
		st.window = time.Duration(windowSeconds) * time.Second
		st.mu.Unlock()
	} else {
		s.rules[endpointKey] = newRuleState(limit, windowSeconds, now)
	}
	s.mu.Unlock()

	s.audit.RecordFallible(&models.AuditEvent{
		Timestamp: now,
		ActorID:   actorID(actor),
		Action:    models.ActionRateLimitRuleSet,
		Resource:  endpointKey,
		Success:   true,
		Details:   fmt.Sprintf(`{"limit":%d,"window_seconds":%d}`, limit, windowSeconds),
	})
	return nil
}

// Snapshot returns the dashboard view of one endpoint rule at now.
func (s *RateLimitService) Snapshot(endpointKey string, now time.Time) (*RateLimitSnapshot, error) {
	s.mu.RLock()
	st := s.rules[endpointKey]
	s.mu.RUnlock()
	if st == nil {
		return nil, ErrRuleNotFound
	}
	snap := st.snapshot(endpointKey, now)
	return &snap, nil
}

// Snapshots returns all rules ordered by endpoint key.
func (s *RateLimitService) Snapshots(now time.Time) []RateLimitSnapshot {
	s.mu.RLock()
	keys := make([]string, 0, len(s.rules))
	for k := range s.rules {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)

	out := make([]RateLimitSnapshot, 0, len(keys))
	for _, k := range keys {
		s.mu.RLock()
		st := s.rules[k]
		s.mu.RUnlock()
		if st == nil {
			continue
		}
		out = append(out, st.snapshot(k, now))
	}
	return out
}

func (st *ruleState) snapshot(endpointKey string, now time.Time) RateLimitSnapshot {
	st.mu.Lock()
	defer st.mu.Unlock()

	count := st.currentCount
	if !now.Before(st.windowStart.Add(st.window)) {
		count = 0
	}
	hits := st.hitsToday
	if !startOfDay(now).Equal(st.day) {
		hits = 0
	}
	return RateLimitSnapshot{
		EndpointKey:   endpointKey,
		Limit:         st.limit,
		WindowSeconds: int(st.window / time.Second),
		CurrentCount:  count,
		HitsToday:     hits,
	}
}

// ResetDailyCounters zeroes every hits_today counter. The day boundary is
// also applied lazily per key, so this sweep only keeps idle rules tidy.
func (s *RateLimitService) ResetDailyCounters(now time.Time) {
	day := startOfDay(now)
	s.mu.RLock()
	states := make([]*ruleState, 0, len(s.rules))
	for _, st := range s.rules {
		states = append(states, st)
	}
	s.mu.RUnlock()

	for _, st := range states {
		st.mu.Lock()
		st.day = day
		st.hitsToday = 0
		st.mu.Unlock()
	}
}

// startOfDay returns local midnight for t.
func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
