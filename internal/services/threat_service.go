package services

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shieldops/bastion/internal/logger"
	"github.com/shieldops/bastion/internal/metrics"
	"github.com/shieldops/bastion/internal/models"
)

// ThreatConfig tunes observation and escalation behaviour.
type ThreatConfig struct {
	// ObservationWindow bounds which occurrences count toward thresholds.
	// Older ones stay in the persisted aggregate for historical analytics.
	ObservationWindow time.Duration

	FailedLoginThreshold int
	FailedLoginWindow    time.Duration

	// AutoBlockCooldown is the lifetime of automatic blocks; zero makes
	// them permanent.
	AutoBlockCooldown time.Duration

	// Retention is how long an inactive aggregate survives before the
	// retention sweep removes it.
	Retention time.Duration
}

// DefaultThreatConfig mirrors the documented deployment defaults.
func DefaultThreatConfig() ThreatConfig {
	return ThreatConfig{
		ObservationWindow:    24 * time.Hour,
		FailedLoginThreshold: 5,
		FailedLoginWindow:    10 * time.Minute,
		AutoBlockCooldown:    time.Hour,
		Retention:            30 * 24 * time.Hour,
	}
}

// ThreatFilters narrows Summarize results. Zero values mean "any".
type ThreatFilters struct {
	Type     string
	Severity string
	Value    string
}

// indicatorState holds one (type, value) key's recent occurrence times.
type indicatorState struct {
	mu         sync.Mutex
	timestamps []time.Time
}

func (st *indicatorState) prune(cutoff time.Time) {
	i := 0
	for ; i < len(st.timestamps); i++ {
		if st.timestamps[i].After(cutoff) {
			break
		}
	}
	st.timestamps = st.timestamps[i:]
}

// ThreatService accumulates scored threat indicators and escalates to the
// block list when thresholds are crossed. It is the only automatic writer of
// block entries; block-list audit events are terminal and never re-ingested
// as threat input.
type ThreatService struct {
	db        *gorm.DB
	blocklist *BlocklistService
	cfg       ThreatConfig

	mu    sync.Mutex
	state map[string]*indicatorState
}

// NewThreatService returns a tracker escalating into blocklist.
func NewThreatService(db *gorm.DB, blocklist *BlocklistService, cfg ThreatConfig) *ThreatService {
	if cfg.ObservationWindow <= 0 {
		cfg.ObservationWindow = DefaultThreatConfig().ObservationWindow
	}
	if cfg.FailedLoginThreshold <= 0 {
		cfg.FailedLoginThreshold = DefaultThreatConfig().FailedLoginThreshold
	}
	if cfg.FailedLoginWindow <= 0 {
		cfg.FailedLoginWindow = DefaultThreatConfig().FailedLoginWindow
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultThreatConfig().Retention
	}
	return &ThreatService{
		db:        db,
		blocklist: blocklist,
		cfg:       cfg,
		state:     make(map[string]*indicatorState),
	}
}

func (s *ThreatService) stateFor(indicatorType, value string) *indicatorState {
	key := indicatorType + "|" + value
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state[key]
	if st == nil {
		st = &indicatorState{}
		s.state[key] = st
	}
	return st
}

// Record folds one observation into the (type, value) aggregate and applies
// the escalation policy: failed logins past the threshold within their
// window, or any critical-severity indicator, block the source immediately.
func (s *ThreatService) Record(indicatorType, value, severity string, now time.Time) {
	if !models.ValidSeverity(severity) {
		severity = models.SeverityLow
	}

	st := s.stateFor(indicatorType, value)
	st.mu.Lock()
	st.timestamps = append(st.timestamps, now)
	st.prune(now.Add(-s.cfg.ObservationWindow))
	recentFailures := 0
	if indicatorType == models.IndicatorFailedLogin {
		cutoff := now.Add(-s.cfg.FailedLoginWindow)
		for _, ts := range st.timestamps {
			if ts.After(cutoff) {
				recentFailures++
			}
		}
	}
	st.mu.Unlock()

	s.persist(indicatorType, value, severity, now)

	if severity == models.SeverityCritical ||
		(indicatorType == models.IndicatorFailedLogin && recentFailures > s.cfg.FailedLoginThreshold) {
		s.autoBlock(value, now)
	}
}

func (s *ThreatService) persist(indicatorType, value, severity string, now time.Time) {
	indicator := models.ThreatIndicator{
		IndicatorType: indicatorType,
		Value:         value,
		Severity:      severity,
		Occurrences:   1,
		FirstSeen:     now,
		LastSeen:      now,
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "indicator_type"}, {Name: "value"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"occurrences": gorm.Expr("occurrences + 1"),
			"last_seen":   now,
			"severity":    severity,
		}),
	}).Create(&indicator).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"type":  indicatorType,
			"value": value,
		}).WithError(err).Warn("failed to persist threat indicator")
	}
}

func (s *ThreatService) autoBlock(value string, now time.Time) {
	// Escalation only targets IP-valued indicators; account ids have no
	// block-list representation.
	if net.ParseIP(value) == nil {
		return
	}
	if s.blocklist.IsBlocked(value, now) {
		return
	}

	var expiresAt *time.Time
	if s.cfg.AutoBlockCooldown > 0 {
		t := now.Add(s.cfg.AutoBlockCooldown)
		expiresAt = &t
	}
	if err := s.blocklist.Block(value, "auto: threshold exceeded", expiresAt, models.BlockedBySystem); err != nil {
		logger.WithFields(map[string]interface{}{"ip": value}).
			WithError(err).Warn("automatic block failed")
		return
	}
	metrics.IncAutoBlock()
}

// Summarize lists indicator aggregates for the dashboard, newest activity
// first. Pure read, no side effects.
func (s *ThreatService) Summarize(ctx context.Context, f ThreatFilters) ([]models.ThreatIndicator, error) {
	q := s.db.WithContext(ctx).Model(&models.ThreatIndicator{})
	if f.Type != "" {
		q = q.Where("indicator_type = ?", f.Type)
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", f.Severity)
	}
	if f.Value != "" {
		q = q.Where("value = ?", f.Value)
	}

	var indicators []models.ThreatIndicator
	if err := q.Order("last_seen desc").Find(&indicators).Error; err != nil {
		return nil, fmt.Errorf("summarize threat indicators: %w", err)
	}
	return indicators, nil
}

// PurgeStale removes aggregates inactive beyond the retention period.
func (s *ThreatService) PurgeStale(now time.Time) (int64, error) {
	cutoff := now.Add(-s.cfg.Retention)
	res := s.db.Where("last_seen < ?", cutoff).Delete(&models.ThreatIndicator{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge stale threat indicators: %w", res.Error)
	}

	s.mu.Lock()
	for key, st := range s.state {
		st.mu.Lock()
		st.prune(cutoff)
		empty := len(st.timestamps) == 0
		st.mu.Unlock()
		if empty {
			delete(s.state, key)
		}
	}
	s.mu.Unlock()

	return res.RowsAffected, nil
}
