package services

import (
	"context"
	"errors"
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

var (
	ErrBlockNotFound = errors.New("block entry not found")
	ErrInvalidIP     = errors.New("invalid IP address")
)

// BlocklistService is the authoritative set of blocked source IPs. Reads go
// to an in-memory cache so IsBlocked can gate every inbound request; the
// database keeps the list across restarts.
type BlocklistService struct {
	db    *gorm.DB
	audit *AuditService

	mu      sync.RWMutex
	entries map[string]*models.BlockEntry
}

// NewBlocklistService loads persisted entries into the cache.
func NewBlocklistService(db *gorm.DB, audit *AuditService) (*BlocklistService, error) {
	s := &BlocklistService{
		db:      db,
		audit:   audit,
		entries: make(map[string]*models.BlockEntry),
	}

	var persisted []models.BlockEntry
	if err := db.Find(&persisted).Error; err != nil {
		return nil, fmt.Errorf("load block list: %w", err)
	}
	for i := range persisted {
		entry := persisted[i]
		s.entries[entry.IPAddress] = &entry
	}
	metrics.SetBlockedIPs(len(s.entries))
	return s, nil
}

// IsBlocked reports whether ip is blocked at now. Expired entries are
// evicted on read; no explicit unblock is needed for them.
func (s *BlocklistService) IsBlocked(ip string, now time.Time) bool {
	s.mu.RLock()
	entry := s.entries[ip]
	s.mu.RUnlock()

	if entry == nil {
		return false
	}
	if !entry.Expired(now) {
		return true
	}
	s.evictExpired(ip, now)
	return false
}

func (s *BlocklistService) evictExpired(ip string, now time.Time) {
	s.mu.Lock()
	entry := s.entries[ip]
	// Re-check under the write lock: a concurrent Block may have refreshed it.
	if entry == nil || !entry.Expired(now) {
		s.mu.Unlock()
		return
	}
	delete(s.entries, ip)
	remaining := len(s.entries)
	s.mu.Unlock()

	if err := s.db.Where("ip_address = ?", ip).Delete(&models.BlockEntry{}).Error; err != nil {
		logger.WithFields(map[string]interface{}{"ip": ip}).
			WithError(err).Warn("failed to remove expired block entry")
	}
	metrics.SetBlockedIPs(remaining)
}

// Block upserts an entry for ip. Re-blocking an already blocked IP refreshes
// reason and expiry; the audit trail keeps the full ordered history either
// way.
func (s *BlocklistService) Block(ip, reason string, expiresAt *time.Time, actor string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if net.ParseIP(ip) == nil {
		return fmt.Errorf("%w: %q", ErrInvalidIP, ip)
	}

	now := time.Now()
	entry := &models.BlockEntry{
		IPAddress: ip,
		Reason:    reason,
		BlockedAt: now,
		ExpiresAt: expiresAt,
		BlockedBy: actor,
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ip_address"}},
		DoUpdates: clause.AssignmentColumns([]string{"reason", "blocked_at", "expires_at", "blocked_by"}),
	}).Create(entry).Error
	if err != nil {
		return fmt.Errorf("save block entry: %w", err)
	}

	s.mu.Lock()
	s.entries[ip] = entry
	total := len(s.entries)
	s.mu.Unlock()
	metrics.SetBlockedIPs(total)

	expiry := "permanent"
	if expiresAt != nil {
		expiry = expiresAt.Format(time.RFC3339)
	}
	s.audit.RecordFallible(&models.AuditEvent{
		Timestamp: now,
		ActorID:   actorID(actor),
		Action:    models.ActionIPBlocked,
		Resource:  ip,
		SourceIP:  ip,
		Success:   true,
		Details:   fmt.Sprintf(`{"reason":%q,"expires":%q,"blocked_by":%q}`, reason, expiry, actor),
	})
	return nil
}

// Unblock removes the entry for ip. Unblocking is always an explicit
// administrative action; the engine never unblocks on "good behavior".
func (s *BlocklistService) Unblock(ip, actor string) error {
	if err := requireActor(actor); err != nil {
		return err
	}

	s.mu.Lock()
	_, cached := s.entries[ip]
	delete(s.entries, ip)
	remaining := len(s.entries)
	s.mu.Unlock()

	res := s.db.Where("ip_address = ?", ip).Delete(&models.BlockEntry{})
	if res.Error != nil {
		return fmt.Errorf("delete block entry: %w", res.Error)
	}
	if !cached && res.RowsAffected == 0 {
		return ErrBlockNotFound
	}
	metrics.SetBlockedIPs(remaining)

	s.audit.RecordFallible(&models.AuditEvent{
		ActorID:  actorID(actor),
		Action:   models.ActionIPUnblocked,
		Resource: ip,
		SourceIP: ip,
		Success:  true,
	})
	return nil
}

// List returns all block entries, newest first, for the dashboard.
func (s *BlocklistService) List(ctx context.Context) ([]models.BlockEntry, error) {
	var entries []models.BlockEntry
	if err := s.db.WithContext(ctx).Order("blocked_at desc").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list block entries: %w", err)
	}
	return entries, nil
}

// PurgeExpired removes entries whose expiry has passed and returns how many
// were dropped. Natural expiry is not an unblock action, so no audit events
// are written here.
func (s *BlocklistService) PurgeExpired(now time.Time) int {
	s.mu.Lock()
	var expired []string
	for ip, entry := range s.entries {
		if entry.Expired(now) {
			expired = append(expired, ip)
			delete(s.entries, ip)
		}
	}
	remaining := len(s.entries)
	s.mu.Unlock()

	if len(expired) == 0 {
		return 0
	}
	if err := s.db.Where("expires_at IS NOT NULL AND expires_at <= ?", now).Delete(&models.BlockEntry{}).Error; err != nil {
		logger.Log().WithError(err).Warn("failed to purge expired block entries")
	}
	metrics.SetBlockedIPs(remaining)
	return len(expired)
}
