package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/shieldops/bastion/internal/logger"
	"github.com/shieldops/bastion/internal/metrics"
	"github.com/shieldops/bastion/internal/models"
)

var (
	ErrStorageUnavailable = errors.New("audit storage unavailable")
	ErrInvalidPage        = errors.New("invalid pagination parameters")
	ErrActorRequired      = errors.New("administrative actor identity required")
)

// MaxPageSize bounds one page of audit results.
const MaxPageSize = 500

// requireActor rejects mutations without an authenticated admin identity.
func requireActor(actor string) error {
	if strings.TrimSpace(actor) == "" {
		return ErrActorRequired
	}
	return nil
}

// actorID converts an actor name to the nullable audit field. System-driven
// actions carry no actor id.
func actorID(actor string) *string {
	if actor == "" || actor == models.BlockedBySystem {
		return nil
	}
	return &actor
}

// AuditFilters narrows Query, Stats and ExportCSV results. Zero values mean
// "any".
type AuditFilters struct {
	ActorID  string
	Action   string
	Resource string
	SourceIP string
	Success  *bool
	DateFrom *time.Time
	DateTo   *time.Time
}

// AuditStats feeds the dashboard summary cards.
type AuditStats struct {
	Total       int64 `json:"total"`
	Successful  int64 `json:"successful"`
	Failed      int64 `json:"failed"`
	UniqueUsers int64 `json:"unique_users"`
	EventsToday int64 `json:"events_today"`
}

// AuditService owns the append-only audit trail. Append is the only
// mutation; retention and export policy live outside the engine.
type AuditService struct {
	db           *gorm.DB
	alerts       *AlertService
	writeTimeout time.Duration
}

// NewAuditService returns an AuditService writing through db. Every write is
// bounded by writeTimeout so slow storage fails fast instead of stalling
// request-serving goroutines.
func NewAuditService(db *gorm.DB, alerts *AlertService, writeTimeout time.Duration) *AuditService {
	if writeTimeout <= 0 {
		writeTimeout = 2 * time.Second
	}
	return &AuditService{db: db, alerts: alerts, writeTimeout: writeTimeout}
}

// Append writes one event and returns its id.
func (s *AuditService) Append(event *models.AuditEvent) (uint, error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		metrics.IncAuditWriteFailure()
		return 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return event.ID, nil
}

// RecordFallible appends an event whose originating mutation has already
// been committed. A failed write here leaves a privileged change without a
// trail, so it raises a consistency-risk alert instead of failing the
// caller.
func (s *AuditService) RecordFallible(event *models.AuditEvent) {
	if _, err := s.Append(event); err != nil {
		logger.WithFields(map[string]interface{}{
			"action":   event.Action,
			"resource": event.Resource,
		}).WithError(err).Error("audit write failed after committed mutation")
		if s.alerts != nil {
			s.alerts.ConsistencyRisk(event.Action, fmt.Sprintf("resource=%s: %v", event.Resource, err))
		}
	}
}

func (s *AuditService) filtered(db *gorm.DB, f AuditFilters) *gorm.DB {
	q := db.Model(&models.AuditEvent{})
	if f.ActorID != "" {
		q = q.Where("actor_id = ?", f.ActorID)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.Resource != "" {
		q = q.Where("resource = ?", f.Resource)
	}
	if f.SourceIP != "" {
		q = q.Where("source_ip = ?", f.SourceIP)
	}
	if f.Success != nil {
		q = q.Where("success = ?", *f.Success)
	}
	if f.DateFrom != nil {
		q = q.Where("timestamp >= ?", *f.DateFrom)
	}
	if f.DateTo != nil {
		q = q.Where("timestamp <= ?", *f.DateTo)
	}
	return q
}

// Query returns one page of events ordered by (timestamp desc, id desc) so
// pagination stays stable even when events share a timestamp, plus the total
// match count.
func (s *AuditService) Query(ctx context.Context, f AuditFilters, page, pageSize int) ([]models.AuditEvent, int64, error) {
	if page < 1 || pageSize < 1 || pageSize > MaxPageSize {
		return nil, 0, fmt.Errorf("%w: page=%d page_size=%d", ErrInvalidPage, page, pageSize)
	}

	var total int64
	if err := s.filtered(s.db.WithContext(ctx), f).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count audit events: %w", err)
	}

	var events []models.AuditEvent
	err := s.filtered(s.db.WithContext(ctx), f).
		Order("timestamp desc, id desc").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&events).Error
	if err != nil {
		return nil, 0, fmt.Errorf("query audit events: %w", err)
	}
	return events, total, nil
}

// Stats computes the dashboard aggregates from the same table Query reads,
// so they can never lag behind a successful Append.
func (s *AuditService) Stats(ctx context.Context) (*AuditStats, error) {
	var st AuditStats
	base := func() *gorm.DB { return s.db.WithContext(ctx).Model(&models.AuditEvent{}) }

	if err := base().Count(&st.Total).Error; err != nil {
		return nil, fmt.Errorf("audit stats: %w", err)
	}
	if err := base().Where("success = ?", true).Count(&st.Successful).Error; err != nil {
		return nil, fmt.Errorf("audit stats: %w", err)
	}
	if err := base().Where("success = ?", false).Count(&st.Failed).Error; err != nil {
		return nil, fmt.Errorf("audit stats: %w", err)
	}
	if err := base().Where("actor_id IS NOT NULL AND actor_id <> ''").Distinct("actor_id").Count(&st.UniqueUsers).Error; err != nil {
		return nil, fmt.Errorf("audit stats: %w", err)
	}
	if err := base().Where("timestamp >= ?", startOfDay(time.Now())).Count(&st.EventsToday).Error; err != nil {
		return nil, fmt.Errorf("audit stats: %w", err)
	}
	return &st, nil
}

// ExportCSV streams matching events to w row by row, never materializing the
// full result set.
func (s *AuditService) ExportCSV(ctx context.Context, f AuditFilters, w io.Writer) error {
	rows, err := s.filtered(s.db.WithContext(ctx), f).Order("timestamp desc, id desc").Rows()
	if err != nil {
		return fmt.Errorf("export audit events: %w", err)
	}
	defer rows.Close()

	cw := csv.NewWriter(w)
	header := []string{"id", "timestamp", "actor_id", "action", "resource", "source_ip", "success", "details"}
	if err := cw.Write(header); err != nil {
		return err
	}

	for rows.Next() {
		var ev models.AuditEvent
		if err := s.db.ScanRows(rows, &ev); err != nil {
			return fmt.Errorf("export audit events: %w", err)
		}
		actor := ""
		if ev.ActorID != nil {
			actor = *ev.ActorID
		}
		record := []string{
			strconv.FormatUint(uint64(ev.ID), 10),
			ev.Timestamp.Format(time.RFC3339Nano),
			actor,
			ev.Action,
			ev.Resource,
			ev.SourceIP,
			strconv.FormatBool(ev.Success),
			ev.Details,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("export audit events: %w", err)
	}

	cw.Flush()
	return cw.Error()
}
