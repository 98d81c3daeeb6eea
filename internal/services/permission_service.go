package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shieldops/bastion/internal/models"
)

var (
	ErrPermissionNotFound = errors.New("permission not found")
	ErrInvalidPermission  = errors.New("invalid permission")
)

// PermissionFilters narrows List results. Zero values mean "any".
type PermissionFilters struct {
	UserID     string
	Resource   string
	Permission string
}

// PermissionService owns the ACL of (user, resource, permission) grants.
// Expiry is evaluated lazily on Check and physically applied by the
// PurgeExpired sweep.
type PermissionService struct {
	db    *gorm.DB
	audit *AuditService
}

// NewPermissionService returns a PermissionService over db.
func NewPermissionService(db *gorm.DB, audit *AuditService) *PermissionService {
	return &PermissionService{db: db, audit: audit}
}

// Grant upserts one tuple. Re-granting refreshes grantor and expiry.
func (s *PermissionService) Grant(userID, resource, permission string, expiresAt *time.Time, actor string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if userID == "" || resource == "" {
		return fmt.Errorf("%w: user and resource are required", ErrInvalidPermission)
	}
	if !models.ValidPermission(permission) {
		return fmt.Errorf("%w: %q", ErrInvalidPermission, permission)
	}

	now := time.Now()
	grant := models.Permission{
		UserID:     userID,
		Resource:   resource,
		Permission: permission,
		GrantedBy:  actor,
		GrantedAt:  now,
		ExpiresAt:  expiresAt,
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "resource"}, {Name: "permission"}},
		DoUpdates: clause.AssignmentColumns([]string{"granted_by", "granted_at", "expires_at"}),
	}).Create(&grant).Error
	if err != nil {
		return fmt.Errorf("save permission: %w", err)
	}

	expiry := "never"
	if expiresAt != nil {
		expiry = expiresAt.Format(time.RFC3339)
	}
	s.audit.RecordFallible(&models.AuditEvent{
		Timestamp: now,
		ActorID:   actorID(actor),
		Action:    models.ActionGrantPermission,
		Resource:  resource,
		Success:   true,
		Details:   fmt.Sprintf(`{"user_id":%q,"permission":%q,"expires":%q}`, userID, permission, expiry),
	})
	return nil
}

// Revoke deletes one tuple.
func (s *PermissionService) Revoke(userID, resource, permission, actor string) error {
	if err := requireActor(actor); err != nil {
		return err
	}

	res := s.db.Where("user_id = ? AND resource = ? AND permission = ?", userID, resource, permission).
		Delete(&models.Permission{})
	if res.Error != nil {
		return fmt.Errorf("delete permission: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrPermissionNotFound
	}

	s.audit.RecordFallible(&models.AuditEvent{
		ActorID:  actorID(actor),
		Action:   models.ActionRevokePermission,
		Resource: resource,
		Success:  true,
		Details:  fmt.Sprintf(`{"user_id":%q,"permission":%q}`, userID, permission),
	})
	return nil
}

// Check reports whether the tuple exists and has not expired at now.
// Expired-but-unswept tuples never satisfy a check.
func (s *PermissionService) Check(ctx context.Context, userID, resource, permission string, now time.Time) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Permission{}).
		Where("user_id = ? AND resource = ? AND permission = ?", userID, resource, permission).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check permission: %w", err)
	}
	return count > 0, nil
}

// List returns tuples for the dashboard, newest grants first. Expired but
// not yet swept tuples are included with the expired flag set.
func (s *PermissionService) List(ctx context.Context, f PermissionFilters) ([]models.Permission, error) {
	q := s.db.WithContext(ctx).Model(&models.Permission{})
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Resource != "" {
		q = q.Where("resource = ?", f.Resource)
	}
	if f.Permission != "" {
		q = q.Where("permission = ?", f.Permission)
	}

	var grants []models.Permission
	if err := q.Order("granted_at desc").Find(&grants).Error; err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}

	now := time.Now()
	for i := range grants {
		grants[i].Expired = grants[i].ExpiredAt(now)
	}
	return grants, nil
}

// PurgeExpired physically removes expired tuples and writes one batched
// audit event carrying the purge count, instead of one event per tuple.
func (s *PermissionService) PurgeExpired(now time.Time) (int64, error) {
	res := s.db.Where("expires_at IS NOT NULL AND expires_at <= ?", now).Delete(&models.Permission{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge expired permissions: %w", res.Error)
	}

	if res.RowsAffected > 0 {
		s.audit.RecordFallible(&models.AuditEvent{
			Timestamp: now,
			Action:    models.ActionPermissionsPurged,
			Resource:  "permissions",
			Success:   true,
			Details:   fmt.Sprintf(`{"purged":%d}`, res.RowsAffected),
		})
	}
	return res.RowsAffected, nil
}
