package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/shieldops/bastion/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.AuditEvent{},
		&models.BlockEntry{},
		&models.RateLimitRule{},
		&models.ThreatIndicator{},
		&models.Permission{},
	)
	require.NoError(t, err)
	return db
}

func newTestAudit(t *testing.T, db *gorm.DB) *AuditService {
	t.Helper()
	return NewAuditService(db, NewAlertService(nil), 2*time.Second)
}

func countEvents(t *testing.T, db *gorm.DB, action string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.AuditEvent{}).Where("action = ?", action).Count(&n).Error)
	return n
}
