package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/shieldops/bastion/internal/models"
)

func newTestPermissions(t *testing.T) (*PermissionService, *gorm.DB) {
	t.Helper()
	db := setupTestDB(t)
	return NewPermissionService(db, newTestAudit(t, db)), db
}

func TestPermissionService_GrantAndCheck(t *testing.T) {
	svc, db := newTestPermissions(t)

	now := time.Now()
	require.NoError(t, svc.Grant("u1", "reports", models.PermissionRead, nil, "admin"))

	ok, err := svc.Check(context.Background(), "u1", "reports", models.PermissionRead, now)
	require.NoError(t, err)
	assert.True(t, ok)

	// Different capability on the same resource is a different tuple.
	ok, err = svc.Check(context.Background(), "u1", "reports", models.PermissionWrite, now)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, int64(1), countEvents(t, db, models.ActionGrantPermission))
}

func TestPermissionService_GrantValidation(t *testing.T) {
	svc, _ := newTestPermissions(t)

	assert.ErrorIs(t, svc.Grant("u1", "reports", "fly", nil, "admin"), ErrInvalidPermission)
	assert.ErrorIs(t, svc.Grant("", "reports", models.PermissionRead, nil, "admin"), ErrInvalidPermission)
	assert.ErrorIs(t, svc.Grant("u1", "", models.PermissionRead, nil, "admin"), ErrInvalidPermission)
	assert.ErrorIs(t, svc.Grant("u1", "reports", models.PermissionRead, nil, ""), ErrActorRequired)
}

func TestPermissionService_RegrantRefreshesExpiry(t *testing.T) {
	svc, db := newTestPermissions(t)

	exp := time.Now().Add(time.Minute)
	require.NoError(t, svc.Grant("u1", "reports", models.PermissionRead, &exp, "admin"))
	require.NoError(t, svc.Grant("u1", "reports", models.PermissionRead, nil, "root"))

	var grants []models.Permission
	require.NoError(t, db.Find(&grants).Error)
	require.Len(t, grants, 1)
	assert.Nil(t, grants[0].ExpiresAt)
	assert.Equal(t, "root", grants[0].GrantedBy)
}

func TestPermissionService_ExpiryBoundary(t *testing.T) {
	svc, _ := newTestPermissions(t)

	exp := time.Now().Add(time.Hour)
	require.NoError(t, svc.Grant("u1", "reports", models.PermissionRead, &exp, "admin"))

	ok, err := svc.Check(context.Background(), "u1", "reports", models.PermissionRead, exp.Add(-time.Second))
	require.NoError(t, err)
	assert.True(t, ok)

	// At the exact expiry instant the grant is no longer effective.
	ok, err = svc.Check(context.Background(), "u1", "reports", models.PermissionRead, exp)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.Check(context.Background(), "u1", "reports", models.PermissionRead, exp.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPermissionService_Revoke(t *testing.T) {
	svc, db := newTestPermissions(t)

	require.NoError(t, svc.Grant("u1", "reports", models.PermissionRead, nil, "admin"))
	require.NoError(t, svc.Revoke("u1", "reports", models.PermissionRead, "admin"))

	ok, err := svc.Check(context.Background(), "u1", "reports", models.PermissionRead, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, svc.Revoke("u1", "reports", models.PermissionRead, "admin"), ErrPermissionNotFound)
	assert.ErrorIs(t, svc.Revoke("u1", "reports", models.PermissionRead, ""), ErrActorRequired)

	assert.Equal(t, int64(1), countEvents(t, db, models.ActionRevokePermission))
}

func TestPermissionService_ListMarksExpired(t *testing.T) {
	svc, _ := newTestPermissions(t)

	past := time.Now().Add(-time.Minute)
	require.NoError(t, svc.Grant("u1", "reports", models.PermissionRead, &past, "admin"))
	require.NoError(t, svc.Grant("u2", "reports", models.PermissionRead, nil, "admin"))

	grants, err := svc.List(context.Background(), PermissionFilters{Resource: "reports"})
	require.NoError(t, err)
	require.Len(t, grants, 2)

	byUser := map[string]bool{}
	for _, g := range grants {
		byUser[g.UserID] = g.Expired
	}
	assert.True(t, byUser["u1"])
	assert.False(t, byUser["u2"])
}

func TestPermissionService_PurgeExpiredWritesOneBatchedEvent(t *testing.T) {
	svc, db := newTestPermissions(t)

	now := time.Now()
	past := now.Add(-time.Minute)
	require.NoError(t, svc.Grant("u1", "reports", models.PermissionRead, &past, "admin"))
	require.NoError(t, svc.Grant("u2", "reports", models.PermissionRead, &past, "admin"))
	require.NoError(t, svc.Grant("u3", "reports", models.PermissionRead, nil, "admin"))

	n, err := svc.PurgeExpired(now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var remaining []models.Permission
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, "u3", remaining[0].UserID)

	assert.Equal(t, int64(1), countEvents(t, db, models.ActionPermissionsPurged))
	var ev models.AuditEvent
	require.NoError(t, db.Where("action = ?", models.ActionPermissionsPurged).First(&ev).Error)
	assert.JSONEq(t, `{"purged":2}`, ev.Details)

	// Nothing left to purge: no extra event.
	n, err = svc.PurgeExpired(now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.Equal(t, int64(1), countEvents(t, db, models.ActionPermissionsPurged))
}
