package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBlockEntryExpired(t *testing.T) {
	now := time.Now()

	permanent := BlockEntry{IPAddress: "10.0.0.1"}
	assert.False(t, permanent.Expired(now))

	future := now.Add(time.Hour)
	timed := BlockEntry{IPAddress: "10.0.0.1", ExpiresAt: &future}
	assert.False(t, timed.Expired(now))
	assert.True(t, timed.Expired(future))
	assert.True(t, timed.Expired(future.Add(time.Second)))
}

func TestPermissionExpiredAt(t *testing.T) {
	now := time.Now()

	open := Permission{UserID: "u1"}
	assert.False(t, open.ExpiredAt(now))

	exp := now.Add(time.Minute)
	timed := Permission{UserID: "u1", ExpiresAt: &exp}
	assert.False(t, timed.ExpiredAt(now))
	assert.True(t, timed.ExpiredAt(exp))
}

func TestValidSeverity(t *testing.T) {
	for _, s := range []string{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical} {
		assert.True(t, ValidSeverity(s), s)
	}
	assert.False(t, ValidSeverity("urgent"))
	assert.False(t, ValidSeverity(""))
}

func TestValidPermission(t *testing.T) {
	for _, p := range []string{PermissionRead, PermissionWrite, PermissionDelete, PermissionAdmin} {
		assert.True(t, ValidPermission(p), p)
	}
	assert.False(t, ValidPermission("fly"))
	assert.False(t, ValidPermission(""))
}
