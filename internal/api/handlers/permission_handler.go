package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shieldops/bastion/internal/api/middleware"
	"github.com/shieldops/bastion/internal/services"
)

type PermissionHandler struct {
	service *services.PermissionService
}

func NewPermissionHandler(service *services.PermissionService) *PermissionHandler {
	return &PermissionHandler{service: service}
}

// List returns grants, optionally filtered by user, resource or permission.
func (h *PermissionHandler) List(c *gin.Context) {
	grants, err := h.service.List(c.Request.Context(), services.PermissionFilters{
		UserID:     c.Query("user_id"),
		Resource:   c.Query("resource"),
		Permission: c.Query("permission"),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list permissions"})
		return
	}
	c.JSON(http.StatusOK, grants)
}

type GrantRequest struct {
	UserID     string     `json:"user_id" binding:"required"`
	Resource   string     `json:"resource" binding:"required"`
	Permission string     `json:"permission" binding:"required"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

// Grant adds or refreshes one (user, resource, permission) tuple.
func (h *PermissionHandler) Grant(c *gin.Context) {
	var req GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	err := h.service.Grant(req.UserID, req.Resource, req.Permission, req.ExpiresAt, middleware.GetActor(c))
	switch {
	case errors.Is(err, services.ErrInvalidPermission):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrActorRequired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to grant permission"})
	default:
		c.JSON(http.StatusOK, gin.H{"message": "Permission granted"})
	}
}

type RevokeRequest struct {
	UserID     string `json:"user_id" binding:"required"`
	Resource   string `json:"resource" binding:"required"`
	Permission string `json:"permission" binding:"required"`
}

// Revoke removes one tuple.
func (h *PermissionHandler) Revoke(c *gin.Context) {
	var req RevokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	err := h.service.Revoke(req.UserID, req.Resource, req.Permission, middleware.GetActor(c))
	switch {
	case errors.Is(err, services.ErrPermissionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrActorRequired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to revoke permission"})
	default:
		c.JSON(http.StatusOK, gin.H{"message": "Permission revoked"})
	}
}

// Check reports whether a tuple is currently effective.
func (h *PermissionHandler) Check(c *gin.Context) {
	userID := c.Query("user_id")
	resource := c.Query("resource")
	permission := c.Query("permission")
	if userID == "" || resource == "" || permission == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id, resource and permission are required"})
		return
	}

	allowed, err := h.service.Check(c.Request.Context(), userID, resource, permission, time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check permission"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"allowed": allowed})
}
