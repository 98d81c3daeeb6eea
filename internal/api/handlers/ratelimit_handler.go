package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shieldops/bastion/internal/api/middleware"
	"github.com/shieldops/bastion/internal/services"
)

type RateLimitHandler struct {
	service *services.RateLimitService
}

func NewRateLimitHandler(service *services.RateLimitService) *RateLimitHandler {
	return &RateLimitHandler{service: service}
}

// List returns every configured rule with its live window state.
func (h *RateLimitHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Snapshots(time.Now()))
}

type SetRuleRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	Limit    int    `json:"limit" binding:"required"`
	Window   int    `json:"window_seconds" binding:"required"`
}

// Set creates or updates the quota for one endpoint key.
func (h *RateLimitHandler) Set(c *gin.Context) {
	var req SetRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	err := h.service.SetRule(req.Endpoint, req.Limit, req.Window, middleware.GetActor(c))
	switch {
	case errors.Is(err, services.ErrInvalidRule):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrActorRequired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save rate limit rule"})
	default:
		c.JSON(http.StatusOK, gin.H{"message": "Rate limit rule saved"})
	}
}
