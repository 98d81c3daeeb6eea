package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shieldops/bastion/internal/api/middleware"
	"github.com/shieldops/bastion/internal/services"
)

type BlocklistHandler struct {
	service *services.BlocklistService
}

func NewBlocklistHandler(service *services.BlocklistService) *BlocklistHandler {
	return &BlocklistHandler{service: service}
}

// List returns all block entries, newest first.
func (h *BlocklistHandler) List(c *gin.Context) {
	entries, err := h.service.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list blocked IPs"})
		return
	}
	c.JSON(http.StatusOK, entries)
}

type BlockRequest struct {
	IP        string     `json:"ip" binding:"required"`
	Reason    string     `json:"reason"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// Block adds or refreshes a manual block entry.
func (h *BlocklistHandler) Block(c *gin.Context) {
	var req BlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	err := h.service.Block(req.IP, req.Reason, req.ExpiresAt, middleware.GetActor(c))
	switch {
	case errors.Is(err, services.ErrInvalidIP):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrActorRequired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to block IP"})
	default:
		c.JSON(http.StatusOK, gin.H{"message": "IP blocked"})
	}
}

type UnblockRequest struct {
	IP string `json:"ip" binding:"required"`
}

// Unblock removes a block entry.
func (h *BlocklistHandler) Unblock(c *gin.Context) {
	var req UnblockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	err := h.service.Unblock(req.IP, middleware.GetActor(c))
	switch {
	case errors.Is(err, services.ErrBlockNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrActorRequired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to unblock IP"})
	default:
		c.JSON(http.StatusOK, gin.H{"message": "IP unblocked"})
	}
}
