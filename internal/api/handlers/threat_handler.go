package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shieldops/bastion/internal/services"
)

type ThreatHandler struct {
	service *services.ThreatService
}

func NewThreatHandler(service *services.ThreatService) *ThreatHandler {
	return &ThreatHandler{service: service}
}

// List returns indicator aggregates, optionally filtered by type, severity
// or value.
func (h *ThreatHandler) List(c *gin.Context) {
	indicators, err := h.service.Summarize(c.Request.Context(), services.ThreatFilters{
		Type:     c.Query("type"),
		Severity: c.Query("severity"),
		Value:    c.Query("value"),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list threat indicators"})
		return
	}
	c.JSON(http.StatusOK, indicators)
}
