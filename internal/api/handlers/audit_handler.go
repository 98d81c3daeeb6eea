package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shieldops/bastion/internal/services"
)

type AuditHandler struct {
	service *services.AuditService
}

func NewAuditHandler(service *services.AuditService) *AuditHandler {
	return &AuditHandler{service: service}
}

// parseFilters builds AuditFilters from query parameters. Dates accept
// RFC 3339 or plain YYYY-MM-DD.
func parseFilters(c *gin.Context) (services.AuditFilters, error) {
	f := services.AuditFilters{
		ActorID:  c.Query("actor_id"),
		Action:   c.Query("action"),
		Resource: c.Query("resource"),
		SourceIP: c.Query("source_ip"),
	}
	if v := c.Query("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("invalid success value %q", v)
		}
		f.Success = &b
	}
	if v := c.Query("date_from"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			return f, fmt.Errorf("invalid date_from value %q", v)
		}
		f.DateFrom = &t
	}
	if v := c.Query("date_to"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			return f, fmt.Errorf("invalid date_to value %q", v)
		}
		f.DateTo = &t
	}
	return f, nil
}

func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02", v, time.Local)
}

// Query returns one page of audit events plus the total match count.
func (h *AuditHandler) Query(c *gin.Context) {
	f, err := parseFilters(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page value"})
		return
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "50"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page_size value"})
		return
	}

	events, total, err := h.service.Query(c.Request.Context(), f, page, pageSize)
	switch {
	case errors.Is(err, services.ErrInvalidPage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query audit events"})
	default:
		c.JSON(http.StatusOK, gin.H{
			"events":    events,
			"total":     total,
			"page":      page,
			"page_size": pageSize,
		})
	}
}

// Stats returns the dashboard summary aggregates.
func (h *AuditHandler) Stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute audit stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Export streams matching events as a CSV download.
func (h *AuditHandler) Export(c *gin.Context) {
	f, err := parseFilters(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	filename := "audit-" + time.Now().Format("2006-01-02") + ".csv"
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Status(http.StatusOK)

	if err := h.service.ExportCSV(c.Request.Context(), f, c.Writer); err != nil {
		// Headers are already on the wire; all we can do is log and cut off.
		_ = c.Error(err)
	}
}
