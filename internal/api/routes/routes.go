package routes

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/shieldops/bastion/internal/api/handlers"
	"github.com/shieldops/bastion/internal/api/middleware"
	"github.com/shieldops/bastion/internal/config"
	"github.com/shieldops/bastion/internal/metrics"
	"github.com/shieldops/bastion/internal/models"
	"github.com/shieldops/bastion/internal/services"
)

// Services holds the wired service layer so the scheduler and tests can
// reach it after route registration.
type Services struct {
	Alerts      *services.AlertService
	Audit       *services.AuditService
	Blocklist   *services.BlocklistService
	Threats     *services.ThreatService
	RateLimits  *services.RateLimitService
	Permissions *services.PermissionService
}

// Register wires up API routes and performs automatic migrations.
func Register(router *gin.Engine, db *gorm.DB, cfg config.Config) (*Services, error) {
	if err := db.AutoMigrate(
		&models.AuditEvent{},
		&models.BlockEntry{},
		&models.RateLimitRule{},
		&models.ThreatIndicator{},
		&models.Permission{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	alerts := services.NewAlertService(cfg.AlertURLs)
	audit := services.NewAuditService(db, alerts, cfg.AuditWriteTimeout)
	blocklist, err := services.NewBlocklistService(db, audit)
	if err != nil {
		return nil, err
	}
	threats := services.NewThreatService(db, blocklist, services.ThreatConfig{
		ObservationWindow:    cfg.ObservationWindow,
		FailedLoginThreshold: cfg.FailedLoginThreshold,
		FailedLoginWindow:    cfg.FailedLoginWindow,
		AutoBlockCooldown:    cfg.AutoBlockCooldown,
		Retention:            cfg.ThreatRetention,
	})
	limits, err := services.NewRateLimitService(db, audit, threats, cfg.RateLimitDefaultAllow)
	if err != nil {
		return nil, err
	}
	permissions := services.NewPermissionService(db, audit)

	router.GET("/api/v1/health", handlers.HealthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	api.Use(middleware.Gate(blocklist, limits, alerts, cfg.EnforceFailOpen))

	rateLimitHandler := handlers.NewRateLimitHandler(limits)
	blocklistHandler := handlers.NewBlocklistHandler(blocklist)
	threatHandler := handlers.NewThreatHandler(threats)
	permissionHandler := handlers.NewPermissionHandler(permissions)
	auditHandler := handlers.NewAuditHandler(audit)

	api.GET("/rate-limits", rateLimitHandler.List)
	api.GET("/blocked-ips", blocklistHandler.List)
	api.GET("/threats", threatHandler.List)
	api.GET("/permissions", permissionHandler.List)
	api.GET("/permissions/check", permissionHandler.Check)
	api.GET("/audit", auditHandler.Query)
	api.GET("/audit/stats", auditHandler.Stats)
	api.GET("/audit/export", auditHandler.Export)

	admin := api.Group("/")
	admin.Use(middleware.RequireActor())
	{
		admin.POST("/rate-limits", rateLimitHandler.Set)
		admin.POST("/blocked-ips", blocklistHandler.Block)
		admin.POST("/blocked-ips/unblock", blocklistHandler.Unblock)
		admin.POST("/permissions/grant", permissionHandler.Grant)
		admin.POST("/permissions/revoke", permissionHandler.Revoke)
	}

	return &Services{
		Alerts:      alerts,
		Audit:       audit,
		Blocklist:   blocklist,
		Threats:     threats,
		RateLimits:  limits,
		Permissions: permissions,
	}, nil
}
