package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration sourced from environment variables.
// The policy knobs (default-allow, fail-open, thresholds, cooldown) are
// deployment decisions, not engine defaults baked into code.
type Config struct {
	Environment  string
	HTTPPort     string
	DatabasePath string
	LogDir       string
	Debug        bool

	// RateLimitDefaultAllow controls what Check returns for an endpoint with
	// no configured rule. It applies uniformly to every endpoint.
	RateLimitDefaultAllow bool

	// EnforceFailOpen controls the gate's verdict when the enforcement path
	// itself fails: true admits the request, false rejects it. Either way an
	// operational alert is raised.
	EnforceFailOpen bool

	// AuditWriteTimeout bounds every audit log write so slow storage cannot
	// stall request-serving goroutines.
	AuditWriteTimeout time.Duration

	FailedLoginThreshold int
	FailedLoginWindow    time.Duration
	ObservationWindow    time.Duration

	// AutoBlockCooldown is the lifetime of automatic block entries; zero
	// makes them permanent.
	AutoBlockCooldown time.Duration
	ThreatRetention   time.Duration

	// AlertURLs are shoutrrr destinations for operational alerts.
	AlertURLs []string
}

// Load reads env vars and falls back to defaults so the server can boot with zero configuration.
func Load() (Config, error) {
	cfg := Config{
		Environment:  getEnv("BASTION_ENV", "development"),
		HTTPPort:     getEnv("BASTION_HTTP_PORT", "8080"),
		DatabasePath: getEnv("BASTION_DB_PATH", filepath.Join("data", "bastion.db")),
		LogDir:       getEnv("BASTION_LOG_DIR", filepath.Join("data", "logs")),
		Debug:        getEnvBool("BASTION_DEBUG", false),

		RateLimitDefaultAllow: getEnvBool("BASTION_RATELIMIT_DEFAULT_ALLOW", true),
		EnforceFailOpen:       getEnvBool("BASTION_ENFORCE_FAIL_OPEN", true),
		AuditWriteTimeout:     getEnvDuration("BASTION_AUDIT_WRITE_TIMEOUT", 2*time.Second),

		FailedLoginThreshold: getEnvInt("BASTION_FAILED_LOGIN_THRESHOLD", 5),
		FailedLoginWindow:    getEnvDuration("BASTION_FAILED_LOGIN_WINDOW", 10*time.Minute),
		ObservationWindow:    getEnvDuration("BASTION_OBSERVATION_WINDOW", 24*time.Hour),
		AutoBlockCooldown:    getEnvDuration("BASTION_AUTOBLOCK_COOLDOWN", time.Hour),
		ThreatRetention:      getEnvDuration("BASTION_THREAT_RETENTION", 30*24*time.Hour),

		AlertURLs: splitList(getEnv("BASTION_ALERT_URLS", "")),
	}

	if cfg.FailedLoginThreshold < 1 {
		return Config{}, fmt.Errorf("BASTION_FAILED_LOGIN_THRESHOLD must be positive")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure data directory: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
