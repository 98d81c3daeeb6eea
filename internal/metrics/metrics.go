package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	rateLimitChecksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bastion_ratelimit_checks_total",
		Help: "Total number of requests evaluated by the rate limiter",
	})
	rateLimitDeniedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bastion_ratelimit_denied_total",
		Help: "Total number of requests denied by the rate limiter",
	})
	blocklistRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bastion_blocklist_rejected_total",
		Help: "Total number of requests rejected because the source IP is blocked",
	})
	autoBlocksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bastion_auto_blocks_total",
		Help: "Total number of IPs blocked automatically by threat escalation",
	})
	auditWriteFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bastion_audit_write_failures_total",
		Help: "Total number of failed audit log writes",
	})
	unauditedChangesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bastion_unaudited_changes_total",
		Help: "Total number of committed privileged mutations whose audit write failed",
	})
	blockedIPs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bastion_blocked_ips",
		Help: "Current number of entries on the IP block list",
	})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(
		rateLimitChecksTotal,
		rateLimitDeniedTotal,
		blocklistRejectedTotal,
		autoBlocksTotal,
		auditWriteFailuresTotal,
		unauditedChangesTotal,
		blockedIPs,
	)
}

// IncRateLimitCheck increments the evaluated requests counter.
func IncRateLimitCheck() { rateLimitChecksTotal.Inc() }

// IncRateLimitDenied increments the denied requests counter.
func IncRateLimitDenied() { rateLimitDeniedTotal.Inc() }

// IncBlocklistRejection increments the blocked-source rejection counter.
func IncBlocklistRejection() { blocklistRejectedTotal.Inc() }

// IncAutoBlock increments the automatic block counter.
func IncAutoBlock() { autoBlocksTotal.Inc() }

// IncAuditWriteFailure increments the failed audit write counter.
func IncAuditWriteFailure() { auditWriteFailuresTotal.Inc() }

// IncUnauditedChange increments the consistency-risk counter.
func IncUnauditedChange() { unauditedChangesTotal.Inc() }

// SetBlockedIPs records the current block list size.
func SetBlockedIPs(n int) { blockedIPs.Set(float64(n)) }
