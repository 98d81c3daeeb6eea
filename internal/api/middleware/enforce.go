package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shieldops/bastion/internal/metrics"
	"github.com/shieldops/bastion/internal/services"
)

// Gate is the enforcement pipeline every API request passes through: block
// list first, then the endpoint's rate limit. A panic inside either check is
// contained here and resolved by the failOpen policy instead of taking the
// whole request path down.
func Gate(blocklist *services.BlocklistService, limits *services.RateLimitService, alerts *services.AlertService, failOpen bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				GetRequestLogger(c).Errorf("enforcement check panicked: %v", r)
				if alerts != nil {
					alerts.Notify("enforcement check failure", fmt.Sprintf("%v", r))
				}
				if failOpen {
					c.Next()
					return
				}
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "enforcement unavailable"})
			}
		}()

		now := time.Now()
		sourceIP := c.ClientIP()

		if blocklist.IsBlocked(sourceIP, now) {
			metrics.IncBlocklistRejection()
			GetRequestLogger(c).WithField("client", sourceIP).Warn("request from blocked IP rejected")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "source address is blocked"})
			return
		}

		endpointKey := c.Request.Method + " " + c.FullPath()
		decision := limits.Check(endpointKey, sourceIP, now)
		if !decision.Allowed {
			if decision.RetryAfter > 0 {
				seconds := int(decision.RetryAfter.Round(time.Second) / time.Second)
				if seconds < 1 {
					seconds = 1
				}
				c.Header("Retry-After", strconv.Itoa(seconds))
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":  "rate limit exceeded",
				"reason": string(decision.Reason),
			})
			return
		}

		c.Next()
	}
}
