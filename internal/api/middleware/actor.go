package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ActorHeader carries the administrative identity on mutating requests. The
// engine does not authenticate it; the deployment's auth proxy is expected to
// set it after verifying the session.
const ActorHeader = "X-Actor-ID"

const actorKey = "actor"

// RequireActor rejects mutating requests that carry no administrative
// identity. Handlers read the verified value through GetActor.
func RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := strings.TrimSpace(c.GetHeader(ActorHeader))
		if actor == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "actor identity required"})
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

// GetActor returns the actor identity set by RequireActor, or "".
func GetActor(c *gin.Context) string {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(string); ok {
			return actor
		}
	}
	return ""
}
