package middleware

import (
	"github.com/gin-gonic/gin"
)

// ActorHeader carries the agent performing the request. Audit attribution is
// always explicit; there is no ambient "current user" lookup in the core.
const ActorHeader = "X-Actor-ID"

const actorKey = "actor_id"

// Actor copies the actor header into the gin context so handlers can thread
// it through the engine entry points as a plain parameter.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if actor := c.GetHeader(ActorHeader); actor != "" {
			c.Set(actorKey, actor)
		}
		c.Next()
	}
}

// ActorID returns the acting agent's ID, or "" when the header was absent.
func ActorID(c *gin.Context) string {
	return c.GetString(actorKey)
}
