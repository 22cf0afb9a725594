package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// defaultMessageLimit bounds a history request without ?limit.
const defaultMessageLimit = 200

// registerConversationRoutes wires the call log endpoints.
//
//	GET /api/conversations/:id/messages?limit=N  last N lines, oldest first
func registerConversationRoutes(api *gin.RouterGroup, d Deps) {
	if d.Messages == nil {
		return
	}

	api.GET("/conversations/:id/messages", func(c *gin.Context) {
		id := c.Param("id")
		msgs, err := d.Messages.Messages(c.Request.Context(), id, queryInt(c, "limit", defaultMessageLimit))
		if err != nil {
			writeError(c, err)
			return
		}
		if msgs == nil {
			c.JSON(http.StatusOK, []any{})
			return
		}
		c.JSON(http.StatusOK, msgs)
	})
}
