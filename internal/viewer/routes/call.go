package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/petervdpas/peercall/internal/call"
	"github.com/petervdpas/peercall/internal/signaling"
)

type startRequest struct {
	ReceiverID     string             `json:"receiverId"`
	ReceiverName   string             `json:"receiverName"`
	ReceiverAvatar string             `json:"receiverAvatar"`
	Type           signaling.CallType `json:"type"`
	ConversationID string             `json:"conversationId"`
}

// registerCallRoutes registers the call API endpoints.
func registerCallRoutes(api *gin.RouterGroup, d Deps) {
	if d.Calls == nil {
		return
	}
	calls := d.Calls
	g := api.Group("/call")

	// GET /api/call/state: what the UI renders.
	g.GET("/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, calls.State())
	})

	// GET /api/call/debug: live session status for testing without a UI.
	g.GET("/debug", func(c *gin.Context) {
		out := gin.H{"state": calls.State()}
		if st, ok := calls.ActiveStatus(); ok {
			out["session"] = st
		}
		if d.Tracks != nil {
			out["tracks"] = d.Tracks()
		}
		c.JSON(http.StatusOK, out)
	})

	g.POST("/start", func(c *gin.Context) {
		var req startRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid body: "+err.Error())
			return
		}
		if req.ReceiverID == "" {
			badRequest(c, "missing receiverId")
			return
		}
		if req.Type == "" {
			req.Type = signaling.CallTypeAudio
		}
		if !req.Type.Valid() {
			badRequest(c, "type must be audio or video")
			return
		}
		active, err := calls.StartCall(c.Request.Context(), call.Peer{
			ID:     req.ReceiverID,
			Name:   req.ReceiverName,
			Avatar: req.ReceiverAvatar,
		}, req.Type, req.ConversationID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, active)
	})

	g.POST("/answer", func(c *gin.Context) {
		if err := calls.AnswerCall(c.Request.Context()); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "answered"})
	})

	g.POST("/decline", func(c *gin.Context) {
		if err := calls.DeclineCall(c.Request.Context()); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "declined"})
	})

	// The local side is torn down even when the store write fails; the
	// error is still reported.
	g.POST("/end", func(c *gin.Context) {
		if err := calls.EndActiveCall(c.Request.Context()); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ended"})
	})

	g.POST("/minimize", func(c *gin.Context) {
		var req struct {
			Minimized *bool `json:"minimized"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Minimized == nil {
			badRequest(c, "missing minimized")
			return
		}
		calls.SetMinimized(*req.Minimized)
		c.JSON(http.StatusOK, gin.H{"isMinimized": *req.Minimized})
	})

	toggle := func(field string, fn func() (bool, error)) gin.HandlerFunc {
		return func(c *gin.Context) {
			v, err := fn()
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{field: v})
		}
	}
	g.POST("/toggle-audio", toggle("muted", calls.ToggleAudio))
	g.POST("/toggle-video", toggle("videoDisabled", calls.ToggleVideo))
	g.POST("/toggle-speaker", toggle("speaker", calls.ToggleSpeaker))
}
