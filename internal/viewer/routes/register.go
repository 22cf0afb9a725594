// internal/viewer/routes/register.go
package routes

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/petervdpas/peercall/internal/call"
	"github.com/petervdpas/peercall/internal/realtime"
	"github.com/petervdpas/peercall/internal/signaling"
)

// Calls is the call registry as driven by the HTTP API.
type Calls interface {
	State() call.State
	StartCall(ctx context.Context, receiver call.Peer, callType signaling.CallType, conversationID string) (call.ActiveCall, error)
	AnswerCall(ctx context.Context) error
	DeclineCall(ctx context.Context) error
	EndActiveCall(ctx context.Context) error
	SetMinimized(minimized bool)
	ToggleAudio() (bool, error)
	ToggleVideo() (bool, error)
	ToggleSpeaker() (bool, error)
	ActiveStatus() (call.SessionStatus, bool)
}

type Logs interface {
	ServeJSON(c *gin.Context)
	ServeStream(c *gin.Context)
}

type Deps struct {
	Calls    Calls
	Messages signaling.ConversationLog
	Hub      *realtime.Hub
	Logs     Logs

	// Tracks reports the remote media currently being received.
	Tracks func() any
}

func Register(r gin.IRouter, d Deps) {
	api := r.Group("/api")

	registerAPILogRoutes(api, d)
	registerCallRoutes(api, d)
	registerEventRoutes(api, d)
	registerConversationRoutes(api, d)
}
