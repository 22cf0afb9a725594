package routes

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/peercall/internal/realtime"
)

var log = logging.Logger("viewer")

const (
	wsWriteWait  = 5 * time.Second
	wsPingPeriod = 30 * time.Second
	wsPongWait   = 2 * wsPingPeriod
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16384,
	// The viewer binds to localhost; allow any local page to connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// registerEventRoutes registers GET /api/call/events, a websocket that first
// sends the current state and then every envelope published on the hub.
func registerEventRoutes(api *gin.RouterGroup, d Deps) {
	if d.Hub == nil {
		return
	}

	api.GET("/call/events", func(c *gin.Context) {
		conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Debugw("websocket upgrade failed", "err", err)
			return
		}
		defer conn.Close()

		envs, cancel := d.Hub.Subscribe()
		defer cancel()

		if d.Calls != nil {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(&realtime.Envelope{
				Type:    realtime.TypeState,
				Payload: d.Calls.State(),
				At:      time.Now(),
			}); err != nil {
				return
			}
		}

		// Reader: only here to notice the peer going away and answer pings.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			conn.SetReadLimit(4096)
			_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(wsPongWait))
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()

		for {
			select {
			case <-gone:
				return
			case <-c.Request.Context().Done():
				return
			case env, ok := <-envs:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(wsWriteWait))
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteJSON(env); err != nil {
					return
				}
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			}
		}
	})
}
