// Package viewer serves the local HTTP API and event stream that a UI uses to
// drive calls.
package viewer

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	logging "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/petervdpas/peercall/internal/realtime"
	"github.com/petervdpas/peercall/internal/signaling"
	"github.com/petervdpas/peercall/internal/viewer/routes"
)

var log = logging.Logger("viewer")

type Viewer struct {
	Calls    routes.Calls
	Messages signaling.ConversationLog
	Hub      *realtime.Hub
	Logs     *LogBuffer
	Notifier *Notifier

	// Debug enables gin's request logging.
	Debug bool
}

// NewRouter builds the gin engine serving the API and /metrics.
func NewRouter(v Viewer) *gin.Engine {
	if !v.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if v.Debug {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(noCache())

	deps := routes.Deps{
		Calls:    v.Calls,
		Messages: v.Messages,
		Hub:      v.Hub,
	}
	if v.Logs != nil {
		deps.Logs = v.Logs
	}
	if v.Notifier != nil {
		deps.Tracks = func() any { return v.Notifier.Tracks() }
	}
	routes.Register(r, deps)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// Start serves the viewer on addr until ctx is done.
func Start(ctx context.Context, addr string, v Viewer) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(v),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("viewer listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
