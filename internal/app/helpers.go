// internal/app/helpers.go
package app

import (
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/peercall/internal/call"
	"github.com/petervdpas/peercall/internal/config"
)

// NormalizeLocalViewer ensures the viewer only binds to localhost
// and returns the listen addr and browser URL.
func NormalizeLocalViewer(cfgAddr string) (listenAddr string, url string) {
	a := strings.TrimSpace(cfgAddr)

	if strings.HasPrefix(a, ":") {
		a = "127.0.0.1" + a
	}
	if strings.HasPrefix(a, "0.0.0.0:") {
		a = "127.0.0.1:" + strings.TrimPrefix(a, "0.0.0.0:")
	}
	return a, "http://" + a
}

// setupLogging applies the configured level and format to every go-log logger.
func setupLogging(cfg config.Log) {
	lvl, err := logging.LevelFromString(cfg.Level)
	if err != nil {
		lvl = logging.LevelInfo
	}
	format := logging.ColorizedOutput
	switch cfg.Format {
	case "nocolor":
		format = logging.PlaintextOutput
	case "json":
		format = logging.JSONOutput
	}
	logging.SetupLogging(logging.Config{
		Format: format,
		Stderr: true,
		Level:  lvl,
	})
}

func transportConfig(c config.Call) call.TransportConfig {
	return call.TransportConfig{
		ICEServers:          c.ICEServers,
		DisconnectedTimeout: time.Duration(c.ICEDisconnectedSec) * time.Second,
		FailedTimeout:       time.Duration(c.ICEFailedSec) * time.Second,
		KeepAliveInterval:   time.Duration(c.ICEKeepAliveSec) * time.Second,
		KeyframeInterval:    time.Duration(c.KeyframeIntervalSec) * time.Second,
	}
}

func logBanner(peerDir, cfgPath string, cfg config.Config) {
	log.Info("────────────────────────────────────────")
	log.Infow("peer scope", "dir", peerDir, "config", cfgPath)
	log.Infow("identity", "id", cfg.Identity.ID, "name", cfg.Identity.Name)
	log.Infow("signaling store", "backend", cfg.Store.Backend)
	log.Info("────────────────────────────────────────")
}
