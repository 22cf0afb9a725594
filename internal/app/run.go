package app

import (
	"context"
	"errors"
	"fmt"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/peercall/internal/call"
	"github.com/petervdpas/peercall/internal/config"
	"github.com/petervdpas/peercall/internal/realtime"
	"github.com/petervdpas/peercall/internal/viewer"
)

var log = logging.Logger("app")

type Options struct {
	PeerDir string
	CfgPath string
	Cfg     config.Config

	// Media and Transport default to the capture devices and pion.
	Media     call.MediaSource
	Transport call.TransportFactory
}

// Run starts one peer and blocks until ctx is done.
func Run(ctx context.Context, opt Options) error {
	cfg := opt.Cfg
	setupLogging(cfg.Log)

	logBuf := viewer.NewLogBuffer(800)
	pipe := logging.NewPipeReader(logging.PipeFormat(logging.PlaintextOutput))
	defer pipe.Close()
	go func() { _ = logBuf.Follow(pipe) }()

	logBanner(opt.PeerDir, opt.CfgPath, cfg)

	store, convs, closer, err := openStore(ctx, opt.PeerDir, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closer.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hub := realtime.NewHub()
	defer hub.Close()
	notifier := viewer.NewNotifier(ctx, hub)

	media := opt.Media
	if media == nil {
		media = call.NewDeviceSource()
	}
	transport := opt.Transport
	if transport == nil {
		transport = call.NewPeerTransport
	}

	mgr, err := call.New(call.Options{
		Self: call.Peer{
			ID:     cfg.Identity.ID,
			Name:   cfg.Identity.Name,
			Avatar: cfg.Identity.Avatar,
		},
		Store:            store,
		Conversations:    convs,
		Notifier:         notifier,
		Media:            media,
		Transport:        transport,
		TransportConfig:  transportConfig(cfg.Call),
		RingTimeout:      cfg.Call.RingTimeout(),
		FailureGrace:     cfg.Call.FailureGrace(),
		ErrorNoticeDelay: cfg.Call.ErrorNoticeDelay(),
	})
	if err != nil {
		return fmt.Errorf("start call registry: %w", err)
	}
	defer mgr.Close()

	states, unsubscribe := mgr.Subscribe()
	defer unsubscribe()
	go realtime.Forward(ctx, hub, realtime.TypeState, states)

	if opt.CfgPath != "" {
		err := config.Watch(ctx, opt.CfgPath, func(next config.Config) {
			if next.Identity.ID != cfg.Identity.ID || next.Store != cfg.Store {
				log.Warnw("identity and store changes apply after restart")
			}
			if lvl, err := logging.LevelFromString(next.Log.Level); err == nil {
				logging.SetAllLoggers(lvl)
			}
			mgr.Reconfigure(transportConfig(next.Call), next.Call.RingTimeout(),
				next.Call.FailureGrace(), next.Call.ErrorNoticeDelay())
		})
		if err != nil {
			log.Warnw("config hot reload disabled", "err", err)
		}
	}

	if cfg.Viewer.HTTPAddr == "" {
		log.Info("viewer disabled")
		<-ctx.Done()
		return nil
	}

	addr, url := NormalizeLocalViewer(cfg.Viewer.HTTPAddr)
	log.Infow("viewer", "url", url)
	err = viewer.Start(ctx, addr, viewer.Viewer{
		Calls:    mgr,
		Messages: convs,
		Hub:      hub,
		Logs:     logBuf,
		Notifier: notifier,
		Debug:    cfg.Viewer.Debug,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("viewer: %w", err)
	}
	return nil
}
