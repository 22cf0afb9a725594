package app

import (
	"context"
	"fmt"
	"io"

	"github.com/petervdpas/peercall/internal/chat"
	"github.com/petervdpas/peercall/internal/config"
	"github.com/petervdpas/peercall/internal/redisstore"
	"github.com/petervdpas/peercall/internal/signaling"
	"github.com/petervdpas/peercall/internal/storage"
	"github.com/petervdpas/peercall/internal/util"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openStore opens the signaling store and conversation log selected by cfg.
func openStore(ctx context.Context, peerDir string, cfg config.Store) (signaling.Store, signaling.ConversationLog, io.Closer, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return signaling.NewMemoryStore(), chat.NewLog(chat.DefaultBufferSize), nopCloser{}, nil

	case config.BackendSQLite:
		db, err := storage.OpenFile(util.ResolvePath(peerDir, cfg.SQLitePath))
		if err != nil {
			return nil, nil, nil, err
		}
		db.SetPollInterval(cfg.PollInterval())
		return db, db, db, nil

	case config.BackendRedis:
		rs, err := redisstore.Open(ctx, redisstore.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			Prefix:       cfg.Redis.Prefix,
			PollInterval: cfg.PollInterval(),
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return rs, rs, rs, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}
