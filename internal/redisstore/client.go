// Package redisstore is the Redis backend of the signaling store, for
// clients that run on different hosts. Writes go through Lua scripts so the
// global revision, the record and the receiver's inbox move together;
// watchers are woken by pub/sub and fall back to polling.
package redisstore

import (
	"context"
	"fmt"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/redis/go-redis/v9"
)

var log = logging.Logger("redisstore")

// Config controls the redis client and key layout.
type Config struct {
	Addr     string
	Password string
	DB       int

	// Prefix namespaces every key. Defaults to "peercall:".
	Prefix string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	PingTimeout  time.Duration

	// PollInterval bounds how long a watcher waits when a notification is lost.
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.Prefix == "" {
		out.Prefix = "peercall:"
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 20
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	if out.PollInterval <= 0 {
		out.PollInterval = time.Second
	}
	return out
}

// Open connects to Redis and validates connectivity via PING.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	log.Debugw("redis connected", "addr", cfg.Addr, "db", cfg.DB)
	return New(rdb, cfg), nil
}

// New wraps an existing client. The store owns rdb from here on.
func New(rdb *redis.Client, cfg Config) *Store {
	cfg = cfg.withDefaults()
	return &Store{rdb: rdb, prefix: cfg.Prefix, poll: cfg.PollInterval, now: time.Now}
}

func (s *Store) revKey() string                 { return s.prefix + "rev" }
func (s *Store) callKey(id string) string       { return s.prefix + "call:" + id }
func (s *Store) candidatesKey(id string) string { return s.prefix + "call:" + id + ":candidates" }
func (s *Store) inboxPrefix() string            { return s.prefix + "inbox:" }
func (s *Store) inboxKey(receiver string) string {
	return s.inboxPrefix() + receiver
}
func (s *Store) conversationKey(id string) string { return s.prefix + "conversation:" + id }

// events returns the pub/sub channel paired with key.
func events(key string) string { return key + ":events" }
