// Package config holds the peer's JSON configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/viper"

	"github.com/petervdpas/peercall/internal/util"
)

var log = logging.Logger("config")

// EnvPrefix is the prefix of environment overrides, e.g.
// PEERCALL_CALL_RING_TIMEOUT_SEC=45.
const EnvPrefix = "PEERCALL"

type Config struct {
	Identity Identity `json:"identity" mapstructure:"identity"`
	Store    Store    `json:"store" mapstructure:"store"`
	Call     Call     `json:"call" mapstructure:"call"`
	Viewer   Viewer   `json:"viewer" mapstructure:"viewer"`
	Log      Log      `json:"log" mapstructure:"log"`
}

type Identity struct {
	ID     string `json:"id" mapstructure:"id"`
	Name   string `json:"name" mapstructure:"name"`
	Avatar string `json:"avatar" mapstructure:"avatar"`
}

type Store struct {
	// Backend is "memory", "sqlite" or "redis".
	Backend string `json:"backend" mapstructure:"backend"`

	// SQLite database file, relative to the peer directory.
	SQLitePath     string `json:"sqlite_path" mapstructure:"sqlite_path"`
	PollIntervalMs int    `json:"poll_interval_ms" mapstructure:"poll_interval_ms"`

	Redis Redis `json:"redis" mapstructure:"redis"`
}

type Redis struct {
	Addr     string `json:"addr" mapstructure:"addr"`
	Password string `json:"password" mapstructure:"password"`
	DB       int    `json:"db" mapstructure:"db"`
	Prefix   string `json:"prefix" mapstructure:"prefix"`
}

type Call struct {
	RingTimeoutSec     int `json:"ring_timeout_sec" mapstructure:"ring_timeout_sec"`
	FailureGraceMs     int `json:"failure_grace_ms" mapstructure:"failure_grace_ms"`
	ErrorNoticeDelayMs int `json:"error_notice_delay_ms" mapstructure:"error_notice_delay_ms"`

	ICEServers          []string `json:"ice_servers" mapstructure:"ice_servers"`
	ICEDisconnectedSec  int      `json:"ice_disconnected_sec" mapstructure:"ice_disconnected_sec"`
	ICEFailedSec        int      `json:"ice_failed_sec" mapstructure:"ice_failed_sec"`
	ICEKeepAliveSec     int      `json:"ice_keepalive_sec" mapstructure:"ice_keepalive_sec"`
	KeyframeIntervalSec int      `json:"keyframe_interval_sec" mapstructure:"keyframe_interval_sec"`
}

type Viewer struct {
	HTTPAddr string `json:"http_addr" mapstructure:"http_addr"`
	Debug    bool   `json:"debug" mapstructure:"debug"`
}

type Log struct {
	Level  string `json:"level" mapstructure:"level"`
	Format string `json:"format" mapstructure:"format"` // "color", "nocolor" or "json"
}

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

func Default() Config {
	return Config{
		Identity: Identity{
			Name: "peer",
		},
		Store: Store{
			Backend:        BackendSQLite,
			SQLitePath:     "data/calls.db",
			PollIntervalMs: 200,
			Redis: Redis{
				Addr:   "127.0.0.1:6379",
				Prefix: "peercall:",
			},
		},
		Call: Call{
			RingTimeoutSec:      30,
			FailureGraceMs:      2000,
			ErrorNoticeDelayMs:  500,
			ICEServers:          []string{"stun:stun.l.google.com:19302"},
			ICEDisconnectedSec:  30,
			ICEFailedSec:        120,
			ICEKeepAliveSec:     2,
			KeyframeIntervalSec: 3,
		},
		Viewer: Viewer{
			HTTPAddr: "127.0.0.1:8790",
		},
		Log: Log{
			Level:  "info",
			Format: "color",
		},
	}
}

func (c *Config) Validate() error {
	// Identity
	if strings.TrimSpace(c.Identity.ID) == "" {
		return errors.New("identity.id is required")
	}
	if strings.TrimSpace(c.Identity.Name) == "" {
		return errors.New("identity.name is required")
	}

	// Store
	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQLite:
		if strings.TrimSpace(c.Store.SQLitePath) == "" {
			return errors.New("store.sqlite_path is required for the sqlite backend")
		}
		if c.Store.PollIntervalMs <= 0 {
			return errors.New("store.poll_interval_ms must be > 0")
		}
	case BackendRedis:
		if strings.TrimSpace(c.Store.Redis.Addr) == "" {
			return errors.New("store.redis.addr is required for the redis backend")
		}
		if c.Store.Redis.DB < 0 {
			return errors.New("store.redis.db must be >= 0")
		}
	default:
		return fmt.Errorf("store.backend must be memory, sqlite or redis (got %q)", c.Store.Backend)
	}

	// Call
	if c.Call.RingTimeoutSec <= 0 {
		return errors.New("call.ring_timeout_sec must be > 0")
	}
	if c.Call.FailureGraceMs < 0 {
		return errors.New("call.failure_grace_ms must be >= 0")
	}
	if c.Call.ErrorNoticeDelayMs < 0 {
		return errors.New("call.error_notice_delay_ms must be >= 0")
	}
	for _, s := range c.Call.ICEServers {
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "turn:") && !strings.HasPrefix(s, "turns:") {
			return fmt.Errorf("call.ice_servers: %q must start with stun:, turn: or turns:", s)
		}
	}
	if c.Call.ICEDisconnectedSec < 0 || c.Call.ICEFailedSec < 0 || c.Call.ICEKeepAliveSec < 0 {
		return errors.New("call ICE timeouts must be >= 0")
	}
	if c.Call.ICEFailedSec > 0 && c.Call.ICEDisconnectedSec > c.Call.ICEFailedSec {
		return errors.New("call.ice_disconnected_sec must not exceed call.ice_failed_sec")
	}

	// Log
	if _, err := logging.LevelFromString(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "", "color", "nocolor", "json":
	default:
		return fmt.Errorf("log.format must be color, nocolor or json (got %q)", c.Log.Format)
	}

	return nil
}

// RingTimeout and the helpers below convert the numeric fields.
func (c Call) RingTimeout() time.Duration { return time.Duration(c.RingTimeoutSec) * time.Second }

func (c Call) FailureGrace() time.Duration { return time.Duration(c.FailureGraceMs) * time.Millisecond }

func (c Call) ErrorNoticeDelay() time.Duration {
	return time.Duration(c.ErrorNoticeDelayMs) * time.Millisecond
}

func (s Store) PollInterval() time.Duration { return time.Duration(s.PollIntervalMs) * time.Millisecond }

// newViper returns a viper instance seeded with the defaults and bound to the
// PEERCALL_ environment.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault("identity.id", d.Identity.ID)
	v.SetDefault("identity.name", d.Identity.Name)
	v.SetDefault("identity.avatar", d.Identity.Avatar)
	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.sqlite_path", d.Store.SQLitePath)
	v.SetDefault("store.poll_interval_ms", d.Store.PollIntervalMs)
	v.SetDefault("store.redis.addr", d.Store.Redis.Addr)
	v.SetDefault("store.redis.password", d.Store.Redis.Password)
	v.SetDefault("store.redis.db", d.Store.Redis.DB)
	v.SetDefault("store.redis.prefix", d.Store.Redis.Prefix)
	v.SetDefault("call.ring_timeout_sec", d.Call.RingTimeoutSec)
	v.SetDefault("call.failure_grace_ms", d.Call.FailureGraceMs)
	v.SetDefault("call.error_notice_delay_ms", d.Call.ErrorNoticeDelayMs)
	v.SetDefault("call.ice_servers", d.Call.ICEServers)
	v.SetDefault("call.ice_disconnected_sec", d.Call.ICEDisconnectedSec)
	v.SetDefault("call.ice_failed_sec", d.Call.ICEFailedSec)
	v.SetDefault("call.ice_keepalive_sec", d.Call.ICEKeepAliveSec)
	v.SetDefault("call.keyframe_interval_sec", d.Call.KeyframeIntervalSec)
	v.SetDefault("viewer.http_addr", d.Viewer.HTTPAddr)
	v.SetDefault("viewer.debug", d.Viewer.Debug)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	return v
}

// Load reads path, applies environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg, err := LoadPartial(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadPartial reads a config file without validation.
func LoadPartial(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	v := newViper()
	if err := v.ReadConfig(bytes.NewReader(b)); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file
// with a fresh identity.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	cfg.Identity.ID = uuid.NewString()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	log.Infow("created default config", "path", path, "id", cfg.Identity.ID)
	return cfg, true, nil
}
