// internal/app/prompt.go
package app

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/petervdpas/peercall/internal/config"
)

func PromptInteractive(peerDir, cfgPath string, cfg config.Config) config.Config {
	in := bufio.NewReader(os.Stdin)

	fmt.Println("────────────────────────────────────────")
	fmt.Println("Peercall interactive setup")
	fmt.Printf(" Peer folder : %s\n", peerDir)
	fmt.Printf(" Config file : %s\n", cfgPath)
	fmt.Println("────────────────────────────────────────")
	fmt.Println()

	cfg.Identity.Name = askString(in, "Display name", cfg.Identity.Name)
	cfg.Identity.Avatar = askString(in, "Avatar URL (empty=none)", cfg.Identity.Avatar)
	cfg.Viewer.HTTPAddr = askString(in, "Viewer HTTP addr (empty=off)", cfg.Viewer.HTTPAddr)

	cfg.Store.Backend = askString(in, "Store backend (memory/sqlite/redis)", cfg.Store.Backend)
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		cfg.Store.SQLitePath = askString(in, "SQLite file", cfg.Store.SQLitePath)
	case config.BackendRedis:
		cfg.Store.Redis.Addr = askString(in, "Redis addr", cfg.Store.Redis.Addr)
		cfg.Store.Redis.DB = askInt(in, "Redis DB", cfg.Store.Redis.DB)
	}

	cfg.Call.RingTimeoutSec = askInt(in, "Ring timeout seconds", cfg.Call.RingTimeoutSec)
	cfg.Viewer.Debug = askBool(in, "Log HTTP requests", cfg.Viewer.Debug)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\nKeeping previous settings.\n", err)
		return cfgBefore(cfgPath, cfg)
	}
	return cfg
}

// cfgBefore reloads the saved config, falling back to defaults that keep the
// identity of cfg.
func cfgBefore(cfgPath string, cfg config.Config) config.Config {
	if saved, err := config.Load(cfgPath); err == nil {
		return saved
	}
	d := config.Default()
	d.Identity.ID = cfg.Identity.ID
	return d
}

func askString(in *bufio.Reader, label, def string) string {
	fmt.Printf("%s [%s]: ", label, def)
	s, _ := in.ReadString('\n')
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}

func askInt(in *bufio.Reader, label string, def int) int {
	for {
		fmt.Printf("%s [%d]: ", label, def)
		s, _ := in.ReadString('\n')
		s = strings.TrimSpace(s)
		if s == "" {
			return def
		}
		if v, err := strconv.Atoi(s); err == nil {
			return v
		}
		fmt.Println("Please enter a number.")
	}
}

func askBool(in *bufio.Reader, label string, def bool) bool {
	defStr := "n"
	if def {
		defStr = "y"
	}
	for {
		fmt.Printf("%s [y/n] (default=%s): ", label, defStr)
		s, _ := in.ReadString('\n')
		s = strings.TrimSpace(strings.ToLower(s))
		if s == "" {
			return def
		}
		switch s {
		case "y", "yes", "true", "1":
			return true
		case "n", "no", "false", "0":
			return false
		default:
			fmt.Println("Please enter y or n.")
		}
	}
}
