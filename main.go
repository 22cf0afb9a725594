// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/peercall/internal/app"
	"github.com/petervdpas/peercall/internal/config"
)

var log = logging.Logger("main")

// ConfigFileName is the config file inside a peer directory.
const ConfigFileName = "peercall.json"

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("peercall v%s\n", appVersion)
		return
	}

	args := flag.Args()
	if *showHelp || len(args) == 0 {
		showUsage()
		return
	}

	command := args[0]

	switch command {
	case "peer":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Error: peer command requires directory path")
			fmt.Fprintln(os.Stderr, "Usage: peercall peer <peer-directory>")
			os.Exit(1)
		}
		runCLIPeer(args[1])

	case "init":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Error: init command requires directory path")
			fmt.Fprintln(os.Stderr, "Usage: peercall init <peer-directory>")
			os.Exit(1)
		}
		runCLIInit(args[1])

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n", command)
		fmt.Fprintln(os.Stderr)
		showUsage()
		os.Exit(1)
	}
}

func peerPaths(peerDirArg string) (string, string) {
	absDir, err := filepath.Abs(peerDirArg)
	if err != nil {
		log.Fatalf("Invalid peer directory: %v", err)
	}
	return absDir, filepath.Join(absDir, ConfigFileName)
}

func runCLIPeer(peerDirArg string) {
	absDir, cfgPath := peerPaths(peerDirArg)

	// Verify directory exists
	if stat, err := os.Stat(absDir); err != nil || !stat.IsDir() {
		log.Fatalf("Peer directory does not exist: %s", absDir)
	}

	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	printPeerBanner(absDir, cfgPath, cfg, created)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, app.Options{
		PeerDir: absDir,
		CfgPath: cfgPath,
		Cfg:     cfg,
	}); err != nil {
		log.Fatalf("Peer failed: %v", err)
	}
	fmt.Println("Shut down.")
}

func runCLIInit(peerDirArg string) {
	absDir, cfgPath := peerPaths(peerDirArg)

	if err := os.MkdirAll(absDir, 0o755); err != nil {
		log.Fatalf("Create peer directory: %v", err)
	}
	cfg, _, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	cfg = app.PromptInteractive(absDir, cfgPath, cfg)
	if err := config.Save(cfgPath, cfg); err != nil {
		log.Fatalf("Save config: %v", err)
	}
	fmt.Printf("Saved %s\n", cfgPath)
}

func showUsage() {
	fmt.Println("peercall - peer-to-peer audio/video calls over a shared store")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  peercall peer <directory>   Run a peer from the specified directory")
	fmt.Println("  peercall init <directory>   Create or edit the peer's configuration")
	fmt.Println()
	fmt.Println("The directory holds " + ConfigFileName + "; it is created with defaults when missing.")
	fmt.Println("Settings can be overridden with PEERCALL_* environment variables,")
	fmt.Println("e.g. PEERCALL_STORE_BACKEND=redis PEERCALL_STORE_REDIS_ADDR=host:6379.")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -h        Show this help message")
	fmt.Println("  -version  Show version information")
}

func printPeerBanner(peerDir, cfgPath string, cfg config.Config, created bool) {
	fmt.Println("╔════════════════════════════════════════════════════════╗")
	fmt.Println("║                    Peercall Runner                     ║")
	fmt.Println("╚════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Peer Directory: %s\n", peerDir)
	fmt.Printf("Config File:    %s", cfgPath)
	if created {
		fmt.Print(" (created)")
	}
	fmt.Println()
	fmt.Printf("Identity:       %s (%s)\n", cfg.Identity.Name, cfg.Identity.ID)
	fmt.Printf("Store:          %s\n", cfg.Store.Backend)
	if cfg.Viewer.HTTPAddr != "" {
		_, url := app.NormalizeLocalViewer(cfg.Viewer.HTTPAddr)
		fmt.Printf("Viewer:         %s\n", url)
	}
	fmt.Println()
}
