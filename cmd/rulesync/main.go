package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hpungsan/rulesync/internal/cache"
	"github.com/hpungsan/rulesync/internal/catalogue"
	"github.com/hpungsan/rulesync/internal/config"
	"github.com/hpungsan/rulesync/internal/db"
	"github.com/hpungsan/rulesync/internal/log"
	"github.com/hpungsan/rulesync/internal/mcp"
	"github.com/hpungsan/rulesync/internal/ops"
	"github.com/hpungsan/rulesync/internal/source"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"list": true, "show": true, "categories": true,
	"sync": true, "status": true, "apply": true,
	"panel": true, "serve": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode(args []string) bool {
	if len(args) < 2 {
		return false
	}
	arg := args[1]
	if cliCommands[arg] {
		return true
	}
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v"
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion(args []string) bool {
	if len(args) < 2 {
		return false
	}
	arg := args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}

func printBanner() {
	fmt.Println(`
  rulesync: browse and apply editor rule files

  Usage: rulesync <command> [options]
         rulesync --help

  MCP server mode requires piped input.`)
}

// store is a cache backend that also keeps the sync history.
type store interface {
	cache.Cache
	cache.RunLog
}

// env holds what every command needs.
type env struct {
	cfg *config.Config
	cat ops.Catalogue
}

// openEnv loads configuration, initializes logging and wires the catalogue.
func openEnv(baseDir, cwd string) (*env, func(), error) {
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log.Init(log.Config{Level: log.ParseLevel(cfg.LogLevel), JSONOutput: cfg.LogJSON})

	st, closeStore, err := openStore(baseDir, cfg)
	if err != nil {
		return nil, nil, err
	}

	var local catalogue.LocalSource = source.Bundled(log.WithComponent("source"))
	if cfg.LocalCatalogueDir != "" {
		local = source.FromDir(cfg.LocalCatalogueDir, log.WithComponent("source"))
	}

	cat := catalogue.New(catalogue.Options{
		Cache:   st,
		Runs:    st,
		Local:   local,
		Remote:  source.NewRemote(cfg.RemoteURL, cfg.FetchTimeout(), cfg.FetchMaxBytes),
		Window:  cfg.FreshnessWindow(),
		Retries: cfg.SyncRetries,
		Logger:  log.WithComponent("catalogue"),
	})

	return &env{cfg: cfg, cat: cat}, closeStore, nil
}

// openStore opens the configured cache backend under baseDir.
func openStore(baseDir string, cfg *config.Config) (store, func(), error) {
	switch cfg.CacheBackend {
	case config.CacheBackendBolt:
		b, err := cache.OpenBolt(baseDir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open cache: %w", err)
		}
		return b, func() { b.Close() }, nil
	case config.CacheBackendSQLite, "":
	default:
		log.Logger.Warn().Str("cache_backend", cfg.CacheBackend).Msg("unknown cache backend, using sqlite")
	}

	database, err := db.Init(baseDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	db.ConfigurePool(database, cfg)
	return cache.NewSQLite(database), func() { database.Close() }, nil
}

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Help and version need no cache.
	if isHelpOrVersion(os.Args) {
		if err := newCLIApp(nil).RunContext(ctx, os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		return 0
	}

	baseDir, err := config.BaseDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	cwd, _ := os.Getwd()

	e, closeEnv, err := openEnv(baseDir, cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer closeEnv()

	if isCLIMode(os.Args) {
		if err := newCLIApp(e).RunContext(ctx, os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		return 0
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'rulesync --help' for usage.\n")
		return 1
	}

	if err := mcp.Run(e.cat, e.cfg, log.WithComponent("mcp"), Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
