package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/specstream/specstream/internal/auth"
	"github.com/specstream/specstream/internal/config"
	"github.com/specstream/specstream/internal/logger"
	"github.com/specstream/specstream/internal/store"
	"github.com/specstream/specstream/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file (default: user config dir)")
	listenAddr := flag.String("addr", "", "listen address override")
	logLevel := flag.String("log-level", "", "log level override (debug, info, warn, error, none)")
	noStore := flag.Bool("no-store", false, "disable persistence, keep all records in memory")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Global().Close()

	var st store.Store
	if *noStore {
		st = store.NewMemory()
	} else {
		sqlite, err := store.NewSQLite(cfg.StorePath)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		st = sqlite
	}
	defer st.Close()

	sessions := auth.NewService(cfg.SessionTTL())
	if os.Getenv("SPECSTREAM_DEV_SESSION") != "" {
		// Development convenience: a ready-made session for a local
		// client, since the real auth flow lives in another service.
		sess := sessions.Create(1)
		logger.Info("Dev session available: %s", sess.SessionID)
	}

	history := ws.NewHistoryStore(cfg.MaxHistoryPerOperation)
	conns := ws.NewConnectionRegistry(st)
	ops := ws.NewOperationRegistry(st)
	broker := ws.NewBroker(history, conns, ops, cfg.RetentionWindow(), cfg.CleanupInterval())
	broker.Start()

	server := ws.NewServer(cfg, sessions, broker, conns, ops)

	// Log level follows the config file without a restart.
	watcher, err := config.NewWatcher(cfg.Path(), func(updated *config.Config) {
		logger.Global().SetLevel(logger.ParseLevel(updated.LogLevel))
	})
	if err != nil {
		logger.Warn("Config watcher unavailable: %v", err)
	} else {
		defer watcher.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.Run(ctx)
}
