package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stefmmm/Predeactor-Cogs/internal/analytics"
	"github.com/stefmmm/Predeactor-Cogs/internal/bot"
	"github.com/stefmmm/Predeactor-Cogs/internal/config"
	"github.com/stefmmm/Predeactor-Cogs/internal/health"
	"github.com/stefmmm/Predeactor-Cogs/internal/modules/audit"
	"github.com/stefmmm/Predeactor-Cogs/internal/modules/counter"
	"github.com/stefmmm/Predeactor-Cogs/internal/storage"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bot",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBot()
	},
}

// openStore connects to the configured database and applies the migrations.
func openStore(cfg config.Config) (*storage.Store, error) {
	store, err := storage.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("storage init: %w", err)
	}
	store.SetPool(cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return store, nil
}

func runBot() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := config.BuildLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := openStore(cfg)
	if err != nil {
		logger.Error("storage unavailable", zap.Error(err))
		return err
	}
	defer store.Close()

	auditLogger := audit.NewLogger(store, logger)
	analyticsEngine := analytics.New(store)
	commands := counter.New()

	botSvc, err := bot.New(cfg, logger, store, auditLogger, analyticsEngine, commands)
	if err != nil {
		logger.Error("bot init failed", zap.Error(err))
		return err
	}
	if err := botSvc.Start(); err != nil {
		logger.Error("bot start failed", zap.Error(err))
		return err
	}
	logger.Info("bot started", zap.String("version", Version))

	var server *health.Server
	if cfg.Health.Enabled {
		server = health.New(cfg.Health.Addr, store, commands, logger.Named("health"))
		server.Start()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown requested")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if server != nil {
		_ = server.Shutdown(ctx)
	}
	botSvc.Close(ctx)
	return nil
}
