package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/chainsight/responder/internal/collab"
	"github.com/chainsight/responder/internal/engine"
	"github.com/chainsight/responder/internal/logging"
	"github.com/chainsight/responder/internal/scheduler"
	"github.com/chainsight/responder/internal/store"
	"github.com/chainsight/responder/pkg/mcp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "responder:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()

	logger := logging.New(logging.Options{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Format: cfg.LogFormat,
		Output: os.Stderr,
	})

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := collab.Seed(ctx, st.DB()); err != nil {
		return fmt.Errorf("seed reference data: %w", err)
	}

	docs, err := collab.NewChromemDocSearch(cfg.VectorPath)
	if err != nil {
		return fmt.Errorf("open vector store: %w", err)
	}

	alerts := collab.MemoryAlertFeed{}
	collabs := &collab.Set{
		Inventory: collab.NewSQLInventory(st.DB()),
		Alerts:    alerts,
		History:   collab.MemoryHistory{},
		Pricing:   collab.MemoryPricing{},
		SOPs:      collab.MemorySOPWiki{},
		Docs:      docs,
		Impact:    collab.StandardImpactCalculator{},
		Planner:   collab.TemplatePlanner{},
		Notifier:  &collab.MemoryNotifier{},
		Orders:    &collab.MemoryOrderWriter{},
	}

	eng, err := engine.New(st, collabs, logger, engine.Config{
		StepTimeout:    cfg.stepTimeout(),
		MaxRetries:     cfg.MaxRetries,
		MaxIterations:  cfg.MaxIterations,
		EscalationExpr: cfg.EscalationExpr,
	})
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	if len(cfg.Watches) > 0 {
		poller, err := scheduler.NewPoller(alerts, eng, cfg.Watches, logger)
		if err != nil {
			return fmt.Errorf("configure alert poller: %w", err)
		}
		if err := poller.Start(ctx); err != nil {
			return fmt.Errorf("start alert poller: %w", err)
		}
		defer poller.Stop()
	}

	srv := mcp.NewResponderServer(mcp.ResponderServerDeps{Engine: eng, Logger: logger})
	logger.Info("responder ready", "db", cfg.DBPath, "watches", len(cfg.Watches))
	return srv.Serve(ctx)
}
