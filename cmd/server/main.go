package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/servicepilot/servicepilot-ai/internal/audit"
	"github.com/servicepilot/servicepilot-ai/internal/config"
	"github.com/servicepilot/servicepilot-ai/internal/db"
	"github.com/servicepilot/servicepilot-ai/internal/llm/gateway"
	"github.com/servicepilot/servicepilot-ai/internal/prompt"
	"github.com/servicepilot/servicepilot-ai/internal/registry"
	"github.com/servicepilot/servicepilot-ai/internal/server"
	"github.com/servicepilot/servicepilot-ai/internal/troubleshoot/analyzer"
	"github.com/servicepilot/servicepilot-ai/internal/troubleshoot/effectiveness"
	"github.com/servicepilot/servicepilot-ai/internal/troubleshoot/orchestrator"
	"github.com/servicepilot/servicepilot-ai/internal/troubleshoot/stepgen"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "servicepilot-ai: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config/ai.yaml", "path to the YAML configuration file")
	flag.Parse()

	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfgManager, err := config.NewManager(*configPath)
	if err != nil {
		return fmt.Errorf("creating config manager: %w", err)
	}
	if err := cfgManager.Load(ctx); err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfgManager.Validate(ctx); err != nil {
		return fmt.Errorf("validating configuration: %w", err)
	}
	cfg := cfgManager.Get(ctx)

	logger, err := buildLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	auditCfg := audit.DefaultConfig()
	auditCfg.LogLevel = cfg.Logging.Level
	auditLogger, err := audit.NewLogger(auditCfg)
	if err != nil {
		return fmt.Errorf("creating audit logger: %w", err)
	}
	defer auditLogger.Close()

	store, err := db.NewSQLiteStore(cfg.Database.SQLitePath)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	defer store.Close()

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("creating LLM gateway: %w", err)
	}
	logger.Info("LLM gateway ready", zap.String("provider", gw.Provider()))

	prompts := prompt.NewManager()
	machines := registry.NewClient(cfg)
	scorer := effectiveness.NewScorer(store, cfg)

	orch := orchestrator.New(orchestrator.Options{
		Store:               store,
		Registry:            machines,
		Analyzer:            analyzer.New(gw, prompts, logger),
		StepGenerator:       stepgen.New(scorer, cfg.Workflow.EscalationThreshold),
		Recorder:            scorer,
		Gateway:             gw,
		Prompts:             prompts,
		Audit:               auditLogger,
		Logger:              logger,
		EscalationThreshold: cfg.Workflow.EscalationThreshold,
	})

	srv, err := server.New(server.Options{
		Config: cfg,
		Store:  store,
		Turns:  orch,
		Ranker: scorer,
		Audit:  auditLogger,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	// Configuration reloads are logged, not hot-applied. Restart to pick
	// up new values.
	go func() {
		for range cfgManager.Watch(ctx) {
			logger.Info("configuration file changed; restart to apply")
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	_ = auditLogger.Log(ctx, audit.NewEvent(audit.EventServerStarted).
		WithDescription("servicepilot-ai server started").
		WithResult(audit.ResultSuccess).
		WithMetadata("port", cfg.Server.Port).
		WithMetadata("provider", gw.Provider()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("server shutdown incomplete", zap.Error(err))
	}

	// Let in-flight effectiveness updates land before the store closes.
	orch.Wait()

	_ = auditLogger.Log(context.Background(), audit.NewEvent(audit.EventServerShutdown).
		WithDescription("servicepilot-ai server stopped").
		WithResult(audit.ResultSuccess))

	logger.Info("shutdown complete")
	return nil
}

// buildLogger constructs the application logger from the Logging config
// section. Format "console" is for development; anything else gets JSON.
func buildLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	var zcfg zap.Config
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}
