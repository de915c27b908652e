package main

import (
	"fmt"
	"log/slog"

	"github.com/chartflow/chartflow/internal/auth"
	"github.com/chartflow/chartflow/internal/config"
	"github.com/chartflow/chartflow/internal/executor"
	"github.com/chartflow/chartflow/internal/experiments"
	"github.com/chartflow/chartflow/internal/llm"
	"github.com/chartflow/chartflow/internal/observability"
	"github.com/chartflow/chartflow/internal/orchestrator"
	"github.com/chartflow/chartflow/internal/store"
	"github.com/chartflow/chartflow/internal/tools"
)

// app bundles the wired services behind every command.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	registry  *store.Registry
	catalog   *tools.Catalog
	llm       llm.Client
	auth      *auth.Service
	orch      *orchestrator.Orchestrator
	scheduler *experiments.Scheduler
	metrics   *observability.Metrics
}

// buildApp loads config and wires the service graph. withMetrics is off
// for one-shot commands to keep the default registry clean.
func buildApp(withLLM, withMetrics bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger)

	registry, err := store.Open(cfg.Storage.Root)
	if err != nil {
		return nil, err
	}
	catalog, err := tools.NewDefaultCatalog()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		catalog:  catalog,
	}
	if withMetrics {
		a.metrics = observability.NewMetrics()
	}
	if withLLM {
		client, err := buildLLMClient(cfg)
		if err != nil {
			return nil, err
		}
		a.llm = client
		a.orch = orchestrator.New(client, catalog, orchestrator.WithLogger(logger))
		schedOpts := []experiments.Option{
			experiments.WithLogger(logger),
			experiments.WithExpectedAnalyzeSteps(cfg.Experiments.ExpectedAnalyzeSteps),
		}
		if a.metrics != nil {
			schedOpts = append(schedOpts, experiments.WithMetrics(a.metrics))
		}
		a.scheduler = experiments.NewScheduler(registry, executor.New(catalog), client, schedOpts...)
	}
	a.auth = auth.NewService(auth.Config{
		JWTSecret:     cfg.Auth.JWTSecret,
		AccessExpiry:  cfg.Auth.AccessExpiry.Std(),
		RefreshExpiry: cfg.Auth.RefreshExpiry.Std(),
	}, registry.Users())
	return a, nil
}

func buildLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "anthropic":
		return llm.NewAnthropicClient(llm.AnthropicConfig{
			APIKey:       cfg.LLM.APIKey,
			DefaultModel: cfg.LLM.Model,
		})
	case "openai":
		return llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:       cfg.LLM.APIKey,
			DefaultModel: cfg.LLM.Model,
		})
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
}
