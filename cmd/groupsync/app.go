package main

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/relves/groupsync/internal/config"
	"github.com/relves/groupsync/internal/storage/sqlite"
	"github.com/relves/groupsync/pkg/groupsync"
	"github.com/relves/groupsync/pkg/remote"
)

// app is the wired set of components shared by every command.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	registry     *prometheus.Registry
	storeManager *sqlite.StoreManager
	store        *sqlite.GroupStore
	orchestrator *groupsync.Orchestrator
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := groupsync.NewMetrics(registry)

	storeManager := sqlite.NewStoreManager(cfg.DataPath, sqlite.WithLogger(logger))
	store, err := storeManager.GetStore(cfg.OurID)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	client := remote.NewClient(cfg.Service.URL,
		remote.WithAvatarURL(avatarURL(cfg)),
		remote.WithRateLimit(cfg.Service.RateLimit, cfg.Service.Burst),
		remote.WithLogger(logger),
	)

	engine, err := groupsync.NewEngine(groupsync.Config{
		OurID: cfg.OurID,
		Credentials: remote.StaticCredentials{
			Today:    cfg.TodayCredential(),
			Tomorrow: cfg.TomorrowCredential(),
		},
		Remote:          client,
		Avatars:         client,
		Logger:          logger,
		Metrics:         metrics,
		AvatarCacheSize: cfg.Sync.AvatarCacheSize,
	})
	if err != nil {
		storeManager.CloseAll()
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	orchestrator, err := groupsync.NewOrchestrator(groupsync.OrchestratorConfig{
		Engine:             engine,
		Store:              store,
		RefreshConcurrency: cfg.Sync.RefreshConcurrency,
	})
	if err != nil {
		storeManager.CloseAll()
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	return &app{
		cfg:          cfg,
		logger:       logger,
		registry:     registry,
		storeManager: storeManager,
		store:        store,
		orchestrator: orchestrator,
	}, nil
}

// Close waits for queued updates and closes the store.
func (a *app) Close() error {
	a.orchestrator.Wait()
	return a.storeManager.CloseAll()
}

func avatarURL(cfg *config.Config) string {
	if cfg.Service.AvatarURL != "" {
		return cfg.Service.AvatarURL
	}
	return cfg.Service.URL
}
