package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/heimdex/heimdex-tagger/internal/api"
	"github.com/heimdex/heimdex-tagger/internal/catalog"
	"github.com/heimdex/heimdex-tagger/internal/classify"
	"github.com/heimdex/heimdex-tagger/internal/cloud"
	"github.com/heimdex/heimdex-tagger/internal/config"
	"github.com/heimdex/heimdex-tagger/internal/db"
	"github.com/heimdex/heimdex-tagger/internal/enrich"
	"github.com/heimdex/heimdex-tagger/internal/logging"
	"github.com/heimdex/heimdex-tagger/internal/metrics"
)

const configKeyInstanceID = "instance_id"

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting heimdex tagger",
		"version", config.Version,
		"commit", config.GitCommit,
		"data_dir", cfg.DataDir(),
	)

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := catalog.NewRepository(database.Conn())

	instanceID, err := ensureConfigValue(repo, configKeyInstanceID, newInstanceID)
	if err != nil {
		return fmt.Errorf("failed to ensure instance ID: %w", err)
	}

	authToken, err := ensureConfigValue(repo, api.ConfigKeyAuthToken, newAuthToken)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                  HEIMDEX TAGGER v%-24s ║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:     http://127.0.0.1:%-26d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token:  %-43s ║\n", authToken)
	fmt.Printf("║  Instance ID: %-43s ║\n", instanceID[:8]+"...")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	dict, err := cfg.Dictionary()
	if err != nil {
		return fmt.Errorf("failed to load dictionary: %w", err)
	}
	if overlaps := dict.Overlaps(); len(overlaps) > 0 {
		logger.Warn("dictionary tokens listed in several categories, first category wins", "tokens", overlaps)
	}
	classifier := classify.New(dict)

	var (
		vendor cloud.Client
		store  cloud.MetadataStore
	)
	if cfg.APIKey() != "" {
		httpClient := cloud.NewHTTPClient(cfg.APIBaseURL(), cfg.APIKey(), logger)
		httpClient.SetPrompt(cfg.Prompt())
		httpClient.SetTimeout(cfg.CallTimeout())
		vendor = httpClient
		store = enrich.NewMirrorStore(httpClient, repo, logger)
		logger.Info("vendor client enabled",
			"base_url", cfg.APIBaseURL(),
			"index_id", cfg.IndexID(),
			"api_key", logging.SanitizeToken(cfg.APIKey()),
		)
	} else {
		stub := cloud.NewStubClient(logger)
		if path := cfg.OfflineCatalog(); path != "" {
			videos, err := cloud.LoadOfflineCatalog(path)
			if err != nil {
				logger.Error("failed to load offline catalog", "path", path, "error", err)
				os.Exit(1)
			}
			stub.SeedCatalog(videos)
			logger.Info("offline catalog loaded", "path", path, "videos", len(videos))
		} else {
			logger.Warn("no offline catalog configured, the stub serves no videos", "env", config.EnvOfflineCatalog)
		}
		vendor = stub
		store = enrich.NewMirrorStore(repo, stub, logger)
		logger.Warn("no API key configured, running against the offline stub catalog")
	}

	tracker := enrich.NewTracker(cfg.MaxAttempts())
	collection := catalog.NewCollection()
	m := metrics.New(tracker)

	scheduler := enrich.NewScheduler(vendor, store, classifier, tracker, enrich.Options{
		Concurrency: cfg.Concurrency(),
		Cooldown:    cfg.Cooldown(),
		CallTimeout: cfg.CallTimeout(),
		IndexID:     cfg.IndexID(),
		Eligibility: enrich.Eligibility{
			Fields:       cfg.CompletenessFields(),
			RequireReady: cfg.RequireReady(),
		},
	}, logger)
	scheduler.SetSink(collection)
	scheduler.SetJournal(repo)
	scheduler.SetObserver(m)

	status := cloud.NewCachedStatus(vendor, cloud.DefaultStatusTTL, logger)
	runner := enrich.NewRunner(scheduler, vendor, status, collection, enrich.RunnerOptions{
		IndexID:      cfg.IndexID(),
		PageSize:     cfg.PageSize(),
		PollInterval: cfg.PollInterval(),
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		runner.Start(ctx)
	}()

	apiServer := api.NewServer(api.ServerConfig{
		Port:       cfg.Port(),
		Repository: repo,
		Runner:     runner,
		Classifier: classifier,
		Metrics:    m.Handler(),
		Logger:     logger,
		StartTime:  startTime,
		InstanceID: instanceID,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- apiServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}

	logger.Info("initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	cancel()
	select {
	case <-runnerDone:
	case <-shutdownCtx.Done():
		logger.Warn("enrichment runner did not stop before the shutdown deadline")
	}

	logger.Info("shutdown complete")
	return nil
}

// ensureConfigValue returns the stored value for key, generating and storing
// one on first run.
func ensureConfigValue(repo catalog.Repository, key string, generate func() (string, error)) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, key)
	if err == nil && existing != "" {
		return existing, nil
	}

	value, err := generate()
	if err != nil {
		return "", err
	}
	if err := repo.SetConfig(ctx, key, value); err != nil {
		return "", err
	}
	return value, nil
}

func newInstanceID() (string, error) {
	return uuid.NewString(), nil
}

func newAuthToken() (string, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(tokenBytes), nil
}
