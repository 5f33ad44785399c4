package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/feedhive/feedhive/app/api"
	"github.com/feedhive/feedhive/app/cfg"
	"github.com/feedhive/feedhive/app/database"
	"github.com/feedhive/feedhive/app/feed"
	"github.com/feedhive/feedhive/app/fetch"
	"github.com/feedhive/feedhive/app/hub"
	"github.com/feedhive/feedhive/app/jobs"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown, exit gracefully
		return
	}

	logLevel := slog.LevelInfo
	if appCfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting FeedHive server", "version", appCfg.Version)

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to connect to database", "path", appCfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	migrationVersion, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "migration_version", migrationVersion, "dirty", dirty)

	feedRepo := database.NewFeedRepository(db)
	articleRepo := database.NewArticleRepository(db)
	subscriptionRepo := database.NewSubscriptionRepository(db)
	stateRepo := database.NewUserArticleStateRepository(db)
	pendingRepo := database.NewPendingFeedRepository(db)
	jobRepo := database.NewJobRepository(db)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	fetcher := fetch.NewClient(httpClient, appCfg.UserAgent)
	robots := fetch.NewRobotsCache(httpClient, appCfg.UserAgent)

	parser := feed.NewParser()
	extractor := feed.NewContentExtractor()

	notificationHub := hub.New()
	defer notificationHub.Close()

	engine := jobs.NewEngine(jobRepo, appCfg.WorkerCount)

	definitions := []*jobs.Definition{
		jobs.NewFeedRefreshJob(feedRepo, articleRepo, subscriptionRepo, fetcher, parser, notificationHub).Definition(),
		jobs.NewArticleExtractJob(articleRepo, subscriptionRepo, fetcher, robots, extractor, notificationHub).Definition(),
		jobs.NewAddFeedJob(feedRepo, subscriptionRepo, pendingRepo, fetcher, parser, notificationHub).Definition(),
		jobs.NewSweepJob(feedRepo).Definition(),
	}
	for _, def := range definitions {
		if err := engine.Register(def); err != nil {
			slog.Error("Failed to register job definition", "type", def.Name, "error", err)
			os.Exit(1)
		}
	}

	if err := engine.Start(); err != nil {
		slog.Error("Failed to start job engine", "error", err)
		os.Exit(1)
	}
	defer engine.Stop()
	slog.Info("Job engine started", "worker_count", appCfg.WorkerCount)

	if appCfg.SeedsDir != "" {
		if err := applySeeds(appCfg.SeedsDir, feedRepo, subscriptionRepo, engine); err != nil {
			slog.Error("Failed to apply seed feeds", "dir", appCfg.SeedsDir, "error", err)
			os.Exit(1)
		}
	}

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(appCfg.SweepSchedule, func() {
		if _, err := engine.Enqueue(jobs.JobSweep, nil); err != nil {
			slog.Error("Failed to enqueue scheduled sweep", "error", err)
		}
	}); err != nil {
		slog.Error("Invalid sweep schedule", "schedule", appCfg.SweepSchedule, "error", err)
		os.Exit(1)
	}
	sweeper.Start()
	defer sweeper.Stop()
	slog.Info("Sweep scheduled", "schedule", appCfg.SweepSchedule)

	handler := api.NewHandler(feedRepo, articleRepo, subscriptionRepo, stateRepo, pendingRepo,
		jobRepo, engine, notificationHub, api.NewHeaderIdentity(""))
	router := api.NewServer(handler, appCfg.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server failed", "error", err)
	}

	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Cron, engine and hub are stopped via defer, in reverse start order
	slog.Info("Shutdown complete")
}

// applySeeds registers seed feeds and their subscribers at startup. URLs
// already known keep their row untouched; new ones get a feed row and an
// immediate refresh.
func applySeeds(seedsDir string, feedRepo database.FeedRepository,
	subscriptionRepo database.SubscriptionRepository, engine *jobs.Engine) error {
	seeds, err := feed.LoadSeeds(seedsDir)
	if err != nil {
		return err
	}

	created := 0
	for _, seed := range seeds {
		existing, err := feedRepo.GetFeedByURL(seed.URL)
		if err != nil {
			return fmt.Errorf("failed to look up seed '%s': %w", seed.Name, err)
		}

		var feedID int64
		if existing != nil {
			feedID = existing.ID
		} else {
			host := ""
			if parsed, err := url.Parse(seed.URL); err == nil {
				host = parsed.Hostname()
			}

			slug, err := feed.GenerateSlug(func(slug string) (bool, error) {
				return feedRepo.SlugTaken(slug, 0)
			}, seed.Name, host)
			if err != nil {
				return fmt.Errorf("failed to generate slug for seed '%s': %w", seed.Name, err)
			}

			feedID, err = feedRepo.CreateFeed(seed.URL, slug, seed.Name, "rss")
			if err != nil {
				return fmt.Errorf("failed to create seed feed '%s': %w", seed.Name, err)
			}
			created++

			if _, err := engine.Enqueue(jobs.JobFeedRefresh, jobs.FeedRefreshInput{FeedID: feedID}); err != nil {
				slog.Warn("Failed to enqueue seed refresh", "feed", seed.Name, "error", err)
			}
		}

		for _, userID := range seed.Subscribers {
			if err := subscriptionRepo.Subscribe(userID, feedID, seed.Category); err != nil {
				slog.Warn("Failed to subscribe seed subscriber", "feed", seed.Name, "user_id", userID, "error", err)
			}
		}
	}

	slog.Info("Seed feeds applied", "total", len(seeds), "created", created)

	return nil
}
