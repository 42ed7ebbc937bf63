package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/blackmichael/clean-following/internal/bluesky"
	"github.com/blackmichael/clean-following/internal/config"
	"github.com/blackmichael/clean-following/internal/domain"
	"github.com/blackmichael/clean-following/internal/firehose"
	"github.com/blackmichael/clean-following/internal/httpserver"
	"github.com/blackmichael/clean-following/internal/scheduler"
	"github.com/blackmichael/clean-following/internal/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Open the store (implements the feed, follow and cursor repositories).
	store, err := sqlite.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	logger.Info("store opened", "path", cfg.DBPath())

	followSource := bluesky.NewFollowSource(bluesky.NewClient(""), cfg.BlueskyHandle)

	feedService := domain.NewFeedService(
		cfg.FeedURI(),
		cfg.SelfRepostMaxAge,
		store,
		store,
		store,
		followSource,
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Fetch the follow list before the first subscription; a failure here
	// is survivable, the stored set (possibly empty) is used until the
	// next refresh succeeds.
	if _, err := feedService.RefreshFollows(ctx); err != nil {
		logger.Error("initial follow refresh failed, continuing with stored set", "error", err)
	}

	subscriber := firehose.NewSubscriber(cfg.FirehoseURL, feedService, logger)
	go func() {
		if err := subscriber.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("firehose subscriber exited with error", "error", err)
		}
	}()

	sched := scheduler.New(
		feedService,
		subscriber,
		cfg.FollowRefreshInterval,
		cfg.CleanupInterval,
		cfg.Retention,
		logger,
	)
	go sched.StartFollowRefresh(ctx)
	go sched.StartRetentionSweep(ctx)

	server := httpserver.NewServer(cfg, feedService, logger)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited with error", "error", err)
		}
	}()

	logger.Info("server started",
		"port", cfg.Port,
		"hostname", cfg.Hostname,
		"feed", cfg.FeedURI(),
		"self_repost_max_age", cfg.SelfRepostMaxAge,
	)

	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()

	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error("error shutting down http server", "error", err)
	}

	return nil
}
