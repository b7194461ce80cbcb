package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"narou-digest/config"
	"narou-digest/digest"
	"narou-digest/generation"
	"narou-digest/narou"
	"narou-digest/pipeline"
	"narou-digest/record"
	"narou-digest/scraper"
	"narou-digest/storage"
	"narou-digest/webhook"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load("./config.yaml")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	switch cfg.LogLevel {
	case "debug":
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})))
	case "warn":
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn})))
	case "error":
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})))
	}
	slog.Info("config loaded", "period", cfg.Period, "category", cfg.Category, "ranking_size", cfg.RankingSize, "model", cfg.Model)

	store, err := storage.New(cfg.DBPath)
	if err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	fetchTimeout := time.Duration(cfg.FetchTimeoutSec) * time.Second
	generateTimeout := time.Duration(cfg.GenerateTimeoutSec) * time.Second

	rankingClient := narou.NewClient(&http.Client{Timeout: fetchTimeout})
	chapterFetcher := scraper.NewFetcher(fetchTimeout)
	channel := webhook.NewChannel(cfg.WebhookURL, fetchTimeout)

	generator := generation.NewClient(cfg.APIEndpoint, cfg.APIKey, &http.Client{Timeout: generateTimeout})
	generator.SetModel(cfg.Model)
	if err := generator.SetSystemPromptFile(cfg.SystemPromptPath); err != nil {
		slog.Warn("system prompt unavailable, continuing without one", "error", err)
	}

	runner := pipeline.NewRunner(
		digest.NewAggregator(rankingClient, chapterFetcher),
		generator,
		channel,
		record.NewWriter(cfg.RecordDir),
		store,
		pipeline.Config{
			Period:   cfg.Period,
			Category: cfg.Category,
			Size:     cfg.RankingSize,
			Model:    cfg.Model,
		},
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := runner.Run(ctx); err != nil {
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}
}
