package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/teams-extractor/internal/extractor"
	"github.com/xaenox/teams-extractor/internal/graph"
	"github.com/xaenox/teams-extractor/internal/models"
	"github.com/xaenox/teams-extractor/internal/notify"
	"github.com/xaenox/teams-extractor/internal/scheduler"
	"github.com/xaenox/teams-extractor/pkg/config"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	var (
		configPath   = flag.String("config", "config.yaml", "path to config file")
		jobsPath     = flag.String("jobs", "", "YAML job file; runs scheduled extractions instead of a one-shot")
		outputPath   = flag.String("output", "extraction.json", "path the result document is written to")
		startDate    = flag.String("start", "", "only messages created at or after this RFC 3339 instant")
		endDate      = flag.String("end", "", "only messages created at or before this RFC 3339 instant")
		keywords     = flag.String("keywords", "", "comma separated keywords, any match keeps a message")
		teamIDs      = flag.String("teams", "", "comma separated team id allow-list")
		channelNames = flag.String("channels", "", "comma separated channel name allow-list")
		authorEmails = flag.String("authors", "", "comma separated author email allow-list")
		maxMessages  = flag.Int("max", 0, "stop after this many messages (0 = unlimited)")
		withDeleted  = flag.Bool("include-deleted", false, "keep deleted messages")
		noReplies    = flag.Bool("no-replies", false, "skip reply fetching")
	)
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", *configPath))
	}

	filter := models.DefaultFilter()
	filter.Keywords = splitCSV(*keywords)
	filter.TeamIDs = splitCSV(*teamIDs)
	filter.ChannelNames = splitCSV(*channelNames)
	filter.AuthorEmails = splitCSV(*authorEmails)
	filter.MaxMessages = *maxMessages
	filter.IncludeDeleted = *withDeleted
	filter.IncludeReplies = !*noReplies
	if filter.StartDate, err = parseInstant(*startDate); err != nil {
		logger.Fatal("Invalid -start value", zap.Error(err))
	}
	if filter.EndDate, err = parseInstant(*endDate); err != nil {
		logger.Fatal("Invalid -end value", zap.Error(err))
	}

	// Initialize the Graph API client
	tokens, err := graph.NewTokenProvider(graph.TokenProviderConfig{
		TenantID:      cfg.GraphAPI.TenantID,
		ClientID:      cfg.GraphAPI.ClientID,
		ClientSecret:  cfg.GraphAPI.ClientSecret,
		UseDeviceCode: cfg.GraphAPI.UseDelegatedAuth,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize authentication", zap.Error(err))
	}
	limiter := graph.NewRateLimiter(cfg.GraphAPI.RateLimitPause)
	client := graph.NewClient(tokens, limiter, logger, graph.Options{})

	ext := extractor.New(client, logger)

	// Scheduled mode: run the job file until interrupted
	if *jobsPath != "" {
		sched := scheduler.New(ext, logger)
		if err := sched.LoadJobs(*jobsPath); err != nil {
			logger.Fatal("Failed to load job file", zap.Error(err), zap.String("path", *jobsPath))
		}
		if sched.Jobs() == 0 {
			logger.Fatal("No active jobs in job file", zap.String("path", *jobsPath))
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		sched.Start(ctx)
		sched.Wait()
		logger.Info("scheduler stopped")
		return
	}

	// One-shot extraction
	progress := func(current, total int, description string) {
		logger.Info("progress",
			zap.Int("current", current),
			zap.Int("total", total),
			zap.String("description", description))
	}
	result := ext.Extract(context.Background(), filter, progress)

	logger.Info("extraction finished",
		zap.String("run_id", result.RunID),
		zap.Int("messages", len(result.Messages)),
		zap.Int("errors", len(result.Errors)),
		zap.Int64("api_requests", client.RequestCount()))

	if err := writeResult(*outputPath, result); err != nil {
		logger.Fatal("Failed to write result", zap.Error(err), zap.String("path", *outputPath))
	}
	logger.Info("result written", zap.String("path", *outputPath))

	// Announce the run when a notifier is configured
	if cfg.Telegram.Enabled && cfg.Telegram.Token != "" {
		notifier, err := notify.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID, logger)
		if err != nil {
			logger.Error("Failed to create notifier", zap.Error(err))
			return
		}
		if err := notifier.RunComplete(result); err != nil {
			logger.Error("Failed to send run notification", zap.Error(err))
		}
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseInstant(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		// Allow bare dates too
		t, err = time.Parse("2006-01-02", s)
		if err != nil {
			return nil, err
		}
	}
	return &t, nil
}

func writeResult(path string, result models.ExtractionResult) error {
	doc := struct {
		models.ExtractionResult
		Statistics models.Statistics `json:"statistics"`
	}{result, result.Statistics()}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
