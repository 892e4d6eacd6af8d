package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/timmy/rerasync/internal/config"
	"github.com/timmy/rerasync/internal/domain"
	"github.com/timmy/rerasync/internal/logger"
	"github.com/timmy/rerasync/internal/portal"
	"github.com/timmy/rerasync/internal/replica"
	"github.com/timmy/rerasync/internal/repository"
	"github.com/timmy/rerasync/internal/service"
	"github.com/timmy/rerasync/internal/storage"
)

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(logger.LoadFromEnv("rerasync-harvest"))
	logger.SetDefaultLogger(appLogger)

	// Parse command line flags
	mode := flag.String("mode", "sync", "Run mode: range, ids, catchup, forward, retry, sync")
	start := flag.Int64("start", 0, "First project ID (range mode)")
	end := flag.Int64("end", 0, "Last project ID, inclusive (range mode)")
	idList := flag.String("ids", "", "Comma-separated project IDs (ids mode)")
	publish := flag.Bool("publish", true, "Publish the replica when storage is enabled")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}
	appLogger = reconfigureLogger(cfg)
	defer logger.Sync()

	ids, err := parseIDs(*idList)
	if err != nil {
		appLogger.WithError(err).Fatal("Invalid -ids")
	}

	appLogger.WithFields(logger.Fields{
		logger.FieldMode: *mode,
		"start":          *start,
		"end":            *end,
		"ids":            len(ids),
	}).Info("Starting harvest")

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	projectRepo := repository.NewProjectRepository(db)
	runRepo := repository.NewRunRepository(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage when publishing is configured
	var publisher *service.Publisher
	if cfg.Storage.Enabled && *publish {
		objectStorage, err := storage.NewStorage(ctx, &cfg.Storage)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to initialize storage")
		}
		if err := objectStorage.EnsureBucket(ctx); err != nil {
			appLogger.WithError(err).Fatal("Failed to ensure storage bucket")
		}
		publisher = service.NewPublisher(objectStorage, cfg.Storage.KeepSnapshots, appLogger)
	}

	client := portal.NewClient(&portal.ClientConfig{
		BaseURL:       cfg.Portal.BaseURL,
		UserAgent:     cfg.Portal.UserAgent,
		SessionCookie: cfg.Portal.SessionCookie,
		Timeout:       cfg.Portal.Timeout,
		RefreshMargin: cfg.Portal.RefreshMargin,
		Retry: &portal.RetryPolicy{
			MaxAttempts: cfg.Harvest.MaxAttempts,
			Start:       cfg.Harvest.BackoffStart,
			Step:        cfg.Harvest.BackoffStep,
			Max:         cfg.Harvest.BackoffMax,
		},
	}, appLogger)

	syncService := service.NewSyncService(
		projectRepo,
		runRepo,
		portal.NewFetcher(client),
		replica.NewBuilder(cfg.Replica.Path, appLogger),
		publisher,
		appLogger,
		&service.SyncConfig{
			Workers:       cfg.Harvest.Workers,
			LookbackDays:  cfg.Sync.LookbackDays,
			NotFoundLimit: cfg.Sync.NotFoundLimit,
			FailureLog:    cfg.Harvest.FailureLog,
			CSVPath:       cfg.Harvest.CSVPath,
		},
	)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	results, runErr := run(ctx, syncService, *mode, *start, *end, ids)
	if errors.Is(runErr, domain.ErrNoApprovedAnchor) {
		appLogger.WithError(runErr).Fatal("Catch-up precondition failed")
	}

	for _, r := range results {
		if r == nil || r.Run == nil {
			continue
		}
		entry := appLogger.WithFields(logger.Fields{
			logger.FieldRunID:  r.Run.ID,
			logger.FieldMode:   r.Run.Mode,
			logger.FieldStatus: r.Run.Status,
			"start_id":         r.Run.StartID,
			"end_id":           r.Run.EndID,
			"persisted":        r.Run.Persisted,
			"not_found":        r.Run.NotFound,
			"failed":           r.Run.Failed,
		})
		entry.Info("Run summary")
	}

	// Records fetched before an interrupt are already merged; the replica
	// is rebuilt from them regardless.
	if len(results) > 0 {
		if err := syncService.Finalize(context.WithoutCancel(ctx), results...); err != nil {
			appLogger.WithError(err).Fatal("Failed to finalize harvest")
		}
	}

	if runErr != nil {
		appLogger.WithError(runErr).Fatal("Harvest failed")
	}
	appLogger.Info("Harvest completed")
}

func run(ctx context.Context, svc *service.SyncService, mode string, start, end int64, ids []int64) ([]*service.RunResult, error) {
	var (
		result *service.RunResult
		err    error
	)
	switch mode {
	case "range":
		if start <= 0 || end <= 0 {
			return nil, errors.New("range mode requires -start and -end")
		}
		result, err = svc.HarvestRange(ctx, start, end)
	case "ids":
		if len(ids) == 0 {
			return nil, errors.New("ids mode requires -ids")
		}
		result, err = svc.HarvestIDs(ctx, ids)
	case "catchup":
		result, err = svc.CatchUp(ctx)
	case "forward":
		result, err = svc.Forward(ctx)
	case "retry":
		result, err = svc.RetryFailures(ctx)
	case "sync":
		return svc.Sync(ctx)
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
	if result == nil {
		return nil, err
	}
	return []*service.RunResult{result}, err
}

func parseIDs(raw string) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("bad project id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// reconfigureLogger applies the log section of the loaded config over the
// environment defaults.
func reconfigureLogger(cfg *config.Config) *logger.Logger {
	logCfg := logger.LoadFromEnv("rerasync-harvest")
	if os.Getenv("LOG_LEVEL") == "" && cfg.Log.Level != "" {
		logCfg.Level = cfg.Log.Level
	}
	if logCfg.File == "" {
		logCfg.File = cfg.Log.File
	}
	l := logger.New(logCfg)
	logger.SetDefaultLogger(l)
	return l
}
