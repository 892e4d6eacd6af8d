package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/rerasync/internal/domain"
	"github.com/timmy/rerasync/internal/harvest"
	"github.com/timmy/rerasync/internal/logger"
	"github.com/timmy/rerasync/internal/planner"
	"github.com/timmy/rerasync/internal/replica"
	"github.com/timmy/rerasync/internal/repository"
)

// SyncConfig holds configuration for the sync service.
type SyncConfig struct {
	Workers       int
	LookbackDays  int
	NotFoundLimit int
	FailureLog    string // JSON-lines path; empty disables the log
	CSVPath       string // optional CSV export; empty disables it
}

// SyncService runs the harvest modes against the canonical store and
// keeps the query replica current.
type SyncService struct {
	projects  *repository.ProjectRepository
	runs      *repository.RunRepository
	fetcher   harvest.Fetcher
	engine    *harvest.Engine
	builder   *replica.Builder
	publisher *Publisher
	cfg       *SyncConfig
	logger    *logger.Logger
	now       func() time.Time
}

// NewSyncService creates a new sync service. publisher may be nil.
func NewSyncService(
	projects *repository.ProjectRepository,
	runs *repository.RunRepository,
	fetcher harvest.Fetcher,
	builder *replica.Builder,
	publisher *Publisher,
	log *logger.Logger,
	cfg *SyncConfig,
) *SyncService {
	return &SyncService{
		projects:  projects,
		runs:      runs,
		fetcher:   fetcher,
		engine:    harvest.NewEngine(fetcher, cfg.Workers, log),
		builder:   builder,
		publisher: publisher,
		cfg:       cfg,
		logger:    log,
		now:       time.Now,
	}
}

// RunResult is the outcome of one mode invocation.
type RunResult struct {
	Run      *domain.HarvestRun
	Window   *domain.SyncWindow
	Failures []domain.FailureRecord
}

func (s *SyncService) log(ctx context.Context) *logger.Logger {
	return logger.FromContextOr(ctx, s.logger)
}

// HarvestRange fetches every identifier in [start, end].
func (s *SyncService) HarvestRange(ctx context.Context, start, end int64) (*RunResult, error) {
	if end < start {
		return nil, fmt.Errorf("invalid range: end %d before start %d", end, start)
	}
	window := domain.SyncWindow{StartID: start, EndID: end}
	return s.harvest(ctx, domain.RunModeRange, window.IDs(), &window)
}

// HarvestIDs fetches exactly ids.
func (s *SyncService) HarvestIDs(ctx context.Context, ids []int64) (*RunResult, error) {
	return s.harvest(ctx, domain.RunModeIDs, ids, nil)
}

// CatchUp re-fetches the stale window computed from the stored dataset.
// A dataset without an approved anchor fails the run with
// domain.ErrNoApprovedAnchor.
func (s *SyncService) CatchUp(ctx context.Context) (*RunResult, error) {
	ctx = logger.WithField(ctx, logger.FieldMode, string(domain.RunModeCatchUp))

	records, err := s.projects.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}

	window, err := planner.PlanStaleWindow(records, s.now(), s.cfg.LookbackDays)
	if err != nil {
		run := s.newRun(domain.RunModeCatchUp, 0, 0, 0)
		if cerr := s.runs.Create(ctx, run); cerr != nil {
			s.log(ctx).WithError(cerr).Warn("Failed to record run")
		}
		s.finishRun(ctx, run, err)
		return &RunResult{Run: run}, err
	}

	s.log(ctx).WithFields(logger.Fields{
		"start_id": window.StartID,
		"end_id":   window.EndID,
	}).Info("Planned catch-up window")

	return s.harvest(ctx, domain.RunModeCatchUp, window.IDs(), &window)
}

// Forward probes identifiers past the stored maximum until the portal
// reports a run of unknown projects.
func (s *SyncService) Forward(ctx context.Context) (*RunResult, error) {
	ctx = logger.WithField(ctx, logger.FieldMode, string(domain.RunModeForward))

	maxID, ok, err := s.projects.MaxProjectID(ctx)
	if err != nil {
		return nil, fmt.Errorf("load max project id: %w", err)
	}
	if !ok {
		maxID = 0
	}

	run := s.newRun(domain.RunModeForward, maxID+1, 0, 0)
	ctx = logger.SetRunID(ctx, run.ID)
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("record run: %w", err)
	}

	sink, closeSink, err := s.openSink()
	if err != nil {
		s.finishRun(ctx, run, err)
		return &RunResult{Run: run}, err
	}
	defer closeSink()

	discoverer := planner.NewDiscoverer(s.fetcher, sink, s.cfg.NotFoundLimit, s.logger)
	stats, err := discoverer.Discover(ctx, maxID+1)

	run.EndID = stats.LastID
	run.TotalItems = stats.Probed
	run.Persisted = stats.Persisted
	run.NotFound = stats.NotFound
	run.Failed = len(stats.Failures)
	s.finishRun(ctx, run, err)

	return &RunResult{Run: run, Failures: stats.Failures}, err
}

// RetryFailures reruns exactly the identifiers in the failure log.
func (s *SyncService) RetryFailures(ctx context.Context) (*RunResult, error) {
	if s.cfg.FailureLog == "" {
		return nil, errors.New("retry requires a failure log path")
	}
	failures, err := harvest.ReadFailureLog(s.cfg.FailureLog)
	if err != nil {
		return nil, err
	}
	return s.harvest(ctx, domain.RunModeRetry, harvest.FailedIDs(failures), nil)
}

// Sync runs catch-up followed by forward discovery.
func (s *SyncService) Sync(ctx context.Context) ([]*RunResult, error) {
	catchUp, err := s.CatchUp(ctx)
	if err != nil {
		return []*RunResult{catchUp}, err
	}
	forward, err := s.Forward(ctx)
	return []*RunResult{catchUp, forward}, err
}

// Finalize writes the invocation's failure log, rebuilds the query replica,
// and publishes both when a publisher is configured.
func (s *SyncService) Finalize(ctx context.Context, results ...*RunResult) error {
	var failures []domain.FailureRecord
	var lastRunID string
	for _, r := range results {
		if r == nil {
			continue
		}
		failures = append(failures, r.Failures...)
		if r.Run != nil {
			lastRunID = r.Run.ID
		}
	}

	if s.cfg.FailureLog != "" {
		if err := harvest.WriteFailureLog(s.cfg.FailureLog, failures); err != nil {
			return fmt.Errorf("write failure log: %w", err)
		}
		s.log(ctx).WithFields(logger.Fields{
			logger.FieldCount: len(failures),
			"path":            s.cfg.FailureLog,
		}).Info("Failure log written")
	}

	if _, err := s.builder.Rebuild(ctx, s.projects); err != nil {
		return fmt.Errorf("rebuild query replica: %w", err)
	}

	if s.publisher == nil {
		return nil
	}
	if _, err := s.publisher.PublishReplica(ctx, s.builder.Path()); err != nil {
		return err
	}
	if s.cfg.FailureLog != "" && len(failures) > 0 && lastRunID != "" {
		if err := s.publisher.PublishFailureLog(ctx, lastRunID, s.cfg.FailureLog); err != nil {
			return err
		}
	}
	return nil
}

func (s *SyncService) harvest(ctx context.Context, mode domain.RunMode, ids []int64, window *domain.SyncWindow) (*RunResult, error) {
	run := s.newRun(mode, 0, 0, len(ids))
	if window != nil {
		run.StartID, run.EndID = window.StartID, window.EndID
	}
	ctx = logger.SetRunID(logger.WithField(ctx, logger.FieldMode, string(mode)), run.ID)

	if err := s.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("record run: %w", err)
	}

	sink, closeSink, err := s.openSink()
	if err != nil {
		s.finishRun(ctx, run, err)
		return &RunResult{Run: run, Window: window}, err
	}
	defer closeSink()

	stats, err := s.engine.Run(ctx, ids, sink)
	run.Persisted = stats.Persisted
	run.NotFound = stats.NotFound
	run.Failed = stats.Failed
	s.finishRun(ctx, run, err)

	return &RunResult{Run: run, Window: window, Failures: stats.Failures}, err
}

// openSink builds the per-run sink: the store, plus the CSV export when
// configured.
func (s *SyncService) openSink() (harvest.Sink, func(), error) {
	store := harvest.NewStoreSink(s.projects)
	if s.cfg.CSVPath == "" {
		return store, func() {}, nil
	}

	csvSink, err := harvest.NewCSVSink(s.cfg.CSVPath)
	if err != nil {
		return nil, nil, err
	}
	return harvest.MultiSink{store, csvSink}, func() {
		if err := csvSink.Close(); err != nil {
			s.log(context.Background()).WithError(err).Warn("Failed to close CSV export")
		}
	}, nil
}

func (s *SyncService) newRun(mode domain.RunMode, start, end int64, total int) *domain.HarvestRun {
	return &domain.HarvestRun{
		ID:         uuid.New().String(),
		Mode:       mode,
		Status:     domain.RunStatusRunning,
		StartID:    start,
		EndID:      end,
		TotalItems: total,
		StartedAt:  s.now().UTC(),
	}
}

// finishRun stamps the run complete or failed. The update uses a context
// that survives cancellation so interrupted runs are still recorded.
func (s *SyncService) finishRun(ctx context.Context, run *domain.HarvestRun, runErr error) {
	completed := s.now().UTC()
	run.CompletedAt = &completed
	run.Status = domain.RunStatusCompleted
	if runErr != nil {
		run.Status = domain.RunStatusFailed
		run.ErrorLog = runErr.Error()
	}

	if err := s.runs.Update(context.WithoutCancel(ctx), run); err != nil {
		s.log(ctx).WithError(err).Warn("Failed to update run")
	}

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldStatus: run.Status,
		"persisted":        run.Persisted,
		"not_found":        run.NotFound,
		"failed":           run.Failed,
	}).Info("Run finished")
}
