package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/timmy/rerasync/internal/domain"
	"github.com/timmy/rerasync/internal/logger"
)

// DefaultWorkers is the number of concurrent fetches per run.
const DefaultWorkers = 3

// Fetcher retrieves one project record.
type Fetcher interface {
	Fetch(ctx context.Context, id int64) (*domain.ProjectRecord, error)
}

// Sink receives records from the single writer goroutine. Write and Flush
// are never called concurrently.
type Sink interface {
	Write(ctx context.Context, rec *domain.ProjectRecord) error
	Flush(ctx context.Context) error
}

// Engine fans identifiers out to a bounded worker pool and funnels every
// outcome through one writer.
type Engine struct {
	fetcher Fetcher
	workers int
	logger  *logger.Logger
}

// NewEngine creates an engine. workers <= 0 uses DefaultWorkers.
func NewEngine(fetcher Fetcher, workers int, log *logger.Logger) *Engine {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Engine{fetcher: fetcher, workers: workers, logger: log}
}

// RunStats summarizes one run.
type RunStats struct {
	Total     int
	Persisted int
	NotFound  int
	Failed    int
	Failures  []domain.FailureRecord
	StartTime time.Time
	EndTime   time.Time
}

type messageKind int

const (
	msgRecord messageKind = iota
	msgNotFound
	msgFailure
	msgDone
)

// message is the only thing workers send to the writer.
type message struct {
	kind   messageKind
	id     int64
	record *domain.ProjectRecord
	err    error
}

func (e *Engine) log(ctx context.Context) *logger.Logger {
	return logger.FromContextOr(ctx, e.logger)
}

// Run harvests ids and writes every found record to sink. One identifier's
// failure never stops the others. Records already fetched when ctx is
// cancelled are still written and flushed.
func (e *Engine) Run(ctx context.Context, ids []int64, sink Sink) (*RunStats, error) {
	stats := &RunStats{
		Total:     len(ids),
		StartTime: time.Now(),
	}

	e.log(ctx).WithFields(logger.Fields{
		logger.FieldCount: len(ids),
		"workers":         e.workers,
	}).Info("Starting harvest")

	items := make(chan int64, e.workers*2)
	messages := make(chan message, e.workers*2)

	writerDone := make(chan error, 1)
	go func() {
		writerDone <- e.writer(context.WithoutCancel(ctx), sink, messages, stats)
	}()

	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			e.worker(logger.WithField(ctx, logger.FieldWorker, workerID), items, messages)
		}(i)
	}

feed:
	for _, id := range ids {
		select {
		case items <- id:
		case <-ctx.Done():
			break feed
		}
	}

	close(items)
	wg.Wait()

	messages <- message{kind: msgDone}
	flushErr := <-writerDone
	stats.EndTime = time.Now()

	logger.With(logger.Fields{
		"total":     stats.Total,
		"persisted": stats.Persisted,
		"not_found": stats.NotFound,
		"failed":    stats.Failed,
	}).WithDuration(stats.EndTime.Sub(stats.StartTime).Milliseconds()).Info(ctx, "Harvest completed")

	if flushErr != nil {
		return stats, flushErr
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

func (e *Engine) worker(ctx context.Context, items <-chan int64, messages chan<- message) {
	for id := range items {
		if ctx.Err() != nil {
			continue
		}

		rec, err := e.fetcher.Fetch(ctx, id)
		switch {
		case err == nil:
			messages <- message{kind: msgRecord, id: id, record: rec}
		case errors.Is(err, domain.ErrNonExistentEntity):
			messages <- message{kind: msgNotFound, id: id}
		default:
			messages <- message{kind: msgFailure, id: id, err: err}
		}
	}
}

// writer owns stats and sink until it sees msgDone.
func (e *Engine) writer(ctx context.Context, sink Sink, messages <-chan message, stats *RunStats) error {
	for msg := range messages {
		switch msg.kind {
		case msgRecord:
			if err := sink.Write(ctx, msg.record); err != nil {
				e.recordFailure(ctx, stats, msg.id, fmt.Errorf("write: %w", err))
				continue
			}
			stats.Persisted++

		case msgNotFound:
			stats.NotFound++
			e.log(ctx).WithField(logger.FieldProjectID, msg.id).Info("Project does not exist")

		case msgFailure:
			e.recordFailure(ctx, stats, msg.id, msg.err)

		case msgDone:
			if err := sink.Flush(ctx); err != nil {
				return fmt.Errorf("flush sink: %w", err)
			}
			return nil
		}
	}
	return nil
}

func (e *Engine) recordFailure(ctx context.Context, stats *RunStats, id int64, err error) {
	stats.Failed++
	stats.Failures = append(stats.Failures, domain.FailureRecord{ProjectID: id, Cause: err.Error()})
	e.log(ctx).WithField(logger.FieldProjectID, id).WithError(err).Error("Failed to harvest project")
}
