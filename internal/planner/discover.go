package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/rerasync/internal/domain"
	"github.com/timmy/rerasync/internal/harvest"
	"github.com/timmy/rerasync/internal/logger"
)

// DefaultNotFoundLimit is how many consecutive unknown identifiers end
// forward discovery.
const DefaultNotFoundLimit = 10

// ErrPortalUnavailable ends forward discovery when limit consecutive probes
// fail for reasons other than a missing project.
var ErrPortalUnavailable = errors.New("portal unavailable during forward discovery")

// DiscoveryStats summarizes a forward scan.
type DiscoveryStats struct {
	StartID   int64
	LastID    int64 // last identifier probed
	Probed    int
	Persisted int
	NotFound  int
	Failures  []domain.FailureRecord
	StartTime time.Time
	EndTime   time.Time
}

// Discoverer probes identifiers past the known maximum one at a time.
type Discoverer struct {
	fetcher harvest.Fetcher
	sink    harvest.Sink
	limit   int
	logger  *logger.Logger
}

// NewDiscoverer creates a discoverer. limit <= 0 uses DefaultNotFoundLimit.
func NewDiscoverer(fetcher harvest.Fetcher, sink harvest.Sink, limit int, log *logger.Logger) *Discoverer {
	if limit <= 0 {
		limit = DefaultNotFoundLimit
	}
	return &Discoverer{fetcher: fetcher, sink: sink, limit: limit, logger: log}
}

// Discover fetches startID, startID+1, ... until limit consecutive probes
// report the project does not exist. Each found record is written and
// flushed before the next probe. Other failures are collected and do not
// affect the not-found streak, but limit consecutive ones stop the scan
// with ErrPortalUnavailable.
func (d *Discoverer) Discover(ctx context.Context, startID int64) (*DiscoveryStats, error) {
	log := logger.FromContextOr(ctx, d.logger)
	stats := &DiscoveryStats{StartID: startID, StartTime: time.Now()}

	streak, failStreak := 0, 0
	for id := startID; streak < d.limit; id++ {
		if err := ctx.Err(); err != nil {
			stats.EndTime = time.Now()
			return stats, err
		}

		stats.Probed++
		stats.LastID = id

		rec, err := d.fetcher.Fetch(ctx, id)
		switch {
		case err == nil:
			streak, failStreak = 0, 0
			if err := d.persist(ctx, rec); err != nil {
				stats.Failures = append(stats.Failures, domain.FailureRecord{ProjectID: id, Cause: err.Error()})
				log.WithField(logger.FieldProjectID, id).WithError(err).Error("Failed to persist discovered project")
				continue
			}
			stats.Persisted++
			log.WithField(logger.FieldProjectID, id).Info("Discovered project")

		case errors.Is(err, domain.ErrNonExistentEntity):
			streak++
			failStreak = 0
			stats.NotFound++
			log.WithFields(logger.Fields{
				logger.FieldProjectID: id,
				"streak":              streak,
			}).Debug("Project does not exist")

		default:
			if ctx.Err() != nil {
				// Interrupted mid-probe; id was never answered.
				stats.EndTime = time.Now()
				return stats, ctx.Err()
			}
			failStreak++
			stats.Failures = append(stats.Failures, domain.FailureRecord{ProjectID: id, Cause: err.Error()})
			log.WithField(logger.FieldProjectID, id).WithError(err).Error("Failed to probe project")
			if failStreak >= d.limit {
				stats.EndTime = time.Now()
				log.WithField("failed", failStreak).Error("Stopping forward discovery after consecutive failures")
				return stats, fmt.Errorf("%w: last error: %v", ErrPortalUnavailable, err)
			}
		}
	}

	stats.EndTime = time.Now()
	logger.With(logger.Fields{
		"start_id":  stats.StartID,
		"last_id":   stats.LastID,
		"persisted": stats.Persisted,
		"failed":    len(stats.Failures),
	}).WithDuration(stats.EndTime.Sub(stats.StartTime).Milliseconds()).Info(ctx, "Forward discovery completed")
	return stats, nil
}

func (d *Discoverer) persist(ctx context.Context, rec *domain.ProjectRecord) error {
	if err := d.sink.Write(ctx, rec); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := d.sink.Flush(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}
