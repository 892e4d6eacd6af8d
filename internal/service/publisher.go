package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/timmy/rerasync/internal/logger"
	"github.com/timmy/rerasync/internal/storage"
)

const (
	snapshotPrefix  = "snapshots/"
	latestKey       = "latest/projects.db"
	replicaFileName = "projects.db"
	failuresPrefix  = "failures/"

	sqliteContentType = "application/vnd.sqlite3"
	jsonlContentType  = "application/x-ndjson"
)

// Publisher copies replica snapshots and failure logs to object storage.
type Publisher struct {
	store  storage.ObjectStorage
	keep   int
	logger *logger.Logger
	now    func() time.Time
}

// NewPublisher creates a publisher keeping at most keep dated snapshots.
// keep <= 0 disables pruning.
func NewPublisher(store storage.ObjectStorage, keep int, log *logger.Logger) *Publisher {
	return &Publisher{store: store, keep: keep, logger: log, now: time.Now}
}

func (p *Publisher) log(ctx context.Context) *logger.Logger {
	return logger.FromContextOr(ctx, p.logger).WithField(logger.FieldComponent, "publisher")
}

// SnapshotKey returns the dated key a replica built at t is published under.
func SnapshotKey(t time.Time) string {
	return snapshotPrefix + t.UTC().Format("2006-01-02") + "/" + replicaFileName
}

// PublishReplica uploads the replica at path as today's snapshot and as the
// latest copy, then prunes old snapshots. Returns the latest copy's URL.
func (p *Publisher) PublishReplica(ctx context.Context, path string) (string, error) {
	for _, key := range []string{SnapshotKey(p.now()), latestKey} {
		if err := p.uploadFile(ctx, key, path, sqliteContentType); err != nil {
			return "", err
		}
	}

	url := p.store.GetURL(latestKey)
	p.log(ctx).WithField("url", url).Info("Replica published")

	if err := p.Prune(ctx); err != nil {
		p.log(ctx).WithError(err).Warn("Failed to prune old snapshots")
	}
	return url, nil
}

// PublishFailureLog uploads a run's failure log.
func (p *Publisher) PublishFailureLog(ctx context.Context, runID, path string) error {
	return p.uploadFile(ctx, failuresPrefix+runID+".jsonl", path, jsonlContentType)
}

// Prune deletes dated snapshots beyond the newest keep.
func (p *Publisher) Prune(ctx context.Context) error {
	if p.keep <= 0 {
		return nil
	}

	listed, err := p.store.List(ctx, snapshotPrefix)
	if err != nil {
		return err
	}
	var keys []string
	for _, key := range listed {
		if IsSnapshotKey(key) {
			keys = append(keys, key)
		}
	}
	// Dated keys sort chronologically.
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	for i, key := range keys {
		if i < p.keep {
			continue
		}
		if err := p.store.Delete(ctx, key); err != nil {
			return err
		}
		p.log(ctx).WithField("key", key).Info("Pruned snapshot")
	}
	return nil
}

// RestoreReplica downloads the latest published replica to dest. It
// returns false when nothing has been published yet.
func (p *Publisher) RestoreReplica(ctx context.Context, dest string) (bool, error) {
	ok, err := p.store.Exists(ctx, latestKey)
	if err != nil || !ok {
		return false, err
	}

	body, err := p.store.Download(ctx, latestKey)
	if err != nil {
		return false, err
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return false, fmt.Errorf("create replica directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".restore-*.db")
	if err != nil {
		return false, fmt.Errorf("create temp replica: %w", err)
	}
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return false, fmt.Errorf("download replica: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return false, err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return false, fmt.Errorf("swap replica: %w", err)
	}

	p.log(ctx).WithField("path", dest).Info("Replica restored from storage")
	return true, nil
}

func (p *Publisher) uploadFile(ctx context.Context, key, path, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := p.store.Upload(ctx, key, f, info.Size(), contentType); err != nil {
		return err
	}
	p.log(ctx).WithFields(logger.Fields{
		"key":  key,
		"size": info.Size(),
	}).Debug("Uploaded object")
	return nil
}

// IsSnapshotKey reports whether key names a dated snapshot.
func IsSnapshotKey(key string) bool {
	return strings.HasPrefix(key, snapshotPrefix) && strings.HasSuffix(key, "/"+replicaFileName)
}
