// Package replica maintains the read-only SQLite snapshot the query API
// serves from. The snapshot is always rebuilt whole and swapped in with a
// rename, so readers see either the previous image or the new one.
package replica

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/timmy/rerasync/internal/domain"
	"github.com/timmy/rerasync/internal/logger"
	_ "modernc.org/sqlite"
)

const (
	driverName      = "sqlite"
	batchSize       = 500
	metaBuiltAt     = "built_at"
	metaRecordCount = "record_count"
)

// Source streams the canonical dataset in batches.
type Source interface {
	EachBatch(ctx context.Context, size int, fn func([]domain.ProjectRecord) error) error
}

// Builder rebuilds the replica file at Path.
type Builder struct {
	path   string
	logger *logger.Logger
	now    func() time.Time
}

// NewBuilder creates a builder for the replica at path.
func NewBuilder(path string, log *logger.Logger) *Builder {
	return &Builder{path: path, logger: log, now: time.Now}
}

// Path returns the replica file location.
func (b *Builder) Path() string {
	return b.path
}

// Rebuild writes a complete snapshot of src to a temporary file in the
// replica directory and renames it over the replica. On any error the
// existing replica is left untouched.
func (b *Builder) Rebuild(ctx context.Context, src Source) (int, error) {
	log := logger.FromContextOr(ctx, b.logger).WithField(logger.FieldComponent, "replica")
	start := b.now()

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("create replica directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".replica-*.db")
	if err != nil {
		return 0, fmt.Errorf("create temp replica: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	count, err := b.populate(ctx, tmpPath, src)
	if err != nil {
		removeDatabase(tmpPath)
		return 0, err
	}

	if err := os.Rename(tmpPath, b.path); err != nil {
		removeDatabase(tmpPath)
		return 0, fmt.Errorf("swap replica: %w", err)
	}

	log.WithFields(logger.Fields{
		logger.FieldCount:      count,
		logger.FieldDurationMs: b.now().Sub(start).Milliseconds(),
		"path":                 b.path,
	}).Info("Query replica rebuilt")
	return count, nil
}

func (b *Builder) populate(ctx context.Context, path string, src Source) (int, error) {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return 0, fmt.Errorf("open temp replica: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, createSchema); err != nil {
		return 0, fmt.Errorf("create replica schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin replica load: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return 0, fmt.Errorf("prepare replica insert: %w", err)
	}
	defer stmt.Close()

	count := 0
	err = src.EachBatch(ctx, batchSize, func(batch []domain.ProjectRecord) error {
		for i := range batch {
			if _, err := stmt.ExecContext(ctx, bindRecord(&batch[i])...); err != nil {
				return fmt.Errorf("insert project %d: %w", batch[i].ProjectID, err)
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("load replica: %w", err)
	}

	meta := map[string]string{
		metaBuiltAt:     b.now().UTC().Format(time.RFC3339),
		metaRecordCount: strconv.Itoa(count),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, "INSERT INTO replica_meta (key, value) VALUES (?, ?)", k, v); err != nil {
			return 0, fmt.Errorf("write replica meta: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit replica load: %w", err)
	}
	return count, nil
}

func removeDatabase(path string) {
	for _, p := range []string{path, path + "-journal", path + "-wal", path + "-shm"} {
		os.Remove(p)
	}
}
