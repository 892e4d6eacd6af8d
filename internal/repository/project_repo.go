package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/timmy/rerasync/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

const approvalStatusColumn = "approval_status"

// keepKnownStatus stops an UNKNOWN lookup result from erasing a status that
// an earlier fetch did resolve.
var keepKnownStatus = gorm.Expr(
	"CASE WHEN excluded.approval_status = ? AND project_records.approval_status IS NOT NULL "+
		"THEN project_records.approval_status ELSE excluded.approval_status END",
	string(domain.ApprovalUnknown),
)

// ProjectRepository is the canonical project table.
type ProjectRepository struct {
	db          *gorm.DB
	schemaCache *sync.Map
}

// NewProjectRepository creates a new ProjectRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *ProjectRepository: repository instance bound to db.
func NewProjectRepository(db *gorm.DB) *ProjectRepository {
	return &ProjectRepository{db: db, schemaCache: &sync.Map{}}
}

// Merge upserts rec by project_id. Columns that rec leaves nil are not
// touched on an existing row, so a partial record never erases data.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - rec: record to merge; ProjectID must be set.
// Returns:
//   - error: non-nil if the upsert fails.
func (r *ProjectRepository) Merge(ctx context.Context, rec *domain.ProjectRecord) error {
	if rec == nil || rec.ProjectID == 0 {
		return fmt.Errorf("merge: record without project_id")
	}

	present, err := r.presentColumns(ctx, rec)
	if err != nil {
		return err
	}

	conflict := clause.OnConflict{Columns: []clause.Column{{Name: "project_id"}}}
	if len(present) == 0 {
		conflict.DoNothing = true
	} else {
		var plain []string
		var statusPresent bool
		for _, col := range present {
			if col == approvalStatusColumn {
				statusPresent = true
				continue
			}
			plain = append(plain, col)
		}
		set := clause.AssignmentColumns(plain)
		if statusPresent {
			set = append(set, clause.Assignment{
				Column: clause.Column{Name: approvalStatusColumn},
				Value:  keepKnownStatus,
			})
		}
		conflict.DoUpdates = set
	}

	if err := r.db.WithContext(ctx).Clauses(conflict).Create(rec).Error; err != nil {
		return fmt.Errorf("merge project %d: %w", rec.ProjectID, err)
	}
	return nil
}

// presentColumns lists the non-key columns rec carries a value for.
func (r *ProjectRepository) presentColumns(ctx context.Context, rec *domain.ProjectRecord) ([]string, error) {
	sch, err := schema.Parse(rec, r.schemaCache, r.db.NamingStrategy)
	if err != nil {
		return nil, fmt.Errorf("parse project schema: %w", err)
	}

	value := reflect.ValueOf(rec).Elem()
	columns := make([]string, 0, len(sch.Fields))
	for _, field := range sch.Fields {
		if field.DBName == "" || field.PrimaryKey {
			continue
		}
		if _, zero := field.ValueOf(ctx, value); zero {
			continue
		}
		columns = append(columns, field.DBName)
	}
	return columns, nil
}

// Get retrieves a project by ID.
// Returns ErrNotFound when the project is not stored.
func (r *ProjectRepository) Get(ctx context.Context, id int64) (*domain.ProjectRecord, error) {
	var rec domain.ProjectRecord
	err := r.db.WithContext(ctx).First(&rec, "project_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListAll returns every stored project ordered by project_id.
func (r *ProjectRepository) ListAll(ctx context.Context) ([]domain.ProjectRecord, error) {
	var records []domain.ProjectRecord
	if err := r.db.WithContext(ctx).Order("project_id ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// EachBatch streams stored projects to fn in primary key order.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - size: rows per batch.
//   - fn: called once per batch; a non-nil error stops iteration.
// Returns:
//   - error: the first error from the query or fn.
func (r *ProjectRepository) EachBatch(ctx context.Context, size int, fn func([]domain.ProjectRecord) error) error {
	var batch []domain.ProjectRecord
	result := r.db.WithContext(ctx).FindInBatches(&batch, size, func(_ *gorm.DB, _ int) error {
		return fn(batch)
	})
	return result.Error
}

// MaxProjectID returns the highest stored project_id, or false when the
// table is empty.
func (r *ProjectRepository) MaxProjectID(ctx context.Context) (int64, bool, error) {
	var maxID sql.NullInt64
	err := r.db.WithContext(ctx).Model(&domain.ProjectRecord{}).
		Select("MAX(project_id)").
		Scan(&maxID).Error
	if err != nil {
		return 0, false, err
	}
	return maxID.Int64, maxID.Valid, nil
}

// Count returns the number of stored projects.
func (r *ProjectRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.ProjectRecord{}).Count(&count).Error
	return count, err
}
