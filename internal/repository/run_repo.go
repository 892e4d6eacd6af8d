package repository

import (
	"context"
	"errors"

	"github.com/timmy/rerasync/internal/domain"
	"gorm.io/gorm"
)

// RunRepository records harvest runs.
type RunRepository struct {
	db *gorm.DB
}

// NewRunRepository creates a new RunRepository.
func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts a new run.
func (r *RunRepository) Create(ctx context.Context, run *domain.HarvestRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

// Update saves all fields of run.
func (r *RunRepository) Update(ctx context.Context, run *domain.HarvestRun) error {
	return r.db.WithContext(ctx).Save(run).Error
}

// Get retrieves a run by ID.
func (r *RunRepository) Get(ctx context.Context, id string) (*domain.HarvestRun, error) {
	var run domain.HarvestRun
	err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRecent returns the newest runs first.
func (r *RunRepository) ListRecent(ctx context.Context, limit int) ([]domain.HarvestRun, error) {
	var runs []domain.HarvestRun
	err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}
