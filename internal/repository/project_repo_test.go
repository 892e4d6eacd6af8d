package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/timmy/rerasync/internal/config"
	"github.com/timmy/rerasync/internal/domain"
	"gorm.io/gorm"
)

// NewTestDB creates a migrated SQLite database in a temp directory.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := InitDB(&config.DatabaseConfig{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "projects.db"),
		AutoMigrate: true,
	})
	require.NoError(t, err, "failed to create test database")

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func str(s string) *string { return &s }

func status(s domain.ApprovalStatus) *domain.ApprovalStatus { return &s }

func TestProjectRepository_MergeInsertsAndReads(t *testing.T) {
	ctx := context.Background()
	repo := NewProjectRepository(NewTestDB(t))

	lat := 12.97
	complaints := 2
	err := repo.Merge(ctx, &domain.ProjectRecord{
		ProjectID:            100,
		ProjectName:          str("Skyline"),
		Latitude:             &lat,
		ComplaintsOnPromoter: &complaints,
		ApprovalStatus:       status(domain.ApprovalApproved),
	})
	require.NoError(t, err)

	got, err := repo.Get(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, "Skyline", *got.ProjectName)
	require.Equal(t, 12.97, *got.Latitude)
	require.Equal(t, 2, *got.ComplaintsOnPromoter)
	require.Nil(t, got.District)
	require.Equal(t, domain.ApprovalApproved, got.Status())

	_, err = repo.Get(ctx, 101)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestProjectRepository_MergeKeepsAbsentColumns(t *testing.T) {
	ctx := context.Background()
	repo := NewProjectRepository(NewTestDB(t))

	require.NoError(t, repo.Merge(ctx, &domain.ProjectRecord{
		ProjectID:   7,
		ProjectName: str("Lakeview"),
		District:    str("Mysuru"),
	}))
	require.NoError(t, repo.Merge(ctx, &domain.ProjectRecord{
		ProjectID:   7,
		ProjectName: str("Lakeview Phase 2"),
	}))

	got, err := repo.Get(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, "Lakeview Phase 2", *got.ProjectName)
	require.NotNil(t, got.District, "absent column must not be nulled")
	require.Equal(t, "Mysuru", *got.District)

	// A record carrying nothing but its key leaves the row alone.
	require.NoError(t, repo.Merge(ctx, &domain.ProjectRecord{ProjectID: 7}))
	got, err = repo.Get(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, "Lakeview Phase 2", *got.ProjectName)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestProjectRepository_MergeDoesNotDowngradeStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewProjectRepository(NewTestDB(t))

	require.NoError(t, repo.Merge(ctx, &domain.ProjectRecord{
		ProjectID:      9,
		ApprovalStatus: status(domain.ApprovalApproved),
	}))
	require.NoError(t, repo.Merge(ctx, &domain.ProjectRecord{
		ProjectID:      9,
		ApprovalStatus: status(domain.ApprovalUnknown),
	}))

	got, err := repo.Get(ctx, 9)
	require.NoError(t, err)
	require.Equal(t, domain.ApprovalApproved, got.Status())

	// A resolved status still replaces a resolved status.
	require.NoError(t, repo.Merge(ctx, &domain.ProjectRecord{
		ProjectID:      9,
		ApprovalStatus: status(domain.ApprovalRevoked),
	}))
	got, err = repo.Get(ctx, 9)
	require.NoError(t, err)
	require.Equal(t, domain.ApprovalRevoked, got.Status())
}

func TestProjectRepository_MergeRejectsMissingKey(t *testing.T) {
	repo := NewProjectRepository(NewTestDB(t))
	require.Error(t, repo.Merge(context.Background(), &domain.ProjectRecord{ProjectName: str("x")}))
}

func TestProjectRepository_MaxProjectID(t *testing.T) {
	ctx := context.Background()
	repo := NewProjectRepository(NewTestDB(t))

	_, ok, err := repo.MaxProjectID(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	for _, id := range []int64{5, 42, 17} {
		require.NoError(t, repo.Merge(ctx, &domain.ProjectRecord{ProjectID: id, ProjectName: str("p")}))
	}

	maxID, ok, err := repo.MaxProjectID(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 42, maxID)

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.EqualValues(t, 5, all[0].ProjectID)
	require.EqualValues(t, 42, all[2].ProjectID)
}

func TestProjectRepository_EachBatch(t *testing.T) {
	ctx := context.Background()
	repo := NewProjectRepository(NewTestDB(t))

	for id := int64(1); id <= 5; id++ {
		require.NoError(t, repo.Merge(ctx, &domain.ProjectRecord{ProjectID: id, ProjectName: str("p")}))
	}

	var seen []int64
	batches := 0
	err := repo.EachBatch(ctx, 2, func(batch []domain.ProjectRecord) error {
		batches++
		for _, rec := range batch {
			seen = append(seen, rec.ProjectID)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, batches)
	require.Equal(t, []int64{1, 2, 3, 4, 5}, seen)
}

func TestRunRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewRunRepository(NewTestDB(t))

	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	run := &domain.HarvestRun{
		ID:        "run-1",
		Mode:      domain.RunModeCatchUp,
		Status:    domain.RunStatusRunning,
		StartID:   10,
		EndID:     20,
		StartedAt: started,
	}
	require.NoError(t, repo.Create(ctx, run))

	completed := started.Add(time.Minute)
	run.Status = domain.RunStatusCompleted
	run.Persisted = 9
	run.NotFound = 2
	run.CompletedAt = &completed
	require.NoError(t, repo.Update(ctx, run))

	got, err := repo.Get(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusCompleted, got.Status)
	require.Equal(t, 9, got.Persisted)
	require.NotNil(t, got.CompletedAt)

	_, err = repo.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	runs, err := repo.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
}
