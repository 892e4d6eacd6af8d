package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/timmy/rerasync/internal/config"
	"github.com/timmy/rerasync/internal/domain"
	"github.com/timmy/rerasync/internal/harvest"
	"github.com/timmy/rerasync/internal/planner"
	"github.com/timmy/rerasync/internal/replica"
	"github.com/timmy/rerasync/internal/repository"
)

// memStorage is an in-memory ObjectStorage.
type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{objects: map[string][]byte{}}
}

func (m *memStorage) Upload(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memStorage) Download(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such key %s", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStorage) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *memStorage) GetURL(key string) string { return "mem://" + key }

func (m *memStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memStorage) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memStorage) has(key string) bool {
	ok, _ := m.Exists(context.Background(), key)
	return ok
}

// portalStub answers Fetch from a fixed table.
type portalStub struct {
	mu       sync.Mutex
	missing  func(id int64) bool
	failing  map[int64]bool
	fetched  []int64
	statuses map[int64]domain.ApprovalStatus
}

func (p *portalStub) Fetch(_ context.Context, id int64) (*domain.ProjectRecord, error) {
	p.mu.Lock()
	p.fetched = append(p.fetched, id)
	failing := p.failing[id]
	p.mu.Unlock()

	if p.missing != nil && p.missing(id) {
		return nil, fmt.Errorf("project %d: %w", id, domain.ErrNonExistentEntity)
	}
	if failing {
		return nil, errors.New("connection reset by peer")
	}
	name := fmt.Sprintf("Project %d", id)
	status := domain.ApprovalUnknown
	if st, ok := p.statuses[id]; ok {
		status = st
	}
	return &domain.ProjectRecord{ProjectID: id, ProjectName: &name, ApprovalStatus: &status}, nil
}

type fixture struct {
	svc      *SyncService
	projects *repository.ProjectRepository
	runs     *repository.RunRepository
	store    *memStorage
	dir      string
	cfg      *SyncConfig
}

func newFixture(t *testing.T, portal *portalStub) *fixture {
	t.Helper()
	dir := t.TempDir()

	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:      "sqlite",
		Path:        filepath.Join(dir, "projects.db"),
		AutoMigrate: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	projects := repository.NewProjectRepository(db)
	runs := repository.NewRunRepository(db)
	store := newMemStorage()
	cfg := &SyncConfig{
		Workers:       3,
		LookbackDays:  360,
		NotFoundLimit: 10,
		FailureLog:    filepath.Join(dir, "failed.jsonl"),
		CSVPath:       filepath.Join(dir, "projects.csv"),
	}

	svc := NewSyncService(
		projects,
		runs,
		portal,
		replica.NewBuilder(filepath.Join(dir, "replica.db"), nil),
		NewPublisher(store, 3, nil),
		nil,
		cfg,
	)
	return &fixture{svc: svc, projects: projects, runs: runs, store: store, dir: dir, cfg: cfg}
}

func reg(s string) *string { return &s }

func TestSyncService_RangeThenRetry(t *testing.T) {
	ctx := context.Background()
	portal := &portalStub{
		missing: func(id int64) bool { return id == 3 },
		failing: map[int64]bool{4: true},
	}
	f := newFixture(t, portal)

	result, err := f.svc.HarvestRange(ctx, 1, 5)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusCompleted, result.Run.Status)
	require.Equal(t, 3, result.Run.Persisted)
	require.Equal(t, 1, result.Run.NotFound)
	require.Equal(t, 1, result.Run.Failed)
	require.Len(t, result.Failures, 1)
	require.EqualValues(t, 4, result.Failures[0].ProjectID)

	require.NoError(t, f.svc.Finalize(ctx, result))

	logged, err := harvest.ReadFailureLog(f.cfg.FailureLog)
	require.NoError(t, err)
	require.Len(t, logged, 1)

	stats, err := replica.NewReader(filepath.Join(f.dir, "replica.db")).Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, stats.Total)

	require.True(t, f.store.has(latestKey))
	require.True(t, f.store.has("failures/"+result.Run.ID+".jsonl"))

	stored, err := f.runs.Get(ctx, result.Run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RunModeRange, stored.Mode)
	require.EqualValues(t, 5, stored.EndID)

	// The portal recovers; retry reruns only the failed identifier.
	portal.mu.Lock()
	portal.failing = nil
	portal.fetched = nil
	portal.mu.Unlock()

	retry, err := f.svc.RetryFailures(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{4}, portal.fetched)
	require.Equal(t, 1, retry.Run.Persisted)
	require.NoError(t, f.svc.Finalize(ctx, retry))

	logged, err = harvest.ReadFailureLog(f.cfg.FailureLog)
	require.NoError(t, err)
	require.Empty(t, logged)

	count, err := f.projects.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 4, count)
}

func TestSyncService_CatchUpWithoutAnchorFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &portalStub{})

	require.NoError(t, f.projects.Merge(ctx, &domain.ProjectRecord{
		ProjectID:             1,
		AcknowledgementNumber: reg("ACK/010124/1"),
	}))

	result, err := f.svc.CatchUp(ctx)
	require.ErrorIs(t, err, domain.ErrNoApprovedAnchor)
	require.Equal(t, domain.RunStatusFailed, result.Run.Status)

	stored, err := f.runs.Get(ctx, result.Run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusFailed, stored.Status)
	require.NotEmpty(t, stored.ErrorLog)
}

func TestSyncService_CatchUpHarvestsWindow(t *testing.T) {
	ctx := context.Background()
	portal := &portalStub{}
	f := newFixture(t, portal)
	f.svc.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }

	approved := domain.ApprovalApproved
	unknown := domain.ApprovalUnknown
	require.NoError(t, f.projects.Merge(ctx, &domain.ProjectRecord{
		ProjectID:          50,
		RegistrationNumber: reg("PRM/KA/RERA/PR/010124/0001"),
		ApprovalStatus:     &approved,
	}))
	require.NoError(t, f.projects.Merge(ctx, &domain.ProjectRecord{
		ProjectID:             40,
		AcknowledgementNumber: reg("ACK/KA/010923/0002"),
		ApprovalStatus:        &unknown,
	}))
	require.NoError(t, f.projects.Merge(ctx, &domain.ProjectRecord{
		ProjectID:             10,
		AcknowledgementNumber: reg("ACK/KA/010622/0003"),
		ApprovalStatus:        &unknown,
	}))

	result, err := f.svc.CatchUp(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.SyncWindow{StartID: 40, EndID: 50}, *result.Window)
	require.Equal(t, 11, result.Run.Persisted)
	require.Len(t, portal.fetched, 11)

	// Re-fetch returned UNKNOWN; the stored APPROVED status survives.
	got, err := f.projects.Get(ctx, 50)
	require.NoError(t, err)
	require.Equal(t, domain.ApprovalApproved, got.Status())
	require.Equal(t, "PRM/KA/RERA/PR/010124/0001", *got.RegistrationNumber)
}

func TestSyncService_Forward(t *testing.T) {
	ctx := context.Background()
	portal := &portalStub{missing: func(id int64) bool { return id > 23 }}
	f := newFixture(t, portal)

	require.NoError(t, f.projects.Merge(ctx, &domain.ProjectRecord{ProjectID: 20, ProjectName: reg("seed")}))

	result, err := f.svc.Forward(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 21, result.Run.StartID)
	require.EqualValues(t, 33, result.Run.EndID)
	require.Equal(t, 3, result.Run.Persisted)
	require.Equal(t, 10, result.Run.NotFound)

	maxID, ok, err := f.projects.MaxProjectID(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 23, maxID)
}

func TestSyncService_HarvestRangeRejectsInverted(t *testing.T) {
	f := newFixture(t, &portalStub{})
	_, err := f.svc.HarvestRange(context.Background(), 10, 5)
	require.Error(t, err)
}

func TestSyncService_ForwardStopsWhenPortalIsDown(t *testing.T) {
	ctx := context.Background()
	portal := &portalStub{failing: map[int64]bool{}}
	for id := int64(21); id <= 200; id++ {
		portal.failing[id] = true
	}
	f := newFixture(t, portal)
	require.NoError(t, f.projects.Merge(ctx, &domain.ProjectRecord{ProjectID: 20, ProjectName: reg("seed")}))

	result, err := f.svc.Forward(ctx)
	require.ErrorIs(t, err, planner.ErrPortalUnavailable)
	require.Equal(t, domain.RunStatusFailed, result.Run.Status)
	require.Equal(t, 10, result.Run.Failed)
	require.Len(t, result.Failures, 10)
	require.Len(t, portal.fetched, 10)

	require.NoError(t, f.svc.Finalize(ctx, result))
	logged, err := harvest.ReadFailureLog(f.cfg.FailureLog)
	require.NoError(t, err)
	require.Len(t, logged, 10)
}
