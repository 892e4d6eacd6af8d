package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/timmy/rerasync/internal/config"
	"github.com/timmy/rerasync/internal/domain"
	"github.com/timmy/rerasync/internal/replica"
	"github.com/timmy/rerasync/internal/repository"
)

type recordSource []domain.ProjectRecord

func (s recordSource) EachBatch(_ context.Context, _ int, fn func([]domain.ProjectRecord) error) error {
	return fn(s)
}

type runStub struct {
	runs []domain.HarvestRun
}

func (s *runStub) Get(_ context.Context, id string) (*domain.HarvestRun, error) {
	for i := range s.runs {
		if s.runs[i].ID == id {
			return &s.runs[i], nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *runStub) ListRecent(_ context.Context, limit int) ([]domain.HarvestRun, error) {
	if limit < len(s.runs) {
		return s.runs[:limit], nil
	}
	return s.runs, nil
}

func str(s string) *string { return &s }

func status(s domain.ApprovalStatus) *domain.ApprovalStatus { return &s }

func newTestRouter(t *testing.T, build bool) *gin.Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replica.db")

	if build {
		src := recordSource{
			{ProjectID: 1, ProjectName: str("Skyline Residency"), District: str("Bengaluru Urban"), ProjectType: str("Residential"), ApprovalStatus: status(domain.ApprovalApproved)},
			{ProjectID: 2, ProjectName: str("Lakeview Towers"), District: str("Mysuru"), ProjectType: str("Residential"), ApprovalStatus: status(domain.ApprovalUnknown)},
			{ProjectID: 3, ProjectName: str("Tech Park Phase 2"), District: str("Bengaluru Urban"), ProjectType: str("Commercial"), ApprovalStatus: status(domain.ApprovalApproved)},
		}
		_, err := replica.NewBuilder(path, nil).Rebuild(context.Background(), src)
		require.NoError(t, err)
	}

	reader := replica.NewReader(path)
	t.Cleanup(func() { reader.Close() })

	runs := &runStub{runs: []domain.HarvestRun{
		{ID: "run-2", Mode: domain.RunModeForward, Status: domain.RunStatusCompleted, StartedAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		{ID: "run-1", Mode: domain.RunModeRange, Status: domain.RunStatusFailed, StartedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}}

	return SetupRouter(reader, runs, &config.ServerConfig{
		Mode: "test",
		CORS: config.CORSConfig{AllowAllOrigins: true},
	}, nil)
}

func do(r http.Handler, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_Health(t *testing.T) {
	w := do(newTestRouter(t, true), http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "ready", body["dataset"])
}

func TestRouter_HealthBeforeFirstBuild(t *testing.T) {
	r := newTestRouter(t, false)

	w := do(r, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"dataset":"missing"`)

	w = do(r, http.MethodGet, "/api/v1/projects")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRouter_ListProjects(t *testing.T) {
	r := newTestRouter(t, true)

	w := do(r, http.MethodGet, "/api/v1/projects?district=bengaluru%20urban&status=approved")
	require.Equal(t, http.StatusOK, w.Code)

	var page replica.Page
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.EqualValues(t, 2, page.Total)
	require.Len(t, page.Projects, 2)
	require.EqualValues(t, 1, page.Projects[0].ProjectID)
	require.EqualValues(t, 3, page.Projects[1].ProjectID)

	w = do(r, http.MethodGet, "/api/v1/projects?limit=1&offset=1")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.EqualValues(t, 3, page.Total)
	require.Len(t, page.Projects, 1)
	require.EqualValues(t, 2, page.Projects[0].ProjectID)

	w = do(r, http.MethodGet, "/api/v1/projects?limit=abc")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_GetProject(t *testing.T) {
	r := newTestRouter(t, true)

	w := do(r, http.MethodGet, "/api/v1/projects/2")
	require.Equal(t, http.StatusOK, w.Code)
	var rec domain.ProjectRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	require.Equal(t, "Lakeview Towers", *rec.ProjectName)

	require.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/v1/projects/99").Code)
	require.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/v1/projects/x").Code)
	require.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/v1/projects/0").Code)
}

func TestRouter_Stats(t *testing.T) {
	w := do(newTestRouter(t, true), http.MethodGet, "/api/v1/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var stats replica.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	require.EqualValues(t, 3, stats.Total)
	require.EqualValues(t, 3, stats.MaxID)
	require.EqualValues(t, 2, stats.ByStatus["APPROVED"])
}

func TestRouter_Runs(t *testing.T) {
	r := newTestRouter(t, true)

	w := do(r, http.MethodGet, "/api/v1/runs?limit=1")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Runs []domain.HarvestRun `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	require.Equal(t, "run-2", body.Runs[0].ID)

	require.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/v1/runs/run-1").Code)
	require.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/v1/runs/nope").Code)
}

func TestRouter_CORSPreflight(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/projects", nil)
	req.Header.Set("Origin", "https://example.org")
	newTestRouter(t, true).ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
