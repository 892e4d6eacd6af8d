package replica

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/timmy/rerasync/internal/domain"
)

// ErrNotFound is returned when the replica has no such project.
var ErrNotFound = errors.New("project not found")

// ErrNotBuilt is returned before the first rebuild has produced a replica.
var ErrNotBuilt = errors.New("replica not built")

const (
	defaultLimit = 20
	maxLimit     = 200
)

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Name     string // substring of project or promoter name
	District string
	Status   domain.ApprovalStatus
	Type     string
	MinID    int64
	Limit    int
	Offset   int
}

// Page is one List result page.
type Page struct {
	Projects []domain.ProjectRecord `json:"projects"`
	Total    int64                  `json:"total"`
	Limit    int                    `json:"limit"`
	Offset   int                    `json:"offset"`
}

// Stats summarizes the replica.
type Stats struct {
	Total      int64            `json:"total"`
	MaxID      int64            `json:"max_project_id"`
	ByStatus   map[string]int64 `json:"by_status"`
	ByDistrict map[string]int64 `json:"by_district"`
	BuiltAt    *time.Time       `json:"built_at,omitempty"`
}

// Reader serves queries from the replica. It reopens the file whenever a
// rebuild has swapped it, so a long-lived Reader follows new snapshots.
// A superseded handle is closed once its last in-flight query releases it.
type Reader struct {
	path string

	mu     sync.Mutex
	handle *handle
}

// handle is one open snapshot and the queries currently using it.
type handle struct {
	db      *sql.DB
	info    os.FileInfo
	refs    int
	retired bool
}

// NewReader creates a reader over the replica at path. The file need not
// exist yet.
func NewReader(path string) *Reader {
	return &Reader{path: path}
}

// Close releases the open snapshot, if any. Queries still running keep it
// open until they finish.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handle == nil {
		return nil
	}
	h := r.handle
	r.handle = nil
	return r.retire(h)
}

// acquire returns the newest snapshot with a reference held. Callers must
// release it when their query is done.
func (r *Reader) acquire() (*handle, error) {
	info, err := os.Stat(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotBuilt
	}
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handle != nil && os.SameFile(r.handle.info, info) {
		r.handle.refs++
		return r.handle, nil
	}

	db, err := sql.Open(driverName, r.path+"?_pragma=query_only(1)")
	if err != nil {
		return nil, fmt.Errorf("open replica: %w", err)
	}
	if r.handle != nil {
		r.retire(r.handle)
	}
	r.handle = &handle{db: db, info: info, refs: 1}
	return r.handle, nil
}

func (r *Reader) release(h *handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h.refs--
	if h.retired && h.refs == 0 {
		h.db.Close()
	}
}

// retire marks h superseded and closes it when unused. Caller holds mu.
func (r *Reader) retire(h *handle) error {
	h.retired = true
	if h.refs == 0 {
		return h.db.Close()
	}
	return nil
}

// Get returns one project.
func (r *Reader) Get(ctx context.Context, id int64) (*domain.ProjectRecord, error) {
	h, err := r.acquire()
	if err != nil {
		return nil, err
	}
	defer r.release(h)
	db := h.db

	row := db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM projects WHERE project_id = ?", id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project %d: %w", id, err)
	}
	return rec, nil
}

// List returns the projects matching f ordered by project_id.
func (r *Reader) List(ctx context.Context, f Filter) (*Page, error) {
	h, err := r.acquire()
	if err != nil {
		return nil, err
	}
	defer r.release(h)
	db := h.db

	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var where []string
	var args []any
	if f.Name != "" {
		where = append(where, "(project_name LIKE ? OR promoter_name LIKE ?)")
		pattern := "%" + f.Name + "%"
		args = append(args, pattern, pattern)
	}
	if f.District != "" {
		where = append(where, "district = ? COLLATE NOCASE")
		args = append(args, f.District)
	}
	if f.Status != "" {
		where = append(where, "approval_status = ?")
		args = append(args, string(f.Status))
	}
	if f.Type != "" {
		where = append(where, "project_type = ? COLLATE NOCASE")
		args = append(args, f.Type)
	}
	if f.MinID > 0 {
		where = append(where, "project_id >= ?")
		args = append(args, f.MinID)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	page := &Page{Projects: []domain.ProjectRecord{}, Limit: limit, Offset: offset}
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM projects"+clause, args...).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("count projects: %w", err)
	}

	query := "SELECT " + selectColumns + " FROM projects" + clause + " ORDER BY project_id LIMIT ? OFFSET ?"
	rows, err := db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		page.Projects = append(page.Projects, *rec)
	}
	return page, rows.Err()
}

// Stats aggregates the replica by status and district.
func (r *Reader) Stats(ctx context.Context) (*Stats, error) {
	h, err := r.acquire()
	if err != nil {
		return nil, err
	}
	defer r.release(h)
	db := h.db

	stats := &Stats{ByStatus: map[string]int64{}, ByDistrict: map[string]int64{}}

	var maxID sql.NullInt64
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*), MAX(project_id) FROM projects").Scan(&stats.Total, &maxID); err != nil {
		return nil, fmt.Errorf("count projects: %w", err)
	}
	stats.MaxID = maxID.Int64

	if err := groupCounts(ctx, db, "approval_status", stats.ByStatus); err != nil {
		return nil, err
	}
	if err := groupCounts(ctx, db, "COALESCE(district, '')", stats.ByDistrict); err != nil {
		return nil, err
	}

	var builtAt string
	err = db.QueryRowContext(ctx, "SELECT value FROM replica_meta WHERE key = ?", metaBuiltAt).Scan(&builtAt)
	if err == nil {
		if t, perr := time.Parse(time.RFC3339, builtAt); perr == nil {
			stats.BuiltAt = &t
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read replica meta: %w", err)
	}
	return stats, nil
}

func groupCounts(ctx context.Context, db *sql.DB, expr string, into map[string]int64) error {
	rows, err := db.QueryContext(ctx, "SELECT "+expr+", COUNT(*) FROM projects GROUP BY 1")
	if err != nil {
		return fmt.Errorf("group by %s: %w", expr, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key] = n
	}
	return rows.Err()
}
