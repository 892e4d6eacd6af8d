package replica

import (
	"database/sql"
	"strings"
	"time"

	"github.com/timmy/rerasync/internal/domain"
)

const createSchema = `
CREATE TABLE projects (
    project_id INTEGER PRIMARY KEY,
    project_name TEXT,
    promoter_name TEXT,
    project_type TEXT,
    project_subtype TEXT,
    project_status TEXT,
    acknowledgement_number TEXT,
    registration_number TEXT,
    land_under_litigation TEXT,
    district TEXT,
    taluk TEXT,
    latitude REAL,
    longitude REAL,
    source_of_water TEXT,
    approving_authority TEXT,
    total_area_of_land TEXT,
    total_number_of_inventories TEXT,
    plan_approval_date TEXT,
    project_start_date TEXT,
    proposed_completion_date TEXT,
    total_project_cost TEXT,
    cost_of_land TEXT,
    estimated_cost_of_construction TEXT,
    complaints_on_promoter INTEGER,
    complaints_on_project INTEGER,
    approval_status TEXT NOT NULL DEFAULT 'UNKNOWN',
    last_fetched_at TEXT
);
CREATE INDEX idx_replica_district ON projects(district);
CREATE INDEX idx_replica_status ON projects(approval_status);
CREATE INDEX idx_replica_type ON projects(project_type);
CREATE TABLE replica_meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

var columns = []string{
	"project_id", "project_name", "promoter_name", "project_type", "project_subtype",
	"project_status", "acknowledgement_number", "registration_number",
	"land_under_litigation", "district", "taluk", "latitude", "longitude",
	"source_of_water", "approving_authority", "total_area_of_land",
	"total_number_of_inventories", "plan_approval_date", "project_start_date",
	"proposed_completion_date", "total_project_cost", "cost_of_land",
	"estimated_cost_of_construction", "complaints_on_promoter",
	"complaints_on_project", "approval_status", "last_fetched_at",
}

var (
	selectColumns = strings.Join(columns, ", ")
	insertSQL     = "INSERT INTO projects (" + selectColumns + ") VALUES (?" +
		strings.Repeat(", ?", len(columns)-1) + ")"
)

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullInt(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// bindRecord returns rec's values in column order.
func bindRecord(rec *domain.ProjectRecord) []any {
	return []any{
		rec.ProjectID,
		nullString(rec.ProjectName),
		nullString(rec.PromoterName),
		nullString(rec.ProjectType),
		nullString(rec.ProjectSubtype),
		nullString(rec.ProjectStatus),
		nullString(rec.AcknowledgementNumber),
		nullString(rec.RegistrationNumber),
		nullString(rec.LandUnderLitigation),
		nullString(rec.District),
		nullString(rec.Taluk),
		nullFloat(rec.Latitude),
		nullFloat(rec.Longitude),
		nullString(rec.SourceOfWater),
		nullString(rec.ApprovingAuthority),
		nullString(rec.TotalAreaOfLand),
		nullString(rec.TotalNumberOfInventories),
		nullString(rec.PlanApprovalDate),
		nullString(rec.ProjectStartDate),
		nullString(rec.ProposedCompletionDate),
		nullString(rec.TotalProjectCost),
		nullString(rec.CostOfLand),
		nullString(rec.EstimatedCostOfConstruction),
		nullInt(rec.ComplaintsOnPromoter),
		nullInt(rec.ComplaintsOnProject),
		string(rec.Status()),
		nullTime(rec.LastFetchedAt),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord reads one row selected with selectColumns.
func scanRecord(row rowScanner) (*domain.ProjectRecord, error) {
	var (
		rec                         domain.ProjectRecord
		text                        [20]sql.NullString
		lat, lng                    sql.NullFloat64
		complPromoter, complProject sql.NullInt64
		status                      string
		fetchedAt                   sql.NullString
	)

	err := row.Scan(
		&rec.ProjectID,
		&text[0], &text[1], &text[2], &text[3], &text[4], &text[5], &text[6],
		&text[7], &text[8], &text[9],
		&lat, &lng,
		&text[10], &text[11], &text[12], &text[13], &text[14], &text[15],
		&text[16], &text[17], &text[18], &text[19],
		&complPromoter, &complProject,
		&status,
		&fetchedAt,
	)
	if err != nil {
		return nil, err
	}

	targets := []**string{
		&rec.ProjectName, &rec.PromoterName, &rec.ProjectType, &rec.ProjectSubtype,
		&rec.ProjectStatus, &rec.AcknowledgementNumber, &rec.RegistrationNumber,
		&rec.LandUnderLitigation, &rec.District, &rec.Taluk,
		&rec.SourceOfWater, &rec.ApprovingAuthority, &rec.TotalAreaOfLand,
		&rec.TotalNumberOfInventories, &rec.PlanApprovalDate, &rec.ProjectStartDate,
		&rec.ProposedCompletionDate, &rec.TotalProjectCost, &rec.CostOfLand,
		&rec.EstimatedCostOfConstruction,
	}
	for i, target := range targets {
		if text[i].Valid {
			v := text[i].String
			*target = &v
		}
	}

	if lat.Valid {
		rec.Latitude = &lat.Float64
	}
	if lng.Valid {
		rec.Longitude = &lng.Float64
	}
	if complPromoter.Valid {
		n := int(complPromoter.Int64)
		rec.ComplaintsOnPromoter = &n
	}
	if complProject.Valid {
		n := int(complProject.Int64)
		rec.ComplaintsOnProject = &n
	}

	st := domain.ApprovalStatus(status)
	rec.ApprovalStatus = &st

	if fetchedAt.Valid {
		if t, err := time.Parse(time.RFC3339, fetchedAt.String); err == nil {
			rec.LastFetchedAt = &t
		}
	}
	return &rec, nil
}
