package harvest

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/timmy/rerasync/internal/domain"
)

// CSVColumns is the header of the flat export, in column order.
var CSVColumns = []string{
	"project_id", "project_name", "promoter_name", "project_type", "project_subtype",
	"project_status", "acknowledgement_number", "registration_number",
	"land_under_litigation", "district", "taluk", "latitude", "longitude",
	"source_of_water", "approving_authority", "total_area_of_land",
	"total_number_of_inventories", "plan_approval_date", "project_start_date",
	"proposed_completion_date", "total_project_cost", "cost_of_land",
	"estimated_cost_of_construction", "complaints_on_promoter",
	"complaints_on_project", "approval_status", "last_fetched_at",
}

// CSVSink appends records to a CSV file, writing the header when the file
// is new or empty. Rows are buffered until Flush.
type CSVSink struct {
	file *os.File
	buf  *bufio.Writer
	w    *csv.Writer
}

// NewCSVSink opens path for appending.
func NewCSVSink(path string) (*CSVSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create csv directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat csv: %w", err)
	}

	buf := bufio.NewWriter(f)
	s := &CSVSink{file: f, buf: buf, w: csv.NewWriter(buf)}
	if info.Size() == 0 {
		if err := s.w.Write(CSVColumns); err != nil {
			f.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
	}
	return s, nil
}

func (s *CSVSink) Write(_ context.Context, rec *domain.ProjectRecord) error {
	return s.w.Write(csvRow(rec))
}

// Flush pushes buffered rows to disk.
func (s *CSVSink) Flush(context.Context) error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return err
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	return s.file.Sync()
}

// Close flushes and closes the file.
func (s *CSVSink) Close() error {
	if err := s.Flush(context.Background()); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

func csvRow(rec *domain.ProjectRecord) []string {
	return []string{
		strconv.FormatInt(rec.ProjectID, 10),
		domain.StringOrEmpty(rec.ProjectName),
		domain.StringOrEmpty(rec.PromoterName),
		domain.StringOrEmpty(rec.ProjectType),
		domain.StringOrEmpty(rec.ProjectSubtype),
		domain.StringOrEmpty(rec.ProjectStatus),
		domain.StringOrEmpty(rec.AcknowledgementNumber),
		domain.StringOrEmpty(rec.RegistrationNumber),
		domain.StringOrEmpty(rec.LandUnderLitigation),
		domain.StringOrEmpty(rec.District),
		domain.StringOrEmpty(rec.Taluk),
		formatFloat(rec.Latitude),
		formatFloat(rec.Longitude),
		domain.StringOrEmpty(rec.SourceOfWater),
		domain.StringOrEmpty(rec.ApprovingAuthority),
		domain.StringOrEmpty(rec.TotalAreaOfLand),
		domain.StringOrEmpty(rec.TotalNumberOfInventories),
		domain.StringOrEmpty(rec.PlanApprovalDate),
		domain.StringOrEmpty(rec.ProjectStartDate),
		domain.StringOrEmpty(rec.ProposedCompletionDate),
		domain.StringOrEmpty(rec.TotalProjectCost),
		domain.StringOrEmpty(rec.CostOfLand),
		domain.StringOrEmpty(rec.EstimatedCostOfConstruction),
		formatInt(rec.ComplaintsOnPromoter),
		formatInt(rec.ComplaintsOnProject),
		string(rec.Status()),
		formatTime(rec.LastFetchedAt),
	}
}

func formatFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func formatInt(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
