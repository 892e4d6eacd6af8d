package portal

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/timmy/rerasync/internal/domain"
	"github.com/timmy/rerasync/internal/logger"
)

const (
	detailEndpoint = "projectDetails"
	statusEndpoint = "projectViewDetails"
)

// Poster submits a form to a portal endpoint. *Client implements it.
type Poster interface {
	Post(ctx context.Context, endpoint string, form map[string]string) (string, error)
}

// Fetcher turns a project ID into a ProjectRecord.
type Fetcher struct {
	portal Poster
	now    func() time.Time
}

// NewFetcher creates a fetcher over p.
func NewFetcher(p Poster) *Fetcher {
	return &Fetcher{portal: p, now: time.Now}
}

// Fetch retrieves the detail page for id, extracts every field, and looks
// up the approval status by registration number. A project the portal does
// not know yields an error wrapping domain.ErrNonExistentEntity.
func (f *Fetcher) Fetch(ctx context.Context, id int64) (*domain.ProjectRecord, error) {
	ctx = logger.SetProjectID(ctx, id)
	log := logger.FromContext(ctx)

	body, err := f.portal.Post(ctx, detailEndpoint, map[string]string{
		"action": strconv.FormatInt(id, 10),
	})
	if err != nil {
		if IsNonExistent(err) {
			return nil, fmt.Errorf("project %d: %w", id, domain.ErrNonExistentEntity)
		}
		return nil, fmt.Errorf("project %d: fetch details: %w", id, err)
	}

	page, err := ParsePage(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("project %d: %w", id, err)
	}
	rec := page.Record(id)

	status := domain.ApprovalUnknown
	if rec.RegistrationNumber != nil {
		status = f.lookupStatus(ctx, rec)
	} else {
		log.Debug("No registration number, approval status unknown")
	}
	rec.ApprovalStatus = &status

	fetchedAt := f.now().UTC()
	rec.LastFetchedAt = &fetchedAt
	return rec, nil
}

// lookupStatus queries the approved-projects search by registration number
// alone; the other facets stay empty because the portal ANDs them. Failures
// degrade to UNKNOWN rather than failing the record.
func (f *Fetcher) lookupStatus(ctx context.Context, rec *domain.ProjectRecord) domain.ApprovalStatus {
	body, err := f.portal.Post(ctx, statusEndpoint, map[string]string{
		"project":     "",
		"firm":        "",
		"appNo":       "",
		"regNo":       *rec.RegistrationNumber,
		"district":    "0",
		"subdistrict": "0",
		"btn1":        "Search",
	})
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Approval status lookup failed")
		return domain.ApprovalUnknown
	}
	return CleanStatus(ParseStatus(ctx, body))
}
