package planner

import (
	"sort"
	"strings"
	"time"

	"github.com/timmy/rerasync/internal/domain"
)

// DefaultLookbackDays bounds how far before the newest approval pending
// projects are re-checked.
const DefaultLookbackDays = 360

const identifierDateLayout = "020106"

// DecodeIdentifierDate reads the DDMMYY token that precedes the last
// slash-delimited segment of an acknowledgement or registration number.
func DecodeIdentifierDate(identifier string) (time.Time, bool) {
	parts := strings.Split(strings.TrimSpace(identifier), "/")
	if len(parts) < 2 {
		return time.Time{}, false
	}
	t, err := time.Parse(identifierDateLayout, parts[len(parts)-2])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// WindowLowerBound is the first day inside a lookback of days ending on
// latest. Both ends count, so 360 days back from 2024-01-01 is 2023-01-07.
func WindowLowerBound(latest time.Time, days int) time.Time {
	return latest.AddDate(0, 0, -(days - 1))
}

type datedRecord struct {
	id   int64
	date time.Time
}

// PlanStaleWindow picks the identifier range whose pending projects may
// have resolved since they were last fetched.
//
// The end is the APPROVED project with the newest registration date, dates
// after now being ignored. The start is the earliest-dated UNKNOWN project
// with an acknowledgement date inside the lookback. With no such project the
// window collapses to the end alone. ErrNoApprovedAnchor is returned when no
// approved project has a decodable registration date.
func PlanStaleWindow(records []domain.ProjectRecord, now time.Time, lookbackDays int) (domain.SyncWindow, error) {
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}

	var anchor *datedRecord
	var pending []datedRecord

	for i := range records {
		rec := &records[i]
		switch rec.Status() {
		case domain.ApprovalApproved:
			if rec.RegistrationNumber == nil {
				continue
			}
			date, ok := DecodeIdentifierDate(*rec.RegistrationNumber)
			if !ok || date.After(now) {
				continue
			}
			if anchor == nil || date.After(anchor.date) ||
				(date.Equal(anchor.date) && rec.ProjectID > anchor.id) {
				anchor = &datedRecord{id: rec.ProjectID, date: date}
			}

		case domain.ApprovalUnknown:
			if rec.AcknowledgementNumber == nil {
				continue
			}
			date, ok := DecodeIdentifierDate(*rec.AcknowledgementNumber)
			if !ok || date.After(now) {
				continue
			}
			pending = append(pending, datedRecord{id: rec.ProjectID, date: date})
		}
	}

	if anchor == nil {
		return domain.SyncWindow{}, domain.ErrNoApprovedAnchor
	}

	sort.Slice(pending, func(i, j int) bool {
		if pending[i].date.Equal(pending[j].date) {
			return pending[i].id < pending[j].id
		}
		return pending[i].date.Before(pending[j].date)
	})

	lower := WindowLowerBound(anchor.date, lookbackDays)
	window := domain.SyncWindow{StartID: anchor.id, EndID: anchor.id}
	for _, p := range pending {
		if !p.date.Before(lower) {
			window.StartID = p.id
			break
		}
	}

	// Identifiers are not issued in date order.
	if window.StartID > window.EndID {
		window.StartID, window.EndID = window.EndID, window.StartID
	}
	return window, nil
}
