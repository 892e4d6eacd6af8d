package portal

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/timmy/rerasync/internal/domain"
)

type fakePoster struct {
	responses map[string]string
	errs      map[string]error
	forms     map[string]map[string]string
}

func (f *fakePoster) Post(_ context.Context, endpoint string, form map[string]string) (string, error) {
	if f.forms == nil {
		f.forms = make(map[string]map[string]string)
	}
	f.forms[endpoint] = form
	if err := f.errs[endpoint]; err != nil {
		return "", err
	}
	return f.responses[endpoint], nil
}

func TestFetcher_Fetch(t *testing.T) {
	poster := &fakePoster{responses: map[string]string{
		detailEndpoint: detailFixture,
		statusEndpoint: statusFixture,
	}}

	rec, err := NewFetcher(poster).Fetch(context.Background(), 4242)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if got := poster.forms[detailEndpoint]["action"]; got != "4242" {
		t.Errorf("detail action = %q, want 4242", got)
	}
	statusForm := poster.forms[statusEndpoint]
	if statusForm["regNo"] != "PRM/KA/RERA/1251/446/PR/171014/000456" {
		t.Errorf("regNo = %q", statusForm["regNo"])
	}
	// Only the registration number narrows the search.
	for _, facet := range []string{"project", "firm", "appNo"} {
		value, ok := statusForm[facet]
		if !ok || value != "" {
			t.Errorf("status facet %s = %q (present %v), want empty placeholder", facet, value, ok)
		}
	}
	if statusForm["subdistrict"] != "0" {
		t.Errorf("subdistrict = %q, want 0", statusForm["subdistrict"])
	}
	if statusForm["district"] != "0" || statusForm["btn1"] != "Search" {
		t.Errorf("status form = %v", statusForm)
	}

	if rec.Status() != domain.ApprovalRejected {
		t.Errorf("ApprovalStatus = %q, want REJECTED", rec.Status())
	}
	if rec.LastFetchedAt == nil {
		t.Error("LastFetchedAt not set")
	}
}

func TestFetcher_NoRegistrationNumber(t *testing.T) {
	poster := &fakePoster{responses: map[string]string{
		detailEndpoint: `<html><body><span class="user_name">Project Name</span><b>Lakeview</b></body></html>`,
	}}

	rec, err := NewFetcher(poster).Fetch(context.Background(), 7)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if rec.ApprovalStatus == nil || *rec.ApprovalStatus != domain.ApprovalUnknown {
		t.Errorf("ApprovalStatus = %v, want UNKNOWN", rec.ApprovalStatus)
	}
	if _, called := poster.forms[statusEndpoint]; called {
		t.Error("status lookup must be skipped without a registration number")
	}
}

func TestFetcher_StatusLookupFailureIsUnknown(t *testing.T) {
	poster := &fakePoster{
		responses: map[string]string{detailEndpoint: detailFixture},
		errs:      map[string]error{statusEndpoint: &StatusError{Op: "POST /projectViewDetails", Code: 502}},
	}

	rec, err := NewFetcher(poster).Fetch(context.Background(), 4242)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if rec.Status() != domain.ApprovalUnknown {
		t.Errorf("ApprovalStatus = %q, want UNKNOWN", rec.Status())
	}
}

func TestFetcher_NonExistent(t *testing.T) {
	poster := &fakePoster{errs: map[string]error{
		detailEndpoint: &TransportError{Op: "POST /projectDetails", Kind: KindTruncated, Err: io.ErrUnexpectedEOF},
	}}

	_, err := NewFetcher(poster).Fetch(context.Background(), 99999)
	if !errors.Is(err, domain.ErrNonExistentEntity) {
		t.Fatalf("err = %v, want ErrNonExistentEntity", err)
	}
}

func TestFetcher_OtherTransportErrorPropagates(t *testing.T) {
	poster := &fakePoster{errs: map[string]error{
		detailEndpoint: &TransportError{Op: "POST /projectDetails", Kind: KindReset, Err: errors.New("connection reset")},
	}}

	_, err := NewFetcher(poster).Fetch(context.Background(), 5)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, domain.ErrNonExistentEntity) {
		t.Error("reset must not be classified as non-existent")
	}
}
