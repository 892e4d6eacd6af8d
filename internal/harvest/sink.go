package harvest

import (
	"context"
	"errors"

	"github.com/timmy/rerasync/internal/domain"
)

// Merger is the store-side contract StoreSink writes through.
type Merger interface {
	Merge(ctx context.Context, rec *domain.ProjectRecord) error
}

// StoreSink merges each record into the canonical store as it arrives.
type StoreSink struct {
	store Merger
}

// NewStoreSink creates a sink over store.
func NewStoreSink(store Merger) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Write(ctx context.Context, rec *domain.ProjectRecord) error {
	return s.store.Merge(ctx, rec)
}

// Flush is a no-op; every Write is already committed.
func (s *StoreSink) Flush(context.Context) error {
	return nil
}

// MultiSink writes to every sink in order. A write fails if any sink fails.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, rec *domain.ProjectRecord) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Flush(ctx context.Context) error {
	var errs []error
	for _, s := range m {
		if err := s.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
