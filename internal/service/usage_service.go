package service

import (
	"context"
	"fmt"
	"time"

	"github.com/tazhate/usagestats/internal/domain"
	"github.com/tazhate/usagestats/internal/storage"
	"github.com/tazhate/usagestats/internal/usage"
)

// UsageService computes reports over stored bookings.
type UsageService struct {
	storage *storage.Storage
	workers int
}

// NewUsageService creates a new usage service
func NewUsageService(s *storage.Storage, workers int) *UsageService {
	return &UsageService{storage: s, workers: workers}
}

// Events returns the bookings strictly inside (from, to).
func (s *UsageService) Events(ctx context.Context, from, to time.Time) ([]domain.EventRecord, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("range start %s is not before end %s", from.Format(time.DateOnly), to.Format(time.DateOnly))
	}
	return s.storage.EventsInRange(ctx, from, to)
}

// Weekly returns the weekly usage of [from, to) partitioned by the named key
// (instrument, group, division, user or type).
func (s *UsageService) Weekly(ctx context.Context, from, to time.Time, by string) ([]usage.Row, error) {
	key, err := usage.KeyFor(by)
	if err != nil {
		return nil, err
	}
	events, err := s.Events(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	return usage.Weekly(ctx, events, from, to, key, s.workers)
}

// Summary returns the headline numbers and the type x instrument table.
func (s *UsageService) Summary(ctx context.Context, from, to time.Time) (usage.Summary, usage.Pivot, error) {
	events, err := s.Events(ctx, from, to)
	if err != nil {
		return usage.Summary{}, usage.Pivot{}, fmt.Errorf("load events: %w", err)
	}
	return usage.Summarize(events, from, to), usage.HoursByTypeAndInstrument(events), nil
}

// Users lists the users that booked anything in the range.
func (s *UsageService) Users(ctx context.Context, from, to time.Time) ([]domain.UserRecord, error) {
	return s.storage.UniqueUsersInRange(ctx, from, to)
}

// Instruments lists the known instruments.
func (s *UsageService) Instruments(ctx context.Context) ([]domain.Instrument, error) {
	return s.storage.ListInstruments(ctx)
}
