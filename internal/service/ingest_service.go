package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tazhate/usagestats/internal/calendar"
	"github.com/tazhate/usagestats/internal/domain"
	appLog "github.com/tazhate/usagestats/internal/log"
	"github.com/tazhate/usagestats/internal/metrics"
	"github.com/tazhate/usagestats/internal/roster"
	"github.com/tazhate/usagestats/internal/storage"
)

// Run status values.
const (
	StatusOK      = "ok"
	StatusPartial = "partial" // some sources could not be read
	StatusFailed  = "failed"
)

// ErrConfig marks errors detected before any store mutation.
var ErrConfig = errors.New("invalid ingestion config")

// IngestOptions configures an ingestion run.
type IngestOptions struct {
	BookingTypes []string // ordered keyword list, first match wins
	Divisions    []string
	UsersFile    string
	GroupsFile   string
	Workers      int
}

// Report is the outcome of one ingestion run.
type Report struct {
	RunID         string
	StartedAt     time.Time
	FinishedAt    time.Time
	Sources       int
	Fetched       int
	Inserted      int
	Skipped       int
	Duplicates    []string
	Malformed     []string
	FailedSources []string
	UnknownUsers  int
	UnknownGroups int
	Status        string
}

// IngestService reads calendar sources into the booking store.
type IngestService struct {
	storage   *storage.Storage
	extractor *calendar.Extractor
	opts      IngestOptions
}

// NewIngestService creates a new ingestion service
func NewIngestService(s *storage.Storage, extractor *calendar.Extractor, opts IngestOptions) *IngestService {
	return &IngestService{storage: s, extractor: extractor, opts: opts}
}

// Run extracts every source concurrently, then resolves and stores the
// bookings serially in one store session. Unreadable sources are reported
// and skipped; storage errors roll the whole run back.
func (s *IngestService) Run(ctx context.Context, sources []calendar.Source) (*Report, error) {
	started := time.Now()
	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: started,
		Sources:   len(sources),
		Status:    StatusFailed,
	}
	defer func() {
		report.FinishedAt = time.Now()
		metrics.Register()
		metrics.Runs.WithLabelValues(report.Status).Inc()
		metrics.LastRunDuration.Set(report.FinishedAt.Sub(started).Seconds())
		metrics.LastRunTimestamp.Set(float64(report.FinishedAt.Unix()))
	}()

	if err := validateSources(sources); err != nil {
		return report, err
	}

	users, err := roster.LoadUsers(s.opts.UsersFile)
	if err != nil {
		return report, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	groups, err := roster.LoadGroups(s.opts.GroupsFile)
	if err != nil {
		return report, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	appLog.Info("ingestion started", "run", report.RunID, "sources", len(sources))

	results := s.extractor.ExtractAll(ctx, sources, s.opts.Workers)
	for _, res := range results {
		if res.Fatal() {
			return report, fmt.Errorf("%w: %s: %v", ErrConfig, res.Source.Instrument, res.Err)
		}
	}

	resolver := NewResolver(s.opts.BookingTypes, users, groups)
	var stats runStats
	err = s.storage.Session(ctx, func(tx *storage.Tx) error {
		stats = runStats{}
		if err := resolver.Seed(ctx, tx, s.opts.Divisions); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		for _, res := range results {
			if err := s.store(ctx, tx, resolver, res, &stats); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		appLog.Error("ingestion rolled back", err, "run", report.RunID)
		return report, err
	}

	stats.apply(report)
	for _, res := range results {
		if res.Err != nil {
			report.FailedSources = append(report.FailedSources, res.Source.Instrument)
			metrics.SourceFailures.WithLabelValues(res.Source.Instrument).Inc()
		}
	}
	report.UnknownUsers = resolver.UnknownUsers()
	report.UnknownGroups = resolver.UnknownGroups()
	metrics.UnknownIdentities.WithLabelValues("user").Set(float64(report.UnknownUsers))
	metrics.UnknownIdentities.WithLabelValues("group").Set(float64(report.UnknownGroups))

	if err := users.Save(); err != nil {
		appLog.Error("users file not updated", err, "path", users.Path())
	}
	if err := groups.Save(); err != nil {
		appLog.Error("groups file not updated", err, "path", groups.Path())
	}
	if n := users.Unknown(); n > 0 && users.Path() != "" {
		appLog.Info("users without known group; edit the file and re-run", "count", n, "path", users.Path())
	}
	if n := groups.Unknown(); n > 0 && groups.Path() != "" {
		appLog.Info("groups without known division; edit the file and re-run", "count", n, "path", groups.Path())
	}

	report.Status = StatusOK
	if len(report.FailedSources) > 0 {
		report.Status = StatusPartial
	}
	appLog.Info("ingestion finished",
		"run", report.RunID,
		"status", report.Status,
		"fetched", report.Fetched,
		"inserted", report.Inserted,
		"duplicates", len(report.Duplicates),
		"malformed", len(report.Malformed),
		"failed_sources", len(report.FailedSources),
	)
	return report, nil
}

type runStats struct {
	fetched    int
	inserted   int
	skipped    int
	duplicates []string
	malformed  []string
	counters   map[string]*instrumentCounts
}

type instrumentCounts struct {
	fetched, inserted, duplicate, malformed int
}

func (st *runStats) count(instrument string) *instrumentCounts {
	if st.counters == nil {
		st.counters = map[string]*instrumentCounts{}
	}
	c, ok := st.counters[instrument]
	if !ok {
		c = &instrumentCounts{}
		st.counters[instrument] = c
	}
	return c
}

// apply copies the committed counts into the report and metrics. It runs
// only after the session commits so rolled back attempts are not counted.
func (st *runStats) apply(r *Report) {
	r.Fetched = st.fetched
	r.Inserted = st.inserted
	r.Skipped = st.skipped
	r.Duplicates = st.duplicates
	r.Malformed = st.malformed
	for name, c := range st.counters {
		metrics.EventsFetched.WithLabelValues(name).Add(float64(c.fetched))
		metrics.EventsInserted.WithLabelValues(name).Add(float64(c.inserted))
		metrics.EventsDuplicate.WithLabelValues(name).Add(float64(c.duplicate))
		metrics.EventsMalformed.WithLabelValues(name).Add(float64(c.malformed))
	}
}

func (s *IngestService) store(ctx context.Context, tx *storage.Tx, r *Resolver, res calendar.Result, st *runStats) error {
	instrumentID, err := r.InstrumentID(ctx, tx, res.Source.AsInstrument())
	if err != nil {
		return err
	}
	c := st.count(res.Source.Instrument)
	st.skipped += res.Skipped
	st.malformed = append(st.malformed, res.Malformed...)
	c.malformed += len(res.Malformed)
	if res.Err != nil {
		return nil
	}

	for _, raw := range res.Events {
		st.fetched++
		c.fetched++

		userID, err := r.UserID(ctx, tx, raw.User, raw.Email)
		if err != nil {
			return err
		}
		typeID, err := r.BookingTypeID(ctx, tx, raw.Subject)
		if err != nil {
			return err
		}

		ev := &domain.Event{
			GUID:          raw.GUID,
			UserID:        userID,
			InstrumentID:  instrumentID,
			BookingTypeID: typeID,
			Start:         raw.Start,
			End:           raw.End,
			Hours:         raw.Hours,
			Subject:       raw.Subject,
		}
		err = tx.InsertEvent(ctx, ev)
		switch {
		case err == nil:
			st.inserted++
			c.inserted++
		case errors.Is(err, storage.ErrDuplicate):
			st.duplicates = append(st.duplicates, raw.Key())
			c.duplicate++
		case errors.Is(err, storage.ErrInvalidEvent):
			st.malformed = append(st.malformed, raw.Key())
			c.malformed++
		default:
			return err
		}
	}
	return nil
}

func validateSources(sources []calendar.Source) error {
	seen := make(map[string]bool, len(sources))
	for i, src := range sources {
		if strings.TrimSpace(src.Instrument) == "" {
			return fmt.Errorf("%w: source %d has no instrument name", ErrConfig, i+1)
		}
		if src.Locator() == "" {
			return fmt.Errorf("%w: instrument %q has neither path nor url", ErrConfig, src.Instrument)
		}
		key := src.Instrument + "|" + src.Locator()
		if seen[key] {
			return fmt.Errorf("%w: instrument %q listed twice for %s", ErrConfig, src.Instrument, src.Locator())
		}
		seen[key] = true
	}
	return nil
}

// FormatReport renders a run report for operators.
func FormatReport(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s: %s\n", r.RunID, r.Status)
	fmt.Fprintf(&b, "Sources: %d (failed: %d)\n", r.Sources, len(r.FailedSources))
	fmt.Fprintf(&b, "Fetched: %d / Inserted: %d / Duplicates: %d / Malformed: %d\n",
		r.Fetched, r.Inserted, len(r.Duplicates), len(r.Malformed))
	if r.Skipped > 0 {
		fmt.Fprintf(&b, "Skipped without organizer: %d\n", r.Skipped)
	}
	if len(r.FailedSources) > 0 {
		fmt.Fprintf(&b, "Failed: %s\n", strings.Join(r.FailedSources, ", "))
	}
	if r.UnknownUsers > 0 || r.UnknownGroups > 0 {
		fmt.Fprintf(&b, "Unknown: %d users without group, %d groups without division\n", r.UnknownUsers, r.UnknownGroups)
	}
	return b.String()
}
