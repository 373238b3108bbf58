package calendar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tazhate/usagestats/internal/clients/caldav"
	appLog "github.com/tazhate/usagestats/internal/log"
)

// Result is the outcome of extracting one Source. Err is set when the
// source could not be read at all; Parsed is then empty.
type Result struct {
	Source Source
	Parsed
	Err error
}

// Fatal reports whether the failure must abort the whole run rather than
// only drop this source.
func (r Result) Fatal() bool {
	return r.Err != nil && errors.Is(r.Err, ErrBadTimestamp)
}

// Extractor turns calendar sources into raw booking events.
type Extractor struct {
	opts           Options
	fetcher        *Fetcher
	timeout        time.Duration
	cookie         string
	caldavUser     string
	caldavPassword string
}

// NewExtractor creates an Extractor. fetcher may be nil when no remote
// sources are used.
func NewExtractor(opts Options, fetcher *Fetcher) *Extractor {
	if opts.Location == nil {
		opts.Location = opts.location()
	}
	e := &Extractor{opts: opts, fetcher: fetcher}
	if fetcher != nil {
		e.cookie = fetcher.cookie
		e.timeout = fetcher.client.Timeout
	}
	return e
}

// SetCalDAVCredentials configures Basic Auth for CalDAV sources.
func (e *Extractor) SetCalDAVCredentials(username, password string) {
	e.caldavUser = username
	e.caldavPassword = password
}

// Extract reads one source.
func (e *Extractor) Extract(ctx context.Context, src Source) Result {
	src = src.InferKind()
	res := Result{Source: src}

	var err error
	switch src.Kind {
	case KindFile:
		res.Parsed, err = e.extractFile(src)
	case KindXLSX:
		res.Parsed, err = LoadXLSX(src.Path, src.Instrument, e.opts)
	case KindURL:
		res.Parsed, err = e.extractURL(ctx, src)
	case KindCalDAV:
		res.Parsed, err = e.extractCalDAV(ctx, src)
	default:
		err = fmt.Errorf("unknown source kind %q", src.Kind)
	}

	if err != nil {
		res.Parsed = Parsed{}
		res.Err = err
		appLog.Error("calendar source failed", err,
			"instrument", src.Instrument, "kind", src.Kind, "source", redactLocator(src))
		return res
	}

	appLog.Info("calendar source extracted",
		"instrument", src.Instrument,
		"kind", src.Kind,
		"events", len(res.Events),
		"skipped", res.Skipped,
		"malformed", len(res.Malformed),
	)
	return res
}

// ExtractAll reads every source on at most workers goroutines and returns
// once all of them are done. A failing source never stops its siblings;
// results keep the order of sources.
func (e *Extractor) ExtractAll(ctx context.Context, sources []Source, workers int) []Result {
	if workers <= 0 {
		workers = 4
	}
	results := make([]Result, len(sources))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, src := range sources {
		g.Go(func() error {
			results[i] = e.Extract(ctx, src)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (e *Extractor) extractFile(src Source) (Parsed, error) {
	data, err := os.ReadFile(src.Path)
	if err != nil {
		return Parsed{}, err
	}
	return ParseICS(bytes.NewReader(data), src.Instrument, e.opts)
}

func (e *Extractor) extractURL(ctx context.Context, src Source) (Parsed, error) {
	if e.fetcher == nil {
		return Parsed{}, errors.New("no fetcher configured for remote calendars")
	}
	body, err := e.fetcher.Fetch(ctx, src.URL)
	if err != nil {
		return Parsed{}, err
	}
	return ParseICS(bytes.NewReader(body), src.Instrument, e.opts)
}

func (e *Extractor) extractCalDAV(ctx context.Context, src Source) (Parsed, error) {
	base, path, err := splitCalDAVURL(src.URL)
	if err != nil {
		return Parsed{}, err
	}
	client := caldav.NewClient(base, e.caldavUser, e.caldavPassword, e.cookie, e.timeout)

	var from, to time.Time
	if e.opts.ExpandRecurrences {
		from, to = e.opts.RangeStart, e.opts.RangeEnd
	}
	cals, err := client.GetCalendars(ctx, path, from, to)
	if err != nil {
		return Parsed{}, err
	}

	var out Parsed
	for _, cal := range cals {
		out.merge(EventsFromCalendar(cal, src.Instrument, e.opts))
	}
	return out, nil
}

// splitCalDAVURL maps caldav:// and caldavs:// to http and https and splits
// the endpoint from the collection path.
func splitCalDAVURL(raw string) (base, path string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse caldav url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "caldav":
		u.Scheme = "http"
	case "caldavs":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", "", fmt.Errorf("unsupported caldav scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", "", errors.New("caldav url has no host")
	}
	return u.Scheme + "://" + u.Host, u.Path, nil
}

func redactLocator(src Source) string {
	if src.URL != "" {
		return redactURL(src.URL)
	}
	return src.Path
}
