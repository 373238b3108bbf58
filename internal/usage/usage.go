package usage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tazhate/usagestats/internal/domain"
)

// Week is the fixed reporting window length.
const Week = 7 * 24 * time.Hour

// Window is one reporting week. Start is inclusive, End exclusive.
type Window struct {
	Week  int
	Start time.Time
	End   time.Time
}

// Row is the usage of one partition key in one week.
type Row struct {
	Week  int
	Start time.Time
	End   time.Time
	Key   string
	Hours float64
}

// DateRange yields start, start+step, ... while the value is before end.
func DateRange(start, end time.Time, step time.Duration) []time.Time {
	if step <= 0 {
		return nil
	}
	var out []time.Time
	for cur := start; cur.Before(end); cur = cur.Add(step) {
		out = append(out, cur)
	}
	return out
}

// Weeks partitions [from, to) into consecutive windows starting at from.
// The last window keeps its full length even when it reaches past to.
func Weeks(from, to time.Time) []Window {
	starts := DateRange(from, to, Week)
	out := make([]Window, len(starts))
	for i, s := range starts {
		out[i] = Window{Week: i + 1, Start: s, End: s.Add(Week)}
	}
	return out
}

// Overlap returns the hours [start, end) shares with [wStart, wEnd), or 0
// when they only touch or are disjoint.
func Overlap(start, end, wStart, wEnd time.Time) float64 {
	lo := start
	if wStart.After(lo) {
		lo = wStart
	}
	hi := end
	if wEnd.Before(hi) {
		hi = wEnd
	}
	d := hi.Sub(lo)
	if d <= 0 {
		return 0
	}
	return d.Hours()
}

// Usage sums the overlap of every event with w.
func Usage(w Window, events []domain.EventRecord) float64 {
	var s float64
	for _, e := range events {
		s += Overlap(e.Start, e.End, w.Start, w.End)
	}
	return s
}

// KeyFunc picks the partition an event belongs to.
type KeyFunc func(domain.EventRecord) string

var keyFuncs = map[string]KeyFunc{
	"instrument": func(e domain.EventRecord) string { return e.Instrument },
	"group":      func(e domain.EventRecord) string { return e.Group },
	"division":   func(e domain.EventRecord) string { return e.Division },
	"user":       func(e domain.EventRecord) string { return e.User },
	"type":       func(e domain.EventRecord) string { return e.Type },
}

// Keys lists the partition names accepted by KeyFor.
func Keys() []string {
	out := make([]string, 0, len(keyFuncs))
	for k := range keyFuncs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// KeyFor returns the partition function named by key.
func KeyFor(key string) (KeyFunc, error) {
	fn, ok := keyFuncs[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return nil, fmt.Errorf("unknown partition %q (want one of %s)", key, strings.Join(Keys(), ", "))
	}
	return fn, nil
}

// Partition groups events by key.
func Partition(events []domain.EventRecord, key KeyFunc) map[string][]domain.EventRecord {
	out := make(map[string][]domain.EventRecord)
	for _, e := range events {
		k := key(e)
		out[k] = append(out[k], e)
	}
	return out
}

// Weekly computes the usage of every partition present in events for each
// week of [from, to). Partitions are processed concurrently on at most
// workers goroutines; rows are sorted by key, then week.
func Weekly(ctx context.Context, events []domain.EventRecord, from, to time.Time, key KeyFunc, workers int) ([]Row, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("empty range: %s is not before %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	if workers <= 0 {
		workers = 4
	}

	weeks := Weeks(from, to)
	parts := Partition(events, key)
	names := make([]string, 0, len(parts))
	for k := range parts {
		names = append(names, k)
	}
	sort.Strings(names)

	perKey := make([][]Row, len(names))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, name := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rows := make([]Row, len(weeks))
			for j, w := range weeks {
				rows[j] = Row{Week: w.Week, Start: w.Start, End: w.End, Key: name, Hours: Usage(w, parts[name])}
			}
			perKey[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Row, 0, len(names)*len(weeks))
	for _, rows := range perKey {
		out = append(out, rows...)
	}
	return out, nil
}

// Totals sums rows per key.
func Totals(rows []Row) map[string]float64 {
	out := make(map[string]float64)
	for _, r := range rows {
		out[r.Key] += r.Hours
	}
	return out
}
