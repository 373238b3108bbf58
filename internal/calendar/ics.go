package calendar

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"

	"github.com/tazhate/usagestats/internal/domain"
	appLog "github.com/tazhate/usagestats/internal/log"
)

const defaultMaxOccurrencesPerEvent = 5000

// Options controls how calendar events are normalized.
type Options struct {
	// Location is the reference timezone. Floating times are interpreted in
	// it and every emitted timestamp is converted to it. Nil means
	// Europe/London.
	Location *time.Location

	// ExpandRecurrences turns RRULE events into one booking per occurrence
	// within [RangeStart, RangeEnd]. Without it only the first occurrence is
	// emitted.
	ExpandRecurrences bool
	RangeStart        time.Time
	RangeEnd          time.Time

	// MaxOccurrencesPerEvent caps recurrence expansion. Zero means 5000.
	MaxOccurrencesPerEvent int

	// StrictTimestamps makes an unparseable spreadsheet timestamp fail the
	// whole source instead of skipping the row.
	StrictTimestamps bool
}

func (o Options) location() *time.Location {
	if o.Location != nil {
		return o.Location
	}
	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Parsed is the outcome of reading one calendar payload.
type Parsed struct {
	Events    []domain.RawEvent
	Skipped   int      // events without an organizer
	Malformed []string // keys of events rejected as malformed
}

func (p *Parsed) merge(o Parsed) {
	p.Events = append(p.Events, o.Events...)
	p.Skipped += o.Skipped
	p.Malformed = append(p.Malformed, o.Malformed...)
}

// ParseICS decodes every VCALENDAR in r and returns the bookings of
// instrument found in it.
func ParseICS(r io.Reader, instrument string, opts Options) (Parsed, error) {
	var out Parsed
	dec := ical.NewDecoder(r)
	calendars := 0
	for {
		cal, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("decode ics: %w", err)
		}
		calendars++
		out.merge(EventsFromCalendar(cal, instrument, opts))
	}
	if calendars == 0 {
		return out, errors.New("decode ics: no calendar found")
	}
	return out, nil
}

// EventsFromCalendar normalizes the VEVENTs of an already decoded calendar.
// Events without an ORGANIZER are skipped.
func EventsFromCalendar(cal *ical.Calendar, instrument string, opts Options) Parsed {
	var out Parsed
	loc := opts.location()
	events := cal.Events()

	// Overridden instances of a recurring booking share the UID of the
	// series; they are keyed by their RECURRENCE-ID and replace the
	// matching expanded occurrence.
	overrides := make(map[string]bool)
	for _, ev := range events {
		if guid, ok := overrideGUID(ev, loc); ok {
			overrides[guid] = true
		}
	}

	for _, ev := range events {
		org := ev.Props.Get(ical.PropOrganizer)
		if org == nil {
			out.Skipped++
			continue
		}
		user := org.Params.Get(ical.ParamCommonName)
		email := org.Value

		uid := ""
		if p := ev.Props.Get(ical.PropUID); p != nil {
			uid = p.Value
		}
		subject := ""
		if p := ev.Props.Get(ical.PropSummary); p != nil {
			subject = p.Value
		}

		start, err := ev.DateTimeStart(loc)
		if err != nil {
			appLog.Error("ics event start invalid", err, "instrument", instrument, "uid", uid)
			out.Malformed = append(out.Malformed, malformedKey(uid, instrument))
			continue
		}
		end, err := ev.DateTimeEnd(loc)
		if err != nil {
			appLog.Error("ics event end invalid", err, "instrument", instrument, "uid", uid)
			out.Malformed = append(out.Malformed, malformedKey(uid, instrument))
			continue
		}

		guid := uid
		if g, ok := overrideGUID(ev, loc); ok {
			guid = g
		}

		rr := ev.Props.Get(ical.PropRecurrenceRule)
		if rr == nil || !opts.ExpandRecurrences || opts.RangeEnd.IsZero() {
			out.add(newRawEvent(guid, user, email, instrument, subject, start, end, loc))
			continue
		}

		occurrences, err := expand(ev, rr.Value, start, opts, loc)
		if err != nil {
			appLog.Error("ics rrule expansion failed", err, "instrument", instrument, "uid", uid, "rrule", rr.Value)
			out.add(newRawEvent(guid, user, email, instrument, subject, start, end, loc))
			continue
		}
		dur := end.Sub(start)
		for _, occ := range occurrences {
			if overrides[occurrenceGUID(uid, occ)] {
				continue
			}
			out.add(newRawEvent(occurrenceGUID(uid, occ), user, email, instrument, subject, occ, occ.Add(dur), loc))
		}
	}

	return out
}

func (p *Parsed) add(e domain.RawEvent) {
	if !e.Valid() {
		appLog.Debug("ics event rejected: end not after start", "instrument", e.Instrument, "key", e.Key())
		p.Malformed = append(p.Malformed, e.Key())
		return
	}
	p.Events = append(p.Events, e)
}

// expand returns occurrence start times of a recurring event within the
// configured range, minus EXDATEs.
func expand(ev ical.Event, rule string, start time.Time, opts Options, loc *time.Location) ([]time.Time, error) {
	r, err := rrule.StrToRRule(rule)
	if err != nil {
		return nil, err
	}
	r.DTStart(start)

	var set rrule.Set
	set.RRule(r)

	for _, p := range ev.Props["EXDATE"] {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			single := ical.Prop{Name: p.Name, Params: p.Params, Value: part}
			if t, err := single.DateTime(loc); err == nil {
				set.ExDate(t.In(start.Location()))
			}
		}
	}

	limit := opts.MaxOccurrencesPerEvent
	if limit <= 0 {
		limit = defaultMaxOccurrencesPerEvent
	}
	times := set.Between(opts.RangeStart.In(start.Location()), opts.RangeEnd.In(start.Location()), true)
	if len(times) > limit {
		appLog.Info("ics rrule expansion truncated", "rrule", rule, "cap", limit)
		times = times[:limit]
	}
	return times, nil
}

// overrideGUID returns the key of a RECURRENCE-ID instance.
func overrideGUID(ev ical.Event, loc *time.Location) (string, bool) {
	uid := ev.Props.Get(ical.PropUID)
	rid := ev.Props.Get("RECURRENCE-ID")
	if uid == nil || uid.Value == "" || rid == nil {
		return "", false
	}
	t, err := rid.DateTime(loc)
	if err != nil {
		return "", false
	}
	return occurrenceGUID(uid.Value, t), true
}

func occurrenceGUID(uid string, t time.Time) string {
	return uid + "#" + t.UTC().Format(time.RFC3339)
}

func malformedKey(uid, instrument string) string {
	if uid != "" {
		return uid
	}
	return instrument + "@?"
}
