package calendar

import (
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/tazhate/usagestats/internal/domain"
)

// DefaultTimezone is the reference zone for timestamps that carry none.
const DefaultTimezone = "Europe/London"

// NormalizeSubject lower-cases a booking subject and fixes the common
// "maintenace" misspelling. A missing subject becomes "None".
func NormalizeSubject(s string) string {
	if s == "" {
		return "None"
	}
	return strings.ReplaceAll(strings.ToLower(s), "maintenace", "maintenance")
}

// normalizeEmail strips a mailto: scheme and lower-cases the address.
func normalizeEmail(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 7 && strings.EqualFold(v[:7], "mailto:") {
		v = v[7:]
	}
	return strings.ToLower(v)
}

// newRawEvent builds a RawEvent with derived duration and hours, expressed
// in loc.
func newRawEvent(guid, user, email, instrument, subject string, start, end time.Time, loc *time.Location) domain.RawEvent {
	start = start.In(loc)
	end = end.In(loc)
	d := end.Sub(start)
	return domain.RawEvent{
		GUID:       guid,
		User:       strings.TrimSpace(user),
		Email:      normalizeEmail(email),
		Instrument: instrument,
		Start:      start,
		End:        end,
		Subject:    NormalizeSubject(subject),
		Duration:   d,
		Hours:      d.Seconds() / 3600,
	}
}

var (
	resourceSuffix = regexp.MustCompile(`@[^']*'?$`)
	roomCode       = regexp.MustCompile(`(.*)_[0-9][N,S][0-9][0-9][0-9]`)
)

// InstrumentNameFromFile derives an instrument name from an exported
// resource calendar file name, e.g.
// "Calendar of resource 'KRIOS_2N012@example.org'.ics" -> "Krios".
func InstrumentNameFromFile(path string) string {
	base := path
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	base = strings.TrimPrefix(base, "Calendar of resource '")
	base = resourceSuffix.ReplaceAllString(base, "")
	base = strings.ToUpper(base)
	base = roomCode.ReplaceAllString(base, "$1")
	base = strings.ReplaceAll(base, "_", " ")
	return capitalize(base)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, n := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[n:])
}
