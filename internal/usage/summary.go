package usage

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tazhate/usagestats/internal/domain"
)

// Summary holds the headline numbers of a reporting range.
type Summary struct {
	From        time.Time
	To          time.Time
	Events      int
	TotalHours  float64
	Users       int
	Groups      int
	Instruments int
}

// Summarize counts distinct users, groups and instruments and the booked
// hours of events.
func Summarize(events []domain.EventRecord, from, to time.Time) Summary {
	users := make(map[string]struct{})
	groups := make(map[string]struct{})
	instruments := make(map[string]struct{})

	s := Summary{From: from, To: to, Events: len(events)}
	for _, e := range events {
		s.TotalHours += e.Hours
		users[userKey(e)] = struct{}{}
		groups[e.Group] = struct{}{}
		instruments[e.Instrument] = struct{}{}
	}
	s.Users = len(users)
	s.Groups = len(groups)
	s.Instruments = len(instruments)
	return s
}

func userKey(e domain.EventRecord) string {
	if e.Email != "" {
		return e.Email
	}
	return e.User
}

func (s Summary) String() string {
	return fmt.Sprintf("From %s to %s\nGrand total: %.0f Hours\n #Users: %d / #Groups: %d / #Instruments: %d",
		s.From.Format(time.DateOnly), s.To.Format(time.DateOnly),
		s.TotalHours, s.Users, s.Groups, s.Instruments)
}

// Pivot is booked hours per instrument (rows) and booking type (columns).
type Pivot struct {
	Instruments []string
	Types       []string
	Hours       map[string]map[string]float64
}

// HoursByTypeAndInstrument builds the instrument x booking type table.
func HoursByTypeAndInstrument(events []domain.EventRecord) Pivot {
	p := Pivot{Hours: make(map[string]map[string]float64)}
	types := make(map[string]struct{})
	for _, e := range events {
		row, ok := p.Hours[e.Instrument]
		if !ok {
			row = make(map[string]float64)
			p.Hours[e.Instrument] = row
			p.Instruments = append(p.Instruments, e.Instrument)
		}
		row[e.Type] += e.Hours
		types[e.Type] = struct{}{}
	}
	for t := range types {
		p.Types = append(p.Types, t)
	}
	sort.Strings(p.Instruments)
	sort.Strings(p.Types)
	return p
}

// Get returns the hours of one cell.
func (p Pivot) Get(instrument, bookingType string) float64 {
	return p.Hours[instrument][bookingType]
}

func (p Pivot) String() string {
	var b strings.Builder
	b.WriteString("instrument")
	for _, t := range p.Types {
		b.WriteString("\t" + t)
	}
	b.WriteString("\n")
	for _, in := range p.Instruments {
		b.WriteString(in)
		for _, t := range p.Types {
			fmt.Fprintf(&b, "\t%.1f", p.Get(in, t))
		}
		b.WriteString("\n")
	}
	return b.String()
}
