package domain

import "time"

// RawEvent is a booking as read from a calendar source, before any
// identity has been resolved against the store.
type RawEvent struct {
	GUID       string // empty when the source carries no UID
	User       string // organizer display name
	Email      string
	Instrument string
	Start      time.Time
	End        time.Time
	Subject    string
	Duration   time.Duration
	Hours      float64
}

// Key identifies the event for duplicate reporting: the GUID when present,
// otherwise instrument and start time.
func (e RawEvent) Key() string {
	if e.GUID != "" {
		return e.GUID
	}
	return e.Instrument + "@" + e.Start.UTC().Format(time.RFC3339)
}

// Valid reports whether the event has a strictly positive duration.
func (e RawEvent) Valid() bool {
	return e.End.After(e.Start)
}

// Event is a booking row with resolved foreign keys.
type Event struct {
	ID            int64
	GUID          string
	UserID        int64
	InstrumentID  int64
	BookingTypeID int64
	Start         time.Time
	End           time.Time
	Hours         float64
	Subject       string
	CreatedAt     time.Time
}

// Duration returns End - Start.
func (e *Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// EventRecord is an event joined with the names of every entity it
// references, as consumed by reporting.
type EventRecord struct {
	Start      time.Time
	End        time.Time
	Hours      float64
	User       string
	Email      string
	Group      string
	Division   string
	Instrument string
	Type       string
	Subject    string
}

// UserRecord is a user with its organisational names.
type UserRecord struct {
	Name     string
	Email    string
	Group    string
	Division string
}
