package domain

// UnknownID is the id of the reserved "Unknown" row seeded in every
// name-keyed table (divisions, groups, users, instruments). The fallback
// booking type shares the same id.
const UnknownID int64 = 1

// UnknownName is the display name of the reserved rows.
const UnknownName = "Unknown"

type Division struct {
	ID   int64
	Name string
}

type Group struct {
	ID         int64
	Name       string
	DivisionID int64
}

// User is keyed by Email. Display names are not unique across calendar exports.
type User struct {
	ID      int64
	Name    string
	Email   string
	GroupID int64
}

type Instrument struct {
	ID   int64
	Name string
	Path string // local calendar file, if any
	URL  string // remote calendar locator, if any
}

type BookingType struct {
	ID   int64
	Name string
}

// DefaultBookingType is assigned to events whose subject matches no keyword.
const DefaultBookingType = "standard"
