package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/tazhate/usagestats/internal/domain"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	loc, err := time.LoadLocation("Europe/London")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	s, err := New(filepath.Join(t.TempDir(), "db", "bookings.db"), loc)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func session(t *testing.T, s *Storage, fn func(tx *Tx) error) {
	t.Helper()
	if err := s.Session(context.Background(), fn); err != nil {
		t.Fatalf("Session: %v", err)
	}
}

func TestReservedRowsSeeded(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	session(t, s, func(tx *Tx) error {
		for _, tc := range []struct {
			name   string
			lookup func(context.Context, string) (int64, error)
			key    string
		}{
			{"division", tx.DivisionID, domain.UnknownName},
			{"group", tx.GroupID, domain.UnknownName},
			{"instrument", tx.InstrumentID, domain.UnknownName},
			{"booking type", tx.BookingTypeID, "Standard"},
		} {
			id, err := tc.lookup(ctx, tc.key)
			if err != nil {
				t.Errorf("%s: %v", tc.name, err)
				continue
			}
			if id != domain.UnknownID {
				t.Errorf("%s id = %d, want %d", tc.name, id, domain.UnknownID)
			}
		}
		return nil
	})

	// Reopening must not duplicate the reserved rows.
	path := filepath.Join(t.TempDir(), "again.db")
	for i := 0; i < 2; i++ {
		s2, err := New(path, nil)
		if err != nil {
			t.Fatalf("New #%d: %v", i, err)
		}
		types, err := s2.ListBookingTypes(ctx)
		s2.Close()
		if err != nil {
			t.Fatalf("ListBookingTypes: %v", err)
		}
		if len(types) != 1 || types[0].Name != "standard" {
			t.Fatalf("booking types after open #%d = %+v", i, types)
		}
	}
}

func TestEnsureIsIdempotent(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	var first, second int64
	session(t, s, func(tx *Tx) error {
		var err error
		first, err = tx.EnsureDivision(ctx, "Science")
		if err != nil {
			return err
		}
		second, err = tx.EnsureDivision(ctx, "Science")
		return err
	})
	if first != second {
		t.Fatalf("EnsureDivision ids differ: %d vs %d", first, second)
	}

	session(t, s, func(tx *Tx) error {
		id, err := tx.EnsureDivision(ctx, "Science")
		if err != nil {
			return err
		}
		if id != first {
			t.Errorf("id in new session = %d, want %d", id, first)
		}
		return nil
	})

	session(t, s, func(tx *Tx) error {
		a, err := tx.EnsureBookingType(ctx, "Maintenance")
		if err != nil {
			return err
		}
		b, err := tx.EnsureBookingType(ctx, "maintenance ")
		if err != nil {
			return err
		}
		if a != b {
			t.Errorf("booking type ids differ: %d vs %d", a, b)
		}
		return nil
	})

	types, err := s.ListBookingTypes(ctx)
	if err != nil {
		t.Fatalf("ListBookingTypes: %v", err)
	}
	if len(types) != 2 {
		t.Fatalf("booking types = %+v, want standard and maintenance", types)
	}
}

func TestEnsureGroupKeepsDivision(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	session(t, s, func(tx *Tx) error {
		div, err := tx.EnsureDivision(ctx, "Life Sciences")
		if err != nil {
			return err
		}
		g1, err := tx.EnsureGroup(ctx, "Structural Biology", div)
		if err != nil {
			return err
		}
		g2, err := tx.EnsureGroup(ctx, "Structural Biology", 0)
		if err != nil {
			return err
		}
		if g1 != g2 {
			t.Errorf("group ids differ: %d vs %d", g1, g2)
		}
		return nil
	})

	groups, err := s.ListGroups(ctx)
	if err != nil {
		t.Fatalf("ListGroups: %v", err)
	}
	for _, g := range groups {
		if g.Name == "Structural Biology" && g.DivisionID == domain.UnknownID {
			t.Fatalf("group lost its division: %+v", g)
		}
	}
}

func TestEnsureUserKeyedByEmail(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	session(t, s, func(tx *Tx) error {
		a, err := tx.EnsureUser(ctx, "Jane Doe", "jane@example.org", 0)
		if err != nil {
			return err
		}
		b, err := tx.EnsureUser(ctx, "J. Doe", "jane@example.org", 0)
		if err != nil {
			return err
		}
		if a != b {
			t.Errorf("same email gave ids %d and %d", a, b)
		}

		c, err := tx.EnsureUser(ctx, "Jane Doe", "other@example.org", 0)
		if err != nil {
			return err
		}
		if c == a {
			t.Errorf("different email reused id %d", a)
		}

		n1, err := tx.EnsureUser(ctx, "No Mail", "", 0)
		if err != nil {
			return err
		}
		n2, err := tx.EnsureUser(ctx, "No Mail", "", 0)
		if err != nil {
			return err
		}
		if n1 != n2 {
			t.Errorf("email-less user ids differ: %d vs %d", n1, n2)
		}

		unknown, err := tx.EnsureUser(ctx, "", "", 0)
		if err != nil {
			return err
		}
		if unknown != domain.UnknownID {
			t.Errorf("anonymous user id = %d, want Unknown", unknown)
		}

		if _, err := tx.UserIDByEmail(ctx, "nobody@example.org"); !errors.Is(err, ErrNotFound) {
			t.Errorf("UserIDByEmail miss err = %v, want ErrNotFound", err)
		}
		return nil
	})
}

func TestUpdateUserGroup(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	session(t, s, func(tx *Tx) error {
		uid, err := tx.EnsureUser(ctx, "Jane Doe", "", 0)
		if err != nil {
			return err
		}
		withEmail, err := tx.EnsureUser(ctx, "Jane Doe", "jane@example.org", 0)
		if err != nil {
			return err
		}
		gid, err := tx.EnsureGroup(ctx, "Cryo-EM", 0)
		if err != nil {
			return err
		}
		n, err := tx.UpdateUserGroup(ctx, "Jane Doe", gid)
		if err != nil {
			return err
		}
		if n != 1 {
			t.Errorf("rows changed = %d, want 1", n)
		}
		if g, err := tx.UserGroupID(ctx, withEmail); err != nil || g != domain.UnknownID {
			t.Errorf("user with email moved by name: group %d, %v", g, err)
		}
		got, err := tx.UserGroupID(ctx, uid)
		if err != nil {
			return err
		}
		if got != gid {
			t.Errorf("group = %d, want %d", got, gid)
		}

		// The reserved user never moves.
		if n, err := tx.UpdateUserGroup(ctx, domain.UnknownName, gid); err != nil || n != 0 {
			t.Errorf("UpdateUserGroup(Unknown) = %d, %v", n, err)
		}
		return nil
	})
}

func insertFixture(t *testing.T, s *Storage, events ...*domain.Event) (dups int) {
	t.Helper()
	ctx := context.Background()
	session(t, s, func(tx *Tx) error {
		for _, e := range events {
			err := tx.InsertEvent(ctx, e)
			if errors.Is(err, ErrDuplicate) {
				dups++
				continue
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	return dups
}

func TestInsertEventDuplicates(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

	var instrumentID int64
	session(t, s, func(tx *Tx) error {
		var err error
		instrumentID, err = tx.EnsureInstrument(ctx, domain.Instrument{Name: "Krios"})
		return err
	})

	withGUID := func() *domain.Event {
		return &domain.Event{GUID: "uid-1", UserID: 1, InstrumentID: instrumentID, BookingTypeID: 1, Start: start, End: start.Add(2 * time.Hour)}
	}
	noGUID := func() *domain.Event {
		return &domain.Event{UserID: 1, InstrumentID: instrumentID, BookingTypeID: 1, Start: start.Add(24 * time.Hour), End: start.Add(26 * time.Hour)}
	}

	if d := insertFixture(t, s, withGUID(), noGUID()); d != 0 {
		t.Fatalf("first insert duplicates = %d", d)
	}
	if d := insertFixture(t, s, withGUID(), noGUID()); d != 2 {
		t.Fatalf("second insert duplicates = %d, want 2", d)
	}

	n, err := s.CountEvents(ctx)
	if err != nil {
		t.Fatalf("CountEvents: %v", err)
	}
	if n != 2 {
		t.Fatalf("events = %d, want 2", n)
	}

	got, err := s.GetEventByGUID(ctx, "uid-1")
	if err != nil {
		t.Fatalf("GetEventByGUID: %v", err)
	}
	if got.Hours != 2 {
		t.Errorf("hours = %v, want 2", got.Hours)
	}
	if !got.Start.Equal(start) {
		t.Errorf("start = %v, want %v", got.Start, start)
	}
	if _, err := s.GetEventByGUID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing guid err = %v", err)
	}
}

func TestInsertEventRejectsInvertedRange(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

	err := s.Session(ctx, func(tx *Tx) error {
		return tx.InsertEvent(ctx, &domain.Event{GUID: "x", UserID: 1, InstrumentID: 1, BookingTypeID: 1, Start: start, End: start})
	})
	if !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("err = %v, want ErrInvalidEvent", err)
	}
}

func TestSessionRollsBack(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Session(ctx, func(tx *Tx) error {
		if _, err := tx.EnsureDivision(ctx, "Ghost"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	session(t, s, func(tx *Tx) error {
		if _, err := tx.DivisionID(ctx, "Ghost"); !errors.Is(err, ErrNotFound) {
			t.Errorf("rolled back division still present: %v", err)
		}
		return nil
	})
}

func TestEventsInRangeRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	london := s.Location()

	var ev *domain.Event
	session(t, s, func(tx *Tx) error {
		div, err := tx.EnsureDivision(ctx, "Life Sciences")
		if err != nil {
			return err
		}
		grp, err := tx.EnsureGroup(ctx, "Cryo-EM", div)
		if err != nil {
			return err
		}
		uid, err := tx.EnsureUser(ctx, "Jane Doe", "jane@example.org", grp)
		if err != nil {
			return err
		}
		inst, err := tx.EnsureInstrument(ctx, domain.Instrument{Name: "Krios", Path: "krios.ics"})
		if err != nil {
			return err
		}
		typ, err := tx.EnsureBookingType(ctx, "maintenance")
		if err != nil {
			return err
		}
		start := time.Date(2024, 6, 3, 10, 0, 0, 0, london)
		ev = &domain.Event{GUID: "uid-rt", UserID: uid, InstrumentID: inst, BookingTypeID: typ, Start: start, End: start.Add(90 * time.Minute), Subject: "maintenance"}
		return tx.InsertEvent(ctx, ev)
	})

	from := time.Date(2024, 6, 1, 0, 0, 0, 0, london)
	to := time.Date(2024, 6, 8, 0, 0, 0, 0, london)
	got, err := s.EventsInRange(ctx, from, to)
	if err != nil {
		t.Fatalf("EventsInRange: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("events = %d, want 1", len(got))
	}
	r := got[0]
	if !r.Start.Equal(ev.Start) || !r.End.Equal(ev.End) {
		t.Errorf("times = %v..%v, want %v..%v", r.Start, r.End, ev.Start, ev.End)
	}
	if r.Start.Location().String() != london.String() {
		t.Errorf("location = %s, want %s", r.Start.Location(), london)
	}
	if r.Hours != 1.5 {
		t.Errorf("hours = %v, want 1.5", r.Hours)
	}
	want := [5]string{"Jane Doe", "Cryo-EM", "Life Sciences", "Krios", "maintenance"}
	if have := [5]string{r.User, r.Group, r.Division, r.Instrument, r.Type}; have != want {
		t.Errorf("names = %v, want %v", have, want)
	}

	// The interval is open: an event starting exactly at from is excluded.
	if got, _ := s.EventsInRange(ctx, ev.Start, to); len(got) != 0 {
		t.Errorf("event starting at range start included")
	}

	users, err := s.UniqueUsersInRange(ctx, from, to)
	if err != nil {
		t.Fatalf("UniqueUsersInRange: %v", err)
	}
	if len(users) != 1 || users[0].Email != "jane@example.org" {
		t.Errorf("users = %+v", users)
	}
}

func TestSetUserGroupKeyedByID(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	session(t, s, func(tx *Tx) error {
		a, err := tx.EnsureUser(ctx, "J Smith", "a@example.org", 0)
		if err != nil {
			return err
		}
		b, err := tx.EnsureUser(ctx, "J Smith", "b@example.org", 0)
		if err != nil {
			return err
		}
		gid, err := tx.EnsureGroup(ctx, "Cryo-EM", 0)
		if err != nil {
			return err
		}
		if err := tx.SetUserGroup(ctx, a, gid); err != nil {
			return err
		}
		if g, _ := tx.UserGroupID(ctx, a); g != gid {
			t.Errorf("a group = %d, want %d", g, gid)
		}
		if g, _ := tx.UserGroupID(ctx, b); g != domain.UnknownID {
			t.Errorf("namesake b moved to group %d", g)
		}

		if err := tx.SetUserGroup(ctx, domain.UnknownID, gid); err != nil {
			return err
		}
		if g, _ := tx.UserGroupID(ctx, domain.UnknownID); g != domain.UnknownID {
			t.Errorf("reserved user moved to group %d", g)
		}
		return nil
	})
}
