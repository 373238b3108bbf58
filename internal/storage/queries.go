package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/tazhate/usagestats/internal/domain"
)

func normalizeTypeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// EventsInRange returns events with start > from and end < to, joined with
// the names of their user, group, division, instrument and booking type.
// Bounds are compared as instants.
func (s *Storage) EventsInRange(ctx context.Context, from, to time.Time) ([]domain.EventRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.start_time, e.end_time, e.hours,
			u.name, COALESCE(u.email, ''), g.name, d.name, i.name, b.name, e.subject
		 FROM events e
		 INNER JOIN users u ON e.user_id = u.id
		 INNER JOIN groups g ON u.group_id = g.id
		 INNER JOIN divisions d ON g.division_id = d.id
		 INNER JOIN instruments i ON e.instrument_id = i.id
		 INNER JOIN booking_types b ON e.booking_type_id = b.id
		 WHERE e.start_time > ? AND e.end_time < ?
		 ORDER BY e.start_time ASC, e.id ASC`,
		from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.EventRecord
	for rows.Next() {
		var r domain.EventRecord
		if err := rows.Scan(&r.Start, &r.End, &r.Hours, &r.User, &r.Email, &r.Group, &r.Division, &r.Instrument, &r.Type, &r.Subject); err != nil {
			return nil, err
		}
		r.Start = r.Start.In(s.loc)
		r.End = r.End.In(s.loc)
		events = append(events, r)
	}
	return events, rows.Err()
}

// UniqueUsersInRange lists the distinct users that booked anything in the
// open interval (from, to).
func (s *Storage) UniqueUsersInRange(ctx context.Context, from, to time.Time) ([]domain.UserRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT u.name, COALESCE(u.email, ''), g.name, d.name
		 FROM users u
		 INNER JOIN groups g ON u.group_id = g.id
		 INNER JOIN divisions d ON g.division_id = d.id
		 INNER JOIN events e ON u.id = e.user_id
		 WHERE e.start_time > ? AND e.end_time < ?
		 ORDER BY d.name, g.name, u.name`,
		from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.UserRecord
	for rows.Next() {
		var u domain.UserRecord
		if err := rows.Scan(&u.Name, &u.Email, &u.Group, &u.Division); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ListUsers returns every user except the reserved Unknown row.
func (s *Storage) ListUsers(ctx context.Context) ([]domain.UserRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.name, COALESCE(u.email, ''), g.name, d.name
		 FROM users u
		 INNER JOIN groups g ON u.group_id = g.id
		 INNER JOIN divisions d ON g.division_id = d.id
		 WHERE u.id <> ?
		 ORDER BY u.id`,
		domain.UnknownID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.UserRecord
	for rows.Next() {
		var u domain.UserRecord
		if err := rows.Scan(&u.Name, &u.Email, &u.Group, &u.Division); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ListInstruments returns all instruments ordered by id.
func (s *Storage) ListInstruments(ctx context.Context) ([]domain.Instrument, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, path, url FROM instruments ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Instrument
	for rows.Next() {
		var in domain.Instrument
		if err := rows.Scan(&in.ID, &in.Name, &in.Path, &in.URL); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// ListBookingTypes returns all booking types ordered by id.
func (s *Storage) ListBookingTypes(ctx context.Context) ([]domain.BookingType, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM booking_types ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.BookingType
	for rows.Next() {
		var b domain.BookingType
		if err := rows.Scan(&b.ID, &b.Name); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListGroups returns all groups ordered by id.
func (s *Storage) ListGroups(ctx context.Context) ([]domain.Group, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, division_id FROM groups ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Group
	for rows.Next() {
		var g domain.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.DivisionID); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// GetEventByGUID returns a stored event by its calendar UID.
func (s *Storage) GetEventByGUID(ctx context.Context, guid string) (*domain.Event, error) {
	e := &domain.Event{}
	var g sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, guid, user_id, instrument_id, booking_type_id, start_time, end_time, hours, subject, created_at
		 FROM events WHERE guid = ?`,
		guid,
	).Scan(&e.ID, &g, &e.UserID, &e.InstrumentID, &e.BookingTypeID, &e.Start, &e.End, &e.Hours, &e.Subject, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.GUID = g.String
	e.Start = e.Start.In(s.loc)
	e.End = e.End.In(s.loc)
	return e, nil
}

// CountEvents returns the number of stored events.
func (s *Storage) CountEvents(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}
