package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tazhate/usagestats/internal/domain"
)

// Tx is a write session over the booking tables. Obtain one via
// Storage.Session. A Tx must not be shared between goroutines.
type Tx struct {
	tx *sql.Tx
}

// === Name-keyed tables ===

// ensureByName inserts name into table unless present and returns its id.
// table is always one of the package's own table names.
func (t *Tx) ensureByName(ctx context.Context, table, name string) (int64, error) {
	if name == "" {
		return 0, fmt.Errorf("ensure %s: empty name", table)
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO `+table+` (name) VALUES (?) ON CONFLICT(name) DO NOTHING`,
		name,
	)
	if err != nil {
		return 0, fmt.Errorf("ensure %s %q: %w", table, name, err)
	}
	return t.idByName(ctx, table, name)
}

func (t *Tx) idByName(ctx context.Context, table, name string) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, `SELECT id FROM `+table+` WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("lookup %s %q: %w", table, name, err)
	}
	return id, nil
}

// EnsureDivision returns the id of the named division, creating it if absent.
func (t *Tx) EnsureDivision(ctx context.Context, name string) (int64, error) {
	return t.ensureByName(ctx, "divisions", name)
}

// DivisionID looks up a division by exact name.
func (t *Tx) DivisionID(ctx context.Context, name string) (int64, error) {
	return t.idByName(ctx, "divisions", name)
}

// EnsureGroup returns the id of the named group, creating it in divisionID
// if absent. An existing group keeps its division; use UpdateGroupDivision
// to move it.
func (t *Tx) EnsureGroup(ctx context.Context, name string, divisionID int64) (int64, error) {
	if name == "" {
		return 0, errors.New("ensure groups: empty name")
	}
	if divisionID == 0 {
		divisionID = domain.UnknownID
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO groups (name, division_id) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, divisionID,
	)
	if err != nil {
		return 0, fmt.Errorf("ensure group %q: %w", name, err)
	}
	return t.idByName(ctx, "groups", name)
}

// GroupID looks up a group by exact name.
func (t *Tx) GroupID(ctx context.Context, name string) (int64, error) {
	return t.idByName(ctx, "groups", name)
}

// UpdateGroupDivision moves a group to another division.
func (t *Tx) UpdateGroupDivision(ctx context.Context, groupID, divisionID int64) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE groups SET division_id = ? WHERE id = ?`, divisionID, groupID)
	return err
}

// EnsureInstrument returns the id of the named instrument, creating it if
// absent. path and url are only recorded on creation or when still empty.
func (t *Tx) EnsureInstrument(ctx context.Context, in domain.Instrument) (int64, error) {
	if in.Name == "" {
		return 0, errors.New("ensure instruments: empty name")
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO instruments (name, path, url) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			path = CASE WHEN instruments.path = '' THEN excluded.path ELSE instruments.path END,
			url = CASE WHEN instruments.url = '' THEN excluded.url ELSE instruments.url END`,
		in.Name, in.Path, in.URL,
	)
	if err != nil {
		return 0, fmt.Errorf("ensure instrument %q: %w", in.Name, err)
	}
	return t.idByName(ctx, "instruments", in.Name)
}

// InstrumentID looks up an instrument by exact name.
func (t *Tx) InstrumentID(ctx context.Context, name string) (int64, error) {
	return t.idByName(ctx, "instruments", name)
}

// EnsureBookingType returns the id of the booking type, creating it if absent.
// Names are stored lower-cased.
func (t *Tx) EnsureBookingType(ctx context.Context, name string) (int64, error) {
	return t.ensureByName(ctx, "booking_types", normalizeTypeName(name))
}

// BookingTypeID looks up a booking type by name, case-insensitively.
func (t *Tx) BookingTypeID(ctx context.Context, name string) (int64, error) {
	return t.idByName(ctx, "booking_types", normalizeTypeName(name))
}

// === Users ===

// EnsureUser returns the id of the user identified by email, creating it in
// groupID if absent. Users without an email are matched on name among the
// other email-less users. A user with neither resolves to the Unknown user.
func (t *Tx) EnsureUser(ctx context.Context, name, email string, groupID int64) (int64, error) {
	if groupID == 0 {
		groupID = domain.UnknownID
	}
	if name == "" {
		name = email
	}
	if name == "" {
		return domain.UnknownID, nil
	}

	if email == "" {
		id, err := t.userIDByName(ctx, name)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return 0, err
		}
		res, err := t.tx.ExecContext(ctx,
			`INSERT INTO users (name, email, group_id) VALUES (?, NULL, ?)`,
			name, groupID,
		)
		if err != nil {
			return 0, fmt.Errorf("create user %q: %w", name, err)
		}
		return res.LastInsertId()
	}

	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO users (name, email, group_id) VALUES (?, ?, ?) ON CONFLICT(email) DO NOTHING`,
		name, email, groupID,
	)
	if err != nil {
		return 0, fmt.Errorf("ensure user %q: %w", email, err)
	}
	return t.UserIDByEmail(ctx, email)
}

// UserIDByEmail looks up a user by email.
func (t *Tx) UserIDByEmail(ctx context.Context, email string) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, `SELECT id FROM users WHERE email = ?`, email).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("lookup user %q: %w", email, err)
	}
	return id, nil
}

func (t *Tx) userIDByName(ctx context.Context, name string) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT id FROM users WHERE email IS NULL AND name = ? ORDER BY id LIMIT 1`,
		name,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("lookup user %q: %w", name, err)
	}
	return id, nil
}

// UserGroupID returns the group currently assigned to a user.
func (t *Tx) UserGroupID(ctx context.Context, userID int64) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, `SELECT group_id FROM users WHERE id = ?`, userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return id, err
}

// SetUserGroup assigns groupID to one user. The reserved user never moves.
func (t *Tx) SetUserGroup(ctx context.Context, userID, groupID int64) error {
	if userID == domain.UnknownID {
		return nil
	}
	_, err := t.tx.ExecContext(ctx, `UPDATE users SET group_id = ? WHERE id = ?`, groupID, userID)
	if err != nil {
		return fmt.Errorf("set group of user %d: %w", userID, err)
	}
	return nil
}

// UpdateUserGroup assigns groupID to the email-less users with the given
// display name and returns how many rows changed. Users with an email are
// moved with SetUserGroup.
func (t *Tx) UpdateUserGroup(ctx context.Context, name string, groupID int64) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE users SET group_id = ? WHERE name = ? AND email IS NULL AND id <> ? AND group_id <> ?`,
		groupID, name, domain.UnknownID, groupID,
	)
	if err != nil {
		return 0, fmt.Errorf("update user group %q: %w", name, err)
	}
	return res.RowsAffected()
}

// === Events ===

// InsertEvent stores e and sets its ID. A uniqueness violation (same guid,
// or same instrument and start for events without guid) yields ErrDuplicate
// and leaves the session usable.
func (t *Tx) InsertEvent(ctx context.Context, e *domain.Event) error {
	if !e.End.After(e.Start) {
		return ErrInvalidEvent
	}
	hours := e.Hours
	if hours == 0 {
		hours = e.Duration().Hours()
	}

	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO events (guid, user_id, instrument_id, booking_type_id, start_time, end_time, hours, subject)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		nullString(e.GUID), e.UserID, e.InstrumentID, e.BookingTypeID,
		e.Start.UTC(), e.End.UTC(), hours, e.Subject,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert event %q: %w", e.GUID, err)
	}
	id, _ := res.LastInsertId()
	e.ID = id
	e.Hours = hours
	e.CreatedAt = time.Now()
	return nil
}

// CountEvents returns the number of stored events.
func (t *Tx) CountEvents(ctx context.Context) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}
