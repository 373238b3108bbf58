package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tazhate/usagestats/internal/domain"
	appLog "github.com/tazhate/usagestats/internal/log"
	"github.com/tazhate/usagestats/internal/roster"
	"github.com/tazhate/usagestats/internal/storage"
)

// Resolver assigns store ids to the names found in raw bookings. Misses
// never fail: they resolve to the reserved Unknown rows and are counted.
type Resolver struct {
	types  []string
	users  *roster.Users
	groups *roster.Groups

	typeIDs     map[string]int64
	userIDs     map[string]int64
	instruments map[string]int64

	unknownUsers  map[string]bool
	unknownGroups map[string]bool
}

// NewResolver creates a resolver. bookingTypes is the ordered keyword
// list; users and groups may be nil when no side files are configured.
func NewResolver(bookingTypes []string, users *roster.Users, groups *roster.Groups) *Resolver {
	types := make([]string, 0, len(bookingTypes))
	for _, t := range bookingTypes {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && t != domain.DefaultBookingType {
			types = append(types, t)
		}
	}
	return &Resolver{
		types:         types,
		users:         users,
		groups:        groups,
		typeIDs:       map[string]int64{},
		userIDs:       map[string]int64{},
		instruments:   map[string]int64{},
		unknownUsers:  map[string]bool{},
		unknownGroups: map[string]bool{},
	}
}

// BookingType returns the first configured keyword contained in the
// lower-cased subject, or the default type.
func (r *Resolver) BookingType(subject string) string {
	s := strings.ToLower(subject)
	for _, t := range r.types {
		if strings.Contains(s, t) {
			return t
		}
	}
	return domain.DefaultBookingType
}

// Seed creates the configured booking types, divisions and groups.
func (r *Resolver) Seed(ctx context.Context, tx *storage.Tx, divisions []string) error {
	for _, t := range r.types {
		id, err := tx.EnsureBookingType(ctx, t)
		if err != nil {
			return err
		}
		r.typeIDs[t] = id
	}
	r.typeIDs[domain.DefaultBookingType] = domain.UnknownID

	for _, d := range divisions {
		if d == "" {
			continue
		}
		if _, err := tx.EnsureDivision(ctx, d); err != nil {
			return err
		}
	}

	if r.groups == nil {
		return nil
	}
	for _, row := range r.groups.Rows() {
		if _, err := r.ensureGroup(ctx, tx, row.Group); err != nil {
			return err
		}
	}
	return nil
}

// BookingTypeID resolves the booking type of a subject.
func (r *Resolver) BookingTypeID(ctx context.Context, tx *storage.Tx, subject string) (int64, error) {
	t := r.BookingType(subject)
	if id, ok := r.typeIDs[t]; ok {
		return id, nil
	}
	id, err := tx.EnsureBookingType(ctx, t)
	if err != nil {
		return 0, err
	}
	r.typeIDs[t] = id
	return id, nil
}

// InstrumentID ensures the instrument and returns its id. An empty name
// resolves to the Unknown instrument.
func (r *Resolver) InstrumentID(ctx context.Context, tx *storage.Tx, in domain.Instrument) (int64, error) {
	if in.Name == "" {
		return domain.UnknownID, nil
	}
	if id, ok := r.instruments[in.Name]; ok {
		return id, nil
	}
	id, err := tx.EnsureInstrument(ctx, in)
	if err != nil {
		return 0, err
	}
	r.instruments[in.Name] = id
	return id, nil
}

// UserID ensures the booking's organizer exists and carries the group the
// users file assigns to it.
func (r *Resolver) UserID(ctx context.Context, tx *storage.Tx, name, email string) (int64, error) {
	key := strings.ToLower(email)
	if key == "" {
		key = "name:" + name
	}
	if id, ok := r.userIDs[key]; ok {
		return id, nil
	}

	if r.users != nil {
		r.users.Add(name, email)
	}
	groupName := domain.UnknownName
	if r.users != nil {
		if g, ok := r.users.GroupOf(name, email); ok {
			groupName = g
		}
	}
	if groupName == domain.UnknownName {
		r.unknownUsers[key] = true
	}

	groupID, err := r.ensureGroup(ctx, tx, groupName)
	if err != nil {
		return 0, err
	}
	id, err := tx.EnsureUser(ctx, name, strings.ToLower(email), groupID)
	if err != nil {
		return 0, err
	}
	if id != domain.UnknownID && groupID != domain.UnknownID {
		current, err := tx.UserGroupID(ctx, id)
		if err != nil {
			return 0, err
		}
		if current != groupID {
			if email == "" {
				_, err = tx.UpdateUserGroup(ctx, name, groupID)
			} else {
				err = tx.SetUserGroup(ctx, id, groupID)
			}
			if err != nil {
				return 0, err
			}
		}
	}
	r.userIDs[key] = id
	return id, nil
}

// LookupUser returns the id of a stored user, or the Unknown user.
func (r *Resolver) LookupUser(ctx context.Context, tx *storage.Tx, email string) int64 {
	id, err := tx.UserIDByEmail(ctx, strings.ToLower(email))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			appLog.Error("user lookup failed", err, "email", email)
		}
		return domain.UnknownID
	}
	return id
}

// ensureGroup creates group with the division the groups file assigns it
// and moves an existing group when the file now names its division.
func (r *Resolver) ensureGroup(ctx context.Context, tx *storage.Tx, name string) (int64, error) {
	if name == "" || name == domain.UnknownName {
		return domain.UnknownID, nil
	}
	division := domain.UnknownName
	if r.groups != nil {
		r.groups.Add(name)
		if d, ok := r.groups.DivisionOf(name); ok {
			division = d
		}
	}
	if division == domain.UnknownName {
		r.unknownGroups[name] = true
	}

	divisionID, err := tx.EnsureDivision(ctx, division)
	if err != nil {
		return 0, err
	}
	id, err := tx.EnsureGroup(ctx, name, divisionID)
	if err != nil {
		return 0, fmt.Errorf("resolve group %q: %w", name, err)
	}
	if divisionID != domain.UnknownID {
		if err := tx.UpdateGroupDivision(ctx, id, divisionID); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// UnknownUsers counts distinct users resolved without a group.
func (r *Resolver) UnknownUsers() int { return len(r.unknownUsers) }

// UnknownGroups counts distinct groups resolved without a division.
func (r *Resolver) UnknownGroups() int { return len(r.unknownGroups) }
