package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tazhate/usagestats/internal/domain"
	"github.com/tazhate/usagestats/internal/roster"
	"github.com/tazhate/usagestats/internal/storage"
)

func newTestStorage(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.New(filepath.Join(t.TempDir(), "bookings.db"), nil)
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBookingTypeFirstMatch(t *testing.T) {
	r := NewResolver([]string{"maintenance", "training", " Service ", "standard"}, nil, nil)

	tests := map[string]string{
		"maintenance":                      "maintenance",
		"Training after MAINTENANCE":       "maintenance", // order of the list wins
		"training day":                     "training",
		"Field service engineer":           "service",
		"user session":                     domain.DefaultBookingType,
		"None":                             domain.DefaultBookingType,
		"maintenance; training; servicing": "maintenance",
	}
	for subject, want := range tests {
		if got := r.BookingType(subject); got != want {
			t.Errorf("BookingType(%q) = %q, want %q", subject, got, want)
		}
	}
}

func TestResolverUnknownFallbacks(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	r := NewResolver([]string{"maintenance"}, nil, nil)

	err := s.Session(ctx, func(tx *storage.Tx) error {
		if err := r.Seed(ctx, tx, []string{"Life Sciences"}); err != nil {
			return err
		}

		if id := r.LookupUser(ctx, tx, "nobody@example.org"); id != domain.UnknownID {
			t.Errorf("LookupUser miss = %d, want Unknown", id)
		}
		if id, err := r.InstrumentID(ctx, tx, domain.Instrument{}); err != nil || id != domain.UnknownID {
			t.Errorf("InstrumentID(empty) = %d, %v", id, err)
		}
		if id, err := r.BookingTypeID(ctx, tx, "plain booking"); err != nil || id != domain.UnknownID {
			t.Errorf("BookingTypeID(default) = %d, %v", id, err)
		}
		maint, err := r.BookingTypeID(ctx, tx, "Maintenance")
		if err != nil {
			return err
		}
		if maint == domain.UnknownID {
			t.Error("maintenance resolved to the default type")
		}

		uid, err := r.UserID(ctx, tx, "Jane Doe", "Jane@Example.org")
		if err != nil {
			return err
		}
		again, err := r.UserID(ctx, tx, "Jane Doe", "jane@example.org")
		if err != nil {
			return err
		}
		if uid != again {
			t.Errorf("user ids differ: %d vs %d", uid, again)
		}
		gid, err := tx.UserGroupID(ctx, uid)
		if err != nil {
			return err
		}
		if gid != domain.UnknownID {
			t.Errorf("user without side file got group %d", gid)
		}
		if id := r.LookupUser(ctx, tx, "JANE@example.org"); id != uid {
			t.Errorf("LookupUser = %d, want %d", id, uid)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if r.UnknownUsers() != 1 {
		t.Errorf("UnknownUsers = %d, want 1", r.UnknownUsers())
	}
}

func TestResolverRegroupsByEmail(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	type booking struct{ name, email string }
	resolveAll := func(r *Resolver, bookings []booking) map[string]int64 {
		t.Helper()
		ids := map[string]int64{}
		err := s.Session(ctx, func(tx *storage.Tx) error {
			for _, b := range bookings {
				id, err := r.UserID(ctx, tx, b.name, b.email)
				if err != nil {
					return err
				}
				ids[b.email] = id
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Session: %v", err)
		}
		return ids
	}

	// First run without side files: everyone lands in Unknown.
	ids := resolveAll(NewResolver(nil, nil, nil), []booking{
		{"J Smith", "a@example.org"},
		{"J Smith", "b@example.org"},
		{"jsmith", "c@example.org"},
	})

	path := filepath.Join(t.TempDir(), "users.csv")
	content := "User,Email,Group\n" +
		"J Smith,a@example.org,GroupA\n" +
		"J Smith,b@example.org,GroupB\n" +
		"John Smith,c@example.org,GroupC\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	users, err := roster.LoadUsers(path)
	if err != nil {
		t.Fatal(err)
	}

	// Second run: namesakes keep their own groups and a renamed organizer
	// is still found by email.
	again := resolveAll(NewResolver(nil, users, nil), []booking{
		{"J Smith", "a@example.org"},
		{"J Smith", "b@example.org"},
		{"John Smith", "c@example.org"},
	})
	for email, id := range ids {
		if again[email] != id {
			t.Errorf("%s: id %d became %d", email, id, again[email])
		}
	}

	err = s.Session(ctx, func(tx *storage.Tx) error {
		for email, group := range map[string]string{
			"a@example.org": "GroupA",
			"b@example.org": "GroupB",
			"c@example.org": "GroupC",
		} {
			want, err := tx.GroupID(ctx, group)
			if err != nil {
				return err
			}
			got, err := tx.UserGroupID(ctx, ids[email])
			if err != nil {
				return err
			}
			if got != want {
				t.Errorf("%s in group %d, want %s (%d)", email, got, group, want)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
}
