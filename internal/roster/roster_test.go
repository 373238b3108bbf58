package roster

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestUsersMissingFileIsCreated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "side", "users.csv")
	u, err := LoadUsers(path)
	if err != nil {
		t.Fatalf("LoadUsers: %v", err)
	}
	if g, ok := u.GroupOf("Jane", "jane@example.org"); ok || g != "Unknown" {
		t.Errorf("GroupOf on empty roster = %q, %v", g, ok)
	}

	if !u.Add("Jane Doe", "Jane@Example.org") {
		t.Error("Add returned false for a new user")
	}
	if u.Add("Jane Doe", "jane@example.org") {
		t.Error("Add returned true for a known email")
	}
	u.Add("Unknown", "")
	if u.Unknown() != 1 {
		t.Errorf("Unknown() = %d, want 1", u.Unknown())
	}
	if err := u.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "User,Email,Group\nJane Doe,jane@example.org,Unknown\n"
	if string(data) != want {
		t.Errorf("file = %q, want %q", data, want)
	}
}

func TestUsersLookup(t *testing.T) {
	path := writeFile(t, "users.csv", "User,Email,Group\n"+
		"Jane Doe,jane@example.org,Cryo-EM\n"+
		"Bob,,Crystallography\n"+
		"Eve,eve@example.org,\n")
	u, err := LoadUsers(path)
	if err != nil {
		t.Fatalf("LoadUsers: %v", err)
	}

	tests := []struct {
		name, email, want string
		ok                bool
	}{
		{"Someone Else", "JANE@example.org", "Cryo-EM", true},
		{"Bob", "", "Crystallography", true},
		{"Eve", "eve@example.org", "Unknown", false},
		{"Mallory", "m@example.org", "Unknown", false},
	}
	for _, tt := range tests {
		got, ok := u.GroupOf(tt.name, tt.email)
		if got != tt.want || ok != tt.ok {
			t.Errorf("GroupOf(%q, %q) = %q, %v; want %q, %v", tt.name, tt.email, got, ok, tt.want, tt.ok)
		}
	}
	if got := strings.Join(u.Groups(), ","); got != "Cryo-EM,Crystallography,Unknown" {
		t.Errorf("Groups() = %s", got)
	}

	// Bob gains an email; the file changes but no row is added.
	if u.Add("Bob", "bob@example.org") {
		t.Error("Add created a second Bob")
	}
	if got, _ := u.GroupOf("", "bob@example.org"); got != "Crystallography" {
		t.Errorf("Bob by email = %q", got)
	}
}

func TestUsersFileWithoutEmailColumn(t *testing.T) {
	path := writeFile(t, "users.csv", "User,Group\nJane Doe,Cryo-EM\n")
	u, err := LoadUsers(path)
	if err != nil {
		t.Fatalf("LoadUsers: %v", err)
	}
	if g, ok := u.GroupOf("Jane Doe", "jane@example.org"); !ok || g != "Cryo-EM" {
		t.Errorf("GroupOf = %q, %v", g, ok)
	}
}

func TestUsersFileNeedsUserColumn(t *testing.T) {
	path := writeFile(t, "users.csv", "Name,Group\nJane,Cryo-EM\n")
	if _, err := LoadUsers(path); err == nil {
		t.Fatal("expected error")
	}
}

func TestGroups(t *testing.T) {
	path := writeFile(t, "groups.csv", "Group,Division\nCryo-EM,Life Sciences\nPhysics Lab,\n")
	g, err := LoadGroups(path)
	if err != nil {
		t.Fatalf("LoadGroups: %v", err)
	}
	if d, ok := g.DivisionOf("Cryo-EM"); !ok || d != "Life Sciences" {
		t.Errorf("DivisionOf(Cryo-EM) = %q, %v", d, ok)
	}
	if _, ok := g.DivisionOf("Physics Lab"); ok {
		t.Error("empty division resolved")
	}
	if g.Add("Cryo-EM") || g.Add("Unknown") {
		t.Error("Add accepted a known or reserved group")
	}
	if !g.Add("Chemistry") {
		t.Error("Add rejected a new group")
	}
	if g.Unknown() != 2 {
		t.Errorf("Unknown() = %d, want 2", g.Unknown())
	}
	if err := g.Save(); err != nil {
		t.Fatal(err)
	}

	reloaded, err := LoadGroups(path)
	if err != nil {
		t.Fatal(err)
	}
	rows := reloaded.Rows()
	if len(rows) != 3 || rows[0].Group != "Cryo-EM" || rows[1].Group != "Chemistry" {
		t.Errorf("rows = %+v", rows)
	}
}
