// Package roster reads and maintains the operator-edited side files that
// map users to groups and groups to divisions.
package roster

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tazhate/usagestats/internal/domain"
)

// UserRow is one line of the users file.
type UserRow struct {
	User  string
	Email string
	Group string
}

// GroupRow is one line of the groups file.
type GroupRow struct {
	Group    string
	Division string
}

// Users is the user to group mapping.
type Users struct {
	path    string
	rows    []UserRow
	byEmail map[string]int
	byName  map[string]int
	dirty   bool
}

// Groups is the group to division mapping.
type Groups struct {
	path   string
	rows   []GroupRow
	byName map[string]int
	dirty  bool
}

// LoadUsers reads a User,Email,Group CSV. A missing file yields an empty
// mapping that is created on Save. The Email column is optional.
func LoadUsers(path string) (*Users, error) {
	u := &Users{path: path, byEmail: map[string]int{}, byName: map[string]int{}}
	records, err := readCSV(path)
	if errors.Is(err, fs.ErrNotExist) {
		u.dirty = true
		return u, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}
	if len(records) == 0 {
		u.dirty = true
		return u, nil
	}

	idx := columnIndex(records[0])
	userCol, ok := idx["user"]
	if !ok {
		return nil, fmt.Errorf("users file %s: missing User column", path)
	}
	emailCol, hasEmail := idx["email"]
	groupCol, hasGroup := idx["group"]

	for _, rec := range records[1:] {
		row := UserRow{User: field(rec, userCol)}
		if hasEmail {
			row.Email = strings.ToLower(field(rec, emailCol))
		}
		if hasGroup {
			row.Group = field(rec, groupCol)
		}
		if row.User == "" && row.Email == "" {
			continue
		}
		if row.Group == "" {
			row.Group = domain.UnknownName
		}
		u.put(row)
	}
	return u, nil
}

func (u *Users) put(row UserRow) {
	u.rows = append(u.rows, row)
	i := len(u.rows) - 1
	if row.Email != "" {
		u.byEmail[row.Email] = i
	}
	if _, ok := u.byName[row.User]; !ok && row.User != "" {
		u.byName[row.User] = i
	}
}

// GroupOf returns the group of a user, matched on email first and display
// name second. Unknown is reported as not found.
func (u *Users) GroupOf(name, email string) (string, bool) {
	i, ok := -1, false
	if email != "" {
		i, ok = u.byEmail[strings.ToLower(email)]
	}
	if !ok {
		i, ok = u.byName[name]
	}
	if !ok || u.rows[i].Group == domain.UnknownName {
		return domain.UnknownName, false
	}
	return u.rows[i].Group, true
}

// Add records a user seen in the bookings. Users not yet listed are
// appended with the Unknown group. It reports whether a row was added.
func (u *Users) Add(name, email string) bool {
	email = strings.ToLower(email)
	if name == "" && email == "" || name == domain.UnknownName {
		return false
	}
	if email != "" {
		if _, ok := u.byEmail[email]; ok {
			return false
		}
		if i, ok := u.byName[name]; ok && u.rows[i].Email == "" {
			u.rows[i].Email = email
			u.byEmail[email] = i
			u.dirty = true
			return false
		}
	} else if _, ok := u.byName[name]; ok {
		return false
	}
	u.put(UserRow{User: name, Email: email, Group: domain.UnknownName})
	u.dirty = true
	return true
}

// Rows returns the mapping sorted by group, then user.
func (u *Users) Rows() []UserRow {
	out := append([]UserRow(nil), u.rows...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Group != out[j].Group {
			return out[i].Group < out[j].Group
		}
		return out[i].User < out[j].User
	})
	return out
}

// Groups lists the distinct groups named in the mapping.
func (u *Users) Groups() []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range u.rows {
		if !seen[r.Group] {
			seen[r.Group] = true
			out = append(out, r.Group)
		}
	}
	sort.Strings(out)
	return out
}

// Unknown counts users whose group is still Unknown.
func (u *Users) Unknown() int {
	n := 0
	for _, r := range u.rows {
		if r.Group == domain.UnknownName {
			n++
		}
	}
	return n
}

// Path returns the file the mapping was read from.
func (u *Users) Path() string { return u.path }

// Save writes the mapping back if anything changed since it was loaded.
func (u *Users) Save() error {
	if !u.dirty || u.path == "" {
		return nil
	}
	records := [][]string{{"User", "Email", "Group"}}
	for _, r := range u.Rows() {
		records = append(records, []string{r.User, r.Email, r.Group})
	}
	if err := writeCSV(u.path, records); err != nil {
		return fmt.Errorf("write users file: %w", err)
	}
	u.dirty = false
	return nil
}

// LoadGroups reads a Group,Division CSV. A missing file yields an empty
// mapping that is created on Save.
func LoadGroups(path string) (*Groups, error) {
	g := &Groups{path: path, byName: map[string]int{}}
	records, err := readCSV(path)
	if errors.Is(err, fs.ErrNotExist) {
		g.dirty = true
		return g, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read groups file: %w", err)
	}
	if len(records) == 0 {
		g.dirty = true
		return g, nil
	}

	idx := columnIndex(records[0])
	groupCol, ok := idx["group"]
	if !ok {
		return nil, fmt.Errorf("groups file %s: missing Group column", path)
	}
	divCol, hasDiv := idx["division"]

	for _, rec := range records[1:] {
		row := GroupRow{Group: field(rec, groupCol)}
		if hasDiv {
			row.Division = field(rec, divCol)
		}
		if row.Group == "" {
			continue
		}
		if row.Division == "" {
			row.Division = domain.UnknownName
		}
		if _, dup := g.byName[row.Group]; dup {
			continue
		}
		g.rows = append(g.rows, row)
		g.byName[row.Group] = len(g.rows) - 1
	}
	return g, nil
}

// DivisionOf returns the division of a group. Unknown is reported as not
// found.
func (g *Groups) DivisionOf(group string) (string, bool) {
	i, ok := g.byName[group]
	if !ok || g.rows[i].Division == domain.UnknownName {
		return domain.UnknownName, false
	}
	return g.rows[i].Division, true
}

// Add records a group; unlisted groups get the Unknown division.
func (g *Groups) Add(group string) bool {
	if group == "" || group == domain.UnknownName {
		return false
	}
	if _, ok := g.byName[group]; ok {
		return false
	}
	g.rows = append(g.rows, GroupRow{Group: group, Division: domain.UnknownName})
	g.byName[group] = len(g.rows) - 1
	g.dirty = true
	return true
}

// Rows returns the mapping sorted by division, then group.
func (g *Groups) Rows() []GroupRow {
	out := append([]GroupRow(nil), g.rows...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Division != out[j].Division {
			return out[i].Division < out[j].Division
		}
		return out[i].Group < out[j].Group
	})
	return out
}

// Unknown counts groups whose division is still Unknown.
func (g *Groups) Unknown() int {
	n := 0
	for _, r := range g.rows {
		if r.Division == domain.UnknownName {
			n++
		}
	}
	return n
}

// Path returns the file the mapping was read from.
func (g *Groups) Path() string { return g.path }

// Save writes the mapping back if anything changed since it was loaded.
func (g *Groups) Save() error {
	if !g.dirty || g.path == "" {
		return nil
	}
	records := [][]string{{"Group", "Division"}}
	for _, r := range g.Rows() {
		records = append(records, []string{r.Group, r.Division})
	}
	if err := writeCSV(g.path, records); err != nil {
		return fmt.Errorf("write groups file: %w", err)
	}
	g.dirty = false
	return nil
}

func readCSV(path string) ([][]string, error) {
	if path == "" {
		return nil, fs.ErrNotExist
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseCSV(f)
}

func parseCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return cr.ReadAll()
}

func writeCSV(path string, records [][]string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func columnIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if h == "e-mail" {
			h = "email"
		}
		idx[h] = i
	}
	return idx
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}
