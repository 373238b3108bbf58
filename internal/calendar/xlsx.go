package calendar

import (
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	appLog "github.com/tazhate/usagestats/internal/log"
)

// ErrBadTimestamp is returned when a spreadsheet timestamp matches none of
// the known export formats.
var ErrBadTimestamp = errors.New("unrecognised timestamp")

// Export formats of the booking system, tried in order.
var spreadsheetLayouts = []string{
	"Mon 02/01/2006 15:04",
	"2006/01/02 15:04:05",
}

// ParseTimestamp parses a spreadsheet cell in loc. Excel serial dates are
// accepted as well.
func ParseTimestamp(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range spreadsheetLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, nil
		}
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
		if t, err := excelize.ExcelDateToTime(f, false); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, v)
}

type columns struct {
	user, email, start, end, subject, guid int
}

func headerColumns(header []string) (columns, error) {
	c := columns{user: -1, email: -1, start: -1, end: -1, subject: -1, guid: -1}
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "from", "user":
			c.user = i
		case "email", "e-mail":
			c.email = i
		case "start":
			c.start = i
		case "end":
			c.end = i
		case "subject":
			c.subject = i
		case "uid", "guid":
			c.guid = i
		}
	}
	if c.start < 0 || c.end < 0 {
		return c, errors.New("spreadsheet needs Start and End columns")
	}
	return c, nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// splitAddress accepts "Name <mail@host>" as well as a bare name.
func splitAddress(from string) (name, email string) {
	if strings.Contains(from, "@") {
		if addr, err := mail.ParseAddress(from); err == nil {
			if addr.Name == "" {
				return addr.Address, addr.Address
			}
			return addr.Name, addr.Address
		}
	}
	return from, ""
}

// LoadXLSX reads the first sheet of a booking export. The header row must
// contain Start and End; From (or User), Email, Subject and UID are
// optional. Rows with unparseable timestamps are reported as malformed and
// skipped, unless opts.StrictTimestamps is set.
func LoadXLSX(path, instrument string, opts Options) (Parsed, error) {
	var out Parsed
	loc := opts.location()

	f, err := excelize.OpenFile(path)
	if err != nil {
		return out, fmt.Errorf("open spreadsheet: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return out, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return out, nil
	}

	cols, err := headerColumns(rows[0])
	if err != nil {
		return out, err
	}

	for n, row := range rows[1:] {
		line := n + 2
		if cell(row, cols.start) == "" && cell(row, cols.end) == "" {
			continue
		}
		start, err := ParseTimestamp(cell(row, cols.start), loc)
		if err == nil {
			var end time.Time
			end, err = ParseTimestamp(cell(row, cols.end), loc)
			if err == nil {
				name, email := splitAddress(cell(row, cols.user))
				if e := cell(row, cols.email); e != "" {
					email = e
				}
				out.add(newRawEvent(cell(row, cols.guid), name, email, instrument, cell(row, cols.subject), start, end, loc))
				continue
			}
		}

		if opts.StrictTimestamps {
			return out, fmt.Errorf("%s row %d: %w", path, line, err)
		}
		appLog.Error("spreadsheet row skipped", err, "instrument", instrument, "row", line)
		out.Malformed = append(out.Malformed, fmt.Sprintf("%s:row %d", instrument, line))
	}
	return out, nil
}
