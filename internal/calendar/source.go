package calendar

import (
	"net/url"
	"path/filepath"
	"strings"

	"github.com/tazhate/usagestats/internal/domain"
)

// Kind selects how a Source is read.
type Kind string

const (
	KindFile   Kind = "file"   // local .ics file
	KindXLSX   Kind = "xlsx"   // spreadsheet export
	KindURL    Kind = "url"    // remote .ics fetched over HTTP
	KindCalDAV Kind = "caldav" // CalDAV calendar collection
)

// Source is one instrument's booking calendar.
type Source struct {
	Instrument string
	Kind       Kind
	Path       string // local file for KindFile / KindXLSX
	URL        string // remote locator for KindURL / KindCalDAV
}

// InferKind fills Kind from the path suffix or URL scheme when it is unset.
func (s Source) InferKind() Source {
	if s.Kind != "" {
		return s
	}
	switch {
	case s.URL != "":
		if u, err := url.Parse(s.URL); err == nil && strings.HasPrefix(u.Scheme, "caldav") {
			s.Kind = KindCalDAV
		} else {
			s.Kind = KindURL
		}
	case strings.EqualFold(filepath.Ext(s.Path), ".xlsx"):
		s.Kind = KindXLSX
	default:
		s.Kind = KindFile
	}
	return s
}

// Locator returns the path or URL the source reads from.
func (s Source) Locator() string {
	if s.URL != "" {
		return s.URL
	}
	return s.Path
}

// AsInstrument returns the instrument row this source feeds.
func (s Source) AsInstrument() domain.Instrument {
	return domain.Instrument{Name: s.Instrument, Path: s.Path, URL: s.URL}
}
