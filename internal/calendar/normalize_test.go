package calendar

import (
	"errors"
	"testing"
)

func TestNormalizeSubject(t *testing.T) {
	tests := map[string]string{
		"":                     "None",
		"Maintenace":           "maintenance",
		"Routine MAINTENANCE":  "routine maintenance",
		"Training: new users":  "training: new users",
		"maintenace/maintenace": "maintenance/maintenance",
	}
	for in, want := range tests {
		if got := NormalizeSubject(in); got != want {
			t.Errorf("NormalizeSubject(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInstrumentNameFromFile(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"exports/Calendar of resource 'KRIOS_2N012@example.org'.ics", "Krios"},
		{"Calendar of resource 'TALOS_ARCTICA_1S104@rooms.example.org'.ics", "Talos arctica"},
		{"glacios.ics", "Glacios"},
	}
	for _, tt := range tests {
		if got := InstrumentNameFromFile(tt.path); got != tt.want {
			t.Errorf("InstrumentNameFromFile(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestCookieFromCurl(t *testing.T) {
	curl := `curl 'https://bookings.example.org/cal.ics' -H 'Accept: text/calendar' -H 'Cookie: session=abc123; path=/' --compressed`
	got, err := CookieFromCurl(curl)
	if err != nil {
		t.Fatalf("CookieFromCurl: %v", err)
	}
	if got != "session=abc123; path=/" {
		t.Errorf("cookie = %q", got)
	}

	for _, bad := range []string{
		"",
		"curl 'https://bookings.example.org/cal.ics'",
		"'Cookie: first-token-only",
	} {
		if _, err := CookieFromCurl(bad); !errors.Is(err, ErrNoCookie) {
			t.Errorf("CookieFromCurl(%q) err = %v, want ErrNoCookie", bad, err)
		}
	}
}

func TestSourceInferKind(t *testing.T) {
	tests := []struct {
		src  Source
		want Kind
	}{
		{Source{Path: "krios.ics"}, KindFile},
		{Source{Path: "export.XLSX"}, KindXLSX},
		{Source{URL: "https://bookings.example.org/krios.ics"}, KindURL},
		{Source{URL: "caldavs://dav.example.org/cal/krios/"}, KindCalDAV},
		{Source{Path: "x.ics", Kind: KindXLSX}, KindXLSX},
	}
	for _, tt := range tests {
		if got := tt.src.InferKind().Kind; got != tt.want {
			t.Errorf("%+v: kind = %s, want %s", tt.src, got, tt.want)
		}
	}
}

func TestSplitCalDAVURL(t *testing.T) {
	base, path, err := splitCalDAVURL("caldavs://dav.example.org/calendars/krios/")
	if err != nil {
		t.Fatal(err)
	}
	if base != "https://dav.example.org" || path != "/calendars/krios/" {
		t.Errorf("got %q %q", base, path)
	}
	if _, _, err := splitCalDAVURL("ftp://dav.example.org/x"); err == nil {
		t.Error("expected error for ftp scheme")
	}
}
