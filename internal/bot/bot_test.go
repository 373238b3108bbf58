package bot

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/tazhate/usagestats/internal/service"
)

type fakeTelegram struct {
	mu   sync.Mutex
	sent []map[string]string
}

func (f *fakeTelegram) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		fmt.Fprint(w, `{"ok":true,"result":{"id":42,"is_bot":true,"first_name":"Usage","username":"usage_bot"}}`)
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.sent = append(f.sent, map[string]string{
			"chat_id":    r.PostForm.Get("chat_id"),
			"parse_mode": r.PostForm.Get("parse_mode"),
			"text":       r.PostForm.Get("text"),
		})
		f.mu.Unlock()
		fmt.Fprint(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":-100,"type":"group"}}}`)
	default:
		fmt.Fprint(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
	}
}

func newTestBot(t *testing.T) (*Bot, *fakeTelegram) {
	t.Helper()
	fake := &fakeTelegram{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	b, err := NewWithEndpoint("123:abc", srv.URL+"/bot%s/%s", -100, srv.Client())
	if err != nil {
		t.Fatalf("NewWithEndpoint: %v", err)
	}
	return b, fake
}

func TestNotifyReport(t *testing.T) {
	b, fake := newTestBot(t)
	r := &service.Report{
		RunID:         "run-1",
		Status:        service.StatusPartial,
		Sources:       3,
		Fetched:       10,
		Inserted:      7,
		Duplicates:    []string{"a", "b", "c"},
		FailedSources: []string{"Krios <north>"},
	}
	if err := b.NotifyReport(r); err != nil {
		t.Fatalf("NotifyReport: %v", err)
	}

	if len(fake.sent) != 1 {
		t.Fatalf("sent = %d messages", len(fake.sent))
	}
	msg := fake.sent[0]
	if msg["chat_id"] != "-100" || msg["parse_mode"] != "HTML" {
		t.Errorf("msg = %v", msg)
	}
	if !strings.Contains(msg["text"], "Krios &lt;north&gt;") {
		t.Errorf("source name not escaped:\n%s", msg["text"])
	}
}

func TestFormatReport(t *testing.T) {
	var malformed []string
	for i := range 13 {
		malformed = append(malformed, fmt.Sprintf("ev-%d", i))
	}
	text := FormatReport(&service.Report{
		RunID:        "run-2",
		Status:       service.StatusOK,
		Fetched:      20,
		Inserted:     20,
		Malformed:    malformed,
		UnknownUsers: 2,
	})

	for _, want := range []string{"✅", "Inserted: 20", "Malformed: 13", "<code>ev-9</code>", "… and 3 more", "Unknown: 2 users, 0 groups"} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in:\n%s", want, text)
		}
	}
	if strings.Contains(text, "ev-10") {
		t.Errorf("list not capped:\n%s", text)
	}
	if strings.Contains(text, "Failed sources") {
		t.Error("failed section shown without failures")
	}

	if failed := FormatReport(&service.Report{Status: service.StatusFailed}); !strings.HasPrefix(failed, "❌") {
		t.Errorf("failed report = %q", failed)
	}
}
