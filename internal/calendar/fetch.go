package calendar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	appLog "github.com/tazhate/usagestats/internal/log"
)

const defaultFetchTimeout = 30 * time.Second

// maxCalendarSize bounds how much of a response body is read.
const maxCalendarSize = 64 << 20

// Fetcher downloads remote calendars with the operator's session cookie.
type Fetcher struct {
	client  *http.Client
	cookie  string
	limiter *rate.Limiter
}

// NewFetcher creates a Fetcher. A zero timeout means 30s; a non-positive
// perSecond disables throttling.
func NewFetcher(cookie string, timeout time.Duration, perSecond float64) *Fetcher {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	f := &Fetcher{
		client: &http.Client{Timeout: timeout},
		cookie: cookie,
	}
	if perSecond > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	return f
}

// Fetch returns the body of url. Any non-2xx status is an error.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, errors.New("source URL is empty")
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if f.cookie != "" {
		req.Header.Set("Cookie", f.cookie)
	}

	appLog.Debug("calendar fetch start", "url", redactURL(url))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: %s", redactURL(url), resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCalendarSize))
	if err != nil {
		return nil, err
	}
	appLog.Debug("calendar fetch success", "url", redactURL(url), "bytes", len(body))
	return body, nil
}

// redactURL keeps only scheme and host so tokens in paths or query strings
// stay out of the logs.
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "calendar://...(redacted)"
	}

	j := i
	for j < len(u) && u[j] != '/' {
		j++
	}
	return u[:j] + redactedSuffix
}
