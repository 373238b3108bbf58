package caldav

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
)

// Client reads booking calendars from a CalDAV server.
type Client struct {
	baseURL  string
	username string
	password string
	cookie   string
	timeout  time.Duration
	client   *caldav.Client
}

// NewClient creates a new CalDAV client. Credentials are optional: when
// username is empty the session cookie, if any, is sent instead.
func NewClient(baseURL, username, password, cookie string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:  baseURL,
		username: username,
		password: password,
		cookie:   cookie,
		timeout:  timeout,
	}
}

// connect establishes connection to CalDAV server
func (c *Client) connect() (*caldav.Client, error) {
	if c.client != nil {
		return c.client, nil
	}

	httpClient := &http.Client{
		Transport: &authTransport{
			username: c.username,
			password: c.password,
			cookie:   c.cookie,
		},
		Timeout: c.timeout,
	}

	client, err := caldav.NewClient(httpClient, c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to CalDAV: %w", err)
	}

	c.client = client
	return client, nil
}

// authTransport adds Basic Auth or the session cookie to HTTP requests
type authTransport struct {
	username string
	password string
	cookie   string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if t.username != "" {
		req.SetBasicAuth(t.username, t.password)
	} else if t.cookie != "" {
		req.Header.Set("Cookie", t.cookie)
	}
	return http.DefaultTransport.RoundTrip(req)
}

// DiscoverCalendars returns all calendars of the current user
func (c *Client) DiscoverCalendars(ctx context.Context) ([]Calendar, error) {
	client, err := c.connect()
	if err != nil {
		return nil, err
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", err)
	}

	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("find home set: %w", err)
	}

	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("find calendars: %w", err)
	}

	var result []Calendar
	for _, cal := range cals {
		result = append(result, Calendar{
			Path:        cal.Path,
			DisplayName: cal.Name,
		})
	}
	return result, nil
}

// GetCalendars returns the calendar objects of calendarPath holding events
// in [from, to). Zero bounds disable the time-range filter.
func (c *Client) GetCalendars(ctx context.Context, calendarPath string, from, to time.Time) ([]*ical.Calendar, error) {
	client, err := c.connect()
	if err != nil {
		return nil, err
	}

	if calendarPath == "" {
		return nil, fmt.Errorf("calendar path not specified")
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     "VCALENDAR",
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{
				{
					Name:  "VEVENT",
					Start: from,
					End:   to,
				},
			},
		},
	}

	objects, err := client.QueryCalendar(ctx, calendarPath, query)
	if err != nil {
		return nil, fmt.Errorf("query calendar: %w", err)
	}

	var cals []*ical.Calendar
	for _, obj := range objects {
		if obj.Data == nil {
			continue // Skip empty objects
		}
		cals = append(cals, obj.Data)
	}
	return cals, nil
}
