package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tazhate/usagestats/internal/calendar"
)

// InstrumentConfig is one instrument calendar.
type InstrumentConfig struct {
	Name string `yaml:"name"`
	// Kind is file, xlsx, url or caldav. Inferred from path/url when empty.
	Kind string `yaml:"kind,omitempty"`
	Path string `yaml:"path,omitempty"`
	URL  string `yaml:"url,omitempty"`
}

type CalDAVConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

type Config struct {
	DatabasePath string `yaml:"database"`
	Timezone     string `yaml:"timezone"`
	LogLevel     string `yaml:"log_level"`

	// BookingTypes is matched in order against lower-cased subjects.
	BookingTypes []string `yaml:"booking_types"`
	Divisions    []string `yaml:"divisions"`
	UsersFile    string   `yaml:"users_file"`
	GroupsFile   string   `yaml:"groups_file"`

	// CurlCommand is a browser "copy as cURL" string the session cookie for
	// remote calendars is taken from. Cookie, when set, is used as is.
	CurlCommand string `yaml:"curl,omitempty"`
	Cookie      string `yaml:"cookie,omitempty"`

	Instruments []InstrumentConfig `yaml:"instruments"`

	Workers      int           `yaml:"workers"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	FetchRate    float64       `yaml:"fetch_rate"` // fetches per second, 0 = unlimited

	ExpandRecurrences bool `yaml:"expand_recurrences"`
	// RangeStart/RangeEnd (YYYY-MM-DD) bound recurrence expansion; when
	// unset the last HorizonDays up to today are used.
	RangeStart       string `yaml:"range_start,omitempty"`
	RangeEnd         string `yaml:"range_end,omitempty"`
	HorizonDays      int    `yaml:"horizon_days"`
	StrictTimestamps bool   `yaml:"strict_timestamps"`

	Schedule    string `yaml:"schedule"`
	MetricsFile string `yaml:"metrics_file,omitempty"`

	CalDAV   *CalDAVConfig   `yaml:"caldav,omitempty"`
	Telegram *TelegramConfig `yaml:"telegram,omitempty"`

	location *time.Location
}

func Default() *Config {
	return &Config{
		DatabasePath: "./data/usagestats.db",
		Timezone:     calendar.DefaultTimezone,
		LogLevel:     "info",
		BookingTypes: []string{"maintenance", "training", "service"},
		UsersFile:    "users.csv",
		GroupsFile:   "groups.csv",
		Workers:      4,
		FetchTimeout: 30 * time.Second,
		HorizonDays:  365,
		Schedule:     "0 6 * * *",
	}
}

// Normalize fills in missing values with defaults.
func (c *Config) Normalize() {
	d := Default()
	if c.DatabasePath == "" {
		c.DatabasePath = d.DatabasePath
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.BookingTypes == nil {
		c.BookingTypes = d.BookingTypes
	}
	for i, t := range c.BookingTypes {
		c.BookingTypes[i] = strings.ToLower(strings.TrimSpace(t))
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.FetchRate < 0 {
		c.FetchRate = 0
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = d.HorizonDays
	}
	if c.Schedule == "" {
		c.Schedule = d.Schedule
	}
}

// Load reads the YAML file at path, then applies .env and environment
// overrides. A missing file means defaults plus environment.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			cfg = &Config{}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("USAGESTATS_DB"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("TIMEZONE"); v != "" {
		c.Timezone = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("USAGESTATS_CURL"); v != "" {
		c.CurlCommand = v
	}
	if v := os.Getenv("USAGESTATS_COOKIE"); v != "" {
		c.Cookie = v
	}
	if v := os.Getenv("USAGESTATS_METRICS_FILE"); v != "" {
		c.MetricsFile = v
	}
	if v := os.Getenv("CALDAV_USERNAME"); v != "" {
		if c.CalDAV == nil {
			c.CalDAV = &CalDAVConfig{}
		}
		c.CalDAV.Username = v
		c.CalDAV.Password = os.Getenv("CALDAV_PASSWORD")
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		if c.Telegram == nil {
			c.Telegram = &TelegramConfig{}
		}
		c.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" && c.Telegram != nil {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Telegram.ChatID = id
		}
	}
}

// Validate checks everything that must be right before the store is
// touched: timezone, date range, cookie and instrument list.
func (c *Config) Validate() error {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	c.location = loc

	if _, _, err := c.Range(time.Now()); err != nil {
		return err
	}

	remote := false
	for i, in := range c.Instruments {
		if strings.TrimSpace(in.Name) == "" {
			return fmt.Errorf("instrument %d: name is required", i+1)
		}
		if in.Path == "" && in.URL == "" {
			return fmt.Errorf("instrument %q: path or url is required", in.Name)
		}
		switch calendar.Kind(in.Kind) {
		case "", calendar.KindFile, calendar.KindXLSX, calendar.KindURL, calendar.KindCalDAV:
		default:
			return fmt.Errorf("instrument %q: unknown kind %q", in.Name, in.Kind)
		}
		if in.Source().InferKind().Kind == calendar.KindURL {
			remote = true
		}
	}

	if c.Cookie == "" && c.CurlCommand != "" {
		cookie, err := calendar.CookieFromCurl(c.CurlCommand)
		if err != nil && remote {
			return fmt.Errorf("remote calendars configured: %w", err)
		}
		c.Cookie = cookie
	}
	if remote && c.Cookie == "" {
		return fmt.Errorf("remote calendars configured: %w", calendar.ErrNoCookie)
	}
	if c.Telegram != nil && c.Telegram.Token != "" && c.Telegram.ChatID == 0 {
		return errors.New("telegram.chat_id is required when a bot token is set")
	}
	return nil
}

// Location returns the reference timezone.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		if loc, err := time.LoadLocation(c.Timezone); err == nil {
			c.location = loc
		} else {
			c.location = time.UTC
		}
	}
	return c.location
}

// Range returns the configured expansion range, or the HorizonDays before
// now when none is set.
func (c *Config) Range(now time.Time) (time.Time, time.Time, error) {
	loc := c.Location()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
	start := end.AddDate(0, 0, -c.HorizonDays)
	var err error
	if c.RangeStart != "" {
		if start, err = ParseDate(c.RangeStart, loc); err != nil {
			return start, end, fmt.Errorf("range_start: %w", err)
		}
	}
	if c.RangeEnd != "" {
		if end, err = ParseDate(c.RangeEnd, loc); err != nil {
			return start, end, fmt.Errorf("range_end: %w", err)
		}
	}
	if !start.Before(end) {
		return start, end, fmt.Errorf("range_start %s is not before range_end %s", start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
	return start, end, nil
}

// ParseDate parses YYYY-MM-DD as midnight in loc.
func ParseDate(v string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(time.DateOnly, strings.TrimSpace(v), loc)
}

// Source converts the entry into a calendar source.
func (in InstrumentConfig) Source() calendar.Source {
	return calendar.Source{Instrument: in.Name, Kind: calendar.Kind(in.Kind), Path: in.Path, URL: in.URL}
}

// Sources returns the calendar sources of every configured instrument.
func (c *Config) Sources() []calendar.Source {
	out := make([]calendar.Source, len(c.Instruments))
	for i, in := range c.Instruments {
		out[i] = in.Source()
	}
	return out
}

// Save writes cfg as YAML to path, creating its directory.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
