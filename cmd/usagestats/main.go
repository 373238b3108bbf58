package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tazhate/usagestats/config"
	"github.com/tazhate/usagestats/internal/calendar"
	appLog "github.com/tazhate/usagestats/internal/log"
	"github.com/tazhate/usagestats/internal/service"
	"github.com/tazhate/usagestats/internal/storage"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "usagestats",
		Short:         "Instrument booking ingestion and weekly usage reports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", envOr("USAGESTATS_CONFIG", "usagestats.yaml"), "config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug, info or error (overrides config)")

	cmd.AddCommand(
		newIngestCmd(opts),
		newUsageCmd(opts),
		newSummaryCmd(opts),
		newUsersCmd(opts),
		newInstrumentsCmd(opts),
		newCalDAVCmd(opts),
		newScheduleCmd(opts),
	)
	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	level := cfg.LogLevel
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	appLog.SetLevel(appLog.Level(level))
	return cfg, nil
}

func openStore(cfg *config.Config) (*storage.Storage, error) {
	store, err := storage.New(cfg.DatabasePath, cfg.Location())
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	return store, nil
}

func newExtractor(cfg *config.Config) (*calendar.Extractor, error) {
	start, end, err := cfg.Range(timeNow())
	if err != nil {
		return nil, err
	}
	opts := calendar.Options{
		Location:          cfg.Location(),
		ExpandRecurrences: cfg.ExpandRecurrences,
		RangeStart:        start,
		RangeEnd:          end,
		StrictTimestamps:  cfg.StrictTimestamps,
	}
	fetcher := calendar.NewFetcher(cfg.Cookie, cfg.FetchTimeout, cfg.FetchRate)
	ex := calendar.NewExtractor(opts, fetcher)
	if cfg.CalDAV != nil {
		ex.SetCalDAVCredentials(cfg.CalDAV.Username, cfg.CalDAV.Password)
	}
	return ex, nil
}

func newIngestService(cfg *config.Config, store *storage.Storage) (*service.IngestService, error) {
	ex, err := newExtractor(cfg)
	if err != nil {
		return nil, err
	}
	return service.NewIngestService(store, ex, service.IngestOptions{
		BookingTypes: cfg.BookingTypes,
		Divisions:    cfg.Divisions,
		UsersFile:    cfg.UsersFile,
		GroupsFile:   cfg.GroupsFile,
		Workers:      cfg.Workers,
	}), nil
}
