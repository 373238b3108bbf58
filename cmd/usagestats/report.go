package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tazhate/usagestats/config"
	"github.com/tazhate/usagestats/internal/calendar"
	"github.com/tazhate/usagestats/internal/clients/caldav"
	"github.com/tazhate/usagestats/internal/service"
	"github.com/tazhate/usagestats/internal/usage"
)

var timeNow = time.Now

type rangeOptions struct {
	from string
	to   string
}

func (o *rangeOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.from, "from", "", "range start YYYY-MM-DD (default: configured range)")
	cmd.Flags().StringVar(&o.to, "to", "", "range end YYYY-MM-DD, exclusive (default: configured range)")
}

func (o *rangeOptions) resolve(cfg *config.Config) (time.Time, time.Time, error) {
	from, to, err := cfg.Range(timeNow())
	if err != nil {
		return from, to, err
	}
	if o.from != "" {
		if from, err = config.ParseDate(o.from, cfg.Location()); err != nil {
			return from, to, fmt.Errorf("--from: %w", err)
		}
	}
	if o.to != "" {
		if to, err = config.ParseDate(o.to, cfg.Location()); err != nil {
			return from, to, fmt.Errorf("--to: %w", err)
		}
	}
	if !from.Before(to) {
		return from, to, fmt.Errorf("--from %s is not before --to %s", from.Format(time.DateOnly), to.Format(time.DateOnly))
	}
	return from, to, nil
}

// output returns stdout, or the named file.
func output(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func newUsageCmd(root *rootOptions) *cobra.Command {
	var (
		rng rangeOptions
		by  string
		out string
	)

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Weekly usage hours as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			from, to, err := rng.resolve(cfg)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			rows, err := service.NewUsageService(store, cfg.Workers).Weekly(cmd.Context(), from, to, by)
			if err != nil {
				return err
			}
			w, closeFn, err := output(cmd, out)
			if err != nil {
				return err
			}
			if err := usage.WriteCSV(w, columnName(by), rows); err != nil {
				closeFn()
				return err
			}
			return closeFn()
		},
	}
	rng.bind(cmd)
	cmd.Flags().StringVar(&by, "by", "instrument", "partition: "+strings.Join(usage.Keys(), ", "))
	cmd.Flags().StringVarP(&out, "out", "o", "", "output CSV file (default stdout)")
	return cmd
}

func columnName(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return "Key"
	}
	return strings.ToUpper(key[:1]) + key[1:]
}

func newSummaryCmd(root *rootOptions) *cobra.Command {
	var (
		rng   rangeOptions
		pivot string
	)

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Total hours, users, groups and instruments, plus hours per booking type",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			from, to, err := rng.resolve(cfg)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			sum, p, err := service.NewUsageService(store, cfg.Workers).Summary(cmd.Context(), from, to)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sum.String())
			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprint(cmd.OutOrStdout(), p.String())

			if pivot == "" {
				return nil
			}
			w, closeFn, err := output(cmd, pivot)
			if err != nil {
				return err
			}
			if err := usage.WritePivotCSV(w, p); err != nil {
				closeFn()
				return err
			}
			return closeFn()
		},
	}
	rng.bind(cmd)
	cmd.Flags().StringVar(&pivot, "pivot-csv", "", "also write the instrument x type table to this CSV file")
	return cmd
}

func newUsersCmd(root *rootOptions) *cobra.Command {
	var rng rangeOptions

	cmd := &cobra.Command{
		Use:   "users",
		Short: "Users that booked anything in the range",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			from, to, err := rng.resolve(cfg)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			users, err := service.NewUsageService(store, cfg.Workers).Users(cmd.Context(), from, to)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tEMAIL\tGROUP\tDIVISION")
			for _, u := range users {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.Name, u.Email, u.Group, u.Division)
			}
			return tw.Flush()
		},
	}
	rng.bind(cmd)
	return cmd
}

func newInstrumentsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instruments [calendar files...]",
		Short: "List stored instruments, or derive instrument names from exported calendar files",
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			if len(args) > 0 {
				fmt.Fprintln(tw, "NAME\tPATH")
				for _, path := range args {
					fmt.Fprintf(tw, "%s\t%s\n", calendar.InstrumentNameFromFile(path), path)
				}
				return tw.Flush()
			}

			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			instruments, err := service.NewUsageService(store, cfg.Workers).Instruments(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(tw, "ID\tNAME\tSOURCE")
			for _, in := range instruments {
				src := in.URL
				if src == "" {
					src = in.Path
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\n", in.ID, in.Name, src)
			}
			return tw.Flush()
		},
	}
	return cmd
}

func newCalDAVCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "caldav-calendars <server url>",
		Short: "List the calendar collections of a CalDAV account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			var user, pass string
			if cfg.CalDAV != nil {
				user, pass = cfg.CalDAV.Username, cfg.CalDAV.Password
			}
			client := caldav.NewClient(strings.TrimRight(args[0], "/"), user, pass, cfg.Cookie, cfg.FetchTimeout)
			cals, err := client.DiscoverCalendars(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tPATH")
			for _, c := range cals {
				fmt.Fprintf(tw, "%s\t%s\n", c.DisplayName, c.Path)
			}
			return tw.Flush()
		},
	}
	return cmd
}
