package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tazhate/usagestats/config"
	"github.com/tazhate/usagestats/internal/bot"
	appLog "github.com/tazhate/usagestats/internal/log"
	"github.com/tazhate/usagestats/internal/metrics"
	"github.com/tazhate/usagestats/internal/scheduler"
	"github.com/tazhate/usagestats/internal/service"
	"github.com/tazhate/usagestats/internal/storage"
)

func newIngestCmd(root *rootOptions) *cobra.Command {
	var notify bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Read every configured calendar into the booking store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			report, err := runIngest(cmd.Context(), cfg, store)
			if report != nil {
				fmt.Fprint(cmd.OutOrStdout(), service.FormatReport(report))
				if notify {
					notifyReport(cfg, report)
				}
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&notify, "notify", false, "send the run report to the configured Telegram chat")
	return cmd
}

func runIngest(ctx context.Context, cfg *config.Config, store *storage.Storage) (*service.Report, error) {
	svc, err := newIngestService(cfg, store)
	if err != nil {
		return nil, err
	}
	report, err := svc.Run(ctx, cfg.Sources())
	if werr := metrics.WriteTextfile(cfg.MetricsFile); werr != nil {
		appLog.Error("metrics textfile not written", werr, "path", cfg.MetricsFile)
	}
	return report, err
}

func newNotifier(cfg *config.Config) *bot.Bot {
	if cfg.Telegram == nil || cfg.Telegram.Token == "" {
		return nil
	}
	b, err := bot.New(cfg.Telegram.Token, cfg.Telegram.ChatID)
	if err != nil {
		appLog.Error("telegram notifier disabled", err)
		return nil
	}
	return b
}

func notifyReport(cfg *config.Config, report *service.Report) {
	b := newNotifier(cfg)
	if b == nil {
		appLog.Info("no telegram bot configured, report not sent")
		return
	}
	if err := b.NotifyReport(report); err != nil {
		appLog.Error("report notification failed", err, "run", report.RunID)
	}
}

func newScheduleCmd(root *rootOptions) *cobra.Command {
	var spec string

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Re-run ingestion on a cron schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			if spec != "" {
				cfg.Schedule = spec
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			sched := scheduler.New(cfg.Schedule, cfg.Location(), func(ctx context.Context) (*service.Report, error) {
				return runIngest(ctx, cfg, store)
			})
			if b := newNotifier(cfg); b != nil {
				sched.SetSender(b)
			}

			err = sched.Start(cmd.Context())
			sched.Stop()
			return err
		},
	}
	cmd.Flags().StringVar(&spec, "cron", "", "cron expression (overrides config schedule)")
	return cmd
}
