package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "github.com/tazhate/usagestats/internal/log"
	"github.com/tazhate/usagestats/internal/service"
)

// ReportSender receives the report of every scheduled run.
type ReportSender interface {
	NotifyReport(r *service.Report) error
}

// RunFunc performs one ingestion run.
type RunFunc func(ctx context.Context) (*service.Report, error)

type Scheduler struct {
	cron   *cron.Cron
	spec   string
	run    RunFunc
	sender ReportSender

	mu      sync.Mutex
	running bool
	ctx     context.Context
}

func New(spec string, location *time.Location, run RunFunc) *Scheduler {
	if location == nil {
		location = time.UTC
	}
	return &Scheduler{
		cron: cron.New(cron.WithLocation(location)),
		spec: spec,
		run:  run,
		ctx:  context.Background(),
	}
}

func (s *Scheduler) SetSender(sender ReportSender) {
	s.sender = sender
}

// Start registers the job and blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx
	if _, err := s.cron.AddFunc(s.spec, s.tick); err != nil {
		return fmt.Errorf("add ingestion job %q: %w", s.spec, err)
	}

	s.cron.Start()
	appLog.Info("scheduler started", "schedule", s.spec)

	<-ctx.Done()
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	appLog.Info("scheduler stopped")
}

// tick runs one ingestion unless the previous one is still going; the
// store allows a single writer.
func (s *Scheduler) tick() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		appLog.Info("previous ingestion still running, tick skipped")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	report, err := s.run(s.ctx)
	if err != nil {
		appLog.Error("scheduled ingestion failed", err)
	}
	if report == nil || s.sender == nil {
		return
	}
	if err := s.sender.NotifyReport(report); err != nil {
		appLog.Error("report notification failed", err, "run", report.RunID)
	}
}
