package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"racing-admin/internal/config"

	"github.com/robfig/cron/v3"
)

// Scheduler fires a retention pass once a day at a fixed wall-clock time.
type Scheduler struct {
	cron      *cron.Cron
	retention *Retention
	spec      string
	entry     cron.EntryID
	timeout   time.Duration
	log       *slog.Logger
}

// NewScheduler builds a daily schedule from an "HH:MM" time of day (server local time).
func NewScheduler(r *Retention, runTime string, log *slog.Logger) (*Scheduler, error) {
	hour, minute, err := config.ParseRunTime(runTime)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Scheduler{
		retention: r,
		spec:      fmt.Sprintf("%d %d * * *", minute, hour),
		timeout:   30 * time.Minute,
		log:       log,
	}
	cl := cronLogger{log: log}
	s.cron = cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl)))

	s.entry, err = s.cron.AddFunc(s.spec, s.run)
	if err != nil {
		return nil, fmt.Errorf("audit: schedule retention %q: %w", s.spec, err)
	}
	return s, nil
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	// Outcome is logged by RunOnce; a failure waits for the next tick.
	if _, err := s.retention.RunOnce(ctx); err != nil && !errors.Is(err, ErrRetentionBusy) {
		s.log.Warn("scheduled audit retention did not complete", "err", err, "next", s.Next())
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("audit retention scheduled", "spec", s.spec, "next", s.Next())
}

// Stop prevents further runs and waits for an in-flight one or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Spec is the cron expression in use.
func (s *Scheduler) Spec() string { return s.spec }

// Next is the next scheduled run (zero before Start).
func (s *Scheduler) Next() time.Time { return s.cron.Entry(s.entry).Next }

type cronLogger struct{ log *slog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append([]any{"err", err}, keysAndValues...)...)
}
