// Package scheduler runs the maintenance cron: stage lock cleanup, stale job
// failure and the scan that starts due scheduled URL imports.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rpattn/eventingest/internal/domain"
	"github.com/rpattn/eventingest/internal/jobs"
	"github.com/rpattn/eventingest/internal/queue"
	"github.com/rpattn/eventingest/internal/repository"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NextRun returns the first activation of expr strictly after the given time.
func NextRun(expr string, after time.Time) (time.Time, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule.Next(after).UTC(), nil
}

// StaleJobFailer fails jobs that stopped making progress.
type StaleJobFailer interface {
	FailStaleJobs(ctx context.Context, olderThan time.Time) (int, error)
}

// Config holds the cron expressions and the stale job threshold.
type Config struct {
	CleanupCron      string
	ScheduleScanCron string
	StaleJobAfter    time.Duration
}

// Scheduler enqueues maintenance and scheduled import tasks on a cron.
type Scheduler struct {
	cfg       Config
	schedules repository.ScheduledImportRepository
	queue     queue.Dispatcher
	stale     StaleJobFailer
	logger    logrus.FieldLogger
	now       func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithStaleJobFailer enables stale job failure on the cleanup cron.
func WithStaleJobFailer(f StaleJobFailer) Option {
	return func(s *Scheduler) { s.stale = f }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New validates the cron expressions and builds a stopped scheduler.
func New(cfg Config, schedules repository.ScheduledImportRepository, dispatcher queue.Dispatcher, logger logrus.FieldLogger, opts ...Option) (*Scheduler, error) {
	if dispatcher == nil {
		return nil, errors.New("scheduler requires a task dispatcher")
	}
	for _, expr := range []string{cfg.CleanupCron, cfg.ScheduleScanCron} {
		if _, err := parser.Parse(expr); err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
		}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Scheduler{
		cfg:       cfg,
		schedules: schedules,
		queue:     dispatcher,
		logger:    logger.WithField("component", "scheduler"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start registers the cron entries and begins firing them. Entries run
// with ctx; cancel it to abort in-flight work.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already running")
	}

	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.cfg.CleanupCron, func() { s.runMaintenance(ctx) }); err != nil {
		return fmt.Errorf("failed to add cleanup cron: %w", err)
	}
	if s.schedules != nil {
		if _, err := c.AddFunc(s.cfg.ScheduleScanCron, func() {
			if _, err := s.ScanDue(ctx); err != nil {
				s.logger.WithError(err).Warn("scheduled import scan failed")
			}
		}); err != nil {
			return fmt.Errorf("failed to add schedule scan cron: %w", err)
		}
	}

	c.Start()
	s.cron = c
	s.running = true
	s.logger.WithFields(logrus.Fields{
		"cleanup_cron": s.cfg.CleanupCron,
		"scan_cron":    s.cfg.ScheduleScanCron,
	}).Info("scheduler started")
	return nil
}

// Stop halts the cron and waits for running entries to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	running := s.running
	s.running = false
	s.mu.Unlock()
	if !running {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) runMaintenance(ctx context.Context) {
	if err := s.EnqueueCleanup(ctx); err != nil {
		s.logger.WithError(err).Warn("failed to enqueue stage lock cleanup")
	}
	if s.stale == nil || s.cfg.StaleJobAfter <= 0 {
		return
	}
	failed, err := s.stale.FailStaleJobs(ctx, s.now().Add(-s.cfg.StaleJobAfter))
	if err != nil {
		s.logger.WithError(err).Warn("stale job sweep failed")
		return
	}
	if failed > 0 {
		s.logger.WithField("failed", failed).Warn("failed stale import jobs")
	}
}

// EnqueueCleanup queues one stage lock cleanup task.
func (s *Scheduler) EnqueueCleanup(ctx context.Context) error {
	return s.queue.Enqueue(ctx, jobs.TaskCleanupStuckLocks, nil)
}

// ScanDue enqueues a url-fetch task for every enabled schedule whose next
// run is due and advances its NextRunAt. A schedule with an unparsable cron
// expression is disabled. It returns the number of tasks enqueued.
func (s *Scheduler) ScanDue(ctx context.Context) (int, error) {
	if s.schedules == nil {
		return 0, nil
	}
	now := s.now().UTC()
	due, err := s.schedules.ListDue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list due schedules: %w", err)
	}

	enqueued := 0
	for _, schedule := range due {
		logger := s.logger.WithFields(logrus.Fields{
			"scheduled_import_id": schedule.ID,
			"catalog_id":          schedule.CatalogID,
		})

		next, parseErr := NextRun(schedule.CronExpression, now)
		if _, err := s.schedules.Update(ctx, schedule.ID, func(item *domain.ScheduledImport) error {
			if parseErr != nil {
				item.Enabled = false
				item.Stats.LastStatus = "failed"
				item.Stats.LastError = parseErr.Error()
				return nil
			}
			item.NextRunAt = &next
			return nil
		}); err != nil {
			logger.WithError(err).Warn("failed to advance schedule")
			continue
		}
		if parseErr != nil {
			logger.WithError(parseErr).Error("disabled schedule with invalid cron expression")
			continue
		}

		id := schedule.ID
		if err := s.queue.Enqueue(ctx, jobs.TaskURLFetch, jobs.URLFetchInput{ScheduledImportID: &id}); err != nil {
			return enqueued, fmt.Errorf("enqueue scheduled import %s: %w", schedule.ID, err)
		}
		enqueued++
		logger.WithField("next_run_at", next).Info("scheduled import enqueued")
	}
	return enqueued, nil
}
