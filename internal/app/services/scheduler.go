package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/fr0stylo/docmirror/internal/app/ports"
)

// CrawlLeaseName is the lease guarding full crawls across processes.
const CrawlLeaseName = "full-crawl"

var (
	// ErrCrawlInProgress indicates another crawl holds the lease.
	ErrCrawlInProgress = errors.New("full crawl already in progress")
	// ErrCrawlLeaseLost indicates the lease passed to another holder mid-crawl.
	ErrCrawlLeaseLost = errors.New("crawl lease lost")
)

// Scheduler triggers full crawls on a cron cadence under an exclusive lease.
type Scheduler struct {
	crawler  *Crawler
	locker   ports.Locker
	holder   string
	leaseTTL time.Duration
	opts     CrawlOptions
	flight   singleflight.Group
	log      *slog.Logger
}

func NewScheduler(crawler *Crawler, locker ports.Locker, holder string, leaseTTL time.Duration, opts CrawlOptions) *Scheduler {
	if leaseTTL <= 0 {
		leaseTTL = 6 * time.Hour
	}
	return &Scheduler{
		crawler:  crawler,
		locker:   locker,
		holder:   holder,
		leaseTTL: leaseTTL,
		opts:     opts,
		log:      slog.Default().With("component", "scheduler"),
	}
}

// RunOnce runs a crawl unless one is already running here or elsewhere.
func (s *Scheduler) RunOnce(ctx context.Context) (CrawlReport, error) {
	result, err, _ := s.flight.Do(CrawlLeaseName, func() (interface{}, error) {
		return s.runLeased(ctx)
	})
	report, _ := result.(CrawlReport)
	return report, err
}

func (s *Scheduler) runLeased(ctx context.Context) (CrawlReport, error) {
	acquired, err := s.locker.TryAcquire(ctx, CrawlLeaseName, s.holder, s.leaseTTL)
	if err != nil {
		crawlRunsTotal.WithLabelValues("error").Inc()
		return CrawlReport{}, fmt.Errorf("acquire crawl lease: %w", err)
	}
	if !acquired {
		crawlRunsTotal.WithLabelValues("skipped").Inc()
		return CrawlReport{}, ErrCrawlInProgress
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := s.locker.Release(releaseCtx, CrawlLeaseName, s.holder); err != nil {
			s.log.WarnContext(ctx, "failed to release crawl lease", "error", err)
		}
	}()

	crawlCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	renewing := make(chan struct{})
	go func() {
		defer close(renewing)
		s.renewLease(crawlCtx, cancel)
	}()

	report, err := s.crawler.Run(crawlCtx, s.opts)
	cancel(nil)
	<-renewing
	if cause := context.Cause(crawlCtx); err != nil && errors.Is(cause, ErrCrawlLeaseLost) {
		err = fmt.Errorf("%w: %w", cause, err)
	}
	crawlDuration.Observe(report.Duration.Seconds())
	if err != nil {
		crawlRunsTotal.WithLabelValues("error").Inc()
		return report, err
	}
	crawlRunsTotal.WithLabelValues("completed").Inc()
	return report, nil
}

// renewLease extends the crawl lease every third of its TTL until ctx ends.
// Losing the lease to another holder cancels the crawl.
func (s *Scheduler) renewLease(ctx context.Context, lost context.CancelCauseFunc) {
	ticker := time.NewTicker(s.leaseTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		held, err := s.locker.TryAcquire(ctx, CrawlLeaseName, s.holder, s.leaseTTL)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			s.log.WarnContext(ctx, "failed to renew crawl lease", "error", err)
		case !held:
			s.log.ErrorContext(ctx, "crawl lease taken by another holder", "holder", s.holder)
			lost(ErrCrawlLeaseLost)
			return
		}
	}
}

// Start registers the crawl on spec and starts the cron loop. The returned
// stop function waits for a running crawl to finish.
func (s *Scheduler) Start(ctx context.Context, spec string) (func(), error) {
	logger := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			if errors.Is(err, ErrCrawlInProgress) {
				s.log.InfoContext(ctx, "scheduled crawl skipped", "reason", err)
				return
			}
			s.log.ErrorContext(ctx, "scheduled crawl failed", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid crawl schedule %q: %w", spec, err)
	}
	c.Start()
	s.log.Info("crawl schedule registered", "schedule", spec)
	return func() { <-c.Stop().Done() }, nil
}

type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
