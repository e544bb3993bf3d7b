package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fr0stylo/docmirror/internal/adapters/sqlstore"
	"github.com/fr0stylo/docmirror/internal/app/services"
	"github.com/fr0stylo/docmirror/internal/bootstrap"
	"github.com/fr0stylo/docmirror/internal/config"
)

const dlqPurgeInterval = time.Hour

func Run() error {
	log := bootstrap.Logger()

	cfg, err := config.LoadForWorker()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := bootstrap.Telemetry(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer shutdownTelemetry()

	database, err := bootstrap.Database(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("Failed to close database", "error", err)
		}
	}()

	reconciler, source, store, err := bootstrap.Reconciler(ctx, cfg, database)
	if err != nil {
		return err
	}
	locker, closeLocker, err := bootstrap.Locker(cfg, database)
	if err != nil {
		return err
	}
	defer closeLocker()

	queue := bootstrap.Queue(cfg, database)
	worker := services.NewWorker(queue, reconciler, services.WorkerOptions{
		Concurrency:       cfg.Worker.Concurrency,
		PollInterval:      cfg.Queue.PollInterval,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		DepthInterval:     15 * time.Second,
	})

	if cfg.Worker.CrawlSchedule != "" && len(cfg.Worker.RootFolderIDs) > 0 {
		scheduler := services.NewScheduler(
			services.NewCrawler(source, store, reconciler),
			locker,
			bootstrap.Holder(),
			cfg.Worker.CrawlLeaseTTL,
			services.CrawlOptions{RootFolderIDs: cfg.Worker.RootFolderIDs, SkipExisting: cfg.Worker.SkipExisting},
		)
		stopScheduler, err := scheduler.Start(ctx, cfg.Worker.CrawlSchedule)
		if err != nil {
			return err
		}
		defer stopScheduler()
	} else {
		slog.Info("Scheduled crawl disabled", "schedule", cfg.Worker.CrawlSchedule, "roots", len(cfg.Worker.RootFolderIDs))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(ctx)
	})
	g.Go(func() error {
		return bootstrap.MetricsServer(ctx, cfg.Server.MetricsPort)
	})
	g.Go(func() error {
		purgeDeadLetters(ctx, queue)
		return nil
	})

	slog.Info("Starting worker",
		"queue", cfg.Queue.Name,
		"concurrency", cfg.Worker.Concurrency,
		"max_receive_count", cfg.Queue.MaxReceiveCount,
		"mirror", cfg.Mirror.URL,
	)
	return g.Wait()
}

func purgeDeadLetters(ctx context.Context, queue *sqlstore.Queue) {
	ticker := time.NewTicker(dlqPurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		purged, err := queue.PurgeExpired(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("Failed to purge expired queue records", "error", err)
			}
			continue
		}
		if purged > 0 {
			slog.Info("Purged expired queue records", "count", purged)
		}
	}
}

func main() {
	if err := Run(); err != nil {
		slog.Error("worker exited", "error", err)
		os.Exit(1)
	}
}
