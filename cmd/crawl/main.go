package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fr0stylo/docmirror/internal/app/services"
	"github.com/fr0stylo/docmirror/internal/bootstrap"
	"github.com/fr0stylo/docmirror/internal/config"
)

func Run() error {
	log := bootstrap.Logger()

	cfg, err := config.LoadForWorker()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	skipExisting := flag.Bool("skip-existing", cfg.Worker.SkipExisting, "leave items already in the metadata store untouched")
	roots := flag.String("roots", strings.Join(cfg.Worker.RootFolderIDs, ","), "comma-separated root folder ids")
	flag.Parse()

	rootIDs := splitIDs(*roots)
	if len(rootIDs) == 0 {
		return fmt.Errorf("no root folder ids: set BOX_ROOT_FOLDER_IDS or -roots")
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

	scheduler := services.NewScheduler(
		services.NewCrawler(source, store, reconciler),
		locker,
		bootstrap.Holder(),
		cfg.Worker.CrawlLeaseTTL,
		services.CrawlOptions{RootFolderIDs: rootIDs, SkipExisting: *skipExisting},
	)
	report, err := scheduler.RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("visited=%d reconciled=%d skipped=%d failed=%d duration=%s\n",
		report.Visited, report.Reconciled, report.Skipped, report.Failed, report.Duration)
	return nil
}

func splitIDs(raw string) []string {
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func main() {
	if err := Run(); err != nil {
		slog.Error("crawl failed", "error", err)
		os.Exit(1)
	}
}
