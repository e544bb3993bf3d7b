package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fr0stylo/docmirror/internal/app/domain"
	"github.com/fr0stylo/docmirror/internal/app/ports"
)

// CrawlOptions controls one full crawl.
type CrawlOptions struct {
	RootFolderIDs []string
	// SkipExisting leaves items already in the metadata store untouched,
	// but still descends into known folders.
	SkipExisting bool
}

// CrawlReport summarises a crawl.
type CrawlReport struct {
	Visited    int
	Reconciled int
	Skipped    int
	Failed     int
	Duration   time.Duration
}

// Crawler walks the source tree from configured roots and reconciles every item.
type Crawler struct {
	source     ports.Source
	store      ports.MetadataStore
	reconciler *Reconciler
	log        *slog.Logger
}

func NewCrawler(source ports.Source, store ports.MetadataStore, reconciler *Reconciler) *Crawler {
	return &Crawler{
		source:     source,
		store:      store,
		reconciler: reconciler,
		log:        slog.Default().With("component", "crawler"),
	}
}

// Run crawls each root. Per-item failures are counted and logged; the
// crawl continues and ends by rebuilding the manifest.
func (c *Crawler) Run(ctx context.Context, opts CrawlOptions) (CrawlReport, error) {
	started := time.Now()
	var report CrawlReport
	if len(opts.RootFolderIDs) == 0 {
		return report, errors.New("no root folder ids configured")
	}

	for _, rootID := range opts.RootFolderIDs {
		resolvedAt := c.reconciler.now()
		root, err := c.source.GetItem(ctx, domain.ItemRef{ID: rootID, Type: domain.SourceFolder})
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failed++
			crawlItemsTotal.WithLabelValues("failed").Inc()
			c.log.ErrorContext(ctx, "failed to resolve crawl root", "root_id", rootID, "error", err)
			continue
		}
		descend := c.visit(ctx, opts, root, resolvedAt, &report)
		if !descend {
			continue
		}
		err = walkFolder(ctx, c.source, c.reconciler.now, root.ID, func(child domain.SourceItem, listedAt time.Time) (bool, error) {
			return c.visit(ctx, opts, child, listedAt, &report), nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failed++
			crawlItemsTotal.WithLabelValues("failed").Inc()
			c.log.ErrorContext(ctx, "crawl walk aborted", "root_id", rootID, "error", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}
	if _, err := c.reconciler.Manifest().Rebuild(ctx, c.store); err != nil {
		return report, fmt.Errorf("rebuild manifest: %w", err)
	}
	report.Duration = time.Since(started)
	c.log.InfoContext(ctx, "full crawl finished",
		"visited", report.Visited,
		"reconciled", report.Reconciled,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"duration", report.Duration,
	)
	return report, nil
}

// visit reconciles one item as of listedAt and reports whether to descend into it.
func (c *Crawler) visit(ctx context.Context, opts CrawlOptions, item domain.SourceItem, listedAt time.Time, report *CrawlReport) bool {
	report.Visited++
	isFolder := item.Type == domain.SourceFolder

	if opts.SkipExisting {
		_, err := c.store.GetItem(ctx, item.ID)
		switch {
		case err == nil:
			report.Skipped++
			crawlItemsTotal.WithLabelValues("skipped").Inc()
			return isFolder
		case !errors.Is(err, ports.ErrItemNotFound):
			report.Failed++
			crawlItemsTotal.WithLabelValues("failed").Inc()
			c.log.ErrorContext(ctx, "failed to look up item", "item_id", item.ID, "error", err)
			return isFolder
		}
	}

	grants, err := c.source.ListCollaborations(ctx, item.Ref())
	if err != nil && !errors.Is(err, ports.ErrSourceItemGone) {
		report.Failed++
		crawlItemsTotal.WithLabelValues("failed").Inc()
		c.log.ErrorContext(ctx, "failed to list collaborations", "item_id", item.ID, "error", err)
		return isFolder
	}
	if errors.Is(err, ports.ErrSourceItemGone) {
		item.Status = "deleted"
	}

	outcome, err := c.reconciler.ReconcileResolved(ctx, item, grants, listedAt)
	if err != nil {
		report.Failed++
		crawlItemsTotal.WithLabelValues("failed").Inc()
		c.log.ErrorContext(ctx, "failed to reconcile item", "item_id", item.ID, "stage", FailedStage(err), "error", err)
		return isFolder
	}
	switch outcome {
	case OutcomeSkipped:
		report.Skipped++
	default:
		report.Reconciled++
	}
	crawlItemsTotal.WithLabelValues(string(outcome)).Inc()
	return isFolder && outcome == OutcomeUpserted
}
