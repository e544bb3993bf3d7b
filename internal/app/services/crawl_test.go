package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fr0stylo/docmirror/internal/app/domain"
	"github.com/fr0stylo/docmirror/internal/app/ports"
)

const crawlRoot = "283097226402"

// seedCrawlTree mirrors root, file 1 and folder 3, then adds file 2 and
// file 4 (inside 3) to the source only and renames file 1 at the source.
func seedCrawlTree(t *testing.T, h *harness) {
	t.Helper()
	ctx := context.Background()
	h.source.addFolder(crawlRoot, "Knowledge Base")
	h.source.addFile("1", "handbook.pdf", "v1", crawlRoot)
	h.source.addFolder("3", "Policies", crawlRoot)
	for _, ref := range []domain.ItemRef{
		{ID: crawlRoot, Type: domain.SourceFolder},
		{ID: "1", Type: domain.SourceFile},
		{ID: "3", Type: domain.SourceFolder},
	} {
		_, err := h.reconciler.Reconcile(ctx, ref)
		require.NoError(t, err)
	}

	h.source.addFile("2", "faq.md", "faq", crawlRoot)
	h.source.addFile("4", "travel.docx", "travel", crawlRoot, "3")
	renamed := h.source.items["1"]
	renamed.Name = "employee-handbook.pdf"
	h.source.items["1"] = renamed
}

func TestCrawlSkipExistingOnlyAddsNewItems(t *testing.T) {
	h := newHarness(t)
	seedCrawlTree(t, h)
	ctx := context.Background()
	before, err := h.store.GetItem(ctx, "1")
	require.NoError(t, err)

	report, err := NewCrawler(h.source, h.store, h.reconciler).Run(ctx, CrawlOptions{
		RootFolderIDs: []string{crawlRoot},
		SkipExisting:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, report.Visited)
	assert.Equal(t, 3, report.Skipped)
	assert.Equal(t, 2, report.Reconciled)
	assert.Equal(t, 0, report.Failed)

	after, err := h.store.GetItem(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, before, after, "existing rows must be left untouched")
	assert.Equal(t, 1, h.source.listingCount("1"))

	for id, key := range map[string]string{"2": "docs/283097226402/2", "4": "docs/283097226402/3/4"} {
		item, err := h.store.GetItem(ctx, id)
		require.NoError(t, err, id)
		assert.Equal(t, key, item.MirrorKey)
		assert.True(t, h.hasObject(t, key), key)
	}
	assert.Len(t, h.manifest(t).Entries(), 5)
}

func TestCrawlReconcilesEverythingWithoutSkipExisting(t *testing.T) {
	h := newHarness(t)
	seedCrawlTree(t, h)
	ctx := context.Background()

	report, err := NewCrawler(h.source, h.store, h.reconciler).Run(ctx, CrawlOptions{RootFolderIDs: []string{crawlRoot}})
	require.NoError(t, err)
	assert.Equal(t, 5, report.Visited)
	assert.Equal(t, 5, report.Reconciled)

	item, err := h.store.GetItem(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "employee-handbook.pdf", item.Name)
}

func TestCrawlContinuesPastItemFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.source.addFolder(crawlRoot, "Knowledge Base")
	h.source.addFile("1", "a.pdf", "a", crawlRoot)
	h.source.addFile("2", "b.pdf", "b", crawlRoot)
	delete(h.source.content, "1")

	report, err := NewCrawler(h.source, h.store, h.reconciler).Run(ctx, CrawlOptions{RootFolderIDs: []string{crawlRoot, "missing-root"}})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Failed, "one unreadable file and one unknown root")
	assert.Equal(t, 2, report.Reconciled)

	_, err = h.store.GetItem(ctx, "2")
	assert.NoError(t, err)
}

func TestCrawlDoesNotRestoreItemDeletedWhileDownloading(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ref := domain.ItemRef{ID: "1", Type: domain.SourceFile}
	h.source.addFolder(crawlRoot, "Knowledge Base")
	h.source.addFile("1", "a.pdf", "v1", crawlRoot)
	_, err := h.reconciler.Reconcile(ctx, ref)
	require.NoError(t, err)
	h.source.setContent("1", "v2")

	var (
		webhookOutcome Outcome
		webhookErr     error
	)
	h.source.hookDownload(func(id string) {
		if id != "1" || webhookOutcome != "" {
			return
		}
		h.clock.Advance(time.Second)
		h.source.remove("1")
		webhookOutcome, webhookErr = h.reconciler.Reconcile(ctx, ref)
	})

	report, err := NewCrawler(h.source, h.store, h.reconciler).Run(ctx, CrawlOptions{RootFolderIDs: []string{crawlRoot}})
	require.NoError(t, err)
	require.NoError(t, webhookErr)
	assert.Equal(t, OutcomeRemoved, webhookOutcome)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Failed)

	item, err := h.store.GetItem(ctx, "1")
	require.NoError(t, err)
	assert.True(t, item.Tombstoned())
	assert.False(t, h.hasObject(t, "docs/283097226402/1"))
	assert.False(t, h.hasObject(t, domain.SidecarKey("docs/283097226402/1")))
	_, listed := h.manifest(t).Lookup("memory://docs/283097226402/1")
	assert.False(t, listed)
}

func TestCrawlDropsNewItemDeletedWhileDownloading(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.source.addFolder(crawlRoot, "Knowledge Base")
	h.source.addFile("2", "faq.md", "faq", crawlRoot)
	h.source.hookDownload(func(id string) {
		if id == "2" {
			h.source.remove("2")
		}
	})

	report, err := NewCrawler(h.source, h.store, h.reconciler).Run(ctx, CrawlOptions{RootFolderIDs: []string{crawlRoot}})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)

	_, err = h.store.GetItem(ctx, "2")
	assert.ErrorIs(t, err, ports.ErrItemNotFound)
	assert.False(t, h.hasObject(t, "docs/283097226402/2"))
	assert.False(t, h.hasObject(t, domain.SidecarKey("docs/283097226402/2")))
}

func TestCrawlRestoresItemTombstonedBeforeListing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ref := domain.ItemRef{ID: "1", Type: domain.SourceFile}
	h.source.addFolder(crawlRoot, "Knowledge Base")
	h.source.addFile("1", "a.pdf", "v1", crawlRoot)
	_, err := h.reconciler.Reconcile(ctx, ref)
	require.NoError(t, err)
	_, err = h.reconciler.Remove(ctx, "1")
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	report, err := NewCrawler(h.source, h.store, h.reconciler).Run(ctx, CrawlOptions{RootFolderIDs: []string{crawlRoot}})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Reconciled)

	item, err := h.store.GetItem(ctx, "1")
	require.NoError(t, err)
	assert.False(t, item.Tombstoned())
	assert.True(t, h.hasObject(t, "docs/283097226402/1"))
}

func TestCrawlRequiresRoots(t *testing.T) {
	h := newHarness(t)

	_, err := NewCrawler(h.source, h.store, h.reconciler).Run(context.Background(), CrawlOptions{})
	assert.Error(t, err)
}
