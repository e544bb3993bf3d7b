package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fr0stylo/docmirror/internal/adapters/sqlstore"
	"github.com/fr0stylo/docmirror/internal/app/ports"
)

type acquireCountingLocker struct {
	ports.Locker
	mu       sync.Mutex
	acquires int
}

func (l *acquireCountingLocker) TryAcquire(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	l.acquires++
	l.mu.Unlock()
	return l.Locker.TryAcquire(ctx, name, holder, ttl)
}

func (l *acquireCountingLocker) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquires
}

func TestSchedulerSkipsWhileAnotherHolderHasLease(t *testing.T) {
	h := newHarness(t)
	h.source.addFolder(crawlRoot, "Knowledge Base")
	h.source.addFile("1", "a.pdf", "a", crawlRoot)
	locker := sqlstore.NewLocker(h.database)
	ctx := context.Background()

	acquired, err := locker.TryAcquire(ctx, CrawlLeaseName, "worker-b", time.Hour)
	require.NoError(t, err)
	require.True(t, acquired)

	scheduler := NewScheduler(NewCrawler(h.source, h.store, h.reconciler), locker, "worker-a", time.Hour, CrawlOptions{RootFolderIDs: []string{crawlRoot}})
	_, err = scheduler.RunOnce(ctx)
	require.ErrorIs(t, err, ErrCrawlInProgress)
	assert.Empty(t, h.mirror.Keys())

	require.NoError(t, locker.Release(ctx, CrawlLeaseName, "worker-b"))

	report, err := scheduler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Reconciled)

	acquired, err = locker.TryAcquire(ctx, CrawlLeaseName, "worker-b", time.Hour)
	require.NoError(t, err)
	assert.True(t, acquired, "lease is released after the crawl")
}

func TestSchedulerRejectsInvalidSchedule(t *testing.T) {
	h := newHarness(t)
	scheduler := NewScheduler(NewCrawler(h.source, h.store, h.reconciler), sqlstore.NewLocker(h.database), "worker-a", 0, CrawlOptions{})

	_, err := scheduler.Start(context.Background(), "every tuesday")
	assert.Error(t, err)
}

func TestSchedulerStartAndStop(t *testing.T) {
	h := newHarness(t)
	scheduler := NewScheduler(NewCrawler(h.source, h.store, h.reconciler), sqlstore.NewLocker(h.database), "worker-a", 0, CrawlOptions{})

	stop, err := scheduler.Start(context.Background(), "@every 1h")
	require.NoError(t, err)
	stop()
}

func TestSchedulerRenewsLeaseDuringLongCrawl(t *testing.T) {
	h := newHarness(t)
	h.source.addFolder(crawlRoot, "Knowledge Base")
	h.source.addFile("1", "a.pdf", "a", crawlRoot)
	h.source.hookDownload(func(string) {
		time.Sleep(250 * time.Millisecond)
	})
	locker := &acquireCountingLocker{Locker: sqlstore.NewLocker(h.database)}
	scheduler := NewScheduler(NewCrawler(h.source, h.store, h.reconciler), locker, "worker-a", 90*time.Millisecond, CrawlOptions{RootFolderIDs: []string{crawlRoot}})

	report, err := scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Reconciled)
	assert.GreaterOrEqual(t, locker.count(), 3, "initial acquire plus renewals")
}

func TestSchedulerStopsCrawlWhenLeaseIsTaken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.source.addFolder(crawlRoot, "Knowledge Base")
	h.source.addFile("1", "a.pdf", "a", crawlRoot)
	locker := sqlstore.NewLocker(h.database)
	h.source.hookDownload(func(string) {
		require.NoError(t, locker.Release(ctx, CrawlLeaseName, "worker-a"))
		acquired, err := locker.TryAcquire(ctx, CrawlLeaseName, "worker-b", time.Hour)
		require.NoError(t, err)
		require.True(t, acquired)
		time.Sleep(150 * time.Millisecond)
	})
	scheduler := NewScheduler(NewCrawler(h.source, h.store, h.reconciler), locker, "worker-a", 60*time.Millisecond, CrawlOptions{RootFolderIDs: []string{crawlRoot}})

	_, err := scheduler.RunOnce(ctx)
	require.ErrorIs(t, err, ErrCrawlLeaseLost)

	acquired, err := locker.TryAcquire(ctx, CrawlLeaseName, "worker-c", time.Hour)
	require.NoError(t, err)
	assert.False(t, acquired, "the new holder keeps its lease")
}
