package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fr0stylo/docmirror/internal/adapters/sqlstore"
	"github.com/fr0stylo/docmirror/internal/app/domain"
	"github.com/fr0stylo/docmirror/internal/app/ports"
)

func newTestWorker(t *testing.T, h *harness, maxReceive int) (*Worker, *sqlstore.Queue, *testClock) {
	t.Helper()
	clock := h.clock
	queue := sqlstore.NewQueue(h.database, sqlstore.QueueOptions{
		Name:              "box-notifications",
		VisibilityTimeout: 30 * time.Second,
		DedupWindow:       5 * time.Minute,
		MaxReceiveCount:   maxReceive,
		DLQRetention:      time.Hour,
		Now:               clock.Now,
	})
	worker := NewWorker(queue, h.reconciler, WorkerOptions{BatchSize: 10, VisibilityTimeout: 30 * time.Second, Now: clock.Now})
	return worker, queue, clock
}

func enqueue(t *testing.T, queue ports.QueueSender, body string) ports.SendResult {
	t.Helper()
	result, err := queue.Send(context.Background(), ports.SendInput{Body: []byte(body), GroupID: SharedGroupID})
	require.NoError(t, err)
	return result
}

func TestWorkerAcknowledgesAfterApplyingItem(t *testing.T) {
	h := newHarness(t)
	worker, queue, _ := newTestWorker(t, h, 5)
	h.source.addFolder("0", "All Files")
	h.source.addFile("42", "a.pdf", "a", "0")
	enqueue(t, queue, uploadedNotification)

	processed, err := worker.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	depth, err := queue.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ports.QueueDepth{}, depth)

	item, err := h.store.GetItem(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "docs/0/42", item.MirrorKey)
}

func TestWorkerDiscardsUndecodableNotifications(t *testing.T) {
	h := newHarness(t)
	worker, queue, _ := newTestWorker(t, h, 5)
	enqueue(t, queue, `{"trigger":"WEBHOOK.PING","source":{"id":"1"}}`)
	enqueue(t, queue, `[1,2,3]`)

	processed, err := worker.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed, "group order hands out one message at a time")
	processed, err = worker.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	depth, err := queue.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ports.QueueDepth{}, depth)
	assert.Empty(t, h.mirror.Keys())
}

func TestWorkerRedeliversAfterTransientFailure(t *testing.T) {
	h := newHarness(t)
	worker, queue, clock := newTestWorker(t, h, 5)
	h.source.addFolder("0", "All Files")
	h.source.addFile("42", "a.pdf", "a", "0")
	h.source.fail("42", errSourceDown)
	enqueue(t, queue, uploadedNotification)

	processed, err := worker.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	depth, err := queue.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth.InFlight)

	_, err = h.store.GetItem(context.Background(), "42")
	assert.ErrorIs(t, err, ports.ErrItemNotFound)

	h.source.fail("42", nil)
	clock.Advance(31 * time.Second)

	processed, err = worker.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	depth, err = queue.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ports.QueueDepth{}, depth)
	_, err = h.store.GetItem(context.Background(), "42")
	assert.NoError(t, err)
}

func TestWorkerDeadLettersAfterMaxReceiveCount(t *testing.T) {
	h := newHarness(t)
	worker, queue, clock := newTestWorker(t, h, 2)
	h.source.addFolder("0", "All Files")
	h.source.addFile("42", "a.pdf", "a", "0")
	h.source.fail("42", errSourceDown)
	enqueue(t, queue, uploadedNotification)

	for attempt := 0; attempt < 2; attempt++ {
		processed, err := worker.Drain(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, processed, "attempt %d", attempt)
		clock.Advance(31 * time.Second)
	}

	processed, err := worker.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, processed)

	letters, err := queue.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, uploadedNotification, string(letters[0].Body))
	assert.Equal(t, 2, letters[0].ReceiveCount)

	depth, err := queue.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ports.QueueDepth{}, depth)

	_, err = h.store.GetItem(context.Background(), "42")
	assert.ErrorIs(t, err, ports.ErrItemNotFound)
	assert.Empty(t, h.mirror.Keys())
}

func TestWorkerProcessesDuplicateDeliveryOnce(t *testing.T) {
	h := newHarness(t)
	worker, queue, _ := newTestWorker(t, h, 5)
	h.source.addFolder("0", "All Files")
	h.source.addFile("42", "a.pdf", "a", "0")

	first := enqueue(t, queue, uploadedNotification)
	second := enqueue(t, queue, uploadedNotification)
	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)

	processed, err := worker.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	processed, err = worker.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Equal(t, 1, h.source.downloadCount("42"))
}

func TestWorkerAppliesNotificationsInArrivalOrder(t *testing.T) {
	h := newHarness(t)
	worker, queue, _ := newTestWorker(t, h, 5)
	h.source.addFolder("0", "All Files")
	h.source.addFile("42", "a.pdf", "a", "0")
	enqueue(t, queue, uploadedNotification)
	enqueue(t, queue, `{"id":"evt-2","trigger":"FILE.TRASHED","source":{"id":"42","type":"file"}}`)

	processed, err := worker.Drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, processed)
	h.source.remove("42")
	processed, err = worker.Drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, processed)

	item, err := h.store.GetItem(context.Background(), "42")
	require.NoError(t, err)
	assert.True(t, item.Tombstoned())
}

func sendForItem(t *testing.T, queue ports.QueueSender, body string) {
	t.Helper()
	_, err := queue.Send(context.Background(), ports.SendInput{Body: []byte(body), GroupID: domain.PeekGroupKey([]byte(body))})
	require.NoError(t, err)
}

func fileNotification(event, trigger, id string) string {
	return `{"id":"` + event + `","trigger":"` + trigger + `","source":{"id":"` + id + `","type":"file"}}`
}

func TestWorkerKeepsPerItemOrderAcrossGroups(t *testing.T) {
	h := newHarness(t)
	worker, queue, _ := newTestWorker(t, h, 5)
	ctx := context.Background()
	h.source.addFolder("0", "All Files")
	h.source.addFile("42", "a.pdf", "a", "0")
	h.source.addFile("43", "b.pdf", "b", "0")
	sendForItem(t, queue, fileNotification("evt-1", "FILE.UPLOADED", "42"))
	sendForItem(t, queue, fileNotification("evt-2", "FILE.UPLOADED", "43"))
	sendForItem(t, queue, fileNotification("evt-3", "FILE.TRASHED", "42"))

	processed, err := worker.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, processed, "one head per item group")
	for _, id := range []string{"42", "43"} {
		item, err := h.store.GetItem(ctx, id)
		require.NoError(t, err, id)
		assert.False(t, item.Tombstoned(), id)
	}

	h.source.remove("42")
	processed, err = worker.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	item, err := h.store.GetItem(ctx, "42")
	require.NoError(t, err)
	assert.True(t, item.Tombstoned())
	depth, err := queue.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, ports.QueueDepth{}, depth)
}

func TestWorkerSkipsDeliveriesWhoseClaimLapsedMidBatch(t *testing.T) {
	h := newHarness(t)
	worker, queue, clock := newTestWorker(t, h, 5)
	ctx := context.Background()
	h.source.addFolder("0", "All Files")
	h.source.addFile("42", "a.pdf", "a", "0")
	h.source.addFile("43", "b.pdf", "b", "0")
	sendForItem(t, queue, fileNotification("evt-1", "FILE.UPLOADED", "42"))
	sendForItem(t, queue, fileNotification("evt-2", "FILE.UPLOADED", "43"))

	var reclaimed []ports.Delivery
	h.source.hookDownload(func(id string) {
		if id != "42" || reclaimed != nil {
			return
		}
		clock.Advance(31 * time.Second)
		var err error
		reclaimed, err = queue.Receive(ctx, 10)
		require.NoError(t, err)
	})

	processed, err := worker.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)
	require.Len(t, reclaimed, 2, "a second consumer claims both lapsed messages")
	assert.Equal(t, 0, h.source.downloadCount("43"), "the lapsed delivery must not be processed")

	h.source.hookDownload(nil)
	for _, delivery := range reclaimed {
		require.NoError(t, worker.Process(ctx, delivery))
	}
	assert.Equal(t, 1, h.source.downloadCount("43"))
	depth, err := queue.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, ports.QueueDepth{}, depth)
}

func TestWorkerProcessRejectsExpiredDelivery(t *testing.T) {
	h := newHarness(t)
	worker, queue, clock := newTestWorker(t, h, 5)
	h.source.addFolder("0", "All Files")
	h.source.addFile("42", "a.pdf", "a", "0")
	enqueue(t, queue, uploadedNotification)

	deliveries, err := queue.Receive(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, testNow.Add(30*time.Second), deliveries[0].VisibleUntil)

	clock.Advance(30 * time.Second)
	err = worker.Process(context.Background(), deliveries[0])
	assert.ErrorIs(t, err, ErrDeliveryExpired)
	assert.Equal(t, 0, h.source.downloadCount("42"))
}

type extensionCountingQueue struct {
	ports.Queue
	mu         sync.Mutex
	extensions int
}

func (q *extensionCountingQueue) ChangeVisibility(ctx context.Context, receiptHandle string, timeout time.Duration) error {
	q.mu.Lock()
	q.extensions++
	q.mu.Unlock()
	return q.Queue.ChangeVisibility(ctx, receiptHandle, timeout)
}

func (q *extensionCountingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.extensions
}

func TestWorkerExtendsClaimWhileReconciling(t *testing.T) {
	h := newHarness(t)
	queue := &extensionCountingQueue{Queue: sqlstore.NewQueue(h.database, sqlstore.QueueOptions{
		Name:              "box-notifications",
		VisibilityTimeout: 200 * time.Millisecond,
		MaxReceiveCount:   5,
	})}
	worker := NewWorker(queue, h.reconciler, WorkerOptions{VisibilityTimeout: 200 * time.Millisecond})
	h.source.addFolder("0", "All Files")
	h.source.addFile("42", "a.pdf", "a", "0")
	enqueue(t, queue, uploadedNotification)
	h.source.hookDownload(func(string) {
		time.Sleep(500 * time.Millisecond)
	})

	processed, err := worker.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.GreaterOrEqual(t, queue.count(), 2, "claim extended while the download ran")

	depth, err := queue.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ports.QueueDepth{}, depth, "the message is acknowledged with its original receipt")
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	worker := NewWorker(sqlstore.NewQueue(h.database, sqlstore.QueueOptions{}), h.reconciler, WorkerOptions{
		Concurrency:   2,
		PollInterval:  10 * time.Millisecond,
		DepthInterval: 10 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	assert.NoError(t, worker.Run(ctx))
}
