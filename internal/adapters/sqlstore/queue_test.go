package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fr0stylo/docmirror/internal/app/ports"
	"github.com/fr0stylo/docmirror/internal/db"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func openTestDatabase(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "queue-test"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func newTestQueue(t *testing.T, maxReceive int) (*Queue, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)}
	q := NewQueue(openTestDatabase(t), QueueOptions{
		Name:              "box-notifications",
		VisibilityTimeout: 30 * time.Second,
		DedupWindow:       5 * time.Minute,
		MaxReceiveCount:   maxReceive,
		DLQRetention:      time.Hour,
		Now:               clock.Now,
	})
	return q, clock
}

func TestQueueDeduplicatesWithinWindow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, clock := newTestQueue(t, 5)
	body := []byte(`{"trigger":"FILE.UPLOADED","source":{"id":"42","type":"file"}}`)

	first, err := q.Send(ctx, ports.SendInput{Body: body, GroupID: "box"})
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := q.Send(ctx, ports.SendInput{Body: body, GroupID: "box"})
	require.NoError(t, err)
	require.True(t, second.Duplicate)

	clock.Advance(5*time.Minute + time.Second)
	third, err := q.Send(ctx, ports.SendInput{Body: body, GroupID: "box"})
	require.NoError(t, err)
	require.False(t, third.Duplicate)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, depth.Visible)
}

func TestQueueDeliversGroupInOrderOneAtATime(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, _ := newTestQueue(t, 5)
	for _, body := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		_, err := q.Send(ctx, ports.SendInput{Body: []byte(body), GroupID: "box"})
		require.NoError(t, err)
	}
	_, err := q.Send(ctx, ports.SendInput{Body: []byte(`{"other":1}`), GroupID: "item:7"})
	require.NoError(t, err)

	batch, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 2, "one head per group")
	require.Equal(t, `{"n":1}`, string(batch[0].Body))
	require.Equal(t, "item:7", batch[1].GroupID)

	again, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, again, "groups with an in-flight head are blocked")

	require.NoError(t, q.Delete(ctx, batch[0].ReceiptHandle))
	next, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, next, 1)
	require.Equal(t, `{"n":2}`, string(next[0].Body))
}

func TestQueueRedeliversAfterVisibilityTimeout(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, clock := newTestQueue(t, 5)
	_, err := q.Send(ctx, ports.SendInput{Body: []byte(`{"n":1}`), GroupID: "box"})
	require.NoError(t, err)

	first, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Equal(t, 1, first[0].ReceiveCount)

	clock.Advance(31 * time.Second)
	second, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.Equal(t, 2, second[0].ReceiveCount)
	require.NotEqual(t, first[0].ReceiptHandle, second[0].ReceiptHandle)

	err = q.Delete(ctx, first[0].ReceiptHandle)
	require.True(t, errors.Is(err, ports.ErrStaleReceipt))
	require.NoError(t, q.Delete(ctx, second[0].ReceiptHandle))
}

func TestQueueChangeVisibilityReleasesMessage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, _ := newTestQueue(t, 5)
	_, err := q.Send(ctx, ports.SendInput{Body: []byte(`{"n":1}`)})
	require.NoError(t, err)

	batch, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.Equal(t, DefaultGroupID, batch[0].GroupID)

	require.NoError(t, q.ChangeVisibility(ctx, batch[0].ReceiptHandle, 0))
	again, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, again, 1)
}

func TestQueueMovesExhaustedMessageToDeadLetterAndRedrives(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, clock := newTestQueue(t, 2)
	poison := []byte(`{"trigger":"FILE.UPLOADED"}`)
	_, err := q.Send(ctx, ports.SendInput{Body: poison, GroupID: "box"})
	require.NoError(t, err)
	_, err = q.Send(ctx, ports.SendInput{Body: []byte(`{"n":2}`), GroupID: "box"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		batch, err := q.Receive(ctx, 1)
		require.NoError(t, err)
		require.Len(t, batch, 1)
		require.Equal(t, string(poison), string(batch[0].Body))
		clock.Advance(31 * time.Second)
	}

	batch, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.Equal(t, `{"n":2}`, string(batch[0].Body), "poison message no longer blocks the group")

	letters, err := q.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	require.Equal(t, string(poison), string(letters[0].Body))
	require.Equal(t, 2, letters[0].ReceiveCount)

	redriven, err := q.Redrive(ctx, []int64{letters[0].ID})
	require.NoError(t, err)
	require.Equal(t, 1, redriven)

	letters, err = q.List(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, letters)

	_, err = q.Redrive(ctx, []int64{9999})
	require.True(t, errors.Is(err, ports.ErrDeadLetterNotFound))
}

func TestQueuePurgesExpiredDeadLetters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, clock := newTestQueue(t, 1)
	_, err := q.Send(ctx, ports.SendInput{Body: []byte(`{"n":1}`)})
	require.NoError(t, err)

	_, err = q.Receive(ctx, 1)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	batch, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, batch)

	purged, err := q.PurgeExpired(ctx)
	require.NoError(t, err)
	require.Zero(t, purged)

	clock.Advance(2 * time.Hour)
	purged, err = q.PurgeExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, purged)
}
