package sqlstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fr0stylo/docmirror/internal/app/ports"
	"github.com/fr0stylo/docmirror/internal/db"
	"github.com/fr0stylo/docmirror/internal/db/queries"
)

// DefaultGroupID is used when a sender does not name a message group.
const DefaultGroupID = "default"

// QueueOptions configures delivery semantics.
type QueueOptions struct {
	Name              string
	VisibilityTimeout time.Duration
	DedupWindow       time.Duration
	MaxReceiveCount   int
	DLQRetention      time.Duration
	// Now overrides the clock; tests use it to expire visibility windows.
	Now func() time.Time
}

// Queue is a FIFO queue with message groups, content deduplication,
// visibility timeouts and a dead-letter table, stored in the metadata database.
//
// Only the oldest message of a group is deliverable, and only while no
// receiver holds it, so a group is processed strictly in send order.
type Queue struct {
	db   *db.Database
	opts QueueOptions
	now  func() time.Time
	log  *slog.Logger
}

// NewQueue creates a queue over the shared database handle.
func NewQueue(database *db.Database, opts QueueOptions) *Queue {
	if strings.TrimSpace(opts.Name) == "" {
		opts.Name = "box-notifications"
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 30 * time.Second
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = 5 * time.Minute
	}
	if opts.MaxReceiveCount <= 0 {
		opts.MaxReceiveCount = 5
	}
	if opts.DLQRetention <= 0 {
		opts.DLQRetention = 14 * 24 * time.Hour
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Queue{db: database, opts: opts, now: now, log: slog.Default().With("queue", opts.Name)}
}

// ContentDedupID derives the deduplication id from a message body.
func ContentDedupID(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Send enqueues a message unless an identical one was sent within the dedup window.
func (q *Queue) Send(ctx context.Context, input ports.SendInput) (ports.SendResult, error) {
	if len(input.Body) == 0 {
		return ports.SendResult{}, errors.New("empty message body")
	}
	groupID := strings.TrimSpace(input.GroupID)
	if groupID == "" {
		groupID = DefaultGroupID
	}
	dedupID := strings.TrimSpace(input.DedupID)
	if dedupID == "" {
		dedupID = ContentDedupID(input.Body)
	}

	now := q.now()
	var result ports.SendResult
	err := q.db.WithTx(ctx, func(tx *queries.Queries) error {
		claimed, err := tx.ClaimDedupID(ctx, queries.ClaimDedupIDParams{
			QueueName: q.opts.Name,
			DedupID:   dedupID,
			ExpiresAt: now.Add(q.opts.DedupWindow).UnixMilli(),
			Now:       now.UnixMilli(),
		})
		if err != nil {
			return fmt.Errorf("claim dedup id: %w", err)
		}
		if claimed == 0 {
			result.Duplicate = true
			return nil
		}
		id, err := tx.EnqueueMessage(ctx, queries.EnqueueMessageParams{
			QueueName: q.opts.Name,
			GroupID:   groupID,
			DedupID:   dedupID,
			Body:      input.Body,
			VisibleAt: now.UnixMilli(),
			SentAt:    now.UnixMilli(),
		})
		if err != nil {
			return fmt.Errorf("enqueue message: %w", err)
		}
		result.MessageID = id
		return nil
	})
	if err != nil {
		return ports.SendResult{}, err
	}

	outcome := "enqueued"
	if result.Duplicate {
		outcome = "duplicate"
	}
	queueSendTotal.WithLabelValues(q.opts.Name, outcome).Inc()
	return result, nil
}

// Receive claims up to max group heads. Heads that exhausted their receive
// budget are moved to the dead-letter table instead of being delivered.
func (q *Queue) Receive(ctx context.Context, max int) ([]ports.Delivery, error) {
	if max <= 0 {
		max = 1
	}
	now := q.now()
	deliveries := make([]ports.Delivery, 0, max)
	// Dead-lettering a head exposes the next message of its group, so list again.
	for pass := 0; pass < 3 && len(deliveries) < max; pass++ {
		heads, err := q.db.ListDeliverableHeads(ctx, queries.ListDeliverableHeadsParams{
			QueueName: q.opts.Name,
			Now:       now.UnixMilli(),
			Limit:     int64(max - len(deliveries)),
		})
		if err != nil {
			return deliveries, fmt.Errorf("list deliverable messages: %w", err)
		}

		deadLettered := false
		for _, head := range heads {
			if int(head.ReceiveCount) >= q.opts.MaxReceiveCount {
				if err := q.deadLetter(ctx, head, now); err != nil {
					return deliveries, err
				}
				deadLettered = true
				continue
			}

			receipt := uuid.NewString()
			visibleUntil := now.Add(q.opts.VisibilityTimeout)
			claimed, err := q.db.ClaimMessage(ctx, queries.ClaimMessageParams{
				VisibleAt:     visibleUntil.UnixMilli(),
				ReceiptHandle: receipt,
				ID:            head.ID,
				Now:           now.UnixMilli(),
			})
			if err != nil {
				return deliveries, fmt.Errorf("claim message %d: %w", head.ID, err)
			}
			if claimed == 0 {
				continue
			}
			deliveries = append(deliveries, ports.Delivery{
				MessageID:     head.ID,
				GroupID:       head.GroupID,
				Body:          head.Body,
				ReceiveCount:  int(head.ReceiveCount) + 1,
				ReceiptHandle: receipt,
				SentAt:        time.UnixMilli(head.SentAt),
				VisibleUntil:  visibleUntil,
			})
		}
		if !deadLettered {
			break
		}
	}
	return deliveries, nil
}

func (q *Queue) deadLetter(ctx context.Context, head queries.QueueMessage, now time.Time) error {
	moved := false
	err := q.db.WithTx(ctx, func(tx *queries.Queries) error {
		// Claiming first makes concurrent receivers agree on a single mover.
		claimed, err := tx.ClaimMessage(ctx, queries.ClaimMessageParams{
			VisibleAt:     now.Add(q.opts.VisibilityTimeout).UnixMilli(),
			ReceiptHandle: uuid.NewString(),
			ID:            head.ID,
			Now:           now.UnixMilli(),
		})
		if err != nil || claimed == 0 {
			return err
		}
		if _, err := tx.InsertDeadLetter(ctx, queries.InsertDeadLetterParams{
			QueueName:      q.opts.Name,
			OriginalID:     head.ID,
			GroupID:        head.GroupID,
			DedupID:        head.DedupID,
			Body:           head.Body,
			ReceiveCount:   head.ReceiveCount,
			SentAt:         head.SentAt,
			DeadLetteredAt: now.UnixMilli(),
			ExpiresAt:      now.Add(q.opts.DLQRetention).UnixMilli(),
		}); err != nil {
			return err
		}
		if err := tx.DeleteMessage(ctx, head.ID); err != nil {
			return err
		}
		moved = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("dead-letter message %d: %w", head.ID, err)
	}
	if moved {
		queueDeadLetteredTotal.WithLabelValues(q.opts.Name).Inc()
		q.log.Warn("message moved to dead-letter queue", "message_id", head.ID, "group_id", head.GroupID, "receive_count", head.ReceiveCount)
	}
	return nil
}

// Delete acknowledges a delivery.
func (q *Queue) Delete(ctx context.Context, receiptHandle string) error {
	deleted, err := q.db.DeleteMessageByReceipt(ctx, queries.DeleteMessageByReceiptParams{
		QueueName:     q.opts.Name,
		ReceiptHandle: receiptHandle,
	})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if deleted == 0 {
		return ports.ErrStaleReceipt
	}
	return nil
}

// ChangeVisibility extends or shortens the hold on a delivery. A zero
// timeout makes it immediately available again.
func (q *Queue) ChangeVisibility(ctx context.Context, receiptHandle string, timeout time.Duration) error {
	if timeout < 0 {
		timeout = 0
	}
	changed, err := q.db.ChangeMessageVisibility(ctx, queries.ChangeMessageVisibilityParams{
		VisibleAt:     q.now().Add(timeout).UnixMilli(),
		QueueName:     q.opts.Name,
		ReceiptHandle: receiptHandle,
	})
	if err != nil {
		return fmt.Errorf("change visibility: %w", err)
	}
	if changed == 0 {
		return ports.ErrStaleReceipt
	}
	return nil
}

// Depth reports queued and in-flight message counts.
func (q *Queue) Depth(ctx context.Context) (ports.QueueDepth, error) {
	total, err := q.db.CountMessages(ctx, q.opts.Name)
	if err != nil {
		return ports.QueueDepth{}, err
	}
	inFlight, err := q.db.CountInFlightMessages(ctx, queries.CountInFlightMessagesParams{
		QueueName: q.opts.Name,
		Now:       q.now().UnixMilli(),
	})
	if err != nil {
		return ports.QueueDepth{}, err
	}
	return ports.QueueDepth{Visible: total - inFlight, InFlight: inFlight}, nil
}

// List returns dead letters in arrival order.
func (q *Queue) List(ctx context.Context, limit int) ([]ports.DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.ListDeadLetters(ctx, queries.ListDeadLettersParams{QueueName: q.opts.Name, Limit: int64(limit)})
	if err != nil {
		return nil, err
	}
	out := make([]ports.DeadLetter, 0, len(rows))
	for _, row := range rows {
		out = append(out, ports.DeadLetter{
			ID:           row.ID,
			MessageID:    row.OriginalID,
			GroupID:      row.GroupID,
			Body:         row.Body,
			ReceiveCount: int(row.ReceiveCount),
			SentAt:       time.UnixMilli(row.SentAt),
			DeadAt:       time.UnixMilli(row.DeadLetteredAt),
		})
	}
	return out, nil
}

// Redrive returns dead letters to the tail of their group with a fresh receive budget.
func (q *Queue) Redrive(ctx context.Context, ids []int64) (int, error) {
	redriven := 0
	for _, id := range ids {
		now := q.now()
		err := q.db.WithTx(ctx, func(tx *queries.Queries) error {
			letter, err := tx.GetDeadLetter(ctx, id)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return fmt.Errorf("%w: %d", ports.ErrDeadLetterNotFound, id)
				}
				return err
			}
			if letter.QueueName != q.opts.Name {
				return fmt.Errorf("%w: %d", ports.ErrDeadLetterNotFound, id)
			}
			if _, err := tx.EnqueueMessage(ctx, queries.EnqueueMessageParams{
				QueueName: q.opts.Name,
				GroupID:   letter.GroupID,
				DedupID:   letter.DedupID,
				Body:      letter.Body,
				VisibleAt: now.UnixMilli(),
				SentAt:    now.UnixMilli(),
			}); err != nil {
				return err
			}
			_, err = tx.DeleteDeadLetter(ctx, id)
			return err
		})
		if err != nil {
			return redriven, fmt.Errorf("redrive dead letter: %w", err)
		}
		redriven++
		queueRedrivenTotal.WithLabelValues(q.opts.Name).Inc()
	}
	return redriven, nil
}

// PurgeExpired drops dead letters past retention and stale dedup records.
func (q *Queue) PurgeExpired(ctx context.Context) (int64, error) {
	now := q.now().UnixMilli()
	if _, err := q.db.PurgeExpiredDedup(ctx, now); err != nil {
		return 0, fmt.Errorf("purge dedup records: %w", err)
	}
	purged, err := q.db.PurgeExpiredDeadLetters(ctx, queries.PurgeExpiredDeadLettersParams{QueueName: q.opts.Name, Now: now})
	if err != nil {
		return 0, fmt.Errorf("purge dead letters: %w", err)
	}
	return purged, nil
}

var (
	_ ports.Queue           = (*Queue)(nil)
	_ ports.DeadLetterQueue = (*Queue)(nil)
)
