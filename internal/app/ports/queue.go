package ports

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStaleReceipt indicates a delete or visibility change with a receipt that no longer owns the message.
	ErrStaleReceipt = errors.New("stale receipt handle")
	// ErrDeadLetterNotFound indicates an unknown dead letter id.
	ErrDeadLetterNotFound = errors.New("dead letter not found")
)

// SendInput is one message offered to the queue.
type SendInput struct {
	Body    []byte
	GroupID string
	// DedupID defaults to a content hash of Body.
	DedupID string
}

// SendResult reports the queue's decision for a send.
type SendResult struct {
	MessageID int64
	Duplicate bool
}

// Delivery is one received message with its receipt.
type Delivery struct {
	MessageID     int64
	GroupID       string
	Body          []byte
	ReceiveCount  int
	ReceiptHandle string
	SentAt        time.Time
	// VisibleUntil is when the claim lapses unless extended with ChangeVisibility.
	VisibleUntil time.Time
}

// QueueSender is the intake side of the notification queue.
type QueueSender interface {
	Send(ctx context.Context, input SendInput) (SendResult, error)
}

// Queue is the ordered, deduplicating, at-least-once notification queue.
type Queue interface {
	QueueSender
	Receive(ctx context.Context, max int) ([]Delivery, error)
	Delete(ctx context.Context, receiptHandle string) error
	ChangeVisibility(ctx context.Context, receiptHandle string, timeout time.Duration) error
	Depth(ctx context.Context) (QueueDepth, error)
}

// QueueDepth is a point-in-time view of queue backlog.
type QueueDepth struct {
	Visible  int64
	InFlight int64
}

// DeadLetter is a message that exhausted its receive budget.
type DeadLetter struct {
	ID           int64
	MessageID    int64
	GroupID      string
	Body         []byte
	ReceiveCount int
	SentAt       time.Time
	DeadAt       time.Time
}

// DeadLetterQueue holds failed messages for inspection and redrive.
type DeadLetterQueue interface {
	List(ctx context.Context, limit int) ([]DeadLetter, error)
	Redrive(ctx context.Context, ids []int64) (int, error)
	PurgeExpired(ctx context.Context) (int64, error)
}
