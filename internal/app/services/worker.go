package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fr0stylo/docmirror/internal/app/domain"
	"github.com/fr0stylo/docmirror/internal/app/ports"
	"github.com/fr0stylo/docmirror/internal/observability"
)

// WorkerOptions configures the queue consumers.
type WorkerOptions struct {
	Concurrency       int
	BatchSize         int
	PollInterval      time.Duration
	VisibilityTimeout time.Duration
	// DepthInterval is how often the queue depth gauge refreshes; zero disables it.
	DepthInterval time.Duration
	// Now must agree with the queue's clock; claim expiry is judged by it.
	Now func() time.Time
}

// ErrDeliveryExpired reports a delivery whose claim lapsed before processing began.
var ErrDeliveryExpired = errors.New("delivery claim expired")

var errClaimLost = errors.New("delivery claim lost")

// Worker drains the notification queue through the reconciler.
type Worker struct {
	queue      ports.Queue
	reconciler *Reconciler
	opts       WorkerOptions
	log        *slog.Logger
}

func NewWorker(queue ports.Queue, reconciler *Reconciler, opts WorkerOptions) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Worker{
		queue:      queue,
		reconciler: reconciler,
		opts:       opts,
		log:        slog.Default().With("component", "worker"),
	}
}

// Run consumes until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.opts.Concurrency; i++ {
		consumer := i
		g.Go(func() error {
			return w.consume(ctx, consumer)
		})
	}
	if w.opts.DepthInterval > 0 {
		g.Go(func() error {
			w.reportDepth(ctx)
			return nil
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) consume(ctx context.Context, consumer int) error {
	log := w.log.With("consumer", consumer)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		processed, err := w.Drain(ctx)
		if err != nil && ctx.Err() == nil {
			log.ErrorContext(ctx, "failed to receive messages", "error", err)
		}
		if processed > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.opts.PollInterval):
		}
	}
}

// Drain receives one batch and processes it, returning how many messages were
// handled. Deliveries whose claim lapsed while earlier ones ran are skipped.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	deliveries, err := w.queue.Receive(ctx, w.opts.BatchSize)
	if err != nil {
		return 0, err
	}
	for _, delivery := range deliveries {
		_ = w.Process(ctx, delivery)
	}
	return len(deliveries), nil
}

// Process handles one delivery. It acknowledges only after the item is fully
// applied; any error leaves the message for redelivery.
func (w *Worker) Process(ctx context.Context, delivery ports.Delivery) error {
	started := time.Now()
	ctx = observability.WithMessageIdentity(ctx, delivery.MessageID)
	log := w.log.With("receive_count", delivery.ReceiveCount, "group_id", delivery.GroupID)

	if !delivery.VisibleUntil.IsZero() && !w.opts.Now().Before(delivery.VisibleUntil) {
		workerMessagesTotal.WithLabelValues("expired").Inc()
		log.WarnContext(ctx, "skipping delivery whose claim expired", "visible_until", delivery.VisibleUntil)
		return ErrDeliveryExpired
	}

	notification, err := domain.ParseNotification(delivery.Body)
	var ref domain.ItemRef
	if err == nil {
		ref, err = notification.Target()
	}
	if err != nil {
		log.WarnContext(ctx, "discarding notification", "error", err)
		return w.ack(ctx, delivery, "discarded", started)
	}

	ctx = observability.WithItemIdentity(ctx, ref.ID)
	processCtx, release := w.hold(ctx, delivery)
	outcome, err := w.reconciler.Reconcile(processCtx, ref)
	if cause := context.Cause(processCtx); err != nil && cause != nil && !errors.Is(cause, context.Canceled) {
		err = fmt.Errorf("%w: %w", cause, err)
	}
	release()
	if err != nil {
		workerMessagesTotal.WithLabelValues("failed").Inc()
		workerProcessingDuration.WithLabelValues("failed").Observe(time.Since(started).Seconds())
		log.ErrorContext(ctx, "failed to process notification",
			"trigger", notification.Trigger,
			"stage", FailedStage(err),
			"error", err,
		)
		return err
	}

	log.InfoContext(ctx, "notification processed", "trigger", notification.Trigger, "outcome", outcome)
	return w.ack(ctx, delivery, string(outcome), started)
}

// hold bounds processing by the delivery's claim. Halfway to expiry the claim
// is extended by a full visibility timeout; processing is cancelled when the
// claim lapses or an extension fails.
func (w *Worker) hold(ctx context.Context, delivery ports.Delivery) (context.Context, func()) {
	remaining := w.opts.VisibilityTimeout
	if !delivery.VisibleUntil.IsZero() {
		remaining = delivery.VisibleUntil.Sub(w.opts.Now())
	}
	holdCtx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		expiry := time.NewTimer(remaining)
		defer expiry.Stop()
		heartbeat := time.NewTimer(remaining / 2)
		defer heartbeat.Stop()
		for {
			select {
			case <-done:
				return
			case <-holdCtx.Done():
				return
			case <-expiry.C:
				cancel(fmt.Errorf("%w: visibility timeout elapsed", errClaimLost))
				return
			case <-heartbeat.C:
				if err := w.queue.ChangeVisibility(holdCtx, delivery.ReceiptHandle, w.opts.VisibilityTimeout); err != nil {
					w.log.WarnContext(ctx, "failed to extend delivery claim", "error", err)
					cancel(fmt.Errorf("%w: %w", errClaimLost, err))
					return
				}
				expiry.Reset(w.opts.VisibilityTimeout)
				heartbeat.Reset(w.opts.VisibilityTimeout / 2)
			}
		}
	}()

	return holdCtx, func() {
		close(done)
		<-stopped
		cancel(nil)
	}
}

func (w *Worker) ack(ctx context.Context, delivery ports.Delivery, outcome string, started time.Time) error {
	workerMessagesTotal.WithLabelValues(outcome).Inc()
	workerProcessingDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
	if err := w.queue.Delete(ctx, delivery.ReceiptHandle); err != nil {
		if errors.Is(err, ports.ErrStaleReceipt) {
			w.log.WarnContext(ctx, "receipt expired before acknowledgement", "error", err)
			return nil
		}
		w.log.ErrorContext(ctx, "failed to acknowledge message", "error", err)
		return err
	}
	return nil
}

func (w *Worker) reportDepth(ctx context.Context) {
	ticker := time.NewTicker(w.opts.DepthInterval)
	defer ticker.Stop()
	for {
		depth, err := w.queue.Depth(ctx)
		if err == nil {
			queueDepthGauge.WithLabelValues("visible").Set(float64(depth.Visible))
			queueDepthGauge.WithLabelValues("in_flight").Set(float64(depth.InFlight))
		} else if ctx.Err() == nil {
			w.log.WarnContext(ctx, "failed to read queue depth", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
