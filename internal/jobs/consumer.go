package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"error-tracker/internal/queue"
	"error-tracker/internal/telemetry"
)

// Handler processes one dequeued entry. A nil return acks the entry (in
// auto-complete mode), a validation error drops it permanently, and any
// other error abandons it for redelivery after the lease expires.
type Handler[T any] func(ctx context.Context, e *queue.Entry[T]) error

// Consumer is a dequeue/process/ack loop over a single queue. Many
// consumers may run concurrently across workers; per-entry mutual
// exclusion comes from the visibility lease, not a global lock.
type Consumer[T any] struct {
	name          string
	queue         *queue.Queue[T]
	handler       Handler[T]
	log           zerolog.Logger
	pollInterval  time.Duration
	maxDeliveries int
	autoComplete  bool
}

// ConsumerOption tunes a Consumer.
type ConsumerOption[T any] func(*Consumer[T])

// WithPollInterval sets the idle sleep between empty dequeues.
func WithPollInterval[T any](d time.Duration) ConsumerOption[T] {
	return func(c *Consumer[T]) { c.pollInterval = d }
}

// WithMaxDeliveries bounds redelivery; entries seen more often are moved
// to the dead-letter list.
func WithMaxDeliveries[T any](n int) ConsumerOption[T] {
	return func(c *Consumer[T]) { c.maxDeliveries = n }
}

// WithManualCompletion opts the handler out of auto-complete; it must call
// Complete or Abandon itself on success paths.
func WithManualCompletion[T any]() ConsumerOption[T] {
	return func(c *Consumer[T]) { c.autoComplete = false }
}

// NewConsumer builds a consumer job over q.
func NewConsumer[T any](name string, q *queue.Queue[T], handler Handler[T], log zerolog.Logger, opts ...ConsumerOption[T]) *Consumer[T] {
	c := &Consumer[T]{
		name:          name,
		queue:         q,
		handler:       handler,
		log:           log.With().Str("job", name).Logger(),
		pollInterval:  time.Second,
		maxDeliveries: 10,
		autoComplete:  true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Consumer[T]) Name() string { return c.name }

// Run consumes until ctx is cancelled. Empty dequeues are transient, not
// errors: the loop sleeps and polls again.
func (c *Consumer[T]) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if n, err := c.queue.ReclaimExpired(ctx, time.Now(), 100); err == nil && n > 0 {
			c.log.Debug().Int("count", n).Msg("reclaimed expired leases")
		}
		if depth, err := c.queue.Depth(ctx); err == nil {
			telemetry.QueueDepthGauge.WithLabelValues(c.queue.Name()).Set(float64(depth))
		}
		if inflight, err := c.queue.InFlight(ctx); err == nil {
			telemetry.InFlightGauge.WithLabelValues(c.queue.Name()).Set(float64(inflight))
		}

		entry, err := c.queue.Dequeue(ctx)
		if err != nil {
			c.log.Error().Err(err).Msg("dequeue failed")
			c.sleep(ctx)
			continue
		}
		if entry == nil {
			c.sleep(ctx)
			continue
		}

		if c.maxDeliveries > 0 && entry.Deliveries > c.maxDeliveries {
			telemetry.DeadLettered.WithLabelValues(c.queue.Name()).Inc()
			c.log.Warn().Str("entry", entry.ID).Int("deliveries", entry.Deliveries).
				Msg("delivery limit exceeded, dead-lettering")
			if err := c.queue.DeadLetter(ctx, entry); err != nil {
				c.log.Error().Err(err).Str("entry", entry.ID).Msg("dead letter failed")
			}
			continue
		}

		c.dispatch(ctx, entry)
	}
}

func (c *Consumer[T]) dispatch(ctx context.Context, entry *queue.Entry[T]) {
	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = Retryable(errorFromPanic(rec))
			}
		}()
		return c.handler(ctx, entry)
	}()

	switch {
	case err == nil:
		if c.autoComplete {
			if err := c.queue.Complete(ctx, entry); err != nil {
				c.log.Error().Err(err).Str("entry", entry.ID).Msg("complete failed")
			}
		}
	case IsValidation(err):
		// Terminal: the payload will never become valid. Drop it.
		c.log.Warn().Err(err).Str("entry", entry.ID).Msg("dropping invalid entry")
		if err := c.queue.Complete(ctx, entry); err != nil {
			c.log.Error().Err(err).Str("entry", entry.ID).Msg("complete failed")
		}
	default:
		c.log.Error().Err(err).Str("entry", entry.ID).Int("deliveries", entry.Deliveries).
			Msg("processing failed, abandoning for redelivery")
		if err := c.queue.Abandon(ctx, entry); err != nil {
			c.log.Error().Err(err).Str("entry", entry.ID).Msg("abandon failed")
		}
	}
}

func (c *Consumer[T]) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(c.pollInterval):
	}
}

func errorFromPanic(rec any) error {
	if err, ok := rec.(error); ok {
		return err
	}
	return &panicError{value: rec}
}

type panicError struct{ value any }

func (e *panicError) Error() string { return fmt.Sprintf("panic in handler: %v", e.value) }
