package consumer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/seilylook/Image-Filter-Resize-Service/internal/config"
	"github.com/seilylook/Image-Filter-Resize-Service/internal/metrics"
	"github.com/seilylook/Image-Filter-Resize-Service/internal/model"
)

// messageReader is the consume side of the broker client.
type messageReader interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
	Close() error
}

// messageHandler processes one message. Abandon is called once a message is
// given up on, right before its offset is committed.
type messageHandler interface {
	Handle(ctx context.Context, msg kafka.Message) error
	Abandon(ctx context.Context, msg kafka.Message, cause error)
}

// deliveryTracker persists how many times a message has been delivered.
// Forget drops the rows for offset and every earlier offset of the partition.
type deliveryTracker interface {
	Record(ctx context.Context, topic string, partition int, offset int64) (int, error)
	Forget(ctx context.Context, topic string, partition int, offset int64) error
}

type publisher interface {
	Produce(ctx context.Context, key string, value any) error
}

// Consumer drives the worker loop: it fetches messages in partition order,
// hands each one to the handler until it succeeds or is dead-lettered, and
// commits its offset only then.
type Consumer struct {
	Client      messageReader
	handler     messageHandler
	tracker     deliveryTracker
	deadLetters publisher
	metrics     *metrics.Metrics
	cfg         config.Worker
	topic       string
	strategy    retry.Strategy
}

// New creates a new Consumer.
// - kcfg: Kafka configuration struct
// - wcfg: worker loop limits
// - s: retry strategy for commits
// - h: handler for processing messages
// - t: delivery tracker
// - dlq: dead-letter publisher, nil disables publishing
// - m: metrics, may be nil
func New(
	kcfg config.Kafka,
	wcfg config.Worker,
	s retry.Strategy,
	h messageHandler,
	t deliveryTracker,
	dlq publisher,
	m *metrics.Metrics,
) *Consumer {
	client := wbfkafka.NewConsumer(kcfg.Brokers, kcfg.Topic, kcfg.GroupID)

	return newConsumer(client, kcfg.Topic, wcfg, s, h, t, dlq, m)
}

func newConsumer(
	client messageReader,
	topic string,
	wcfg config.Worker,
	s retry.Strategy,
	h messageHandler,
	t deliveryTracker,
	dlq publisher,
	m *metrics.Metrics,
) *Consumer {
	if wcfg.MaxMessages <= 0 {
		wcfg.MaxMessages = 1
	}
	if wcfg.MaxDeliveries <= 0 {
		wcfg.MaxDeliveries = 1
	}
	if wcfg.PollTimeout <= 0 {
		wcfg.PollTimeout = time.Second
	}

	return &Consumer{
		Client:      client,
		handler:     h,
		tracker:     t,
		deadLetters: dlq,
		metrics:     m,
		cfg:         wcfg,
		topic:       topic,
		strategy:    s,
	}
}

// Consume runs poll cycles until ctx is cancelled, then closes the reader.
func (c *Consumer) Consume(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	defer func() {
		if err := c.Client.Close(); err != nil {
			zlog.Logger.Err(err).Msg("failed to close consumer")
			return
		}
		zlog.Logger.Info().Msg("consumer closed")
	}()

	zlog.Logger.Info().
		Str("topic", c.topic).
		Int("max_messages", c.cfg.MaxMessages).
		Msg("starting consumer")

	for ctx.Err() == nil {
		c.cycle(ctx)
	}

	zlog.Logger.Info().Msg("shutdown signal received, stopping consumer")
}

// cycle handles at most MaxMessages messages, returning early when a poll
// times out with nothing to read.
func (c *Consumer) cycle(ctx context.Context) int {
	handled := 0

	for handled < c.cfg.MaxMessages {
		pollCtx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
		msg, err := c.Client.Fetch(pollCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
				return handled
			}

			zlog.Logger.Err(err).Msg("failed to fetch message")
			sleep(ctx, 500*time.Millisecond)
			return handled
		}

		c.deliver(ctx, msg)
		handled++
	}

	return handled
}

// deliver runs msg through the handler until it is committed, dead-lettered
// or the context is cancelled. Later messages are not fetched meanwhile, so
// per-partition order holds.
func (c *Consumer) deliver(ctx context.Context, msg kafka.Message) {
	var (
		local   int
		lastErr error
	)

	for ctx.Err() == nil {
		local++
		seen := c.recordDelivery(ctx, msg, local)

		if seen > c.cfg.MaxDeliveries {
			if lastErr == nil {
				lastErr = fmt.Errorf("delivery limit of %d exceeded", c.cfg.MaxDeliveries)
			}
			c.giveUp(ctx, msg, lastErr, seen-1)
			return
		}

		err := c.handle(ctx, msg)
		if err == nil {
			c.commit(ctx, msg)
			zlog.Logger.Info().
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Str("key", string(msg.Key)).
				Msg("message handled successfully")
			return
		}

		if errors.Is(err, model.ErrMalformedMessage) {
			c.giveUp(ctx, msg, err, seen)
			return
		}
		if ctx.Err() != nil {
			return
		}

		c.metrics.Message(metrics.OutcomeFailed)
		lastErr = err

		if seen >= c.cfg.MaxDeliveries {
			c.giveUp(ctx, msg, err, seen)
			return
		}

		zlog.Logger.Warn().
			Err(err).
			Str("key", string(msg.Key)).
			Int64("offset", msg.Offset).
			Int("attempt", seen).
			Msg("failed to process message, will retry")

		sleep(ctx, c.cfg.RetryDelay)
	}
}

// handle runs the handler and turns a panic into a retryable failure so one
// bad message cannot take the worker down.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Logger.Error().
				Str("key", string(msg.Key)).
				Int64("offset", msg.Offset).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("handler panicked")
			err = fmt.Errorf("%w: panic: %v", model.ErrTransformFailed, r)
		}
	}()

	return c.handler.Handle(ctx, msg)
}

// recordDelivery returns how many times msg has been delivered, preferring
// the durable count and falling back to the in-process one.
func (c *Consumer) recordDelivery(ctx context.Context, msg kafka.Message, local int) int {
	if c.tracker == nil {
		return local
	}

	seen, err := c.tracker.Record(ctx, msg.Topic, msg.Partition, msg.Offset)
	if err != nil {
		zlog.Logger.Warn().Err(err).Int64("offset", msg.Offset).Msg("failed to record delivery")
		return local
	}

	return max(seen, local)
}

// giveUp dead-letters msg, lets the handler mark it failed and commits it.
// The offset stays uncommitted until the dead-letter publish succeeds.
func (c *Consumer) giveUp(ctx context.Context, msg kafka.Message, cause error, attempts int) {
	letter := model.DeadLetter{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       string(msg.Key),
		Value:     string(msg.Value),
		Reason:    cause.Error(),
		Attempts:  attempts,
		FailedAt:  time.Now().UTC(),
	}

	for c.deadLetters != nil {
		err := c.deadLetters.Produce(ctx, letter.Key, letter)
		if err == nil {
			break
		}

		zlog.Logger.Err(err).
			Str("key", letter.Key).
			Int64("offset", msg.Offset).
			Msg("failed to publish dead letter, offset not committed")

		if !sleep(ctx, c.cfg.RetryDelay) {
			return
		}
	}

	c.handler.Abandon(ctx, msg, cause)
	c.commit(ctx, msg)
	c.metrics.Message(metrics.OutcomeDeadLettered)

	zlog.Logger.Error().
		Err(cause).
		Str("key", letter.Key).
		Int64("offset", msg.Offset).
		Int("attempts", attempts).
		Msg("message dead-lettered")
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	err := retry.Do(func() error {
		return c.Client.Commit(ctx, msg)
	}, c.strategy)
	if err != nil {
		// The delivery row stays until a later commit on this partition clears it.
		zlog.Logger.Err(err).
			Str("key", string(msg.Key)).
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("failed to commit message after retries")
		return
	}

	// Commits are cumulative, so rows for every earlier offset are done too.
	if c.tracker != nil {
		if err := c.tracker.Forget(ctx, msg.Topic, msg.Partition, msg.Offset); err != nil {
			zlog.Logger.Warn().Err(err).Int64("offset", msg.Offset).Msg("failed to forget delivery")
		}
	}
}

// sleep waits for d and reports whether ctx is still live.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
