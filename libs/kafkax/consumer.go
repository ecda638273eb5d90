package kafkax

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/garageflow/garageflow/libs/metrics"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxInboxBackoff = 30 * time.Second

type Handler func(ctx context.Context, meta EventMeta, msg kafka.Message) error

// Reader is the subset of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ConsumerConfig struct {
	Brokers     string
	GroupID     string
	Topics      []string
	MaxAttempts int
	RetryDelay  time.Duration
}

type Consumer struct {
	name        string
	reader      Reader
	inbox       Inbox
	handler     Handler
	logger      *slog.Logger
	metrics     *metrics.Registry
	maxAttempts int
	retryDelay  time.Duration
}

// NewConsumer builds a group consumer over cfg.Topics. The group id doubles as
// the inbox consumer name.
func NewConsumer(cfg ConsumerConfig, inbox Inbox, handler Handler, logger *slog.Logger, m *metrics.Registry) (*Consumer, error) {
	brokers := SplitBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers not configured")
	}
	if cfg.GroupID == "" || len(cfg.Topics) == 0 {
		return nil, errors.New("consumer needs a group id and at least one topic")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return NewConsumerWithReader(cfg, reader, inbox, handler, logger, m), nil
}

func NewConsumerWithReader(cfg ConsumerConfig, reader Reader, inbox Inbox, handler Handler, logger *slog.Logger, m *metrics.Registry) *Consumer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Consumer{
		name:        cfg.GroupID,
		reader:      reader,
		inbox:       inbox,
		handler:     handler,
		logger:      logger,
		metrics:     m,
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
	}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka fetch failed", "err", err)
			if !sleep(ctx, c.retryDelay) {
				return
			}
			continue
		}

		if !c.process(ctx, msg) {
			return
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit failed", "err", err, "topic", msg.Topic, "offset", msg.Offset)
		}
	}
}

// process reports whether msg may be committed. It only returns false when ctx
// ends before the inbox could record the event.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	meta := ExtractEventMeta(msg)
	spanCtx, span := otel.Tracer("kafka").Start(ExtractTraceContext(ctx, msg), "kafka.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.String("messaging.message_id", meta.EventID),
		),
	)
	defer span.End()

	fresh, ok := c.record(spanCtx, meta, span)
	if !ok {
		return false
	}
	if !fresh {
		c.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
		return true
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = c.handler(spanCtx, meta, msg)
		if err == nil || attempt >= c.maxAttempts || !sleep(ctx, c.retryDelay*time.Duration(attempt)) {
			break
		}
		c.logger.Warn("event handler failed, retrying", "err", err, "event_id", meta.EventID, "attempt", attempt)
	}
	c.metrics.EventConsumed(meta.EventType, err)
	if err != nil {
		c.logger.Error("event handler failed", "err", err, "event_id", meta.EventID, "event_type", meta.EventType)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ferr := c.inbox.Forget(context.WithoutCancel(ctx), c.name, meta.EventID); ferr != nil {
			c.logger.Error("inbox forget failed", "err", ferr, "event_id", meta.EventID)
		}
	}
	return true
}

// record stores the event in the inbox, retrying until it succeeds. fresh is
// false for an event seen before; ok is false when ctx ends first.
func (c *Consumer) record(ctx context.Context, meta EventMeta, span trace.Span) (fresh, ok bool) {
	for attempt := 1; ; attempt++ {
		inserted, err := c.inbox.Record(ctx, c.name, meta.EventID, meta.EventType)
		if err == nil {
			return inserted, true
		}
		c.logger.Error("inbox record failed", "err", err, "event_id", meta.EventID, "attempt", attempt)
		span.RecordError(err)
		c.metrics.EventConsumed(meta.EventType, err)
		if !sleep(ctx, min(c.retryDelay*time.Duration(attempt), maxInboxBackoff)) {
			return false, false
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
