package kafka

import (
	"context"
	"errors"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/agrovision/advisory-chat/internal/observability"
)

// Handler receives the raw event envelope of each record.
type Handler interface {
	Handle(ctx context.Context, record []byte)
}

// recordHeaders lets the otel propagator read the trace context written by
// the producer. It is read only.
type recordHeaders []kgo.RecordHeader

func (h recordHeaders) Get(key string) string {
	for _, hdr := range h {
		if hdr.Key == key {
			return string(hdr.Value)
		}
	}
	return ""
}

func (recordHeaders) Set(string, string) {}

func (h recordHeaders) Keys() []string {
	keys := make([]string, len(h))
	for i, hdr := range h {
		keys[i] = hdr.Key
	}
	return keys
}

// Consumer feeds every conversation event of the topic to this instance.
// Each instance joins its own consumer group so all of them see all events,
// starting from the newest offset: subscribers recover older messages
// through history.
type Consumer struct {
	client  *kgo.Client
	topic   string
	handler Handler
	tracer  trace.Tracer
}

func NewConsumer(brokers []string, topic, group string, handler Handler) (*Consumer, error) {
	log := observability.GetLogger(context.Background()).With(zap.String("topic", topic), zap.String("group", group))

	cl, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
			log.Info("event consumer: partitions assigned", zap.Int32s("partitions", assigned[topic]))
		}),
		kgo.OnPartitionsRevoked(func(_ context.Context, _ *kgo.Client, revoked map[string][]int32) {
			log.Info("event consumer: partitions revoked", zap.Int32s("partitions", revoked[topic]))
		}),
	)
	if err != nil {
		return nil, err
	}

	return &Consumer{
		client:  cl,
		topic:   topic,
		handler: handler,
		tracer:  otel.Tracer("advisory-chat/kafka"),
	}, nil
}

// Run hands records to the handler until ctx is done or the client is closed.
// Fetch errors are logged; records of healthy partitions are still handled.
func (c *Consumer) Run(ctx context.Context) error {
	log := observability.GetLogger(ctx).With(zap.String("topic", c.topic))
	log.Info("event consumer: started")
	defer log.Info("event consumer: stopped")

	for ctx.Err() == nil {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}

		fetches.EachError(func(_ string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("event consumer: fetch failed", zap.Int32("partition", partition), zap.Error(err))
		})
		fetches.EachRecord(func(r *kgo.Record) {
			c.deliver(ctx, r)
		})
	}
	return nil
}

func (c *Consumer) deliver(ctx context.Context, r *kgo.Record) {
	ctx = otel.GetTextMapPropagator().Extract(ctx, recordHeaders(r.Headers))
	ctx, span := c.tracer.Start(ctx, "consume "+c.topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("conversation_key", string(r.Key)),
			attribute.Int64("offset", r.Offset),
		),
	)
	defer span.End()

	c.handler.Handle(ctx, r.Value)
}

func (c *Consumer) Close() {
	if c.client != nil {
		c.client.Close()
	}
}
