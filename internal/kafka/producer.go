package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// Producer writes outbox events to a single topic. Events are keyed by
// conversation key so one conversation stays on one partition, in order.
type Producer struct {
	w *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
	}
}

// messageHeaders carries the trace context of the outbox worker into the
// record headers.
type messageHeaders struct {
	headers *[]kafka.Header
}

func (c messageHeaders) Get(key string) string {
	for _, h := range *c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c messageHeaders) Set(key string, value string) {
	*c.headers = append(*c.headers, kafka.Header{
		Key:   key,
		Value: []byte(value),
	})
}

func (c messageHeaders) Keys() []string {
	keys := make([]string, 0, len(*c.headers))
	for _, h := range *c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}

func (p *Producer) Publish(ctx context.Context, key string, value []byte) error {
	headers := []kafka.Header{}
	otel.GetTextMapPropagator().Inject(ctx, messageHeaders{headers: &headers})

	return p.w.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Headers: headers,
	})
}

func (p *Producer) Close() error { return p.w.Close() }
