package dispatcher

import (
	"context"

	"go.uber.org/zap"

	"github.com/agrovision/advisory-chat/internal/domain"
	"github.com/agrovision/advisory-chat/internal/observability"
)

// Notifier is the local fan-out, implemented by notifier.Hub.
type Notifier interface {
	Publish(ctx context.Context, msg *domain.Message)
	Subscribers(key domain.ConversationKey) int
}

// Invalidator drops derived summaries, implemented by index.Index.
type Invalidator interface {
	Invalidate(ctx context.Context, key domain.ConversationKey)
}

// Dispatcher decodes events arriving from redis or kafka and hands them to
// the local subscribers of this instance.
type Dispatcher struct {
	notifier Notifier
	index    Invalidator
}

func New(n Notifier, idx Invalidator) *Dispatcher {
	return &Dispatcher{notifier: n, index: idx}
}

func (d *Dispatcher) Handle(ctx context.Context, record []byte) {
	log := observability.GetLogger(ctx)

	env, err := domain.DecodeEnvelope(record)
	if err != nil {
		log.Error("dispatcher: error decoding event", zap.Error(err))
		return
	}

	switch env.EventType {
	case domain.EventMessageSent:
		msg, err := env.MessageSent()
		if err != nil {
			log.Error("dispatcher: bad message.sent payload", zap.Error(err))
			return
		}
		if _, err := domain.ParseKey(string(msg.Key)); err != nil {
			log.Warn("dispatcher: dropping event with invalid key", zap.String("conversation_key", string(msg.Key)))
			return
		}
		d.notifier.Publish(ctx, msg)
		log.Debug("dispatcher: delivered message",
			zap.String("conversation_key", msg.Key.String()),
			zap.Int64("sequence", msg.Sequence),
			zap.Int("local_subscribers", d.notifier.Subscribers(msg.Key)),
		)

	case domain.EventReadMarkerAdvanced:
		ev, err := env.ReadMarkerAdvanced()
		if err != nil {
			log.Error("dispatcher: bad read_marker.advanced payload", zap.Error(err))
			return
		}
		if d.index != nil {
			d.index.Invalidate(ctx, ev.Key)
		}

	default:
		log.Debug("dispatcher: ignoring event", zap.String("event_type", string(env.EventType)))
	}
}
