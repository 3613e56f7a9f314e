package router

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/agrovision/advisory-chat/internal/domain"
	"github.com/agrovision/advisory-chat/internal/observability"
)

const channelPrefix = "conversation:"

// Router carries newly appended messages between instances over redis
// pub/sub. Every instance subscribes to all conversation channels and feeds
// what it receives to its local hub, including its own publications.
type Router struct {
	client     *redis.Client
	instanceID string
}

func New(client *redis.Client, instanceID string) *Router {
	return &Router{client: client, instanceID: instanceID}
}

func (r *Router) channel(key domain.ConversationKey) string {
	return channelPrefix + string(key)
}

func (r *Router) Publish(ctx context.Context, msg *domain.Message) error {
	payload, err := domain.NewMessageSentEnvelope(msg)
	if err != nil {
		return err
	}

	log := observability.GetLogger(ctx)
	log.Debug("router: publishing", zap.String("conversation_key", msg.Key.String()), zap.Int64("sequence", msg.Sequence))
	return r.client.Publish(ctx, r.channel(msg.Key), payload).Err()
}

// Run delivers every received payload to handler until ctx is done.
func (r *Router) Run(ctx context.Context, handler func(context.Context, []byte)) error {
	pattern := channelPrefix + "*"
	pubsub := r.client.PSubscribe(ctx, pattern)
	defer pubsub.Close()

	// wait for the subscription to be confirmed before reporting ready
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	log := observability.GetLogger(ctx)
	log.Info("router: subscribed", zap.String("pattern", pattern), zap.String("instance_id", r.instanceID))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			log.Info("router: subscription loop stopping: context canceled")
			return nil
		case msg, ok := <-ch:
			if !ok {
				log.Warn("router: pubsub channel closed")
				return nil
			}
			log.Debug("router: received", zap.String("channel", msg.Channel))
			if !strings.HasPrefix(msg.Channel, channelPrefix) {
				continue
			}
			handler(ctx, []byte(msg.Payload))
		}
	}
}
