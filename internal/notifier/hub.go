package notifier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/agrovision/advisory-chat/internal/domain"
	"github.com/agrovision/advisory-chat/internal/observability"
)

const DefaultBufferSize = 128

var ErrClosed = errors.New("notifier closed")

// Hub fans newly appended messages out to the live subscribers of a
// conversation on this instance. It keeps no history: a subscriber only sees
// messages published after it subscribed.
type Hub struct {
	topics     sync.Map // domain.ConversationKey -> *topic
	nextID     atomic.Uint64
	bufferSize int
	closed     atomic.Bool
}

type topic struct {
	mu   sync.Mutex
	subs map[uint64]*Subscription
	dead bool
}

type Option func(*Hub)

// WithBufferSize sets the per subscriber buffer. A subscriber that falls this
// many messages behind is torn down with domain.ErrOverflow.
func WithBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{bufferSize: DefaultBufferSize}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscription is a live view of one conversation. Messages is closed once the
// subscription ends; Err then reports why (nil after Cancel).
type Subscription struct {
	ID  uint64
	Key domain.ConversationKey

	hub   *Hub
	topic *topic
	ch    chan *domain.Message
	done  chan struct{}
	err   error
	once  sync.Once
	stop  func() bool // guarded by topic.mu
}

// Subscribe registers a subscriber for key. The subscription is cancelled
// automatically when ctx is done.
func (h *Hub) Subscribe(ctx context.Context, key domain.ConversationKey) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &Subscription{
		ID:   h.nextID.Add(1),
		Key:  key,
		hub:  h,
		ch:   make(chan *domain.Message, h.bufferSize),
		done: make(chan struct{}),
	}

	for {
		if h.closed.Load() {
			return nil, ErrClosed
		}

		v, _ := h.topics.LoadOrStore(key, &topic{subs: make(map[uint64]*Subscription)})
		t := v.(*topic)

		t.mu.Lock()
		if h.closed.Load() {
			// Close may already have swept this topic
			t.mu.Unlock()
			return nil, ErrClosed
		}
		if t.dead {
			// lost a race with the last subscriber leaving; the map entry is gone
			t.mu.Unlock()
			continue
		}
		sub.topic = t
		t.subs[sub.ID] = sub
		t.mu.Unlock()
		break
	}

	observability.NotifierSubscriptions.Inc()

	stop := context.AfterFunc(ctx, sub.Cancel)
	sub.topic.mu.Lock()
	sub.stop = stop
	sub.topic.mu.Unlock()

	return sub, nil
}

// Publish delivers msg to every current subscriber of msg.Key without
// blocking. Subscribers whose buffer is full are torn down.
func (h *Hub) Publish(ctx context.Context, msg *domain.Message) {
	observability.NotifierPublishedTotal.Inc()

	v, ok := h.topics.Load(msg.Key)
	if !ok {
		return
	}
	t := v.(*topic)

	t.mu.Lock()
	defer t.mu.Unlock()

	for id, sub := range t.subs {
		select {
		case sub.ch <- msg.Clone():
		default:
			observability.NotifierOverflowsTotal.Inc()
			observability.GetLogger(ctx).Warn("notifier: subscriber overflow",
				zap.String("conversation_key", msg.Key.String()),
				zap.Uint64("subscription_id", id),
				zap.Int64("sequence", msg.Sequence),
			)
			h.removeLocked(t, sub, domain.ErrOverflow)
		}
	}
}

// Subscribers returns the number of live subscribers of key.
func (h *Hub) Subscribers(key domain.ConversationKey) int {
	v, ok := h.topics.Load(key)
	if !ok {
		return 0
	}
	t := v.(*topic)
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Close ends every subscription and rejects new ones.
func (h *Hub) Close() {
	h.closed.Store(true)
	h.topics.Range(func(_, v any) bool {
		t := v.(*topic)
		t.mu.Lock()
		for _, sub := range t.subs {
			h.removeLocked(t, sub, nil)
		}
		t.mu.Unlock()
		return true
	})
}

// removeLocked must be called with t.mu held.
func (h *Hub) removeLocked(t *topic, sub *Subscription, err error) {
	if _, ok := t.subs[sub.ID]; !ok {
		return
	}
	delete(t.subs, sub.ID)
	if len(t.subs) == 0 {
		t.dead = true
		h.topics.CompareAndDelete(sub.Key, t)
	}
	sub.finish(err)
}

func (s *Subscription) finish(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
		// pending messages are dropped; nothing is delivered after the end
	drain:
		for {
			select {
			case <-s.ch:
			default:
				break drain
			}
		}
		close(s.ch)
		if s.stop != nil {
			s.stop()
		}
		observability.NotifierSubscriptions.Dec()
	})
}

func (s *Subscription) Messages() <-chan *domain.Message { return s.ch }

func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err is valid once Done is closed.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Cancel ends the subscription. It is safe to call more than once and from
// any goroutine.
func (s *Subscription) Cancel() {
	t := s.topic
	t.mu.Lock()
	s.hub.removeLocked(t, s, nil)
	t.mu.Unlock()
}
