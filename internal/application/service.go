package application

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/agrovision/advisory-chat/internal/domain"
	"github.com/agrovision/advisory-chat/internal/index"
	"github.com/agrovision/advisory-chat/internal/notifier"
	"github.com/agrovision/advisory-chat/internal/repository"
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 500
)

// Publisher hands a durably appended message to the fan-out path.
type Publisher interface {
	Publish(ctx context.Context, msg *domain.Message) error
}

// UserDirectory resolves participant names and roles for summaries.
type UserDirectory interface {
	ResolveDisplayName(ctx context.Context, id string) (string, error)
	Role(ctx context.Context, id string) (domain.Role, error)
}

type Service struct {
	store     repository.Store
	index     *index.Index
	hub       *notifier.Hub
	publisher Publisher
	directory UserDirectory
	log       *zap.Logger
	tracer    trace.Tracer
	pageSize  int

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

type Option func(*Service)

// WithPublisher replaces local delivery through the hub, e.g. with the redis
// router. The publisher is then responsible for reaching the hub of every instance.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithDirectory(d UserDirectory) Option {
	return func(s *Service) { s.directory = d }
}

func WithPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 && n <= MaxPageSize {
			s.pageSize = n
		}
	}
}

func New(store repository.Store, idx *index.Index, hub *notifier.Hub, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		index:    idx,
		hub:      hub,
		log:      log,
		tracer:   otel.Tracer("advisory-chat/application"),
		pageSize: DefaultPageSize,
		entropy:  ulid.Monotonic(rand.Reader, 0),
	}
	s.publisher = LocalPublisher{Hub: hub}

	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) newMessageID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// LocalPublisher delivers to subscribers of this instance only.
type LocalPublisher struct {
	Hub *notifier.Hub
}

func (p LocalPublisher) Publish(ctx context.Context, msg *domain.Message) error {
	p.Hub.Publish(ctx, msg)
	return nil
}

// OutboxRelay is used when messages reach subscribers through the transactional
// outbox and kafka. Publishing at send time is then a no-op.
type OutboxRelay struct{}

func (OutboxRelay) Publish(context.Context, *domain.Message) error { return nil }
