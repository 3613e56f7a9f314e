package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/agrovision/advisory-chat/internal/domain"
	"github.com/agrovision/advisory-chat/internal/observability"
)

// Guarded wraps a Store with a circuit breaker. Persistence failures surface
// as domain.ErrStoreUnavailable with the cause kept in the chain, and calls
// fail fast while the breaker is open.
type Guarded struct {
	next Store
	cb   *gobreaker.CircuitBreaker
}

func NewGuarded(next Store, maxFailures uint32, openTimeout time.Duration) *Guarded {
	if maxFailures == 0 {
		maxFailures = 5
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "message-store",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				domain.IsDomainError(err) ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.StoreBreakerState.Set(float64(to))
			observability.GetLogger(context.Background()).Warn("store breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Guarded{next: next, cb: cb}
}

func guard[T any](g *Guarded, op string, fn func() (T, error)) (T, error) {
	var zero T

	v, err := g.cb.Execute(func() (interface{}, error) {
		res, err := fn()
		return res, err
	})
	if err != nil {
		return zero, translate(op, err)
	}
	return v.(T), nil
}

func translate(op string, err error) error {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: %s: %w", domain.ErrStoreUnavailable, op, err)
	case domain.IsDomainError(err),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %s: %w", domain.ErrStoreUnavailable, op, err)
	}
}

type appendResult struct {
	msg     *domain.Message
	created bool
}

func (g *Guarded) Append(ctx context.Context, msg *domain.Message) (*domain.Message, bool, error) {
	res, err := guard(g, "append", func() (appendResult, error) {
		stored, created, err := g.next.Append(ctx, msg)
		return appendResult{msg: stored, created: created}, err
	})
	if err != nil {
		return nil, false, err
	}
	return res.msg, res.created, nil
}

func (g *Guarded) List(ctx context.Context, key domain.ConversationKey, afterSeq int64, limit int) ([]*domain.Message, error) {
	return guard(g, "list", func() ([]*domain.Message, error) {
		return g.next.List(ctx, key, afterSeq, limit)
	})
}

func (g *Guarded) Latest(ctx context.Context, key domain.ConversationKey) (*domain.Message, error) {
	return guard(g, "latest", func() (*domain.Message, error) {
		return g.next.Latest(ctx, key)
	})
}

func (g *Guarded) LatestPerConversation(ctx context.Context, participantID string) ([]*domain.Message, error) {
	return guard(g, "latest_per_conversation", func() ([]*domain.Message, error) {
		return g.next.LatestPerConversation(ctx, participantID)
	})
}

func (g *Guarded) CountAfter(ctx context.Context, key domain.ConversationKey, excludeSender string, afterSeq int64) (int, error) {
	return guard(g, "count_after", func() (int, error) {
		return g.next.CountAfter(ctx, key, excludeSender, afterSeq)
	})
}

func (g *Guarded) ReadMarker(ctx context.Context, key domain.ConversationKey, participantID string) (int64, error) {
	return guard(g, "read_marker", func() (int64, error) {
		return g.next.ReadMarker(ctx, key, participantID)
	})
}

func (g *Guarded) AdvanceReadMarker(ctx context.Context, key domain.ConversationKey, participantID string, seq int64) (int64, error) {
	return guard(g, "advance_read_marker", func() (int64, error) {
		return g.next.AdvanceReadMarker(ctx, key, participantID, seq)
	})
}

// Ping bypasses the breaker so readiness reflects the backend itself.
func (g *Guarded) Ping(ctx context.Context) error {
	return g.next.Ping(ctx)
}
