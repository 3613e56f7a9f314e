package index

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agrovision/advisory-chat/internal/domain"
	"github.com/agrovision/advisory-chat/internal/observability"
	"github.com/agrovision/advisory-chat/internal/repository"
)

// SummaryCache stores computed conversation lists per participant. Every
// Invalidate bumps the participant's generation; Set only stores a list that
// was computed at the current generation.
type SummaryCache interface {
	Get(ctx context.Context, participantID string) ([]domain.ConversationSummary, bool, error)
	Generation(ctx context.Context, participantID string) (int64, error)
	Set(ctx context.Context, participantID string, generation int64, summaries []domain.ConversationSummary) error
	Invalidate(ctx context.Context, participantIDs ...string) error
}

// Index derives conversation summaries and unread counts from the message
// log. Nothing it returns is stored as a record of its own; the optional
// cache is invalidated on every append and markRead.
type Index struct {
	store       repository.Store
	cache       SummaryCache
	concurrency int
}

type Option func(*Index)

func WithCache(c SummaryCache) Option {
	return func(i *Index) { i.cache = c }
}

// WithConcurrency bounds the parallel unread count queries of one list.
func WithConcurrency(n int) Option {
	return func(i *Index) {
		if n > 0 {
			i.concurrency = n
		}
	}
}

func New(store repository.Store, opts ...Option) *Index {
	i := &Index{store: store, concurrency: 8}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// ListForParticipant returns one summary per conversation participantID takes
// part in, newest activity first.
func (i *Index) ListForParticipant(ctx context.Context, participantID string) ([]domain.ConversationSummary, error) {
	if err := domain.ValidateParticipantID(participantID); err != nil {
		return nil, err
	}

	log := observability.GetLogger(ctx)

	// generation is read before the store so a concurrent invalidation
	// makes the Set below a no-op
	cacheable := false
	var generation int64
	if i.cache != nil {
		cached, found, err := i.cache.Get(ctx, participantID)
		if err != nil {
			log.Warn("index: summary cache read failed", zap.String("participant_id", participantID), zap.Error(err))
		} else if found {
			return cached, nil
		}

		if generation, err = i.cache.Generation(ctx, participantID); err != nil {
			log.Warn("index: summary cache generation read failed", zap.String("participant_id", participantID), zap.Error(err))
		} else {
			cacheable = true
		}
	}

	latest, err := i.store.LatestPerConversation(ctx, participantID)
	if err != nil {
		return nil, err
	}

	summaries := make([]domain.ConversationSummary, len(latest))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.concurrency)

	for n, msg := range latest {
		g.Go(func() error {
			unread, err := i.UnreadCount(gctx, msg.Key, participantID)
			if err != nil {
				return err
			}
			summaries[n] = summarize(msg, participantID, unread)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(summaries, func(a, b int) bool {
		if !summaries[a].LastMessageAt.Equal(summaries[b].LastMessageAt) {
			return summaries[a].LastMessageAt.After(summaries[b].LastMessageAt)
		}
		return summaries[a].Key < summaries[b].Key
	})

	if cacheable {
		if err := i.cache.Set(ctx, participantID, generation, summaries); err != nil {
			log.Warn("index: summary cache write failed", zap.String("participant_id", participantID), zap.Error(err))
		}
	}

	return summaries, nil
}

func summarize(msg *domain.Message, viewer string, unread int) domain.ConversationSummary {
	low, high := msg.Key.Participants()
	other, _ := msg.Key.Other(viewer)
	return domain.ConversationSummary{
		Key:                msg.Key,
		Participants:       [2]string{low, high},
		OtherParticipantID: other,
		LastMessage:        msg.Text,
		LastSenderID:       msg.SenderID,
		LastSequence:       msg.Sequence,
		LastMessageAt:      msg.SentAt,
		UnreadCount:        unread,
	}
}

// UnreadCount counts messages of key sent by the other participant after the
// viewer's read marker.
func (i *Index) UnreadCount(ctx context.Context, key domain.ConversationKey, viewerID string) (int, error) {
	if !key.Has(viewerID) {
		return 0, domain.ErrNotFound
	}

	marker, err := i.store.ReadMarker(ctx, key, viewerID)
	if err != nil {
		return 0, err
	}
	return i.store.CountAfter(ctx, key, viewerID, marker)
}

// MarkRead moves the viewer's marker to the newest message of key and returns
// the resulting marker. It fails with domain.ErrNotFound when key has no history.
func (i *Index) MarkRead(ctx context.Context, key domain.ConversationKey, viewerID string) (int64, error) {
	if !key.Has(viewerID) {
		return 0, domain.ErrNotFound
	}

	latest, err := i.store.Latest(ctx, key)
	if err != nil {
		return 0, err
	}

	seq, err := i.store.AdvanceReadMarker(ctx, key, viewerID, latest.Sequence)
	if err != nil {
		return 0, err
	}

	i.Invalidate(ctx, key)
	return seq, nil
}

// Invalidate drops cached summaries of both participants of key.
func (i *Index) Invalidate(ctx context.Context, key domain.ConversationKey) {
	if i.cache == nil {
		return
	}
	low, high := key.Participants()
	if err := i.cache.Invalidate(ctx, low, high); err != nil {
		observability.GetLogger(ctx).Warn("index: summary cache invalidation failed",
			zap.String("conversation_key", key.String()),
			zap.Error(err),
		)
	}
}
