package application

import (
	"context"
	"iter"

	"github.com/agrovision/advisory-chat/internal/domain"
)

type HistoryPage struct {
	Messages  []*domain.Message `json:"messages"`
	NextAfter int64             `json:"next_after"`
}

// History returns messages of the conversation after the given sequence,
// ascending. Viewers outside the conversation get domain.ErrNotFound.
func (s *Service) History(ctx context.Context, viewerID, rawKey string, after int64, limit int) (*HistoryPage, error) {
	key, err := s.authorize(viewerID, rawKey)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = s.pageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if after < 0 {
		after = 0
	}

	msgs, err := s.store.List(ctx, key, after, limit)
	if err != nil {
		return nil, err
	}

	next := after
	if n := len(msgs); n > 0 {
		next = msgs[n-1].Sequence
	}
	return &HistoryPage{Messages: msgs, NextAfter: next}, nil
}

// HistorySeq iterates over the whole history of key after the given sequence,
// fetching one page at a time.
func (s *Service) HistorySeq(ctx context.Context, key domain.ConversationKey, after int64) iter.Seq2[*domain.Message, error] {
	return func(yield func(*domain.Message, error) bool) {
		cursor := after
		for {
			page, err := s.store.List(ctx, key, cursor, s.pageSize)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, msg := range page {
				if !yield(msg, nil) {
					return
				}
				cursor = msg.Sequence
			}
			if len(page) < s.pageSize {
				return
			}
		}
	}
}

func (s *Service) authorize(viewerID, rawKey string) (domain.ConversationKey, error) {
	key, err := domain.ParseKey(rawKey)
	if err != nil {
		return "", err
	}
	if !key.Has(viewerID) {
		return "", domain.ErrNotFound
	}
	return key, nil
}
