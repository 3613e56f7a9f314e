package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agrovision/advisory-chat/internal/domain"
)

// Store keeps every conversation in its own partition with its own lock, so
// appends to different keys never contend.
type Store struct {
	partitions   sync.Map // domain.ConversationKey -> *partition
	participants sync.Map // participant ID -> *keySet
	markers      sync.Map // markerID -> *atomic.Int64

	// Now is the clock used for SentAt. Tests may override it.
	Now func() time.Time
}

type partition struct {
	mu       sync.RWMutex
	messages []*domain.Message // messages[i].Sequence == i+1
	byClient map[string]*domain.Message
}

type keySet struct {
	mu   sync.RWMutex
	keys map[domain.ConversationKey]struct{}
}

func New() *Store {
	return &Store{Now: time.Now}
}

func (s *Store) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *Store) partition(key domain.ConversationKey) *partition {
	if p, ok := s.partitions.Load(key); ok {
		return p.(*partition)
	}
	p, _ := s.partitions.LoadOrStore(key, &partition{byClient: make(map[string]*domain.Message)})
	return p.(*partition)
}

func clientID(senderID, clientMessageID string) string {
	return senderID + "\x00" + clientMessageID
}

func (s *Store) Append(ctx context.Context, msg *domain.Message) (*domain.Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if err := domain.ValidateText(msg.Text); err != nil {
		return nil, false, err
	}

	p := s.partition(msg.Key)
	p.mu.Lock()
	defer p.mu.Unlock()

	if msg.ClientMessageID != "" {
		if existing, ok := p.byClient[clientID(msg.SenderID, msg.ClientMessageID)]; ok {
			return existing.Clone(), false, nil
		}
	}

	stored := msg.Clone()
	stored.Sequence = int64(len(p.messages)) + 1
	stored.SentAt = s.now()
	if n := len(p.messages); n > 0 {
		stored.SentAt = domain.NextSentAt(p.messages[n-1].SentAt, stored.SentAt)
	}

	p.messages = append(p.messages, stored)
	if stored.ClientMessageID != "" {
		p.byClient[clientID(stored.SenderID, stored.ClientMessageID)] = stored
	}

	if stored.Sequence == 1 {
		low, high := stored.Key.Participants()
		s.index(low, stored.Key)
		s.index(high, stored.Key)
	}

	return stored.Clone(), true, nil
}

func (s *Store) index(participantID string, key domain.ConversationKey) {
	v, _ := s.participants.LoadOrStore(participantID, &keySet{keys: make(map[domain.ConversationKey]struct{})})
	ks := v.(*keySet)
	ks.mu.Lock()
	ks.keys[key] = struct{}{}
	ks.mu.Unlock()
}

func (s *Store) List(ctx context.Context, key domain.ConversationKey, afterSeq int64, limit int) ([]*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v, ok := s.partitions.Load(key)
	if !ok {
		return []*domain.Message{}, nil
	}
	p := v.(*partition)

	p.mu.RLock()
	defer p.mu.RUnlock()

	start := afterSeq
	if start < 0 {
		start = 0
	}
	if start >= int64(len(p.messages)) {
		return []*domain.Message{}, nil
	}
	end := int64(len(p.messages))
	if limit > 0 && start+int64(limit) < end {
		end = start + int64(limit)
	}

	out := make([]*domain.Message, 0, end-start)
	for _, m := range p.messages[start:end] {
		out = append(out, m.Clone())
	}
	return out, nil
}

func (s *Store) Latest(ctx context.Context, key domain.ConversationKey) (*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v, ok := s.partitions.Load(key)
	if !ok {
		return nil, domain.ErrNotFound
	}
	p := v.(*partition)

	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.messages) == 0 {
		return nil, domain.ErrNotFound
	}
	return p.messages[len(p.messages)-1].Clone(), nil
}

func (s *Store) LatestPerConversation(ctx context.Context, participantID string) ([]*domain.Message, error) {
	v, ok := s.participants.Load(participantID)
	if !ok {
		return []*domain.Message{}, nil
	}
	ks := v.(*keySet)

	ks.mu.RLock()
	keys := make([]domain.ConversationKey, 0, len(ks.keys))
	for k := range ks.keys {
		keys = append(keys, k)
	}
	ks.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]*domain.Message, 0, len(keys))
	for _, k := range keys {
		m, err := s.Latest(ctx, k)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) CountAfter(ctx context.Context, key domain.ConversationKey, excludeSender string, afterSeq int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	v, ok := s.partitions.Load(key)
	if !ok {
		return 0, nil
	}
	p := v.(*partition)

	p.mu.RLock()
	defer p.mu.RUnlock()

	if afterSeq < 0 {
		afterSeq = 0
	}

	count := 0
	for i := afterSeq; i < int64(len(p.messages)); i++ {
		if p.messages[i].SenderID != excludeSender {
			count++
		}
	}
	return count, nil
}

func markerID(key domain.ConversationKey, participantID string) string {
	return string(key) + "\x00" + participantID
}

func (s *Store) ReadMarker(ctx context.Context, key domain.ConversationKey, participantID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	v, ok := s.markers.Load(markerID(key, participantID))
	if !ok {
		return 0, nil
	}
	return v.(*atomic.Int64).Load(), nil
}

func (s *Store) AdvanceReadMarker(ctx context.Context, key domain.ConversationKey, participantID string, seq int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	v, _ := s.markers.LoadOrStore(markerID(key, participantID), new(atomic.Int64))
	marker := v.(*atomic.Int64)

	for {
		cur := marker.Load()
		if seq <= cur {
			return cur, nil
		}
		if marker.CompareAndSwap(cur, seq) {
			return seq, nil
		}
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}
