package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agrovision/advisory-chat/internal/directory"
	"github.com/agrovision/advisory-chat/internal/domain"
	"github.com/agrovision/advisory-chat/internal/index"
	"github.com/agrovision/advisory-chat/internal/notifier"
	"github.com/agrovision/advisory-chat/internal/repository/memory"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, msg *domain.Message) error {
	return m.Called(ctx, msg).Error(0)
}

type harness struct {
	svc   *Service
	store *memory.Store
	hub   *notifier.Hub
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	store := memory.New()
	hub := notifier.NewHub()
	t.Cleanup(hub.Close)

	dir := directory.New(directory.Static{
		"F1": {Name: "Asha", Role: domain.RoleFarmer},
		"S1": {Name: "Dr. Rao", Role: domain.RoleSpecialist},
		"S2": {Role: domain.RoleSpecialist},
	})
	opts = append([]Option{WithDirectory(dir)}, opts...)

	return &harness{
		svc:   New(store, index.New(store), hub, zap.NewNop(), opts...),
		store: store,
		hub:   hub,
	}
}

func (h *harness) send(t *testing.T, from, to, text string) *domain.Message {
	t.Helper()
	msg, err := h.svc.SendMessage(context.Background(), SendMessageCommand{SenderID: from, RecipientID: to, Text: text})
	require.NoError(t, err)
	return msg
}

func TestSendMessage_Scenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	sent := h.send(t, "F1", "S1", "Leaves are yellowing")
	assert.Equal(t, int64(1), sent.Sequence)
	assert.NotEmpty(t, sent.ID)

	list, err := h.svc.ListConversations(ctx, "S1")
	require.NoError(t, err)
	require.Len(t, list.Conversations, 1)
	sum := list.Conversations[0]
	assert.Equal(t, "Leaves are yellowing", sum.LastMessage)
	assert.Equal(t, 1, sum.UnreadCount)
	assert.Equal(t, "Asha", sum.OtherDisplayName)
	assert.Equal(t, domain.RoleFarmer, sum.OtherRole)
	assert.Equal(t, 1, list.TotalUnread)

	require.NoError(t, h.svc.MarkRead(ctx, "S1", "F1"))

	list, err = h.svc.ListConversations(ctx, "S1")
	require.NoError(t, err)
	assert.Zero(t, list.Conversations[0].UnreadCount)

	h.send(t, "S1", "F1", "Can you send a photo?")

	list, err = h.svc.ListConversations(ctx, "F1")
	require.NoError(t, err)
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, 1, list.Conversations[0].UnreadCount)

	list, err = h.svc.ListConversations(ctx, "S1")
	require.NoError(t, err)
	assert.Zero(t, list.Conversations[0].UnreadCount)
}

func TestSendMessage_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		cmd     SendMessageCommand
		wantErr error
	}{
		{name: "self", cmd: SendMessageCommand{SenderID: "F1", RecipientID: "F1", Text: "hi"}, wantErr: domain.ErrInvalidParticipant},
		{name: "blank sender", cmd: SendMessageCommand{SenderID: "", RecipientID: "S1", Text: "hi"}, wantErr: domain.ErrInvalidParticipant},
		{name: "empty text", cmd: SendMessageCommand{SenderID: "F1", RecipientID: "S1", Text: "   "}, wantErr: domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.SendMessage(ctx, tt.cmd)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	list, err := h.svc.ListConversations(ctx, "F1")
	require.NoError(t, err)
	assert.Empty(t, list.Conversations)
}

func TestSendMessage_Idempotent(t *testing.T) {
	pub := new(MockPublisher)
	h := newHarness(t, WithPublisher(pub))
	ctx := context.Background()

	pub.On("Publish", mock.Anything, mock.AnythingOfType("*domain.Message")).Return(nil).Once()

	cmd := SendMessageCommand{SenderID: "F1", RecipientID: "S1", Text: "hello", ClientMessageID: "c-1"}
	first, err := h.svc.SendMessage(ctx, cmd)
	require.NoError(t, err)
	second, err := h.svc.SendMessage(ctx, cmd)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Sequence, second.Sequence)

	page, err := h.svc.History(ctx, "F1", string(first.Key), 0, 0)
	require.NoError(t, err)
	assert.Len(t, page.Messages, 1)
	pub.AssertExpectations(t)
}

func TestSendMessage_PublishFailureIsNotFatal(t *testing.T) {
	pub := new(MockPublisher)
	h := newHarness(t, WithPublisher(pub))

	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("redis down"))

	msg := h.send(t, "F1", "S1", "still stored")

	page, err := h.svc.History(context.Background(), "S1", msg.Key.String(), 0, 0)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, msg.ID, page.Messages[0].ID)
}

func TestSubscribe_ReceivesLiveMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t)

	key, err := domain.DeriveKey("F1", "S1")
	require.NoError(t, err)

	sub, err := h.svc.Subscribe(ctx, "S1", key.String())
	require.NoError(t, err)

	sent := h.send(t, "F1", "S1", "live")

	select {
	case got := <-sub.Messages():
		assert.Equal(t, sent.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	_, err = h.svc.Subscribe(ctx, "S2", key.String())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.svc.Subscribe(ctx, "S1", "direct:S1:F1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReconnectRecoversMissedMessages(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	key, _ := domain.DeriveKey("F1", "S1")
	sub, err := h.svc.Subscribe(ctx, "S1", key.String())
	require.NoError(t, err)

	h.send(t, "F1", "S1", "one")
	first := <-sub.Messages()
	sub.Cancel()

	h.send(t, "F1", "S1", "two")
	h.send(t, "F1", "S1", "three")

	page, err := h.svc.History(ctx, "S1", key.String(), first.Sequence, 0)
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "two", page.Messages[0].Text)
	assert.Equal(t, "three", page.Messages[1].Text)
	assert.Equal(t, int64(3), page.NextAfter)
}

func TestOpenConversation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	view, err := h.svc.OpenConversation(ctx, "S1", "F1")
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationKey("direct:F1:S1"), view.Key)
	assert.Empty(t, view.Messages)

	list, err := h.svc.ListConversations(ctx, "S1")
	require.NoError(t, err)
	assert.Empty(t, list.Conversations, "opening must not create a conversation")

	h.send(t, "F1", "S1", "hello")
	view, err = h.svc.OpenConversation(ctx, "F1", "S1")
	require.NoError(t, err)
	assert.Len(t, view.Messages, 1)
	assert.Equal(t, int64(1), view.NextAfter)

	_, err = h.svc.OpenConversation(ctx, "F1", "F1")
	assert.ErrorIs(t, err, domain.ErrInvalidParticipant)
}

func TestMarkRead_NoHistory(t *testing.T) {
	h := newHarness(t)
	err := h.svc.MarkRead(context.Background(), "S1", "F1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListConversations_DirectoryFallback(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.send(t, "S2", "F1", "hi")
	h.send(t, "X9", "F1", "hello")

	list, err := h.svc.ListConversations(ctx, "F1")
	require.NoError(t, err)
	require.Len(t, list.Conversations, 2)

	names := map[string]string{}
	for _, c := range list.Conversations {
		names[c.OtherParticipantID] = c.OtherDisplayName
	}
	assert.Equal(t, "Specialist", names["S2"])
	assert.Equal(t, "Participant", names["X9"])
	assert.Equal(t, 2, list.TotalUnread)
}

func TestHistory_Paging(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, WithPageSize(2))

	for i := 0; i < 5; i++ {
		h.send(t, "F1", "S1", fmt.Sprintf("m%d", i))
	}
	key, _ := domain.DeriveKey("F1", "S1")

	page, err := h.svc.History(ctx, "F1", key.String(), 0, 0)
	require.NoError(t, err)
	assert.Len(t, page.Messages, 2)
	assert.Equal(t, int64(2), page.NextAfter)

	page, err = h.svc.History(ctx, "F1", key.String(), 4, 0)
	require.NoError(t, err)
	assert.Len(t, page.Messages, 1)

	page, err = h.svc.History(ctx, "F1", key.String(), 5, 0)
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
	assert.Equal(t, int64(5), page.NextAfter)

	var seqs []int64
	for msg, err := range h.svc.HistorySeq(ctx, key, 1) {
		require.NoError(t, err)
		seqs = append(seqs, msg.Sequence)
	}
	assert.Equal(t, []int64{2, 3, 4, 5}, seqs)

	_, err = h.svc.History(ctx, "S2", key.String(), 0, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.svc.History(ctx, "F1", "garbage", 0, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConcurrentSenders(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := "F1", "S1"
			if i%2 == 1 {
				from, to = to, from
			}
			_, err := h.svc.SendMessage(ctx, SendMessageCommand{SenderID: from, RecipientID: to, Text: "ping"})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	key, _ := domain.DeriveKey("F1", "S1")
	page, err := h.svc.History(ctx, "F1", key.String(), 0, MaxPageSize)
	require.NoError(t, err)
	require.Len(t, page.Messages, 20)

	ids := make(map[string]struct{})
	for i, msg := range page.Messages {
		assert.Equal(t, int64(i+1), msg.Sequence)
		ids[msg.ID] = struct{}{}
	}
	assert.Len(t, ids, 20)
}
