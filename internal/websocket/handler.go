package websocket

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agrovision/advisory-chat/internal/domain"
	"github.com/agrovision/advisory-chat/internal/middleware"
	"github.com/agrovision/advisory-chat/internal/notifier"
	"github.com/agrovision/advisory-chat/internal/observability"
	"github.com/agrovision/advisory-chat/internal/transport"
)

// Streamer is the part of the application service a stream needs.
type Streamer interface {
	Subscribe(ctx context.Context, viewerID, rawKey string) (*notifier.Subscription, error)
	HistorySeq(ctx context.Context, key domain.ConversationKey, after int64) iter.Seq2[*domain.Message, error]
}

type Handler struct {
	registry *Registry
	streamer Streamer
	upgrader websocket.Upgrader
}

// NewHandler builds the conversation stream endpoint. An empty origins list
// accepts any origin.
func NewHandler(registry *Registry, streamer Streamer, origins []string) *Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return &Handler{
		registry: registry,
		streamer: streamer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || allowed["*"] || origin == "" || allowed[origin]
			},
		},
	}
}

// ServeHTTP streams one conversation. The client passes the last sequence it
// has seen as ?after=; missed messages are replayed from the log before live
// delivery starts, so a reconnect never leaves a gap.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	participantID := middleware.ParticipantID(r.Context())
	rawKey := chi.URLParam(r, "key")

	var after int64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			transport.WriteError(w, http.StatusBadRequest, "validation_error", "after must be a non-negative integer")
			return
		}
		after = n
	}

	// the stream outlives the request; keep its values but not its cancellation
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))

	// subscribe before replaying so nothing appended in between is lost
	sub, err := h.streamer.Subscribe(ctx, participantID, rawKey)
	if err != nil {
		cancel()
		transport.MapError(w, r, err)
		return
	}

	log := observability.GetLogger(r.Context())
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		log.Error("upgrade error", zap.Error(err))
		return
	}

	session := NewSession(uuid.NewString(), participantID, sub.Key, r.URL.Query().Get("client_id"), conn)
	h.registry.Add(session)
	session.Start()

	log.Info("stream: connected",
		zap.String("session_id", session.ID),
		zap.String("participant_id", participantID),
		zap.String("conversation_key", sub.Key.String()),
		zap.Int64("after", after),
		zap.Int("participant_streams", len(h.registry.ParticipantSessions(participantID))),
	)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go h.pump(ctx, session, sub, after)
	go h.readLoop(session, cancel)
}

// readLoop discards client frames. It only exists to process control frames
// and notice the peer going away.
func (h *Handler) readLoop(s *Session, cancel context.CancelFunc) {
	defer func() {
		cancel()
		h.registry.Remove(s)
		s.Close()
		observability.GetLogger(context.Background()).Info("stream: disconnected",
			zap.String("session_id", s.ID),
			zap.String("participant_id", s.ParticipantID),
		)
	}()

	for {
		if _, _, err := s.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				observability.GetLogger(context.Background()).Warn("read loop error",
					zap.String("session_id", s.ID),
					zap.Error(err),
				)
			}
			return
		}
	}
}

func (h *Handler) pump(ctx context.Context, s *Session, sub *notifier.Subscription, after int64) {
	defer sub.Cancel()
	log := observability.GetLogger(ctx)

	last, ok := h.replay(ctx, s, after, 0)
	if !ok {
		return
	}
	synced, err := encodeSynced(last)
	if err != nil || !s.Send(synced) {
		return
	}

	for {
		select {
		case msg, open := <-sub.Messages():
			if !open {
				if errors.Is(sub.Err(), domain.ErrOverflow) {
					s.CloseWithReason(CloseOverflow, "backpressure overflow")
				} else {
					s.Close()
				}
				return
			}
			if msg.Sequence <= last {
				continue
			}
			if msg.Sequence > last+1 {
				// relayed deliveries from other instances may arrive out of order
				if last, ok = h.replay(ctx, s, last, msg.Sequence-1); !ok {
					return
				}
			}
			payload, err := encodeMessage(msg)
			if err != nil {
				log.Error("stream: encode failed", zap.Error(err))
				continue
			}
			if !s.Send(payload) {
				return
			}
			last = msg.Sequence
		case <-s.Done():
			return
		}
	}
}

// replay sends stored messages after the given sequence, stopping past upTo
// when it is positive. It returns the last sequence sent.
func (h *Handler) replay(ctx context.Context, s *Session, after, upTo int64) (int64, bool) {
	last := after
	for msg, err := range h.streamer.HistorySeq(ctx, s.Key, after) {
		if err != nil {
			observability.GetLogger(ctx).Error("stream: replay failed",
				zap.String("session_id", s.ID),
				zap.Error(err),
			)
			s.CloseWithReason(websocket.CloseInternalServerErr, "history unavailable")
			return last, false
		}
		if upTo > 0 && msg.Sequence > upTo {
			break
		}
		payload, err := encodeMessage(msg)
		if err != nil {
			continue
		}
		if !s.Send(payload) {
			return last, false
		}
		last = msg.Sequence
	}
	return last, true
}
