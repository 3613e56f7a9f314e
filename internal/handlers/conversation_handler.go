package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agrovision/advisory-chat/internal/application"
	"github.com/agrovision/advisory-chat/internal/middleware"
	"github.com/agrovision/advisory-chat/internal/transport"
)

// ConversationHandler serves conversation listing, history and read markers.
type ConversationHandler struct {
	svc *application.Service
}

func NewConversationHandler(svc *application.Service) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

type counterpartRequest struct {
	ParticipantID string `json:"participant_id"`
}

// OpenConversation POST /api/conversations/open
func (h *ConversationHandler) OpenConversation(w http.ResponseWriter, r *http.Request) {
	viewerID := middleware.ParticipantID(r.Context())

	var req counterpartRequest
	if err := transport.DecodeJSON(w, r, &req); err != nil {
		transport.WriteError(w, http.StatusBadRequest, errInvalidBody, msgInvalidJSON)
		return
	}

	ctx, cancel := withTimeout(r)
	defer cancel()

	view, err := h.svc.OpenConversation(ctx, viewerID, req.ParticipantID)
	if err != nil {
		transport.MapError(w, r, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, view)
}

// ListConversations GET /api/conversations
func (h *ConversationHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r)
	defer cancel()

	list, err := h.svc.ListConversations(ctx, middleware.ParticipantID(r.Context()))
	if err != nil {
		transport.MapError(w, r, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, list)
}

// History GET /api/conversations/{key}/messages?after=&limit=
func (h *ConversationHandler) History(w http.ResponseWriter, r *http.Request) {
	after, ok := queryInt64(w, r, "after", 0)
	if !ok {
		return
	}
	limit, ok := queryInt64(w, r, "limit", 0)
	if !ok {
		return
	}

	ctx, cancel := withTimeout(r)
	defer cancel()

	page, err := h.svc.History(ctx, middleware.ParticipantID(r.Context()), chi.URLParam(r, "key"), after, int(limit))
	if err != nil {
		transport.MapError(w, r, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, page)
}

// MarkRead POST /api/conversations/read
func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req counterpartRequest
	if err := transport.DecodeJSON(w, r, &req); err != nil {
		transport.WriteError(w, http.StatusBadRequest, errInvalidBody, msgInvalidJSON)
		return
	}

	ctx, cancel := withTimeout(r)
	defer cancel()

	if err := h.svc.MarkRead(ctx, middleware.ParticipantID(r.Context()), req.ParticipantID); err != nil {
		transport.MapError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
