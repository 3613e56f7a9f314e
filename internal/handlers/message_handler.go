package handlers

import (
	"net/http"

	"github.com/agrovision/advisory-chat/internal/application"
	"github.com/agrovision/advisory-chat/internal/middleware"
	"github.com/agrovision/advisory-chat/internal/transport"
)

type MessageHandler struct {
	svc *application.Service
}

func NewMessageHandler(svc *application.Service) *MessageHandler {
	return &MessageHandler{svc: svc}
}

// SendMessage POST /api/messages
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	senderID := middleware.ParticipantID(r.Context())

	var req struct {
		RecipientID     string `json:"recipient_id"`
		Text            string `json:"text"`
		ClientMessageID string `json:"client_message_id"`
	}
	if err := transport.DecodeJSON(w, r, &req); err != nil {
		transport.WriteError(w, http.StatusBadRequest, errInvalidBody, msgInvalidJSON)
		return
	}

	ctx, cancel := withTimeout(r)
	defer cancel()

	msg, err := h.svc.SendMessage(ctx, application.SendMessageCommand{
		SenderID:        senderID,
		RecipientID:     req.RecipientID,
		Text:            req.Text,
		ClientMessageID: req.ClientMessageID,
	})
	if err != nil {
		transport.MapError(w, r, err)
		return
	}

	transport.WriteJSON(w, http.StatusCreated, msg)
}
