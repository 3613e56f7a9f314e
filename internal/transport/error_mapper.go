package transport

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/agrovision/advisory-chat/internal/domain"
	"github.com/agrovision/advisory-chat/internal/observability"
)

// MapError writes the HTTP response for an error returned by the messaging
// service. Unexpected errors are logged and hidden from the client.
func MapError(w http.ResponseWriter, r *http.Request, err error) {
	log := observability.GetLogger(r.Context())

	switch {
	case errors.Is(err, domain.ErrInvalidParticipant):
		WriteError(w, http.StatusBadRequest, "invalid_participant", "invalid participant")
	case errors.Is(err, domain.ErrEmptyText):
		WriteError(w, http.StatusBadRequest, "empty_text", "message text is empty")
	case errors.Is(err, domain.ErrTextTooLarge):
		WriteError(w, http.StatusBadRequest, "text_too_large", "message text is too large")
	case errors.Is(err, domain.ErrValidation):
		WriteError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found", "conversation not found")
	case errors.Is(err, domain.ErrOverflow):
		WriteError(w, http.StatusConflict, "overflow", "subscriber fell behind")
	case errors.Is(err, domain.ErrUnauthorized):
		WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication failed")
	case errors.Is(err, domain.ErrStoreUnavailable):
		log.Warn("store_unavailable", zap.Error(err))
		WriteError(w, http.StatusServiceUnavailable, "store_unavailable", "service temporarily unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		WriteError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		log.Error("internal_error", zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
	}
}
