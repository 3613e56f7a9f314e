package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/agrovision/advisory-chat/internal/transport"
)

const (
	errInvalidBody  = "invalid_body"
	errInvalidQuery = "invalid_query"
	msgInvalidJSON  = "invalid json"

	requestTimeout = 5 * time.Second
)

func withTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), requestTimeout)
}

// queryInt64 parses a non-negative integer query parameter, returning def when
// it is absent.
func queryInt64(w http.ResponseWriter, r *http.Request, name string, def int64) (int64, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		transport.WriteError(w, http.StatusBadRequest, errInvalidQuery, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}
