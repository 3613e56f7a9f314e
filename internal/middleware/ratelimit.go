package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit limits requests per authenticated participant, falling back to
// the client IP for anonymous requests.
func RateLimit(requests int, window time.Duration) func(next http.Handler) http.Handler {
	if window <= 0 {
		window = time.Minute
	}

	return httprate.Limit(requests, window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if id := ParticipantID(r.Context()); id != "" {
				return "participant:" + id, nil
			}
			return httprate.KeyByIP(r)
		}),
	)
}
