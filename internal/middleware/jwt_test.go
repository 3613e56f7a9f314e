package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func sign(t *testing.T, claims jwt.MapClaims, key string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return s
}

func echoParticipant() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(ParticipantID(r.Context())))
	})
}

func TestJWT(t *testing.T) {
	handler := JWT(secret, "advisory-auth", "")(echoParticipant())
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name       string
		header     string
		query      string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "valid bearer",
			header:     "Bearer " + sign(t, jwt.MapClaims{"sub": "F1", "iss": "advisory-auth", "exp": exp}, secret),
			wantStatus: http.StatusOK,
			wantBody:   "F1",
		},
		{
			name:       "valid query token",
			query:      sign(t, jwt.MapClaims{"sub": "S1", "iss": "advisory-auth", "exp": exp}, secret),
			wantStatus: http.StatusOK,
			wantBody:   "S1",
		},
		{name: "missing", wantStatus: http.StatusUnauthorized},
		{name: "bad format", header: "Token abc", wantStatus: http.StatusUnauthorized},
		{
			name:       "wrong secret",
			header:     "Bearer " + sign(t, jwt.MapClaims{"sub": "F1", "iss": "advisory-auth", "exp": exp}, "other"),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong issuer",
			header:     "Bearer " + sign(t, jwt.MapClaims{"sub": "F1", "iss": "someone-else", "exp": exp}, secret),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "expired",
			header:     "Bearer " + sign(t, jwt.MapClaims{"sub": "F1", "iss": "advisory-auth", "exp": time.Now().Add(-time.Hour).Unix()}, secret),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "subject with separator",
			header:     "Bearer " + sign(t, jwt.MapClaims{"sub": "a:b", "iss": "advisory-auth", "exp": exp}, secret),
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/api/conversations"
			if tt.query != "" {
				target += "?access_token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
			if tt.wantStatus == http.StatusUnauthorized {
				assert.JSONEq(t, `{"error":"unauthorized","message":"authentication failed"}`, rec.Body.String())
			}
		})
	}
}

func TestTrustHeader(t *testing.T) {
	handler := TrustHeader()(echoParticipant())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(DevHeader, "F1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "F1", rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"unauthorized","message":"authentication failed"}`, rec.Body.String())
}

func TestRecovery(t *testing.T) {
	handler := Recovery()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal_error")
}
