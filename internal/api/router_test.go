package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agrovision/advisory-chat/internal/application"
	"github.com/agrovision/advisory-chat/internal/config"
	"github.com/agrovision/advisory-chat/internal/domain"
	"github.com/agrovision/advisory-chat/internal/handlers"
	"github.com/agrovision/advisory-chat/internal/index"
	"github.com/agrovision/advisory-chat/internal/middleware"
	"github.com/agrovision/advisory-chat/internal/notifier"
	"github.com/agrovision/advisory-chat/internal/repository/memory"
	"github.com/agrovision/advisory-chat/internal/websocket"
)

const testSecret = "router-test-secret"

func newServer(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	store := memory.New()
	hub := notifier.NewHub()
	svc := application.New(store, index.New(store), hub, zap.NewNop())
	registry := websocket.NewRegistry()

	handler := NewRouter(cfg,
		handlers.NewMessageHandler(svc),
		handlers.NewConversationHandler(svc),
		websocket.NewHandler(registry, svc, nil),
		store,
	)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		registry.CloseAll()
		hub.Close()
		srv.Close()
	})
	return srv
}

func testConfig() *config.Config {
	return &config.Config{
		ServiceName:    "advisory-chat-test",
		JWTSecret:      testSecret,
		MetricsEnabled: true,
	}
}

type client struct {
	t     *testing.T
	base  string
	token string
}

func newClient(t *testing.T, srv *httptest.Server, participantID string) *client {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": participantID,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return &client{t: t, base: srv.URL, token: token}
}

func (c *client) do(method, path string, body any, out any) int {
	c.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(c.t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	require.NoError(c.t, err)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer res.Body.Close()

	if out != nil && res.StatusCode < 300 && res.StatusCode != http.StatusNoContent {
		require.NoError(c.t, json.NewDecoder(res.Body).Decode(out))
	}
	return res.StatusCode
}

func TestRouter_FarmerSpecialistFlow(t *testing.T) {
	srv := newServer(t, testConfig())
	farmer := newClient(t, srv, "F1")
	specialist := newClient(t, srv, "S1")

	var sent domain.Message
	status := farmer.do(http.MethodPost, "/api/messages", map[string]string{
		"recipient_id": "S1",
		"text":         "Leaves are yellowing",
	}, &sent)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, int64(1), sent.Sequence)
	assert.Equal(t, domain.ConversationKey("direct:F1:S1"), sent.Key)

	var list application.ConversationList
	require.Equal(t, http.StatusOK, specialist.do(http.MethodGet, "/api/conversations", nil, &list))
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, 1, list.TotalUnread)
	assert.Equal(t, "F1", list.Conversations[0].OtherParticipantID)

	var page application.HistoryPage
	path := "/api/conversations/" + url.PathEscape(sent.Key.String()) + "/messages?after=0&limit=10"
	require.Equal(t, http.StatusOK, specialist.do(http.MethodGet, path, nil, &page))
	require.Len(t, page.Messages, 1)
	assert.Equal(t, int64(1), page.NextAfter)

	status = specialist.do(http.MethodPost, "/api/conversations/read", map[string]string{"participant_id": "F1"}, nil)
	assert.Equal(t, http.StatusNoContent, status)

	require.Equal(t, http.StatusOK, specialist.do(http.MethodGet, "/api/conversations", nil, &list))
	assert.Zero(t, list.TotalUnread)

	var view application.ConversationView
	require.Equal(t, http.StatusOK, specialist.do(http.MethodPost, "/api/conversations/open", map[string]string{"participant_id": "F1"}, &view))
	assert.Equal(t, sent.Key, view.Key)
	assert.Len(t, view.Messages, 1)
}

func TestRouter_Errors(t *testing.T) {
	srv := newServer(t, testConfig())
	farmer := newClient(t, srv, "F1")
	outsider := newClient(t, srv, "S2")

	status := farmer.do(http.MethodPost, "/api/messages", map[string]string{"recipient_id": "S1", "text": "hi"}, nil)
	require.Equal(t, http.StatusCreated, status)

	tests := []struct {
		name   string
		c      *client
		method string
		path   string
		body   any
		want   int
	}{
		{name: "empty text", c: farmer, method: http.MethodPost, path: "/api/messages", body: map[string]string{"recipient_id": "S1", "text": "  "}, want: http.StatusBadRequest},
		{name: "message to self", c: farmer, method: http.MethodPost, path: "/api/messages", body: map[string]string{"recipient_id": "F1", "text": "hi"}, want: http.StatusBadRequest},
		{name: "unknown field", c: farmer, method: http.MethodPost, path: "/api/messages", body: map[string]string{"to": "S1"}, want: http.StatusBadRequest},
		{name: "foreign history", c: outsider, method: http.MethodGet, path: "/api/conversations/direct:F1:S1/messages", want: http.StatusNotFound},
		{name: "bad after", c: farmer, method: http.MethodGet, path: "/api/conversations/direct:F1:S1/messages?after=-1", want: http.StatusBadRequest},
		{name: "read without history", c: outsider, method: http.MethodPost, path: "/api/conversations/read", body: map[string]string{"participant_id": "F1"}, want: http.StatusNotFound},
		{name: "missing token", c: &client{t: t, base: srv.URL}, method: http.MethodGet, path: "/api/conversations", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.c.t = t
			assert.Equal(t, tt.want, tt.c.do(tt.method, tt.path, tt.body, nil))
		})
	}
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	srv := newServer(t, testConfig())

	for _, path := range []string{"/health/live", "/health/ready", "/metrics"} {
		res, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		res.Body.Close()
		assert.Equal(t, http.StatusOK, res.StatusCode, path)
	}
}

func TestRouter_RateLimiting(t *testing.T) {
	cfg := testConfig()
	cfg.AuthDisabled = true
	cfg.RateLimitRequests = 5
	cfg.RateLimitWindow = time.Minute
	srv := newServer(t, cfg)

	get := func(participantID string) int {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/conversations", nil)
		req.Header.Set(middleware.DevHeader, participantID)
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		res.Body.Close()
		return res.StatusCode
	}

	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusOK, get("F1"), "request %d limited too early", i)
	}
	assert.Equal(t, http.StatusTooManyRequests, get("F1"))
	assert.Equal(t, http.StatusOK, get("S1"), "limits are per participant")
}
