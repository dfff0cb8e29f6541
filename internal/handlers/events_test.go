package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bizzylink/apiserver/internal/events"
	"github.com/bizzylink/apiserver/types"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// nextFrame returns the next data frame, skipping keep-alive comments.
func nextFrame(t *testing.T, reader *bufio.Reader) types.Event {
	t.Helper()
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		payload, ok := strings.CutPrefix(strings.TrimSpace(line), "data: ")
		if !ok {
			continue
		}
		var event types.Event
		require.NoError(t, json.Unmarshal([]byte(payload), &event))
		return event
	}
}

func TestEventsStream(t *testing.T) {
	hub := events.NewHub(zap.NewNop())
	users := newMemUsers(types.User{ID: 7, Username: "alex", Role: types.RoleAdmin, AccountStatus: types.AccountActive})

	router := chi.NewRouter()
	EventsRouter(router, hub, users, RequireStreamAuth(testSecret, users), zap.NewNop())
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	token := mustToken(t, 7, testSecret, time.Minute)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/?token="+token, nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	assert.Equal(t, types.EventConnected, nextFrame(t, reader).Type)

	require.Eventually(t, func() bool { return hub.Connected(7) }, time.Second, 10*time.Millisecond)
	hub.SendToAdmins(types.NewEvent(types.EventNotification, map[string]string{"title": "hello"}))
	assert.Equal(t, types.EventNotification, nextFrame(t, reader).Type)

	cancel()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestEventsStream_RequiresToken(t *testing.T) {
	hub := events.NewHub(zap.NewNop())
	users := newMemUsers()
	router := chi.NewRouter()
	EventsRouter(router, hub, users, RequireStreamAuth(testSecret, users), zap.NewNop())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?token="+mustToken(t, 99, testSecret, time.Minute), nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, hub.ClientCount())
}

func TestEventsStream_KeepAlive(t *testing.T) {
	hub := events.NewHub(zap.NewNop())
	users := newMemUsers(types.User{ID: 2, AccountStatus: types.AccountActive})
	handler := NewEventsHandler(hub, users, zap.NewNop())
	handler.keepAlive = 20 * time.Millisecond

	router := chi.NewRouter()
	router.With(RequireStreamAuth(testSecret, users)).Get("/", handler.Stream)
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/?token="+mustToken(t, 2, testSecret, time.Minute), nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	nextFrame(t, reader)
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, ": keep-alive") {
			break
		}
	}
}
