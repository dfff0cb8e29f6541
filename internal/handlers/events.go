package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bizzylink/apiserver/internal/events"
	"github.com/bizzylink/apiserver/types"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const defaultKeepAlive = 30 * time.Second

// EventsHandler streams hub events to browsers as server-sent events.
type EventsHandler struct {
	hub       *events.Hub
	users     UserLoader
	keepAlive time.Duration
	logger    *zap.Logger
}

func NewEventsHandler(hub *events.Hub, users UserLoader, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{
		hub:       hub,
		users:     users,
		keepAlive: defaultKeepAlive,
		logger:    logger,
	}
}

// EventsRouter registers GET /api/events. streamAuth must accept ?token=.
func EventsRouter(r chi.Router, hub *events.Hub, users UserLoader, streamAuth func(http.Handler) http.Handler, logger *zap.Logger) {
	handler := NewEventsHandler(hub, users, logger)
	r.With(streamAuth).Get("/", handler.Stream)
}

// Stream holds the connection open until the client goes away.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	client := h.hub.Register(user.ID, user.IsAdmin())
	defer h.hub.Unregister(client)

	if err := writeEvent(w, types.NewEvent(types.EventConnected, nil)); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, open := <-client.Events():
			if !open {
				return
			}
			if err := writeEvent(w, event); err != nil {
				h.logger.Debug("event stream write failed", zap.Int("user_id", user.ID), zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event types.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}
