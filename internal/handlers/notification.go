package handlers

import (
	"net/http"

	"github.com/bizzylink/apiserver/internal/services"
	"github.com/go-chi/chi/v5"
)

type NotificationHandler struct {
	notificationService *services.NotificationService
}

// NotificationRouter registers /api/notifications routes.
func NotificationRouter(r chi.Router, notificationService *services.NotificationService, authMiddleware func(http.Handler) http.Handler) {
	handler := &NotificationHandler{notificationService: notificationService}

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/", handler.List)
		r.Put("/read-all", handler.MarkAllRead)
		r.Put("/{notificationID}/read", handler.MarkRead)
		r.Delete("/{notificationID}", handler.Delete)
	})
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	list, err := h.notificationService.List(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, "failed to list notifications")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	id, err := parseIDParam(r, "notificationID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.notificationService.MarkRead(r.Context(), userID, id); err != nil {
		writeServiceError(w, err, "failed to update notification")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Success: true})
}

type MarkAllReadResponse struct {
	Success bool  `json:"success"`
	Updated int64 `json:"updated"`
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	updated, err := h.notificationService.MarkAllRead(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, "failed to update notifications")
		return
	}
	writeJSON(w, http.StatusOK, MarkAllReadResponse{Success: true, Updated: updated})
}

func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	id, err := parseIDParam(r, "notificationID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.notificationService.Delete(r.Context(), userID, id); err != nil {
		writeServiceError(w, err, "failed to delete notification")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Success: true})
}
