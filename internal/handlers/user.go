package handlers

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/bizzylink/apiserver/internal/services"
	"github.com/bizzylink/apiserver/types"
	"github.com/go-chi/chi/v5"
)

const (
	maxMultipartMemory = 8 << 20
	formFieldFile      = "file"
	multipartOverhead  = 1 << 20
)

// UserHandler serves the current user's profile, settings and ledgers.
type UserHandler struct {
	userService *services.UserService
	maxUpload   int64
}

func NewUserHandler(userService *services.UserService, maxUpload int64) *UserHandler {
	return &UserHandler{userService: userService, maxUpload: maxUpload}
}

// UserRouter registers /api/user routes. Every route requires authentication.
func UserRouter(r chi.Router, userService *services.UserService, maxUpload int64, authMiddleware func(http.Handler) http.Handler) {
	handler := NewUserHandler(userService, maxUpload)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/profile", handler.GetProfile)
		r.Put("/profile", handler.UpdateProfile)
		r.Put("/settings/privacy", handler.UpdatePrivacy)
		r.Put("/settings/notifications", handler.UpdateNotifications)
		r.Get("/balance", handler.Balance)
		r.Get("/reputation", handler.Reputation)
		r.Get("/vouches", handler.Vouches)
		r.Post("/avatar", handler.UploadAvatar)
	})
}

// PublicProfileRouter registers /api/users/{username}.
func PublicProfileRouter(r chi.Router, userService *services.UserService, optionalAuth func(http.Handler) http.Handler) {
	handler := NewUserHandler(userService, 0)
	r.With(optionalAuth).Get("/{username}", handler.PublicProfile)
}

// MediaRouter streams stored objects under /api/media/.
func MediaRouter(r chi.Router, userService *services.UserService) {
	handler := NewUserHandler(userService, 0)
	r.Get("/*", handler.Media)
}

func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	user, err := h.userService.GetByID(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, "failed to load profile")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type UpdateProfileRequest struct {
	Avatar   *string             `json:"avatar"`
	Bio      *string             `json:"bio"`
	Settings *types.UserSettings `json:"settings"`
}

func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var req UpdateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := h.userService.UpdateProfile(r.Context(), userID, services.ProfileUpdate{
		Avatar:   req.Avatar,
		Bio:      req.Bio,
		Settings: req.Settings,
	})
	if err != nil {
		writeServiceError(w, err, "failed to update profile")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) UpdatePrivacy(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var req services.PrivacyUpdate
	if !decodeJSON(w, r, &req) {
		return
	}
	privacy, err := h.userService.UpdatePrivacy(r.Context(), userID, req)
	if err != nil {
		writeServiceError(w, err, "failed to update privacy settings")
		return
	}
	writeJSON(w, http.StatusOK, privacy)
}

func (h *UserHandler) UpdateNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var req services.NotificationSettingsUpdate
	if !decodeJSON(w, r, &req) {
		return
	}
	settings, err := h.userService.UpdateNotificationSettings(r.Context(), userID, req)
	if err != nil {
		writeServiceError(w, err, "failed to update notification settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *UserHandler) Balance(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	view, err := h.userService.Balance(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, "failed to load balance")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *UserHandler) Reputation(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	view, err := h.userService.Reputation(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, "failed to load reputation")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *UserHandler) Vouches(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	view, err := h.userService.Vouches(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, "failed to load vouches")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// UploadAvatar accepts a multipart "file" field and stores it as the avatar.
func (h *UserHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartOverhead)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile(formFieldFile)
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType, err = sniffContentType(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read upload")
			return
		}
	}

	user, err := h.userService.UploadAvatar(r.Context(), userID, file, header.Size, contentType)
	if err != nil {
		writeServiceError(w, err, "failed to upload avatar")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func sniffContentType(file io.ReadSeeker) (string, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return http.DetectContentType(head[:n]), nil
}

func (h *UserHandler) PublicProfile(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(chi.URLParam(r, "username"))
	profile, err := h.userService.PublicProfile(r.Context(), viewerID(r), username)
	if err != nil {
		writeServiceError(w, err, "failed to load profile")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// Media streams an object from storage.
func (h *UserHandler) Media(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if key == "" {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}

	obj, err := h.userService.OpenMedia(r.Context(), key)
	if err != nil {
		writeServiceError(w, err, "failed to load file")
		return
	}
	defer obj.Close()

	if obj.ContentType != "" {
		w.Header().Set("Content-Type", obj.ContentType)
	}
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, obj)
}
