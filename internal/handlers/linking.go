package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bizzylink/apiserver/internal/services"
	"github.com/go-chi/chi/v5"
)

// LinkingHandler serves the website and plugin sides of account linking.
type LinkingHandler struct {
	linkingService *services.LinkingService
}

func NewLinkingHandler(linkingService *services.LinkingService) *LinkingHandler {
	return &LinkingHandler{linkingService: linkingService}
}

// LinkCodeRouter registers /api/linkcode routes.
func LinkCodeRouter(
	r chi.Router,
	linkingService *services.LinkingService,
	authMiddleware func(http.Handler) http.Handler,
	pluginMiddleware func(http.Handler) http.Handler,
) {
	handler := NewLinkingHandler(linkingService)

	r.With(authMiddleware).Post("/generate", handler.GenerateCode)
	r.With(authMiddleware).Get("/active", handler.ActiveCode)

	r.Group(func(r chi.Router) {
		r.Use(pluginMiddleware)
		r.Post("/validate", handler.Validate)
		r.Get("/pending/{mcUsername}", handler.Pending)
		r.Get("/lookup", handler.Lookup)
	})
}

// MinecraftRouter registers /api/minecraft routes.
func MinecraftRouter(
	r chi.Router,
	linkingService *services.LinkingService,
	authMiddleware func(http.Handler) http.Handler,
	pluginMiddleware func(http.Handler) http.Handler,
) {
	handler := NewLinkingHandler(linkingService)

	r.With(authMiddleware).Get("/link-status", handler.LinkStatus)
	r.With(authMiddleware).Post("/unlink", handler.Unlink)

	r.Group(func(r chi.Router) {
		r.Use(pluginMiddleware)
		r.Post("/unlink/plugin", handler.UnlinkPlayer)
		r.Get("/check/{username}", handler.CheckUser)
		r.Post("/force-refresh/{uuid}", handler.ForceRefresh)
	})
}

// PlayerRouter registers /api/player routes. All of them are plugin-only.
func PlayerRouter(r chi.Router, linkingService *services.LinkingService, pluginMiddleware func(http.Handler) http.Handler) {
	handler := NewLinkingHandler(linkingService)

	r.Group(func(r chi.Router) {
		r.Use(pluginMiddleware)
		r.Get("/status", handler.PlayerStatusQuery)
		r.Post("/update", handler.UpdatePlayer)
		r.Post("/stats", handler.RecordStats)
		r.Get("/{uuid}", handler.PlayerStatus)
	})
}

// InternalRouter registers service-to-service routes.
func InternalRouter(r chi.Router, linkingService *services.LinkingService, internalMiddleware func(http.Handler) http.Handler) {
	handler := NewLinkingHandler(linkingService)
	r.With(internalMiddleware).Post("/emit-unlink", handler.EmitUnlink)
}

type GenerateCodeRequest struct {
	MCUsername    string `json:"mcUsername"`
	ExpiryMinutes int    `json:"expiryMinutes"`
}

func (h *LinkingHandler) GenerateCode(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var req GenerateCodeRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}
	code, err := h.linkingService.GenerateCode(r.Context(), userID, req.MCUsername, req.ExpiryMinutes)
	if err != nil {
		writeServiceError(w, err, "failed to generate link code")
		return
	}
	writeJSON(w, http.StatusCreated, code)
}

func (h *LinkingHandler) ActiveCode(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	code, err := h.linkingService.ActiveCode(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, "failed to load link code")
		return
	}
	writeJSON(w, http.StatusOK, code)
}

func (h *LinkingHandler) LinkStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	status, err := h.linkingService.Status(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, "failed to load link status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *LinkingHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	result, err := h.linkingService.Unlink(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, "failed to unlink account")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type ValidateRequest struct {
	Code       string `json:"code"`
	MCUUID     string `json:"mcUUID"`
	MCUsername string `json:"mcUsername"`
}

// Validate redeems a link code for the player. Rejections that the player can
// act on are reported as 200 with success=false.
func (h *LinkingHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.linkingService.Validate(r.Context(), req.Code, req.MCUUID, req.MCUsername)
	if err != nil {
		writeServiceError(w, err, "failed to validate link code")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *LinkingHandler) Pending(w http.ResponseWriter, r *http.Request) {
	code, err := h.linkingService.Pending(r.Context(), chi.URLParam(r, "mcUsername"))
	if err != nil {
		writeServiceError(w, err, "failed to load pending code")
		return
	}
	writeJSON(w, http.StatusOK, code)
}

func (h *LinkingHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	status, err := h.linkingService.Lookup(r.Context(), query.Get("uuid"), query.Get("username"))
	if err != nil {
		writeServiceError(w, err, "failed to look up player")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type PlayerRequest struct {
	MCUUID     string          `json:"mcUUID"`
	MCUsername string          `json:"mcUsername"`
	Data       json.RawMessage `json:"data,omitempty"`
	Stats      json.RawMessage `json:"stats,omitempty"`
}

func (h *LinkingHandler) UnlinkPlayer(w http.ResponseWriter, r *http.Request) {
	var req PlayerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.linkingService.UnlinkPlayer(r.Context(), req.MCUUID, req.MCUsername)
	if err != nil {
		writeServiceError(w, err, "failed to unlink player")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *LinkingHandler) CheckUser(w http.ResponseWriter, r *http.Request) {
	status, err := h.linkingService.CheckUser(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		writeServiceError(w, err, "failed to check user")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *LinkingHandler) ForceRefresh(w http.ResponseWriter, r *http.Request) {
	status, err := h.linkingService.ForceRefresh(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		writeServiceError(w, err, "failed to refresh player")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *LinkingHandler) PlayerStatus(w http.ResponseWriter, r *http.Request) {
	h.writePlayerStatus(w, r, chi.URLParam(r, "uuid"))
}

func (h *LinkingHandler) PlayerStatusQuery(w http.ResponseWriter, r *http.Request) {
	h.writePlayerStatus(w, r, r.URL.Query().Get("uuid"))
}

func (h *LinkingHandler) writePlayerStatus(w http.ResponseWriter, r *http.Request, uuid string) {
	status, err := h.linkingService.PlayerStatus(r.Context(), strings.TrimSpace(uuid))
	if err != nil {
		writeServiceError(w, err, "failed to load player")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *LinkingHandler) UpdatePlayer(w http.ResponseWriter, r *http.Request) {
	var req PlayerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	link, err := h.linkingService.UpdatePlayer(r.Context(), req.MCUUID, req.MCUsername, req.Data)
	if err != nil {
		writeServiceError(w, err, "failed to update player")
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (h *LinkingHandler) RecordStats(w http.ResponseWriter, r *http.Request) {
	var req PlayerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	link, err := h.linkingService.RecordStats(r.Context(), req.MCUUID, req.Stats)
	if err != nil {
		writeServiceError(w, err, "failed to record stats")
		return
	}
	writeJSON(w, http.StatusOK, link)
}

type EmitUnlinkRequest struct {
	UserID int `json:"userId"`
}

func (h *LinkingHandler) EmitUnlink(w http.ResponseWriter, r *http.Request) {
	var req EmitUnlinkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID < 1 {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	result, err := h.linkingService.EmitUnlink(r.Context(), req.UserID)
	if err != nil {
		writeServiceError(w, err, "failed to emit unlink")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
