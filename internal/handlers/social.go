package handlers

import (
	"net/http"
	"strings"

	"github.com/bizzylink/apiserver/internal/services"
	"github.com/go-chi/chi/v5"
)

// SocialHandler serves friends and follows.
type SocialHandler struct {
	socialService *services.SocialService
}

// FriendsRouter registers /api/friends routes.
func FriendsRouter(r chi.Router, socialService *services.SocialService, authMiddleware func(http.Handler) http.Handler) {
	handler := &SocialHandler{socialService: socialService}

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/", handler.Friends)
		r.Get("/requests", handler.IncomingRequests)
		r.Post("/request", handler.SendRequest)
		r.Post("/accept/{requestID}", handler.AcceptRequest)
		r.Post("/reject/{requestID}", handler.RejectRequest)
		r.Delete("/{friendID}", handler.RemoveFriend)
	})
}

// FollowingRouter registers /api/following routes.
func FollowingRouter(r chi.Router, socialService *services.SocialService, authMiddleware func(http.Handler) http.Handler) {
	handler := &SocialHandler{socialService: socialService}

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/", handler.Following)
		r.Get("/followers", handler.Followers)
		r.Post("/{username}", handler.Follow)
		r.Delete("/{username}", handler.Unfollow)
	})
}

func (h *SocialHandler) Friends(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	friends, err := h.socialService.Friends(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, "failed to list friends")
		return
	}
	writeJSON(w, http.StatusOK, friends)
}

func (h *SocialHandler) IncomingRequests(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	requests, err := h.socialService.IncomingRequests(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, "failed to list friend requests")
		return
	}
	writeJSON(w, http.StatusOK, requests)
}

type FriendRequestBody struct {
	Username string `json:"username"`
}

func (h *SocialHandler) SendRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var req FriendRequestBody
	if !decodeJSON(w, r, &req) {
		return
	}
	request, err := h.socialService.SendFriendRequest(r.Context(), userID, req.Username)
	if err != nil {
		writeServiceError(w, err, "failed to send friend request")
		return
	}
	writeJSON(w, http.StatusCreated, request)
}

func (h *SocialHandler) AcceptRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	requestID, err := parseIDParam(r, "requestID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.socialService.AcceptFriendRequest(r.Context(), userID, requestID); err != nil {
		writeServiceError(w, err, "failed to accept friend request")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "Friend request accepted"})
}

func (h *SocialHandler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	requestID, err := parseIDParam(r, "requestID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.socialService.RejectFriendRequest(r.Context(), userID, requestID); err != nil {
		writeServiceError(w, err, "failed to reject friend request")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "Friend request rejected"})
}

func (h *SocialHandler) RemoveFriend(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	friendID, err := parseIDParam(r, "friendID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.socialService.RemoveFriend(r.Context(), userID, friendID); err != nil {
		writeServiceError(w, err, "failed to remove friend")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "Friend removed"})
}

func (h *SocialHandler) Following(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	following, err := h.socialService.Following(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, "failed to list following")
		return
	}
	writeJSON(w, http.StatusOK, following)
}

func (h *SocialHandler) Followers(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	followers, err := h.socialService.Followers(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, "failed to list followers")
		return
	}
	writeJSON(w, http.StatusOK, followers)
}

// FollowResponse reports whether the call changed anything.
type FollowResponse struct {
	Success bool `json:"success"`
	Changed bool `json:"changed"`
}

func (h *SocialHandler) Follow(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	created, err := h.socialService.Follow(r.Context(), userID, strings.TrimSpace(chi.URLParam(r, "username")))
	if err != nil {
		writeServiceError(w, err, "failed to follow user")
		return
	}
	writeJSON(w, http.StatusOK, FollowResponse{Success: true, Changed: created})
}

func (h *SocialHandler) Unfollow(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	removed, err := h.socialService.Unfollow(r.Context(), userID, strings.TrimSpace(chi.URLParam(r, "username")))
	if err != nil {
		writeServiceError(w, err, "failed to unfollow user")
		return
	}
	writeJSON(w, http.StatusOK, FollowResponse{Success: true, Changed: removed})
}
