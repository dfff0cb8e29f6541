package handlers

import (
	"net/http"

	"github.com/bizzylink/apiserver/internal/services"
	"github.com/go-chi/chi/v5"
)

type ReputationHandler struct {
	reputationService *services.ReputationService
}

// ReputationRouter registers the reputation, vouch and donation routes under
// /api/forum/users/{userID}.
func ReputationRouter(r chi.Router, reputationService *services.ReputationService, authMiddleware func(http.Handler) http.Handler) {
	handler := &ReputationHandler{reputationService: reputationService}

	r.With(authMiddleware).Post("/users/{userID}/reputation", handler.Vote)
	r.With(authMiddleware).Post("/users/{userID}/vouch", handler.Vouch)
	r.With(authMiddleware).Post("/users/{userID}/donate", handler.Donate)
}

type VoteRequest struct {
	Value int `json:"value"`
}

func (h *ReputationHandler) Vote(w http.ResponseWriter, r *http.Request) {
	giverID, targetID, ok := parseGiverTarget(w, r)
	if !ok {
		return
	}
	var req VoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	summary, err := h.reputationService.Vote(r.Context(), giverID, targetID, req.Value)
	if err != nil {
		writeServiceError(w, err, "failed to update reputation")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type VouchRequest struct {
	Context string `json:"context"`
}

func (h *ReputationHandler) Vouch(w http.ResponseWriter, r *http.Request) {
	giverID, targetID, ok := parseGiverTarget(w, r)
	if !ok {
		return
	}
	var req VouchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.reputationService.Vouch(r.Context(), giverID, targetID, req.Context)
	if err != nil {
		writeServiceError(w, err, "failed to vouch")
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

type DonateRequest struct {
	Amount  int64  `json:"amount"`
	Message string `json:"message"`
}

func (h *ReputationHandler) Donate(w http.ResponseWriter, r *http.Request) {
	fromID, toID, ok := parseGiverTarget(w, r)
	if !ok {
		return
	}
	var req DonateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	txn, err := h.reputationService.Donate(r.Context(), fromID, toID, req.Amount, req.Message)
	if err != nil {
		writeServiceError(w, err, "failed to donate")
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

func parseGiverTarget(w http.ResponseWriter, r *http.Request) (giverID, targetID int, ok bool) {
	giverID, ok = requireUserID(w, r)
	if !ok {
		return 0, 0, false
	}
	targetID, err := parseIDParam(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, 0, false
	}
	return giverID, targetID, true
}
