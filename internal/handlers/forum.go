package handlers

import (
	"net/http"
	"strings"

	"github.com/bizzylink/apiserver/internal/services"
	"github.com/bizzylink/apiserver/types"
	"github.com/go-chi/chi/v5"
)

// ForumHandler provides HTTP handlers for categories, threads and posts.
type ForumHandler struct {
	forumService *services.ForumService
	userService  *services.UserService
}

func NewForumHandler(forumService *services.ForumService, userService *services.UserService) *ForumHandler {
	return &ForumHandler{forumService: forumService, userService: userService}
}

// ForumRouter registers forum routes on the given router.
func ForumRouter(
	r chi.Router,
	forumService *services.ForumService,
	userService *services.UserService,
	authMiddleware func(http.Handler) http.Handler,
	optionalAuth func(http.Handler) http.Handler,
) {
	handler := NewForumHandler(forumService, userService)
	requireAdmin := RequireAdmin(userService)

	r.Get("/categories", handler.ListCategories)
	r.With(authMiddleware, requireAdmin).Post("/categories", handler.CreateCategory)
	r.With(authMiddleware, requireAdmin).Put("/categories/{categoryID}", handler.UpdateCategory)
	r.With(authMiddleware, requireAdmin).Delete("/categories/{categoryID}", handler.DeleteCategory)
	r.Get("/categories/{categoryID}/threads", handler.ListThreads)

	r.With(authMiddleware).Post("/threads", handler.CreateThread)
	r.Route("/threads/{threadID}", func(r chi.Router) {
		r.With(optionalAuth).Get("/", handler.GetThread)
		r.With(authMiddleware).Put("/", handler.UpdateThread)
		r.With(authMiddleware).Delete("/", handler.DeleteThread)
		r.With(authMiddleware).Post("/posts", handler.Reply)
	})

	r.Route("/posts/{postID}", func(r chi.Router) {
		r.Use(authMiddleware)
		r.Put("/", handler.EditPost)
		r.Delete("/", handler.DeletePost)
		r.Post("/like", handler.ToggleLike)
	})

	r.Get("/search", handler.Search)
	r.Get("/users/{userID}/stats", handler.UserStats)
	r.With(authMiddleware).Put("/signature", handler.UpdateSignature)
}

func (h *ForumHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.forumService.Categories(r.Context())
	if err != nil {
		writeServiceError(w, err, "failed to list categories")
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

func (h *ForumHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req services.CategoryInput
	if !decodeJSON(w, r, &req) {
		return
	}
	category, err := h.forumService.CreateCategory(r.Context(), req)
	if err != nil {
		writeServiceError(w, err, "failed to create category")
		return
	}
	writeJSON(w, http.StatusCreated, category)
}

func (h *ForumHandler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "categoryID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req services.CategoryInput
	if !decodeJSON(w, r, &req) {
		return
	}
	category, err := h.forumService.UpdateCategory(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, err, "failed to update category")
		return
	}
	writeJSON(w, http.StatusOK, category)
}

func (h *ForumHandler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "categoryID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.forumService.DeleteCategory(r.Context(), id); err != nil {
		writeServiceError(w, err, "failed to delete category")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "Category deleted"})
}

// ThreadListResponse is a page of threads.
type ThreadListResponse struct {
	Threads    []types.Thread `json:"threads"`
	Page       int            `json:"page"`
	Limit      int            `json:"limit"`
	Total      int            `json:"total"`
	TotalPages int            `json:"totalPages"`
}

func (h *ForumHandler) ListThreads(w http.ResponseWriter, r *http.Request) {
	categoryID, err := parseIDParam(r, "categoryID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	threads, total, err := h.forumService.Threads(r.Context(), categoryID, offset, limit)
	if err != nil {
		writeServiceError(w, err, "failed to list threads")
		return
	}
	writeJSON(w, http.StatusOK, ThreadListResponse{
		Threads:    threads,
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages(total, limit),
	})
}

func (h *ForumHandler) CreateThread(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var req services.ThreadInput
	if !decodeJSON(w, r, &req) {
		return
	}
	thread, err := h.forumService.CreateThread(r.Context(), userID, req)
	if err != nil {
		writeServiceError(w, err, "failed to create thread")
		return
	}
	writeJSON(w, http.StatusCreated, thread)
}

func (h *ForumHandler) GetThread(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "threadID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	detail, err := h.forumService.Thread(r.Context(), viewerID(r), id)
	if err != nil {
		writeServiceError(w, err, "failed to load thread")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// ThreadPatchRequest is the body of thread edit and moderation requests.
type ThreadPatchRequest struct {
	Title      *string `json:"title"`
	Pinned     *bool   `json:"pinned"`
	Locked     *bool   `json:"locked"`
	CategoryID *int    `json:"categoryId"`
}

func (p ThreadPatchRequest) patch() types.ThreadPatch {
	return types.ThreadPatch{
		Title:      p.Title,
		Pinned:     p.Pinned,
		Locked:     p.Locked,
		CategoryID: p.CategoryID,
	}
}

func (h *ForumHandler) UpdateThread(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	id, err := parseIDParam(r, "threadID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req ThreadPatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	thread, err := h.forumService.UpdateThread(r.Context(), actorFromRequest(r, userID), id, req.patch())
	if err != nil {
		writeServiceError(w, err, "failed to update thread")
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

func (h *ForumHandler) DeleteThread(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	id, err := parseIDParam(r, "threadID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.forumService.DeleteThread(r.Context(), actorFromRequest(r, userID), id); err != nil {
		writeServiceError(w, err, "failed to delete thread")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "Thread deleted"})
}

type ContentRequest struct {
	Content string `json:"content"`
}

func (h *ForumHandler) Reply(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	threadID, err := parseIDParam(r, "threadID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req ContentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	post, err := h.forumService.Reply(r.Context(), userID, threadID, req.Content)
	if err != nil {
		writeServiceError(w, err, "failed to create post")
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

func (h *ForumHandler) EditPost(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	postID, err := parseIDParam(r, "postID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req ContentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	post, err := h.forumService.EditPost(r.Context(), userID, postID, req.Content)
	if err != nil {
		writeServiceError(w, err, "failed to update post")
		return
	}
	writeJSON(w, http.StatusOK, post)
}

// DeletePostResponse tells the client whether the whole thread went away.
type DeletePostResponse struct {
	Success       bool `json:"success"`
	ThreadDeleted bool `json:"threadDeleted"`
}

func (h *ForumHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	postID, err := parseIDParam(r, "postID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	threadDeleted, err := h.forumService.DeletePost(r.Context(), actorFromRequest(r, userID), postID)
	if err != nil {
		writeServiceError(w, err, "failed to delete post")
		return
	}
	writeJSON(w, http.StatusOK, DeletePostResponse{Success: true, ThreadDeleted: threadDeleted})
}

func (h *ForumHandler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	postID, err := parseIDParam(r, "postID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.forumService.ToggleLike(r.Context(), userID, postID)
	if err != nil {
		writeServiceError(w, err, "failed to like post")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *ForumHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "search query is required")
		return
	}
	_, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.forumService.Search(r.Context(), query, offset, limit)
	if err != nil {
		writeServiceError(w, err, "failed to search")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *ForumHandler) UserStats(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := h.forumService.UserStats(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "failed to load user stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type SignatureRequest struct {
	Signature string `json:"signature"`
}

func (h *ForumHandler) UpdateSignature(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var req SignatureRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := h.userService.UpdateSignature(r.Context(), userID, req.Signature)
	if err != nil {
		writeServiceError(w, err, "failed to update signature")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"signature": user.Signature})
}
