package handlers

import (
	"net/http"
	"strings"

	"github.com/bizzylink/apiserver/internal/services"
	"github.com/bizzylink/apiserver/types"
	"github.com/go-chi/chi/v5"
)

// AdminHandler serves the admin dashboard.
type AdminHandler struct {
	adminService *services.AdminService
	forumService *services.ForumService
}

func NewAdminHandler(adminService *services.AdminService, forumService *services.ForumService) *AdminHandler {
	return &AdminHandler{adminService: adminService, forumService: forumService}
}

// AdminRouter registers /api/admin routes. check-access only needs a session;
// forum moderation needs moderator rights and everything else admin rights.
func AdminRouter(
	r chi.Router,
	adminService *services.AdminService,
	forumService *services.ForumService,
	users UserLoader,
	authMiddleware func(http.Handler) http.Handler,
) {
	handler := NewAdminHandler(adminService, forumService)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/check-access", handler.CheckAccess)

		r.Group(func(r chi.Router) {
			r.Use(RequireModerator(users))
			r.Get("/forum/stats", handler.ForumStats)
			r.Put("/forum/threads/{threadID}/moderate", handler.ModerateThread)
		})

		r.Group(func(r chi.Router) {
			r.Use(RequireAdmin(users))
			r.Get("/users", handler.ListUsers)
			r.Get("/users/search/{query}", handler.SearchUsers)
			r.Get("/users/{userID}", handler.GetUser)
			r.Put("/users/{userID}", handler.UpdateUser)
			r.Put("/users/{userID}/permissions", handler.UpdatePermissions)
			r.Delete("/users/{userID}", handler.DeleteUser)

			r.Get("/minecraft/user-permissions/{userID}", handler.LuckPerms)
			r.Put("/minecraft/user-permissions/{userID}", handler.UpdateLuckPerms)
			r.Post("/minecraft/unlink/{userID}", handler.ForceUnlink)

			r.Get("/audit-logs", handler.AuditLogs)

			r.Get("/invites", handler.ListInvites)
			r.Post("/invites", handler.CreateInvite)
			r.Delete("/invites/{code}", handler.RevokeInvite)
		})
	})
}

func (h *AdminHandler) CheckAccess(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	access, err := h.adminService.CheckAccess(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, "failed to check access")
		return
	}
	writeJSON(w, http.StatusOK, access)
}

// UserListResponse is a page of users for the dashboard.
type UserListResponse struct {
	Users       []types.User `json:"users"`
	TotalPages  int          `json:"totalPages"`
	CurrentPage int          `json:"currentPage"`
	TotalUsers  int          `json:"totalUsers"`
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	users, total, err := h.adminService.ListUsers(r.Context(), offset, limit)
	if err != nil {
		writeServiceError(w, err, "failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, UserListResponse{
		Users:       users,
		TotalPages:  totalPages(total, limit),
		CurrentPage: page,
		TotalUsers:  total,
	})
}

func (h *AdminHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.adminService.SearchUsers(r.Context(), chi.URLParam(r, "query"))
	if err != nil {
		writeServiceError(w, err, "failed to search users")
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := h.adminService.GetUser(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "failed to load user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *AdminHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndTarget(w, r)
	if !ok {
		return
	}
	var req services.AdminUserUpdate
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := h.adminService.UpdateUser(r.Context(), actor, id, req)
	if err != nil {
		writeServiceError(w, err, "failed to update user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *AdminHandler) UpdatePermissions(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndTarget(w, r)
	if !ok {
		return
	}
	var req types.Permissions
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := h.adminService.UpdatePermissions(r.Context(), actor, id, req)
	if err != nil {
		writeServiceError(w, err, "failed to update permissions")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndTarget(w, r)
	if !ok {
		return
	}
	if err := h.adminService.DeleteUser(r.Context(), actor, id); err != nil {
		writeServiceError(w, err, "failed to delete user")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "User deleted"})
}

func (h *AdminHandler) LuckPerms(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	info, err := h.adminService.LuckPerms(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "failed to load permissions")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type LuckPermsRequest struct {
	LuckPermsGroup string `json:"luckpermsGroup"`
}

func (h *AdminHandler) UpdateLuckPerms(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndTarget(w, r)
	if !ok {
		return
	}
	var req LuckPermsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	info, err := h.adminService.UpdateLuckPerms(r.Context(), actor, id, req.LuckPermsGroup)
	if err != nil {
		writeServiceError(w, err, "failed to update permissions")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *AdminHandler) ForceUnlink(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndTarget(w, r)
	if !ok {
		return
	}
	result, err := h.adminService.ForceUnlink(r.Context(), actor, id)
	if err != nil {
		writeServiceError(w, err, "failed to unlink account")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *AdminHandler) ForumStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.forumService.Overview(r.Context())
	if err != nil {
		writeServiceError(w, err, "failed to load forum stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *AdminHandler) ModerateThread(w http.ResponseWriter, r *http.Request) {
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
	patch := req.patch()
	patch.Title = nil
	thread, err := h.forumService.ModerateThread(r.Context(), actorFromRequest(r, userID), id, patch)
	if err != nil {
		writeServiceError(w, err, "failed to moderate thread")
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

// AuditLogResponse is a page of audit entries.
type AuditLogResponse struct {
	Logs        []types.AuditLog `json:"logs"`
	TotalPages  int              `json:"totalPages"`
	CurrentPage int              `json:"currentPage"`
	Total       int              `json:"total"`
}

func (h *AdminHandler) AuditLogs(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	logs, total, err := h.adminService.AuditLogs(r.Context(), r.URL.Query().Get("action"), offset, limit)
	if err != nil {
		writeServiceError(w, err, "failed to load audit logs")
		return
	}
	writeJSON(w, http.StatusOK, AuditLogResponse{
		Logs:        logs,
		TotalPages:  totalPages(total, limit),
		CurrentPage: page,
		Total:       total,
	})
}

func (h *AdminHandler) ListInvites(w http.ResponseWriter, r *http.Request) {
	invites, err := h.adminService.ListInvites(r.Context())
	if err != nil {
		writeServiceError(w, err, "failed to list invites")
		return
	}
	writeJSON(w, http.StatusOK, invites)
}

type CreateInviteRequest struct {
	ExpiresInHours int `json:"expiresInHours"`
}

func (h *AdminHandler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var req CreateInviteRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}
	invite, err := h.adminService.CreateInvite(r.Context(), actorFromRequest(r, userID), req.ExpiresInHours)
	if err != nil {
		writeServiceError(w, err, "failed to create invite")
		return
	}
	writeJSON(w, http.StatusCreated, invite)
}

func (h *AdminHandler) RevokeInvite(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	code := strings.TrimSpace(chi.URLParam(r, "code"))
	if err := h.adminService.RevokeInvite(r.Context(), actorFromRequest(r, userID), code); err != nil {
		writeServiceError(w, err, "failed to revoke invite")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "Invite revoked"})
}

func (h *AdminHandler) actorAndTarget(w http.ResponseWriter, r *http.Request) (types.Actor, int, bool) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return types.Actor{}, 0, false
	}
	id, err := parseIDParam(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return types.Actor{}, 0, false
	}
	return actorFromRequest(r, userID), id, true
}
