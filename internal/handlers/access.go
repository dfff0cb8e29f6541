package handlers

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/bizzylink/apiserver/types"
)

// UserLoader resolves the authenticated subject to an account.
type UserLoader interface {
	GetByID(ctx context.Context, id int) (types.User, error)
}

// RequireAdmin allows only users passing types.User.IsAdmin. It must run
// after an auth middleware.
func RequireAdmin(users UserLoader) func(http.Handler) http.Handler {
	return requireUser(users, types.User.IsAdmin, "admin access required")
}

// RequireModerator allows only users who may moderate the forum.
func RequireModerator(users UserLoader) func(http.Handler) http.Handler {
	return requireUser(users, types.User.CanModerate, "moderator access required")
}

func requireUser(users UserLoader, allowed func(types.User) bool, denied string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := requireUserID(w, r)
			if !ok {
				return
			}

			user, ok := r.Context().Value(contextUserKey).(types.User)
			if !ok || user.ID != userID {
				loaded, err := users.GetByID(r.Context(), userID)
				if err != nil {
					writeError(w, http.StatusUnauthorized, "unauthorized")
					return
				}
				user = loaded
			}
			if user.AccountStatus != types.AccountActive {
				writeError(w, http.StatusForbidden, "account "+user.AccountStatus)
				return
			}
			if !allowed(user) {
				writeError(w, http.StatusForbidden, denied)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAPIKey guards plugin routes with the shared X-API-Key header.
func RequireAPIKey(key string) func(http.Handler) http.Handler {
	return requireSharedSecret("X-API-Key", key, "invalid API key")
}

// RequireInternalSecret guards service-to-service routes.
func RequireInternalSecret(secret string) func(http.Handler) http.Handler {
	return requireSharedSecret("X-Internal-Secret", secret, "invalid internal secret")
}

func requireSharedSecret(header, expected, denied string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get(header)
			if expected == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
				writeError(w, http.StatusUnauthorized, denied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
