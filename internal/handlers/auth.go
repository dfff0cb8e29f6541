package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bizzylink/apiserver/internal/services"
	"github.com/bizzylink/apiserver/internal/store"
	"github.com/bizzylink/apiserver/types"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenTTL = 15 * time.Minute

// AuthHandler provides JWT authentication endpoints.
type AuthHandler struct {
	authService *services.AuthService
	users       UserLoader
	secret      []byte
	tokenTTL    time.Duration
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(authService *services.AuthService, users UserLoader, jwtSecret string, tokenTTL time.Duration) *AuthHandler {
	if tokenTTL <= 0 {
		tokenTTL = defaultTokenTTL
	}
	return &AuthHandler{
		authService: authService,
		users:       users,
		secret:      []byte(jwtSecret),
		tokenTTL:    tokenTTL,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, authService *services.AuthService, users UserLoader, jwtSecret string, tokenTTL time.Duration) {
	handler := NewAuthHandler(authService, users, jwtSecret, tokenTTL)

	r.Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.Post("/refresh-token", handler.RefreshToken)
	r.Post("/logout", handler.Logout)
	r.With(handler.RequireAuth).Get("/profile", handler.Profile)
}

// RequireAuth enforces JWT authentication and injects the subject into context.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return requireAuth(h.secret, h.users, false)(next)
}

// RequireAuth verifies the bearer token and loads the account behind it.
// Unknown accounts get 401 and suspended or banned ones 403.
func RequireAuth(jwtSecret string, users UserLoader) func(http.Handler) http.Handler {
	return requireAuth([]byte(jwtSecret), users, false)
}

// RequireStreamAuth is RequireAuth that also accepts the token as a ?token=
// query parameter, for EventSource clients that cannot set headers.
func RequireStreamAuth(jwtSecret string, users UserLoader) func(http.Handler) http.Handler {
	return requireAuth([]byte(jwtSecret), users, true)
}

// OptionalAuth injects the subject when a valid token is present and lets
// anonymous requests through otherwise.
func OptionalAuth(jwtSecret string) func(http.Handler) http.Handler {
	secret := []byte(jwtSecret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			subject, err := parseTokenSubject(tokenString, secret)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := context.WithValue(r.Context(), contextSubjectKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requireAuth(secret []byte, users UserLoader, allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil && allowQuery {
				tokenString = strings.TrimSpace(r.URL.Query().Get("token"))
				if tokenString != "" {
					err = nil
				}
			}
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			subject, err := parseTokenSubject(tokenString, secret)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			ctx := context.WithValue(r.Context(), contextSubjectKey, subject)
			userID, err := userIDFromContext(ctx)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			user, err := users.GetByID(ctx, userID)
			switch {
			case errors.Is(err, store.ErrNotFound):
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			case err != nil:
				writeError(w, http.StatusInternalServerError, "failed to load user")
				return
			case user.AccountStatus != types.AccountActive:
				writeError(w, http.StatusForbidden, "account "+user.AccountStatus)
				return
			}

			ctx = context.WithValue(ctx, contextUserKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Register creates a new account and returns a token pair.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := h.authService.Register(r.Context(), services.RegisterInput{
		Username:   req.Username,
		Email:      req.Email,
		Password:   req.Password,
		InviteCode: req.InviteCode,
		IP:         clientIP(r),
	})
	if err != nil {
		writeServiceError(w, err, "failed to register")
		return
	}

	h.writeSession(w, http.StatusCreated, "Registration successful", session)
}

// Login verifies credentials and returns a token pair.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing credentials")
		return
	}

	session, err := h.authService.Login(r.Context(), req.Username, req.Password, clientIP(r))
	if err != nil {
		writeServiceError(w, err, "failed to authenticate")
		return
	}

	h.writeSession(w, http.StatusOK, "Login successful", session)
}

// RefreshToken rotates a refresh token and issues a new access token.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, http.StatusBadRequest, "refresh token is required")
		return
	}

	session, err := h.authService.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeServiceError(w, err, "failed to refresh token")
		return
	}

	h.writeSession(w, http.StatusOK, "Token refreshed", session)
}

// Logout revokes a refresh token. It always succeeds from the client's view.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	_ = h.authService.Logout(r.Context(), req.RefreshToken)
	writeJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "Logged out"})
}

// Profile returns the current authenticated user.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	user, err := h.authService.Profile(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, "failed to load user")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (h *AuthHandler) writeSession(w http.ResponseWriter, status int, message string, session services.Session) {
	token, err := issueToken(session.User.ID, h.secret, h.tokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}
	writeJSON(w, status, AuthResponse{
		Success:      true,
		Message:      message,
		User:         session.User,
		Token:        token,
		RefreshToken: session.RefreshToken,
	})
}

type RegisterRequest struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	InviteCode string `json:"inviteCode"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type AuthResponse struct {
	Success      bool       `json:"success"`
	Message      string     `json:"message"`
	User         types.User `json:"user"`
	Token        string     `json:"token"`
	RefreshToken string     `json:"refreshToken"`
}

func issueToken(userID int, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.Itoa(userID),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func parseTokenSubject(tokenString string, secret []byte) (string, error) {
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("missing subject")
	}
	return claims.Subject, nil
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
