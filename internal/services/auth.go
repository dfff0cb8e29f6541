package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/bizzylink/apiserver/internal/store"
	"github.com/bizzylink/apiserver/types"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 10

// TokenRepository defines persistence for refresh tokens and invite codes.
type TokenRepository interface {
	CreateRefreshToken(ctx context.Context, token types.RefreshToken) (types.RefreshToken, error)
	GetRefreshToken(ctx context.Context, tokenHash string) (types.RefreshToken, error)
	DeleteRefreshToken(ctx context.Context, tokenHash string) error
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
	CreateInvite(ctx context.Context, invite types.InviteCode) (types.InviteCode, error)
	GetInvite(ctx context.Context, code string) (types.InviteCode, error)
	ListInvites(ctx context.Context) ([]types.InviteCode, error)
	RevokeInvite(ctx context.Context, code string) error
	RedeemInvite(ctx context.Context, code string, userID int, now time.Time) error
}

type AuthConfig struct {
	RefreshTTL      time.Duration
	MaxFailedLogins int
	LockoutDuration time.Duration
	RequireInvite   bool
}

type RegisterInput struct {
	Username   string
	Email      string
	Password   string
	InviteCode string
	IP         string
}

// Session is an authenticated user with a fresh refresh token. The access
// token is issued by the transport layer.
type Session struct {
	User         types.User
	RefreshToken string
}

// AuthService handles registration, login and refresh token rotation.
type AuthService struct {
	users  UserRepository
	tokens TokenRepository
	cfg    AuthConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewAuthService(users UserRepository, tokens TokenRepository, cfg AuthConfig, logger *zap.Logger) *AuthService {
	return &AuthService{
		users:  users,
		tokens: tokens,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (Session, error) {
	username := strings.TrimSpace(in.Username)
	if !validUsername(username) {
		return Session{}, invalid("Username must be 3-20 characters and contain only letters, numbers and underscores")
	}
	if len(in.Password) < minPasswordLength {
		return Session{}, invalid("Password must be at least %d characters", minPasswordLength)
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return Session{}, err
	}

	inviteCode := strings.TrimSpace(in.InviteCode)
	if s.cfg.RequireInvite {
		if inviteCode == "" {
			return Session{}, invalid("An invite code is required to register")
		}
		invite, err := s.tokens.GetInvite(ctx, inviteCode)
		if errors.Is(err, store.ErrNotFound) || (err == nil && !invite.Usable(s.now())) {
			return Session{}, invalid("Invalid or expired invite code")
		}
		if err != nil {
			return Session{}, err
		}
	}

	if _, err := s.users.GetByUsername(ctx, username); err == nil {
		return Session{}, conflict("Username already taken")
	} else if !errors.Is(err, store.ErrNotFound) {
		return Session{}, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcryptCost)
	if err != nil {
		return Session{}, err
	}

	user, err := s.users.Create(ctx, types.User{
		Username:       username,
		Email:          email,
		PasswordHash:   string(hashed),
		Role:           types.RoleUser,
		ForumRank:      types.ForumRankUser,
		LuckPermsGroup: "default",
		Permissions:    types.DerivePermissions(types.RoleUser, types.ForumRankUser),
		AccountStatus:  types.AccountActive,
		RegistrationIP: in.IP,
		LastLoginIP:    in.IP,
		Settings:       types.DefaultUserSettings(),
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return Session{}, conflict("Username or email already taken")
		}
		return Session{}, err
	}

	if s.cfg.RequireInvite {
		if err := s.tokens.RedeemInvite(ctx, inviteCode, user.ID, s.now()); err != nil {
			// Lost a race for the same invite.
			if delErr := s.users.Delete(ctx, user.ID); delErr != nil {
				s.logger.Error("failed to remove user after invite redemption failure",
					zap.Int("user_id", user.ID), zap.Error(delErr))
			}
			if errors.Is(err, store.ErrNotFound) {
				return Session{}, invalid("Invalid or expired invite code")
			}
			return Session{}, err
		}
	}

	s.logger.Info("user registered", zap.Int("user_id", user.ID), zap.String("username", user.Username))
	return s.newSession(ctx, user)
}

func (s *AuthService) Login(ctx context.Context, username, password, ip string) (Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return Session{}, invalid("Username and password are required")
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}

	now := s.now()
	if user.IsLocked(now) {
		return Session{}, &Error{Kind: ErrAccountLocked, Message: "Account temporarily locked due to too many failed login attempts"}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		locked, recErr := s.users.RecordFailedLogin(ctx, user.ID, s.cfg.MaxFailedLogins, now.Add(s.cfg.LockoutDuration))
		if recErr != nil {
			return Session{}, recErr
		}
		if locked {
			s.logger.Warn("account locked", zap.Int("user_id", user.ID), zap.String("ip", ip))
			return Session{}, &Error{Kind: ErrAccountLocked, Message: "Account temporarily locked due to too many failed login attempts"}
		}
		return Session{}, ErrInvalidCredentials
	}

	if user.AccountStatus != types.AccountActive {
		return Session{}, &Error{Kind: ErrAccountDisabled, Message: "Account is " + user.AccountStatus}
	}

	if err := s.users.RecordLogin(ctx, user.ID, ip, now); err != nil {
		return Session{}, err
	}
	user.FailedLogins = 0
	user.LockedUntil = nil
	user.LastLoginAt = &now
	user.LastLoginIP = ip

	return s.newSession(ctx, user)
}

// Refresh exchanges a refresh token for a new session. The presented token
// is revoked.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, ErrInvalidToken
	}
	hash := hashToken(refreshToken)

	stored, err := s.tokens.GetRefreshToken(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, ErrInvalidToken
		}
		return Session{}, err
	}
	if err := s.tokens.DeleteRefreshToken(ctx, hash); err != nil && !errors.Is(err, store.ErrNotFound) {
		return Session{}, err
	}
	if !s.now().Before(stored.ExpiresAt) {
		return Session{}, ErrInvalidToken
	}

	user, err := activeUser(ctx, s.users, stored.UserID)
	if err != nil {
		return Session{}, err
	}
	return s.newSession(ctx, user)
}

// Logout revokes a refresh token. Unknown tokens are ignored.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		return nil
	}
	err := s.tokens.DeleteRefreshToken(ctx, hashToken(refreshToken))
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// PurgeExpiredTokens removes refresh tokens that can no longer be used.
func (s *AuthService) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	removed, err := s.tokens.DeleteExpiredRefreshTokens(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info("expired refresh tokens removed", zap.Int64("count", removed))
	}
	return removed, nil
}

// Profile returns the current user and refreshes their activity timestamp.
func (s *AuthService) Profile(ctx context.Context, userID int) (types.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return types.User{}, notFoundAs(err, "User not found")
	}
	now := s.now()
	if err := s.users.TouchActive(ctx, userID, now); err != nil {
		s.logger.Warn("failed to record activity", zap.Int("user_id", userID), zap.Error(err))
	} else {
		user.LastActiveAt = &now
	}
	return user, nil
}

func (s *AuthService) newSession(ctx context.Context, user types.User) (Session, error) {
	raw, err := randomToken(32)
	if err != nil {
		return Session{}, err
	}
	if _, err := s.tokens.CreateRefreshToken(ctx, types.RefreshToken{
		UserID:    user.ID,
		TokenHash: hashToken(raw),
		ExpiresAt: s.now().Add(s.cfg.RefreshTTL),
	}); err != nil {
		return Session{}, err
	}
	return Session{User: user, RefreshToken: raw}, nil
}

func randomToken(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// activeUser loads the acting account. Unknown users fail as ErrInvalidToken
// and suspended or banned ones as ErrAccountDisabled.
func activeUser(ctx context.Context, users UserReader, id int) (types.User, error) {
	user, err := users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrInvalidToken
		}
		return types.User{}, err
	}
	if user.AccountStatus != types.AccountActive {
		return types.User{}, &Error{Kind: ErrAccountDisabled, Message: "Account is " + user.AccountStatus}
	}
	return user, nil
}
