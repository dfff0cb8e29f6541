package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bizzylink/apiserver/internal/storage"
	"github.com/bizzylink/apiserver/internal/store"
	"github.com/bizzylink/apiserver/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MediaPrefix is the URL path objects are served under.
const MediaPrefix = "/api/media/"

var avatarExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByUsername(ctx context.Context, username string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
	Delete(ctx context.Context, id int) error
	List(ctx context.Context, offset, limit int) ([]types.User, int, error)
	Search(ctx context.Context, term string, limit int) ([]types.User, error)
	Count(ctx context.Context) (int, error)
	RecordFailedLogin(ctx context.Context, id, maxAttempts int, lockUntil time.Time) (bool, error)
	RecordLogin(ctx context.Context, id int, ip string, at time.Time) error
	TouchActive(ctx context.Context, id int, at time.Time) error
}

// LedgerReader reads a user's reputation, vouch and balance history.
type LedgerReader interface {
	ReputationHistory(ctx context.Context, targetID int) ([]types.ReputationEntry, error)
	VouchHistory(ctx context.Context, targetID int) ([]types.VouchEntry, error)
	Transactions(ctx context.Context, userID int) ([]types.Transaction, error)
}

type FriendChecker interface {
	AreFriends(ctx context.Context, a, b int) (bool, error)
}

type LinkReader interface {
	GetByUserID(ctx context.Context, userID int) (types.MinecraftLink, error)
}

// ObjectStore is the subset of object storage used for user media.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (*storage.Object, error)
	Delete(ctx context.Context, key string) error
}

// ProfileUpdate carries optional profile changes.
type ProfileUpdate struct {
	Avatar   *string
	Bio      *string
	Settings *types.UserSettings
}

type PrivacyUpdate struct {
	ShowBalance         *bool   `json:"showBalance"`
	ShowReputation      *bool   `json:"showReputation"`
	ShowVouches         *bool   `json:"showVouches"`
	ProfileVisibility   *string `json:"profileVisibility"`
	AllowFriendRequests *bool   `json:"allowFriendRequests"`
	AllowFollowers      *bool   `json:"allowFollowers"`
}

type NotificationSettingsUpdate struct {
	FriendRequests *bool `json:"friendRequests"`
	NewFollowers   *bool `json:"newFollowers"`
	FriendActivity *bool `json:"friendActivity"`
	InGame         *bool `json:"inGame"`
	Reputation     *bool `json:"reputation"`
	Vouches        *bool `json:"vouches"`
	Donations      *bool `json:"donations"`
}

type BalanceView struct {
	Balance      int64               `json:"balance"`
	Transactions []types.Transaction `json:"transactions"`
}

type ReputationView struct {
	Reputation int                     `json:"reputation"`
	History    []types.ReputationEntry `json:"history"`
}

type VouchView struct {
	Vouches int                `json:"vouches"`
	History []types.VouchEntry `json:"history"`
}

// UserService encapsulates profile, settings and media use-cases.
type UserService struct {
	repo      UserRepository
	ledger    LedgerReader
	friends   FriendChecker
	links     LinkReader
	media     ObjectStore
	maxUpload int64
	logger    *zap.Logger
}

func NewUserService(
	repo UserRepository,
	ledger LedgerReader,
	friends FriendChecker,
	links LinkReader,
	media ObjectStore,
	maxUpload int64,
	logger *zap.Logger,
) *UserService {
	return &UserService{
		repo:      repo,
		ledger:    ledger,
		friends:   friends,
		links:     links,
		media:     media,
		maxUpload: maxUpload,
		logger:    logger,
	}
}

func (s *UserService) GetByID(ctx context.Context, id int) (types.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.User{}, notFoundAs(err, "User not found")
	}
	return user, nil
}

func (s *UserService) UpdateProfile(ctx context.Context, id int, update ProfileUpdate) (types.User, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return types.User{}, err
	}
	if update.Avatar != nil {
		user.Avatar = strings.TrimSpace(*update.Avatar)
	}
	if update.Bio != nil {
		user.Bio = *update.Bio
	}
	if update.Settings != nil {
		if !validVisibility(update.Settings.Privacy.ProfileVisibility) {
			return types.User{}, invalid("Invalid profile visibility")
		}
		user.Settings = *update.Settings
	}
	return s.repo.Update(ctx, user)
}

func (s *UserService) UpdatePrivacy(ctx context.Context, id int, update PrivacyUpdate) (types.PrivacySettings, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return types.PrivacySettings{}, err
	}
	privacy := &user.Settings.Privacy
	if update.ProfileVisibility != nil {
		if !validVisibility(*update.ProfileVisibility) {
			return types.PrivacySettings{}, invalid("Profile visibility must be public, friends or private")
		}
		privacy.ProfileVisibility = *update.ProfileVisibility
	}
	setBool(&privacy.ShowBalance, update.ShowBalance)
	setBool(&privacy.ShowReputation, update.ShowReputation)
	setBool(&privacy.ShowVouches, update.ShowVouches)
	setBool(&privacy.AllowFriendRequests, update.AllowFriendRequests)
	setBool(&privacy.AllowFollowers, update.AllowFollowers)

	updated, err := s.repo.Update(ctx, user)
	if err != nil {
		return types.PrivacySettings{}, err
	}
	return updated.Settings.Privacy, nil
}

func (s *UserService) UpdateNotificationSettings(ctx context.Context, id int, update NotificationSettingsUpdate) (types.NotificationSettings, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return types.NotificationSettings{}, err
	}
	settings := &user.Settings.Notifications
	setBool(&settings.FriendRequests, update.FriendRequests)
	setBool(&settings.NewFollowers, update.NewFollowers)
	setBool(&settings.FriendActivity, update.FriendActivity)
	setBool(&settings.InGame, update.InGame)
	setBool(&settings.Reputation, update.Reputation)
	setBool(&settings.Vouches, update.Vouches)
	setBool(&settings.Donations, update.Donations)

	updated, err := s.repo.Update(ctx, user)
	if err != nil {
		return types.NotificationSettings{}, err
	}
	return updated.Settings.Notifications, nil
}

func (s *UserService) UpdateSignature(ctx context.Context, id int, signature string) (types.User, error) {
	if !validSignature(signature) {
		return types.User{}, invalid("Signature must be at most %d characters", maxSignatureRunes)
	}
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return types.User{}, err
	}
	user.Signature = signature
	return s.repo.Update(ctx, user)
}

func (s *UserService) Balance(ctx context.Context, id int) (BalanceView, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return BalanceView{}, err
	}
	txns, err := s.ledger.Transactions(ctx, id)
	if err != nil {
		return BalanceView{}, err
	}
	return BalanceView{Balance: user.Balance, Transactions: txns}, nil
}

func (s *UserService) Reputation(ctx context.Context, id int) (ReputationView, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return ReputationView{}, err
	}
	history, err := s.ledger.ReputationHistory(ctx, id)
	if err != nil {
		return ReputationView{}, err
	}
	return ReputationView{Reputation: user.Reputation, History: history}, nil
}

func (s *UserService) Vouches(ctx context.Context, id int) (VouchView, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return VouchView{}, err
	}
	history, err := s.ledger.VouchHistory(ctx, id)
	if err != nil {
		return VouchView{}, err
	}
	return VouchView{Vouches: user.Vouches, History: history}, nil
}

// UploadAvatar stores an avatar image and points the user's avatar at it.
// The previous uploaded avatar is removed.
func (s *UserService) UploadAvatar(ctx context.Context, id int, r io.Reader, size int64, contentType string) (types.User, error) {
	ext, ok := avatarExtensions[contentType]
	if !ok {
		return types.User{}, invalid("Avatar must be a PNG, JPEG, GIF or WebP image")
	}
	if size <= 0 || (s.maxUpload > 0 && size > s.maxUpload) {
		return types.User{}, invalid("Avatar must be at most %d bytes", s.maxUpload)
	}

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return types.User{}, err
	}

	key := fmt.Sprintf("avatars/%d/%s%s", id, uuid.NewString(), ext)
	if err := s.media.Put(ctx, key, r, size, contentType); err != nil {
		return types.User{}, fmt.Errorf("store avatar: %w", err)
	}

	previous := user.Avatar
	user.Avatar = MediaPrefix + key
	updated, err := s.repo.Update(ctx, user)
	if err != nil {
		return types.User{}, err
	}

	ownPrefix := fmt.Sprintf("%savatars/%d/", MediaPrefix, id)
	if strings.HasPrefix(previous, ownPrefix) {
		oldKey := strings.TrimPrefix(previous, MediaPrefix)
		if err := s.media.Delete(ctx, oldKey); err != nil {
			s.logger.Warn("failed to delete previous avatar", zap.String("key", oldKey), zap.Error(err))
		}
	}
	return updated, nil
}

// OpenMedia opens a stored object for streaming. Callers must close it.
func (s *UserService) OpenMedia(ctx context.Context, key string) (*storage.Object, error) {
	obj, err := s.media.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, notFound("File not found")
		}
		return nil, err
	}
	return obj, nil
}

// PublicProfile returns username's profile as seen by viewerID, who may be 0
// for anonymous viewers.
func (s *UserService) PublicProfile(ctx context.Context, viewerID int, username string) (types.PublicProfile, error) {
	target, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		return types.PublicProfile{}, notFoundAs(err, "User not found")
	}

	privileged := viewerID == target.ID
	if !privileged && viewerID > 0 {
		viewer, err := s.repo.GetByID(ctx, viewerID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return types.PublicProfile{}, err
		}
		privileged = err == nil && viewer.IsAdmin()
	}

	privacy := target.Settings.Privacy
	if !privileged {
		switch privacy.ProfileVisibility {
		case types.VisibilityPrivate:
			return types.PublicProfile{}, forbidden("This profile is private")
		case types.VisibilityFriends:
			friends := false
			if viewerID > 0 {
				if friends, err = s.friends.AreFriends(ctx, viewerID, target.ID); err != nil {
					return types.PublicProfile{}, err
				}
			}
			if !friends {
				return types.PublicProfile{}, forbidden("This profile is only visible to friends")
			}
		}
	}

	profile := types.PublicProfile{
		ID:          target.ID,
		Username:    target.Username,
		Avatar:      target.Avatar,
		Bio:         target.Bio,
		Signature:   target.Signature,
		Role:        target.Role,
		ForumRank:   target.ForumRank,
		PostCount:   target.PostCount,
		ThreadCount: target.ThreadCount,
		LastActive:  target.LastActiveAt,
		CreatedAt:   target.CreatedAt,
	}
	if privileged || privacy.ShowReputation {
		profile.Reputation = &target.Reputation
	}
	if privileged || privacy.ShowVouches {
		profile.Vouches = &target.Vouches
	}
	if privileged || privacy.ShowBalance {
		profile.Balance = &target.Balance
	}

	link, err := s.links.GetByUserID(ctx, target.ID)
	switch {
	case err == nil:
		profile.Minecraft = link.Info()
	case !errors.Is(err, store.ErrNotFound):
		return types.PublicProfile{}, err
	}
	return profile, nil
}

func setBool(dst *bool, value *bool) {
	if value != nil {
		*dst = *value
	}
}
