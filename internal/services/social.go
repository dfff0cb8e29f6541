package services

import (
	"context"
	"errors"
	"strings"

	"github.com/bizzylink/apiserver/internal/store"
	"github.com/bizzylink/apiserver/types"
	"go.uber.org/zap"
)

// SocialRepository defines persistence for friendships and follows.
type SocialRepository interface {
	GetFriendRequest(ctx context.Context, id int) (types.FriendRequest, error)
	FindPendingRequest(ctx context.Context, a, b int) (types.FriendRequest, error)
	CreateFriendRequest(ctx context.Context, senderID, recipientID int) (types.FriendRequest, error)
	ListIncomingRequests(ctx context.Context, userID int) ([]types.FriendRequest, error)
	AcceptFriendRequest(ctx context.Context, id int) error
	RejectFriendRequest(ctx context.Context, id int) error
	AreFriends(ctx context.Context, a, b int) (bool, error)
	ListFriends(ctx context.Context, userID int) ([]types.Friend, error)
	RemoveFriend(ctx context.Context, a, b int) error
	Follow(ctx context.Context, followerID, followeeID int) (bool, error)
	Unfollow(ctx context.Context, followerID, followeeID int) (bool, error)
	ListFollowing(ctx context.Context, userID int) ([]types.Follow, error)
	ListFollowers(ctx context.Context, userID int) ([]types.Follow, error)
}

// SocialService manages friend requests, friendships and follows.
type SocialService struct {
	repo    SocialRepository
	users   UserRepository
	notices NoticeSender
	logger  *zap.Logger
}

func NewSocialService(repo SocialRepository, users UserRepository, notices NoticeSender, logger *zap.Logger) *SocialService {
	return &SocialService{repo: repo, users: users, notices: notices, logger: logger}
}

func (s *SocialService) Friends(ctx context.Context, userID int) ([]types.Friend, error) {
	return s.repo.ListFriends(ctx, userID)
}

func (s *SocialService) IncomingRequests(ctx context.Context, userID int) ([]types.FriendRequest, error) {
	return s.repo.ListIncomingRequests(ctx, userID)
}

func (s *SocialService) SendFriendRequest(ctx context.Context, senderID int, username string) (types.FriendRequest, error) {
	target, err := s.lookup(ctx, username)
	if err != nil {
		return types.FriendRequest{}, err
	}
	if target.ID == senderID {
		return types.FriendRequest{}, invalid("You cannot send a friend request to yourself")
	}
	if !target.Settings.Privacy.AllowFriendRequests {
		return types.FriendRequest{}, forbidden("This user is not accepting friend requests")
	}

	friends, err := s.repo.AreFriends(ctx, senderID, target.ID)
	if err != nil {
		return types.FriendRequest{}, err
	}
	if friends {
		return types.FriendRequest{}, invalid("You are already friends with this user")
	}
	if _, err := s.repo.FindPendingRequest(ctx, senderID, target.ID); err == nil {
		return types.FriendRequest{}, invalid("A friend request between you is already pending")
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.FriendRequest{}, err
	}

	request, err := s.repo.CreateFriendRequest(ctx, senderID, target.ID)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return types.FriendRequest{}, invalid("A friend request between you is already pending")
		}
		return types.FriendRequest{}, err
	}

	s.notices.Deliver(ctx, Notice{
		RecipientID: target.ID,
		SenderID:    senderID,
		Type:        types.NotifyFriendRequest,
		Message:     request.Sender.Username + " sent you a friend request",
		Data:        map[string]int{"request_id": request.ID},
	})
	return request, nil
}

func (s *SocialService) AcceptFriendRequest(ctx context.Context, userID, requestID int) error {
	request, err := s.pendingRequestFor(ctx, userID, requestID)
	if err != nil {
		return err
	}
	if err := s.repo.AcceptFriendRequest(ctx, requestID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return invalid("Friend request is no longer pending")
		}
		return err
	}

	recipient, err := s.users.GetByID(ctx, userID)
	if err != nil {
		s.logger.Warn("failed to load friend request recipient", zap.Int("user_id", userID), zap.Error(err))
		return nil
	}
	s.notices.Deliver(ctx, Notice{
		RecipientID: request.SenderID,
		SenderID:    userID,
		Type:        types.NotifyFriendAccept,
		Message:     recipient.Username + " accepted your friend request",
		Data:        map[string]int{"request_id": request.ID},
	})
	return nil
}

func (s *SocialService) RejectFriendRequest(ctx context.Context, userID, requestID int) error {
	if _, err := s.pendingRequestFor(ctx, userID, requestID); err != nil {
		return err
	}
	if err := s.repo.RejectFriendRequest(ctx, requestID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return invalid("Friend request is no longer pending")
		}
		return err
	}
	return nil
}

func (s *SocialService) RemoveFriend(ctx context.Context, userID, friendID int) error {
	friends, err := s.repo.AreFriends(ctx, userID, friendID)
	if err != nil {
		return err
	}
	if !friends {
		return invalid("You are not friends with this user")
	}
	if err := s.repo.RemoveFriend(ctx, userID, friendID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

// Follow subscribes followerID to username. Following twice is a no-op; the
// result reports whether a new follow was created.
func (s *SocialService) Follow(ctx context.Context, followerID int, username string) (bool, error) {
	target, err := s.lookup(ctx, username)
	if err != nil {
		return false, err
	}
	if target.ID == followerID {
		return false, invalid("You cannot follow yourself")
	}
	if !target.Settings.Privacy.AllowFollowers {
		return false, forbidden("This user does not allow followers")
	}

	created, err := s.repo.Follow(ctx, followerID, target.ID)
	if err != nil {
		return false, err
	}
	if created {
		follower, err := s.users.GetByID(ctx, followerID)
		if err == nil {
			s.notices.Deliver(ctx, Notice{
				RecipientID: target.ID,
				SenderID:    followerID,
				Type:        types.NotifyNewFollower,
				Message:     follower.Username + " started following you",
			})
		}
	}
	return created, nil
}

func (s *SocialService) Unfollow(ctx context.Context, followerID int, username string) (bool, error) {
	target, err := s.lookup(ctx, username)
	if err != nil {
		return false, err
	}
	return s.repo.Unfollow(ctx, followerID, target.ID)
}

func (s *SocialService) Following(ctx context.Context, userID int) ([]types.Follow, error) {
	return s.repo.ListFollowing(ctx, userID)
}

func (s *SocialService) Followers(ctx context.Context, userID int) ([]types.Follow, error) {
	return s.repo.ListFollowers(ctx, userID)
}

func (s *SocialService) lookup(ctx context.Context, username string) (types.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return types.User{}, invalid("Username is required")
	}
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return types.User{}, notFoundAs(err, "User not found")
	}
	return user, nil
}

func (s *SocialService) pendingRequestFor(ctx context.Context, userID, requestID int) (types.FriendRequest, error) {
	request, err := s.repo.GetFriendRequest(ctx, requestID)
	if err != nil {
		return types.FriendRequest{}, notFoundAs(err, "Friend request not found")
	}
	if request.RecipientID != userID {
		return types.FriendRequest{}, forbidden("Not authorized to respond to this friend request")
	}
	if request.Status != types.FriendRequestPending {
		return types.FriendRequest{}, invalid("Friend request is no longer pending")
	}
	return request, nil
}
