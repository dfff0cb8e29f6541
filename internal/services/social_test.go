package services

import (
	"context"
	"testing"

	"github.com/bizzylink/apiserver/internal/store"
	"github.com/bizzylink/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type pairKey struct{ a, b int }

func ordered(a, b int) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{a, b}
}

// mockSocialRepository keeps requests, friendships and follows in memory.
type mockSocialRepository struct {
	users    *mockUserRepository
	requests map[int]types.FriendRequest
	friends  map[pairKey]bool
	follows  map[pairKey]bool
}

func newMockSocialRepository(users *mockUserRepository) *mockSocialRepository {
	return &mockSocialRepository{
		users:    users,
		requests: make(map[int]types.FriendRequest),
		friends:  make(map[pairKey]bool),
		follows:  make(map[pairKey]bool),
	}
}

func (m *mockSocialRepository) GetFriendRequest(ctx context.Context, id int) (types.FriendRequest, error) {
	r, ok := m.requests[id]
	if !ok {
		return types.FriendRequest{}, store.ErrNotFound
	}
	return r, nil
}

func (m *mockSocialRepository) FindPendingRequest(ctx context.Context, a, b int) (types.FriendRequest, error) {
	for _, r := range m.requests {
		if r.Status == types.FriendRequestPending && ordered(r.SenderID, r.RecipientID) == ordered(a, b) {
			return r, nil
		}
	}
	return types.FriendRequest{}, store.ErrNotFound
}

func (m *mockSocialRepository) CreateFriendRequest(ctx context.Context, senderID, recipientID int) (types.FriendRequest, error) {
	r := types.FriendRequest{
		ID:          len(m.requests) + 1,
		SenderID:    senderID,
		RecipientID: recipientID,
		Sender:      m.users.users[senderID].Summary(),
		Status:      types.FriendRequestPending,
	}
	m.requests[r.ID] = r
	return r, nil
}

func (m *mockSocialRepository) ListIncomingRequests(ctx context.Context, userID int) ([]types.FriendRequest, error) {
	var out []types.FriendRequest
	for _, r := range m.requests {
		if r.RecipientID == userID && r.Status == types.FriendRequestPending {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockSocialRepository) setStatus(id int, status string) error {
	r, ok := m.requests[id]
	if !ok || r.Status != types.FriendRequestPending {
		return store.ErrNotFound
	}
	r.Status = status
	m.requests[id] = r
	return nil
}

func (m *mockSocialRepository) AcceptFriendRequest(ctx context.Context, id int) error {
	if err := m.setStatus(id, types.FriendRequestAccepted); err != nil {
		return err
	}
	r := m.requests[id]
	m.friends[ordered(r.SenderID, r.RecipientID)] = true
	return nil
}

func (m *mockSocialRepository) RejectFriendRequest(ctx context.Context, id int) error {
	return m.setStatus(id, types.FriendRequestRejected)
}

func (m *mockSocialRepository) AreFriends(ctx context.Context, a, b int) (bool, error) {
	return m.friends[ordered(a, b)], nil
}

func (m *mockSocialRepository) ListFriends(ctx context.Context, userID int) ([]types.Friend, error) {
	var out []types.Friend
	for key := range m.friends {
		switch userID {
		case key.a:
			out = append(out, types.Friend{UserSummary: m.users.users[key.b].Summary()})
		case key.b:
			out = append(out, types.Friend{UserSummary: m.users.users[key.a].Summary()})
		}
	}
	return out, nil
}

func (m *mockSocialRepository) RemoveFriend(ctx context.Context, a, b int) error {
	delete(m.friends, ordered(a, b))
	return nil
}

func (m *mockSocialRepository) Follow(ctx context.Context, followerID, followeeID int) (bool, error) {
	key := pairKey{followerID, followeeID}
	if m.follows[key] {
		return false, nil
	}
	m.follows[key] = true
	return true, nil
}

func (m *mockSocialRepository) Unfollow(ctx context.Context, followerID, followeeID int) (bool, error) {
	key := pairKey{followerID, followeeID}
	existed := m.follows[key]
	delete(m.follows, key)
	return existed, nil
}

func (m *mockSocialRepository) ListFollowing(ctx context.Context, userID int) ([]types.Follow, error) {
	var out []types.Follow
	for key := range m.follows {
		if key.a == userID {
			out = append(out, types.Follow{UserSummary: m.users.users[key.b].Summary()})
		}
	}
	return out, nil
}

func (m *mockSocialRepository) ListFollowers(ctx context.Context, userID int) ([]types.Follow, error) {
	var out []types.Follow
	for key := range m.follows {
		if key.b == userID {
			out = append(out, types.Follow{UserSummary: m.users.users[key.a].Summary()})
		}
	}
	return out, nil
}

func newSocialFixture(users ...types.User) (*SocialService, *mockSocialRepository, *mockNoticeSender) {
	if len(users) == 0 {
		users = []types.User{
			{ID: 1, Username: "steve", Settings: types.DefaultUserSettings()},
			{ID: 2, Username: "alex", Settings: types.DefaultUserSettings()},
		}
	}
	userRepo := newMockUserRepository(users...)
	repo := newMockSocialRepository(userRepo)
	notices := &mockNoticeSender{}
	return NewSocialService(repo, userRepo, notices, zap.NewNop()), repo, notices
}

func TestSocialService_FriendRequestFlow(t *testing.T) {
	svc, repo, notices := newSocialFixture()
	ctx := context.Background()

	request, err := svc.SendFriendRequest(ctx, 1, "alex")
	require.NoError(t, err)
	assert.Equal(t, 2, request.RecipientID)

	_, err = svc.SendFriendRequest(ctx, 2, "steve")
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.ErrorIs(t, svc.AcceptFriendRequest(ctx, 1, request.ID), ErrForbidden)
	require.NoError(t, svc.AcceptFriendRequest(ctx, 2, request.ID))
	assert.True(t, repo.friends[ordered(1, 2)])

	assert.ErrorIs(t, svc.AcceptFriendRequest(ctx, 2, request.ID), ErrInvalidInput)
	_, err = svc.SendFriendRequest(ctx, 1, "alex")
	assert.ErrorIs(t, err, ErrInvalidInput)

	friends, err := svc.Friends(ctx, 1)
	require.NoError(t, err)
	require.Len(t, friends, 1)
	assert.Equal(t, "alex", friends[0].Username)

	assert.Equal(t, []string{types.NotifyFriendRequest, types.NotifyFriendAccept}, notices.kinds())

	require.NoError(t, svc.RemoveFriend(ctx, 2, 1))
	assert.ErrorIs(t, svc.RemoveFriend(ctx, 2, 1), ErrInvalidInput)
}

func TestSocialService_SendFriendRequestRules(t *testing.T) {
	closed := types.DefaultUserSettings()
	closed.Privacy.AllowFriendRequests = false

	tests := []struct {
		name        string
		username    string
		expectedErr error
	}{
		{name: "self", username: "steve", expectedErr: ErrInvalidInput},
		{name: "unknown user", username: "ghost", expectedErr: store.ErrNotFound},
		{name: "empty username", username: " ", expectedErr: ErrInvalidInput},
		{name: "not accepting", username: "hermit", expectedErr: ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newSocialFixture(
				types.User{ID: 1, Username: "steve", Settings: types.DefaultUserSettings()},
				types.User{ID: 3, Username: "hermit", Settings: closed},
			)
			_, err := svc.SendFriendRequest(context.Background(), 1, tt.username)
			assert.ErrorIs(t, err, tt.expectedErr)
		})
	}
}

func TestSocialService_RejectFriendRequest(t *testing.T) {
	svc, repo, _ := newSocialFixture()
	ctx := context.Background()

	request, err := svc.SendFriendRequest(ctx, 1, "alex")
	require.NoError(t, err)
	require.NoError(t, svc.RejectFriendRequest(ctx, 2, request.ID))
	assert.Equal(t, types.FriendRequestRejected, repo.requests[request.ID].Status)
	assert.False(t, repo.friends[ordered(1, 2)])

	assert.ErrorIs(t, svc.RejectFriendRequest(ctx, 2, 99), store.ErrNotFound)
}

func TestSocialService_Follow(t *testing.T) {
	svc, _, notices := newSocialFixture()
	ctx := context.Background()

	created, err := svc.Follow(ctx, 1, "alex")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = svc.Follow(ctx, 1, "alex")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, []string{types.NotifyNewFollower}, notices.kinds())

	followers, err := svc.Followers(ctx, 2)
	require.NoError(t, err)
	require.Len(t, followers, 1)
	assert.Equal(t, "steve", followers[0].Username)

	_, err = svc.Follow(ctx, 1, "steve")
	assert.ErrorIs(t, err, ErrInvalidInput)

	removed, err := svc.Unfollow(ctx, 1, "alex")
	require.NoError(t, err)
	assert.True(t, removed)
	following, err := svc.Following(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, following)
}

func TestSocialService_FollowNotAllowed(t *testing.T) {
	closed := types.DefaultUserSettings()
	closed.Privacy.AllowFollowers = false
	svc, _, _ := newSocialFixture(
		types.User{ID: 1, Username: "steve", Settings: types.DefaultUserSettings()},
		types.User{ID: 2, Username: "alex", Settings: closed},
	)
	_, err := svc.Follow(context.Background(), 1, "alex")
	assert.ErrorIs(t, err, ErrForbidden)
}
