package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bizzylink/apiserver/internal/services"
	"github.com/bizzylink/apiserver/internal/store"
	"github.com/bizzylink/apiserver/types"
)

type memUsers struct {
	mu     sync.Mutex
	users  map[int]types.User
	nextID int
}

func newMemUsers(users ...types.User) *memUsers {
	m := &memUsers{users: make(map[int]types.User), nextID: 1}
	for _, user := range users {
		m.users[user.ID] = user
		if user.ID >= m.nextID {
			m.nextID = user.ID + 1
		}
	}
	return m
}

func (m *memUsers) GetByID(ctx context.Context, id int) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (m *memUsers) GetByUsername(ctx context.Context, username string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Username == username {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (m *memUsers) Create(ctx context.Context, user types.User) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user.ID = m.nextID
	m.nextID++
	m.users[user.ID] = user
	return user, nil
}

func (m *memUsers) Update(ctx context.Context, user types.User) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
	return user, nil
}

func (m *memUsers) Delete(ctx context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	return nil
}

func (m *memUsers) List(ctx context.Context, offset, limit int) ([]types.User, int, error) {
	return nil, 0, errors.New("not implemented")
}

func (m *memUsers) Search(ctx context.Context, term string, limit int) ([]types.User, error) {
	return nil, errors.New("not implemented")
}

func (m *memUsers) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users), nil
}

func (m *memUsers) RecordFailedLogin(ctx context.Context, id, maxAttempts int, lockUntil time.Time) (bool, error) {
	return false, nil
}

func (m *memUsers) RecordLogin(ctx context.Context, id int, ip string, at time.Time) error {
	return nil
}

func (m *memUsers) TouchActive(ctx context.Context, id int, at time.Time) error {
	return nil
}

type memTokens struct {
	mu      sync.Mutex
	refresh map[string]types.RefreshToken
}

func newMemTokens() *memTokens {
	return &memTokens{refresh: make(map[string]types.RefreshToken)}
}

func (m *memTokens) CreateRefreshToken(ctx context.Context, token types.RefreshToken) (types.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh[token.TokenHash] = token
	return token, nil
}

func (m *memTokens) GetRefreshToken(ctx context.Context, tokenHash string) (types.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.refresh[tokenHash]
	if !ok {
		return types.RefreshToken{}, store.ErrNotFound
	}
	return token, nil
}

func (m *memTokens) DeleteRefreshToken(ctx context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.refresh[tokenHash]; !ok {
		return store.ErrNotFound
	}
	delete(m.refresh, tokenHash)
	return nil
}

func (m *memTokens) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (m *memTokens) CreateInvite(ctx context.Context, invite types.InviteCode) (types.InviteCode, error) {
	return invite, nil
}

func (m *memTokens) GetInvite(ctx context.Context, code string) (types.InviteCode, error) {
	return types.InviteCode{}, store.ErrNotFound
}

func (m *memTokens) ListInvites(ctx context.Context) ([]types.InviteCode, error) {
	return nil, nil
}

func (m *memTokens) RevokeInvite(ctx context.Context, code string) error {
	return store.ErrNotFound
}

func (m *memTokens) RedeemInvite(ctx context.Context, code string, userID int, now time.Time) error {
	return store.ErrNotFound
}

type fakePinger struct {
	err error
}

func (p fakePinger) PingContext(ctx context.Context) error {
	return p.err
}

type quietNotices struct{}

func (quietNotices) Deliver(ctx context.Context, notice services.Notice) {}

type quietPusher struct{}

func (quietPusher) Notify(userID int, event types.Event)         {}
func (quietPusher) NotifyCritical(userID int, event types.Event) {}
func (quietPusher) NotifyAdmins(event types.Event)               {}

type quietPlugin struct{}

func (quietPlugin) Publish(ctx context.Context, event string, data any) error {
	return nil
}

// Repository fakes below embed the service interface. Methods a test does not
// override panic when reached.

type fakeLinks struct {
	services.LinkRepository
	redeem func(code, mcUUID, mcUsername string) (types.MinecraftLink, error)
}

func (f *fakeLinks) RedeemCode(ctx context.Context, code, mcUUID, mcUsername string, now time.Time) (types.MinecraftLink, error) {
	return f.redeem(code, mcUUID, mcUsername)
}

type fakeVotes struct {
	services.ReputationRepository
	mu         sync.Mutex
	votes      map[[2]int]int
	reputation map[int]int
}

func newFakeVotes() *fakeVotes {
	return &fakeVotes{votes: make(map[[2]int]int), reputation: make(map[int]int)}
}

func (f *fakeVotes) ApplyVote(ctx context.Context, targetID, giverID, value int) (types.ReputationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := [2]int{targetID, giverID}
	previous := f.votes[key]
	if previous == value {
		return types.ReputationSummary{}, store.ErrDuplicateVote
	}
	f.votes[key] = value
	f.reputation[targetID] += value - previous

	summary := types.ReputationSummary{Reputation: f.reputation[targetID]}
	for k, v := range f.votes {
		if k[0] != targetID {
			continue
		}
		if v > 0 {
			summary.PositiveCount++
		} else {
			summary.NegativeCount++
		}
	}
	return summary, nil
}

type fakeSocial struct {
	services.SocialRepository
	requests map[int]types.FriendRequest
}

func (f *fakeSocial) AreFriends(ctx context.Context, a, b int) (bool, error) {
	return false, nil
}

func (f *fakeSocial) FindPendingRequest(ctx context.Context, a, b int) (types.FriendRequest, error) {
	return types.FriendRequest{}, store.ErrNotFound
}

func (f *fakeSocial) CreateFriendRequest(ctx context.Context, senderID, recipientID int) (types.FriendRequest, error) {
	request := types.FriendRequest{
		ID:          len(f.requests) + 1,
		SenderID:    senderID,
		RecipientID: recipientID,
		Status:      types.FriendRequestPending,
	}
	f.requests[request.ID] = request
	return request, nil
}

func (f *fakeSocial) GetFriendRequest(ctx context.Context, id int) (types.FriendRequest, error) {
	request, ok := f.requests[id]
	if !ok {
		return types.FriendRequest{}, store.ErrNotFound
	}
	return request, nil
}

type fakeForum struct {
	services.ForumRepository
	threads map[int]types.Thread
}

func (f *fakeForum) GetThread(ctx context.Context, id int) (types.Thread, error) {
	thread, ok := f.threads[id]
	if !ok {
		return types.Thread{}, store.ErrNotFound
	}
	return thread, nil
}

func (f *fakeForum) IncrementViews(ctx context.Context, threadID int) error {
	return nil
}

func (f *fakeForum) ListPosts(ctx context.Context, threadID, viewerID int) ([]types.Post, error) {
	return []types.Post{}, nil
}

type fakeRanker struct {
	ranked []types.RankedLink
	limit  int
}

func (f *fakeRanker) RankByStat(ctx context.Context, statKey string, limit int) ([]types.RankedLink, error) {
	f.limit = limit
	return f.ranked[:min(limit, len(f.ranked))], nil
}
