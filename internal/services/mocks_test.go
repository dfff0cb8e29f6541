package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/bizzylink/apiserver/internal/store"
	"github.com/bizzylink/apiserver/types"
)

// mockUserRepository is an in-memory UserRepository.
type mockUserRepository struct {
	users         map[int]types.User
	nextID        int
	err           error
	createErr     error
	updateErr     error
	failedLogins  map[int]int
	lockedUntil   map[int]time.Time
	loginRecorded map[int]string
	deleted       []int
}

func newMockUserRepository(users ...types.User) *mockUserRepository {
	m := &mockUserRepository{
		users:         make(map[int]types.User),
		nextID:        1,
		failedLogins:  make(map[int]int),
		lockedUntil:   make(map[int]time.Time),
		loginRecorded: make(map[int]string),
	}
	for _, user := range users {
		m.users[user.ID] = user
		if user.ID >= m.nextID {
			m.nextID = user.ID + 1
		}
	}
	return m
}

func (m *mockUserRepository) GetByID(ctx context.Context, id int) (types.User, error) {
	if m.err != nil {
		return types.User{}, m.err
	}
	user, ok := m.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (m *mockUserRepository) GetByUsername(ctx context.Context, username string) (types.User, error) {
	if m.err != nil {
		return types.User{}, m.err
	}
	for _, user := range m.users {
		if user.Username == username {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (m *mockUserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	if m.createErr != nil {
		return types.User{}, m.createErr
	}
	user.ID = m.nextID
	m.nextID++
	m.users[user.ID] = user
	return user, nil
}

func (m *mockUserRepository) Update(ctx context.Context, user types.User) (types.User, error) {
	if m.updateErr != nil {
		return types.User{}, m.updateErr
	}
	if _, ok := m.users[user.ID]; !ok {
		return types.User{}, store.ErrNotFound
	}
	m.users[user.ID] = user
	return user, nil
}

func (m *mockUserRepository) Delete(ctx context.Context, id int) error {
	if _, ok := m.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.users, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockUserRepository) List(ctx context.Context, offset, limit int) ([]types.User, int, error) {
	users := make([]types.User, 0, len(m.users))
	for _, user := range m.users {
		users = append(users, user)
	}
	return users, len(users), m.err
}

func (m *mockUserRepository) Search(ctx context.Context, term string, limit int) ([]types.User, error) {
	return nil, m.err
}

func (m *mockUserRepository) Count(ctx context.Context) (int, error) {
	return len(m.users), m.err
}

func (m *mockUserRepository) RecordFailedLogin(ctx context.Context, id, maxAttempts int, lockUntil time.Time) (bool, error) {
	m.failedLogins[id]++
	if m.failedLogins[id] >= maxAttempts {
		m.failedLogins[id] = 0
		m.lockedUntil[id] = lockUntil
		return true, nil
	}
	return false, nil
}

func (m *mockUserRepository) RecordLogin(ctx context.Context, id int, ip string, at time.Time) error {
	m.loginRecorded[id] = ip
	return nil
}

func (m *mockUserRepository) TouchActive(ctx context.Context, id int, at time.Time) error {
	return nil
}

// mockTokenRepository keeps refresh tokens and invites in memory.
type mockTokenRepository struct {
	refresh map[string]types.RefreshToken
	invites map[string]types.InviteCode
	err     error
}

func newMockTokenRepository() *mockTokenRepository {
	return &mockTokenRepository{
		refresh: make(map[string]types.RefreshToken),
		invites: make(map[string]types.InviteCode),
	}
}

func (m *mockTokenRepository) CreateRefreshToken(ctx context.Context, token types.RefreshToken) (types.RefreshToken, error) {
	if m.err != nil {
		return types.RefreshToken{}, m.err
	}
	m.refresh[token.TokenHash] = token
	return token, nil
}

func (m *mockTokenRepository) GetRefreshToken(ctx context.Context, tokenHash string) (types.RefreshToken, error) {
	token, ok := m.refresh[tokenHash]
	if !ok {
		return types.RefreshToken{}, store.ErrNotFound
	}
	return token, nil
}

func (m *mockTokenRepository) DeleteRefreshToken(ctx context.Context, tokenHash string) error {
	if _, ok := m.refresh[tokenHash]; !ok {
		return store.ErrNotFound
	}
	delete(m.refresh, tokenHash)
	return nil
}

func (m *mockTokenRepository) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	var removed int64
	for hash, token := range m.refresh {
		if !now.Before(token.ExpiresAt) {
			delete(m.refresh, hash)
			removed++
		}
	}
	return removed, nil
}

func (m *mockTokenRepository) CreateInvite(ctx context.Context, invite types.InviteCode) (types.InviteCode, error) {
	if m.err != nil {
		return types.InviteCode{}, m.err
	}
	m.invites[invite.Code] = invite
	return invite, nil
}

func (m *mockTokenRepository) GetInvite(ctx context.Context, code string) (types.InviteCode, error) {
	invite, ok := m.invites[code]
	if !ok {
		return types.InviteCode{}, store.ErrNotFound
	}
	return invite, nil
}

func (m *mockTokenRepository) ListInvites(ctx context.Context) ([]types.InviteCode, error) {
	invites := make([]types.InviteCode, 0, len(m.invites))
	for _, invite := range m.invites {
		invites = append(invites, invite)
	}
	return invites, nil
}

func (m *mockTokenRepository) RevokeInvite(ctx context.Context, code string) error {
	invite, ok := m.invites[code]
	if !ok {
		return store.ErrNotFound
	}
	invite.Revoked = true
	m.invites[code] = invite
	return nil
}

func (m *mockTokenRepository) RedeemInvite(ctx context.Context, code string, userID int, now time.Time) error {
	invite, ok := m.invites[code]
	if !ok || !invite.Usable(now) {
		return store.ErrNotFound
	}
	invite.UsedBy = &userID
	invite.UsedAt = &now
	m.invites[code] = invite
	return nil
}

// mockNoticeSender records delivered notices.
type mockNoticeSender struct {
	mu      sync.Mutex
	notices []Notice
}

func (m *mockNoticeSender) Deliver(ctx context.Context, notice Notice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = append(m.notices, notice)
}

func (m *mockNoticeSender) kinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.notices))
	for _, n := range m.notices {
		out = append(out, n.Type)
	}
	return out
}

type pushed struct {
	userID   int
	event    types.Event
	critical bool
	admins   bool
}

// mockPusher records pushed events.
type mockPusher struct {
	mu     sync.Mutex
	events []pushed
}

func (m *mockPusher) Notify(userID int, event types.Event) {
	m.record(pushed{userID: userID, event: event})
}

func (m *mockPusher) NotifyCritical(userID int, event types.Event) {
	m.record(pushed{userID: userID, event: event, critical: true})
}

func (m *mockPusher) NotifyAdmins(event types.Event) {
	m.record(pushed{event: event, admins: true})
}

func (m *mockPusher) record(p pushed) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, p)
}

func (m *mockPusher) all() []pushed {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]pushed(nil), m.events...)
}

// mockPublisher records plugin events.
type mockPublisher struct {
	events []string
	data   []any
	err    error
}

func (m *mockPublisher) Publish(ctx context.Context, event string, data any) error {
	m.events = append(m.events, event)
	m.data = append(m.data, data)
	return m.err
}

// mockAuditRepository records audit entries.
type mockAuditRepository struct {
	entries []types.AuditLog
	err     error
}

func (m *mockAuditRepository) Create(ctx context.Context, entry types.AuditLog) (types.AuditLog, error) {
	if m.err != nil {
		return types.AuditLog{}, m.err
	}
	entry.ID = len(m.entries) + 1
	m.entries = append(m.entries, entry)
	return entry, nil
}

func (m *mockAuditRepository) List(ctx context.Context, action string, offset, limit int) ([]types.AuditLog, int, error) {
	var out []types.AuditLog
	for _, entry := range m.entries {
		if action == "" || entry.Action == action {
			out = append(out, entry)
		}
	}
	return out, len(out), m.err
}

func (m *mockAuditRepository) actions() []string {
	out := make([]string, 0, len(m.entries))
	for _, entry := range m.entries {
		out = append(out, entry.Action)
	}
	return out
}

// mockLinkRepository is an in-memory LinkRepository.
type mockLinkRepository struct {
	links      map[int]types.MinecraftLink
	codes      map[string]types.LinkCode
	replaceErr []error
	err        error
}

func newMockLinkRepository() *mockLinkRepository {
	return &mockLinkRepository{
		links: make(map[int]types.MinecraftLink),
		codes: make(map[string]types.LinkCode),
	}
}

func (m *mockLinkRepository) GetByUserID(ctx context.Context, userID int) (types.MinecraftLink, error) {
	if m.err != nil {
		return types.MinecraftLink{}, m.err
	}
	link, ok := m.links[userID]
	if !ok {
		return types.MinecraftLink{}, store.ErrNotFound
	}
	return link, nil
}

func (m *mockLinkRepository) GetByUUID(ctx context.Context, mcUUID string) (types.MinecraftLink, error) {
	for _, link := range m.links {
		if link.MCUUID == mcUUID {
			return link, nil
		}
	}
	return types.MinecraftLink{}, store.ErrNotFound
}

func (m *mockLinkRepository) GetByMCUsername(ctx context.Context, mcUsername string) (types.MinecraftLink, error) {
	for _, link := range m.links {
		if link.MCUsername == mcUsername {
			return link, nil
		}
	}
	return types.MinecraftLink{}, store.ErrNotFound
}

func (m *mockLinkRepository) Delete(ctx context.Context, userID int) (types.MinecraftLink, error) {
	link, ok := m.links[userID]
	if !ok {
		return types.MinecraftLink{}, store.ErrNotFound
	}
	delete(m.links, userID)
	return link, nil
}

func (m *mockLinkRepository) MergeStats(ctx context.Context, mcUUID string, stats json.RawMessage, at time.Time) (types.MinecraftLink, error) {
	for id, link := range m.links {
		if link.MCUUID == mcUUID {
			link.Stats = stats
			link.LastSeen = &at
			m.links[id] = link
			return link, nil
		}
	}
	return types.MinecraftLink{}, store.ErrNotFound
}

func (m *mockLinkRepository) MergePlayerData(ctx context.Context, mcUUID, mcUsername string, data json.RawMessage, at time.Time) (types.MinecraftLink, error) {
	for id, link := range m.links {
		if link.MCUUID == mcUUID {
			link.PlayerData = data
			if mcUsername != "" {
				link.MCUsername = mcUsername
			}
			link.LastSeen = &at
			m.links[id] = link
			return link, nil
		}
	}
	return types.MinecraftLink{}, store.ErrNotFound
}

func (m *mockLinkRepository) ReplaceCode(ctx context.Context, code types.LinkCode) error {
	if len(m.replaceErr) > 0 {
		err := m.replaceErr[0]
		m.replaceErr = m.replaceErr[1:]
		if err != nil {
			return err
		}
	}
	for value, existing := range m.codes {
		if existing.UserID == code.UserID {
			delete(m.codes, value)
		}
	}
	m.codes[code.Code] = code
	return nil
}

func (m *mockLinkRepository) GetActiveCodeByUser(ctx context.Context, userID int, now time.Time) (types.LinkCode, error) {
	for _, code := range m.codes {
		if code.UserID == userID && !code.Expired(now) {
			return code, nil
		}
	}
	return types.LinkCode{}, store.ErrNotFound
}

func (m *mockLinkRepository) GetActiveCodeByMCUsername(ctx context.Context, mcUsername string, now time.Time) (types.LinkCode, error) {
	for _, code := range m.codes {
		if code.MCUsername == mcUsername && !code.Expired(now) {
			return code, nil
		}
	}
	return types.LinkCode{}, store.ErrNotFound
}

func (m *mockLinkRepository) DeleteExpiredCodes(ctx context.Context, now time.Time) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	var removed int64
	for value, code := range m.codes {
		if code.Expired(now) {
			delete(m.codes, value)
			removed++
		}
	}
	return removed, nil
}

func (m *mockLinkRepository) RedeemCode(ctx context.Context, code, mcUUID, mcUsername string, now time.Time) (types.MinecraftLink, error) {
	linkCode, ok := m.codes[code]
	if !ok || linkCode.Expired(now) {
		return types.MinecraftLink{}, store.ErrNotFound
	}
	if _, linked := m.links[linkCode.UserID]; linked {
		return types.MinecraftLink{}, store.ErrConflict
	}
	for _, link := range m.links {
		if link.MCUUID == mcUUID {
			return types.MinecraftLink{}, store.ErrConflict
		}
	}
	delete(m.codes, code)
	link := types.MinecraftLink{
		UserID:     linkCode.UserID,
		MCUUID:     mcUUID,
		MCUsername: mcUsername,
		LinkedAt:   now,
		LastSeen:   &now,
	}
	m.links[link.UserID] = link
	return link, nil
}
