package services

import (
	"context"
	"testing"
	"time"

	"github.com/bizzylink/apiserver/internal/store"
	"github.com/bizzylink/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type adminFixture struct {
	svc       *AdminService
	users     *mockUserRepository
	links     *mockLinkRepository
	tokens    *mockTokenRepository
	publisher *mockPublisher
	audit     *mockAuditRepository
}

func newAdminFixture() *adminFixture {
	f := &adminFixture{
		users: newMockUserRepository(
			types.User{ID: 1, Username: "admin", Role: types.RoleAdmin, AccountStatus: types.AccountActive, LuckPermsGroup: "admin"},
			types.User{ID: 2, Username: "steve", Role: types.RoleUser, ForumRank: types.ForumRankUser, AccountStatus: types.AccountActive, LuckPermsGroup: "default"},
		),
		links:     newMockLinkRepository(),
		tokens:    newMockTokenRepository(),
		publisher: &mockPublisher{},
		audit:     &mockAuditRepository{},
	}
	auditor := NewAuditor(f.audit, zap.NewNop())
	linking := NewLinkingService(f.links, f.users, &mockNoticeSender{}, &mockPusher{}, f.publisher, auditor, LinkConfig{}, zap.NewNop())
	f.svc = NewAdminService(f.users, f.links, f.tokens, linking, f.publisher, auditor, zap.NewNop())
	return f
}

func strPtr(v string) *string { return &v }

var adminActor = types.Actor{UserID: 1, IP: "10.0.0.1", UserAgent: "test"}

func TestAdminService_UpdateUser(t *testing.T) {
	tests := []struct {
		name        string
		update      AdminUserUpdate
		expectedErr error
		audits      []string
		check       func(t *testing.T, user types.User)
	}{
		{
			name:   "promote to moderator derives permissions",
			update: AdminUserUpdate{Role: strPtr(types.RoleModerator)},
			audits: []string{types.AuditUpdateUser},
			check: func(t *testing.T, user types.User) {
				assert.True(t, user.Permissions.CanModerateForums)
				assert.True(t, user.Permissions.CanAccessAdmin)
				assert.False(t, user.Permissions.CanManageUsers)
			},
		},
		{
			name:   "ban is audited twice",
			update: AdminUserUpdate{AccountStatus: strPtr(types.AccountBanned)},
			audits: []string{types.AuditBanUser, types.AuditUpdateUser},
		},
		{
			name:        "invalid role",
			update:      AdminUserUpdate{Role: strPtr("overlord")},
			expectedErr: ErrInvalidInput,
		},
		{
			name:        "invalid luckperms group",
			update:      AdminUserUpdate{LuckPermsGroup: strPtr("god")},
			expectedErr: ErrInvalidInput,
		},
		{
			name:        "invalid username",
			update:      AdminUserUpdate{Username: strPtr("a")},
			expectedErr: ErrInvalidInput,
		},
		{
			name:   "no changes",
			update: AdminUserUpdate{Role: strPtr(types.RoleUser)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAdminFixture()
			user, err := f.svc.UpdateUser(context.Background(), adminActor, 2, tt.update)
			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				assert.Empty(t, f.audit.entries)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(tt.audits), len(f.audit.entries))
			if len(tt.audits) > 0 {
				assert.Equal(t, tt.audits, f.audit.actions())
			}
			if tt.check != nil {
				tt.check(t, user)
			}
		})
	}
}

func TestAdminService_UpdateUserCannotBanSelf(t *testing.T) {
	f := newAdminFixture()
	_, err := f.svc.UpdateUser(context.Background(), adminActor, 1, AdminUserUpdate{AccountStatus: strPtr(types.AccountSuspended)})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAdminService_UpdateUserGroupChangePublishesWhenLinked(t *testing.T) {
	f := newAdminFixture()
	f.links.links[2] = types.MinecraftLink{UserID: 2, MCUUID: testUUID, MCUsername: "Notch"}

	_, err := f.svc.UpdateUser(context.Background(), adminActor, 2, AdminUserUpdate{LuckPermsGroup: strPtr("vip")})
	require.NoError(t, err)
	require.Equal(t, []string{types.PluginLuckPermsChanged}, f.publisher.events)
	change := f.publisher.data[0].(LuckPermsChange)
	assert.Equal(t, "default", change.OldGroup)
	assert.Equal(t, "vip", change.NewGroup)
	assert.Equal(t, testUUID, change.MCUUID)
}

func TestAdminService_UpdateLuckPerms(t *testing.T) {
	f := newAdminFixture()
	ctx := context.Background()

	_, err := f.svc.UpdateLuckPerms(ctx, adminActor, 2, "vip")
	assert.ErrorIs(t, err, ErrInvalidInput)

	f.links.links[2] = types.MinecraftLink{UserID: 2, MCUUID: testUUID, MCUsername: "Notch"}
	info, err := f.svc.UpdateLuckPerms(ctx, adminActor, 2, "vip")
	require.NoError(t, err)
	assert.Equal(t, "vip", info.LuckPermsGroup)
	assert.True(t, info.Linked)
	assert.Equal(t, "vip", f.users.users[2].LuckPermsGroup)
	assert.Equal(t, []string{types.PluginLuckPermsChanged}, f.publisher.events)
	assert.Equal(t, []string{types.AuditUpdateLuckPerms}, f.audit.actions())

	_, err = f.svc.UpdateLuckPerms(ctx, adminActor, 2, "wizard")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAdminService_DeleteUser(t *testing.T) {
	f := newAdminFixture()
	ctx := context.Background()
	f.links.links[2] = types.MinecraftLink{UserID: 2, MCUUID: testUUID, MCUsername: "Notch"}

	assert.ErrorIs(t, f.svc.DeleteUser(ctx, adminActor, 1), ErrInvalidInput)
	require.NoError(t, f.svc.DeleteUser(ctx, adminActor, 2))
	assert.Equal(t, []int{2}, f.users.deleted)
	assert.Equal(t, []string{types.PluginPlayerUnlinked}, f.publisher.events)
	assert.Equal(t, []string{types.AuditDeleteUser}, f.audit.actions())

	assert.ErrorIs(t, f.svc.DeleteUser(ctx, adminActor, 2), store.ErrNotFound)
}

func TestAdminService_CheckAccess(t *testing.T) {
	f := newAdminFixture()

	access, err := f.svc.CheckAccess(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, access.HasAccess)

	access, err = f.svc.CheckAccess(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, access.HasAccess)
}

func TestAdminService_Invites(t *testing.T) {
	f := newAdminFixture()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }
	ctx := context.Background()

	invite, err := f.svc.CreateInvite(ctx, adminActor, 48)
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9A-F]{16}$`, invite.Code)
	require.NotNil(t, invite.ExpiresAt)
	assert.Equal(t, now.Add(48*time.Hour), *invite.ExpiresAt)

	forever, err := f.svc.CreateInvite(ctx, adminActor, 0)
	require.NoError(t, err)
	assert.Nil(t, forever.ExpiresAt)

	_, err = f.svc.CreateInvite(ctx, adminActor, maxInviteHours+1)
	assert.ErrorIs(t, err, ErrInvalidInput)

	require.NoError(t, f.svc.RevokeInvite(ctx, adminActor, " "+invite.Code+" "))
	assert.True(t, f.tokens.invites[invite.Code].Revoked)
	assert.ErrorIs(t, f.svc.RevokeInvite(ctx, adminActor, "MISSING"), store.ErrNotFound)

	assert.Equal(t, []string{types.AuditCreateInvite, types.AuditCreateInvite, types.AuditRevokeInvite}, f.audit.actions())
}

func TestAdminService_SearchUsersRequiresQuery(t *testing.T) {
	f := newAdminFixture()
	_, err := f.svc.SearchUsers(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAdminService_AuditLogsFilterByAction(t *testing.T) {
	f := newAdminFixture()
	ctx := context.Background()

	_, err := f.svc.UpdateUser(ctx, adminActor, 2, AdminUserUpdate{LuckPermsGroup: strPtr("vip")})
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteUser(ctx, adminActor, 2))

	all, total, err := f.svc.AuditLogs(ctx, "", 0, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, all, 2)

	deleted, total, err := f.svc.AuditLogs(ctx, " delete_user ", 0, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, deleted, 1)
	assert.Equal(t, types.AuditDeleteUser, deleted[0].Action)
	assert.Equal(t, 1, deleted[0].AdminID)
}
