package services

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/bizzylink/apiserver/internal/store"
	"github.com/bizzylink/apiserver/types"
	"go.uber.org/zap"
)

const (
	adminSearchLimit = 50
	inviteCodeBytes  = 8
	maxInviteHours   = 24 * 365
)

var (
	roles      = []string{types.RoleUser, types.RoleModerator, types.RoleAdmin}
	forumRanks = []string{types.ForumRankUser, types.ForumRankTrusted, types.ForumRankModerator, types.ForumRankAdmin}
	statuses   = []string{types.AccountActive, types.AccountSuspended, types.AccountBanned}
)

// AdminUserUpdate carries optional account changes made by an admin.
type AdminUserUpdate struct {
	Username       *string `json:"username"`
	Email          *string `json:"email"`
	Role           *string `json:"role"`
	ForumRank      *string `json:"forumRank"`
	Avatar         *string `json:"avatar"`
	LuckPermsGroup *string `json:"luckpermsGroup"`
	AccountStatus  *string `json:"accountStatus"`
}

// AccessInfo describes a user's admin capabilities.
type AccessInfo struct {
	HasAccess      bool              `json:"hasAccess"`
	Role           string            `json:"role"`
	ForumRank      string            `json:"forumRank"`
	Permissions    types.Permissions `json:"permissions"`
	LuckPermsGroup string            `json:"luckpermsGroup"`
}

type LuckPermsInfo struct {
	UserID          int      `json:"userId"`
	Username        string   `json:"username"`
	LuckPermsGroup  string   `json:"luckpermsGroup"`
	Linked          bool     `json:"linked"`
	MCUUID          string   `json:"mcUUID,omitempty"`
	MCUsername      string   `json:"mcUsername,omitempty"`
	AvailableGroups []string `json:"availableGroups"`
}

// LuckPermsChange is published to the plugin when a user's group changes.
type LuckPermsChange struct {
	UserID     int    `json:"userId"`
	Username   string `json:"username"`
	MCUUID     string `json:"mcUUID"`
	MCUsername string `json:"mcUsername"`
	OldGroup   string `json:"oldGroup"`
	NewGroup   string `json:"newGroup"`
}

// AdminService implements user management, in-game permission sync and invites.
type AdminService struct {
	users   UserRepository
	links   LinkReader
	tokens  TokenRepository
	linking *LinkingService
	plugin  PluginPublisher
	audit   *Auditor
	logger  *zap.Logger
	now     func() time.Time
}

func NewAdminService(
	users UserRepository,
	links LinkReader,
	tokens TokenRepository,
	linking *LinkingService,
	plugin PluginPublisher,
	audit *Auditor,
	logger *zap.Logger,
) *AdminService {
	return &AdminService{
		users:   users,
		links:   links,
		tokens:  tokens,
		linking: linking,
		plugin:  plugin,
		audit:   audit,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *AdminService) ListUsers(ctx context.Context, offset, limit int) ([]types.User, int, error) {
	return s.users.List(ctx, offset, limit)
}

func (s *AdminService) SearchUsers(ctx context.Context, query string) ([]types.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, invalid("Search query is required")
	}
	return s.users.Search(ctx, query, adminSearchLimit)
}

func (s *AdminService) GetUser(ctx context.Context, id int) (types.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return types.User{}, notFoundAs(err, "User not found")
	}
	return user, nil
}

// UpdateUser applies account changes. Changing role or forum rank re-derives
// the permission flags.
func (s *AdminService) UpdateUser(ctx context.Context, actor types.Actor, id int, update AdminUserUpdate) (types.User, error) {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return types.User{}, err
	}
	before := user
	changes := map[string]any{}

	if update.Username != nil && *update.Username != user.Username {
		username := strings.TrimSpace(*update.Username)
		if !validUsername(username) {
			return types.User{}, invalid("Username must be 3-20 characters and contain only letters, numbers and underscores")
		}
		user.Username = username
		changes["username"] = username
	}
	if update.Email != nil {
		email, err := normalizeEmail(*update.Email)
		if err != nil {
			return types.User{}, err
		}
		if email != user.Email {
			user.Email = email
			changes["email"] = email
		}
	}
	if update.Role != nil && *update.Role != user.Role {
		if !slices.Contains(roles, *update.Role) {
			return types.User{}, invalid("Invalid role")
		}
		user.Role = *update.Role
		changes["role"] = user.Role
	}
	if update.ForumRank != nil && *update.ForumRank != user.ForumRank {
		if !slices.Contains(forumRanks, *update.ForumRank) {
			return types.User{}, invalid("Invalid forum rank")
		}
		user.ForumRank = *update.ForumRank
		changes["forumRank"] = user.ForumRank
	}
	if update.Avatar != nil && *update.Avatar != user.Avatar {
		user.Avatar = strings.TrimSpace(*update.Avatar)
		changes["avatar"] = user.Avatar
	}
	if update.LuckPermsGroup != nil && *update.LuckPermsGroup != user.LuckPermsGroup {
		if !slices.Contains(types.LuckPermsGroups, *update.LuckPermsGroup) {
			return types.User{}, invalid("Invalid LuckPerms group")
		}
		user.LuckPermsGroup = *update.LuckPermsGroup
		changes["luckpermsGroup"] = user.LuckPermsGroup
	}
	if update.AccountStatus != nil && *update.AccountStatus != user.AccountStatus {
		if !slices.Contains(statuses, *update.AccountStatus) {
			return types.User{}, invalid("Invalid account status")
		}
		if id == actor.UserID && *update.AccountStatus != types.AccountActive {
			return types.User{}, invalid("You cannot ban or suspend your own account")
		}
		user.AccountStatus = *update.AccountStatus
		changes["accountStatus"] = user.AccountStatus
	}

	if len(changes) == 0 {
		return user, nil
	}
	if user.Role != before.Role || user.ForumRank != before.ForumRank {
		user.Permissions = types.DerivePermissions(user.Role, user.ForumRank)
	}

	updated, err := s.users.Update(ctx, user)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return types.User{}, conflict("Username or email already taken")
		}
		return types.User{}, notFoundAs(err, "User not found")
	}

	target := AuditTarget{User: id}
	switch {
	case before.AccountStatus != types.AccountBanned && updated.AccountStatus == types.AccountBanned:
		s.audit.Record(ctx, actor, types.AuditBanUser, target, map[string]string{"previous": before.AccountStatus})
	case before.AccountStatus != types.AccountActive && updated.AccountStatus == types.AccountActive:
		s.audit.Record(ctx, actor, types.AuditUnbanUser, target, map[string]string{"previous": before.AccountStatus})
	}
	s.audit.Record(ctx, actor, types.AuditUpdateUser, target, changes)

	if before.LuckPermsGroup != updated.LuckPermsGroup {
		s.announceGroupChange(ctx, updated, before.LuckPermsGroup)
	}
	return updated, nil
}

// UpdatePermissions sets explicit permission flags, overriding the ones
// derived from role and rank.
func (s *AdminService) UpdatePermissions(ctx context.Context, actor types.Actor, id int, permissions types.Permissions) (types.User, error) {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return types.User{}, err
	}
	previous := user.Permissions
	user.Permissions = permissions
	updated, err := s.users.Update(ctx, user)
	if err != nil {
		return types.User{}, notFoundAs(err, "User not found")
	}
	s.audit.Record(ctx, actor, types.AuditUpdatePermissions, AuditTarget{User: id},
		map[string]types.Permissions{"previous": previous, "permissions": permissions})
	return updated, nil
}

func (s *AdminService) DeleteUser(ctx context.Context, actor types.Actor, id int) error {
	if id == actor.UserID {
		return invalid("You cannot delete your own account")
	}
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}

	link, linkErr := s.links.GetByUserID(ctx, id)
	if linkErr != nil && !errors.Is(linkErr, store.ErrNotFound) {
		return linkErr
	}

	if err := s.users.Delete(ctx, id); err != nil {
		return notFoundAs(err, "User not found")
	}
	if linkErr == nil {
		if err := s.plugin.Publish(ctx, types.PluginPlayerUnlinked, LinkEventData{
			UserID:     id,
			MCUUID:     link.MCUUID,
			MCUsername: link.MCUsername,
		}); err != nil {
			s.logger.Warn("failed to publish plugin event", zap.String("event", types.PluginPlayerUnlinked), zap.Error(err))
		}
	}
	s.audit.Record(ctx, actor, types.AuditDeleteUser, AuditTarget{User: id}, map[string]string{"username": user.Username})
	return nil
}

func (s *AdminService) CheckAccess(ctx context.Context, userID int) (AccessInfo, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return AccessInfo{}, err
	}
	return AccessInfo{
		HasAccess:      user.IsAdmin(),
		Role:           user.Role,
		ForumRank:      user.ForumRank,
		Permissions:    user.Permissions,
		LuckPermsGroup: user.LuckPermsGroup,
	}, nil
}

func (s *AdminService) LuckPerms(ctx context.Context, id int) (LuckPermsInfo, error) {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return LuckPermsInfo{}, err
	}
	info := LuckPermsInfo{
		UserID:          user.ID,
		Username:        user.Username,
		LuckPermsGroup:  user.LuckPermsGroup,
		AvailableGroups: types.LuckPermsGroups,
	}
	link, err := s.links.GetByUserID(ctx, id)
	switch {
	case err == nil:
		info.Linked = true
		info.MCUUID = link.MCUUID
		info.MCUsername = link.MCUsername
	case !errors.Is(err, store.ErrNotFound):
		return LuckPermsInfo{}, err
	}
	return info, nil
}

// UpdateLuckPerms changes a linked user's in-game group and tells the plugin.
func (s *AdminService) UpdateLuckPerms(ctx context.Context, actor types.Actor, id int, group string) (LuckPermsInfo, error) {
	if !slices.Contains(types.LuckPermsGroups, group) {
		return LuckPermsInfo{}, invalid("Invalid LuckPerms group")
	}
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return LuckPermsInfo{}, err
	}
	link, err := s.links.GetByUserID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return LuckPermsInfo{}, invalid("User does not have a linked Minecraft account")
		}
		return LuckPermsInfo{}, err
	}

	previous := user.LuckPermsGroup
	user.LuckPermsGroup = group
	updated, err := s.users.Update(ctx, user)
	if err != nil {
		return LuckPermsInfo{}, notFoundAs(err, "User not found")
	}

	if previous != group {
		s.announceGroupChange(ctx, updated, previous)
	}
	s.audit.Record(ctx, actor, types.AuditUpdateLuckPerms, AuditTarget{User: id},
		map[string]string{"oldGroup": previous, "newGroup": group, "mcUUID": link.MCUUID})

	return LuckPermsInfo{
		UserID:          updated.ID,
		Username:        updated.Username,
		LuckPermsGroup:  updated.LuckPermsGroup,
		Linked:          true,
		MCUUID:          link.MCUUID,
		MCUsername:      link.MCUsername,
		AvailableGroups: types.LuckPermsGroups,
	}, nil
}

func (s *AdminService) ForceUnlink(ctx context.Context, actor types.Actor, id int) (types.UnlinkResult, error) {
	return s.linking.ForceUnlink(ctx, actor, id)
}

func (s *AdminService) AuditLogs(ctx context.Context, action string, offset, limit int) ([]types.AuditLog, int, error) {
	return s.audit.List(ctx, strings.TrimSpace(action), offset, limit)
}

// CreateInvite issues an invite code. A non-positive lifetime never expires.
func (s *AdminService) CreateInvite(ctx context.Context, actor types.Actor, expiresInHours int) (types.InviteCode, error) {
	if expiresInHours > maxInviteHours {
		return types.InviteCode{}, invalid("Invites may last at most %d hours", maxInviteHours)
	}
	raw, err := randomToken(inviteCodeBytes)
	if err != nil {
		return types.InviteCode{}, err
	}
	invite := types.InviteCode{
		Code:      strings.ToUpper(raw),
		CreatedBy: actor.UserID,
	}
	if expiresInHours > 0 {
		expires := s.now().Add(time.Duration(expiresInHours) * time.Hour)
		invite.ExpiresAt = &expires
	}

	created, err := s.tokens.CreateInvite(ctx, invite)
	if err != nil {
		return types.InviteCode{}, err
	}
	s.audit.Record(ctx, actor, types.AuditCreateInvite, AuditTarget{}, map[string]any{
		"code":       created.Code,
		"expires_at": created.ExpiresAt,
	})
	return created, nil
}

func (s *AdminService) ListInvites(ctx context.Context) ([]types.InviteCode, error) {
	return s.tokens.ListInvites(ctx)
}

func (s *AdminService) RevokeInvite(ctx context.Context, actor types.Actor, code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if err := s.tokens.RevokeInvite(ctx, code); err != nil {
		return notFoundAs(err, "Invite not found")
	}
	s.audit.Record(ctx, actor, types.AuditRevokeInvite, AuditTarget{}, map[string]string{"code": code})
	return nil
}

func (s *AdminService) announceGroupChange(ctx context.Context, user types.User, previous string) {
	link, err := s.links.GetByUserID(ctx, user.ID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("failed to load link for group change", zap.Int("user_id", user.ID), zap.Error(err))
		}
		return
	}
	if err := s.plugin.Publish(ctx, types.PluginLuckPermsChanged, LuckPermsChange{
		UserID:     user.ID,
		Username:   user.Username,
		MCUUID:     link.MCUUID,
		MCUsername: link.MCUsername,
		OldGroup:   previous,
		NewGroup:   user.LuckPermsGroup,
	}); err != nil {
		s.logger.Warn("failed to publish plugin event", zap.String("event", types.PluginLuckPermsChanged), zap.Error(err))
	}
}
