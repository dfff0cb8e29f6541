package types

import "time"

// Account roles.
const (
	RoleUser      = "user"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

// Forum ranks.
const (
	ForumRankUser      = "user"
	ForumRankTrusted   = "trusted"
	ForumRankModerator = "moderator"
	ForumRankAdmin     = "admin"
)

// Account statuses.
const (
	AccountActive    = "active"
	AccountSuspended = "suspended"
	AccountBanned    = "banned"
)

// Profile visibility values.
const (
	VisibilityPublic  = "public"
	VisibilityFriends = "friends"
	VisibilityPrivate = "private"
)

// LuckPermsGroups lists the in-game permission groups a user may carry.
var LuckPermsGroups = []string{"default", "vip", "mvp", "staff", "moderator", "admin", "owner"}

// User represents a website account.
// It contains identity, authorization, forum counters and settings.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Username is the unique login name chosen by the user.
	Username string `json:"username" db:"username"`

	// Email is the user's optional email address, stored lower-cased.
	Email string `json:"email,omitempty" db:"email"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// Role is the account-level role ("user", "moderator", "admin").
	Role string `json:"role" db:"role"`

	// ForumRank is the forum-specific rank, independent of Role.
	ForumRank string `json:"forum_rank" db:"forum_rank"`

	// LuckPermsGroup is the in-game permission group mirrored for display and sync.
	LuckPermsGroup string `json:"luckperms_group" db:"luckperms_group"`

	// Permissions holds the effective capability flags.
	Permissions Permissions `json:"permissions" db:"permissions"`

	// AccountStatus is one of "active", "suspended" or "banned".
	AccountStatus string `json:"account_status" db:"account_status"`

	// FailedLogins counts consecutive failed login attempts.
	FailedLogins int `json:"-" db:"failed_logins"`

	// LockedUntil is set while the account is locked after repeated failures.
	LockedUntil *time.Time `json:"-" db:"locked_until"`

	// LastLoginAt is the timestamp of the last successful login.
	LastLoginAt *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`

	// LastLoginIP is the client address of the last successful login.
	LastLoginIP string `json:"-" db:"last_login_ip"`

	// RegistrationIP is the client address the account was created from.
	RegistrationIP string `json:"-" db:"registration_ip"`

	// LastActiveAt is refreshed on authenticated activity.
	LastActiveAt *time.Time `json:"last_active_at,omitempty" db:"last_active_at"`

	// Avatar is the URL of the user's avatar image.
	Avatar string `json:"avatar,omitempty" db:"avatar"`

	// Bio is a free-form profile text.
	Bio string `json:"bio,omitempty" db:"bio"`

	// Signature is appended to forum posts, at most 500 characters.
	Signature string `json:"signature,omitempty" db:"signature"`

	// PostCount is the number of forum posts authored, including first posts.
	PostCount int `json:"post_count" db:"post_count"`

	// ThreadCount is the number of forum threads started.
	ThreadCount int `json:"thread_count" db:"thread_count"`

	// Reputation is the signed sum of reputation votes received.
	Reputation int `json:"reputation" db:"reputation"`

	// Vouches is the number of distinct users vouching for this user.
	Vouches int `json:"vouches" db:"vouches"`

	// Balance is the user's in-site currency balance.
	Balance int64 `json:"balance" db:"balance"`

	// Settings holds notification and privacy preferences.
	Settings UserSettings `json:"settings" db:"settings"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Permissions are capability flags granted to a user.
type Permissions struct {
	CanAccessAdmin    bool `json:"can_access_admin"`
	CanModerateForums bool `json:"can_moderate_forums"`
	CanManageUsers    bool `json:"can_manage_users"`
	CanEditServer     bool `json:"can_edit_server"`
}

// DerivePermissions returns the default permissions for a role and forum rank.
func DerivePermissions(role, forumRank string) Permissions {
	switch {
	case role == RoleAdmin || forumRank == ForumRankAdmin:
		return Permissions{
			CanAccessAdmin:    true,
			CanModerateForums: true,
			CanManageUsers:    true,
			CanEditServer:     true,
		}
	case role == RoleModerator || forumRank == ForumRankModerator:
		return Permissions{
			CanAccessAdmin:    true,
			CanModerateForums: true,
		}
	default:
		return Permissions{}
	}
}

// IsAdmin reports whether the user may use the admin dashboard.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin || u.ForumRank == ForumRankAdmin || u.Permissions.CanAccessAdmin
}

// CanModerate reports whether the user may moderate forum content.
func (u User) CanModerate() bool {
	return u.Role == RoleAdmin ||
		u.ForumRank == ForumRankModerator ||
		u.ForumRank == ForumRankAdmin ||
		u.Permissions.CanModerateForums
}

// IsLocked reports whether a login lockout is in effect at now.
func (u User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// UserSettings groups per-user preferences.
type UserSettings struct {
	Notifications NotificationSettings `json:"notifications"`
	Privacy       PrivacySettings      `json:"privacy"`
}

// NotificationSettings toggles which events create notifications.
type NotificationSettings struct {
	FriendRequests bool `json:"friend_requests"`
	NewFollowers   bool `json:"new_followers"`
	FriendActivity bool `json:"friend_activity"`
	InGame         bool `json:"in_game"`
	Reputation     bool `json:"reputation"`
	Vouches        bool `json:"vouches"`
	Donations      bool `json:"donations"`
}

// PrivacySettings controls what other users can see and do.
type PrivacySettings struct {
	ProfileVisibility   string `json:"profile_visibility"`
	AllowFriendRequests bool   `json:"allow_friend_requests"`
	AllowFollowers      bool   `json:"allow_followers"`
	ShowReputation      bool   `json:"show_reputation"`
	ShowVouches         bool   `json:"show_vouches"`
	ShowBalance         bool   `json:"show_balance"`
}

// DefaultUserSettings returns the settings given to new accounts.
func DefaultUserSettings() UserSettings {
	return UserSettings{
		Notifications: NotificationSettings{
			FriendRequests: true,
			NewFollowers:   true,
			FriendActivity: true,
			InGame:         true,
			Reputation:     true,
			Vouches:        true,
			Donations:      true,
		},
		Privacy: PrivacySettings{
			ProfileVisibility:   VisibilityPublic,
			AllowFriendRequests: true,
			AllowFollowers:      true,
			ShowReputation:      true,
			ShowVouches:         true,
			ShowBalance:         true,
		},
	}
}

// UserSummary is the compact user reference embedded in other payloads.
type UserSummary struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// Summary returns the compact reference for u.
func (u User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Username: u.Username, Avatar: u.Avatar}
}

// RefreshToken is a stored, hashed refresh credential.
type RefreshToken struct {
	ID        int       `json:"id" db:"id"`
	UserID    int       `json:"user_id" db:"user_id"`
	TokenHash string    `json:"-" db:"token_hash"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// InviteCode gates registration when invites are required.
type InviteCode struct {
	Code      string     `json:"code" db:"code"`
	CreatedBy int        `json:"created_by" db:"created_by"`
	UsedBy    *int       `json:"used_by,omitempty" db:"used_by"`
	UsedAt    *time.Time `json:"used_at,omitempty" db:"used_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	Revoked   bool       `json:"revoked" db:"revoked"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// Usable reports whether the invite can still be redeemed at now.
func (i InviteCode) Usable(now time.Time) bool {
	if i.Revoked || i.UsedBy != nil {
		return false
	}
	return i.ExpiresAt == nil || now.Before(*i.ExpiresAt)
}
