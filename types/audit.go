package types

import (
	"encoding/json"
	"time"
)

// Audit actions.
const (
	AuditUpdateUser        = "update_user"
	AuditBanUser           = "ban_user"
	AuditUnbanUser         = "unban_user"
	AuditDeleteUser        = "delete_user"
	AuditUpdatePermissions = "update_permissions"
	AuditUpdateLuckPerms   = "update_luckperms"
	AuditForceUnlink       = "force_unlink"
	AuditForumLock         = "forum_lock"
	AuditForumUnlock       = "forum_unlock"
	AuditForumPin          = "forum_pin"
	AuditForumUnpin        = "forum_unpin"
	AuditForumMove         = "forum_move"
	AuditDeleteThread      = "delete_thread"
	AuditDeletePost        = "delete_post"
	AuditCreateInvite      = "create_invite"
	AuditRevokeInvite      = "revoke_invite"
)

// AuditLog records an administrative action.
type AuditLog struct {
	ID           int             `json:"id" db:"id"`
	AdminID      int             `json:"admin_id" db:"admin_id"`
	Action       string          `json:"action" db:"action"`
	TargetUser   *int            `json:"target_user,omitempty" db:"target_user"`
	TargetThread *int            `json:"target_thread,omitempty" db:"target_thread"`
	TargetPost   *int            `json:"target_post,omitempty" db:"target_post"`
	Details      json.RawMessage `json:"details,omitempty" db:"details"`
	IP           string          `json:"ip,omitempty" db:"ip"`
	UserAgent    string          `json:"user_agent,omitempty" db:"user_agent"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Actor identifies who performed a request, for audit purposes.
type Actor struct {
	UserID    int
	IP        string
	UserAgent string
}
