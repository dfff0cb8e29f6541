package types

import (
	"encoding/json"
	"time"
)

// Notification types.
const (
	NotifyFriendRequest   = "friend_request"
	NotifyFriendAccept    = "friend_accept"
	NotifyNewFollower     = "new_follower"
	NotifyReputation      = "reputation"
	NotifyVouch           = "vouch"
	NotifyDonation        = "donation"
	NotifyForumReply      = "forum_reply"
	NotifyPostLike        = "post_like"
	NotifyMinecraftLinked = "minecraft_linked"
	NotifyAccountUnlinked = "account_unlinked"
)

// Notification is a stored message for a user.
type Notification struct {
	ID          int             `json:"id" db:"id"`
	RecipientID int             `json:"recipient_id" db:"recipient_id"`
	SenderID    *int            `json:"sender_id,omitempty" db:"sender_id"`
	Sender      *UserSummary    `json:"sender,omitempty"`
	Type        string          `json:"type" db:"type"`
	Message     string          `json:"message" db:"message"`
	Data        json.RawMessage `json:"data,omitempty" db:"data"`
	Read        bool            `json:"read" db:"read"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Real-time event types.
const (
	EventConnected       = "sse_connected"
	EventNotification    = "notification"
	EventMinecraftLinked = "minecraft_linked"
	EventAccountUnlinked = "account_unlinked"
	EventPlayerStats     = "player_stats"
)

// Event is a real-time message pushed to connected clients.
type Event struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Redundant bool   `json:"redundant,omitempty"`
}

// NewEvent stamps an event with the current time in milliseconds.
func NewEvent(eventType string, data any) Event {
	return Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Plugin-bound event names.
const (
	PluginPlayerLinked     = "player_linked"
	PluginPlayerUnlinked   = "player_unlinked"
	PluginLuckPermsChanged = "luckperms_group_changed"
)

// PluginEvent is the envelope published to the Minecraft plugin channel.
type PluginEvent struct {
	Event     string `json:"event"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// PlayerStatsMessage is consumed from the plugin stats channel.
type PlayerStatsMessage struct {
	MCUUID string          `json:"mc_uuid"`
	Stats  json.RawMessage `json:"stats"`
}
