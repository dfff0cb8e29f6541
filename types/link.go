package types

import (
	"encoding/json"
	"time"
)

// MinecraftLink is the single record binding a website account to a
// Minecraft player. A user is linked iff a record exists.
type MinecraftLink struct {
	// UserID is the linked website account.
	UserID int `json:"user_id" db:"user_id"`

	// MCUUID is the player's UUID in lower-case dashed form.
	MCUUID string `json:"mc_uuid" db:"mc_uuid"`

	// MCUsername is the player name reported at link time or last update.
	MCUsername string `json:"mc_username" db:"mc_username"`

	// LinkedAt is when the link was established.
	LinkedAt time.Time `json:"linked_at" db:"linked_at"`

	// LastSeen is refreshed whenever the plugin reports the player.
	LastSeen *time.Time `json:"last_seen,omitempty" db:"last_seen"`

	// Stats is the merged gameplay statistics object pushed by the plugin.
	Stats json.RawMessage `json:"stats,omitempty" db:"stats"`

	// PlayerData is the merged free-form player data pushed by the plugin.
	PlayerData json.RawMessage `json:"player_data,omitempty" db:"player_data"`
}

// LinkCode is a one-time code a player enters in game to claim an account.
type LinkCode struct {
	Code       string    `json:"code" db:"code"`
	UserID     int       `json:"user_id" db:"user_id"`
	MCUsername string    `json:"mc_username,omitempty" db:"mc_username"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	ExpiresAt  time.Time `json:"expires_at" db:"expires_at"`
}

// Expired reports whether the code is no longer valid at now.
func (c LinkCode) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// LinkInfo is the public view of a link.
type LinkInfo struct {
	MCUUID     string     `json:"mc_uuid"`
	MCUsername string     `json:"mc_username"`
	LinkedAt   time.Time  `json:"linked_at"`
	LastSeen   *time.Time `json:"last_seen,omitempty"`
}

// Info returns the public view of l.
func (l MinecraftLink) Info() *LinkInfo {
	return &LinkInfo{
		MCUUID:     l.MCUUID,
		MCUsername: l.MCUsername,
		LinkedAt:   l.LinkedAt,
		LastSeen:   l.LastSeen,
	}
}

// LinkStatus describes the link state of a website account.
type LinkStatus struct {
	Linked     bool       `json:"linked"`
	MCUUID     string     `json:"mc_uuid,omitempty"`
	MCUsername string     `json:"mc_username,omitempty"`
	LinkedAt   *time.Time `json:"linked_at,omitempty"`
	LastSeen   *time.Time `json:"last_seen,omitempty"`
	ActiveCode *LinkCode  `json:"active_code,omitempty"`
}

// PlayerStatus is the plugin-facing view of a player.
type PlayerStatus struct {
	Linked          bool   `json:"linked"`
	MCUUID          string `json:"mc_uuid,omitempty"`
	MCUsername      string `json:"mc_username,omitempty"`
	UserID          int    `json:"user_id,omitempty"`
	WebsiteUsername string `json:"website_username,omitempty"`
	LuckPermsGroup  string `json:"luckperms_group,omitempty"`
}

// ValidateResult is returned to the plugin after a code validation attempt.
type ValidateResult struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Username string `json:"username,omitempty"`
	UserID   int    `json:"user_id,omitempty"`
}

// UnlinkResult reports the outcome of an unlink request.
type UnlinkResult struct {
	Success         bool   `json:"success"`
	AlreadyUnlinked bool   `json:"already_unlinked"`
	MCUUID          string `json:"mc_uuid,omitempty"`
	MCUsername      string `json:"mc_username,omitempty"`
}

// RankedLink is a linked player with the score of one stats key.
type RankedLink struct {
	Link     MinecraftLink
	Username string
	Score    float64
}

// LeaderboardEntry is one row of a leaderboard.
type LeaderboardEntry struct {
	Position   int            `json:"position"`
	UserID     int            `json:"id"`
	Username   string         `json:"username"`
	MCUsername string         `json:"mcUsername"`
	MCUUID     string         `json:"uuid"`
	Score      float64        `json:"score"`
	LastSeen   *time.Time     `json:"lastSeen,omitempty"`
	Stats      map[string]any `json:"stats"`
}

type Leaderboard struct {
	Category  string             `json:"category"`
	TimeFrame string             `json:"timeFrame"`
	Players   []LeaderboardEntry `json:"players"`
}
