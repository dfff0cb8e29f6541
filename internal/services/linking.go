package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bizzylink/apiserver/internal/metrics"
	"github.com/bizzylink/apiserver/internal/store"
	"github.com/bizzylink/apiserver/types"
	"go.uber.org/zap"
)

const (
	linkCodeBytes       = 3
	linkCodeAttempts    = 5
	maxLinkCodeDuration = 7 * 24 * time.Hour
)

// LinkRepository defines persistence for Minecraft links and link codes.
type LinkRepository interface {
	GetByUserID(ctx context.Context, userID int) (types.MinecraftLink, error)
	GetByUUID(ctx context.Context, mcUUID string) (types.MinecraftLink, error)
	GetByMCUsername(ctx context.Context, mcUsername string) (types.MinecraftLink, error)
	Delete(ctx context.Context, userID int) (types.MinecraftLink, error)
	MergeStats(ctx context.Context, mcUUID string, stats json.RawMessage, at time.Time) (types.MinecraftLink, error)
	MergePlayerData(ctx context.Context, mcUUID, mcUsername string, data json.RawMessage, at time.Time) (types.MinecraftLink, error)
	ReplaceCode(ctx context.Context, code types.LinkCode) error
	GetActiveCodeByUser(ctx context.Context, userID int, now time.Time) (types.LinkCode, error)
	GetActiveCodeByMCUsername(ctx context.Context, mcUsername string, now time.Time) (types.LinkCode, error)
	DeleteExpiredCodes(ctx context.Context, now time.Time) (int64, error)
	RedeemCode(ctx context.Context, code, mcUUID, mcUsername string, now time.Time) (types.MinecraftLink, error)
}

// PluginPublisher sends events to the Minecraft plugin.
type PluginPublisher interface {
	Publish(ctx context.Context, event string, data any) error
}

type LinkConfig struct {
	CodeTTL         time.Duration
	CleanupInterval time.Duration
}

// LinkEventData is the payload of link and unlink events.
type LinkEventData struct {
	UserID         int    `json:"userId"`
	Username       string `json:"username,omitempty"`
	MCUUID         string `json:"mcUUID"`
	MCUsername     string `json:"mcUsername"`
	LuckPermsGroup string `json:"luckpermsGroup,omitempty"`
	LinkedAt       string `json:"linkedAt,omitempty"`
}

// PlayerStatsData is pushed to clients when a player's stats change.
type PlayerStatsData struct {
	UserID     int             `json:"userId"`
	MCUUID     string          `json:"mcUUID"`
	MCUsername string          `json:"mcUsername"`
	Stats      json.RawMessage `json:"stats"`
}

// LinkingService binds website accounts to Minecraft players.
type LinkingService struct {
	links   LinkRepository
	users   UserRepository
	notices NoticeSender
	pusher  Pusher
	plugin  PluginPublisher
	audit   *Auditor
	cfg     LinkConfig
	logger  *zap.Logger
	now     func() time.Time
}

func NewLinkingService(
	links LinkRepository,
	users UserRepository,
	notices NoticeSender,
	pusher Pusher,
	plugin PluginPublisher,
	audit *Auditor,
	cfg LinkConfig,
	logger *zap.Logger,
) *LinkingService {
	return &LinkingService{
		links:   links,
		users:   users,
		notices: notices,
		pusher:  pusher,
		plugin:  plugin,
		audit:   audit,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// GenerateCode issues a fresh link code for an unlinked user, replacing any
// previous one. A non-positive expiry uses the configured TTL.
func (s *LinkingService) GenerateCode(ctx context.Context, userID int, mcUsername string, expiryMinutes int) (types.LinkCode, error) {
	mcUsername = strings.TrimSpace(mcUsername)
	if mcUsername != "" && !validMCUsername(mcUsername) {
		return types.LinkCode{}, invalid("Minecraft username must be 3-16 characters and contain only letters, numbers and underscores")
	}
	if _, err := s.links.GetByUserID(ctx, userID); err == nil {
		return types.LinkCode{}, invalid("Your account is already linked to a Minecraft account")
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.LinkCode{}, err
	}

	ttl := s.cfg.CodeTTL
	if expiryMinutes > 0 {
		ttl = time.Duration(expiryMinutes) * time.Minute
	}
	if ttl > maxLinkCodeDuration {
		ttl = maxLinkCodeDuration
	}

	now := s.now()
	code := types.LinkCode{
		UserID:     userID,
		MCUsername: mcUsername,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	for attempt := 0; attempt < linkCodeAttempts; attempt++ {
		value, err := newLinkCode()
		if err != nil {
			return types.LinkCode{}, err
		}
		code.Code = value

		err = s.links.ReplaceCode(ctx, code)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return types.LinkCode{}, err
		}
		metrics.LinkEvents.WithLabelValues(metrics.LinkGenerated).Inc()
		s.logger.Info("link code generated",
			zap.Int("user_id", userID),
			zap.Time("expires_at", code.ExpiresAt),
		)
		return code, nil
	}
	return types.LinkCode{}, fmt.Errorf("generate link code: %d collisions", linkCodeAttempts)
}

func (s *LinkingService) ActiveCode(ctx context.Context, userID int) (types.LinkCode, error) {
	code, err := s.links.GetActiveCodeByUser(ctx, userID, s.now())
	if err != nil {
		return types.LinkCode{}, notFoundAs(err, "No active link code")
	}
	return code, nil
}

// Status reports the link state of userID, including a pending code when
// the account is not linked.
func (s *LinkingService) Status(ctx context.Context, userID int) (types.LinkStatus, error) {
	link, err := s.links.GetByUserID(ctx, userID)
	if err == nil {
		linkedAt := link.LinkedAt
		return types.LinkStatus{
			Linked:     true,
			MCUUID:     link.MCUUID,
			MCUsername: link.MCUsername,
			LinkedAt:   &linkedAt,
			LastSeen:   link.LastSeen,
		}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return types.LinkStatus{}, err
	}

	status := types.LinkStatus{Linked: false}
	code, err := s.links.GetActiveCodeByUser(ctx, userID, s.now())
	switch {
	case err == nil:
		status.ActiveCode = &code
	case !errors.Is(err, store.ErrNotFound):
		return types.LinkStatus{}, err
	}
	return status, nil
}

// CheckUser reports the link state of a website account by username.
func (s *LinkingService) CheckUser(ctx context.Context, username string) (types.PlayerStatus, error) {
	user, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return types.PlayerStatus{}, notFoundAs(err, "User not found")
	}
	status := types.PlayerStatus{
		UserID:          user.ID,
		WebsiteUsername: user.Username,
		LuckPermsGroup:  user.LuckPermsGroup,
	}
	link, err := s.links.GetByUserID(ctx, user.ID)
	switch {
	case err == nil:
		status.Linked = true
		status.MCUUID = link.MCUUID
		status.MCUsername = link.MCUsername
	case !errors.Is(err, store.ErrNotFound):
		return types.PlayerStatus{}, err
	}
	return status, nil
}

// Validate redeems a code entered in game. Unknown, expired and conflicting
// codes produce an unsuccessful result rather than an error.
func (s *LinkingService) Validate(ctx context.Context, code, mcUUID, mcUsername string) (types.ValidateResult, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return types.ValidateResult{}, invalid("Link code is required")
	}
	uuid, ok := NormalizeMCUUID(mcUUID)
	if !ok {
		return types.ValidateResult{}, invalid("Invalid Minecraft UUID")
	}
	mcUsername = strings.TrimSpace(mcUsername)
	if !validMCUsername(mcUsername) {
		return types.ValidateResult{}, invalid("Invalid Minecraft username")
	}

	link, err := s.links.RedeemCode(ctx, code, uuid, mcUsername, s.now())
	switch {
	case errors.Is(err, store.ErrNotFound):
		return types.ValidateResult{Success: false, Message: "Invalid or expired link code"}, nil
	case errors.Is(err, store.ErrConflict):
		return types.ValidateResult{Success: false, Message: "This Minecraft account is already linked to another account"}, nil
	case err != nil:
		return types.ValidateResult{}, err
	}

	user, err := s.users.GetByID(ctx, link.UserID)
	if err != nil {
		return types.ValidateResult{}, err
	}
	metrics.LinkEvents.WithLabelValues(metrics.LinkLinked).Inc()
	s.logger.Info("minecraft account linked",
		zap.Int("user_id", user.ID),
		zap.String("mc_uuid", link.MCUUID),
		zap.String("mc_username", link.MCUsername),
	)

	s.announceLinked(ctx, user, link)
	s.notices.Deliver(ctx, Notice{
		RecipientID: user.ID,
		Type:        types.NotifyMinecraftLinked,
		Message:     fmt.Sprintf("Your account is now linked to Minecraft player %s", link.MCUsername),
		Data:        map[string]string{"mcUUID": link.MCUUID, "mcUsername": link.MCUsername},
	})

	return types.ValidateResult{
		Success:  true,
		Message:  "Account successfully linked",
		Username: user.Username,
		UserID:   user.ID,
	}, nil
}

// Pending returns the unexpired code reserved for a player name.
func (s *LinkingService) Pending(ctx context.Context, mcUsername string) (types.LinkCode, error) {
	mcUsername = strings.TrimSpace(mcUsername)
	if !validMCUsername(mcUsername) {
		return types.LinkCode{}, invalid("Invalid Minecraft username")
	}
	code, err := s.links.GetActiveCodeByMCUsername(ctx, mcUsername, s.now())
	if err != nil {
		return types.LinkCode{}, notFoundAs(err, "No pending link code")
	}
	return code, nil
}

// Lookup finds the account linked to a player by UUID or, failing that, by
// player name.
func (s *LinkingService) Lookup(ctx context.Context, mcUUID, mcUsername string) (types.PlayerStatus, error) {
	mcUUID = strings.TrimSpace(mcUUID)
	mcUsername = strings.TrimSpace(mcUsername)
	if mcUUID == "" && mcUsername == "" {
		return types.PlayerStatus{}, invalid("uuid or username is required")
	}

	if mcUUID != "" {
		uuid, ok := NormalizeMCUUID(mcUUID)
		if !ok {
			return types.PlayerStatus{}, invalid("Invalid Minecraft UUID")
		}
		link, err := s.links.GetByUUID(ctx, uuid)
		status, err := s.playerStatus(ctx, link, err)
		if err != nil || status.Linked || mcUsername == "" {
			return status, err
		}
	}
	link, err := s.links.GetByMCUsername(ctx, mcUsername)
	return s.playerStatus(ctx, link, err)
}

// PlayerStatus reports whether the player with mcUUID is linked.
func (s *LinkingService) PlayerStatus(ctx context.Context, mcUUID string) (types.PlayerStatus, error) {
	uuid, ok := NormalizeMCUUID(mcUUID)
	if !ok {
		return types.PlayerStatus{}, invalid("Invalid Minecraft UUID")
	}
	link, err := s.links.GetByUUID(ctx, uuid)
	status, err := s.playerStatus(ctx, link, err)
	if err != nil {
		return types.PlayerStatus{}, err
	}
	status.MCUUID = uuid
	return status, nil
}

func (s *LinkingService) playerStatus(ctx context.Context, link types.MinecraftLink, err error) (types.PlayerStatus, error) {
	if errors.Is(err, store.ErrNotFound) {
		return types.PlayerStatus{Linked: false}, nil
	}
	if err != nil {
		return types.PlayerStatus{}, err
	}
	user, err := s.users.GetByID(ctx, link.UserID)
	if err != nil {
		return types.PlayerStatus{}, err
	}
	return types.PlayerStatus{
		Linked:          true,
		MCUUID:          link.MCUUID,
		MCUsername:      link.MCUsername,
		UserID:          user.ID,
		WebsiteUsername: user.Username,
		LuckPermsGroup:  user.LuckPermsGroup,
	}, nil
}

// UpdatePlayer merges plugin-reported player data and refreshes last seen.
func (s *LinkingService) UpdatePlayer(ctx context.Context, mcUUID, mcUsername string, data json.RawMessage) (types.MinecraftLink, error) {
	uuid, ok := NormalizeMCUUID(mcUUID)
	if !ok {
		return types.MinecraftLink{}, invalid("Invalid Minecraft UUID")
	}
	mcUsername = strings.TrimSpace(mcUsername)
	if mcUsername != "" && !validMCUsername(mcUsername) {
		return types.MinecraftLink{}, invalid("Invalid Minecraft username")
	}
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	if !isJSONObject(data) {
		return types.MinecraftLink{}, invalid("data must be a JSON object")
	}
	link, err := s.links.MergePlayerData(ctx, uuid, mcUsername, data, s.now())
	if err != nil {
		return types.MinecraftLink{}, notFoundAs(err, "Player is not linked")
	}
	return link, nil
}

// RecordStats merges a stats object into the player's link and pushes it to
// the owner and the admins room.
func (s *LinkingService) RecordStats(ctx context.Context, mcUUID string, stats json.RawMessage) (types.MinecraftLink, error) {
	uuid, ok := NormalizeMCUUID(mcUUID)
	if !ok {
		return types.MinecraftLink{}, invalid("Invalid Minecraft UUID")
	}
	if !isJSONObject(stats) {
		return types.MinecraftLink{}, invalid("stats must be a JSON object")
	}
	link, err := s.links.MergeStats(ctx, uuid, stats, s.now())
	if err != nil {
		return types.MinecraftLink{}, notFoundAs(err, "Player is not linked")
	}

	event := types.NewEvent(types.EventPlayerStats, PlayerStatsData{
		UserID:     link.UserID,
		MCUUID:     link.MCUUID,
		MCUsername: link.MCUsername,
		Stats:      link.Stats,
	})
	s.pusher.Notify(link.UserID, event)
	s.pusher.NotifyAdmins(event)
	return link, nil
}

// HandleStatsMessage consumes a stats message from the broker. Messages for
// unknown or malformed players are logged and acknowledged.
func (s *LinkingService) HandleStatsMessage(ctx context.Context, msg types.PlayerStatsMessage) error {
	_, err := s.RecordStats(ctx, msg.MCUUID, msg.Stats)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInvalidInput) || errors.Is(err, store.ErrNotFound) {
		s.logger.Debug("ignoring stats message", zap.String("mc_uuid", msg.MCUUID), zap.Error(err))
		return nil
	}
	return err
}

// ForceRefresh re-announces a player's link state to the user and the plugin.
func (s *LinkingService) ForceRefresh(ctx context.Context, mcUUID string) (types.PlayerStatus, error) {
	uuid, ok := NormalizeMCUUID(mcUUID)
	if !ok {
		return types.PlayerStatus{}, invalid("Invalid Minecraft UUID")
	}
	link, err := s.links.GetByUUID(ctx, uuid)
	if errors.Is(err, store.ErrNotFound) {
		s.publish(ctx, types.PluginPlayerUnlinked, LinkEventData{MCUUID: uuid})
		return types.PlayerStatus{Linked: false, MCUUID: uuid}, nil
	}
	if err != nil {
		return types.PlayerStatus{}, err
	}
	user, err := s.users.GetByID(ctx, link.UserID)
	if err != nil {
		return types.PlayerStatus{}, err
	}
	s.announceLinked(ctx, user, link)
	return types.PlayerStatus{
		Linked:          true,
		MCUUID:          link.MCUUID,
		MCUsername:      link.MCUsername,
		UserID:          user.ID,
		WebsiteUsername: user.Username,
		LuckPermsGroup:  user.LuckPermsGroup,
	}, nil
}

// Unlink removes the current user's link.
func (s *LinkingService) Unlink(ctx context.Context, userID int) (types.UnlinkResult, error) {
	return s.unlink(ctx, userID)
}

// UnlinkPlayer removes a link identified by the plugin, preferring the UUID.
func (s *LinkingService) UnlinkPlayer(ctx context.Context, mcUUID, mcUsername string) (types.UnlinkResult, error) {
	var (
		link types.MinecraftLink
		err  = store.ErrNotFound
	)
	if strings.TrimSpace(mcUUID) != "" {
		uuid, ok := NormalizeMCUUID(mcUUID)
		if !ok {
			return types.UnlinkResult{}, invalid("Invalid Minecraft UUID")
		}
		link, err = s.links.GetByUUID(ctx, uuid)
	}
	if errors.Is(err, store.ErrNotFound) && strings.TrimSpace(mcUsername) != "" {
		link, err = s.links.GetByMCUsername(ctx, strings.TrimSpace(mcUsername))
	}
	if errors.Is(err, store.ErrNotFound) {
		if mcUUID == "" && mcUsername == "" {
			return types.UnlinkResult{}, invalid("mcUUID or mcUsername is required")
		}
		return types.UnlinkResult{Success: true, AlreadyUnlinked: true}, nil
	}
	if err != nil {
		return types.UnlinkResult{}, err
	}
	return s.unlink(ctx, link.UserID)
}

// ForceUnlink removes a user's link on behalf of an admin.
func (s *LinkingService) ForceUnlink(ctx context.Context, actor types.Actor, userID int) (types.UnlinkResult, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return types.UnlinkResult{}, notFoundAs(err, "User not found")
	}
	result, err := s.unlink(ctx, userID)
	if err != nil {
		return types.UnlinkResult{}, err
	}
	if !result.AlreadyUnlinked {
		s.audit.Record(ctx, actor, types.AuditForceUnlink, AuditTarget{User: userID},
			map[string]string{"mcUUID": result.MCUUID, "mcUsername": result.MCUsername})
	}
	return result, nil
}

// EmitUnlink unlinks userID when still linked, and otherwise re-sends the
// unlink event so open pages catch up.
func (s *LinkingService) EmitUnlink(ctx context.Context, userID int) (types.UnlinkResult, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return types.UnlinkResult{}, notFoundAs(err, "User not found")
	}
	result, err := s.unlink(ctx, userID)
	if err != nil {
		return types.UnlinkResult{}, err
	}
	if result.AlreadyUnlinked {
		s.pusher.NotifyCritical(userID, types.NewEvent(types.EventAccountUnlinked, LinkEventData{UserID: userID}))
	}
	return result, nil
}

func (s *LinkingService) unlink(ctx context.Context, userID int) (types.UnlinkResult, error) {
	link, err := s.links.Delete(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return types.UnlinkResult{Success: true, AlreadyUnlinked: true}, nil
	}
	if err != nil {
		return types.UnlinkResult{}, err
	}

	metrics.LinkEvents.WithLabelValues(metrics.LinkUnlinked).Inc()
	s.logger.Info("minecraft account unlinked",
		zap.Int("user_id", userID),
		zap.String("mc_uuid", link.MCUUID),
	)

	data := LinkEventData{UserID: userID, MCUUID: link.MCUUID, MCUsername: link.MCUsername}
	s.pusher.NotifyCritical(userID, types.NewEvent(types.EventAccountUnlinked, data))
	s.notices.Deliver(ctx, Notice{
		RecipientID: userID,
		Type:        types.NotifyAccountUnlinked,
		Message:     fmt.Sprintf("Your account was unlinked from Minecraft player %s", link.MCUsername),
		Data:        data,
	})
	s.publish(ctx, types.PluginPlayerUnlinked, data)

	return types.UnlinkResult{
		Success:    true,
		MCUUID:     link.MCUUID,
		MCUsername: link.MCUsername,
	}, nil
}

func (s *LinkingService) announceLinked(ctx context.Context, user types.User, link types.MinecraftLink) {
	data := LinkEventData{
		UserID:         user.ID,
		Username:       user.Username,
		MCUUID:         link.MCUUID,
		MCUsername:     link.MCUsername,
		LuckPermsGroup: user.LuckPermsGroup,
		LinkedAt:       link.LinkedAt.UTC().Format(time.RFC3339),
	}
	s.pusher.NotifyCritical(user.ID, types.NewEvent(types.EventMinecraftLinked, data))
	s.publish(ctx, types.PluginPlayerLinked, data)
}

func (s *LinkingService) publish(ctx context.Context, event string, data any) {
	if err := s.plugin.Publish(ctx, event, data); err != nil {
		s.logger.Warn("failed to publish plugin event", zap.String("event", event), zap.Error(err))
	}
}

// CleanupExpired deletes expired link codes.
func (s *LinkingService) CleanupExpired(ctx context.Context) (int64, error) {
	removed, err := s.links.DeleteExpiredCodes(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		metrics.LinkEvents.WithLabelValues(metrics.LinkExpired).Add(float64(removed))
		s.logger.Info("expired link codes removed", zap.Int64("count", removed))
	}
	return removed, nil
}

// RunSweeper deletes expired link codes every cleanup interval until ctx is
// done.
func (s *LinkingService) RunSweeper(ctx context.Context) error {
	interval := s.cfg.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.CleanupExpired(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("link code cleanup failed", zap.Error(err))
			}
		}
	}
}

func newLinkCode() (string, error) {
	buf := make([]byte, linkCodeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}
