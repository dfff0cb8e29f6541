package services

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bizzylink/apiserver/types"
	"go.uber.org/zap"
)

const (
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
	defaultTimeFrame        = "all"
)

// PlayerRanker orders linked players by one stats key.
type PlayerRanker interface {
	RankByStat(ctx context.Context, statKey string, limit int) ([]types.RankedLink, error)
}

type leaderboardCategory struct {
	sortKey string
	fields  []string
}

// LeaderboardCategories lists the valid categories in display order.
var LeaderboardCategories = []string{"playtime", "economy", "mcmmo", "kills", "mining", "achievements"}

var leaderboardCategories = map[string]leaderboardCategory{
	"playtime":     {sortKey: "playtime_minutes", fields: []string{"playtime_minutes", "playtime", "level", "deaths"}},
	"economy":      {sortKey: "balance", fields: []string{"balance", "money_earned", "money_earned_today", "money_spent"}},
	"mcmmo":        {sortKey: "mcmmo_power_level", fields: []string{"mcmmo_power_level"}},
	"kills":        {sortKey: "mobs_killed", fields: []string{"mobs_killed", "player_kills", "deaths"}},
	"mining":       {sortKey: "blocks_mined", fields: []string{"blocks_mined", "ores_mined", "diamonds_mined"}},
	"achievements": {sortKey: "achievements", fields: []string{"achievements", "advancements_completed"}},
}

// LeaderboardService ranks linked players by their reported stats.
type LeaderboardService struct {
	ranker PlayerRanker
	logger *zap.Logger
}

func NewLeaderboardService(ranker PlayerRanker, logger *zap.Logger) *LeaderboardService {
	return &LeaderboardService{ranker: ranker, logger: logger}
}

// Top returns the best players of category. Limits are clamped to
// 1..100 with 10 as the default. Only the all-time frame is kept, so
// timeFrame is echoed back.
func (s *LeaderboardService) Top(ctx context.Context, category, timeFrame string, limit int) (types.Leaderboard, error) {
	spec, ok := leaderboardCategories[category]
	if !ok {
		return types.Leaderboard{}, invalid("Invalid category. Valid options are: %s", strings.Join(LeaderboardCategories, ", "))
	}
	if timeFrame == "" {
		timeFrame = defaultTimeFrame
	}
	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}
	limit = min(limit, maxLeaderboardLimit)

	ranked, err := s.ranker.RankByStat(ctx, spec.sortKey, limit)
	if err != nil {
		return types.Leaderboard{}, err
	}

	players := make([]types.LeaderboardEntry, 0, len(ranked))
	for i, player := range ranked {
		players = append(players, types.LeaderboardEntry{
			Position:   i + 1,
			UserID:     player.Link.UserID,
			Username:   player.Username,
			MCUsername: player.Link.MCUsername,
			MCUUID:     player.Link.MCUUID,
			Score:      player.Score,
			LastSeen:   player.Link.LastSeen,
			Stats:      s.pickStats(player.Link, spec.fields),
		})
	}
	return types.Leaderboard{Category: category, TimeFrame: timeFrame, Players: players}, nil
}

// pickStats copies fields out of the player's stats. Missing fields read as 0.
func (s *LeaderboardService) pickStats(link types.MinecraftLink, fields []string) map[string]any {
	var stats map[string]any
	if len(link.Stats) > 0 {
		if err := json.Unmarshal(link.Stats, &stats); err != nil {
			s.logger.Warn("unreadable player stats", zap.String("mc_uuid", link.MCUUID), zap.Error(err))
		}
	}
	picked := make(map[string]any, len(fields))
	for _, field := range fields {
		value, ok := stats[field]
		if !ok {
			value = 0
		}
		picked[field] = value
	}
	return picked
}
