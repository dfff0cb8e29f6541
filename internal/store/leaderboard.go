package store

import (
	"context"
	"database/sql"

	"github.com/bizzylink/apiserver/types"
)

// RankByStat orders active linked players by the numeric value of statKey in
// their stats. Missing or non-numeric values count as zero.
func (r *LinkRepository) RankByStat(ctx context.Context, statKey string, limit int) ([]types.RankedLink, error) {
	const query = `
		SELECT l.user_id, l.mc_uuid, l.mc_username, l.linked_at, l.last_seen, l.stats, l.player_data,
			u.username,
			CASE WHEN jsonb_typeof(l.stats -> $1) = 'number'
				THEN (l.stats ->> $1)::double precision ELSE 0 END AS score
		FROM minecraft_links l
		JOIN users u ON u.id = l.user_id
		WHERE u.account_status = 'active'
		ORDER BY score DESC, l.linked_at ASC
		LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, statKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ranked := make([]types.RankedLink, 0, limit)
	for rows.Next() {
		var entry types.RankedLink
		var lastSeen sql.NullTime
		var stats, playerData []byte
		if err := rows.Scan(
			&entry.Link.UserID,
			&entry.Link.MCUUID,
			&entry.Link.MCUsername,
			&entry.Link.LinkedAt,
			&lastSeen,
			&stats,
			&playerData,
			&entry.Username,
			&entry.Score,
		); err != nil {
			return nil, err
		}
		entry.Link.LastSeen = timePtr(lastSeen)
		entry.Link.Stats = stats
		entry.Link.PlayerData = playerData
		ranked = append(ranked, entry)
	}
	return ranked, rows.Err()
}
