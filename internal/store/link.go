package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/bizzylink/apiserver/types"
)

const linkColumns = `user_id, mc_uuid, mc_username, linked_at, last_seen, stats, player_data`

// LinkRepository handles Minecraft links and one-time link codes.
type LinkRepository struct {
	db *sql.DB
}

func NewLinkRepository(db *sql.DB) *LinkRepository {
	return &LinkRepository{db: db}
}

func (r *LinkRepository) GetByUserID(ctx context.Context, userID int) (types.MinecraftLink, error) {
	query := `SELECT ` + linkColumns + ` FROM minecraft_links WHERE user_id = $1`
	return scanLink(r.db.QueryRowContext(ctx, query, userID))
}

func (r *LinkRepository) GetByUUID(ctx context.Context, mcUUID string) (types.MinecraftLink, error) {
	query := `SELECT ` + linkColumns + ` FROM minecraft_links WHERE mc_uuid = $1`
	return scanLink(r.db.QueryRowContext(ctx, query, mcUUID))
}

func (r *LinkRepository) GetByMCUsername(ctx context.Context, mcUsername string) (types.MinecraftLink, error) {
	query := `SELECT ` + linkColumns + ` FROM minecraft_links WHERE LOWER(mc_username) = LOWER($1)`
	return scanLink(r.db.QueryRowContext(ctx, query, mcUsername))
}

// Delete removes the link of userID and returns the removed record.
func (r *LinkRepository) Delete(ctx context.Context, userID int) (types.MinecraftLink, error) {
	query := `DELETE FROM minecraft_links WHERE user_id = $1 RETURNING ` + linkColumns
	return scanLink(r.db.QueryRowContext(ctx, query, userID))
}

// MergeStats shallow-merges stats into the stored object and refreshes last_seen.
func (r *LinkRepository) MergeStats(ctx context.Context, mcUUID string, stats json.RawMessage, at time.Time) (types.MinecraftLink, error) {
	query := `
		UPDATE minecraft_links
		SET stats = stats || $2::jsonb, last_seen = $3
		WHERE mc_uuid = $1
		RETURNING ` + linkColumns
	return scanLink(r.db.QueryRowContext(ctx, query, mcUUID, []byte(stats), at))
}

// MergePlayerData shallow-merges data into the stored player data, updating
// the player name when one is given.
func (r *LinkRepository) MergePlayerData(ctx context.Context, mcUUID, mcUsername string, data json.RawMessage, at time.Time) (types.MinecraftLink, error) {
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	query := `
		UPDATE minecraft_links
		SET player_data = player_data || $2::jsonb,
			mc_username = COALESCE(NULLIF($3, ''), mc_username),
			last_seen = $4
		WHERE mc_uuid = $1
		RETURNING ` + linkColumns
	return scanLink(r.db.QueryRowContext(ctx, query, mcUUID, []byte(data), mcUsername, at))
}

// ReplaceCode stores code as the only link code of its user.
func (r *LinkRepository) ReplaceCode(ctx context.Context, code types.LinkCode) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM link_codes WHERE user_id = $1`, code.UserID); err != nil {
			return err
		}
		const insert = `
			INSERT INTO link_codes (code, user_id, mc_username, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5)`
		_, err := tx.ExecContext(ctx, insert, code.Code, code.UserID, code.MCUsername, code.CreatedAt, code.ExpiresAt)
		return mapError(err)
	})
}

// GetActiveCodeByUser returns the user's unexpired code.
func (r *LinkRepository) GetActiveCodeByUser(ctx context.Context, userID int, now time.Time) (types.LinkCode, error) {
	const query = `
		SELECT code, user_id, mc_username, created_at, expires_at
		FROM link_codes
		WHERE user_id = $1 AND expires_at > $2`
	return scanLinkCode(r.db.QueryRowContext(ctx, query, userID, now))
}

// GetActiveCodeByMCUsername returns the newest unexpired code reserved for a player name.
func (r *LinkRepository) GetActiveCodeByMCUsername(ctx context.Context, mcUsername string, now time.Time) (types.LinkCode, error) {
	const query = `
		SELECT code, user_id, mc_username, created_at, expires_at
		FROM link_codes
		WHERE LOWER(mc_username) = LOWER($1) AND expires_at > $2
		ORDER BY created_at DESC
		LIMIT 1`
	return scanLinkCode(r.db.QueryRowContext(ctx, query, mcUsername, now))
}

// DeleteExpiredCodes removes codes that expired at or before now.
func (r *LinkRepository) DeleteExpiredCodes(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM link_codes WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// RedeemCode consumes an unexpired code and creates the link for its owner in
// one transaction. It returns ErrNotFound for unknown or expired codes and
// ErrConflict when the player or the account is already linked, in which case
// the code is kept.
func (r *LinkRepository) RedeemCode(ctx context.Context, code, mcUUID, mcUsername string, now time.Time) (types.MinecraftLink, error) {
	var link types.MinecraftLink
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		const consume = `
			DELETE FROM link_codes
			WHERE code = $1 AND expires_at > $2
			RETURNING user_id`
		var userID int
		if err := tx.QueryRowContext(ctx, consume, code, now).Scan(&userID); err != nil {
			return mapError(err)
		}

		insert := `
			INSERT INTO minecraft_links (user_id, mc_uuid, mc_username, linked_at, last_seen)
			VALUES ($1, $2, $3, $4, $4)
			RETURNING ` + linkColumns
		created, err := scanLink(tx.QueryRowContext(ctx, insert, userID, mcUUID, mcUsername, now))
		if err != nil {
			return err
		}
		link = created
		return nil
	})
	if err != nil {
		return types.MinecraftLink{}, err
	}
	return link, nil
}

func scanLink(row rowScanner) (types.MinecraftLink, error) {
	var link types.MinecraftLink
	var lastSeen sql.NullTime
	var stats, playerData []byte
	if err := row.Scan(
		&link.UserID,
		&link.MCUUID,
		&link.MCUsername,
		&link.LinkedAt,
		&lastSeen,
		&stats,
		&playerData,
	); err != nil {
		return types.MinecraftLink{}, mapError(err)
	}
	link.LastSeen = timePtr(lastSeen)
	link.Stats = stats
	link.PlayerData = playerData
	return link, nil
}

func scanLinkCode(row rowScanner) (types.LinkCode, error) {
	var code types.LinkCode
	if err := row.Scan(&code.Code, &code.UserID, &code.MCUsername, &code.CreatedAt, &code.ExpiresAt); err != nil {
		return types.LinkCode{}, mapError(err)
	}
	return code, nil
}
