package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/bizzylink/apiserver/types"
)

// TokenRepository handles persistence for refresh tokens and invite codes.
type TokenRepository struct {
	db *sql.DB
}

func NewTokenRepository(db *sql.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

func (r *TokenRepository) CreateRefreshToken(ctx context.Context, token types.RefreshToken) (types.RefreshToken, error) {
	token.CreatedAt = time.Now()
	const query = `
		INSERT INTO refresh_tokens (user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`
	if err := r.db.QueryRowContext(ctx, query, token.UserID, token.TokenHash, token.ExpiresAt, token.CreatedAt).
		Scan(&token.ID); err != nil {
		return types.RefreshToken{}, mapError(err)
	}
	return token, nil
}

func (r *TokenRepository) GetRefreshToken(ctx context.Context, tokenHash string) (types.RefreshToken, error) {
	const query = `
		SELECT id, user_id, token_hash, expires_at, created_at
		FROM refresh_tokens
		WHERE token_hash = $1`
	var token types.RefreshToken
	err := r.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.ExpiresAt,
		&token.CreatedAt,
	)
	if err != nil {
		return types.RefreshToken{}, mapError(err)
	}
	return token, nil
}

func (r *TokenRepository) DeleteRefreshToken(ctx context.Context, tokenHash string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

// DeleteExpiredRefreshTokens removes tokens that expired before now.
func (r *TokenRepository) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *TokenRepository) CreateInvite(ctx context.Context, invite types.InviteCode) (types.InviteCode, error) {
	invite.CreatedAt = time.Now()
	const query = `
		INSERT INTO invite_codes (code, created_by, expires_at, created_at)
		VALUES ($1, $2, $3, $4)`
	var expiresAt sql.NullTime
	if invite.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: *invite.ExpiresAt, Valid: true}
	}
	if _, err := r.db.ExecContext(ctx, query, invite.Code, invite.CreatedBy, expiresAt, invite.CreatedAt); err != nil {
		return types.InviteCode{}, mapError(err)
	}
	return invite, nil
}

func (r *TokenRepository) GetInvite(ctx context.Context, code string) (types.InviteCode, error) {
	const query = `
		SELECT code, created_by, used_by, used_at, expires_at, revoked, created_at
		FROM invite_codes
		WHERE code = $1`
	return scanInvite(r.db.QueryRowContext(ctx, query, code))
}

func (r *TokenRepository) ListInvites(ctx context.Context) ([]types.InviteCode, error) {
	const query = `
		SELECT code, created_by, used_by, used_at, expires_at, revoked, created_at
		FROM invite_codes
		ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invites := make([]types.InviteCode, 0)
	for rows.Next() {
		invite, err := scanInvite(rows)
		if err != nil {
			return nil, err
		}
		invites = append(invites, invite)
	}
	return invites, rows.Err()
}

func (r *TokenRepository) RevokeInvite(ctx context.Context, code string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE invite_codes SET revoked = TRUE WHERE code = $1`, code)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

// RedeemInvite marks an invite as used by userID. It returns ErrNotFound when
// the invite is unknown, already used, revoked or expired.
func (r *TokenRepository) RedeemInvite(ctx context.Context, code string, userID int, now time.Time) error {
	const query = `
		UPDATE invite_codes
		SET used_by = $2, used_at = $3
		WHERE code = $1
		  AND used_by IS NULL
		  AND NOT revoked
		  AND (expires_at IS NULL OR expires_at > $3)`
	result, err := r.db.ExecContext(ctx, query, code, userID, now)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

func scanInvite(row rowScanner) (types.InviteCode, error) {
	var invite types.InviteCode
	var usedBy sql.NullInt64
	var usedAt, expiresAt sql.NullTime
	if err := row.Scan(
		&invite.Code,
		&invite.CreatedBy,
		&usedBy,
		&usedAt,
		&expiresAt,
		&invite.Revoked,
		&invite.CreatedAt,
	); err != nil {
		return types.InviteCode{}, mapError(err)
	}
	invite.UsedBy = intPtr(usedBy)
	invite.UsedAt = timePtr(usedAt)
	invite.ExpiresAt = timePtr(expiresAt)
	return invite, nil
}
