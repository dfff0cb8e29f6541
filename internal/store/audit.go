package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/bizzylink/apiserver/types"
)

// AuditRepository handles persistence for admin audit logs.
type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Create(ctx context.Context, entry types.AuditLog) (types.AuditLog, error) {
	entry.CreatedAt = time.Now()
	const query = `
		INSERT INTO audit_logs (admin_id, action, target_user, target_thread, target_post, details, ip, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	var details any
	if len(entry.Details) > 0 {
		details = []byte(entry.Details)
	}
	if err := r.db.QueryRowContext(
		ctx,
		query,
		entry.AdminID,
		entry.Action,
		nullInt(entry.TargetUser),
		nullInt(entry.TargetThread),
		nullInt(entry.TargetPost),
		details,
		entry.IP,
		entry.UserAgent,
		entry.CreatedAt,
	).Scan(&entry.ID); err != nil {
		return types.AuditLog{}, err
	}
	return entry, nil
}

// List returns audit entries newest first, optionally filtered by action.
func (r *AuditRepository) List(ctx context.Context, action string, offset, limit int) ([]types.AuditLog, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	const countQuery = `SELECT COUNT(1) FROM audit_logs WHERE ($1 = '' OR action = $1)`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, action).Scan(&total); err != nil {
		return nil, 0, err
	}

	const listQuery = `
		SELECT id, admin_id, action, target_user, target_thread, target_post, details, ip, user_agent, created_at
		FROM audit_logs
		WHERE ($1 = '' OR action = $1)
		ORDER BY created_at DESC, id DESC
		OFFSET $2 LIMIT $3`
	rows, err := r.db.QueryContext(ctx, listQuery, action, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := make([]types.AuditLog, 0, limit)
	for rows.Next() {
		var entry types.AuditLog
		var targetUser, targetThread, targetPost sql.NullInt64
		var details []byte
		if err := rows.Scan(
			&entry.ID,
			&entry.AdminID,
			&entry.Action,
			&targetUser,
			&targetThread,
			&targetPost,
			&details,
			&entry.IP,
			&entry.UserAgent,
			&entry.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		entry.TargetUser = intPtr(targetUser)
		entry.TargetThread = intPtr(targetThread)
		entry.TargetPost = intPtr(targetPost)
		if len(details) > 0 {
			entry.Details = details
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}
