package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/bizzylink/apiserver/types"
)

// NotificationRepository handles persistence for notifications.
type NotificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, notification types.Notification) (types.Notification, error) {
	notification.CreatedAt = time.Now()
	const query = `
		INSERT INTO notifications (recipient_id, sender_id, type, message, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	var data any
	if len(notification.Data) > 0 {
		data = []byte(notification.Data)
	}
	if err := r.db.QueryRowContext(
		ctx,
		query,
		notification.RecipientID,
		nullInt(notification.SenderID),
		notification.Type,
		notification.Message,
		data,
		notification.CreatedAt,
	).Scan(&notification.ID); err != nil {
		return types.Notification{}, mapError(err)
	}
	return notification, nil
}

func (r *NotificationRepository) Get(ctx context.Context, id int) (types.Notification, error) {
	const query = `
		SELECT n.id, n.recipient_id, n.sender_id, u.username, u.avatar, n.type, n.message, n.data, n.read, n.created_at
		FROM notifications n
		LEFT JOIN users u ON u.id = n.sender_id
		WHERE n.id = $1`
	return scanNotification(r.db.QueryRowContext(ctx, query, id))
}

// ListForRecipient returns the newest notifications for a user.
func (r *NotificationRepository) ListForRecipient(ctx context.Context, recipientID, limit int) ([]types.Notification, error) {
	const query = `
		SELECT n.id, n.recipient_id, n.sender_id, u.username, u.avatar, n.type, n.message, n.data, n.read, n.created_at
		FROM notifications n
		LEFT JOIN users u ON u.id = n.sender_id
		WHERE n.recipient_id = $1
		ORDER BY n.created_at DESC, n.id DESC
		LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, recipientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := make([]types.Notification, 0)
	for rows.Next() {
		notification, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, notification)
	}
	return notifications, rows.Err()
}

func (r *NotificationRepository) CountUnread(ctx context.Context, recipientID int) (int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM notifications WHERE recipient_id = $1 AND NOT read`,
		recipientID,
	).Scan(&total)
	return total, err
}

func (r *NotificationRepository) MarkRead(ctx context.Context, id int) error {
	result, err := r.db.ExecContext(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

// MarkAllRead marks every unread notification of a user and returns how many changed.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, recipientID int) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET read = TRUE WHERE recipient_id = $1 AND NOT read`,
		recipientID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *NotificationRepository) Delete(ctx context.Context, id int) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

func scanNotification(row rowScanner) (types.Notification, error) {
	var notification types.Notification
	var senderID sql.NullInt64
	var senderName, senderAvatar sql.NullString
	var data []byte
	if err := row.Scan(
		&notification.ID,
		&notification.RecipientID,
		&senderID,
		&senderName,
		&senderAvatar,
		&notification.Type,
		&notification.Message,
		&data,
		&notification.Read,
		&notification.CreatedAt,
	); err != nil {
		return types.Notification{}, mapError(err)
	}
	notification.SenderID = intPtr(senderID)
	if notification.SenderID != nil {
		notification.Sender = &types.UserSummary{
			ID:       *notification.SenderID,
			Username: senderName.String,
			Avatar:   senderAvatar.String,
		}
	}
	if len(data) > 0 {
		notification.Data = data
	}
	return notification, nil
}
