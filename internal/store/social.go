package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/bizzylink/apiserver/types"
)

// SocialRepository handles friend requests, friendships and follows.
type SocialRepository struct {
	db *sql.DB
}

func NewSocialRepository(db *sql.DB) *SocialRepository {
	return &SocialRepository{db: db}
}

const friendRequestColumns = `
	r.id, r.sender_id, r.recipient_id, u.username, u.avatar, r.status, r.created_at, r.updated_at`

func (r *SocialRepository) GetFriendRequest(ctx context.Context, id int) (types.FriendRequest, error) {
	query := `SELECT ` + friendRequestColumns + `
		FROM friend_requests r
		JOIN users u ON u.id = r.sender_id
		WHERE r.id = $1`
	return scanFriendRequest(r.db.QueryRowContext(ctx, query, id))
}

// FindPendingRequest returns a pending request between a and b in either direction.
func (r *SocialRepository) FindPendingRequest(ctx context.Context, a, b int) (types.FriendRequest, error) {
	query := `SELECT ` + friendRequestColumns + `
		FROM friend_requests r
		JOIN users u ON u.id = r.sender_id
		WHERE r.status = 'pending'
		  AND ((r.sender_id = $1 AND r.recipient_id = $2) OR (r.sender_id = $2 AND r.recipient_id = $1))
		LIMIT 1`
	return scanFriendRequest(r.db.QueryRowContext(ctx, query, a, b))
}

func (r *SocialRepository) CreateFriendRequest(ctx context.Context, senderID, recipientID int) (types.FriendRequest, error) {
	now := time.Now()
	const query = `
		INSERT INTO friend_requests (sender_id, recipient_id, status, created_at, updated_at)
		VALUES ($1, $2, 'pending', $3, $3)
		RETURNING id`
	var id int
	if err := r.db.QueryRowContext(ctx, query, senderID, recipientID, now).Scan(&id); err != nil {
		return types.FriendRequest{}, mapError(err)
	}
	return r.GetFriendRequest(ctx, id)
}

// ListIncomingRequests returns pending requests addressed to userID.
func (r *SocialRepository) ListIncomingRequests(ctx context.Context, userID int) ([]types.FriendRequest, error) {
	query := `SELECT ` + friendRequestColumns + `
		FROM friend_requests r
		JOIN users u ON u.id = r.sender_id
		WHERE r.recipient_id = $1 AND r.status = 'pending'
		ORDER BY r.created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requests := make([]types.FriendRequest, 0)
	for rows.Next() {
		request, err := scanFriendRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, request)
	}
	return requests, rows.Err()
}

// AcceptFriendRequest marks a pending request accepted and creates the
// friendship in both directions.
func (r *SocialRepository) AcceptFriendRequest(ctx context.Context, id int) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		now := time.Now()
		const update = `
			UPDATE friend_requests
			SET status = 'accepted', updated_at = $2
			WHERE id = $1 AND status = 'pending'
			RETURNING sender_id, recipient_id`
		var senderID, recipientID int
		if err := tx.QueryRowContext(ctx, update, id, now).Scan(&senderID, &recipientID); err != nil {
			return mapError(err)
		}

		const insert = `
			INSERT INTO friendships (user_id, friend_id, created_at)
			VALUES ($1, $2, $3), ($2, $1, $3)
			ON CONFLICT DO NOTHING`
		_, err := tx.ExecContext(ctx, insert, senderID, recipientID, now)
		return err
	})
}

func (r *SocialRepository) RejectFriendRequest(ctx context.Context, id int) error {
	const query = `
		UPDATE friend_requests
		SET status = 'rejected', updated_at = $2
		WHERE id = $1 AND status = 'pending'`
	result, err := r.db.ExecContext(ctx, query, id, time.Now())
	if err != nil {
		return err
	}
	return expectAffected(result)
}

func (r *SocialRepository) AreFriends(ctx context.Context, a, b int) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM friendships WHERE user_id = $1 AND friend_id = $2)`,
		a, b,
	).Scan(&exists)
	return exists, err
}

func (r *SocialRepository) ListFriends(ctx context.Context, userID int) ([]types.Friend, error) {
	const query = `
		SELECT u.id, u.username, u.avatar, f.created_at
		FROM friendships f
		JOIN users u ON u.id = f.friend_id
		WHERE f.user_id = $1
		ORDER BY u.username`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	friends := make([]types.Friend, 0)
	for rows.Next() {
		var friend types.Friend
		if err := rows.Scan(&friend.ID, &friend.Username, &friend.Avatar, &friend.Since); err != nil {
			return nil, err
		}
		friends = append(friends, friend)
	}
	return friends, rows.Err()
}

// RemoveFriend deletes the friendship in both directions.
func (r *SocialRepository) RemoveFriend(ctx context.Context, a, b int) error {
	const query = `
		DELETE FROM friendships
		WHERE (user_id = $1 AND friend_id = $2) OR (user_id = $2 AND friend_id = $1)`
	result, err := r.db.ExecContext(ctx, query, a, b)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

// Follow subscribes followerID to followeeID. It reports whether a new
// follow was created.
func (r *SocialRepository) Follow(ctx context.Context, followerID, followeeID int) (bool, error) {
	const query = `
		INSERT INTO follows (follower_id, followee_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`
	result, err := r.db.ExecContext(ctx, query, followerID, followeeID, time.Now())
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

// Unfollow reports whether a follow was removed.
func (r *SocialRepository) Unfollow(ctx context.Context, followerID, followeeID int) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM follows WHERE follower_id = $1 AND followee_id = $2`,
		followerID, followeeID,
	)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

func (r *SocialRepository) ListFollowing(ctx context.Context, userID int) ([]types.Follow, error) {
	const query = `
		SELECT u.id, u.username, u.avatar, f.created_at
		FROM follows f
		JOIN users u ON u.id = f.followee_id
		WHERE f.follower_id = $1
		ORDER BY f.created_at DESC`
	return r.queryFollows(ctx, query, userID)
}

func (r *SocialRepository) ListFollowers(ctx context.Context, userID int) ([]types.Follow, error) {
	const query = `
		SELECT u.id, u.username, u.avatar, f.created_at
		FROM follows f
		JOIN users u ON u.id = f.follower_id
		WHERE f.followee_id = $1
		ORDER BY f.created_at DESC`
	return r.queryFollows(ctx, query, userID)
}

func (r *SocialRepository) queryFollows(ctx context.Context, query string, userID int) ([]types.Follow, error) {
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	follows := make([]types.Follow, 0)
	for rows.Next() {
		var follow types.Follow
		if err := rows.Scan(&follow.ID, &follow.Username, &follow.Avatar, &follow.Since); err != nil {
			return nil, err
		}
		follows = append(follows, follow)
	}
	return follows, rows.Err()
}

func scanFriendRequest(row rowScanner) (types.FriendRequest, error) {
	var request types.FriendRequest
	if err := row.Scan(
		&request.ID,
		&request.SenderID,
		&request.RecipientID,
		&request.Sender.Username,
		&request.Sender.Avatar,
		&request.Status,
		&request.CreatedAt,
		&request.UpdatedAt,
	); err != nil {
		return types.FriendRequest{}, mapError(err)
	}
	request.Sender.ID = request.SenderID
	return request, nil
}
