package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bizzylink/apiserver/types"
)

const userColumns = `
	id, username, COALESCE(email, ''), password_hash, role, forum_rank, luckperms_group,
	permissions, account_status, failed_logins, locked_until, last_login_at, last_login_ip,
	registration_ip, last_active_at, avatar, bio, signature, post_count, thread_count,
	reputation, vouches, balance, settings, created_at, updated_at`

// UserRepository handles persistence for users.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func scanUser(row rowScanner) (types.User, error) {
	var user types.User
	var permissionsJSON, settingsJSON []byte
	var lockedUntil, lastLogin, lastActive sql.NullTime
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.ForumRank,
		&user.LuckPermsGroup,
		&permissionsJSON,
		&user.AccountStatus,
		&user.FailedLogins,
		&lockedUntil,
		&lastLogin,
		&user.LastLoginIP,
		&user.RegistrationIP,
		&lastActive,
		&user.Avatar,
		&user.Bio,
		&user.Signature,
		&user.PostCount,
		&user.ThreadCount,
		&user.Reputation,
		&user.Vouches,
		&user.Balance,
		&settingsJSON,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return types.User{}, mapError(err)
	}
	user.LockedUntil = timePtr(lockedUntil)
	user.LastLoginAt = timePtr(lastLogin)
	user.LastActiveAt = timePtr(lastActive)

	if err := json.Unmarshal(permissionsJSON, &user.Permissions); err != nil {
		return types.User{}, fmt.Errorf("decode permissions of user %d: %w", user.ID, err)
	}
	user.Settings = types.DefaultUserSettings()
	if err := json.Unmarshal(settingsJSON, &user.Settings); err != nil {
		return types.User{}, fmt.Errorf("decode settings of user %d: %w", user.ID, err)
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int) (types.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (types.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(username) = LOWER($1)`
	return scanUser(r.db.QueryRowContext(ctx, query, username))
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	permissionsJSON, err := json.Marshal(user.Permissions)
	if err != nil {
		return types.User{}, err
	}
	settingsJSON, err := json.Marshal(user.Settings)
	if err != nil {
		return types.User{}, err
	}

	const query = `
		INSERT INTO users (
			username, email, password_hash, role, forum_rank, luckperms_group,
			permissions, account_status, registration_ip, last_login_ip, settings,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		user.Username,
		nullString(user.Email),
		user.PasswordHash,
		user.Role,
		user.ForumRank,
		user.LuckPermsGroup,
		permissionsJSON,
		user.AccountStatus,
		user.RegistrationIP,
		user.LastLoginIP,
		settingsJSON,
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.ID); err != nil {
		return types.User{}, mapError(err)
	}
	return user, nil
}

// Update writes the mutable profile, authorization and settings fields.
// Counters and balance are maintained by dedicated operations.
func (r *UserRepository) Update(ctx context.Context, user types.User) (types.User, error) {
	user.UpdatedAt = time.Now()

	permissionsJSON, err := json.Marshal(user.Permissions)
	if err != nil {
		return types.User{}, err
	}
	settingsJSON, err := json.Marshal(user.Settings)
	if err != nil {
		return types.User{}, err
	}

	const query = `
		UPDATE users
		SET username = $1,
			email = $2,
			password_hash = $3,
			role = $4,
			forum_rank = $5,
			luckperms_group = $6,
			permissions = $7,
			account_status = $8,
			avatar = $9,
			bio = $10,
			signature = $11,
			settings = $12,
			updated_at = $13
		WHERE id = $14`
	result, err := r.db.ExecContext(
		ctx,
		query,
		user.Username,
		nullString(user.Email),
		user.PasswordHash,
		user.Role,
		user.ForumRank,
		user.LuckPermsGroup,
		permissionsJSON,
		user.AccountStatus,
		user.Avatar,
		user.Bio,
		user.Signature,
		settingsJSON,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		return types.User{}, mapError(err)
	}
	if err := expectAffected(result); err != nil {
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) Delete(ctx context.Context, id int) error {
	const query = `DELETE FROM users WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

// List returns users newest first with the total count.
func (r *UserRepository) List(ctx context.Context, offset, limit int) ([]types.User, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 10
	}

	const countQuery = `SELECT COUNT(1) FROM users`
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC, id DESC OFFSET $1 LIMIT $2`
	users, err := r.queryUsers(ctx, query, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// Search matches username or email case-insensitively.
func (r *UserRepository) Search(ctx context.Context, term string, limit int) ([]types.User, error) {
	query := `SELECT ` + userColumns + `
		FROM users
		WHERE username ILIKE $1 OR email ILIKE $1
		ORDER BY username
		LIMIT $2`
	return r.queryUsers(ctx, query, "%"+escapeLike(term)+"%", limit)
}

func (r *UserRepository) Count(ctx context.Context) (int, error) {
	var total int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM users`).Scan(&total)
	return total, err
}

// RecordFailedLogin increments the failure counter. When the counter reaches
// maxAttempts the account is locked until lockUntil and the counter restarts.
func (r *UserRepository) RecordFailedLogin(ctx context.Context, id, maxAttempts int, lockUntil time.Time) (bool, error) {
	const query = `
		UPDATE users
		SET failed_logins = CASE WHEN failed_logins + 1 >= $2 THEN 0 ELSE failed_logins + 1 END,
			locked_until = CASE WHEN failed_logins + 1 >= $2 THEN $3 ELSE locked_until END
		WHERE id = $1
		RETURNING failed_logins = 0`
	var locked bool
	if err := r.db.QueryRowContext(ctx, query, id, maxAttempts, lockUntil).Scan(&locked); err != nil {
		return false, mapError(err)
	}
	return locked, nil
}

// RecordLogin clears lockout state and stores the login time and address.
func (r *UserRepository) RecordLogin(ctx context.Context, id int, ip string, at time.Time) error {
	const query = `
		UPDATE users
		SET failed_logins = 0,
			locked_until = NULL,
			last_login_at = $2,
			last_login_ip = $3,
			last_active_at = $2
		WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, at, ip)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

func (r *UserRepository) TouchActive(ctx context.Context, id int, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET last_active_at = $2 WHERE id = $1`, id, at)
	return err
}

func (r *UserRepository) queryUsers(ctx context.Context, query string, args ...any) ([]types.User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]types.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}
