package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/bizzylink/apiserver/types"
)

const threadColumns = `
	t.id, t.title, t.category_id, t.author_id, u.username, u.avatar, t.pinned, t.locked,
	t.views, t.reply_count, t.first_post_id, t.last_post_id, t.created_at, t.updated_at`

// postColumns expects the viewer id as the first query argument.
const postColumns = `
	p.id, p.thread_id, p.author_id, u.username, u.avatar, p.content,
	(SELECT COUNT(1) FROM post_likes l WHERE l.post_id = p.id),
	EXISTS (SELECT 1 FROM post_likes l WHERE l.post_id = p.id AND l.user_id = $1),
	p.edited_at, p.edited_by, p.created_at`

// ForumRepository handles persistence for categories, threads, posts and likes.
// Denormalised counters on categories, threads and users are kept in step
// inside the same transaction as the row they count.
type ForumRepository struct {
	db *sql.DB
}

func NewForumRepository(db *sql.DB) *ForumRepository {
	return &ForumRepository{db: db}
}

func (r *ForumRepository) ListCategories(ctx context.Context) ([]types.Category, error) {
	const query = `
		SELECT id, name, slug, description, sort_order, thread_count, post_count, created_at, updated_at
		FROM categories
		ORDER BY sort_order, name`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]types.Category, 0)
	for rows.Next() {
		category, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		categories = append(categories, category)
	}
	return categories, rows.Err()
}

func (r *ForumRepository) GetCategory(ctx context.Context, id int) (types.Category, error) {
	const query = `
		SELECT id, name, slug, description, sort_order, thread_count, post_count, created_at, updated_at
		FROM categories
		WHERE id = $1`
	return scanCategory(r.db.QueryRowContext(ctx, query, id))
}

func (r *ForumRepository) CreateCategory(ctx context.Context, category types.Category) (types.Category, error) {
	now := time.Now()
	category.CreatedAt = now
	category.UpdatedAt = now

	const query = `
		INSERT INTO categories (name, slug, description, sort_order, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		category.Name,
		category.Slug,
		category.Description,
		category.Order,
		category.CreatedAt,
		category.UpdatedAt,
	).Scan(&category.ID); err != nil {
		return types.Category{}, mapError(err)
	}
	return category, nil
}

func (r *ForumRepository) UpdateCategory(ctx context.Context, category types.Category) (types.Category, error) {
	category.UpdatedAt = time.Now()
	const query = `
		UPDATE categories
		SET name = $1, slug = $2, description = $3, sort_order = $4, updated_at = $5
		WHERE id = $6`
	result, err := r.db.ExecContext(
		ctx,
		query,
		category.Name,
		category.Slug,
		category.Description,
		category.Order,
		category.UpdatedAt,
		category.ID,
	)
	if err != nil {
		return types.Category{}, mapError(err)
	}
	if err := expectAffected(result); err != nil {
		return types.Category{}, err
	}
	return r.GetCategory(ctx, category.ID)
}

// UpsertCategory inserts a category or updates the one with the same slug.
func (r *ForumRepository) UpsertCategory(ctx context.Context, category types.Category) (types.Category, error) {
	now := time.Now()
	const query = `
		INSERT INTO categories (name, slug, description, sort_order, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (slug) DO UPDATE
		SET name = EXCLUDED.name,
			description = EXCLUDED.description,
			sort_order = EXCLUDED.sort_order,
			updated_at = EXCLUDED.updated_at
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		category.Name,
		category.Slug,
		category.Description,
		category.Order,
		now,
	).Scan(&category.ID); err != nil {
		return types.Category{}, mapError(err)
	}
	return r.GetCategory(ctx, category.ID)
}

func (r *ForumRepository) DeleteCategory(ctx context.Context, id int) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(result)
}

func (r *ForumRepository) CountThreadsInCategory(ctx context.Context, categoryID int) (int, error) {
	var total int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM threads WHERE category_id = $1`, categoryID).Scan(&total)
	return total, err
}

// ListThreads returns a category's threads, pinned first then most recently active.
func (r *ForumRepository) ListThreads(ctx context.Context, categoryID, offset, limit int) ([]types.Thread, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	total, err := r.CountThreadsInCategory(ctx, categoryID)
	if err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + threadColumns + `
		FROM threads t
		JOIN users u ON u.id = t.author_id
		WHERE t.category_id = $1
		ORDER BY t.pinned DESC, t.updated_at DESC, t.id DESC
		OFFSET $2 LIMIT $3`
	threads, err := r.queryThreads(ctx, query, categoryID, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	return threads, total, nil
}

func (r *ForumRepository) GetThread(ctx context.Context, id int) (types.Thread, error) {
	query := `SELECT ` + threadColumns + `
		FROM threads t
		JOIN users u ON u.id = t.author_id
		WHERE t.id = $1`
	return scanThread(r.db.QueryRowContext(ctx, query, id))
}

// CreateThread stores a thread together with its first post.
func (r *ForumRepository) CreateThread(ctx context.Context, thread types.Thread, content string) (types.Thread, error) {
	now := time.Now()
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		const insertThread = `
			INSERT INTO threads (title, category_id, author_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
			RETURNING id`
		if err := tx.QueryRowContext(ctx, insertThread, thread.Title, thread.CategoryID, thread.AuthorID, now).
			Scan(&thread.ID); err != nil {
			return mapError(err)
		}

		const insertPost = `
			INSERT INTO posts (thread_id, author_id, content, created_at)
			VALUES ($1, $2, $3, $4)
			RETURNING id`
		var postID int
		if err := tx.QueryRowContext(ctx, insertPost, thread.ID, thread.AuthorID, content, now).Scan(&postID); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE threads SET first_post_id = $1, last_post_id = $1 WHERE id = $2`,
			postID, thread.ID,
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE categories SET thread_count = thread_count + 1, post_count = post_count + 1 WHERE id = $1`,
			thread.CategoryID,
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE users SET thread_count = thread_count + 1, post_count = post_count + 1 WHERE id = $1`,
			thread.AuthorID,
		)
		return err
	})
	if err != nil {
		return types.Thread{}, err
	}
	return r.GetThread(ctx, thread.ID)
}

// UpdateThread saves title, pin and lock state. When thread.CategoryID
// differs from the stored one the thread and its counts move in the same
// transaction. updated_at is left alone; it tracks reply activity.
func (r *ForumRepository) UpdateThread(ctx context.Context, thread types.Thread) (types.Thread, error) {
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var fromCategoryID, posts int
		const current = `
			SELECT t.category_id, (SELECT COUNT(1) FROM posts p WHERE p.thread_id = t.id)
			FROM threads t
			WHERE t.id = $1
			FOR UPDATE`
		if err := tx.QueryRowContext(ctx, current, thread.ID).Scan(&fromCategoryID, &posts); err != nil {
			return mapError(err)
		}

		const update = `
			UPDATE threads
			SET title = $1, pinned = $2, locked = $3, category_id = $4
			WHERE id = $5`
		if _, err := tx.ExecContext(ctx, update, thread.Title, thread.Pinned, thread.Locked, thread.CategoryID, thread.ID); err != nil {
			return mapError(err)
		}
		if fromCategoryID == thread.CategoryID {
			return nil
		}

		const decrement = `
			UPDATE categories
			SET thread_count = GREATEST(thread_count - 1, 0), post_count = GREATEST(post_count - $2, 0)
			WHERE id = $1`
		if _, err := tx.ExecContext(ctx, decrement, fromCategoryID, posts); err != nil {
			return err
		}
		const increment = `
			UPDATE categories
			SET thread_count = thread_count + 1, post_count = post_count + $2
			WHERE id = $1`
		result, err := tx.ExecContext(ctx, increment, thread.CategoryID, posts)
		if err != nil {
			return err
		}
		return expectAffected(result)
	})
	if err != nil {
		return types.Thread{}, err
	}
	return r.GetThread(ctx, thread.ID)
}

// DeleteThread removes a thread and its posts and rolls back every counter.
func (r *ForumRepository) DeleteThread(ctx context.Context, threadID int) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		var categoryID, authorID, posts int
		const current = `
			SELECT t.category_id, t.author_id, (SELECT COUNT(1) FROM posts p WHERE p.thread_id = t.id)
			FROM threads t
			WHERE t.id = $1
			FOR UPDATE`
		if err := tx.QueryRowContext(ctx, current, threadID).Scan(&categoryID, &authorID, &posts); err != nil {
			return mapError(err)
		}

		const authors = `
			UPDATE users u
			SET post_count = GREATEST(u.post_count - c.n, 0)
			FROM (SELECT author_id, COUNT(1) AS n FROM posts WHERE thread_id = $1 GROUP BY author_id) c
			WHERE u.id = c.author_id`
		if _, err := tx.ExecContext(ctx, authors, threadID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET thread_count = GREATEST(thread_count - 1, 0) WHERE id = $1`,
			authorID,
		); err != nil {
			return err
		}
		const category = `
			UPDATE categories
			SET thread_count = GREATEST(thread_count - 1, 0), post_count = GREATEST(post_count - $2, 0)
			WHERE id = $1`
		if _, err := tx.ExecContext(ctx, category, categoryID, posts); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE id = $1`, threadID)
		return err
	})
}

func (r *ForumRepository) IncrementViews(ctx context.Context, threadID int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE threads SET views = views + 1 WHERE id = $1`, threadID)
	return err
}

// SearchThreads matches thread titles case-insensitively.
func (r *ForumRepository) SearchThreads(ctx context.Context, term string, limit int) ([]types.Thread, error) {
	query := `SELECT ` + threadColumns + `
		FROM threads t
		JOIN users u ON u.id = t.author_id
		WHERE t.title ILIKE $1
		ORDER BY t.updated_at DESC
		LIMIT $2`
	return r.queryThreads(ctx, query, "%"+escapeLike(term)+"%", limit)
}

// RecentThreads returns the newest threads, optionally restricted to an author.
func (r *ForumRepository) RecentThreads(ctx context.Context, authorID, limit int) ([]types.Thread, error) {
	query := `SELECT ` + threadColumns + `
		FROM threads t
		JOIN users u ON u.id = t.author_id
		WHERE ($1 = 0 OR t.author_id = $1)
		ORDER BY t.created_at DESC
		LIMIT $2`
	return r.queryThreads(ctx, query, authorID, limit)
}

// ListPosts returns a thread's posts in ascending order, flagging the
// viewer's likes.
func (r *ForumRepository) ListPosts(ctx context.Context, threadID, viewerID int) ([]types.Post, error) {
	query := `SELECT ` + postColumns + `
		FROM posts p
		JOIN users u ON u.id = p.author_id
		WHERE p.thread_id = $2
		ORDER BY p.created_at, p.id`
	return r.queryPosts(ctx, query, viewerID, threadID)
}

func (r *ForumRepository) GetPost(ctx context.Context, id int) (types.Post, error) {
	query := `SELECT ` + postColumns + `
		FROM posts p
		JOIN users u ON u.id = p.author_id
		WHERE p.id = $2`
	return scanPost(r.db.QueryRowContext(ctx, query, 0, id))
}

// CreateReply stores a post in an existing thread and bumps the counters.
func (r *ForumRepository) CreateReply(ctx context.Context, post types.Post) (types.Post, error) {
	now := time.Now()
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		const insertPost = `
			INSERT INTO posts (thread_id, author_id, content, created_at)
			VALUES ($1, $2, $3, $4)
			RETURNING id`
		if err := tx.QueryRowContext(ctx, insertPost, post.ThreadID, post.AuthorID, post.Content, now).
			Scan(&post.ID); err != nil {
			return mapError(err)
		}

		const thread = `
			UPDATE threads
			SET reply_count = reply_count + 1, last_post_id = $1, updated_at = $2
			WHERE id = $3
			RETURNING category_id`
		var categoryID int
		if err := tx.QueryRowContext(ctx, thread, post.ID, now, post.ThreadID).Scan(&categoryID); err != nil {
			return mapError(err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE categories SET post_count = post_count + 1 WHERE id = $1`, categoryID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE users SET post_count = post_count + 1 WHERE id = $1`, post.AuthorID)
		return err
	})
	if err != nil {
		return types.Post{}, err
	}
	return r.GetPost(ctx, post.ID)
}

func (r *ForumRepository) UpdatePostContent(ctx context.Context, postID int, content string, editorID int, at time.Time) (types.Post, error) {
	const query = `
		UPDATE posts
		SET content = $1, edited_at = $2, edited_by = $3
		WHERE id = $4`
	result, err := r.db.ExecContext(ctx, query, content, at, editorID, postID)
	if err != nil {
		return types.Post{}, err
	}
	if err := expectAffected(result); err != nil {
		return types.Post{}, err
	}
	return r.GetPost(ctx, postID)
}

// DeleteReply removes a non-first post, recomputing the thread's last post.
func (r *ForumRepository) DeleteReply(ctx context.Context, post types.Post) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, post.ID)
		if err != nil {
			return err
		}
		if err := expectAffected(result); err != nil {
			return err
		}

		const thread = `
			UPDATE threads
			SET reply_count = GREATEST(reply_count - 1, 0),
				last_post_id = (
					SELECT p.id FROM posts p
					WHERE p.thread_id = $1
					ORDER BY p.created_at DESC, p.id DESC
					LIMIT 1
				)
			WHERE id = $1
			RETURNING category_id`
		var categoryID int
		if err := tx.QueryRowContext(ctx, thread, post.ThreadID).Scan(&categoryID); err != nil {
			return mapError(err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE categories SET post_count = GREATEST(post_count - 1, 0) WHERE id = $1`,
			categoryID,
		); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE users SET post_count = GREATEST(post_count - 1, 0) WHERE id = $1`,
			post.AuthorID,
		)
		return err
	})
}

// ToggleLike adds the user's like or removes it when already present.
func (r *ForumRepository) ToggleLike(ctx context.Context, postID, userID int) (bool, int, error) {
	var liked bool
	var likes int
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM post_likes WHERE post_id = $1 AND user_id = $2`, postID, userID)
		if err != nil {
			return err
		}
		removed, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if removed == 0 {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO post_likes (post_id, user_id, created_at) VALUES ($1, $2, $3)`,
				postID, userID, time.Now(),
			); err != nil {
				return mapError(err)
			}
			liked = true
		}
		return tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM post_likes WHERE post_id = $1`, postID).Scan(&likes)
	})
	if err != nil {
		return false, 0, err
	}
	return liked, likes, nil
}

// SearchPosts matches post content case-insensitively, newest first.
func (r *ForumRepository) SearchPosts(ctx context.Context, term string, offset, limit int) ([]types.Post, int, error) {
	pattern := "%" + escapeLike(term) + "%"
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM posts WHERE content ILIKE $1`, pattern).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + postColumns + `
		FROM posts p
		JOIN users u ON u.id = p.author_id
		WHERE p.content ILIKE $2
		ORDER BY p.created_at DESC
		OFFSET $3 LIMIT $4`
	posts, err := r.queryPosts(ctx, query, 0, pattern, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	return posts, total, nil
}

// RecentPosts returns the newest posts, optionally restricted to an author.
func (r *ForumRepository) RecentPosts(ctx context.Context, authorID, limit int) ([]types.Post, error) {
	query := `SELECT ` + postColumns + `
		FROM posts p
		JOIN users u ON u.id = p.author_id
		WHERE ($2 = 0 OR p.author_id = $2)
		ORDER BY p.created_at DESC
		LIMIT $3`
	return r.queryPosts(ctx, query, 0, authorID, limit)
}

// LikesReceived counts likes on all posts authored by userID.
func (r *ForumRepository) LikesReceived(ctx context.Context, userID int) (int, error) {
	const query = `
		SELECT COUNT(1)
		FROM post_likes l
		JOIN posts p ON p.id = l.post_id
		WHERE p.author_id = $1`
	var total int
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&total)
	return total, err
}

// Totals returns the number of categories, threads and posts.
func (r *ForumRepository) Totals(ctx context.Context) (categories, threads, posts int, err error) {
	const query = `
		SELECT
			(SELECT COUNT(1) FROM categories),
			(SELECT COUNT(1) FROM threads),
			(SELECT COUNT(1) FROM posts)`
	err = r.db.QueryRowContext(ctx, query).Scan(&categories, &threads, &posts)
	return categories, threads, posts, err
}

// MostActiveUsers ranks users by number of posts.
func (r *ForumRepository) MostActiveUsers(ctx context.Context, limit int) ([]types.ActiveMember, error) {
	const query = `
		SELECT u.id, u.username, u.avatar, COUNT(p.id) AS n
		FROM posts p
		JOIN users u ON u.id = p.author_id
		GROUP BY u.id, u.username, u.avatar
		ORDER BY n DESC, u.id
		LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := make([]types.ActiveMember, 0, limit)
	for rows.Next() {
		var member types.ActiveMember
		if err := rows.Scan(&member.ID, &member.Username, &member.Avatar, &member.PostCount); err != nil {
			return nil, err
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

func (r *ForumRepository) queryThreads(ctx context.Context, query string, args ...any) ([]types.Thread, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	threads := make([]types.Thread, 0)
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, thread)
	}
	return threads, rows.Err()
}

func (r *ForumRepository) queryPosts(ctx context.Context, query string, args ...any) ([]types.Post, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := make([]types.Post, 0)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

func scanCategory(row rowScanner) (types.Category, error) {
	var category types.Category
	if err := row.Scan(
		&category.ID,
		&category.Name,
		&category.Slug,
		&category.Description,
		&category.Order,
		&category.ThreadCount,
		&category.PostCount,
		&category.CreatedAt,
		&category.UpdatedAt,
	); err != nil {
		return types.Category{}, mapError(err)
	}
	return category, nil
}

func scanThread(row rowScanner) (types.Thread, error) {
	var thread types.Thread
	var firstPost, lastPost sql.NullInt64
	if err := row.Scan(
		&thread.ID,
		&thread.Title,
		&thread.CategoryID,
		&thread.AuthorID,
		&thread.Author.Username,
		&thread.Author.Avatar,
		&thread.Pinned,
		&thread.Locked,
		&thread.Views,
		&thread.ReplyCount,
		&firstPost,
		&lastPost,
		&thread.CreatedAt,
		&thread.UpdatedAt,
	); err != nil {
		return types.Thread{}, mapError(err)
	}
	thread.Author.ID = thread.AuthorID
	thread.FirstPostID = intPtr(firstPost)
	thread.LastPostID = intPtr(lastPost)
	return thread, nil
}

func scanPost(row rowScanner) (types.Post, error) {
	var post types.Post
	var editedAt sql.NullTime
	var editedBy sql.NullInt64
	if err := row.Scan(
		&post.ID,
		&post.ThreadID,
		&post.AuthorID,
		&post.Author.Username,
		&post.Author.Avatar,
		&post.Content,
		&post.Likes,
		&post.LikedByMe,
		&editedAt,
		&editedBy,
		&post.CreatedAt,
	); err != nil {
		return types.Post{}, mapError(err)
	}
	post.Author.ID = post.AuthorID
	post.EditedAt = timePtr(editedAt)
	post.EditedBy = intPtr(editedBy)
	return post, nil
}
