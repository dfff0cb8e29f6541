package types

import "time"

// Category groups forum threads.
type Category struct {
	// ID is the unique identifier of the category.
	ID int `json:"id" db:"id"`

	// Name is the display name.
	Name string `json:"name" db:"name"`

	// Slug is the unique URL-friendly key, used when seeding categories.
	Slug string `json:"slug" db:"slug"`

	// Description is shown under the category name.
	Description string `json:"description" db:"description"`

	// Order controls listing position, ascending.
	Order int `json:"order" db:"sort_order"`

	// ThreadCount is the number of threads currently in the category.
	ThreadCount int `json:"thread_count" db:"thread_count"`

	// PostCount is the number of posts across the category's threads.
	PostCount int `json:"post_count" db:"post_count"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Thread is a forum topic. Its opening content lives in the first post.
type Thread struct {
	ID          int         `json:"id" db:"id"`
	Title       string      `json:"title" db:"title"`
	CategoryID  int         `json:"category_id" db:"category_id"`
	AuthorID    int         `json:"author_id" db:"author_id"`
	Author      UserSummary `json:"author"`
	Pinned      bool        `json:"pinned" db:"pinned"`
	Locked      bool        `json:"locked" db:"locked"`
	Views       int         `json:"views" db:"views"`
	ReplyCount  int         `json:"reply_count" db:"reply_count"`
	FirstPostID *int        `json:"first_post_id,omitempty" db:"first_post_id"`
	LastPostID  *int        `json:"last_post_id,omitempty" db:"last_post_id"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// Post is a message inside a thread.
type Post struct {
	ID        int         `json:"id" db:"id"`
	ThreadID  int         `json:"thread_id" db:"thread_id"`
	AuthorID  int         `json:"author_id" db:"author_id"`
	Author    UserSummary `json:"author"`
	Content   string      `json:"content" db:"content"`
	Likes     int         `json:"likes" db:"likes"`
	LikedByMe bool        `json:"liked_by_me"`
	EditedAt  *time.Time  `json:"edited_at,omitempty" db:"edited_at"`
	EditedBy  *int        `json:"edited_by,omitempty" db:"edited_by"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}

// ThreadDetail is a thread with its posts in ascending order.
type ThreadDetail struct {
	Thread Thread `json:"thread"`
	Posts  []Post `json:"posts"`
}

// ThreadPatch carries optional thread changes. Nil fields are left unchanged.
type ThreadPatch struct {
	Title      *string `json:"title,omitempty"`
	Pinned     *bool   `json:"pinned,omitempty"`
	Locked     *bool   `json:"locked,omitempty"`
	CategoryID *int    `json:"category_id,omitempty"`
}

// SearchResult holds forum search matches.
type SearchResult struct {
	Threads []Thread `json:"threads"`
	Posts   []Post   `json:"posts"`
	Total   int      `json:"total_posts"`
}

// UserForumStats summarises a user's forum activity.
type UserForumStats struct {
	User          UserSummary `json:"user"`
	PostCount     int         `json:"post_count"`
	ThreadCount   int         `json:"thread_count"`
	Reputation    int         `json:"reputation"`
	Vouches       int         `json:"vouches"`
	LikesReceived int         `json:"likes_received"`
	RecentThreads []Thread    `json:"recent_threads"`
	RecentPosts   []Post      `json:"recent_posts"`
}

// ForumStats is the moderation dashboard overview.
type ForumStats struct {
	Categories      int            `json:"categories"`
	Threads         int            `json:"threads"`
	Posts           int            `json:"posts"`
	Users           int            `json:"users"`
	RecentThreads   []Thread       `json:"recent_threads"`
	RecentPosts     []Post         `json:"recent_posts"`
	MostActiveUsers []ActiveMember `json:"most_active_users"`
}

// ActiveMember is a user ranked by post volume.
type ActiveMember struct {
	UserSummary
	PostCount int `json:"post_count"`
}
