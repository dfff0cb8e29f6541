package types

import "time"

// Friend request statuses.
const (
	FriendRequestPending  = "pending"
	FriendRequestAccepted = "accepted"
	FriendRequestRejected = "rejected"
)

type FriendRequest struct {
	ID          int         `json:"id" db:"id"`
	SenderID    int         `json:"sender_id" db:"sender_id"`
	RecipientID int         `json:"recipient_id" db:"recipient_id"`
	Sender      UserSummary `json:"sender"`
	Status      string      `json:"status" db:"status"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// Friend is one side of a symmetric friendship.
type Friend struct {
	UserSummary
	Since time.Time `json:"since"`
}

// Follow is a one-directional subscription.
type Follow struct {
	UserSummary
	Since time.Time `json:"since"`
}

// ReputationEntry records one giver's vote on a user.
type ReputationEntry struct {
	From      UserSummary `json:"from"`
	Value     int         `json:"value"`
	CreatedAt time.Time   `json:"created_at"`
}

// ReputationSummary is returned after a vote.
type ReputationSummary struct {
	Reputation    int `json:"reputation"`
	PositiveCount int `json:"positive_count"`
	NegativeCount int `json:"negative_count"`
}

type VouchEntry struct {
	From      UserSummary `json:"from"`
	Context   string      `json:"context,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Transaction records a balance transfer between two users.
type Transaction struct {
	ID        int         `json:"id" db:"id"`
	From      UserSummary `json:"from"`
	To        UserSummary `json:"to"`
	Amount    int64       `json:"amount" db:"amount"`
	Message   string      `json:"message,omitempty" db:"message"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}

// PublicProfile is a user as seen by another user. Hidden fields are nil.
type PublicProfile struct {
	ID          int        `json:"id"`
	Username    string     `json:"username"`
	Avatar      string     `json:"avatar,omitempty"`
	Bio         string     `json:"bio,omitempty"`
	Signature   string     `json:"signature,omitempty"`
	Role        string     `json:"role"`
	ForumRank   string     `json:"forum_rank"`
	PostCount   int        `json:"post_count"`
	ThreadCount int        `json:"thread_count"`
	Reputation  *int       `json:"reputation,omitempty"`
	Vouches     *int       `json:"vouches,omitempty"`
	Balance     *int64     `json:"balance,omitempty"`
	Minecraft   *LinkInfo  `json:"minecraft,omitempty"`
	LastActive  *time.Time `json:"last_active_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
