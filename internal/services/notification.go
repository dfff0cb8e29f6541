package services

import (
	"context"
	"encoding/json"

	"github.com/bizzylink/apiserver/internal/metrics"
	"github.com/bizzylink/apiserver/types"
	"go.uber.org/zap"
)

const notificationListLimit = 50

// NotificationRepository defines persistence operations for notifications.
type NotificationRepository interface {
	Create(ctx context.Context, notification types.Notification) (types.Notification, error)
	Get(ctx context.Context, id int) (types.Notification, error)
	ListForRecipient(ctx context.Context, recipientID, limit int) ([]types.Notification, error)
	CountUnread(ctx context.Context, recipientID int) (int, error)
	MarkRead(ctx context.Context, id int) error
	MarkAllRead(ctx context.Context, recipientID int) (int64, error)
	Delete(ctx context.Context, id int) error
}

// UserReader loads users by id.
type UserReader interface {
	GetByID(ctx context.Context, id int) (types.User, error)
}

// Pusher delivers real-time events to connected clients.
type Pusher interface {
	Notify(userID int, event types.Event)
	NotifyCritical(userID int, event types.Event)
	NotifyAdmins(event types.Event)
}

// Notice is a notification to be stored and pushed.
type Notice struct {
	RecipientID int
	SenderID    int
	Type        string
	Message     string
	Data        any
}

type NotificationList struct {
	Notifications []types.Notification `json:"notifications"`
	UnreadCount   int                  `json:"unread_count"`
}

// NotificationService stores notifications and pushes them to live streams.
type NotificationService struct {
	repo   NotificationRepository
	users  UserReader
	pusher Pusher
	logger *zap.Logger
}

func NewNotificationService(repo NotificationRepository, users UserReader, pusher Pusher, logger *zap.Logger) *NotificationService {
	return &NotificationService{repo: repo, users: users, pusher: pusher, logger: logger}
}

// Send stores the notice when the recipient's settings allow its type and
// pushes a notification event. It reports whether the notice was stored.
func (s *NotificationService) Send(ctx context.Context, notice Notice) (bool, error) {
	recipient, err := s.users.GetByID(ctx, notice.RecipientID)
	if err != nil {
		return false, err
	}
	if !wantsNotification(recipient.Settings.Notifications, notice.Type) {
		return false, nil
	}

	notification := types.Notification{
		RecipientID: notice.RecipientID,
		Type:        notice.Type,
		Message:     notice.Message,
	}
	if notice.SenderID > 0 {
		sender := notice.SenderID
		notification.SenderID = &sender
	}
	if notice.Data != nil {
		data, err := json.Marshal(notice.Data)
		if err != nil {
			return false, err
		}
		notification.Data = data
	}

	created, err := s.repo.Create(ctx, notification)
	if err != nil {
		return false, err
	}
	metrics.Notifications.WithLabelValues(notice.Type).Inc()
	s.pusher.Notify(notice.RecipientID, types.NewEvent(types.EventNotification, created))
	return true, nil
}

// Deliver is Send for callers that must not fail because of a notification.
func (s *NotificationService) Deliver(ctx context.Context, notice Notice) {
	if _, err := s.Send(ctx, notice); err != nil {
		s.logger.Warn("failed to deliver notification",
			zap.Int("recipient_id", notice.RecipientID),
			zap.String("type", notice.Type),
			zap.Error(err),
		)
	}
}

func (s *NotificationService) List(ctx context.Context, userID int) (NotificationList, error) {
	notifications, err := s.repo.ListForRecipient(ctx, userID, notificationListLimit)
	if err != nil {
		return NotificationList{}, err
	}
	unread, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return NotificationList{}, err
	}
	return NotificationList{Notifications: notifications, UnreadCount: unread}, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, userID, id int) error {
	if err := s.authorize(ctx, userID, id); err != nil {
		return err
	}
	return s.repo.MarkRead(ctx, id)
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID int) (int64, error) {
	return s.repo.MarkAllRead(ctx, userID)
}

func (s *NotificationService) Delete(ctx context.Context, userID, id int) error {
	if err := s.authorize(ctx, userID, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

func (s *NotificationService) authorize(ctx context.Context, userID, id int) error {
	notification, err := s.repo.Get(ctx, id)
	if err != nil {
		return notFoundAs(err, "Notification not found")
	}
	if notification.RecipientID != userID {
		return forbidden("Not authorized to modify this notification")
	}
	return nil
}

func wantsNotification(settings types.NotificationSettings, notificationType string) bool {
	switch notificationType {
	case types.NotifyFriendRequest, types.NotifyFriendAccept:
		return settings.FriendRequests
	case types.NotifyNewFollower:
		return settings.NewFollowers
	case types.NotifyReputation:
		return settings.Reputation
	case types.NotifyVouch:
		return settings.Vouches
	case types.NotifyDonation:
		return settings.Donations
	case types.NotifyMinecraftLinked, types.NotifyAccountUnlinked:
		return settings.InGame
	default:
		return true
	}
}
