package services

import (
	"context"
	"testing"

	"github.com/bizzylink/apiserver/internal/store"
	"github.com/bizzylink/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockNotificationRepository struct {
	items map[int]types.Notification
	read  []int
}

func newMockNotificationRepository(items ...types.Notification) *mockNotificationRepository {
	m := &mockNotificationRepository{items: make(map[int]types.Notification)}
	for _, item := range items {
		m.items[item.ID] = item
	}
	return m
}

func (m *mockNotificationRepository) Create(ctx context.Context, n types.Notification) (types.Notification, error) {
	n.ID = len(m.items) + 1
	m.items[n.ID] = n
	return n, nil
}

func (m *mockNotificationRepository) Get(ctx context.Context, id int) (types.Notification, error) {
	n, ok := m.items[id]
	if !ok {
		return types.Notification{}, store.ErrNotFound
	}
	return n, nil
}

func (m *mockNotificationRepository) ListForRecipient(ctx context.Context, recipientID, limit int) ([]types.Notification, error) {
	var out []types.Notification
	for _, n := range m.items {
		if n.RecipientID == recipientID && len(out) < limit {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *mockNotificationRepository) CountUnread(ctx context.Context, recipientID int) (int, error) {
	count := 0
	for _, n := range m.items {
		if n.RecipientID == recipientID && !n.Read {
			count++
		}
	}
	return count, nil
}

func (m *mockNotificationRepository) MarkRead(ctx context.Context, id int) error {
	n := m.items[id]
	n.Read = true
	m.items[id] = n
	m.read = append(m.read, id)
	return nil
}

func (m *mockNotificationRepository) MarkAllRead(ctx context.Context, recipientID int) (int64, error) {
	var updated int64
	for id, n := range m.items {
		if n.RecipientID == recipientID && !n.Read {
			n.Read = true
			m.items[id] = n
			updated++
		}
	}
	return updated, nil
}

func (m *mockNotificationRepository) Delete(ctx context.Context, id int) error {
	delete(m.items, id)
	return nil
}

func TestNotificationService_SendRespectsSettings(t *testing.T) {
	settings := types.DefaultUserSettings()
	settings.Notifications.FriendRequests = false
	settings.Notifications.InGame = false
	recipient := types.User{ID: 1, Username: "steve", Settings: settings}

	tests := []struct {
		name   string
		kind   string
		stored bool
	}{
		{name: "friend request disabled", kind: types.NotifyFriendRequest, stored: false},
		{name: "friend accept follows friend requests", kind: types.NotifyFriendAccept, stored: false},
		{name: "in game disabled", kind: types.NotifyMinecraftLinked, stored: false},
		{name: "follower enabled", kind: types.NotifyNewFollower, stored: true},
		{name: "donation enabled", kind: types.NotifyDonation, stored: true},
		{name: "forum reply always sent", kind: types.NotifyForumReply, stored: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockNotificationRepository()
			pusher := &mockPusher{}
			svc := NewNotificationService(repo, newMockUserRepository(recipient), pusher, zap.NewNop())

			stored, err := svc.Send(context.Background(), Notice{
				RecipientID: 1,
				SenderID:    2,
				Type:        tt.kind,
				Message:     "hello",
				Data:        map[string]int{"thread_id": 7},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.stored, stored)
			if !tt.stored {
				assert.Empty(t, repo.items)
				assert.Empty(t, pusher.all())
				return
			}
			require.Len(t, repo.items, 1)
			n := repo.items[1]
			require.NotNil(t, n.SenderID)
			assert.Equal(t, 2, *n.SenderID)
			assert.JSONEq(t, `{"thread_id":7}`, string(n.Data))

			events := pusher.all()
			require.Len(t, events, 1)
			assert.Equal(t, 1, events[0].userID)
			assert.Equal(t, types.EventNotification, events[0].event.Type)
		})
	}
}

func TestNotificationService_DeliverSwallowsErrors(t *testing.T) {
	repo := newMockNotificationRepository()
	svc := NewNotificationService(repo, newMockUserRepository(), &mockPusher{}, zap.NewNop())

	svc.Deliver(context.Background(), Notice{RecipientID: 99, Type: types.NotifyVouch})
	assert.Empty(t, repo.items)
}

func TestNotificationService_Ownership(t *testing.T) {
	repo := newMockNotificationRepository(
		types.Notification{ID: 1, RecipientID: 1},
		types.Notification{ID: 2, RecipientID: 2},
		types.Notification{ID: 3, RecipientID: 1, Read: true},
	)
	svc := NewNotificationService(repo, newMockUserRepository(), &mockPusher{}, zap.NewNop())
	ctx := context.Background()

	list, err := svc.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list.Notifications, 2)
	assert.Equal(t, 1, list.UnreadCount)

	assert.NoError(t, svc.MarkRead(ctx, 1, 1))
	assert.Equal(t, []int{1}, repo.read)
	assert.ErrorIs(t, svc.MarkRead(ctx, 1, 2), ErrForbidden)
	assert.ErrorIs(t, svc.MarkRead(ctx, 1, 42), store.ErrNotFound)

	assert.ErrorIs(t, svc.Delete(ctx, 1, 2), ErrForbidden)
	assert.Contains(t, repo.items, 2)
	assert.NoError(t, svc.Delete(ctx, 2, 2))
	assert.NotContains(t, repo.items, 2)

	updated, err := svc.MarkAllRead(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), updated)
}
