package events

import (
	"testing"
	"time"

	"github.com/bizzylink/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestHub_SendToUserReachesEveryStream(t *testing.T) {
	hub := NewHub(zap.NewNop())

	first := hub.Register(1, false)
	second := hub.Register(1, false)
	other := hub.Register(2, false)
	defer hub.Unregister(other)

	delivered := hub.SendToUser(1, types.NewEvent(types.EventNotification, map[string]int{"id": 9}))
	assert.Equal(t, 2, delivered)
	assert.Equal(t, types.EventNotification, (<-first.Events()).Type)
	assert.Equal(t, types.EventNotification, (<-second.Events()).Type)
	assert.Empty(t, other.Events())

	hub.Unregister(first)
	hub.Unregister(second)
	assert.False(t, hub.Connected(1))
	assert.Equal(t, 1, hub.ClientCount())
}

func TestHub_AdminsRoom(t *testing.T) {
	hub := NewHub(zap.NewNop())

	admin := hub.Register(1, true)
	member := hub.Register(2, false)
	defer hub.Unregister(admin)
	defer hub.Unregister(member)

	assert.Equal(t, 1, hub.SendToAdmins(types.NewEvent(types.EventPlayerStats, nil)))
	assert.Len(t, admin.Events(), 1)
	assert.Empty(t, member.Events())
}

func TestHub_UnregisterClosesChannelOnce(t *testing.T) {
	hub := NewHub(zap.NewNop())
	client := hub.Register(3, false)

	hub.Unregister(client)
	hub.Unregister(client)

	_, open := <-client.Events()
	assert.False(t, open)
	assert.Equal(t, 0, hub.SendToUser(3, types.NewEvent(types.EventNotification, nil)))
}

func TestHub_FullBufferDropsEvent(t *testing.T) {
	hub := NewHub(zap.NewNop())
	hub.buffer = 1
	client := hub.Register(4, false)
	defer hub.Unregister(client)

	assert.Equal(t, 1, hub.SendToUser(4, types.NewEvent(types.EventNotification, nil)))
	assert.Equal(t, 0, hub.SendToUser(4, types.NewEvent(types.EventNotification, nil)))
}

func TestNotifier_CriticalIsResent(t *testing.T) {
	hub := NewHub(zap.NewNop())
	client := hub.Register(5, false)
	defer hub.Unregister(client)

	notifier := NewNotifier(hub, 10*time.Millisecond, zap.NewNop())
	defer notifier.Close()

	notifier.NotifyCritical(5, types.NewEvent(types.EventMinecraftLinked, map[string]string{"mc_username": "Notch"}))

	first := <-client.Events()
	assert.False(t, first.Redundant)

	select {
	case second := <-client.Events():
		assert.True(t, second.Redundant)
		assert.Equal(t, types.EventMinecraftLinked, second.Type)
	case <-time.After(time.Second):
		require.Fail(t, "redundant event not delivered")
	}
}

func TestNotifier_CloseCancelsPendingResend(t *testing.T) {
	hub := NewHub(zap.NewNop())
	client := hub.Register(6, false)
	defer hub.Unregister(client)

	notifier := NewNotifier(hub, time.Hour, zap.NewNop())
	notifier.NotifyCritical(6, types.NewEvent(types.EventAccountUnlinked, nil))
	notifier.Close()

	assert.Len(t, client.Events(), 1)

	notifier.NotifyCritical(6, types.NewEvent(types.EventAccountUnlinked, nil))
	assert.Len(t, client.Events(), 2)
	assert.Empty(t, notifier.timers)
}

func TestHub_CloseAllEndsStreams(t *testing.T) {
	hub := NewHub(zap.NewNop())
	player := hub.Register(1, false)
	admin := hub.Register(2, true)

	hub.CloseAll()

	_, open := <-player.Events()
	assert.False(t, open)
	_, open = <-admin.Events()
	assert.False(t, open)
	assert.Zero(t, hub.ClientCount())
	assert.Zero(t, hub.SendToAdmins(types.NewEvent(types.EventNotification, nil)))

	// Unregister after CloseAll must not close the channel twice.
	hub.Unregister(player)

	late := hub.Register(3, false)
	_, open = <-late.Events()
	assert.False(t, open)
	assert.False(t, hub.Connected(3))
}
