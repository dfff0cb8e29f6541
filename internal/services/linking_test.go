package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bizzylink/apiserver/internal/store"
	"github.com/bizzylink/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testUUID      = "069a79f4-44e9-4726-a5be-fca90e38aaf5"
	testUUIDPlain = "069A79F444E94726A5BEFCA90E38AAF5"
)

type linkingFixture struct {
	svc       *LinkingService
	links     *mockLinkRepository
	users     *mockUserRepository
	notices   *mockNoticeSender
	pusher    *mockPusher
	publisher *mockPublisher
	audit     *mockAuditRepository
	now       time.Time
}

func newLinkingFixture(users ...types.User) *linkingFixture {
	f := &linkingFixture{
		links:     newMockLinkRepository(),
		users:     newMockUserRepository(users...),
		notices:   &mockNoticeSender{},
		pusher:    &mockPusher{},
		publisher: &mockPublisher{},
		audit:     &mockAuditRepository{},
		now:       time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	f.svc = NewLinkingService(
		f.links, f.users, f.notices, f.pusher, f.publisher,
		NewAuditor(f.audit, zap.NewNop()),
		LinkConfig{CodeTTL: 15 * time.Minute, CleanupInterval: time.Minute},
		zap.NewNop(),
	)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func steve() types.User {
	return types.User{ID: 1, Username: "steve", LuckPermsGroup: "vip", AccountStatus: types.AccountActive, Settings: types.DefaultUserSettings()}
}

func TestLinkingService_GenerateCode(t *testing.T) {
	tests := []struct {
		name        string
		mcUsername  string
		expiry      int
		linked      bool
		replaceErr  []error
		expectedTTL time.Duration
		expectedErr error
	}{
		{name: "default ttl", expectedTTL: 15 * time.Minute},
		{name: "custom expiry", mcUsername: "Notch", expiry: 60, expectedTTL: time.Hour},
		{name: "expiry capped at seven days", expiry: 60 * 24 * 30, expectedTTL: 7 * 24 * time.Hour},
		{name: "retries on collision", replaceErr: []error{store.ErrConflict, store.ErrConflict}, expectedTTL: 15 * time.Minute},
		{name: "invalid minecraft name", mcUsername: "x", expectedErr: ErrInvalidInput},
		{name: "already linked", linked: true, expectedErr: ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newLinkingFixture(steve())
			f.links.replaceErr = tt.replaceErr
			if tt.linked {
				f.links.links[1] = types.MinecraftLink{UserID: 1, MCUUID: testUUID, MCUsername: "Notch"}
			}

			code, err := f.svc.GenerateCode(context.Background(), 1, tt.mcUsername, tt.expiry)
			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				assert.Empty(t, f.links.codes)
				return
			}
			require.NoError(t, err)
			assert.Regexp(t, `^[0-9A-F]{6}$`, code.Code)
			assert.Equal(t, tt.mcUsername, code.MCUsername)
			assert.Equal(t, f.now.Add(tt.expectedTTL), code.ExpiresAt)
			assert.Len(t, f.links.codes, 1)
		})
	}
}

func TestLinkingService_GenerateCodeReplacesPrevious(t *testing.T) {
	f := newLinkingFixture(steve())

	first, err := f.svc.GenerateCode(context.Background(), 1, "", 0)
	require.NoError(t, err)
	second, err := f.svc.GenerateCode(context.Background(), 1, "", 0)
	require.NoError(t, err)

	assert.Len(t, f.links.codes, 1)
	assert.Contains(t, f.links.codes, second.Code)
	if first.Code != second.Code {
		assert.NotContains(t, f.links.codes, first.Code)
	}
}

func TestLinkingService_GenerateCodeGivesUpAfterCollisions(t *testing.T) {
	f := newLinkingFixture(steve())
	f.links.replaceErr = []error{store.ErrConflict, store.ErrConflict, store.ErrConflict, store.ErrConflict, store.ErrConflict}

	_, err := f.svc.GenerateCode(context.Background(), 1, "", 0)
	require.Error(t, err)
	var serviceErr *Error
	assert.False(t, errors.As(err, &serviceErr))
}

func TestLinkingService_Validate(t *testing.T) {
	t.Run("success links and announces", func(t *testing.T) {
		f := newLinkingFixture(steve())
		f.links.codes["ABC123"] = types.LinkCode{Code: "ABC123", UserID: 1, ExpiresAt: f.now.Add(time.Minute)}

		result, err := f.svc.Validate(context.Background(), " abc123 ", testUUIDPlain, "Notch")
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, "steve", result.Username)
		assert.Equal(t, 1, result.UserID)

		link, ok := f.links.links[1]
		require.True(t, ok)
		assert.Equal(t, testUUID, link.MCUUID)
		assert.Empty(t, f.links.codes)

		events := f.pusher.all()
		require.Len(t, events, 1)
		assert.True(t, events[0].critical)
		assert.Equal(t, types.EventMinecraftLinked, events[0].event.Type)
		data := events[0].event.Data.(LinkEventData)
		assert.Equal(t, "vip", data.LuckPermsGroup)
		assert.Equal(t, "2026-03-01T10:00:00Z", data.LinkedAt)

		assert.Equal(t, []string{types.PluginPlayerLinked}, f.publisher.events)
		assert.Equal(t, []string{types.NotifyMinecraftLinked}, f.notices.kinds())
	})

	t.Run("expired code", func(t *testing.T) {
		f := newLinkingFixture(steve())
		f.links.codes["ABC123"] = types.LinkCode{Code: "ABC123", UserID: 1, ExpiresAt: f.now}

		result, err := f.svc.Validate(context.Background(), "ABC123", testUUID, "Notch")
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Empty(t, f.pusher.all())
		assert.Empty(t, f.publisher.events)
	})

	t.Run("uuid linked elsewhere", func(t *testing.T) {
		other := types.User{ID: 2, Username: "alex"}
		f := newLinkingFixture(steve(), other)
		f.links.links[2] = types.MinecraftLink{UserID: 2, MCUUID: testUUID}
		f.links.codes["ABC123"] = types.LinkCode{Code: "ABC123", UserID: 1, ExpiresAt: f.now.Add(time.Minute)}

		result, err := f.svc.Validate(context.Background(), "ABC123", testUUID, "Notch")
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Contains(t, f.links.codes, "ABC123")
	})

	for _, tt := range []struct {
		name, code, uuid, username string
	}{
		{name: "missing code", uuid: testUUID, username: "Notch"},
		{name: "bad uuid", code: "ABC123", uuid: "not-a-uuid", username: "Notch"},
		{name: "bad username", code: "ABC123", uuid: testUUID, username: "no spaces"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newLinkingFixture(steve())
			_, err := f.svc.Validate(context.Background(), tt.code, tt.uuid, tt.username)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestLinkingService_Status(t *testing.T) {
	f := newLinkingFixture(steve())

	status, err := f.svc.Status(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, status.Linked)
	assert.Nil(t, status.ActiveCode)

	code, err := f.svc.GenerateCode(context.Background(), 1, "", 0)
	require.NoError(t, err)
	status, err = f.svc.Status(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, status.ActiveCode)
	assert.Equal(t, code.Code, status.ActiveCode.Code)

	f.links.links[1] = types.MinecraftLink{UserID: 1, MCUUID: testUUID, MCUsername: "Notch", LinkedAt: f.now}
	status, err = f.svc.Status(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, status.Linked)
	assert.Equal(t, "Notch", status.MCUsername)
	assert.Nil(t, status.ActiveCode)
}

func TestLinkingService_Lookup(t *testing.T) {
	f := newLinkingFixture(steve())
	f.links.links[1] = types.MinecraftLink{UserID: 1, MCUUID: testUUID, MCUsername: "Notch"}

	status, err := f.svc.Lookup(context.Background(), testUUIDPlain, "")
	require.NoError(t, err)
	assert.True(t, status.Linked)
	assert.Equal(t, "steve", status.WebsiteUsername)

	status, err = f.svc.Lookup(context.Background(), "", "Notch")
	require.NoError(t, err)
	assert.Equal(t, 1, status.UserID)

	status, err = f.svc.Lookup(context.Background(), "00000000-0000-0000-0000-000000000000", "Notch")
	require.NoError(t, err)
	assert.True(t, status.Linked)

	status, err = f.svc.Lookup(context.Background(), "", "Herobrine")
	require.NoError(t, err)
	assert.False(t, status.Linked)

	_, err = f.svc.Lookup(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestLinkingService_RecordStats(t *testing.T) {
	f := newLinkingFixture(steve())
	f.links.links[1] = types.MinecraftLink{UserID: 1, MCUUID: testUUID, MCUsername: "Notch"}

	link, err := f.svc.RecordStats(context.Background(), testUUID, json.RawMessage(`{"kills":3}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kills":3}`, string(link.Stats))
	require.NotNil(t, link.LastSeen)

	events := f.pusher.all()
	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].userID)
	assert.Equal(t, types.EventPlayerStats, events[0].event.Type)
	assert.True(t, events[1].admins)

	_, err = f.svc.RecordStats(context.Background(), testUUID, json.RawMessage(`[1,2]`))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.RecordStats(context.Background(), "00000000-0000-0000-0000-000000000000", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLinkingService_HandleStatsMessage(t *testing.T) {
	f := newLinkingFixture(steve())
	f.links.links[1] = types.MinecraftLink{UserID: 1, MCUUID: testUUID}

	assert.NoError(t, f.svc.HandleStatsMessage(context.Background(), types.PlayerStatsMessage{MCUUID: "bogus"}))
	assert.NoError(t, f.svc.HandleStatsMessage(context.Background(), types.PlayerStatsMessage{
		MCUUID: "00000000-0000-0000-0000-000000000000", Stats: json.RawMessage(`{}`),
	}))
	assert.NoError(t, f.svc.HandleStatsMessage(context.Background(), types.PlayerStatsMessage{
		MCUUID: testUUID, Stats: json.RawMessage(`{"deaths":1}`),
	}))
	assert.JSONEq(t, `{"deaths":1}`, string(f.links.links[1].Stats))
}

func TestLinkingService_Unlink(t *testing.T) {
	t.Run("linked user", func(t *testing.T) {
		f := newLinkingFixture(steve())
		f.links.links[1] = types.MinecraftLink{UserID: 1, MCUUID: testUUID, MCUsername: "Notch"}

		result, err := f.svc.Unlink(context.Background(), 1)
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.False(t, result.AlreadyUnlinked)
		assert.Equal(t, "Notch", result.MCUsername)
		assert.Empty(t, f.links.links)

		events := f.pusher.all()
		require.Len(t, events, 1)
		assert.True(t, events[0].critical)
		assert.Equal(t, types.EventAccountUnlinked, events[0].event.Type)
		assert.Equal(t, []string{types.PluginPlayerUnlinked}, f.publisher.events)
		assert.Equal(t, []string{types.NotifyAccountUnlinked}, f.notices.kinds())
	})

	t.Run("already unlinked", func(t *testing.T) {
		f := newLinkingFixture(steve())
		result, err := f.svc.Unlink(context.Background(), 1)
		require.NoError(t, err)
		assert.True(t, result.AlreadyUnlinked)
		assert.Empty(t, f.pusher.all())
		assert.Empty(t, f.publisher.events)
	})

	t.Run("plugin publish failure does not fail unlink", func(t *testing.T) {
		f := newLinkingFixture(steve())
		f.publisher.err = errors.New("broker down")
		f.links.links[1] = types.MinecraftLink{UserID: 1, MCUUID: testUUID}

		result, err := f.svc.Unlink(context.Background(), 1)
		require.NoError(t, err)
		assert.True(t, result.Success)
	})
}

func TestLinkingService_UnlinkPlayer(t *testing.T) {
	f := newLinkingFixture(steve())
	f.links.links[1] = types.MinecraftLink{UserID: 1, MCUUID: testUUID, MCUsername: "Notch"}

	result, err := f.svc.UnlinkPlayer(context.Background(), "", "Notch")
	require.NoError(t, err)
	assert.False(t, result.AlreadyUnlinked)

	result, err = f.svc.UnlinkPlayer(context.Background(), testUUID, "")
	require.NoError(t, err)
	assert.True(t, result.AlreadyUnlinked)

	_, err = f.svc.UnlinkPlayer(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestLinkingService_ForceUnlinkAudits(t *testing.T) {
	f := newLinkingFixture(steve())
	f.links.links[1] = types.MinecraftLink{UserID: 1, MCUUID: testUUID, MCUsername: "Notch"}
	actor := types.Actor{UserID: 9, IP: "10.0.0.9"}

	_, err := f.svc.ForceUnlink(context.Background(), actor, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{types.AuditForceUnlink}, f.audit.actions())
	require.NotNil(t, f.audit.entries[0].TargetUser)
	assert.Equal(t, 1, *f.audit.entries[0].TargetUser)
	assert.Equal(t, 9, f.audit.entries[0].AdminID)

	_, err = f.svc.ForceUnlink(context.Background(), actor, 1)
	require.NoError(t, err)
	assert.Len(t, f.audit.entries, 1)

	_, err = f.svc.ForceUnlink(context.Background(), actor, 42)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLinkingService_EmitUnlinkResendsWhenUnlinked(t *testing.T) {
	f := newLinkingFixture(steve())

	result, err := f.svc.EmitUnlink(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, result.AlreadyUnlinked)

	events := f.pusher.all()
	require.Len(t, events, 1)
	assert.True(t, events[0].critical)
	assert.Equal(t, types.EventAccountUnlinked, events[0].event.Type)
}

func TestLinkingService_ForceRefresh(t *testing.T) {
	f := newLinkingFixture(steve())

	status, err := f.svc.ForceRefresh(context.Background(), testUUID)
	require.NoError(t, err)
	assert.False(t, status.Linked)
	assert.Equal(t, []string{types.PluginPlayerUnlinked}, f.publisher.events)

	f.links.links[1] = types.MinecraftLink{UserID: 1, MCUUID: testUUID, MCUsername: "Notch"}
	status, err = f.svc.ForceRefresh(context.Background(), testUUID)
	require.NoError(t, err)
	assert.True(t, status.Linked)
	assert.Equal(t, types.PluginPlayerLinked, f.publisher.events[1])
}

func TestLinkingService_CleanupExpired(t *testing.T) {
	f := newLinkingFixture(steve())
	f.links.codes["OLD001"] = types.LinkCode{Code: "OLD001", UserID: 1, ExpiresAt: f.now.Add(-time.Second)}
	f.links.codes["NEW001"] = types.LinkCode{Code: "NEW001", UserID: 2, ExpiresAt: f.now.Add(time.Minute)}

	removed, err := f.svc.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	assert.Contains(t, f.links.codes, "NEW001")
}

func TestLinkingService_RunSweeperStopsOnCancel(t *testing.T) {
	f := newLinkingFixture(steve())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.svc.RunSweeper(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
