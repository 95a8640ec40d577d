package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/agentcore/rterrors"
	"github.com/itsneelabh/agentcore/session"
)

func newTestManager(t *testing.T, ttl time.Duration) *session.Manager {
	t.Helper()
	store := session.NewMemoryStore()
	return session.New(store, session.WithTTL(ttl))
}

func TestCreateAndGetSessionRoundTrip(t *testing.T) {
	mgr := newTestManager(t, time.Hour)
	ctx := context.Background()

	s, err := mgr.CreateSession(ctx, "user-1", "agent-1", map[string]interface{}{"lang": "en"})
	require.NoError(t, err)
	require.NotEmpty(t, s.ID)
	assert.Equal(t, "user-1", s.UserID)
	assert.Equal(t, session.StateActive, s.State)
	assert.False(t, s.CreatedAt.After(s.LastActivity))
	assert.False(t, s.LastActivity.After(s.ExpiresAt))

	fetched, err := mgr.GetSession(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, s.ID, fetched.ID)
	assert.Equal(t, "en", fetched.Metadata["lang"])
}

func TestSessionExpiryAppearsAbsentOnRead(t *testing.T) {
	mgr := newTestManager(t, 50*time.Millisecond)
	ctx := context.Background()

	s, err := mgr.CreateSession(ctx, "user-1", "agent-1", nil)
	require.NoError(t, err)

	got, err := mgr.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)

	time.Sleep(100 * time.Millisecond)

	got, err = mgr.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Nil(t, got, "session read past expires_at must appear absent")
}

func TestRefreshSessionOnExpiredSessionReturnsSessionExpired(t *testing.T) {
	mgr := newTestManager(t, 30*time.Millisecond)
	ctx := context.Background()

	s, err := mgr.CreateSession(ctx, "user-1", "agent-1", nil)
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)

	err = mgr.RefreshSession(ctx, s.ID)
	require.Error(t, err)
	assert.Equal(t, rterrors.SessionExpired, rterrors.KindOf(err))
}

func TestDeleteSessionRemovesAllCheckpoints(t *testing.T) {
	mgr := newTestManager(t, time.Hour)
	ctx := context.Background()

	s, err := mgr.CreateSession(ctx, "user-1", "agent-1", nil)
	require.NoError(t, err)

	cid, err := mgr.SaveCheckpoint(ctx, s.ID, map[string]interface{}{"turn": 1}, "")
	require.NoError(t, err)

	deleted, err := mgr.DeleteSession(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	cp, err := mgr.GetCheckpoint(ctx, s.ID, cid)
	require.NoError(t, err)
	assert.Nil(t, cp, "checkpoint must be unreachable after its owning session is deleted")

	got, err := mgr.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCheckpointRoundTripAndOrdering(t *testing.T) {
	mgr := newTestManager(t, time.Hour)
	ctx := context.Background()

	s, err := mgr.CreateSession(ctx, "user-1", "agent-1", nil)
	require.NoError(t, err)

	cid1, err := mgr.SaveCheckpoint(ctx, s.ID, map[string]interface{}{"turn": float64(1), "history": []interface{}{
		map[string]interface{}{"role": "user", "content": "Hi"},
	}}, "")
	require.NoError(t, err)

	latest, err := mgr.GetLatestCheckpoint(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, cid1, latest.ID)

	cid2, err := mgr.SaveCheckpoint(ctx, s.ID, map[string]interface{}{"turn": float64(2)}, "")
	require.NoError(t, err)

	list, err := mgr.ListCheckpoints(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, cid1, list[0].ID)
	assert.Equal(t, cid2, list[1].ID)

	latest, err = mgr.GetLatestCheckpoint(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(2), latest.Payload["turn"])
}

func TestSaveCheckpointOnMissingSessionFailsSessionNotFound(t *testing.T) {
	mgr := newTestManager(t, time.Hour)
	ctx := context.Background()

	_, err := mgr.SaveCheckpoint(ctx, "does-not-exist", map[string]interface{}{}, "")
	require.Error(t, err)
	assert.Equal(t, rterrors.SessionNotFound, rterrors.KindOf(err))
}

func TestCleanupExpiredSessionsSweepsStaleEntries(t *testing.T) {
	mgr := newTestManager(t, 30*time.Millisecond)
	ctx := context.Background()

	_, err := mgr.CreateSession(ctx, "user-1", "agent-1", nil)
	require.NoError(t, err)
	_, err = mgr.CreateSession(ctx, "user-2", "agent-1", nil)
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)

	count, err := mgr.CleanupExpiredSessions(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, count, 1)
}

func TestDeleteUserSessionsRemovesOnlyThatUsersSessions(t *testing.T) {
	mgr := newTestManager(t, time.Hour)
	ctx := context.Background()

	a, err := mgr.CreateSession(ctx, "user-a", "agent-1", nil)
	require.NoError(t, err)
	b, err := mgr.CreateSession(ctx, "user-b", "agent-1", nil)
	require.NoError(t, err)

	count, err := mgr.DeleteUserSessions(ctx, "user-a")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := mgr.GetSession(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = mgr.GetSession(ctx, b.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestQuotaExceeded(t *testing.T) {
	store := session.NewMemoryStore()
	mgr := session.New(store, session.WithMaxSessions(1))
	ctx := context.Background()

	_, err := mgr.CreateSession(ctx, "user-1", "agent-1", nil)
	require.NoError(t, err)

	_, err = mgr.CreateSession(ctx, "user-2", "agent-1", nil)
	require.Error(t, err)
	assert.Equal(t, rterrors.QuotaExceeded, rterrors.KindOf(err))
}
