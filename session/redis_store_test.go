package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/agentcore/session"
)

func newMiniredisManager(t *testing.T) *session.Manager {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := session.NewRedisStoreFromClient(client, "test")
	return session.New(store, session.WithTTL(time.Hour))
}

func TestRedisStoreBackedManagerRoundTrip(t *testing.T) {
	mgr := newMiniredisManager(t)
	ctx := context.Background()

	s, err := mgr.CreateSession(ctx, "user-1", "agent-1", map[string]interface{}{"k": "v"})
	require.NoError(t, err)

	got, err := mgr.GetSession(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "v", got.Metadata["k"])

	cid, err := mgr.SaveCheckpoint(ctx, s.ID, map[string]interface{}{"turn": float64(1)}, "")
	require.NoError(t, err)

	cp, err := mgr.GetCheckpoint(ctx, s.ID, cid)
	require.NoError(t, err)
	require.NotNil(t, cp)
	require.Equal(t, float64(1), cp.Payload["turn"])

	deleted, err := mgr.DeleteSession(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	cp, err = mgr.GetCheckpoint(ctx, s.ID, cid)
	require.NoError(t, err)
	require.Nil(t, cp)
}
