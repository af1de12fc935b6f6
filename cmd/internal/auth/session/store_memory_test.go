package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedKey(t *testing.T, st *MemoryStore, now time.Time) (APIKey, Session) {
	t.Helper()
	account := uuid.New()
	exp := now.Add(24 * time.Hour)
	sess := Session{ID: uuid.New(), AccountID: account, ExpiredAt: &exp, CreatedAt: now}
	key := APIKey{ID: uuid.New(), AccountID: account, Label: "ci", SessionID: sess.ID, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, st.CreateAPIKey(context.Background(), key, sess))
	return key, sess
}

func inherit(now time.Time) func(Session) Session {
	return func(old Session) Session {
		return Session{ID: uuid.New(), AccountID: old.AccountID, ExpiredAt: old.ExpiredAt, CreatedAt: now}
	}
}

func TestMemoryStore_RotateAPIKey(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	key, old := seedKey(t, st, now)
	child := Session{ID: uuid.New(), AccountID: key.AccountID, ParentSessionID: &old.ID, CreatedAt: now}
	require.NoError(t, st.Create(ctx, child))

	var hooked bool
	rotated, fresh, err := st.RotateAPIKey(ctx, now, key.ID, inherit(now), func(_ context.Context, o, n Session) error {
		hooked = true
		assert.Equal(t, old.ID, o.ID)
		assert.NotEqual(t, o.ID, n.ID)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, hooked)
	assert.Equal(t, fresh.ID, rotated.SessionID)
	assert.True(t, old.ExpiredAt.Equal(*fresh.ExpiredAt))

	_, err = st.Get(ctx, old.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)

	got, err := st.Get(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, *got.ParentSessionID)
}

func TestMemoryStore_RotateAPIKeyRollsBack(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	key, old := seedKey(t, st, now)

	boom := errors.New("cache unavailable")
	_, _, err := st.RotateAPIKey(ctx, now, key.ID, inherit(now), func(context.Context, Session, Session) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	var rerr RotationError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "hook", rerr.Step)

	after, err := st.GetAPIKey(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, old.ID, after.SessionID)

	sess, err := st.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.False(t, sess.Expired(now.Add(time.Minute)))

	all, err := st.ListByAccount(ctx, key.AccountID, true, now)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMemoryStore_DeleteAPIKeyAndPurgeSkipsKeys(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	key, sess := seedKey(t, st, now)
	_, err := st.ExpireSessions(ctx, now, []uuid.UUID{sess.ID})
	require.NoError(t, err)

	n, err := st.PurgeExpired(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n, "a session backing an api key is never purged")

	deleted, err := st.DeleteAPIKey(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, key.ID, deleted.ID)

	_, err = st.Get(ctx, sess.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = st.DeleteAPIKey(ctx, key.ID)
	require.ErrorIs(t, err, ErrAPIKeyNotFound)
}
