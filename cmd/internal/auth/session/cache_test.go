package session

import (
	"context"
	"testing"
	"time"

	"passport/cmd/identity"
	"passport/cmd/internal/cache"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_RoundTripAndAccountEviction(t *testing.T) {
	ctx := context.Background()
	backend := cache.NewMemoryStore()
	c, err := NewCache(backend, time.Hour)
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	account := uuid.New()
	parent := uuid.New()
	email := "ada@example.com"
	s1 := Session{
		ID:              uuid.New(),
		AccountID:       account,
		ParentSessionID: &parent,
		Scopes:          []string{"read", "write"},
		LastGrantedAt:   &now,
		CreatedAt:       now,
		Account:         &identity.Account{ID: account, Name: "ada", Email: &email, CreatedAt: now},
	}
	s2 := Session{ID: uuid.New(), AccountID: account, CreatedAt: now}

	require.NoError(t, c.Put(ctx, s1))
	require.NoError(t, c.Put(ctx, s2))

	got, hit, err := c.Get(ctx, s1.ID)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, s1.ID, got.ID)
	assert.Equal(t, parent, *got.ParentSessionID)
	assert.Equal(t, s1.Scopes, got.Scopes)
	assert.True(t, now.Equal(*got.LastGrantedAt))
	require.NotNil(t, got.Account)
	assert.Equal(t, "ada", got.Account.Name)

	require.NoError(t, c.EvictAccount(ctx, account))
	for _, id := range []uuid.UUID{s1.ID, s2.ID} {
		_, hit, err := c.Get(ctx, id)
		require.NoError(t, err)
		assert.False(t, hit)
	}
	members, err := backend.SetMembers(ctx, accountKey(account))
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestCache_CorruptEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	backend := cache.NewMemoryStore()
	c, err := NewCache(backend, time.Hour)
	require.NoError(t, err)

	id := uuid.New()
	require.NoError(t, backend.Set(ctx, sessionKey(id), []byte{0xff, 0x00}, time.Hour))

	_, hit, err := c.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestNewCache_RejectsBadTTL(t *testing.T) {
	_, err := NewCache(cache.NewMemoryStore(), 0)
	require.ErrorIs(t, err, ErrConfig)
}
