package identity

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_FindAccount(t *testing.T) {
	t.Parallel()

	st := NewMemoryStore()
	email := "Alice@Example.com"
	acc := Account{ID: uuid.New(), Name: "Alice", Email: &email}
	st.PutAccount(acc)

	got, err := st.FindAccount(context.Background(), " alice ")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, got.ID)

	got, err = st.FindAccount(context.Background(), "alice@example.COM")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, got.ID)

	_, err = st.FindAccount(context.Background(), "bob")
	assert.True(t, IsNotFound(err))

	_, err = st.FindAccount(context.Background(), "")
	assert.True(t, IsInvalidInput(err))
}

func TestMemoryStore_UpsertClientIsUniquePerDevice(t *testing.T) {
	t.Parallel()

	st := NewMemoryStore()
	acc := Account{ID: uuid.New(), Name: "alice"}
	st.PutAccount(acc)
	now := time.Now().UTC()

	c1, err := st.UpsertClient(context.Background(), now, ClientInput{AccountID: acc.ID, DeviceID: "dev-1", DeviceName: "phone"})
	require.NoError(t, err)
	c2, err := st.UpsertClient(context.Background(), now.Add(time.Minute), ClientInput{AccountID: acc.ID, DeviceID: "dev-1", DeviceName: "renamed", Platform: PlatformIOS})
	require.NoError(t, err)

	assert.Equal(t, c1.ID, c2.ID)
	assert.Equal(t, "renamed", c2.DeviceName)
	assert.Equal(t, PlatformIOS, c2.Platform)

	_, err = st.UpsertClient(context.Background(), now, ClientInput{AccountID: uuid.New(), DeviceID: "dev-1"})
	assert.True(t, IsNotFound(err))
}

func TestMemoryStore_GetFactorScopedToOwner(t *testing.T) {
	t.Parallel()

	st := NewMemoryStore()
	owner := uuid.New()
	f := Factor{ID: uuid.New(), AccountID: owner, Type: FactorPassword}
	st.PutFactor(f)

	_, err := st.GetFactor(context.Background(), owner, f.ID)
	require.NoError(t, err)

	_, err = st.GetFactor(context.Background(), uuid.New(), f.ID)
	assert.True(t, IsNotFound(err))
}

func TestParsePlatform(t *testing.T) {
	t.Parallel()

	assert.Equal(t, PlatformIOS, ParsePlatform(" iOS "))
	assert.Equal(t, PlatformUnknown, ParsePlatform("playstation"))
}
