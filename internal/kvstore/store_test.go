package kvstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "k", "v1"))
	require.NoError(t, store.Set(ctx, "k", "v2"))
	got, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", got)

	require.NoError(t, store.Delete(ctx, "k"))
	require.NoError(t, store.Delete(ctx, "k"))
	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_Contract(t *testing.T) {
	testStoreContract(t, NewMemory())
}

func TestSQLite_Contract(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	store, err := NewSQLite(context.Background(), dsn)
	require.NoError(t, err)
	defer store.Close()

	testStoreContract(t, store)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "etcd", "")
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestSettings_TypedValues(t *testing.T) {
	ctx := context.Background()
	settings := NewSettings(NewMemory(), "user-1")

	_, ok, err := settings.AccountState(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, settings.SetAccountState(ctx, 3))
	state, ok, err := settings.AccountState(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, state)

	balance, err := settings.Balance(ctx)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
	require.NoError(t, settings.SetBalance(ctx, decimal.NewFromInt(25)))
	balance, err = settings.Balance(ctx)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(25)))

	first, err := settings.FirstSpendOrder(ctx)
	require.NoError(t, err)
	assert.True(t, first, "first spend order defaults to true")
	require.NoError(t, settings.SetFirstSpendOrder(ctx, false))
	first, err = settings.FirstSpendOrder(ctx)
	require.NoError(t, err)
	assert.False(t, first)

	require.NoError(t, settings.SetTrustlineEstablished(ctx, true))
	trustline, err := settings.TrustlineEstablished(ctx)
	require.NoError(t, err)
	assert.True(t, trustline)

	backedUp, err := settings.BackedUp(ctx)
	require.NoError(t, err)
	assert.False(t, backedUp)
}

func TestSettings_NamespacesDoNotCollide(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	a := NewSettings(store, "a")
	b := NewSettings(store, "b")

	require.NoError(t, a.SetBackedUp(ctx, true))

	backedUp, err := b.BackedUp(ctx)
	require.NoError(t, err)
	assert.False(t, backedUp)
}

func TestSettings_ClearingAFlagDeletesItsKey(t *testing.T) {
	// Arrange
	ctx := context.Background()
	store := NewMemory()
	settings := NewSettings(store, "app")
	require.NoError(t, settings.SetBackedUp(ctx, true))
	require.NoError(t, settings.SetTrustlineEstablished(ctx, true))

	// Act
	require.NoError(t, settings.SetBackedUp(ctx, false))
	require.NoError(t, settings.SetTrustlineEstablished(ctx, false))

	// Assert
	_, ok, err := store.Get(ctx, "app:backed_up")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = store.Get(ctx, "app:trustline_established")
	require.NoError(t, err)
	assert.False(t, ok)
	backedUp, err := settings.BackedUp(ctx)
	require.NoError(t, err)
	assert.False(t, backedUp)
}
