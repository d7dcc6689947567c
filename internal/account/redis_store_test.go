package account

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisStoreLoadAbsent(t *testing.T) {
	store := newTestRedisStore(t)

	c, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, containerVersion, c.Version)
	require.Empty(t, c.Accounts)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	in := NewContainer()
	in.ActiveAccountID = "id-1"
	in.Accounts = []StoredAccount{{ID: "id-1", Mode: AuthModeAPIKey, APIKey: "sk"}}
	require.NoError(t, store.Save(ctx, in))

	out, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "id-1", out.ActiveAccountID)
	require.Len(t, out.Accounts, 1)
}

func TestServiceOverRedisStore(t *testing.T) {
	svc := NewService(newTestRedisStore(t))
	ctx := context.Background()

	first, err := svc.UpsertAPIKeyAccount(ctx, "sk-alpha", "Work", true)
	require.NoError(t, err)

	second, err := svc.UpsertAPIKeyAccount(ctx, "sk-alpha", "", false)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	id, err := svc.GetActiveAccountID(ctx)
	require.NoError(t, err)
	require.Equal(t, first.ID, id)
}
