package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"agentauth-go/internal/account"
	"agentauth-go/internal/slots"
	"agentauth-go/internal/token"

	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) (*Catalog, *account.Service, string) {
	t.Helper()
	root := t.TempDir()
	svc := account.NewService(account.NewFileStore(root))
	c := New(Options{
		Accounts: svc,
		Slots:    slots.NewManager(slots.Options{Root: root}),
	})
	return c, svc, root
}

func writeSlotAuth(t *testing.T, root, name string, file *token.AuthFile) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, token.WriteAuthFile(filepath.Join(dir, token.AuthFileName), file))
}

func TestListAccountsUnionsStoredAndSlots(t *testing.T) {
	c, svc, root := newTestCatalog(t)
	ctx := context.Background()

	stored, err := svc.UpsertAPIKeyAccount(ctx, "sk-stored", "Stored", false)
	require.NoError(t, err)
	writeSlotAuth(t, root, "slot-alpha", &token.AuthFile{APIKey: "sk-slot"})

	all, err := c.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, stored.ID, all[0].ID)
	require.Equal(t, "slot-slot-alpha", all[1].ID)
}

func TestListAccountsCachesUntilInvalidated(t *testing.T) {
	c, svc, _ := newTestCatalog(t)
	ctx := context.Background()

	all, err := c.ListAccounts(ctx)
	require.NoError(t, err)
	require.Empty(t, all)

	_, err = svc.UpsertAPIKeyAccount(ctx, "sk-new", "", false)
	require.NoError(t, err)

	all, err = c.ListAccounts(ctx)
	require.NoError(t, err)
	require.Empty(t, all)

	c.Invalidate()
	all, err = c.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestListAccountsDegradesWhenSlotsBroken(t *testing.T) {
	c, svc, root := newTestCatalog(t)
	ctx := context.Background()

	_, err := svc.UpsertAPIKeyAccount(ctx, "sk-stored", "", false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, slots.RegistryFileName), []byte("{bad"), 0o600))

	all, err := c.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestFindAccountAcrossSources(t *testing.T) {
	c, svc, root := newTestCatalog(t)
	ctx := context.Background()

	stored, err := svc.UpsertAPIKeyAccount(ctx, "sk-stored", "", false)
	require.NoError(t, err)
	writeSlotAuth(t, root, "slot-alpha", &token.AuthFile{APIKey: "sk-slot"})

	found, err := c.FindAccount(ctx, stored.ID)
	require.NoError(t, err)
	require.NotNil(t, found)

	found, err = c.FindAccount(ctx, "slot-slot-alpha")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, "sk-slot", found.APIKey)

	found, err = c.FindAccount(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, found)

	found, err = c.FindAccount(ctx, "")
	require.NoError(t, err)
	require.Nil(t, found)
}

func TestWatchInvalidatesOnFileChanges(t *testing.T) {
	c, svc, root := newTestCatalog(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	all, err := c.ListAccounts(ctx)
	require.NoError(t, err)
	require.Empty(t, all)

	c.Watch(ctx, root)
	_, err = svc.UpsertAPIKeyAccount(ctx, "sk-new", "", false)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		all, err := c.ListAccounts(ctx)
		return err == nil && len(all) == 1
	}, 5*time.Second, 50*time.Millisecond)
}

func TestActiveAccountResolvesSlotIDs(t *testing.T) {
	c, svc, root := newTestCatalog(t)
	ctx := context.Background()

	active, err := c.ActiveAccount(ctx)
	require.NoError(t, err)
	require.Nil(t, active)

	writeSlotAuth(t, root, "slot-alpha", &token.AuthFile{APIKey: "sk-slot"})
	_, err = svc.SetActiveAccountID(ctx, "slot-slot-alpha")
	require.NoError(t, err)
	c.Invalidate()

	active, err = c.ActiveAccount(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	require.Equal(t, "slot-slot-alpha", active.ID)

	// A dangling pointer resolves to nothing rather than failing.
	_, err = svc.SetActiveAccountID(ctx, "gone")
	require.NoError(t, err)
	c.Invalidate()
	active, err = c.ActiveAccount(ctx)
	require.NoError(t, err)
	require.Nil(t, active)
}
