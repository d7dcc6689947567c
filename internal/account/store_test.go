package account

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileStoreLoadAbsent(t *testing.T) {
	store := NewFileStore(t.TempDir())

	c, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, containerVersion, c.Version)
	require.Empty(t, c.Accounts)
	require.Empty(t, c.ActiveAccountID)
}

func TestFileStoreLoadMalformed(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, AccountsFileName), []byte("{broken"), 0o600))

	_, err := NewFileStore(root).Load(context.Background())
	require.Error(t, err)
}

func TestFileStoreSaveLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	store := NewFileStore(root)
	ctx := context.Background()

	in := NewContainer()
	in.ActiveAccountID = "id-1"
	in.Accounts = []StoredAccount{{ID: "id-1", Mode: AuthModeAPIKey, APIKey: "sk", Label: "Work"}}
	require.NoError(t, store.Save(ctx, in))

	out, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, in.ActiveAccountID, out.ActiveAccountID)
	require.Len(t, out.Accounts, 1)
	require.Equal(t, "Work", out.Accounts[0].Label)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(filepath.Join(root, AccountsFileName))
		require.NoError(t, err)
		require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}

	_, err = os.Stat(filepath.Join(root, AccountsFileName+".tmp"))
	require.True(t, os.IsNotExist(err))
}

func TestFileStoreLockReleases(t *testing.T) {
	store := NewFileStore(t.TempDir())
	ctx := context.Background()

	unlock, err := store.Lock(ctx)
	require.NoError(t, err)
	unlock()

	// Re-acquiring after release must not block.
	unlock, err = store.Lock(ctx)
	require.NoError(t, err)
	unlock()
}
