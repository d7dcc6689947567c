package account

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// AccountsFileName is the persisted container file under the installation root.
const AccountsFileName = "auth_accounts.json"

// Store abstracts the backing store for the accounts container so that an
// alternative backend can be substituted without touching the merge or
// scheduling logic.
type Store interface {
	Load(ctx context.Context) (*Container, error)
	Save(ctx context.Context, c *Container) error
}

// Locker is implemented by stores that support an advisory lock scoped
// around a read-modify-write window. The returned func releases the lock.
type Locker interface {
	Lock(ctx context.Context) (func(), error)
}

// FileStore persists the container as JSON under the installation root.
type FileStore struct {
	root string
}

// NewFileStore creates a store rooted at the given installation directory.
func NewFileStore(root string) *FileStore {
	return &FileStore{root: filepath.Clean(root)}
}

func (s *FileStore) path() string {
	return filepath.Join(s.root, AccountsFileName)
}

// Load reads the container. An absent file is an empty container; a present
// but malformed file is a hard error.
func (s *FileStore) Load(_ context.Context) (*Container, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return NewContainer(), nil
		}
		return nil, fmt.Errorf("read accounts file: %w", err)
	}
	var parsed Container
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse accounts file: %w", err)
	}
	if parsed.Version == 0 {
		parsed.Version = containerVersion
	}
	return &parsed, nil
}

// Save writes the container with owner-only permissions, going through a
// temp file in the same directory plus a rename so a crash mid-write never
// truncates the previous contents.
func (s *FileStore) Save(_ context.Context, c *Container) error {
	if c == nil {
		return fmt.Errorf("container is nil")
	}
	if err := os.MkdirAll(s.root, 0o700); err != nil {
		return fmt.Errorf("prepare accounts directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal accounts file: %w", err)
	}
	path := s.path()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp accounts file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename accounts file: %w", err)
	}
	return nil
}

// Lock takes an advisory file lock guarding the read-modify-write window
// against a second process racing on the same container.
func (s *FileStore) Lock(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(s.root, 0o700); err != nil {
		return nil, fmt.Errorf("prepare accounts directory: %w", err)
	}
	lock := flock.New(s.path() + ".lock")
	if _, err := lock.TryLockContext(ctx, 50*time.Millisecond); err != nil {
		return nil, fmt.Errorf("lock accounts file: %w", err)
	}
	return func() { _ = lock.Unlock() }, nil
}
