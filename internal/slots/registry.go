package slots

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

// RegistryFileName is the persisted slot registry under the installation root.
const RegistryFileName = "slot_registry.json"

const registryVersion = 1

// registryEntry maps a slot identifier to its label override and path.
// Paths are stored relative to the installation root when possible so the
// registry stays portable.
type registryEntry struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
	Path  string `json:"path,omitempty"`
}

type registryFile struct {
	Version int             `json:"version"`
	Slots   []registryEntry `json:"slots,omitempty"`
}

func registryPath(root string) string {
	return filepath.Join(root, RegistryFileName)
}

// loadRegistry reads the registry. An absent file is an empty registry; a
// malformed one is a hard error.
func loadRegistry(root string) (*registryFile, error) {
	data, err := os.ReadFile(registryPath(root))
	if err != nil {
		if os.IsNotExist(err) {
			return &registryFile{Version: registryVersion}, nil
		}
		return nil, fmt.Errorf("read slot registry: %w", err)
	}
	var parsed registryFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse slot registry: %w", err)
	}
	if parsed.Version == 0 {
		parsed.Version = registryVersion
	}
	return &parsed, nil
}

func (r *registryFile) save(root string) error {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return fmt.Errorf("prepare registry directory: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal slot registry: %w", err)
	}
	path := registryPath(root)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp slot registry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename slot registry: %w", err)
	}
	return nil
}

// lockRegistry guards the registry's read-modify-write window against a
// second process. The returned func releases the lock.
func lockRegistry(root string) (func(), error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("prepare registry directory: %w", err)
	}
	lock := flock.New(registryPath(root) + ".lock")
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("lock slot registry: %w", err)
	}
	return func() { _ = lock.Unlock() }, nil
}

func (r *registryFile) ids() map[string]struct{} {
	out := make(map[string]struct{}, len(r.Slots))
	for _, entry := range r.Slots {
		out[entry.ID] = struct{}{}
	}
	return out
}

func (r *registryFile) entry(id string) *registryEntry {
	for i := range r.Slots {
		if r.Slots[i].ID == id {
			return &r.Slots[i]
		}
	}
	return nil
}

func (r *registryFile) remove(id string) *registryEntry {
	for i := range r.Slots {
		if r.Slots[i].ID == id {
			entry := r.Slots[i]
			r.Slots = append(r.Slots[:i], r.Slots[i+1:]...)
			return &entry
		}
	}
	return nil
}

func (r *registryFile) labelMap() map[string]string {
	out := make(map[string]string, len(r.Slots))
	for _, entry := range r.Slots {
		out[entry.ID] = entry.Label
	}
	return out
}

func (r *registryFile) idByPath(root string) map[string]string {
	out := make(map[string]string, len(r.Slots))
	for _, entry := range r.Slots {
		out[resolveEntryPath(&entry, root)] = entry.ID
	}
	return out
}

// relativizePath stores paths under the root as relative; the root itself
// becomes "." and anything outside stays absolute.
func relativizePath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

func resolveEntryPath(entry *registryEntry, root string) string {
	raw := entry.Path
	if raw == "" {
		raw = entry.ID
	}
	switch {
	case filepath.IsAbs(raw):
		return filepath.Clean(raw)
	case raw == ".":
		return root
	default:
		return filepath.Join(root, raw)
	}
}
