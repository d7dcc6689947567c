package slots

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"agentauth-go/internal/token"

	log "github.com/sirupsen/logrus"
)

// DefaultSlotID names the synthetic slot bound to the installation root.
const DefaultSlotID = "slot-default"

const defaultSlotLabel = "Slot default"

// AccountSlot is a filesystem-backed credential scope: an independently
// authenticated directory discovered by naming convention or created
// explicitly by the user.
type AccountSlot struct {
	ID          string
	Label       string
	Path        string
	HasAuthFile bool
	IsDefault   bool
}

// Manager finds, identifies and persists metadata for slots under one
// installation root.
type Manager struct {
	root       string
	legacyRoot string
}

// Options configure a slot manager. Root is required.
type Options struct {
	Root       string
	LegacyRoot string
}

// NewManager creates a manager for the given roots.
func NewManager(opts Options) *Manager {
	m := &Manager{root: filepath.Clean(opts.Root)}
	if opts.LegacyRoot != "" {
		m.legacyRoot = filepath.Clean(opts.LegacyRoot)
	}
	return m
}

func newAccountSlot(id, label, path string, isDefault bool) AccountSlot {
	hasAuth := false
	if info, err := os.Stat(filepath.Join(path, token.AuthFileName)); err == nil && info.Mode().IsRegular() {
		hasAuth = true
	}
	return AccountSlot{ID: id, Label: label, Path: path, HasAuthFile: hasAuth, IsDefault: isDefault}
}

func (m *Manager) defaultSlot() AccountSlot {
	return newAccountSlot(DefaultSlotID, defaultSlotLabel, m.root, true)
}

// ListSlots returns registry entries plus the synthetic default slot,
// sorted default-first then by case-insensitive label with id as tiebreak.
// Newly discovered directories are merged into the registry as a side
// effect; this is the only implicit registry write.
func (m *Manager) ListSlots() ([]AccountSlot, error) {
	unlock, err := lockRegistry(m.root)
	if err != nil {
		return nil, err
	}
	defer unlock()

	registry, err := loadRegistry(m.root)
	if err != nil {
		return nil, err
	}
	if m.hydrateRegistry(registry) {
		if err := registry.save(m.root); err != nil {
			return nil, err
		}
	}

	slots := make([]AccountSlot, 0, len(registry.Slots)+1)
	for _, entry := range registry.Slots {
		resolved := resolveEntryPath(&entry, m.root)
		slots = append(slots, newAccountSlot(entry.ID, entry.Label, resolved, false))
	}
	slots = append(slots, m.defaultSlot())

	sort.SliceStable(slots, func(i, j int) bool {
		a, b := slots[i], slots[j]
		if a.IsDefault != b.IsDefault {
			return a.IsDefault
		}
		al, bl := strings.ToLower(slotSortLabel(a)), strings.ToLower(slotSortLabel(b))
		if al != bl {
			return al < bl
		}
		return a.ID < b.ID
	})
	return slots, nil
}

func slotSortLabel(s AccountSlot) string {
	if s.Label != "" {
		return s.Label
	}
	return s.ID
}

// hydrateRegistry merges freshly discovered directories into the registry.
// Discovered directories are matched by resolved absolute path, not by
// identifier, so a renamed registry entry is not re-added as new.
func (m *Manager) hydrateRegistry(registry *registryFile) bool {
	dirty := false
	known := registry.ids()
	for _, slot := range m.scanSlotDirs() {
		matched := false
		for i := range registry.Slots {
			if resolveEntryPath(&registry.Slots[i], m.root) == slot.path {
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		if _, taken := known[slot.id]; taken {
			continue
		}
		known[slot.id] = struct{}{}
		registry.Slots = append(registry.Slots, registryEntry{
			ID:    slot.id,
			Label: slot.label,
			Path:  relativizePath(m.root, slot.path),
		})
		dirty = true
	}
	return dirty
}

// AddSlot creates a fresh slot directory under the installation root and
// registers it. No credential file is written; the slot starts empty.
func (m *Manager) AddSlot(label string) (*AccountSlot, error) {
	unlock, err := lockRegistry(m.root)
	if err != nil {
		return nil, err
	}
	defer unlock()

	registry, err := loadRegistry(m.root)
	if err != nil {
		return nil, err
	}
	existing := registry.ids()
	for _, slot := range m.scanSlotDirs() {
		existing[slot.id] = struct{}{}
	}

	cleaned := strings.TrimSpace(label)
	component := sanitizeSlotComponent(cleaned)
	if component == "" {
		component = "custom"
	}
	id := ensureUniqueSlotID(makeSlotIDSlug([]string{component}), existing)

	dir := filepath.Join(m.root, id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create slot directory: %w", err)
	}

	registry.Slots = append(registry.Slots, registryEntry{
		ID:    id,
		Label: cleaned,
		Path:  relativizePath(m.root, dir),
	})
	if err := registry.save(m.root); err != nil {
		return nil, err
	}

	slot := newAccountSlot(id, cleaned, dir, false)
	return &slot, nil
}

// RemoveSlot deletes the registry entry and, best effort, the backing
// directory. The default slot cannot be removed; unknown ids return nil.
func (m *Manager) RemoveSlot(id string) (*AccountSlot, error) {
	if id == DefaultSlotID {
		return nil, nil
	}

	unlock, err := lockRegistry(m.root)
	if err != nil {
		return nil, err
	}
	defer unlock()

	registry, err := loadRegistry(m.root)
	if err != nil {
		return nil, err
	}
	entry := registry.remove(id)
	if entry == nil {
		return nil, nil
	}
	if err := registry.save(m.root); err != nil {
		return nil, err
	}

	path := resolveEntryPath(entry, m.root)
	if _, err := os.Stat(path); err == nil {
		if err := os.RemoveAll(path); err != nil {
			log.WithError(err).Warnf("slot %s removed from registry but directory %s lingers", id, path)
		}
	}

	slot := newAccountSlot(entry.ID, entry.Label, path, false)
	return &slot, nil
}

// RenameSlot updates only the label. The default slot cannot be renamed;
// unknown ids return nil.
func (m *Manager) RenameSlot(id, newLabel string) (*AccountSlot, error) {
	if id == DefaultSlotID {
		return nil, nil
	}

	unlock, err := lockRegistry(m.root)
	if err != nil {
		return nil, err
	}
	defer unlock()

	registry, err := loadRegistry(m.root)
	if err != nil {
		return nil, err
	}
	entry := registry.entry(id)
	if entry == nil {
		return nil, nil
	}
	entry.Label = strings.TrimSpace(newLabel)
	if err := registry.save(m.root); err != nil {
		return nil, err
	}

	slot := newAccountSlot(entry.ID, entry.Label, resolveEntryPath(entry, m.root), false)
	return &slot, nil
}

// SlotAuthDir resolves (creating if necessary) the directory that holds a
// slot's credential file. The default id resolves to the installation root.
func (m *Manager) SlotAuthDir(id string) (string, error) {
	if id == DefaultSlotID {
		return m.root, nil
	}
	registry, err := loadRegistry(m.root)
	if err != nil {
		return "", err
	}
	path := filepath.Join(m.root, id)
	if entry := registry.entry(id); entry != nil {
		path = resolveEntryPath(entry, m.root)
	}
	if err := os.MkdirAll(path, 0o700); err != nil {
		return "", fmt.Errorf("create slot auth directory: %w", err)
	}
	return path, nil
}
