package slots

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"agentauth-go/internal/account"
	"agentauth-go/internal/token"

	log "github.com/sirupsen/logrus"
)

const (
	slotPrefix   = "slot"
	maxSlotDepth = 2
)

// slotDir is one discovered leaf directory holding a credential file.
type slotDir struct {
	id         string
	path       string
	label      string
	auth       *token.AuthFile
	components []string
}

// slotRoots returns the directories a scan starts from: the installation
// root, a parent-level "slot" sibling directory, and the legacy root.
func (m *Manager) slotRoots() []string {
	roots := []string{m.root}
	push := func(candidate string) {
		if candidate == "" {
			return
		}
		if info, err := os.Stat(candidate); err != nil || !info.IsDir() {
			return
		}
		for _, existing := range roots {
			if existing == candidate {
				return
			}
		}
		roots = append(roots, candidate)
	}
	if parent := filepath.Dir(m.root); parent != m.root {
		push(filepath.Join(parent, slotPrefix))
	}
	push(m.legacyRoot)
	return roots
}

func (m *Manager) scanSlotDirs() []slotDir {
	var out []slotDir
	seen := make(map[string]struct{})
	for _, root := range m.slotRoots() {
		scanSlotRoot(root, seen, &out)
	}
	return out
}

// scanSlotRoot visits the root's child directories whose name starts with
// the slot prefix. Unreadable directories are skipped so a broken slot
// never hides its siblings.
func scanSlotRoot(root string, seen map[string]struct{}, out *[]slotDir) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).Warnf("slot discovery: cannot read %s", root)
		}
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(strings.ToLower(name), slotPrefix) {
			continue
		}
		scanSlotDir(filepath.Join(root, name), []string{name}, 0, seen, out)
	}
}

func scanSlotDir(path string, components []string, depth int, seen map[string]struct{}, out *[]slotDir) {
	if depth > maxSlotDepth {
		return
	}

	authPath := filepath.Join(path, token.AuthFileName)
	if info, err := os.Stat(authPath); err == nil && info.Mode().IsRegular() {
		auth, err := token.ReadAuthFile(authPath)
		if err != nil {
			log.WithError(err).Warnf("slot discovery: failed to read %s", authPath)
			return
		}
		id := ensureUniqueSlotID(makeSlotIDSlug(components), seen)
		*out = append(*out, slotDir{
			id:         id,
			path:       path,
			label:      deriveLabelFromAuth(auth, components),
			auth:       auth,
			components: components,
		})
		return
	}

	if depth == maxSlotDepth {
		return
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).Warnf("slot discovery: cannot read %s", path)
		}
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		next := append(append([]string{}, components...), entry.Name())
		scanSlotDir(filepath.Join(path, entry.Name()), next, depth+1, seen, out)
	}
}

// deriveLabelFromAuth prefers the email embedded in the slot's token
// bundle, falling back to a label synthesized from path components.
func deriveLabelFromAuth(auth *token.AuthFile, components []string) string {
	if auth != nil && auth.Tokens != nil {
		if email := strings.TrimSpace(auth.Tokens.IDToken.Email); email != "" {
			return email
		}
	}
	return slotLabel(components)
}

func slotLabel(components []string) string {
	if len(components) == 0 {
		return "account"
	}
	return "Slot " + strings.Join(components, " / ")
}

// sanitizeSlotComponent lowercases and collapses non-alphanumeric runs to
// single hyphens.
func sanitizeSlotComponent(component string) string {
	var b strings.Builder
	for _, ch := range component {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9':
			b.WriteRune(ch)
		case ch >= 'A' && ch <= 'Z':
			b.WriteRune(ch + ('a' - 'A'))
		default:
			if s := b.String(); !strings.HasSuffix(s, "-") {
				b.WriteByte('-')
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func makeSlotIDSlug(components []string) string {
	parts := make([]string, 0, len(components))
	for _, component := range components {
		if slug := sanitizeSlotComponent(component); slug != "" {
			parts = append(parts, slug)
		}
	}
	slug := "slot"
	if len(parts) > 0 {
		slug = strings.Join(parts, "-")
	}
	return slotPrefix + "-" + slug
}

// ensureUniqueSlotID disambiguates colliding slugs by appending -2, -3, …
// in first-seen order.
func ensureUniqueSlotID(base string, seen map[string]struct{}) string {
	if _, taken := seen[base]; !taken {
		seen[base] = struct{}{}
		return base
	}
	for counter := 2; ; counter++ {
		candidate := base + "-" + strconv.Itoa(counter)
		if _, taken := seen[candidate]; !taken {
			seen[candidate] = struct{}{}
			return candidate
		}
	}
}

func storedAccountFromAuth(id string, auth *token.AuthFile, label string) account.StoredAccount {
	mode := account.AuthModeAPIKey
	if auth.Tokens != nil {
		mode = account.AuthModeChatGPT
	}
	return account.StoredAccount{
		ID:          id,
		Mode:        mode,
		Label:       label,
		APIKey:      auth.APIKey,
		Tokens:      auth.Tokens,
		LastRefresh: auth.LastRefresh,
	}
}

// DiscoverSlotAccounts reads every slot's credential file and converts it
// to a StoredAccount, applying registry label overrides, then appends the
// default slot's account when the root's own credential file is non-empty.
func (m *Manager) DiscoverSlotAccounts() ([]account.StoredAccount, error) {
	registry, err := loadRegistry(m.root)
	if err != nil {
		return nil, err
	}
	overrides := registry.labelMap()
	idByPath := registry.idByPath(m.root)

	var accounts []account.StoredAccount
	seen := make(map[string]struct{})

	for _, slot := range m.scanSlotDirs() {
		if slot.auth == nil {
			continue
		}
		if custom, ok := idByPath[slot.path]; ok {
			slot.id = custom
		}
		acc := storedAccountFromAuth(slot.id, slot.auth, slot.label)
		if label, ok := overrides[slot.id]; ok && label != "" {
			acc.Label = label
		}
		seen[slot.id] = struct{}{}
		accounts = append(accounts, acc)
	}

	if acc := m.defaultSlotAccount(overrides); acc != nil {
		if _, dup := seen[acc.ID]; !dup {
			accounts = append(accounts, *acc)
		}
	}

	sort.SliceStable(accounts, func(i, j int) bool {
		return strings.ToLower(accounts[i].DisplayLabel()) < strings.ToLower(accounts[j].DisplayLabel())
	})
	return accounts, nil
}

// defaultSlotAccount materializes the account bound to the installation
// root's own credential file, or nil when that file is absent or empty.
func (m *Manager) defaultSlotAccount(overrides map[string]string) *account.StoredAccount {
	authPath := filepath.Join(m.root, token.AuthFileName)
	auth, err := token.ReadAuthFile(authPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).Warnf("slot discovery: failed to read %s", authPath)
		}
		return nil
	}
	if auth.IsEmpty() {
		return nil
	}
	acc := storedAccountFromAuth(DefaultSlotID, auth, defaultSlotLabel)
	if label, ok := overrides[DefaultSlotID]; ok && label != "" {
		acc.Label = label
	}
	return &acc
}
