package catalog

import (
	"context"
	"sync"

	"agentauth-go/internal/account"
	"agentauth-go/internal/slots"

	log "github.com/sirupsen/logrus"
)

// Catalog presents stored accounts and filesystem slot accounts as one
// unified list. Slot discovery failures degrade to an empty slot
// contribution so a corrupt slot tree never hides explicitly stored
// accounts.
type Catalog struct {
	accounts *account.Service
	slots    *slots.Manager

	mu     sync.Mutex
	cache  []account.StoredAccount
	cached bool

	watchOnce sync.Once
	reloadCh  chan struct{}
}

// Options configures a Catalog.
type Options struct {
	Accounts *account.Service
	Slots    *slots.Manager
}

func New(opts Options) *Catalog {
	return &Catalog{
		accounts: opts.Accounts,
		slots:    opts.Slots,
		reloadCh: make(chan struct{}, 1),
	}
}

// ListAccounts returns stored accounts followed by discovered slot
// accounts. Results are cached until Invalidate is called or the
// directory watcher observes a change.
func (c *Catalog) ListAccounts(ctx context.Context) ([]account.StoredAccount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached {
		return cloneAccounts(c.cache), nil
	}

	stored, err := c.accounts.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	merged := make([]account.StoredAccount, 0, len(stored))
	merged = append(merged, stored...)
	if c.slots != nil {
		discovered, err := c.slots.DiscoverSlotAccounts()
		if err != nil {
			log.WithError(err).Warn("catalog: slot discovery failed, continuing with stored accounts only")
		} else {
			merged = append(merged, discovered...)
		}
	}

	c.cache = merged
	c.cached = true
	return cloneAccounts(merged), nil
}

// FindAccount looks an account up by id across both sources. It returns
// nil without error when the id is unknown.
func (c *Catalog) FindAccount(ctx context.Context, id string) (*account.StoredAccount, error) {
	if id == "" {
		return nil, nil
	}
	all, err := c.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].ID == id {
			acc := all[i]
			return &acc, nil
		}
	}
	return nil, nil
}

// ActiveAccount resolves the persisted active pointer against the
// unified catalogue. A dangling pointer yields nil.
func (c *Catalog) ActiveAccount(ctx context.Context) (*account.StoredAccount, error) {
	id, err := c.accounts.GetActiveAccountID(ctx)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, nil
	}
	return c.FindAccount(ctx, id)
}

// Invalidate drops the cached listing. The next ListAccounts call reads
// the store and rescans slots.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.cache = nil
	c.cached = false
	c.mu.Unlock()
}

func cloneAccounts(in []account.StoredAccount) []account.StoredAccount {
	out := make([]account.StoredAccount, len(in))
	copy(out, in)
	return out
}
