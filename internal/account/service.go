package account

import (
	"context"
	"time"

	"agentauth-go/internal/token"

	"github.com/google/uuid"
)

// Service exposes the durable, deduplicated catalogue of explicitly
// registered accounts and the single active selection. Slot-derived
// accounts are appended by the catalogue layer, not here.
type Service struct {
	store Store
}

// NewService wraps a backing store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

func nextID() string {
	return uuid.NewString()
}

// update runs a read-modify-write against the store, holding the store's
// advisory lock for the whole window when it supports one.
func (s *Service) update(ctx context.Context, fn func(c *Container)) (*Container, error) {
	if locker, ok := s.store.(Locker); ok {
		unlock, err := locker.Lock(ctx)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}
	c, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	fn(c)
	if err := s.store.Save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ListAccounts returns all explicitly registered accounts.
func (s *Service) ListAccounts(ctx context.Context) ([]StoredAccount, error) {
	c, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return c.Accounts, nil
}

// FindAccount returns the registered account with the given id, or nil.
func (s *Service) FindAccount(ctx context.Context, id string) (*StoredAccount, error) {
	c, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if idx := c.findIndex(id); idx >= 0 {
		acc := c.Accounts[idx]
		return &acc, nil
	}
	return nil, nil
}

// GetActiveAccountID returns the recorded active account id, or empty.
func (s *Service) GetActiveAccountID(ctx context.Context) (string, error) {
	c, err := s.store.Load(ctx)
	if err != nil {
		return "", err
	}
	return c.ActiveAccountID, nil
}

// SetActiveAccountID records the active selection. When the id resolves to
// a registered account that record is touched and returned; an unknown id
// (for example a slot-derived one) is still recorded but nothing is
// returned. An empty id clears the selection.
func (s *Service) SetActiveAccountID(ctx context.Context, id string) (*StoredAccount, error) {
	var updated *StoredAccount
	_, err := s.update(ctx, func(c *Container) {
		c.ActiveAccountID = id
		if id == "" {
			return
		}
		if idx := c.findIndex(id); idx >= 0 {
			touch(&c.Accounts[idx], true, time.Now().UTC())
			acc := c.Accounts[idx]
			updated = &acc
		}
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RemoveAccount deletes the registered account with the given id, clearing
// the active pointer when it pointed at the removed id. Returns the removed
// record, or nil when the id was unknown.
func (s *Service) RemoveAccount(ctx context.Context, id string) (*StoredAccount, error) {
	var removed *StoredAccount
	_, err := s.update(ctx, func(c *Container) {
		if idx := c.findIndex(id); idx >= 0 {
			acc := c.Accounts[idx]
			removed = &acc
			c.Accounts = append(c.Accounts[:idx], c.Accounts[idx+1:]...)
		}
		if c.ActiveAccountID == id {
			c.ActiveAccountID = ""
		}
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// UpsertAPIKeyAccount inserts or merges an API-key account. A byte-exact
// key match updates the existing record in place.
func (s *Service) UpsertAPIKeyAccount(ctx context.Context, apiKey, label string, makeActive bool) (*StoredAccount, error) {
	incoming := StoredAccount{
		ID:     nextID(),
		Mode:   AuthModeAPIKey,
		Label:  label,
		APIKey: apiKey,
	}
	return s.upsertAccount(ctx, incoming, makeActive)
}

// UpsertChatGPTAccount inserts or merges a session-token account. The
// record merges only when both the external account id and the normalized
// email match an existing one.
func (s *Service) UpsertChatGPTAccount(ctx context.Context, tokens token.TokenData, lastRefresh time.Time, label string, makeActive bool) (*StoredAccount, error) {
	refresh := lastRefresh
	incoming := StoredAccount{
		ID:          nextID(),
		Mode:        AuthModeChatGPT,
		Label:       label,
		Tokens:      &tokens,
		LastRefresh: &refresh,
	}
	return s.upsertAccount(ctx, incoming, makeActive)
}

func (s *Service) upsertAccount(ctx context.Context, incoming StoredAccount, makeActive bool) (*StoredAccount, error) {
	var stored StoredAccount
	_, err := s.update(ctx, func(c *Container) {
		now := time.Now().UTC()
		stored = upsert(c, incoming, now)
		if makeActive {
			c.ActiveAccountID = stored.ID
			if idx := c.findIndex(stored.ID); idx >= 0 {
				touch(&c.Accounts[idx], true, now)
				stored = c.Accounts[idx]
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}
