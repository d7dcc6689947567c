package account

import (
	"time"

	"agentauth-go/internal/token"
)

// AuthMode distinguishes how an account authenticates.
type AuthMode string

const (
	// AuthModeAPIKey authenticates with a raw API key.
	AuthModeAPIKey AuthMode = "api_key"
	// AuthModeChatGPT authenticates with a session-token bundle.
	AuthModeChatGPT AuthMode = "chatgpt"
)

// StoredAccount is one credential record: an explicitly registered account
// or a slot-derived one materialized at catalogue-read time.
type StoredAccount struct {
	ID    string   `json:"id"`
	Mode  AuthMode `json:"mode"`
	Label string   `json:"label,omitempty"`

	APIKey string           `json:"api_key,omitempty"`
	Tokens *token.TokenData `json:"tokens,omitempty"`

	LastRefresh *time.Time `json:"last_refresh,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
}

// HasCredentials reports whether the record carries usable secret material
// for its mode.
func (a *StoredAccount) HasCredentials() bool {
	switch a.Mode {
	case AuthModeAPIKey:
		return a.APIKey != ""
	case AuthModeChatGPT:
		return !a.Tokens.IsZero()
	}
	return false
}

// DisplayLabel returns the label, falling back to the id.
func (a *StoredAccount) DisplayLabel() string {
	if a.Label != "" {
		return a.Label
	}
	return a.ID
}

// PlanType surfaces the subscription plan decoded from the id token, when
// the account has one.
func (a *StoredAccount) PlanType() string {
	if a.Tokens == nil {
		return ""
	}
	return a.Tokens.IDToken.PlanType
}

// Container is the persisted catalogue of explicitly registered accounts.
type Container struct {
	Version         int             `json:"version"`
	ActiveAccountID string          `json:"active_account_id,omitempty"`
	Accounts        []StoredAccount `json:"accounts,omitempty"`
}

const containerVersion = 1

// NewContainer returns an empty container at the current schema version.
func NewContainer() *Container {
	return &Container{Version: containerVersion}
}

func (c *Container) findIndex(id string) int {
	for i := range c.Accounts {
		if c.Accounts[i].ID == id {
			return i
		}
	}
	return -1
}

// matchChatGPTAccount reports whether an existing record is the same
// underlying login as the incoming token bundle. Both the external account
// identifier and the normalized email must agree; either alone is not
// enough to merge.
func matchChatGPTAccount(existing *StoredAccount, tokens *token.TokenData) bool {
	if existing.Mode != AuthModeChatGPT || existing.Tokens == nil || tokens == nil {
		return false
	}
	if existing.Tokens.AccountID == "" || tokens.AccountID == "" {
		return false
	}
	if existing.Tokens.AccountID != tokens.AccountID {
		return false
	}
	a := token.NormalizeEmail(existing.Tokens.IDToken.Email)
	b := token.NormalizeEmail(tokens.IDToken.Email)
	if a == "" || b == "" {
		return false
	}
	return a == b
}

// matchAPIKeyAccount matches only on byte-exact key equality.
func matchAPIKeyAccount(existing *StoredAccount, apiKey string) bool {
	return existing.Mode == AuthModeAPIKey && existing.APIKey != "" && existing.APIKey == apiKey
}

// touch stamps created_at when unset and, when used, last_used_at.
func touch(acc *StoredAccount, used bool, now time.Time) {
	if acc.CreatedAt == nil {
		t := now
		acc.CreatedAt = &t
	}
	if used {
		t := now
		acc.LastUsedAt = &t
	}
}

// upsert merges the incoming record into the container. On a match the
// label, secret payload, refresh timestamp and last_used_at are overwritten
// when present on the incoming record; id and created_at are preserved. On
// no match the record is appended as-is.
func upsert(c *Container, incoming StoredAccount, now time.Time) StoredAccount {
	idx := -1
	switch incoming.Mode {
	case AuthModeChatGPT:
		if incoming.Tokens != nil {
			for i := range c.Accounts {
				if matchChatGPTAccount(&c.Accounts[i], incoming.Tokens) {
					idx = i
					break
				}
			}
		}
	case AuthModeAPIKey:
		if incoming.APIKey != "" {
			for i := range c.Accounts {
				if matchAPIKeyAccount(&c.Accounts[i], incoming.APIKey) {
					idx = i
					break
				}
			}
		}
	}

	if idx >= 0 {
		existing := &c.Accounts[idx]
		if incoming.Label != "" {
			existing.Label = incoming.Label
		}
		if incoming.LastRefresh != nil {
			existing.LastRefresh = incoming.LastRefresh
		}
		if incoming.Tokens != nil {
			existing.Tokens = incoming.Tokens
		}
		if incoming.APIKey != "" {
			existing.APIKey = incoming.APIKey
		}
		if incoming.LastUsedAt != nil {
			existing.LastUsedAt = incoming.LastUsedAt
		}
		return *existing
	}

	if incoming.CreatedAt == nil {
		t := now
		incoming.CreatedAt = &t
	}
	c.Accounts = append(c.Accounts, incoming)
	return incoming
}
