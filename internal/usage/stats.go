package usage

import "time"

// RateLimitObservation is the most recent quota reading for one account.
// Relative reset countdowns are anchored to an absolute time when the
// observation is recorded, so a snapshot read later stays meaningful.
type RateLimitObservation struct {
	UsedPercent   float64    `json:"used_percent"`
	WindowMinutes int64      `json:"window_minutes"`
	ResetAt       *time.Time `json:"reset_at,omitempty"`
	ObservedAt    time.Time  `json:"observed_at"`
}

// AccountUsage aggregates request outcomes for one account.
type AccountUsage struct {
	AccountID     string                `json:"account_id"`
	Requests      int64                 `json:"requests"`
	Success       int64                 `json:"success"`
	Failure       int64                 `json:"failure"`
	RateLimitHits int64                 `json:"rate_limit_hits"`
	LastUsedAt    *time.Time            `json:"last_used_at,omitempty"`
	LastRateLimit *RateLimitObservation `json:"last_rate_limit,omitempty"`
}

// Stats is the persisted usage state, keyed by account id.
type Stats struct {
	Accounts map[string]*AccountUsage `json:"accounts"`
}

// NewStats creates empty statistics.
func NewStats() *Stats {
	return &Stats{Accounts: make(map[string]*AccountUsage)}
}

func (s *Stats) account(id string) *AccountUsage {
	if acc, ok := s.Accounts[id]; ok {
		return acc
	}
	acc := &AccountUsage{AccountID: id}
	s.Accounts[id] = acc
	return acc
}
