package scheduler

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"agentauth-go/internal/account"
	"agentauth-go/internal/token"

	"github.com/stretchr/testify/require"
)

type staticLister struct {
	accounts []account.StoredAccount
	err      error
}

func (s *staticLister) ListAccounts(context.Context) ([]account.StoredAccount, error) {
	return s.accounts, s.err
}

type staticTelemetry struct {
	snaps map[string]RateLimitSnapshot
	err   error
}

func (s *staticTelemetry) Snapshots(context.Context) (map[string]RateLimitSnapshot, error) {
	out := make(map[string]RateLimitSnapshot, len(s.snaps))
	for k, v := range s.snaps {
		out[k] = v
	}
	return out, s.err
}

func apiKeyAccount(id string) account.StoredAccount {
	return account.StoredAccount{ID: id, Mode: account.AuthModeAPIKey, APIKey: "sk-" + id, Label: id}
}

func chatGPTAccount(id, externalID string) account.StoredAccount {
	return account.StoredAccount{
		ID:   id,
		Mode: account.AuthModeChatGPT,
		Tokens: &token.TokenData{
			IDToken:     token.IDTokenInfo{PlanType: "pro"},
			AccessToken: "access-" + id,
			AccountID:   externalID,
		},
	}
}

func pickSequence(s *Scheduler, now time.Time, n int) []string {
	ctx := context.Background()
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		sel := s.NextAccount(ctx, now)
		if sel == nil {
			out = append(out, "")
			continue
		}
		out = append(out, sel.AccountID)
	}
	return out
}

func countPicks(seq []string) map[string]int {
	out := make(map[string]int)
	for _, id := range seq {
		out[id]++
	}
	return out
}

func TestNextAccountEmptyCatalogue(t *testing.T) {
	s := New(&staticLister{}, nil)
	require.Nil(t, s.NextAccount(context.Background(), time.Now()))
}

func TestNextAccountCatalogueErrorDegrades(t *testing.T) {
	s := New(&staticLister{err: errors.New("boom")}, nil)
	require.Nil(t, s.NextAccount(context.Background(), time.Now()))
}

func TestNextAccountSkipsCredentiallessAccounts(t *testing.T) {
	s := New(&staticLister{accounts: []account.StoredAccount{
		{ID: "empty", Mode: account.AuthModeAPIKey},
		apiKeyAccount("a"),
	}}, nil)

	for i := 0; i < 5; i++ {
		sel := s.NextAccount(context.Background(), time.Now())
		require.NotNil(t, sel)
		require.Equal(t, "a", sel.AccountID)
	}
}

func TestNextAccountAlternatesEqualWeights(t *testing.T) {
	s := New(&staticLister{accounts: []account.StoredAccount{
		apiKeyAccount("a"),
		apiKeyAccount("b"),
	}}, nil)

	seq := pickSequence(s, time.Now(), 10)
	require.Equal(t, []string{"a", "b", "a", "b", "a", "b", "a", "b", "a", "b"}, seq)
}

func TestNextAccountConvergesToWeights(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	// "heavy" reports a large surplus right before its reset (multiplier
	// 2.0); "light" is exactly on pace (multiplier 1.0).
	telemetry := &staticTelemetry{snaps: map[string]RateLimitSnapshot{
		"heavy": {UsedPercent: 0, WindowMinutes: 60, ResetAfterSeconds: int64Ptr(900)},
		"light": {UsedPercent: 0, WindowMinutes: 60},
	}}
	s := New(&staticLister{accounts: []account.StoredAccount{
		apiKeyAccount("heavy"),
		apiKeyAccount("light"),
	}}, telemetry)

	counts := countPicks(pickSequence(s, now, 30))
	require.Equal(t, 20, counts["heavy"])
	require.Equal(t, 10, counts["light"])
}

func TestNextAccountCooldown(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s := New(&staticLister{accounts: []account.StoredAccount{
		apiKeyAccount("a"),
		apiKeyAccount("b"),
	}}, nil)

	resume := now.Add(61 * time.Second)
	s.RecordOutcome("a", Outcome{RateLimited: true, ResumeAt: &resume})

	for i := 0; i < 4; i++ {
		sel := s.NextAccount(context.Background(), now)
		require.NotNil(t, sel)
		require.Equal(t, "b", sel.AccountID)
	}

	// Once the resume time passes the account rejoins the rotation.
	later := now.Add(62 * time.Second)
	counts := countPicks(pickSequence(s, later, 10))
	require.Equal(t, 5, counts["a"])
	require.Equal(t, 5, counts["b"])
}

func TestNextAccountCooldownDefaultDelay(t *testing.T) {
	s := New(&staticLister{accounts: []account.StoredAccount{apiKeyAccount("a")}}, nil)

	s.RecordOutcome("a", Outcome{RateLimited: true})
	require.Nil(t, s.NextAccount(context.Background(), time.Now()))

	sel := s.NextAccount(context.Background(), time.Now().Add(defaultCooldown+time.Second))
	require.NotNil(t, sel)
	require.Equal(t, "a", sel.AccountID)
}

func TestRecordOutcomeSuccessClearsCooldown(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s := New(&staticLister{accounts: []account.StoredAccount{apiKeyAccount("a")}}, nil)

	resume := now.Add(time.Hour)
	s.RecordOutcome("a", Outcome{RateLimited: true, ResumeAt: &resume})
	require.Nil(t, s.NextAccount(context.Background(), now))

	s.RecordOutcome("a", Outcome{})
	sel := s.NextAccount(context.Background(), now)
	require.NotNil(t, sel)
	require.Equal(t, "a", sel.AccountID)
}

func TestSharedIdentityCollapses(t *testing.T) {
	// Two records aliasing the same login plus one independent login: the
	// shared pair counts as a single rotation participant, not two.
	s := New(&staticLister{accounts: []account.StoredAccount{
		chatGPTAccount("dup-b", "acct-1"),
		chatGPTAccount("dup-a", "acct-1"),
		chatGPTAccount("solo", "acct-2"),
	}}, nil)

	seq := pickSequence(s, time.Now(), 30)
	counts := countPicks(seq)
	// Identity weights are 4.0 (two records at 2.0) against 2.0, so the
	// shared identity is picked twice as often, always through the record
	// with the smaller id.
	require.Equal(t, 20, counts["dup-a"])
	require.Equal(t, 0, counts["dup-b"])
	require.Equal(t, 10, counts["solo"])
}

func TestCriticalAccountIsNotStarved(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	telemetry := &staticTelemetry{snaps: map[string]RateLimitSnapshot{
		"critical": {UsedPercent: 99.9, WindowMinutes: 60, ResetAfterSeconds: int64Ptr(3600)},
	}}
	s := New(&staticLister{accounts: []account.StoredAccount{
		apiKeyAccount("critical"),
		apiKeyAccount("healthy"),
	}}, telemetry)

	counts := countPicks(pickSequence(s, now, 22))
	require.Greater(t, counts["critical"], 0)
	require.Greater(t, counts["healthy"], counts["critical"])
}

func TestInvalidTelemetryIsDropped(t *testing.T) {
	telemetry := &staticTelemetry{snaps: map[string]RateLimitSnapshot{
		"a": {UsedPercent: math.NaN()},
	}}
	s := New(&staticLister{accounts: []account.StoredAccount{apiKeyAccount("a")}}, telemetry)

	sel := s.NextAccount(context.Background(), time.Now())
	require.NotNil(t, sel)
	require.Equal(t, "a", sel.AccountID)
	require.Nil(t, sel.Snapshot)
}

func TestTelemetryErrorDegradesToNoData(t *testing.T) {
	s := New(&staticLister{accounts: []account.StoredAccount{apiKeyAccount("a")}},
		&staticTelemetry{err: errors.New("collector offline")})

	sel := s.NextAccount(context.Background(), time.Now())
	require.NotNil(t, sel)
	require.Equal(t, "a", sel.AccountID)
}

func TestSelectionCarriesPlanAndSnapshot(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	telemetry := &staticTelemetry{snaps: map[string]RateLimitSnapshot{
		"id-1": {UsedPercent: 30, WindowMinutes: 300},
	}}
	s := New(&staticLister{accounts: []account.StoredAccount{
		chatGPTAccount("id-1", "acct-1"),
	}}, telemetry)

	sel := s.NextAccount(context.Background(), now)
	require.NotNil(t, sel)
	require.Equal(t, "pro", sel.Plan)
	require.NotNil(t, sel.Snapshot)
	require.InDelta(t, 30.0, sel.Snapshot.UsedPercent, 1e-9)
}
