package scheduler

import (
	"context"
	"sort"
	"time"

	"agentauth-go/internal/account"

	log "github.com/sirupsen/logrus"
)

// defaultCooldown is the conservative retry delay applied when a rate
// limit response carries no explicit resume time.
const defaultCooldown = 15 * time.Second

// AccountLister supplies the current account catalogue.
type AccountLister interface {
	ListAccounts(ctx context.Context) ([]account.StoredAccount, error)
}

// AccountSelection is the scheduler's answer: use this account next.
type AccountSelection struct {
	AccountID string
	Label     string
	Plan      string
	Snapshot  *RateLimitSnapshot
}

// Outcome describes how a request made with a selected account ended.
type Outcome struct {
	RateLimited bool
	// ResumeAt is the server-provided retry time; only meaningful when
	// RateLimited is set. Nil falls back to a default delay.
	ResumeAt *time.Time
}

type weightedState struct {
	weight  float64
	current float64
}

// Scheduler picks the next account from the catalogue using quota-aware
// weights, smooth weighted round-robin fairness, and cooldown-based
// circuit breaking. It is not internally synchronized: one owner, one
// goroutine. The fairness guarantee depends on the carried round-robin
// state being advanced exactly once per pick.
type Scheduler struct {
	catalog   AccountLister
	telemetry TelemetryProvider

	cooldowns map[string]time.Time
	rr        map[string]*weightedState
}

// New creates a scheduler over the given catalogue and telemetry source.
func New(catalog AccountLister, telemetry TelemetryProvider) *Scheduler {
	return &Scheduler{
		catalog:   catalog,
		telemetry: telemetry,
		cooldowns: make(map[string]time.Time),
		rr:        make(map[string]*weightedState),
	}
}

type candidate struct {
	acc    account.StoredAccount
	snap   *RateLimitSnapshot
	weight float64
}

// NextAccount picks exactly one account to use next, or nil when nothing
// is currently eligible. Catalogue and telemetry read failures degrade to
// an empty contribution rather than propagating.
func (s *Scheduler) NextAccount(ctx context.Context, now time.Time) *AccountSelection {
	s.pruneCooldowns(now)

	snapshots := s.loadSnapshots(ctx)

	accounts, err := s.catalog.ListAccounts(ctx)
	if err != nil {
		log.WithError(err).Warn("scheduler: failed to list accounts")
		return nil
	}

	byIdentity := make(map[string][]candidate)
	for i := range accounts {
		acc := accounts[i]
		if !acc.HasCredentials() {
			continue
		}
		if s.isBlocked(acc.ID, now) {
			continue
		}
		var snap *RateLimitSnapshot
		if v, ok := snapshots[acc.ID]; ok {
			copied := v
			snap = &copied
		}
		weight := ComputeWeight(snap, &acc, now)
		identity := SchedulingIdentity(&acc)
		byIdentity[identity] = append(byIdentity[identity], candidate{acc: acc, snap: snap, weight: weight})
	}
	if len(byIdentity) == 0 {
		return nil
	}

	identities := make([]string, 0, len(byIdentity))
	identityWeight := make(map[string]float64, len(byIdentity))
	total := 0.0
	for identity, members := range byIdentity {
		sum := 0.0
		for _, member := range members {
			sum += member.weight
		}
		identities = append(identities, identity)
		identityWeight[identity] = sum
		total += sum
	}
	if total <= 0 {
		return nil
	}
	sort.Strings(identities)

	// One step of smooth weighted round-robin over the collapsed
	// identities: every identity accrues its weight, the highest counter
	// wins and pays back the total.
	winner := ""
	best := 0.0
	for _, identity := range identities {
		state, ok := s.rr[identity]
		if !ok {
			state = &weightedState{}
			s.rr[identity] = state
		}
		state.weight = identityWeight[identity]
		state.current += state.weight
		if winner == "" || state.current > best {
			winner = identity
			best = state.current
		}
	}
	s.rr[winner].current -= total

	members := byIdentity[winner]
	sort.SliceStable(members, func(i, j int) bool {
		if members[i].weight != members[j].weight {
			return members[i].weight > members[j].weight
		}
		return members[i].acc.ID < members[j].acc.ID
	})
	chosen := members[0]

	return &AccountSelection{
		AccountID: chosen.acc.ID,
		Label:     chosen.acc.Label,
		Plan:      chosen.acc.PlanType(),
		Snapshot:  chosen.snap,
	}
}

// loadSnapshots fetches telemetry, dropping records that fail validation
// and treating a provider failure as "no data".
func (s *Scheduler) loadSnapshots(ctx context.Context) map[string]RateLimitSnapshot {
	if s.telemetry == nil {
		return nil
	}
	snapshots, err := s.telemetry.Snapshots(ctx)
	if err != nil {
		log.WithError(err).Warn("scheduler: failed to read rate-limit telemetry")
		return nil
	}
	for id, snap := range snapshots {
		if err := snap.Validate(); err != nil {
			log.WithError(err).Warnf("scheduler: dropping telemetry for %s", id)
			delete(snapshots, id)
		}
	}
	return snapshots
}

// RecordOutcome feeds back the result of using an account. Success clears
// any cooldown; a rate limit sets one until the provided resume time, or
// for a short default delay when none was given.
func (s *Scheduler) RecordOutcome(accountID string, outcome Outcome) {
	if accountID == "" {
		return
	}
	if !outcome.RateLimited {
		delete(s.cooldowns, accountID)
		return
	}
	resume := time.Now().UTC().Add(defaultCooldown)
	if outcome.ResumeAt != nil {
		resume = *outcome.ResumeAt
	}
	s.cooldowns[accountID] = resume
}

func (s *Scheduler) pruneCooldowns(now time.Time) {
	for id, until := range s.cooldowns {
		if !until.After(now) {
			delete(s.cooldowns, id)
		}
	}
}

func (s *Scheduler) isBlocked(accountID string, now time.Time) bool {
	until, ok := s.cooldowns[accountID]
	return ok && until.After(now)
}
