package scheduler

import (
	"time"

	"agentauth-go/internal/account"
)

const (
	// defaultPriorityRatio is assigned to accounts with no telemetry so
	// that never-queried accounts are tried eagerly.
	defaultPriorityRatio = 100.0
	minTimeFraction      = 0.01
	// minWeight keeps every eligible account selectable; without it a
	// fully exhausted account could be starved forever.
	minWeight = 0.001
)

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// priorityRatio turns a telemetry snapshot into a surplus ratio around 1.0:
// remaining quota divided by the fraction of the window still to run. The
// ratio rises as the reset approaches and falls while most of the window
// is still ahead.
func priorityRatio(snap *RateLimitSnapshot, now time.Time) float64 {
	if snap == nil {
		return defaultPriorityRatio
	}

	windowMinutes := snap.WindowMinutes
	if windowMinutes < 1 {
		windowMinutes = 1
	}
	totalSeconds := float64(windowMinutes) * 60.0
	remainingPct := clamp(100.0-snap.UsedPercent, 0.0, 100.0)

	secondsRemaining := totalSeconds
	switch {
	case snap.ResetAt != nil:
		secondsRemaining = snap.ResetAt.Sub(now).Seconds()
		if secondsRemaining < 0 {
			secondsRemaining = 0
		}
	case snap.ResetAfterSeconds != nil:
		secondsRemaining = float64(*snap.ResetAfterSeconds)
	}

	timeFraction := clamp(secondsRemaining/totalSeconds, minTimeFraction, 1.0)
	return (remainingPct / timeFraction) / 100.0
}

// urgencyMultiplier maps a surplus ratio onto a selection multiplier.
// Critical accounts are deprioritized but never zeroed; accounts with a
// large surplus are boosted.
func urgencyMultiplier(ratio float64) float64 {
	switch {
	case ratio <= 0.25:
		return 0.1
	case ratio < 1.0:
		return 0.1 + (ratio-0.25)/0.75*0.9
	case ratio <= 1.5:
		return 1.0
	case ratio < 4.0:
		return 1.0 + (ratio-1.5)/2.5
	default:
		return 2.0
	}
}

// healthMultiplier is a reserved hook for account-health signals.
func healthMultiplier(_ *account.StoredAccount) float64 {
	return 1.0
}

// ComputeWeight derives the scheduling weight for one account from its
// telemetry. The result is floored at a small positive minimum.
func ComputeWeight(snap *RateLimitSnapshot, acc *account.StoredAccount, now time.Time) float64 {
	weight := urgencyMultiplier(priorityRatio(snap, now)) * healthMultiplier(acc)
	if weight < minWeight {
		weight = minWeight
	}
	return weight
}

// SchedulingIdentity groups accounts that alias the same underlying login:
// session-token accounts sharing an external account id collapse into one
// identity, everything else stands alone.
func SchedulingIdentity(acc *account.StoredAccount) string {
	if acc.Mode == account.AuthModeChatGPT && acc.Tokens != nil && acc.Tokens.AccountID != "" {
		return "chatgpt:" + acc.Tokens.AccountID
	}
	return acc.ID
}
