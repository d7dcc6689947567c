package scheduler

import (
	"context"
	"fmt"
	"math"
	"time"
)

// RateLimitSnapshot is one account's most recent rate-limit telemetry. The
// record shape is owned by the usage-telemetry collaborator; the scheduler
// only consumes these four fields.
type RateLimitSnapshot struct {
	// UsedPercent is how much of the quota window has been consumed.
	UsedPercent float64
	// WindowMinutes is the total length of the quota window.
	WindowMinutes int64
	// ResetAt is the absolute time the window resets, when known.
	ResetAt *time.Time
	// ResetAfterSeconds is a relative reset countdown, used when ResetAt
	// is not provided.
	ResetAfterSeconds *int64
}

// Validate rejects records that cannot be interpreted as telemetry.
// Percent values outside [0,100] are tolerated (the weight computation
// clamps them); NaN and infinities are not.
func (s RateLimitSnapshot) Validate() error {
	if math.IsNaN(s.UsedPercent) || math.IsInf(s.UsedPercent, 0) {
		return fmt.Errorf("used percent is not a number")
	}
	if s.WindowMinutes < 0 {
		return fmt.Errorf("window minutes is negative")
	}
	if s.ResetAfterSeconds != nil && *s.ResetAfterSeconds < 0 {
		return fmt.Errorf("reset countdown is negative")
	}
	return nil
}

// TelemetryProvider supplies rate-limit telemetry keyed by account id.
type TelemetryProvider interface {
	Snapshots(ctx context.Context) (map[string]RateLimitSnapshot, error)
}
