package usage

import (
	"context"
	"sync"
	"time"

	"agentauth-go/internal/scheduler"

	log "github.com/sirupsen/logrus"
)

// Tracker collects per-account request outcomes and rate-limit readings,
// and serves them back to the scheduler as telemetry snapshots.
type Tracker struct {
	stats   *Stats
	storage Storage
	mu      sync.RWMutex

	persistInterval time.Duration
	stopCh          chan struct{}
	wg              sync.WaitGroup
}

// NewTracker creates a tracker backed by the given storage. A nil storage
// keeps everything in memory.
func NewTracker(storage Storage) *Tracker {
	return &Tracker{
		stats:           NewStats(),
		storage:         storage,
		persistInterval: 60 * time.Second,
		stopCh:          make(chan struct{}),
	}
}

// Start loads persisted statistics and starts the background persistence
// worker.
func (t *Tracker) Start(ctx context.Context) error {
	if err := t.loadFromStorage(ctx); err != nil {
		log.WithError(err).Warn("Failed to load usage statistics from storage, starting fresh")
	}

	t.wg.Add(1)
	go t.persistWorker(ctx)

	log.Info("Usage tracker started")
	return nil
}

// Stop stops the tracker and persists final statistics.
func (t *Tracker) Stop(ctx context.Context) error {
	close(t.stopCh)
	t.wg.Wait()

	if err := t.saveToStorage(ctx); err != nil {
		log.WithError(err).Error("Failed to save final usage statistics")
		return err
	}

	log.Info("Usage tracker stopped")
	return nil
}

// RecordRequest records the outcome of one request made with an account.
func (t *Tracker) RecordRequest(accountID string, success, rateLimited bool, now time.Time) {
	if accountID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	acc := t.stats.account(accountID)
	acc.Requests++
	if success {
		acc.Success++
	} else {
		acc.Failure++
	}
	if rateLimited {
		acc.RateLimitHits++
	}
	used := now
	acc.LastUsedAt = &used
}

// RecordRateLimit stores the latest quota reading for an account. A
// relative reset countdown is converted to an absolute time anchored at
// now; malformed readings are dropped.
func (t *Tracker) RecordRateLimit(accountID string, snap scheduler.RateLimitSnapshot, now time.Time) {
	if accountID == "" {
		return
	}
	if err := snap.Validate(); err != nil {
		log.WithError(err).Warnf("Dropping rate-limit reading for %s", accountID)
		return
	}

	obs := &RateLimitObservation{
		UsedPercent:   snap.UsedPercent,
		WindowMinutes: snap.WindowMinutes,
		ObservedAt:    now,
	}
	switch {
	case snap.ResetAt != nil:
		at := *snap.ResetAt
		obs.ResetAt = &at
	case snap.ResetAfterSeconds != nil:
		at := now.Add(time.Duration(*snap.ResetAfterSeconds) * time.Second)
		obs.ResetAt = &at
	}

	t.mu.Lock()
	t.stats.account(accountID).LastRateLimit = obs
	t.mu.Unlock()
}

// Snapshots implements the scheduler's telemetry source: the last known
// quota reading per account. Accounts without a reading are omitted so the
// scheduler treats them as fresh.
func (t *Tracker) Snapshots(_ context.Context) (map[string]scheduler.RateLimitSnapshot, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]scheduler.RateLimitSnapshot)
	for id, acc := range t.stats.Accounts {
		if acc.LastRateLimit == nil {
			continue
		}
		obs := acc.LastRateLimit
		snap := scheduler.RateLimitSnapshot{
			UsedPercent:   obs.UsedPercent,
			WindowMinutes: obs.WindowMinutes,
		}
		if obs.ResetAt != nil {
			at := *obs.ResetAt
			snap.ResetAt = &at
		}
		out[id] = snap
	}
	return out, nil
}

// AccountStats returns a copy of one account's aggregates, or nil.
func (t *Tracker) AccountStats(accountID string) *AccountUsage {
	t.mu.RLock()
	defer t.mu.RUnlock()

	acc, ok := t.stats.Accounts[accountID]
	if !ok {
		return nil
	}
	copied := *acc
	if acc.LastRateLimit != nil {
		obs := *acc.LastRateLimit
		copied.LastRateLimit = &obs
	}
	if acc.LastUsedAt != nil {
		used := *acc.LastUsedAt
		copied.LastUsedAt = &used
	}
	return &copied
}

func (t *Tracker) persistWorker(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.persistInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := t.saveToStorage(ctx); err != nil {
				log.WithError(err).Error("Failed to persist usage statistics")
			}
		case <-t.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (t *Tracker) loadFromStorage(ctx context.Context) error {
	if t.storage == nil {
		return nil
	}

	stats, err := t.storage.LoadStats(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.stats = stats
	t.mu.Unlock()

	log.WithFields(log.Fields{
		"accounts": len(stats.Accounts),
	}).Info("Loaded usage statistics from storage")

	return nil
}

func (t *Tracker) saveToStorage(ctx context.Context) error {
	if t.storage == nil {
		return nil
	}

	t.mu.RLock()
	snapshot := t.snapshotLocked()
	t.mu.RUnlock()

	return t.storage.SaveStats(ctx, snapshot)
}

// snapshotLocked deep-copies the stats; callers hold at least a read lock.
func (t *Tracker) snapshotLocked() *Stats {
	out := NewStats()
	for id, acc := range t.stats.Accounts {
		copied := *acc
		if acc.LastRateLimit != nil {
			obs := *acc.LastRateLimit
			copied.LastRateLimit = &obs
		}
		if acc.LastUsedAt != nil {
			used := *acc.LastUsedAt
			copied.LastUsedAt = &used
		}
		out.Accounts[id] = &copied
	}
	return out
}
