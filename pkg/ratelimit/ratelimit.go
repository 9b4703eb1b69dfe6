// Package ratelimit is the Rate Limiter: a concurrent-worker cap, a spawn
// cooldown, and a daily iteration budget, all backed by atomic fast-store
// counters rather than in-process state — multiple orchestrator replicas
// (or process restarts) observe the same counters. Grounded on
// neurobridge-backend's use of Redis for cross-process counters, adapted
// from pub/sub bookkeeping to gated admission control.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/codefactory/orchestrator/pkg/fastore"
	"github.com/codefactory/orchestrator/pkg/types"
)

const (
	keyActiveWorkers   = "ratelimit:active_workers"
	keyLastSpawnMs     = "ratelimit:last_spawn_ms"
	keyDailyIterations = "ratelimit:daily_iterations"
	keyDailyResetDate  = "ratelimit:daily_reset_date"
)

// Config is the Rate Limiter's tunable policy, per spec defaults
// maxWorkers=2, dailyBudget=200, cooldownSeconds=60.
type Config struct {
	MaxWorkers      int
	DailyBudget     int
	CooldownSeconds int
}

// Limiter gates worker spawns against Config using counters in store.
type Limiter struct {
	store fastore.Store
	cfg   Config
	now   func() time.Time
}

// New builds a Limiter. now defaults to time.Now; tests may override it to
// control day-rollover and cooldown behavior deterministically.
func New(store fastore.Store, cfg Config, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{store: store, cfg: cfg, now: now}
}

// CanSpawnWorker reports whether a new worker may be started right now:
// the active-worker cap, spawn cooldown, and daily budget must all permit
// it.
func (l *Limiter) CanSpawnWorker(ctx context.Context) (bool, error) {
	status, err := l.GetStatus(ctx)
	if err != nil {
		return false, err
	}
	return status.CanSpawn, nil
}

// RecordSpawn atomically increments activeWorkers and stamps lastSpawn,
// called by the Worker Supervisor's spawn after a container starts
// successfully.
func (l *Limiter) RecordSpawn(ctx context.Context) error {
	if _, err := l.store.Incr(ctx, keyActiveWorkers); err != nil {
		return fmt.Errorf("ratelimit: record spawn: %w", err)
	}
	if err := l.store.Set(ctx, keyLastSpawnMs, strconv.FormatInt(l.now().UnixMilli(), 10)); err != nil {
		return fmt.Errorf("ratelimit: record spawn: %w", err)
	}
	return nil
}

// RecordWorkerDone decrements activeWorkers, clamped at zero so a stray
// extra decrement self-heals rather than going negative.
func (l *Limiter) RecordWorkerDone(ctx context.Context) error {
	v, err := l.store.Decr(ctx, keyActiveWorkers)
	if err != nil {
		return fmt.Errorf("ratelimit: record worker done: %w", err)
	}
	if v < 0 {
		if err := l.store.Set(ctx, keyActiveWorkers, "0"); err != nil {
			return fmt.Errorf("ratelimit: clamp active workers: %w", err)
		}
	}
	return nil
}

// RecordIteration increments dailyIterations after applying day-rollover,
// called by heartbeat when a worker's iteration counter advances.
func (l *Limiter) RecordIteration(ctx context.Context) error {
	if err := l.checkDailyReset(ctx); err != nil {
		return err
	}
	if _, err := l.store.Incr(ctx, keyDailyIterations); err != nil {
		return fmt.Errorf("ratelimit: record iteration: %w", err)
	}
	return nil
}

// checkDailyReset resets dailyIterations to zero and stamps today's date
// if the stored reset date differs from today (UTC). A racing double-reset
// is harmless: it leaves the counter at zero either way.
func (l *Limiter) checkDailyReset(ctx context.Context) error {
	today := l.now().UTC().Format("2006-01-02")
	prev, err := l.store.GetSet(ctx, keyDailyResetDate, today)
	if err != nil {
		return fmt.Errorf("ratelimit: check daily reset: %w", err)
	}
	if prev == today {
		return nil
	}
	if err := l.store.Set(ctx, keyDailyIterations, "0"); err != nil {
		return fmt.Errorf("ratelimit: reset daily iterations: %w", err)
	}
	return nil
}

// GetStatus snapshots every counter plus the derived CanSpawn verdict,
// applying day-rollover first so the budget read is never stale.
func (l *Limiter) GetStatus(ctx context.Context) (types.RateStatus, error) {
	if err := l.checkDailyReset(ctx); err != nil {
		return types.RateStatus{}, err
	}

	activeWorkers, err := l.getInt(ctx, keyActiveWorkers)
	if err != nil {
		return types.RateStatus{}, err
	}
	lastSpawnMs, err := l.getInt64(ctx, keyLastSpawnMs)
	if err != nil {
		return types.RateStatus{}, err
	}
	dailyIterations, err := l.getInt(ctx, keyDailyIterations)
	if err != nil {
		return types.RateStatus{}, err
	}
	resetDate, _, err := l.store.Get(ctx, keyDailyResetDate)
	if err != nil {
		return types.RateStatus{}, fmt.Errorf("ratelimit: get status: %w", err)
	}

	now := l.now()
	cooldownElapsed := lastSpawnMs == 0 ||
		now.Sub(time.UnixMilli(lastSpawnMs)) >= time.Duration(l.cfg.CooldownSeconds)*time.Second

	canSpawn := activeWorkers < l.cfg.MaxWorkers &&
		cooldownElapsed &&
		dailyIterations < l.cfg.DailyBudget

	return types.RateStatus{
		RateCounters: types.RateCounters{
			ActiveWorkers:   activeWorkers,
			LastSpawnMs:     lastSpawnMs,
			DailyIterations: dailyIterations,
			DailyResetDate:  resetDate,
		},
		MaxWorkers:      l.cfg.MaxWorkers,
		DailyBudget:     l.cfg.DailyBudget,
		CooldownSeconds: l.cfg.CooldownSeconds,
		CanSpawn:        canSpawn,
	}, nil
}

func (l *Limiter) getInt(ctx context.Context, key string) (int, error) {
	v, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("ratelimit: get %s: %w", key, err)
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, nil
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}

func (l *Limiter) getInt64(ctx context.Context, key string) (int64, error) {
	v, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("ratelimit: get %s: %w", key, err)
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}
