package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefactory/orchestrator/pkg/fastore/fastoretest"
	"github.com/codefactory/orchestrator/pkg/ratelimit"
)

func newLimiter(t *testing.T, cfg ratelimit.Config, now time.Time) (*ratelimit.Limiter, *fastoretest.Store) {
	t.Helper()
	store := fastoretest.New()
	clock := now
	return ratelimit.New(store, cfg, func() time.Time { return clock }), store
}

func TestCanSpawnWorker_UnderCap(t *testing.T) {
	lim, _ := newLimiter(t, ratelimit.Config{MaxWorkers: 2, DailyBudget: 200, CooldownSeconds: 60}, time.Now())
	can, err := lim.CanSpawnWorker(context.Background())
	require.NoError(t, err)
	assert.True(t, can)
}

func TestCanSpawnWorker_AtCap(t *testing.T) {
	ctx := context.Background()
	lim, _ := newLimiter(t, ratelimit.Config{MaxWorkers: 1, DailyBudget: 200, CooldownSeconds: 0}, time.Now())

	require.NoError(t, lim.RecordSpawn(ctx))

	can, err := lim.CanSpawnWorker(ctx)
	require.NoError(t, err)
	assert.False(t, can, "active workers already at MaxWorkers=1")
}

func TestCanSpawnWorker_Cooldown(t *testing.T) {
	ctx := context.Background()
	start := time.Now()
	lim, _ := newLimiter(t, ratelimit.Config{MaxWorkers: 5, DailyBudget: 200, CooldownSeconds: 60}, start)

	require.NoError(t, lim.RecordSpawn(ctx))

	can, err := lim.CanSpawnWorker(ctx)
	require.NoError(t, err)
	assert.False(t, can, "cooldown has not elapsed")
}

func TestCanSpawnWorker_DailyBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	lim, _ := newLimiter(t, ratelimit.Config{MaxWorkers: 5, DailyBudget: 2, CooldownSeconds: 0}, time.Now())

	require.NoError(t, lim.RecordIteration(ctx))
	require.NoError(t, lim.RecordIteration(ctx))

	can, err := lim.CanSpawnWorker(ctx)
	require.NoError(t, err)
	assert.False(t, can)
}

func TestRecordWorkerDone_ClampsAtZero(t *testing.T) {
	ctx := context.Background()
	lim, _ := newLimiter(t, ratelimit.Config{MaxWorkers: 2, DailyBudget: 200, CooldownSeconds: 0}, time.Now())

	require.NoError(t, lim.RecordWorkerDone(ctx))
	require.NoError(t, lim.RecordWorkerDone(ctx))

	status, err := lim.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.ActiveWorkers)
}

func TestDailyRollover_ResetsIterations(t *testing.T) {
	ctx := context.Background()
	store := fastoretest.New()
	day1 := time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)
	clock := day1
	lim := ratelimit.New(store, ratelimit.Config{MaxWorkers: 5, DailyBudget: 10, CooldownSeconds: 0}, func() time.Time { return clock })

	require.NoError(t, lim.RecordIteration(ctx))
	require.NoError(t, lim.RecordIteration(ctx))

	status, err := lim.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, status.DailyIterations)

	clock = day1.Add(2 * time.Hour) // crosses into 2026-01-02 UTC
	status, err = lim.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.DailyIterations, "iteration counter resets on UTC day rollover")
}
