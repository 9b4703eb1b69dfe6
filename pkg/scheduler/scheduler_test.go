package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefactory/orchestrator/pkg/supervisor"
	"github.com/codefactory/orchestrator/pkg/types"
)

type fakeRate struct {
	canSpawn bool
	err      error
}

func (f *fakeRate) CanSpawnWorker(ctx context.Context) (bool, error) { return f.canSpawn, f.err }

type fakeQueue struct {
	mu    sync.Mutex
	items []types.WorkItem
}

func (f *fakeQueue) NextEligible(ctx context.Context) (types.WorkItem, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.items) == 0 {
		return types.WorkItem{}, false, nil
	}
	item := f.items[0]
	f.items = f.items[1:]
	return item, true, nil
}

type fakeSupervisor struct {
	mu        sync.Mutex
	spawned   []string
	killed    []string
	stale     []types.Worker
	spawnErr  error
	healthErr error
}

func (f *fakeSupervisor) Spawn(ctx context.Context, item types.WorkItem) (supervisor.SpawnResult, error) {
	if f.spawnErr != nil {
		return supervisor.SpawnResult{}, f.spawnErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spawned = append(f.spawned, item.ID)
	return supervisor.SpawnResult{WorkerID: "w-" + item.ID, ContainerID: "c-" + item.ID}, nil
}

func (f *fakeSupervisor) HealthCheck(ctx context.Context) ([]types.Worker, error) {
	if f.healthErr != nil {
		return nil, f.healthErr
	}
	return f.stale, nil
}

func (f *fakeSupervisor) Kill(ctx context.Context, workerID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, workerID)
	return nil
}

func (f *fakeSupervisor) snapshot() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.spawned...), append([]string(nil), f.killed...)
}

func TestRunTick_SpawnsExactlyOneEligibleItemWhenRateAllows(t *testing.T) {
	rate := &fakeRate{canSpawn: true}
	queue := &fakeQueue{items: []types.WorkItem{{ID: "item-1"}, {ID: "item-2"}}}
	sup := &fakeSupervisor{}

	sched := New(rate, queue, sup, time.Hour)
	sched.runTick(context.Background())

	spawned, _ := sup.snapshot()
	assert.Equal(t, []string{"item-1"}, spawned)
	assert.Len(t, queue.items, 1, "only one item is drained per tick")
}

func TestRunTick_SkipsSpawnWhenRateLimiterBlocks(t *testing.T) {
	rate := &fakeRate{canSpawn: false}
	queue := &fakeQueue{items: []types.WorkItem{{ID: "item-1"}}}
	sup := &fakeSupervisor{}

	sched := New(rate, queue, sup, time.Hour)
	sched.runTick(context.Background())

	spawned, _ := sup.snapshot()
	assert.Empty(t, spawned)
	assert.Len(t, queue.items, 1, "item must remain queued when rate limiter blocks")
}

func TestRunTick_NoEligibleItemsIsNotAnError(t *testing.T) {
	rate := &fakeRate{canSpawn: true}
	queue := &fakeQueue{}
	sup := &fakeSupervisor{}

	sched := New(rate, queue, sup, time.Hour)
	sched.runTick(context.Background())

	spawned, _ := sup.snapshot()
	assert.Empty(t, spawned)
}

func TestRunTick_KillsEveryStaleWorker(t *testing.T) {
	rate := &fakeRate{canSpawn: false}
	queue := &fakeQueue{}
	sup := &fakeSupervisor{stale: []types.Worker{{ID: "w1"}, {ID: "w2"}}}

	sched := New(rate, queue, sup, time.Hour)
	sched.runTick(context.Background())

	_, killed := sup.snapshot()
	assert.ElementsMatch(t, []string{"w1", "w2"}, killed)
}

func TestRunTick_SpawnErrorDoesNotSuppressHealthCheck(t *testing.T) {
	rate := &fakeRate{canSpawn: true}
	queue := &fakeQueue{items: []types.WorkItem{{ID: "item-1"}}}
	sup := &fakeSupervisor{spawnErr: errors.New("container create failed"), stale: []types.Worker{{ID: "w1"}}}

	sched := New(rate, queue, sup, time.Hour)
	sched.runTick(context.Background())

	_, killed := sup.snapshot()
	assert.Equal(t, []string{"w1"}, killed, "health check must still run after a failed spawn")
}

func TestStart_RunsOnRealTicker(t *testing.T) {
	rate := &fakeRate{canSpawn: true}
	queue := &fakeQueue{items: []types.WorkItem{{ID: "item-1"}}}
	sup := &fakeSupervisor{}

	sched := New(rate, queue, sup, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)

	require.Eventually(t, func() bool {
		spawned, _ := sup.snapshot()
		return len(spawned) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	sched.Stop()
}
