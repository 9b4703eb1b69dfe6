package conflict_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefactory/orchestrator/pkg/conflict"
	"github.com/codefactory/orchestrator/pkg/gateway/gatewaytest"
)

func TestAcquireLocks_Disjoint(t *testing.T) {
	store := gatewaytest.New()
	arb := conflict.New(store)
	ctx := context.Background()

	result, err := arb.AcquireLocks(ctx, "worker-a", "acme/repo", []string{"a.go", "b.go"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.go", "b.go"}, result.Acquired)
	assert.Empty(t, result.Blocked)
}

func TestAcquireLocks_PartialConflictKeepsTheUnblockedGrant(t *testing.T) {
	store := gatewaytest.New()
	arb := conflict.New(store)
	ctx := context.Background()

	_, err := arb.AcquireLocks(ctx, "worker-1", "o/r", []string{"a.ts"})
	require.NoError(t, err)

	result, err := arb.AcquireLocks(ctx, "worker-2", "o/r", []string{"a.ts", "b.ts"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b.ts"}, result.Acquired)
	assert.ElementsMatch(t, []string{"a.ts"}, result.Blocked)

	holder, held, err := arb.GetLockHolder(ctx, "o/r", "b.ts")
	require.NoError(t, err)
	require.True(t, held, "partially granted lock must remain held: %+v", holder)
	assert.Equal(t, "worker-2", holder.WorkerID)
}

func TestAcquireLocks_SameWorkerReacquireIsIdempotent(t *testing.T) {
	store := gatewaytest.New()
	arb := conflict.New(store)
	ctx := context.Background()

	_, err := arb.AcquireLocks(ctx, "worker-1", "o/r", []string{"a.ts", "b.ts"})
	require.NoError(t, err)

	result, err := arb.AcquireLocks(ctx, "worker-1", "o/r", []string{"a.ts", "b.ts"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.ts", "b.ts"}, result.Acquired)
	assert.Empty(t, result.Blocked)
}

func TestReleaseAllLocks(t *testing.T) {
	store := gatewaytest.New()
	arb := conflict.New(store)
	ctx := context.Background()

	_, err := arb.AcquireLocks(ctx, "worker-a", "acme/repo", []string{"a.go", "b.go"})
	require.NoError(t, err)

	require.NoError(t, arb.ReleaseAllLocks(ctx, "worker-a"))

	locks, err := arb.GetLocksForWorker(ctx, "worker-a")
	require.NoError(t, err)
	assert.Empty(t, locks)
}

func TestGetLockHolder_Unlocked(t *testing.T) {
	store := gatewaytest.New()
	arb := conflict.New(store)
	ctx := context.Background()

	_, held, err := arb.GetLockHolder(ctx, "acme/repo", "nope.go")
	require.NoError(t, err)
	assert.False(t, held)
}
