package supervisor_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefactory/orchestrator/pkg/conflict"
	"github.com/codefactory/orchestrator/pkg/events"
	"github.com/codefactory/orchestrator/pkg/fastore/fastoretest"
	"github.com/codefactory/orchestrator/pkg/gateway/gatewaytest"
	"github.com/codefactory/orchestrator/pkg/ratelimit"
	"github.com/codefactory/orchestrator/pkg/runtime/runtimetest"
	"github.com/codefactory/orchestrator/pkg/supervisor"
	"github.com/codefactory/orchestrator/pkg/types"
	"github.com/codefactory/orchestrator/pkg/workerauth"
)

func newHarness(t *testing.T, clock time.Time) (*supervisor.Supervisor, *gatewaytest.Gateway, *runtimetest.Runtime) {
	t.Helper()
	store := gatewaytest.New()
	rt := runtimetest.New()
	arb := conflict.New(store)
	lim := ratelimit.New(fastoretest.New(), ratelimit.Config{MaxWorkers: 5, DailyBudget: 200, CooldownSeconds: 0}, func() time.Time { return clock })
	broker := events.NewBroker()

	sup := supervisor.New(store, arb, lim, rt, broker, supervisor.Config{
		WorkerImage:            "codefactory/agent-worker:latest",
		OrchestratorURL:        "http://localhost:8080",
		VerificationMaxRetries: 3,
		ExecutionMaxRetries:    3,
		Backoff: func(n int) time.Duration {
			schedule := []time.Duration{time.Minute, 5 * time.Minute, 30 * time.Minute}
			if n-1 >= len(schedule) {
				return schedule[len(schedule)-1]
			}
			return schedule[n-1]
		},
		StaleThresholdSeconds: 300,
	}, func() time.Time { return clock }, zerolog.Nop())

	return sup, store, rt
}

func seedQueuedItem(t *testing.T, store *gatewaytest.Gateway, maxIterations int) types.WorkItem {
	t.Helper()
	spec := "# do the thing"
	item := types.WorkItem{
		ID:            "item-1",
		Repo:          "acme/repo",
		Branch:        "factory/item-1",
		Type:          types.WorkItemExecution,
		Spec:          &spec,
		Status:        types.StatusQueued,
		Priority:      types.PriorityMedium,
		MaxIterations: maxIterations,
		Metadata:      types.Metadata{},
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	require.NoError(t, store.InsertWorkItem(context.Background(), item))
	return item
}

func TestSpawn_HappyPath(t *testing.T) {
	clock := time.Now()
	sup, store, _ := newHarness(t, clock)
	item := seedQueuedItem(t, store, 10)

	result, err := sup.Spawn(context.Background(), item)
	require.NoError(t, err)
	assert.NotEmpty(t, result.WorkerID)
	assert.NotEmpty(t, result.ContainerID)

	got, err := store.GetWorkItem(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusInProgress, got.Status)
	assert.Equal(t, result.WorkerID, *got.WorkerID)

	worker, err := store.GetWorker(context.Background(), result.WorkerID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStarting, worker.Status)
}

func TestSpawn_RollsBackOnContainerStartFailure(t *testing.T) {
	clock := time.Now()
	sup, store, rt := newHarness(t, clock)
	item := seedQueuedItem(t, store, 10)
	rt.FailStart = true

	_, err := sup.Spawn(context.Background(), item)
	require.Error(t, err)

	got, err := store.GetWorkItem(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusQueued, got.Status, "work item must roll back to queued")
	assert.Nil(t, got.WorkerID)
}

func TestSpawn_MountsWorkspaceRootWhenConfigured(t *testing.T) {
	clock := time.Now()
	store := gatewaytest.New()
	rt := runtimetest.New()
	arb := conflict.New(store)
	lim := ratelimit.New(fastoretest.New(), ratelimit.Config{MaxWorkers: 5, DailyBudget: 200, CooldownSeconds: 0}, func() time.Time { return clock })
	broker := events.NewBroker()

	sup := supervisor.New(store, arb, lim, rt, broker, supervisor.Config{
		WorkerImage:           "codefactory/agent-worker:latest",
		OrchestratorURL:       "http://localhost:8080",
		StaleThresholdSeconds: 300,
		WorkspaceRoot:         "/var/lib/factory/workspaces",
	}, func() time.Time { return clock }, zerolog.Nop())

	item := seedQueuedItem(t, store, 10)
	_, err := sup.Spawn(context.Background(), item)
	require.NoError(t, err)

	require.Len(t, rt.LastSpec.Mounts, 1)
	assert.Equal(t, "/var/lib/factory/workspaces/acme/repo", rt.LastSpec.Mounts[0].Source)
	assert.Equal(t, "/workspace", rt.LastSpec.Mounts[0].Destination)
}

func TestHeartbeat_RequiresActiveWorker(t *testing.T) {
	clock := time.Now()
	sup, store, _ := newHarness(t, clock)
	item := seedQueuedItem(t, store, 10)
	result, err := sup.Spawn(context.Background(), item)
	require.NoError(t, err)

	require.NoError(t, sup.Heartbeat(context.Background(), result.WorkerID, 1))

	require.NoError(t, sup.Complete(context.Background(), result.WorkerID, supervisor.CompletePayload{ExitCode: 0}))

	err = sup.Heartbeat(context.Background(), result.WorkerID, 2)
	require.Error(t, err, "heartbeat on a completed worker must fail")
}

func TestComplete_ExecutionItemSetsPRFields(t *testing.T) {
	clock := time.Now()
	sup, store, _ := newHarness(t, clock)
	item := seedQueuedItem(t, store, 10)
	result, err := sup.Spawn(context.Background(), item)
	require.NoError(t, err)

	prNumber := 42
	prURL := "https://example.com/pr/42"
	require.NoError(t, sup.Complete(context.Background(), result.WorkerID, supervisor.CompletePayload{
		ExitCode: 0,
		PRNumber: &prNumber,
		PRURL:    &prURL,
	}))

	got, err := store.GetWorkItem(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, got.Status)
	require.NotNil(t, got.PRNumber)
	assert.Equal(t, 42, *got.PRNumber)
}

func TestFail_RequeuesWithBackoffUnderRetryBudget(t *testing.T) {
	clock := time.Now()
	sup, store, _ := newHarness(t, clock)
	item := seedQueuedItem(t, store, 10)
	result, err := sup.Spawn(context.Background(), item)
	require.NoError(t, err)

	require.NoError(t, sup.Fail(context.Background(), result.WorkerID, "boom", 1))

	got, err := store.GetWorkItem(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusQueued, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.NextRetryAt)
	assert.True(t, got.NextRetryAt.After(clock))
}

func TestFail_PermanentlyFailsOnceRetriesExhausted(t *testing.T) {
	clock := time.Now()
	sup, store, _ := newHarness(t, clock)

	item := seedQueuedItem(t, store, 10)
	item.RetryCount = 3 // already at ExecutionMaxRetries
	require.NoError(t, store.InsertWorkItem(context.Background(), item))

	result, err := sup.Spawn(context.Background(), item)
	require.NoError(t, err)

	require.NoError(t, sup.Fail(context.Background(), result.WorkerID, "boom again", 1))

	got, err := store.GetWorkItem(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, got.Status)
}

func TestStuck_DoesNotChangeWorkItemStatusOrDecrementActiveWorkers(t *testing.T) {
	clock := time.Now()
	store := gatewaytest.New()
	lim := ratelimit.New(fastoretest.New(), ratelimit.Config{MaxWorkers: 5, DailyBudget: 200, CooldownSeconds: 0}, func() time.Time { return clock })
	sup := supervisor.New(store, conflict.New(store), lim, runtimetest.New(), events.NewBroker(), supervisor.Config{
		WorkerImage:           "codefactory/agent-worker:latest",
		OrchestratorURL:       "http://localhost:8080",
		StaleThresholdSeconds: 300,
	}, func() time.Time { return clock }, zerolog.Nop())
	item := seedQueuedItem(t, store, 10)
	result, err := sup.Spawn(context.Background(), item)
	require.NoError(t, err)

	require.NoError(t, sup.Stuck(context.Background(), result.WorkerID, "no heartbeat", 3))

	worker, err := store.GetWorker(context.Background(), result.WorkerID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStuck, worker.Status)

	got, err := store.GetWorkItem(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusInProgress, got.Status, "stuck must not change work item status")
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "Worker stuck")

	rate, err := lim.GetStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rate.ActiveWorkers, "stuck must not decrement the active-worker count")
}

func TestKill_RequeuesWhenUnderIterationCeiling(t *testing.T) {
	clock := time.Now()
	sup, store, _ := newHarness(t, clock)
	item := seedQueuedItem(t, store, 10)
	result, err := sup.Spawn(context.Background(), item)
	require.NoError(t, err)

	require.NoError(t, sup.Kill(context.Background(), result.WorkerID, "stale heartbeat"))

	worker, err := store.GetWorker(context.Background(), result.WorkerID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerKilled, worker.Status)

	got, err := store.GetWorkItem(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusQueued, got.Status)
}

func TestHealthCheck_ReturnsStaleWorkers(t *testing.T) {
	clock := time.Now()
	sup, store, _ := newHarness(t, clock)
	item := seedQueuedItem(t, store, 10)
	_, err := sup.Spawn(context.Background(), item)
	require.NoError(t, err)

	stale, err := sup.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stale, "freshly spawned worker must not be stale")
}

func TestHealthCheck_DefersKillWhenLivenessProbeSucceeds(t *testing.T) {
	clock := time.Now()
	store := gatewaytest.New()
	rt := runtimetest.New()
	arb := conflict.New(store)
	lim := ratelimit.New(fastoretest.New(), ratelimit.Config{MaxWorkers: 5, DailyBudget: 200, CooldownSeconds: 0}, func() time.Time { return clock })
	broker := events.NewBroker()

	sup := supervisor.New(store, arb, lim, rt, broker, supervisor.Config{
		WorkerImage:           "codefactory/agent-worker:latest",
		OrchestratorURL:       "http://localhost:8080",
		StaleThresholdSeconds: 300,
		LivenessProbeCommand:  []string{"true"},
	}, func() time.Time { return clock }, zerolog.Nop())

	item := seedQueuedItem(t, store, 10)
	result, err := sup.Spawn(context.Background(), item)
	require.NoError(t, err)
	require.NotEmpty(t, result.ContainerID)

	clock = clock.Add(10 * time.Minute)

	stale, err := sup.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stale, "a worker whose container still answers the liveness probe must not be reported as stale")

	worker, err := store.GetWorker(context.Background(), result.WorkerID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStarting, worker.Status, "deferring the kill must not itself change worker status")
}

func TestHealthCheck_SurfacesStuckWorkersOlderThanStuckTimeout(t *testing.T) {
	clock := time.Now()
	store := gatewaytest.New()
	rt := runtimetest.New()
	arb := conflict.New(store)
	lim := ratelimit.New(fastoretest.New(), ratelimit.Config{MaxWorkers: 5, DailyBudget: 200, CooldownSeconds: 0}, func() time.Time { return clock })
	broker := events.NewBroker()

	sup := supervisor.New(store, arb, lim, rt, broker, supervisor.Config{
		WorkerImage:           "codefactory/agent-worker:latest",
		OrchestratorURL:       "http://localhost:8080",
		StaleThresholdSeconds: 300,
		StuckTimeoutSeconds:   60,
	}, func() time.Time { return clock }, zerolog.Nop())

	item := seedQueuedItem(t, store, 10)
	result, err := sup.Spawn(context.Background(), item)
	require.NoError(t, err)

	require.NoError(t, sup.Stuck(context.Background(), result.WorkerID, "no progress", 3))

	eligible, err := sup.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.Empty(t, eligible, "a worker just marked stuck must not be immediately kill-eligible")

	clock = clock.Add(2 * time.Minute)

	eligible, err = sup.HealthCheck(context.Background())
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, result.WorkerID, eligible[0].ID)
	assert.Equal(t, types.WorkerStuck, eligible[0].Status, "HealthCheck must not itself transition status; Kill does that")
}

func TestRegister_AdvancesExistingStartingWorker(t *testing.T) {
	clock := time.Now()
	sup, store, _ := newHarness(t, clock)
	item := seedQueuedItem(t, store, 10)
	result, err := sup.Spawn(context.Background(), item)
	require.NoError(t, err)

	regResult, err := sup.Register(context.Background(), item.ID, "")
	require.NoError(t, err)
	assert.Equal(t, result.WorkerID, regResult.Worker.ID)
	assert.Equal(t, types.WorkerRunning, regResult.Worker.Status)
}

func TestRegister_RecordsSelfReportedContainerID(t *testing.T) {
	clock := time.Now()
	sup, store, _ := newHarness(t, clock)
	item := seedQueuedItem(t, store, 10)
	_, err := sup.Spawn(context.Background(), item)
	require.NoError(t, err)

	regResult, err := sup.Register(context.Background(), item.ID, "containerd-abc123")
	require.NoError(t, err)
	require.NotNil(t, regResult.Worker.ContainerID)
	assert.Equal(t, "containerd-abc123", *regResult.Worker.ContainerID)
}

type fakeChainer struct {
	calls []string
}

func (f *fakeChainer) AddVerificationWorkItem(ctx context.Context, parent types.WorkItem, prNumber int) (types.WorkItem, error) {
	f.calls = append(f.calls, parent.ID)
	return types.WorkItem{ID: "verification-of-" + parent.ID, Type: types.WorkItemVerification, ParentWorkItemID: &parent.ID}, nil
}

func TestComplete_ChainsVerificationWhenRequested(t *testing.T) {
	clock := time.Now()
	sup, store, _ := newHarness(t, clock)
	chainer := &fakeChainer{}
	sup.SetVerificationChainer(chainer)

	item := seedQueuedItem(t, store, 10)
	result, err := sup.Spawn(context.Background(), item)
	require.NoError(t, err)

	prNumber := 7
	require.NoError(t, sup.Complete(context.Background(), result.WorkerID, supervisor.CompletePayload{
		ExitCode:          0,
		PRNumber:          &prNumber,
		ChainVerification: true,
	}))

	assert.Equal(t, []string{item.ID}, chainer.calls)
}

func TestComplete_DoesNotChainWithoutRequest(t *testing.T) {
	clock := time.Now()
	sup, store, _ := newHarness(t, clock)
	chainer := &fakeChainer{}
	sup.SetVerificationChainer(chainer)

	item := seedQueuedItem(t, store, 10)
	result, err := sup.Spawn(context.Background(), item)
	require.NoError(t, err)

	prNumber := 7
	require.NoError(t, sup.Complete(context.Background(), result.WorkerID, supervisor.CompletePayload{
		ExitCode: 0,
		PRNumber: &prNumber,
	}))

	assert.Empty(t, chainer.calls)
}

func TestSpawn_IssuesWorkerTokenWhenIssuerConfigured(t *testing.T) {
	clock := time.Now()
	sup, store, rt := newHarness(t, clock)
	issuer := workerauth.NewIssuer(time.Hour, func() time.Time { return clock })
	sup.SetTokenIssuer(issuer)

	item := seedQueuedItem(t, store, 10)
	result, err := sup.Spawn(context.Background(), item)
	require.NoError(t, err)

	var tokenValue string
	for _, e := range rt.LastSpec.Env {
		if v, ok := strings.CutPrefix(e, "FACTORY_TOKEN="); ok {
			tokenValue = v
		}
	}
	require.NotEmpty(t, tokenValue, "spawn must pass a FACTORY_TOKEN env var when a token issuer is configured")

	token, err := issuer.Validate(tokenValue)
	require.NoError(t, err)
	assert.Equal(t, result.WorkerID, token.WorkerID)
}

func TestKill_RevokesWorkerToken(t *testing.T) {
	clock := time.Now()
	sup, store, rt := newHarness(t, clock)
	issuer := workerauth.NewIssuer(time.Hour, func() time.Time { return clock })
	sup.SetTokenIssuer(issuer)

	item := seedQueuedItem(t, store, 10)
	result, err := sup.Spawn(context.Background(), item)
	require.NoError(t, err)

	var tokenValue string
	for _, e := range rt.LastSpec.Env {
		if v, ok := strings.CutPrefix(e, "FACTORY_TOKEN="); ok {
			tokenValue = v
		}
	}
	require.NotEmpty(t, tokenValue)

	require.NoError(t, sup.Kill(context.Background(), result.WorkerID, "stale heartbeat"))

	_, err = issuer.Validate(tokenValue)
	assert.Error(t, err, "revoked token must no longer validate")
}
