// Package supervisor is the Worker Supervisor: the richest subsystem in
// the orchestration kernel. It owns the full lifecycle of a single
// execution attempt — spawn, self-registration, heartbeats, completion,
// failure with backoff, stuck detection, and forceful kill — coordinating
// the Persistence Gateway, the Conflict Arbiter, the Rate Limiter, and the
// container Runtime so that no terminal transition ever leaks a lock or
// leaves a rate-limiter counter out of sync.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/codefactory/orchestrator/pkg/apierr"
	"github.com/codefactory/orchestrator/pkg/conflict"
	"github.com/codefactory/orchestrator/pkg/events"
	"github.com/codefactory/orchestrator/pkg/gateway"
	"github.com/codefactory/orchestrator/pkg/livecheck"
	"github.com/codefactory/orchestrator/pkg/ratelimit"
	"github.com/codefactory/orchestrator/pkg/runtime"
	"github.com/codefactory/orchestrator/pkg/types"
	"github.com/codefactory/orchestrator/pkg/workerauth"
)

// Store is the subset of pkg/gateway.Gateway the supervisor depends on.
type Store interface {
	GetWorkItem(ctx context.Context, id string) (types.WorkItem, error)
	SpawnWorkItem(ctx context.Context, id, workerID string) error
	RollbackSpawn(ctx context.Context, id string) error
	CompleteWorkItem(ctx context.Context, id string, prNumber *int, prURL *string, verificationPassed *bool) error
	FailWorkItem(ctx context.Context, id, errMsg string) error
	RetryWorkItem(ctx context.Context, id string, retryCount, iteration int, nextRetryAt *time.Time) error
	MergeVerificationStatusIntoParent(ctx context.Context, parentID string, vs types.VerificationStatus) error
	AppendWorkItemError(ctx context.Context, id, msg string) error

	InsertWorker(ctx context.Context, w types.Worker) error
	GetWorker(ctx context.Context, id string) (types.Worker, error)
	HeartbeatWorkerIteration(ctx context.Context, id string, iteration int) error
	RegisterWorker(ctx context.Context, id, containerID string) error
	SetWorkerContainerID(ctx context.Context, id, containerID string) error
	AdvanceWorkerToRunning(ctx context.Context, id string) error
	CompleteWorker(ctx context.Context, id string, exitCode int) error
	FailWorker(ctx context.Context, id, errMsg string, exitCode int) error
	StuckWorker(ctx context.Context, id string) error
	KillWorker(ctx context.Context, id string) error
	StaleWorkers(ctx context.Context, cutoff time.Time) ([]types.Worker, error)
	StuckWorkers(ctx context.Context, cutoff time.Time) ([]types.Worker, error)

	InsertMetricRecord(ctx context.Context, m types.MetricRecord) error
	InsertPRReview(ctx context.Context, r types.PRReview) error
}

// VerificationChainer is the narrow slice of pkg/queue.Manager the
// supervisor needs to chain a follow-up verification item onto a
// completed execution item. It's optional: a nil chainer simply skips
// chaining, so the supervisor can be constructed and tested without a
// queue.Manager in scope.
type VerificationChainer interface {
	AddVerificationWorkItem(ctx context.Context, parent types.WorkItem, prNumber int) (types.WorkItem, error)
}

// Config is the policy the supervisor applies to spawns and retries.
type Config struct {
	WorkerImage            string
	OrchestratorURL        string
	WorkerMemoryBytes      int64
	WorkerCPUCores         float64
	WorkerPIDLimit         int
	VerificationMaxRetries int
	ExecutionMaxRetries    int
	Backoff                func(n int) time.Duration
	StaleThresholdSeconds  int

	// StuckTimeoutSeconds bounds how long a self-reported stuck worker is
	// given before HealthCheck surfaces it as kill-eligible. Stuck workers
	// never auto-clear back to running, so without this timeout they would
	// occupy an active-worker slot forever.
	StuckTimeoutSeconds int

	// WorkspaceRoot is the host directory under which each repo's working
	// tree is checked out (one subdirectory per repo). When set, it is
	// bind-mounted read-write into the spawned worker container at
	// workspaceMountPath. Empty disables the mount, leaving the worker
	// image responsible for its own checkout.
	WorkspaceRoot string

	// LivenessProbeCommand, when non-empty, is exec'd inside a heartbeat-
	// stale worker's container before HealthCheck reports it for killing.
	// A worker whose container still answers the probe is given another
	// stale-threshold window rather than being killed on a lagging
	// heartbeat alone. Empty disables probing: staleness is decided purely
	// by heartbeat age, as if no container-level check existed.
	LivenessProbeCommand []string
}

const workspaceMountPath = "/workspace"

// Supervisor implements the Worker Supervisor's public contract.
type Supervisor struct {
	store        Store
	conflict     *conflict.Arbiter
	rate         *ratelimit.Limiter
	runtime      runtime.Runtime
	events       *events.Broker
	verification VerificationChainer
	tokens       *workerauth.Issuer
	cfg          Config
	now          func() time.Time
	logger       zerolog.Logger

	livenessMu     sync.Mutex
	livenessStatus map[string]*livecheck.Status
}

// New builds a Supervisor. Verification chaining is disabled until
// SetVerificationChainer is called.
func New(store Store, arbiter *conflict.Arbiter, rate *ratelimit.Limiter, rt runtime.Runtime, broker *events.Broker, cfg Config, now func() time.Time, logger zerolog.Logger) *Supervisor {
	if now == nil {
		now = time.Now
	}
	return &Supervisor{
		store:          store,
		conflict:       arbiter,
		rate:           rate,
		runtime:        rt,
		events:         broker,
		cfg:            cfg,
		now:            now,
		logger:         logger.With().Str("component", "supervisor").Logger(),
		livenessStatus: make(map[string]*livecheck.Status),
	}
}

// SetVerificationChainer wires the queue manager this supervisor uses to
// chain a verification item after a qualifying execution completion. The
// composition root calls this once after constructing both, avoiding a
// constructor-time cycle between pkg/supervisor and pkg/queue.
func (s *Supervisor) SetVerificationChainer(c VerificationChainer) {
	s.verification = c
}

// SetTokenIssuer wires the bearer-token issuer used to mint a worker's
// callback credential at spawn/registration time. A nil issuer (the
// default) means spawned workers receive no FACTORY_TOKEN and the HTTP
// adapter must run its worker routes without auth middleware.
func (s *Supervisor) SetTokenIssuer(issuer *workerauth.Issuer) {
	s.tokens = issuer
}

// SpawnResult is returned by Spawn.
type SpawnResult struct {
	WorkerID    string
	ContainerID string
}

// Spawn creates a Worker row, flips the work item to in_progress, and
// starts a container realizing it. Any failure in container creation or
// start rolls back the Worker row and the WorkItem's status; the
// originating error is always what's returned, even if rollback itself
// also fails (rollback failures are only logged).
func (s *Supervisor) Spawn(ctx context.Context, item types.WorkItem) (SpawnResult, error) {
	workerID := uuid.NewString()
	now := s.now()

	worker := types.Worker{
		ID:            workerID,
		WorkItemID:    item.ID,
		Status:        types.WorkerStarting,
		Iteration:     0,
		LastHeartbeat: now,
		StartedAt:     now,
	}
	if err := s.store.InsertWorker(ctx, worker); err != nil {
		return SpawnResult{}, fmt.Errorf("supervisor: spawn: insert worker: %w", err)
	}

	if err := s.store.SpawnWorkItem(ctx, item.ID, workerID); err != nil {
		return SpawnResult{}, fmt.Errorf("supervisor: spawn: mark in_progress: %w", err)
	}

	mode := "execution"
	if item.IsVerification() {
		mode = "verification"
	}
	spec := ""
	if item.Spec != nil {
		spec = *item.Spec
	}

	env := []string{
		"FACTORY_WORK_ITEM_ID=" + item.ID,
		"FACTORY_WORKER_ID=" + workerID,
		"FACTORY_ORCHESTRATOR_URL=" + s.cfg.OrchestratorURL,
		"FACTORY_MODE=" + mode,
		"FACTORY_SPEC=" + spec,
	}
	if s.tokens != nil {
		token, err := s.tokens.Issue(workerID, item.ID)
		if err != nil {
			s.logger.Warn().Err(err).Str("workerId", workerID).Msg("failed to issue worker token")
		} else {
			env = append(env, "FACTORY_TOKEN="+token.Value)
		}
	}

	var mounts []runtime.Mount
	if s.cfg.WorkspaceRoot != "" {
		mounts = []runtime.Mount{{
			Source:      filepath.Join(s.cfg.WorkspaceRoot, item.Repo),
			Destination: workspaceMountPath,
		}}
	}

	handle, err := s.runtime.CreateContainer(ctx, runtime.CreateSpec{
		ID:          "worker-" + workerID,
		Image:       s.cfg.WorkerImage,
		Env:         env,
		MemoryBytes: s.cfg.WorkerMemoryBytes,
		CPUCores:    s.cfg.WorkerCPUCores,
		PIDLimit:    s.cfg.WorkerPIDLimit,
		Network:     "factory-worker",
		Mounts:      mounts,
	})
	if err != nil {
		s.rollbackSpawn(ctx, item.ID, workerID, err)
		return SpawnResult{}, fmt.Errorf("supervisor: spawn: create container: %w", err)
	}

	if err := handle.Start(ctx); err != nil {
		s.rollbackSpawn(ctx, item.ID, workerID, err)
		return SpawnResult{}, fmt.Errorf("supervisor: spawn: start container: %w", err)
	}

	if err := s.store.SetWorkerContainerID(ctx, workerID, handle.ID()); err != nil {
		s.logger.Warn().Err(err).Str("workerId", workerID).Msg("failed to record container id")
	}

	if err := s.rate.RecordSpawn(ctx); err != nil {
		s.logger.Warn().Err(err).Str("workerId", workerID).Msg("failed to record spawn with rate limiter")
	}

	s.events.Publish(&events.Event{
		Type:       events.EventWorkerSpawned,
		WorkItemID: item.ID,
		WorkerID:   workerID,
		Message:    fmt.Sprintf("worker %s spawned for %s", workerID, item.ID),
	})

	return SpawnResult{WorkerID: workerID, ContainerID: handle.ID()}, nil
}

func (s *Supervisor) rollbackSpawn(ctx context.Context, workItemID, workerID string, cause error) {
	if err := s.store.RollbackSpawn(ctx, workItemID); err != nil {
		s.logger.Error().Err(err).Str("workItemId", workItemID).Err(cause).Msg("rollback: failed to reset work item to queued")
	}
	if err := s.store.KillWorker(ctx, workerID); err != nil {
		s.logger.Error().Err(err).Str("workerId", workerID).Msg("rollback: failed to mark worker killed")
	}
}

// RegisterResult is returned by Register. Token is only set when a token
// issuer is configured and a new self-registration path was taken; a
// worker that was already spawned keeps the token it was issued at spawn
// time and Token is empty here.
type RegisterResult struct {
	Worker   types.Worker
	WorkItem types.WorkItem
	Token    string
}

// Register is how a worker self-announces after container startup. If a
// Worker row already exists for workItemID in starting or running, it's
// advanced to running with a refreshed heartbeat; otherwise a new Worker
// row is created directly in running. This self-registration path exists
// because a worker may start and call home before the Supervisor's own
// spawn bookkeeping is visible to it (or spawn was never called in test /
// operator scenarios), and is intentionally permissive rather than
// treated as an error. containerID is optional: a worker that knows its
// own container identity (e.g. reading it from cgroup info) can report it
// here, which takes precedence over whatever Spawn recorded.
func (s *Supervisor) Register(ctx context.Context, workItemID, containerID string) (RegisterResult, error) {
	item, err := s.store.GetWorkItem(ctx, workItemID)
	if err != nil {
		return RegisterResult{}, s.translateNotFound(err, "work item %s not found", workItemID)
	}

	if item.WorkerID != nil {
		worker, err := s.store.GetWorker(ctx, *item.WorkerID)
		if err == nil && worker.Status.IsActive() {
			if worker.Status == types.WorkerStarting && containerID != "" {
				if err := s.store.RegisterWorker(ctx, worker.ID, containerID); err != nil && !errors.Is(err, gateway.ErrNotFound) {
					return RegisterResult{}, fmt.Errorf("supervisor: register: %w", err)
				}
				worker.ContainerID = &containerID
			} else {
				if err := s.store.AdvanceWorkerToRunning(ctx, worker.ID); err != nil && !errors.Is(err, gateway.ErrNotFound) {
					return RegisterResult{}, fmt.Errorf("supervisor: register: %w", err)
				}
				if containerID != "" {
					if err := s.store.SetWorkerContainerID(ctx, worker.ID, containerID); err != nil && !errors.Is(err, gateway.ErrNotFound) {
						s.logger.Warn().Err(err).Str("workerId", worker.ID).Msg("failed to record self-reported container id")
					} else {
						worker.ContainerID = &containerID
					}
				}
			}
			worker.Status = types.WorkerRunning
			worker.LastHeartbeat = s.now()
			return RegisterResult{Worker: worker, WorkItem: item}, nil
		}
	}

	now := s.now()
	workerID := uuid.NewString()
	worker := types.Worker{
		ID:            workerID,
		WorkItemID:    workItemID,
		Status:        types.WorkerRunning,
		Iteration:     0,
		LastHeartbeat: now,
		StartedAt:     now,
	}
	if containerID != "" {
		worker.ContainerID = &containerID
	}
	if err := s.store.InsertWorker(ctx, worker); err != nil {
		return RegisterResult{}, fmt.Errorf("supervisor: register: insert worker: %w", err)
	}
	if err := s.store.SpawnWorkItem(ctx, workItemID, workerID); err != nil && !errors.Is(err, gateway.ErrNotFound) {
		return RegisterResult{}, fmt.Errorf("supervisor: register: mark in_progress: %w", err)
	}

	var tokenValue string
	if s.tokens != nil {
		token, err := s.tokens.Issue(workerID, workItemID)
		if err != nil {
			s.logger.Warn().Err(err).Str("workerId", workerID).Msg("failed to issue worker token")
		} else {
			tokenValue = token.Value
		}
	}

	s.events.Publish(&events.Event{
		Type:       events.EventWorkerRegistered,
		WorkItemID: workItemID,
		WorkerID:   workerID,
	})

	item.WorkerID = &workerID
	item.Status = types.StatusInProgress
	return RegisterResult{Worker: worker, WorkItem: item, Token: tokenValue}, nil
}

// Heartbeat refreshes a worker's liveness and, if this iteration advances
// past the last recorded one, records one unit against the daily budget.
// Multiple heartbeats within the same iteration are free.
func (s *Supervisor) Heartbeat(ctx context.Context, workerID string, iteration int) error {
	worker, err := s.store.GetWorker(ctx, workerID)
	if err != nil {
		return s.translateNotFound(err, "worker %s not found", workerID)
	}
	if !worker.Status.IsActive() {
		return apierr.InvalidState("worker %s is not active", workerID)
	}

	if err := s.store.HeartbeatWorkerIteration(ctx, workerID, iteration); err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return apierr.InvalidState("worker %s is not active", workerID)
		}
		return fmt.Errorf("supervisor: heartbeat: %w", err)
	}

	if iteration > worker.Iteration {
		if err := s.rate.RecordIteration(ctx); err != nil {
			s.logger.Warn().Err(err).Str("workerId", workerID).Msg("failed to record iteration")
		}
	}

	s.events.Publish(&events.Event{Type: events.EventWorkerHeartbeat, WorkerID: workerID, WorkItemID: worker.WorkItemID})
	return nil
}

// ReviewInput is a worker's optional, opaque PR-review side effect —
// persisted verbatim alongside completion, never interpreted by the
// supervisor itself.
type ReviewInput struct {
	Body     string
	Approved bool
}

// CompletePayload carries a worker's self-reported completion result.
type CompletePayload struct {
	ExitCode           int
	PRNumber           *int
	PRURL              *string
	VerificationPassed *bool
	ChainVerification  bool
	Metrics            *types.MetricRecord
	Review             *ReviewInput
}

// Complete transitions a worker and its work item to their terminal
// success states, releasing locks and decrementing the rate limiter's
// active-worker count regardless of which branch (execution/verification)
// is taken.
func (s *Supervisor) Complete(ctx context.Context, workerID string, payload CompletePayload) error {
	worker, err := s.store.GetWorker(ctx, workerID)
	if err != nil {
		return s.translateNotFound(err, "worker %s not found", workerID)
	}
	if !worker.Status.IsActive() {
		return apierr.InvalidState("worker %s is not active", workerID)
	}

	item, err := s.store.GetWorkItem(ctx, worker.WorkItemID)
	if err != nil {
		return fmt.Errorf("supervisor: complete: load work item: %w", err)
	}

	if err := s.store.CompleteWorker(ctx, workerID, payload.ExitCode); err != nil {
		return fmt.Errorf("supervisor: complete: %w", err)
	}

	if item.IsVerification() {
		if err := s.store.CompleteWorkItem(ctx, item.ID, nil, nil, payload.VerificationPassed); err != nil {
			s.logger.Error().Err(err).Str("workItemId", item.ID).Msg("failed to complete verification work item")
		}
		if item.ParentWorkItemID != nil {
			vs := types.VerificationStatus{
				Passed:                 payload.VerificationPassed,
				VerificationWorkItemID: item.ID,
			}
			now := s.now()
			vs.CompletedAt = &now
			if err := s.store.MergeVerificationStatusIntoParent(ctx, *item.ParentWorkItemID, vs); err != nil {
				s.logger.Warn().Err(err).Str("parentWorkItemId", *item.ParentWorkItemID).Msg("failed to merge verification status")
			}
		}
	} else {
		if err := s.store.CompleteWorkItem(ctx, item.ID, payload.PRNumber, payload.PRURL, nil); err != nil {
			s.logger.Error().Err(err).Str("workItemId", item.ID).Msg("failed to complete work item")
		}

		if payload.Review != nil && payload.PRNumber != nil {
			review := types.PRReview{
				ID:         uuid.NewString(),
				WorkItemID: item.ID,
				PRNumber:   *payload.PRNumber,
				Body:       payload.Review.Body,
				Approved:   payload.Review.Approved,
				CreatedAt:  s.now(),
			}
			if err := s.store.InsertPRReview(ctx, review); err != nil {
				s.logger.Warn().Err(err).Str("workItemId", item.ID).Msg("failed to persist pr review")
			}
		}

		if s.verification != nil && payload.ChainVerification && payload.PRNumber != nil {
			if _, err := s.verification.AddVerificationWorkItem(ctx, item, *payload.PRNumber); err != nil {
				s.logger.Warn().Err(err).Str("workItemId", item.ID).Msg("failed to chain verification work item")
			}
		}
	}

	if err := s.conflict.ReleaseAllLocks(ctx, workerID); err != nil {
		s.logger.Warn().Err(err).Str("workerId", workerID).Msg("failed to release locks on completion")
	}
	if s.tokens != nil {
		s.tokens.Revoke(workerID)
	}
	s.forgetLiveness(workerID)

	if payload.Metrics != nil {
		m := *payload.Metrics
		m.ID = uuid.NewString()
		m.WorkItemID = item.ID
		m.WorkerID = workerID
		m.CreatedAt = s.now()
		if err := s.store.InsertMetricRecord(ctx, m); err != nil {
			s.logger.Warn().Err(err).Str("workerId", workerID).Msg("failed to append metric record")
		}
	}

	if err := s.rate.RecordWorkerDone(ctx); err != nil {
		s.logger.Warn().Err(err).Str("workerId", workerID).Msg("failed to record worker done")
	}

	s.events.Publish(&events.Event{Type: events.EventWorkerCompleted, WorkerID: workerID, WorkItemID: item.ID})
	s.events.Publish(&events.Event{Type: events.EventWorkItemCompleted, WorkItemID: item.ID})
	return nil
}

// Fail transitions a worker to failed and either permanently fails the
// work item (retry budget exhausted) or requeues it with backoff.
func (s *Supervisor) Fail(ctx context.Context, workerID, errMsg string, iteration int) error {
	worker, err := s.store.GetWorker(ctx, workerID)
	if err != nil {
		return s.translateNotFound(err, "worker %s not found", workerID)
	}
	if !worker.Status.IsActive() {
		return apierr.InvalidState("worker %s is not active", workerID)
	}

	item, err := s.store.GetWorkItem(ctx, worker.WorkItemID)
	if err != nil {
		return fmt.Errorf("supervisor: fail: load work item: %w", err)
	}

	if err := s.store.FailWorker(ctx, workerID, errMsg, 1); err != nil {
		return fmt.Errorf("supervisor: fail: %w", err)
	}

	if err := s.requeueOrFail(ctx, item, errMsg, iteration); err != nil {
		s.logger.Error().Err(err).Str("workItemId", item.ID).Msg("failed to apply retry decision")
	}

	if err := s.conflict.ReleaseAllLocks(ctx, workerID); err != nil {
		s.logger.Warn().Err(err).Str("workerId", workerID).Msg("failed to release locks on failure")
	}
	if s.tokens != nil {
		s.tokens.Revoke(workerID)
	}
	s.forgetLiveness(workerID)
	if err := s.rate.RecordWorkerDone(ctx); err != nil {
		s.logger.Warn().Err(err).Str("workerId", workerID).Msg("failed to record worker done")
	}

	s.events.Publish(&events.Event{Type: events.EventWorkerFailed, WorkerID: workerID, WorkItemID: item.ID, Message: errMsg})
	return nil
}

// maxRetries returns the retry ceiling for the item's type.
func (s *Supervisor) maxRetries(item types.WorkItem) int {
	if item.IsVerification() {
		return s.cfg.VerificationMaxRetries
	}
	return s.cfg.ExecutionMaxRetries
}

// requeueOrFail applies the shared retry decision used by both Fail and
// Kill: permanently fail once the retry budget is exhausted, otherwise
// requeue with backoff (execution) or immediately (verification).
func (s *Supervisor) requeueOrFail(ctx context.Context, item types.WorkItem, errMsg string, iteration int) error {
	newRetryCount := item.RetryCount + 1
	maxRetries := s.maxRetries(item)

	if newRetryCount > maxRetries {
		prefixed := fmt.Sprintf("execution/verification failed (max retries %d): %s", maxRetries, errMsg)
		if err := s.store.FailWorkItem(ctx, item.ID, prefixed); err != nil {
			return fmt.Errorf("mark work item permanently failed: %w", err)
		}
		s.events.Publish(&events.Event{Type: events.EventWorkItemFailed, WorkItemID: item.ID, Message: prefixed})
		return nil
	}

	var nextRetryAt *time.Time
	if !item.IsVerification() {
		backoff := 30 * time.Minute
		if s.cfg.Backoff != nil {
			backoff = s.cfg.Backoff(newRetryCount)
		}
		t := s.now().Add(backoff)
		nextRetryAt = &t
	}

	if err := s.store.RetryWorkItem(ctx, item.ID, newRetryCount, iteration, nextRetryAt); err != nil {
		return fmt.Errorf("requeue work item: %w", err)
	}
	s.events.Publish(&events.Event{Type: events.EventWorkItemRequeued, WorkItemID: item.ID})
	return nil
}

// Stuck marks a worker stuck without decrementing the rate limiter's
// active-worker count — the container is presumed still alive and still
// occupies a slot until an operator or healthCheck's timeout kills it.
func (s *Supervisor) Stuck(ctx context.Context, workerID, reason string, attempts int) error {
	worker, err := s.store.GetWorker(ctx, workerID)
	if err != nil {
		return s.translateNotFound(err, "worker %s not found", workerID)
	}
	if !worker.Status.IsActive() {
		return apierr.InvalidState("worker %s is not active", workerID)
	}

	if err := s.store.StuckWorker(ctx, workerID); err != nil {
		return fmt.Errorf("supervisor: stuck: %w", err)
	}

	composite := fmt.Sprintf("Worker stuck: %s (attempts: %d)", reason, attempts)
	if err := s.store.AppendWorkItemError(ctx, worker.WorkItemID, composite); err != nil {
		s.logger.Warn().Err(err).Str("workItemId", worker.WorkItemID).Msg("failed to append stuck error to work item")
	}

	if err := s.conflict.ReleaseAllLocks(ctx, workerID); err != nil {
		s.logger.Warn().Err(err).Str("workerId", workerID).Msg("failed to release locks on stuck")
	}

	s.events.Publish(&events.Event{Type: events.EventWorkerStuck, WorkerID: workerID, WorkItemID: worker.WorkItemID, Message: reason})
	return nil
}

// Kill best-effort stops the container, marks the worker killed, and
// decides between permanently failing or requeuing the work item based on
// retry budget and iteration ceiling.
func (s *Supervisor) Kill(ctx context.Context, workerID, reason string) error {
	worker, err := s.store.GetWorker(ctx, workerID)
	if err != nil {
		return s.translateNotFound(err, "worker %s not found", workerID)
	}

	if worker.ContainerID != nil {
		handle, err := s.runtime.GetContainer(ctx, *worker.ContainerID)
		if err != nil && !errors.Is(err, runtime.ErrContainerNotFound) {
			s.logger.Warn().Err(err).Str("containerId", *worker.ContainerID).Msg("failed to look up container for kill")
		}
		if handle != nil {
			if _, err := handle.Logs(ctx, runtime.LogOptions{Tail: 200, Stdout: true, Stderr: true}); err != nil {
				s.logger.Warn().Err(err).Str("workerId", workerID).Msg("failed to capture logs before kill")
			}
			if err := handle.Stop(ctx, 10); err != nil {
				s.logger.Warn().Err(err).Str("workerId", workerID).Msg("failed to stop container")
			}
		}
	}

	if err := s.store.KillWorker(ctx, workerID); err != nil && !errors.Is(err, gateway.ErrNotFound) {
		return fmt.Errorf("supervisor: kill: %w", err)
	}

	if s.tokens != nil {
		s.tokens.Revoke(workerID)
	}
	s.forgetLiveness(workerID)

	item, err := s.store.GetWorkItem(ctx, worker.WorkItemID)
	if err == nil {
		maxRetries := s.maxRetries(item)
		if item.RetryCount+1 > maxRetries || item.Iteration >= item.MaxIterations {
			msg := fmt.Sprintf("worker killed: %s", reason)
			if err := s.store.FailWorkItem(ctx, item.ID, msg); err != nil {
				s.logger.Error().Err(err).Str("workItemId", item.ID).Msg("failed to fail work item after kill")
			}
			s.events.Publish(&events.Event{Type: events.EventWorkItemFailed, WorkItemID: item.ID, Message: msg})
		} else if err := s.requeueOrFail(ctx, item, reason, item.Iteration); err != nil {
			s.logger.Error().Err(err).Str("workItemId", item.ID).Msg("failed to requeue after kill")
		}
	}

	if err := s.conflict.ReleaseAllLocks(ctx, workerID); err != nil {
		s.logger.Warn().Err(err).Str("workerId", workerID).Msg("failed to release locks on kill")
	}
	if err := s.rate.RecordWorkerDone(ctx); err != nil {
		s.logger.Warn().Err(err).Str("workerId", workerID).Msg("failed to record worker done")
	}

	s.events.Publish(&events.Event{Type: events.EventWorkerKilled, WorkerID: workerID, WorkItemID: worker.WorkItemID, Message: reason})
	return nil
}

// HealthCheck returns every worker eligible for Kill: active workers whose
// heartbeat is older than the configured stale threshold, plus stuck
// workers whose last heartbeat is older than StuckTimeoutSeconds (marking a
// worker stuck does not refresh its heartbeat). The
// Scheduler Loop calls Kill on each returned worker.
func (s *Supervisor) HealthCheck(ctx context.Context) ([]types.Worker, error) {
	threshold := s.cfg.StaleThresholdSeconds
	if threshold <= 0 {
		threshold = 300
	}
	cutoff := s.now().Add(-time.Duration(threshold) * time.Second)

	stale, err := s.store.StaleWorkers(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("supervisor: health check: %w", err)
	}

	var confirmed []types.Worker
	if len(s.cfg.LivenessProbeCommand) == 0 {
		confirmed = stale
	} else {
		confirmed = make([]types.Worker, 0, len(stale))
		for _, w := range stale {
			if s.probeAlive(ctx, w) {
				s.logger.Debug().Str("workerId", w.ID).Msg("heartbeat stale but liveness probe succeeded, deferring kill")
				continue
			}
			confirmed = append(confirmed, w)
		}
	}

	stuckTimeout := s.cfg.StuckTimeoutSeconds
	if stuckTimeout <= 0 {
		stuckTimeout = 600
	}
	stuckCutoff := s.now().Add(-time.Duration(stuckTimeout) * time.Second)
	stuck, err := s.store.StuckWorkers(ctx, stuckCutoff)
	if err != nil {
		return nil, fmt.Errorf("supervisor: health check: stuck workers: %w", err)
	}
	// Stuck workers are already a self-reported non-viability signal, so
	// they bypass the liveness probe entirely — there's nothing left to
	// confirm, just a timeout to respect.
	return append(confirmed, stuck...), nil
}

// probeAlive runs a livecheck.ExecChecker for cfg.LivenessProbeCommand with
// w's container ID and reports whether w is still considered alive: it
// stays alive until it has failed livecheck.DefaultConfig's Retries
// consecutive probes. A worker with no recorded container ID can't be
// probed and is reported as not alive (the existing heartbeat-staleness
// verdict stands).
func (s *Supervisor) probeAlive(ctx context.Context, w types.Worker) bool {
	if w.ContainerID == nil || *w.ContainerID == "" {
		return false
	}

	checker := livecheck.NewExecChecker(s.cfg.LivenessProbeCommand).WithContainer(*w.ContainerID)
	result := checker.Check(ctx)

	s.livenessMu.Lock()
	defer s.livenessMu.Unlock()

	status, ok := s.livenessStatus[w.ID]
	if !ok {
		status = livecheck.NewStatus()
		s.livenessStatus[w.ID] = status
	}
	status.Update(result, livecheck.DefaultConfig())
	return status.Healthy
}

// forgetLiveness drops probe history for a worker once it reaches a
// terminal state, so the in-memory map doesn't grow unbounded.
func (s *Supervisor) forgetLiveness(workerID string) {
	s.livenessMu.Lock()
	delete(s.livenessStatus, workerID)
	s.livenessMu.Unlock()
}

func (s *Supervisor) translateNotFound(err error, format string, args ...any) error {
	if errors.Is(err, gateway.ErrNotFound) {
		return apierr.NotFound(format, args...)
	}
	return fmt.Errorf("supervisor: %w", err)
}
