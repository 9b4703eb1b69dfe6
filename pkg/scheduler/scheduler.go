package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/codefactory/orchestrator/pkg/log"
	"github.com/codefactory/orchestrator/pkg/metrics"
	"github.com/codefactory/orchestrator/pkg/supervisor"
	"github.com/codefactory/orchestrator/pkg/types"
)

// RateLimiter is the subset of pkg/ratelimit.Limiter the scheduler needs
// to decide whether this tick may spawn.
type RateLimiter interface {
	CanSpawnWorker(ctx context.Context) (bool, error)
}

// QueueSource is the subset of pkg/queue.Manager the scheduler pulls
// eligible work from.
type QueueSource interface {
	NextEligible(ctx context.Context) (types.WorkItem, bool, error)
}

// Scheduler is the Scheduler Loop: a single goroutine that, once per
// tick, admits at most one eligible work item and health-checks active
// workers, killing any that have gone stale.
type Scheduler struct {
	rate       RateLimiter
	queue      QueueSource
	supervisor Supervisor
	tick       time.Duration
	logger     zerolog.Logger
	mu         sync.Mutex
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// Supervisor is the full spawn+health-check+kill surface the scheduler
// needs from pkg/supervisor.Supervisor, named narrowly here so the
// scheduler never depends on the supervisor package's concrete types
// beyond types.WorkItem/types.Worker.
type Supervisor interface {
	Spawn(ctx context.Context, item types.WorkItem) (supervisor.SpawnResult, error)
	HealthCheck(ctx context.Context) ([]types.Worker, error)
	Kill(ctx context.Context, workerID, reason string) error
}

// New builds a Scheduler. tickInterval defaults to 5s when <= 0.
func New(rate RateLimiter, queue QueueSource, supervisor Supervisor, tickInterval time.Duration) *Scheduler {
	if tickInterval <= 0 {
		tickInterval = 5 * time.Second
	}
	return &Scheduler{
		rate:       rate,
		queue:      queue,
		supervisor: supervisor,
		tick:       tickInterval,
		logger:     log.WithComponent("scheduler"),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start begins the tick loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop signals the loop to exit and blocks until it has.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runTick(ctx)
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}

// runTick performs one scheduling cycle: admit at most one eligible work
// item if the rate limiter allows it, then sweep for stale workers. A
// failure in either half is logged and the tick still attempts the other
// half — a blocked spawn must never suppress health checking.
func (s *Scheduler) runTick(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingLatency)

	if err := s.trySpawn(ctx); err != nil {
		s.logger.Error().Err(err).Msg("spawn phase failed")
	}
	if err := s.sweepStale(ctx); err != nil {
		s.logger.Error().Err(err).Msg("health check phase failed")
	}
}

func (s *Scheduler) trySpawn(ctx context.Context) error {
	canSpawn, err := s.rate.CanSpawnWorker(ctx)
	if err != nil {
		return fmt.Errorf("rate limiter check: %w", err)
	}
	if !canSpawn {
		return nil
	}

	item, ok, err := s.queue.NextEligible(ctx)
	if err != nil {
		return fmt.Errorf("next eligible: %w", err)
	}
	if !ok {
		return nil
	}

	result, err := s.supervisor.Spawn(ctx, item)
	if err != nil {
		return fmt.Errorf("spawn work item %s: %w", item.ID, err)
	}

	metrics.WorkersSpawnedTotal.Inc()
	s.logger.Info().
		Str("work_item_id", item.ID).
		Str("worker_id", result.WorkerID).
		Str("container_id", result.ContainerID).
		Msg("spawned worker")
	return nil
}

func (s *Scheduler) sweepStale(ctx context.Context) error {
	stale, err := s.supervisor.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}

	for _, worker := range stale {
		if err := s.supervisor.Kill(ctx, worker.ID, "stale heartbeat"); err != nil {
			s.logger.Error().Err(err).Str("worker_id", worker.ID).Msg("failed to kill stale worker")
			continue
		}
		s.logger.Warn().Str("worker_id", worker.ID).Str("work_item_id", worker.WorkItemID).Msg("killed stale worker")
	}
	return nil
}
