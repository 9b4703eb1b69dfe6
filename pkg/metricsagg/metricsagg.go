// Package metricsagg is the Metrics Aggregator: a read-only summary over
// durable counters, with no caching of its own — every call re-derives
// its numbers from pkg/gateway so the HTTP API's /metrics/summary and
// /status endpoints always reflect the current table state.
package metricsagg

import (
	"context"
	"fmt"
	"time"

	"github.com/codefactory/orchestrator/pkg/types"
)

// Store is the subset of pkg/gateway.Gateway the aggregator reads from.
type Store interface {
	QueueStats(ctx context.Context) (types.QueueStats, error)
	ActiveWorkerCountByStatus(ctx context.Context) (map[types.WorkerStatus]int, error)
	CountByStatusSince(ctx context.Context, status types.WorkItemStatus, since time.Time) (int, error)
	SumIterationsSince(ctx context.Context, since time.Time) (int, error)
	AverageDurationSince(ctx context.Context, since time.Time) (float64, error)
}

// Aggregator computes types.AggregateMetrics on demand.
type Aggregator struct {
	store Store
	now   func() time.Time
}

// New builds an Aggregator. now defaults to time.Now.
func New(store Store, now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{store: store, now: now}
}

// Summary computes the full aggregate snapshot: active workers, queued
// items, today's completed/failed counts and iteration sum, average
// completion duration, and success rate. "Today" is the UTC calendar day
// as of now(). Every ratio is zero-safe — an empty corpus yields zeros,
// never a division error.
func (a *Aggregator) Summary(ctx context.Context) (types.AggregateMetrics, error) {
	since := startOfUTCDay(a.now())

	stats, err := a.store.QueueStats(ctx)
	if err != nil {
		return types.AggregateMetrics{}, fmt.Errorf("metricsagg: queue stats: %w", err)
	}

	byWorkerStatus, err := a.store.ActiveWorkerCountByStatus(ctx)
	if err != nil {
		return types.AggregateMetrics{}, fmt.Errorf("metricsagg: active worker count: %w", err)
	}
	active := 0
	for status, count := range byWorkerStatus {
		if status.IsActive() {
			active += count
		}
	}

	completedToday, err := a.store.CountByStatusSince(ctx, types.StatusCompleted, since)
	if err != nil {
		return types.AggregateMetrics{}, fmt.Errorf("metricsagg: completed today: %w", err)
	}
	failedToday, err := a.store.CountByStatusSince(ctx, types.StatusFailed, since)
	if err != nil {
		return types.AggregateMetrics{}, fmt.Errorf("metricsagg: failed today: %w", err)
	}
	iterationsToday, err := a.store.SumIterationsSince(ctx, since)
	if err != nil {
		return types.AggregateMetrics{}, fmt.Errorf("metricsagg: iterations today: %w", err)
	}
	avgDurationSecs, err := a.store.AverageDurationSince(ctx, since)
	if err != nil {
		return types.AggregateMetrics{}, fmt.Errorf("metricsagg: average duration: %w", err)
	}

	var successRate float64
	if total := completedToday + failedToday; total > 0 {
		successRate = float64(completedToday) / float64(total)
	}

	return types.AggregateMetrics{
		ActiveWorkers:         active,
		QueuedItems:           stats.ByStatus[types.StatusQueued],
		CompletedToday:        completedToday,
		FailedToday:           failedToday,
		IterationsToday:       iterationsToday,
		AverageCompletionSecs: avgDurationSecs,
		SuccessRate:           successRate,
	}, nil
}

// QueueStats proxies the Queue Manager's by-status/by-priority breakdown,
// so callers that only need the raw counts don't have to reach past the
// aggregator into the gateway directly.
func (a *Aggregator) QueueStats(ctx context.Context) (types.QueueStats, error) {
	stats, err := a.store.QueueStats(ctx)
	if err != nil {
		return types.QueueStats{}, fmt.Errorf("metricsagg: queue stats: %w", err)
	}
	return stats, nil
}

func startOfUTCDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
