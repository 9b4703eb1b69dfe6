package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/codefactory/orchestrator/pkg/types"
)

// InsertMetricRecord appends a completion record, called by the Worker
// Supervisor when a worker completes with metrics attached.
func (g *Gateway) InsertMetricRecord(ctx context.Context, m types.MetricRecord) error {
	_, err := g.db.ExecContext(ctx, qInsertMetricRecord,
		m.ID, m.WorkItemID, m.WorkerID, m.TokensIn, m.TokensOut, m.DurationMs,
		m.FilesModified, m.TestsRun, m.TestsPassed, m.Iteration, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("gateway: insert metric record: %w", err)
	}
	return nil
}

// CountByStatusSince counts work items in status that transitioned since
// the given instant, used by the Metrics Aggregator's "today" window.
func (g *Gateway) CountByStatusSince(ctx context.Context, status types.WorkItemStatus, since time.Time) (int, error) {
	var count int
	if err := g.db.QueryRowContext(ctx, qAggregateCountByStatusSince, status, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("gateway: count by status since: %w", err)
	}
	return count, nil
}

// SumIterationsSince totals the iteration count recorded on every metric
// row since the given instant.
func (g *Gateway) SumIterationsSince(ctx context.Context, since time.Time) (int, error) {
	var total int
	if err := g.db.QueryRowContext(ctx, qAggregateIterationsSince, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("gateway: sum iterations since: %w", err)
	}
	return total, nil
}

// AverageDurationSince returns the mean completion duration, in
// milliseconds, across metric rows recorded since the given instant. Zero
// when no rows exist.
func (g *Gateway) AverageDurationSince(ctx context.Context, since time.Time) (float64, error) {
	var avg float64
	if err := g.db.QueryRowContext(ctx, qAggregateAvgDurationSince, since).Scan(&avg); err != nil {
		return 0, fmt.Errorf("gateway: average duration since: %w", err)
	}
	return avg, nil
}
