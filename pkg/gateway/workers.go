package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/codefactory/orchestrator/pkg/types"
)

// InsertWorker persists a newly spawned worker row, normally in status
// starting.
func (g *Gateway) InsertWorker(ctx context.Context, w types.Worker) error {
	_, err := g.db.ExecContext(ctx, qInsertWorker,
		w.ID, w.WorkItemID, w.Status, w.Iteration, w.LastHeartbeat, w.StartedAt,
		w.CompletedAt, w.ContainerID, w.ExitCode, w.Error,
	)
	if err != nil {
		return fmt.Errorf("gateway: insert worker: %w", err)
	}
	return nil
}

// GetWorker fetches a single worker by ID, returning ErrNotFound if absent.
func (g *Gateway) GetWorker(ctx context.Context, id string) (types.Worker, error) {
	row := g.db.QueryRowContext(ctx, qGetWorker, id)
	return scanWorker(row)
}

// ListWorkersByWorkItem returns every worker attempt against a work item,
// oldest first.
func (g *Gateway) ListWorkersByWorkItem(ctx context.Context, workItemID string) ([]types.Worker, error) {
	rows, err := g.db.QueryContext(ctx, qListWorkersByWorkItem, workItemID)
	if err != nil {
		return nil, fmt.Errorf("gateway: list workers by work item: %w", err)
	}
	defer rows.Close()
	return scanWorkers(rows)
}

// HeartbeatWorker refreshes last_heartbeat for an active worker.
func (g *Gateway) HeartbeatWorker(ctx context.Context, id string) error {
	return g.execExpectingRow(ctx, qHeartbeatWorker, id)
}

// HeartbeatWorkerIteration refreshes last_heartbeat and advances iteration
// for an active worker, advancing its status to running if it was still
// starting.
func (g *Gateway) HeartbeatWorkerIteration(ctx context.Context, id string, iteration int) error {
	return g.execExpectingRow(ctx, qHeartbeatWorkerIteration, id, iteration)
}

// RegisterWorker transitions starting -> running, recording the worker's
// container ID as reported by the worker's own self-registration call.
func (g *Gateway) RegisterWorker(ctx context.Context, id, containerID string) error {
	return g.execExpectingRow(ctx, qRegisterWorker, id, containerID)
}

// SetWorkerContainerID records the runtime container backing a worker
// without otherwise touching its status, for the orchestrator-side spawn
// path where the container ID is known immediately rather than reported
// back by the worker's own self-registration call.
func (g *Gateway) SetWorkerContainerID(ctx context.Context, id, containerID string) error {
	return g.execExpectingRow(ctx, qSetWorkerContainerID, id, containerID)
}

// AdvanceWorkerToRunning refreshes an existing starting or running
// worker's heartbeat and ensures it reads as running, without touching
// its container ID.
func (g *Gateway) AdvanceWorkerToRunning(ctx context.Context, id string) error {
	return g.execExpectingRow(ctx, qAdvanceWorkerToRunning, id)
}

// CompleteWorker transitions an active worker to completed.
func (g *Gateway) CompleteWorker(ctx context.Context, id string, exitCode int) error {
	return g.execExpectingRow(ctx, qCompleteWorker, id, exitCode)
}

// FailWorker transitions an active worker to failed.
func (g *Gateway) FailWorker(ctx context.Context, id, errMsg string, exitCode int) error {
	return g.execExpectingRow(ctx, qFailWorker, id, errMsg, exitCode)
}

// StuckWorker transitions an active worker to stuck (reported by the
// worker itself).
func (g *Gateway) StuckWorker(ctx context.Context, id string) error {
	return g.execExpectingRow(ctx, qStuckWorker, id)
}

// KillWorker transitions an active or stuck worker to killed.
func (g *Gateway) KillWorker(ctx context.Context, id string) error {
	return g.execExpectingRow(ctx, qKillWorker, id)
}

// ActiveWorkerCountByStatus counts workers currently in starting, running,
// or stuck, the shape consumed by pkg/metrics.Collector.
func (g *Gateway) ActiveWorkerCountByStatus(ctx context.Context) (map[types.WorkerStatus]int, error) {
	rows, err := g.db.QueryContext(ctx, qActiveWorkerCountByStatus)
	if err != nil {
		return nil, fmt.Errorf("gateway: active worker count: %w", err)
	}
	defer rows.Close()

	out := make(map[types.WorkerStatus]int)
	for rows.Next() {
		var status types.WorkerStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("gateway: scan active worker count: %w", err)
		}
		out[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("gateway: active worker count rows: %w", err)
	}
	return out, nil
}

// StaleWorkers returns starting/running workers whose last heartbeat is at
// or before the cutoff, the Worker Supervisor's healthCheck candidate set.
func (g *Gateway) StaleWorkers(ctx context.Context, cutoff time.Time) ([]types.Worker, error) {
	rows, err := g.db.QueryContext(ctx, qStaleWorkers, cutoff)
	if err != nil {
		return nil, fmt.Errorf("gateway: stale workers: %w", err)
	}
	defer rows.Close()
	return scanWorkers(rows)
}

// StuckWorkers returns workers in status stuck whose last heartbeat is at
// or before the cutoff, the Worker Supervisor's healthCheck kill-eligible
// set for stuck workers.
func (g *Gateway) StuckWorkers(ctx context.Context, cutoff time.Time) ([]types.Worker, error) {
	rows, err := g.db.QueryContext(ctx, qStuckWorkers, cutoff)
	if err != nil {
		return nil, fmt.Errorf("gateway: stuck workers: %w", err)
	}
	defer rows.Close()
	return scanWorkers(rows)
}

func scanWorker(row rowScanner) (types.Worker, error) {
	var w types.Worker
	err := row.Scan(
		&w.ID, &w.WorkItemID, &w.Status, &w.Iteration, &w.LastHeartbeat, &w.StartedAt,
		&w.CompletedAt, &w.ContainerID, &w.ExitCode, &w.Error,
	)
	if err == sql.ErrNoRows {
		return types.Worker{}, ErrNotFound
	}
	if err != nil {
		return types.Worker{}, fmt.Errorf("gateway: scan worker: %w", err)
	}
	return w, nil
}

func scanWorkers(rows *sql.Rows) ([]types.Worker, error) {
	var out []types.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("gateway: rows: %w", err)
	}
	return out, nil
}
