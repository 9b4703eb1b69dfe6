package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/codefactory/orchestrator/pkg/types"
)

// InsertWorkItem persists a new work item. Callers are responsible for
// populating ID/CreatedAt/UpdatedAt before calling.
func (g *Gateway) InsertWorkItem(ctx context.Context, w types.WorkItem) error {
	metadata, err := json.Marshal(w.Metadata)
	if err != nil {
		return fmt.Errorf("gateway: marshal metadata: %w", err)
	}
	labels, err := json.Marshal(w.Labels)
	if err != nil {
		return fmt.Errorf("gateway: marshal labels: %w", err)
	}

	_, err = g.db.ExecContext(ctx, qInsertWorkItem,
		w.ID, w.Repo, w.Branch, w.Type, w.Spec, w.Description, w.Title, labels,
		w.Status, w.Priority, w.WorkerID, w.Iteration, w.MaxIterations, w.RetryCount, w.NextRetryAt,
		w.ParentWorkItemID, w.PRNumber, w.PRURL, w.VerificationPassed,
		w.Source, w.SourceRef, metadata, w.Error, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("gateway: insert work item: %w", err)
	}
	return nil
}

// GetWorkItem fetches a single work item by ID, returning ErrNotFound if
// absent.
func (g *Gateway) GetWorkItem(ctx context.Context, id string) (types.WorkItem, error) {
	row := g.db.QueryRowContext(ctx, qGetWorkItem, id)
	return scanWorkItem(row)
}

// ListWorkItems returns every work item, optionally filtered by type
// ("" means no filter), ordered priority-first for scheduler consumption.
func (g *Gateway) ListWorkItems(ctx context.Context, typeFilter types.WorkItemType) ([]types.WorkItem, error) {
	rows, err := g.db.QueryContext(ctx, qListWorkItems, string(typeFilter))
	if err != nil {
		return nil, fmt.Errorf("gateway: list work items: %w", err)
	}
	defer rows.Close()
	return scanWorkItems(rows)
}

// ListEligibleWorkItems returns queued items whose retry delay, if any, has
// elapsed as of now — the Scheduler Loop's candidate set.
func (g *Gateway) ListEligibleWorkItems(ctx context.Context, now time.Time) ([]types.WorkItem, error) {
	rows, err := g.db.QueryContext(ctx, qListEligibleWorkItems, now)
	if err != nil {
		return nil, fmt.Errorf("gateway: list eligible work items: %w", err)
	}
	defer rows.Close()
	return scanWorkItems(rows)
}

// AssignWorkItem transitions a queued item to assigned, claimed by
// workerID. Returns ErrNotFound if the item was not queued.
func (g *Gateway) AssignWorkItem(ctx context.Context, id, workerID string) error {
	return g.execExpectingRow(ctx, qAssignWorkItem, id, workerID)
}

// StartWorkItem transitions an assigned item to in_progress.
func (g *Gateway) StartWorkItem(ctx context.Context, id string) error {
	return g.execExpectingRow(ctx, qStartWorkItem, id)
}

// SpawnWorkItem transitions a queued item directly to in_progress, bound
// to workerID, the single-step transition the Worker Supervisor's spawn
// performs.
func (g *Gateway) SpawnWorkItem(ctx context.Context, id, workerID string) error {
	return g.execExpectingRow(ctx, qSpawnWorkItem, id, workerID)
}

// RollbackSpawn reverses SpawnWorkItem: used when container creation or
// start fails after the WorkItem was already marked in_progress.
func (g *Gateway) RollbackSpawn(ctx context.Context, id string) error {
	return g.execExpectingRow(ctx, qRollbackSpawn, id)
}

// AppendWorkItemError appends msg to the work item's error field without
// touching its status, used when a worker goes stuck.
func (g *Gateway) AppendWorkItemError(ctx context.Context, id, msg string) error {
	_, err := g.db.ExecContext(ctx, qAppendWorkItemError, id, msg)
	if err != nil {
		return fmt.Errorf("gateway: append work item error: %w", err)
	}
	return nil
}

// MergeVerificationStatusIntoParent merges vs into the parent work item's
// metadata.verificationStatus key, called when a verification item
// completes.
func (g *Gateway) MergeVerificationStatusIntoParent(ctx context.Context, parentID string, vs types.VerificationStatus) error {
	encoded, err := json.Marshal(vs)
	if err != nil {
		return fmt.Errorf("gateway: marshal verification status: %w", err)
	}
	wrapped := append(append([]byte(`{"verificationStatus":`), encoded...), '}')
	if _, err := g.db.ExecContext(ctx, qMergeVerificationStatus, parentID, wrapped); err != nil {
		return fmt.Errorf("gateway: merge verification status: %w", err)
	}
	return nil
}

// CompleteWorkItem transitions an in_progress item to completed.
func (g *Gateway) CompleteWorkItem(ctx context.Context, id string, prNumber *int, prURL *string, verificationPassed *bool) error {
	return g.execExpectingRow(ctx, qCompleteWorkItem, id, prNumber, prURL, verificationPassed)
}

// FailWorkItem transitions an assigned or in_progress item to failed.
func (g *Gateway) FailWorkItem(ctx context.Context, id, errMsg string) error {
	return g.execExpectingRow(ctx, qFailWorkItem, id, errMsg)
}

// RequeueWorkItem is the Queue Manager's manual requeue: moves a failed or
// cancelled item back to queued with its retry bookkeeping reset to zero.
func (g *Gateway) RequeueWorkItem(ctx context.Context, id string) error {
	return g.execExpectingRow(ctx, qRequeueWorkItem, id)
}

// RetryWorkItem is the Worker Supervisor's automatic requeue-on-failure:
// moves an assigned or in_progress item back to queued with an incremented
// retry count, the current iteration, and an optional backoff delay.
func (g *Gateway) RetryWorkItem(ctx context.Context, id string, retryCount, iteration int, nextRetryAt *time.Time) error {
	return g.execExpectingRow(ctx, qRetryWorkItem, id, retryCount, iteration, nextRetryAt)
}

// CancelWorkItem moves a generating or queued item to cancelled.
func (g *Gateway) CancelWorkItem(ctx context.Context, id string) error {
	return g.execExpectingRow(ctx, qCancelWorkItem, id)
}

// IncrementIteration bumps a work item's iteration counter by one.
func (g *Gateway) IncrementIteration(ctx context.Context, id string) error {
	_, err := g.db.ExecContext(ctx, qIncrementIteration, id)
	if err != nil {
		return fmt.Errorf("gateway: increment iteration: %w", err)
	}
	return nil
}

// QueueStats aggregates work item counts by status and by priority
// (queued-only), the shape consumed by pkg/metrics.Collector.
func (g *Gateway) QueueStats(ctx context.Context) (types.QueueStats, error) {
	stats := types.QueueStats{
		ByStatus:   make(map[types.WorkItemStatus]int),
		ByPriority: make(map[types.Priority]int),
	}

	statusRows, err := g.db.QueryContext(ctx, qQueueStatsByStatus)
	if err != nil {
		return stats, fmt.Errorf("gateway: queue stats by status: %w", err)
	}
	defer statusRows.Close()
	for statusRows.Next() {
		var status types.WorkItemStatus
		var count int
		if err := statusRows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("gateway: scan queue stats by status: %w", err)
		}
		stats.ByStatus[status] = count
	}
	if err := statusRows.Err(); err != nil {
		return stats, fmt.Errorf("gateway: queue stats by status rows: %w", err)
	}

	priorityRows, err := g.db.QueryContext(ctx, qQueueStatsByPriority)
	if err != nil {
		return stats, fmt.Errorf("gateway: queue stats by priority: %w", err)
	}
	defer priorityRows.Close()
	for priorityRows.Next() {
		var priority types.Priority
		var count int
		if err := priorityRows.Scan(&priority, &count); err != nil {
			return stats, fmt.Errorf("gateway: scan queue stats by priority: %w", err)
		}
		stats.ByPriority[priority] = count
	}
	if err := priorityRows.Err(); err != nil {
		return stats, fmt.Errorf("gateway: queue stats by priority rows: %w", err)
	}

	return stats, nil
}

// execExpectingRow runs a conditional UPDATE and normalizes "zero rows
// affected" into ErrNotFound, since every guarded transition's WHERE clause
// doubles as its own state-machine check.
func (g *Gateway) execExpectingRow(ctx context.Context, query string, args ...any) error {
	res, err := g.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("gateway: exec: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("gateway: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkItem(row rowScanner) (types.WorkItem, error) {
	var w types.WorkItem
	var metadata []byte
	var labels []byte

	err := row.Scan(
		&w.ID, &w.Repo, &w.Branch, &w.Type, &w.Spec, &w.Description, &w.Title, &labels,
		&w.Status, &w.Priority, &w.WorkerID, &w.Iteration, &w.MaxIterations, &w.RetryCount, &w.NextRetryAt,
		&w.ParentWorkItemID, &w.PRNumber, &w.PRURL, &w.VerificationPassed,
		&w.Source, &w.SourceRef, &metadata, &w.Error, &w.CreatedAt, &w.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return types.WorkItem{}, ErrNotFound
	}
	if err != nil {
		return types.WorkItem{}, fmt.Errorf("gateway: scan work item: %w", err)
	}

	if len(labels) > 0 {
		if err := json.Unmarshal(labels, &w.Labels); err != nil {
			return types.WorkItem{}, fmt.Errorf("gateway: unmarshal labels: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &w.Metadata); err != nil {
			return types.WorkItem{}, fmt.Errorf("gateway: unmarshal metadata: %w", err)
		}
	}
	return w, nil
}

func scanWorkItems(rows *sql.Rows) ([]types.WorkItem, error) {
	var out []types.WorkItem
	for rows.Next() {
		w, err := scanWorkItem(rows)
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
