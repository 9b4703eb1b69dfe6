// Package gatewaytest provides an in-memory fake matching pkg/gateway's
// method surface, so pkg/queue, pkg/conflict, and pkg/supervisor can be
// unit tested without a live Postgres instance.
package gatewaytest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/codefactory/orchestrator/pkg/gateway"
	"github.com/codefactory/orchestrator/pkg/types"
)

// Gateway is a mutex-guarded in-memory store shaped like pkg/gateway.Gateway.
type Gateway struct {
	mu        sync.Mutex
	workItems map[string]types.WorkItem
	workers   map[string]types.Worker
	locks     map[string]types.FileLock // key: repo + "\x00" + filePath
	metrics   []types.MetricRecord
	reviews   []types.PRReview
	learnings []types.Learning
}

// New creates an empty Gateway.
func New() *Gateway {
	return &Gateway{
		workItems: make(map[string]types.WorkItem),
		workers:   make(map[string]types.Worker),
		locks:     make(map[string]types.FileLock),
	}
}

func (g *Gateway) InsertPRReview(ctx context.Context, r types.PRReview) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reviews = append(g.reviews, r)
	return nil
}

func (g *Gateway) LearningsForWorkItem(ctx context.Context, workItemID string) ([]types.Learning, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []types.Learning
	for _, l := range g.learnings {
		if l.WorkItemID == workItemID {
			out = append(out, l)
		}
	}
	return out, nil
}

func lockKey(repo, filePath string) string { return repo + "\x00" + filePath }

func (g *Gateway) InsertWorkItem(ctx context.Context, w types.WorkItem) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.workItems[w.ID] = w
	return nil
}

func (g *Gateway) GetWorkItem(ctx context.Context, id string) (types.WorkItem, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.workItems[id]
	if !ok {
		return types.WorkItem{}, gateway.ErrNotFound
	}
	return w, nil
}

func (g *Gateway) ListWorkItems(ctx context.Context, typeFilter types.WorkItemType) ([]types.WorkItem, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []types.WorkItem
	for _, w := range g.workItems {
		if typeFilter != "" && w.Type != typeFilter {
			continue
		}
		out = append(out, w)
	}
	sortWorkItems(out)
	return out, nil
}

func (g *Gateway) ListEligibleWorkItems(ctx context.Context, now time.Time) ([]types.WorkItem, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []types.WorkItem
	for _, w := range g.workItems {
		if w.Eligible(now) {
			out = append(out, w)
		}
	}
	sortWorkItems(out)
	return out, nil
}

func sortWorkItems(items []types.WorkItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority.Rank() != items[j].Priority.Rank() {
			return items[i].Priority.Rank() > items[j].Priority.Rank()
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}

func (g *Gateway) AssignWorkItem(ctx context.Context, id, workerID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.workItems[id]
	if !ok || w.Status != types.StatusQueued {
		return gateway.ErrNotFound
	}
	w.Status = types.StatusAssigned
	w.WorkerID = &workerID
	w.UpdatedAt = time.Now()
	g.workItems[id] = w
	return nil
}

func (g *Gateway) StartWorkItem(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.workItems[id]
	if !ok || w.Status != types.StatusAssigned {
		return gateway.ErrNotFound
	}
	w.Status = types.StatusInProgress
	w.UpdatedAt = time.Now()
	g.workItems[id] = w
	return nil
}

func (g *Gateway) SpawnWorkItem(ctx context.Context, id, workerID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.workItems[id]
	if !ok || w.Status != types.StatusQueued {
		return gateway.ErrNotFound
	}
	w.Status = types.StatusInProgress
	w.WorkerID = &workerID
	w.UpdatedAt = time.Now()
	g.workItems[id] = w
	return nil
}

func (g *Gateway) RollbackSpawn(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.workItems[id]
	if !ok || w.Status != types.StatusInProgress {
		return gateway.ErrNotFound
	}
	w.Status = types.StatusQueued
	w.WorkerID = nil
	w.UpdatedAt = time.Now()
	g.workItems[id] = w
	return nil
}

func (g *Gateway) AppendWorkItemError(ctx context.Context, id, msg string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.workItems[id]
	if !ok {
		return gateway.ErrNotFound
	}
	combined := msg
	if w.Error != nil && *w.Error != "" {
		combined = *w.Error + "\n" + msg
	}
	w.Error = &combined
	w.UpdatedAt = time.Now()
	g.workItems[id] = w
	return nil
}

func (g *Gateway) MergeVerificationStatusIntoParent(ctx context.Context, parentID string, vs types.VerificationStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.workItems[parentID]
	if !ok {
		return gateway.ErrNotFound
	}
	w.Metadata = w.Metadata.WithVerificationStatus(vs)
	w.UpdatedAt = time.Now()
	g.workItems[parentID] = w
	return nil
}

func (g *Gateway) CompleteWorkItem(ctx context.Context, id string, prNumber *int, prURL *string, verificationPassed *bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.workItems[id]
	if !ok || w.Status != types.StatusInProgress {
		return gateway.ErrNotFound
	}
	w.Status = types.StatusCompleted
	w.PRNumber = prNumber
	w.PRURL = prURL
	w.VerificationPassed = verificationPassed
	w.UpdatedAt = time.Now()
	g.workItems[id] = w
	return nil
}

func (g *Gateway) FailWorkItem(ctx context.Context, id, errMsg string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.workItems[id]
	if !ok || (w.Status != types.StatusAssigned && w.Status != types.StatusInProgress) {
		return gateway.ErrNotFound
	}
	w.Status = types.StatusFailed
	w.Error = &errMsg
	w.UpdatedAt = time.Now()
	g.workItems[id] = w
	return nil
}

func (g *Gateway) RequeueWorkItem(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.workItems[id]
	if !ok || (w.Status != types.StatusFailed && w.Status != types.StatusCancelled) {
		return gateway.ErrNotFound
	}
	w.Status = types.StatusQueued
	w.WorkerID = nil
	w.RetryCount = 0
	w.NextRetryAt = nil
	w.Error = nil
	w.UpdatedAt = time.Now()
	g.workItems[id] = w
	return nil
}

func (g *Gateway) RetryWorkItem(ctx context.Context, id string, retryCount, iteration int, nextRetryAt *time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.workItems[id]
	if !ok || (w.Status != types.StatusAssigned && w.Status != types.StatusInProgress) {
		return gateway.ErrNotFound
	}
	w.Status = types.StatusQueued
	w.WorkerID = nil
	w.RetryCount = retryCount
	w.Iteration = iteration
	w.NextRetryAt = nextRetryAt
	w.UpdatedAt = time.Now()
	g.workItems[id] = w
	return nil
}

func (g *Gateway) CancelWorkItem(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.workItems[id]
	if !ok {
		return gateway.ErrNotFound
	}
	switch w.Status {
	case types.StatusGenerating, types.StatusQueued:
	default:
		return gateway.ErrNotFound
	}
	w.Status = types.StatusCancelled
	w.UpdatedAt = time.Now()
	g.workItems[id] = w
	return nil
}

func (g *Gateway) IncrementIteration(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.workItems[id]
	if !ok {
		return gateway.ErrNotFound
	}
	w.Iteration++
	w.UpdatedAt = time.Now()
	g.workItems[id] = w
	return nil
}

func (g *Gateway) QueueStats(ctx context.Context) (types.QueueStats, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	stats := types.QueueStats{
		ByStatus:   make(map[types.WorkItemStatus]int),
		ByPriority: make(map[types.Priority]int),
	}
	for _, w := range g.workItems {
		stats.ByStatus[w.Status]++
		if w.Status == types.StatusQueued {
			stats.ByPriority[w.Priority]++
		}
	}
	return stats, nil
}

func (g *Gateway) InsertWorker(ctx context.Context, w types.Worker) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.workers[w.ID] = w
	return nil
}

func (g *Gateway) GetWorker(ctx context.Context, id string) (types.Worker, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.workers[id]
	if !ok {
		return types.Worker{}, gateway.ErrNotFound
	}
	return w, nil
}

func (g *Gateway) ListWorkersByWorkItem(ctx context.Context, workItemID string) ([]types.Worker, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []types.Worker
	for _, w := range g.workers {
		if w.WorkItemID == workItemID {
			out = append(out, w)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (g *Gateway) transitionWorker(id string, from func(types.WorkerStatus) bool, mutate func(*types.Worker)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.workers[id]
	if !ok || !from(w.Status) {
		return gateway.ErrNotFound
	}
	mutate(&w)
	g.workers[id] = w
	return nil
}

func isActiveOrStuck(s types.WorkerStatus) bool {
	return s.IsActive() || s == types.WorkerStuck
}

func (g *Gateway) HeartbeatWorker(ctx context.Context, id string) error {
	return g.transitionWorker(id, func(s types.WorkerStatus) bool { return s.IsActive() }, func(w *types.Worker) {
		w.LastHeartbeat = time.Now()
	})
}

func (g *Gateway) AdvanceWorkerToRunning(ctx context.Context, id string) error {
	return g.transitionWorker(id, func(s types.WorkerStatus) bool { return s.IsActive() }, func(w *types.Worker) {
		w.LastHeartbeat = time.Now()
		w.Status = types.WorkerRunning
	})
}

func (g *Gateway) HeartbeatWorkerIteration(ctx context.Context, id string, iteration int) error {
	return g.transitionWorker(id, func(s types.WorkerStatus) bool { return s.IsActive() }, func(w *types.Worker) {
		w.LastHeartbeat = time.Now()
		w.Iteration = iteration
		w.Status = types.WorkerRunning
	})
}

func (g *Gateway) RegisterWorker(ctx context.Context, id, containerID string) error {
	return g.transitionWorker(id, func(s types.WorkerStatus) bool { return s == types.WorkerStarting }, func(w *types.Worker) {
		w.Status = types.WorkerRunning
		w.ContainerID = &containerID
		w.LastHeartbeat = time.Now()
	})
}

func (g *Gateway) SetWorkerContainerID(ctx context.Context, id, containerID string) error {
	return g.transitionWorker(id, isActiveOrStuck, func(w *types.Worker) {
		w.ContainerID = &containerID
	})
}

func (g *Gateway) CompleteWorker(ctx context.Context, id string, exitCode int) error {
	return g.transitionWorker(id, func(s types.WorkerStatus) bool { return s.IsActive() }, func(w *types.Worker) {
		w.Status = types.WorkerCompleted
		w.ExitCode = &exitCode
		now := time.Now()
		w.CompletedAt = &now
	})
}

func (g *Gateway) FailWorker(ctx context.Context, id, errMsg string, exitCode int) error {
	return g.transitionWorker(id, func(s types.WorkerStatus) bool { return s.IsActive() }, func(w *types.Worker) {
		w.Status = types.WorkerFailed
		w.Error = &errMsg
		w.ExitCode = &exitCode
		now := time.Now()
		w.CompletedAt = &now
	})
}

func (g *Gateway) StuckWorker(ctx context.Context, id string) error {
	return g.transitionWorker(id, func(s types.WorkerStatus) bool { return s.IsActive() }, func(w *types.Worker) {
		w.Status = types.WorkerStuck
	})
}

func (g *Gateway) KillWorker(ctx context.Context, id string) error {
	return g.transitionWorker(id, isActiveOrStuck, func(w *types.Worker) {
		w.Status = types.WorkerKilled
		now := time.Now()
		w.CompletedAt = &now
	})
}

func (g *Gateway) ActiveWorkerCountByStatus(ctx context.Context) (map[types.WorkerStatus]int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[types.WorkerStatus]int)
	for _, w := range g.workers {
		if isActiveOrStuck(w.Status) {
			out[w.Status]++
		}
	}
	return out, nil
}

func (g *Gateway) StaleWorkers(ctx context.Context, cutoff time.Time) ([]types.Worker, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []types.Worker
	for _, w := range g.workers {
		if w.Status.IsActive() && !w.LastHeartbeat.After(cutoff) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (g *Gateway) StuckWorkers(ctx context.Context, cutoff time.Time) ([]types.Worker, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []types.Worker
	for _, w := range g.workers {
		if w.Status == types.WorkerStuck && !w.LastHeartbeat.After(cutoff) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (g *Gateway) AcquireLock(ctx context.Context, workerID, repo, filePath string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := lockKey(repo, filePath)
	if existing, held := g.locks[key]; held {
		if existing.WorkerID == workerID {
			return nil
		}
		return gateway.ErrLockConflict
	}
	g.locks[key] = types.FileLock{WorkerID: workerID, Repo: repo, FilePath: filePath, AcquiredAt: time.Now()}
	return nil
}

func (g *Gateway) ReleaseLocks(ctx context.Context, workerID, repo string, filePaths []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, fp := range filePaths {
		key := lockKey(repo, fp)
		if l, ok := g.locks[key]; ok && l.WorkerID == workerID {
			delete(g.locks, key)
		}
	}
	return nil
}

func (g *Gateway) ReleaseAllLocks(ctx context.Context, workerID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for key, l := range g.locks {
		if l.WorkerID == workerID {
			delete(g.locks, key)
		}
	}
	return nil
}

func (g *Gateway) GetLocksForWorker(ctx context.Context, workerID string) ([]types.FileLock, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []types.FileLock
	for _, l := range g.locks {
		if l.WorkerID == workerID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (g *Gateway) GetLockHolder(ctx context.Context, repo, filePath string) (types.FileLock, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[lockKey(repo, filePath)]
	if !ok {
		return types.FileLock{}, gateway.ErrNotFound
	}
	return l, nil
}

func (g *Gateway) FileLockCount(ctx context.Context) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.locks), nil
}

func (g *Gateway) InsertMetricRecord(ctx context.Context, m types.MetricRecord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.metrics = append(g.metrics, m)
	return nil
}

func (g *Gateway) CountByStatusSince(ctx context.Context, status types.WorkItemStatus, since time.Time) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, w := range g.workItems {
		if w.Status == status && !w.UpdatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (g *Gateway) SumIterationsSince(ctx context.Context, since time.Time) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := 0
	for _, m := range g.metrics {
		if !m.CreatedAt.Before(since) {
			total += m.Iteration
		}
	}
	return total, nil
}

func (g *Gateway) AverageDurationSince(ctx context.Context, since time.Time) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var sum float64
	var n int
	for _, m := range g.metrics {
		if !m.CreatedAt.Before(since) {
			sum += float64(m.DurationMs)
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return sum / float64(n), nil
}
