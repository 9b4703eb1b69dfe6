// Package conflict is the Conflict Arbiter: cooperative, file-level mutual
// exclusion between concurrently running workers operating on the same
// repository. It holds no state of its own — every lock lives in the
// durable store behind the Gateway, whose (repo, file_path) primary key is
// what actually makes acquisition atomic under concurrent callers.
package conflict

import (
	"context"
	"errors"
	"fmt"

	"github.com/codefactory/orchestrator/pkg/gateway"
	"github.com/codefactory/orchestrator/pkg/types"
)

// Store is the subset of pkg/gateway.Gateway the arbiter depends on, so
// tests can substitute gatewaytest.Gateway.
type Store interface {
	AcquireLock(ctx context.Context, workerID, repo, filePath string) error
	ReleaseLocks(ctx context.Context, workerID, repo string, filePaths []string) error
	ReleaseAllLocks(ctx context.Context, workerID string) error
	GetLocksForWorker(ctx context.Context, workerID string) ([]types.FileLock, error)
	GetLockHolder(ctx context.Context, repo, filePath string) (types.FileLock, error)
}

// Arbiter grants and releases file locks.
type Arbiter struct {
	store Store
}

// New builds an Arbiter over store.
func New(store Store) *Arbiter {
	return &Arbiter{store: store}
}

// AcquireResult reports which files a caller actually got, and which were
// already held by another worker.
type AcquireResult struct {
	Acquired []string
	Blocked  []string
}

// AcquireLocks attempts to lock every file in filePaths for workerID,
// per-file: each path is independently granted or blocked, and the two
// output lists partition the input. A file already locked by another
// worker is reported in Blocked; everything else is acquired and kept.
// Any other store error releases the locks this call already acquired and
// is returned instead of a result.
func (a *Arbiter) AcquireLocks(ctx context.Context, workerID, repo string, filePaths []string) (AcquireResult, error) {
	var result AcquireResult

	for _, fp := range filePaths {
		err := a.store.AcquireLock(ctx, workerID, repo, fp)
		switch {
		case err == nil:
			result.Acquired = append(result.Acquired, fp)
		case errors.Is(err, gateway.ErrLockConflict):
			result.Blocked = append(result.Blocked, fp)
		default:
			_ = a.store.ReleaseLocks(ctx, workerID, repo, result.Acquired)
			return AcquireResult{}, fmt.Errorf("conflict: acquire %s: %w", fp, err)
		}
	}

	return result, nil
}

// ReleaseLocks drops the named locks held by workerID.
func (a *Arbiter) ReleaseLocks(ctx context.Context, workerID, repo string, filePaths []string) error {
	if err := a.store.ReleaseLocks(ctx, workerID, repo, filePaths); err != nil {
		return fmt.Errorf("conflict: release locks: %w", err)
	}
	return nil
}

// ReleaseAllLocks drops every lock held by workerID, called by the Worker
// Supervisor on every terminal transition (completed, failed, killed) so a
// worker's locks never outlive it.
func (a *Arbiter) ReleaseAllLocks(ctx context.Context, workerID string) error {
	if err := a.store.ReleaseAllLocks(ctx, workerID); err != nil {
		return fmt.Errorf("conflict: release all locks: %w", err)
	}
	return nil
}

// GetLocksForWorker lists every lock workerID currently holds.
func (a *Arbiter) GetLocksForWorker(ctx context.Context, workerID string) ([]types.FileLock, error) {
	locks, err := a.store.GetLocksForWorker(ctx, workerID)
	if err != nil {
		return nil, fmt.Errorf("conflict: get locks for worker: %w", err)
	}
	return locks, nil
}

// GetLockHolder returns the lock on (repo, filePath), if any.
func (a *Arbiter) GetLockHolder(ctx context.Context, repo, filePath string) (types.FileLock, bool, error) {
	lock, err := a.store.GetLockHolder(ctx, repo, filePath)
	if errors.Is(err, gateway.ErrNotFound) {
		return types.FileLock{}, false, nil
	}
	if err != nil {
		return types.FileLock{}, false, fmt.Errorf("conflict: get lock holder: %w", err)
	}
	return lock, true, nil
}
