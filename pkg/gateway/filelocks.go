package gateway

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/codefactory/orchestrator/pkg/types"
)

// AcquireLock attempts to insert a file lock row. The (repo, file_path)
// primary key makes the insert atomic; ON CONFLICT DO NOTHING turns a
// concurrent holder into a no-op insert (0 rows) rather than a
// unique-violation, so a re-acquire by the same worker can be told apart
// from a genuine conflict with another worker's lock.
func (g *Gateway) AcquireLock(ctx context.Context, workerID, repo, filePath string) error {
	res, err := g.db.ExecContext(ctx, qAcquireFileLock, workerID, repo, filePath)
	if err != nil {
		return normalizeInsertErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("gateway: acquire lock: rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	holder, err := g.GetLockHolder(ctx, repo, filePath)
	if err != nil {
		return fmt.Errorf("gateway: acquire lock: resolve holder: %w", err)
	}
	if holder.WorkerID == workerID {
		return nil
	}
	return ErrLockConflict
}

// ReleaseLocks drops the named locks held by workerID in repo.
func (g *Gateway) ReleaseLocks(ctx context.Context, workerID, repo string, filePaths []string) error {
	_, err := g.db.ExecContext(ctx, qReleaseFileLocks, workerID, repo, filePaths)
	if err != nil {
		return fmt.Errorf("gateway: release locks: %w", err)
	}
	return nil
}

// ReleaseAllLocks drops every lock held by workerID, called on every
// terminal worker transition so a crashed or killed worker never leaks
// locks.
func (g *Gateway) ReleaseAllLocks(ctx context.Context, workerID string) error {
	_, err := g.db.ExecContext(ctx, qReleaseAllFileLocks, workerID)
	if err != nil {
		return fmt.Errorf("gateway: release all locks: %w", err)
	}
	return nil
}

// GetLocksForWorker lists every lock currently held by workerID.
func (g *Gateway) GetLocksForWorker(ctx context.Context, workerID string) ([]types.FileLock, error) {
	rows, err := g.db.QueryContext(ctx, qGetLocksForWorker, workerID)
	if err != nil {
		return nil, fmt.Errorf("gateway: get locks for worker: %w", err)
	}
	defer rows.Close()
	return scanFileLocks(rows)
}

// GetLockHolder returns the lock on (repo, filePath), if any, or
// ErrNotFound when the file is unlocked.
func (g *Gateway) GetLockHolder(ctx context.Context, repo, filePath string) (types.FileLock, error) {
	row := g.db.QueryRowContext(ctx, qGetLockHolder, repo, filePath)
	return scanFileLock(row)
}

// FileLockCount returns the total number of locks currently held, the
// shape consumed by pkg/metrics.Collector.
func (g *Gateway) FileLockCount(ctx context.Context) (int, error) {
	var count int
	if err := g.db.QueryRowContext(ctx, qFileLockCount).Scan(&count); err != nil {
		return 0, fmt.Errorf("gateway: file lock count: %w", err)
	}
	return count, nil
}

func scanFileLock(row rowScanner) (types.FileLock, error) {
	var l types.FileLock
	err := row.Scan(&l.WorkerID, &l.Repo, &l.FilePath, &l.AcquiredAt)
	if err == sql.ErrNoRows {
		return types.FileLock{}, ErrNotFound
	}
	if err != nil {
		return types.FileLock{}, fmt.Errorf("gateway: scan file lock: %w", err)
	}
	return l, nil
}

func scanFileLocks(rows *sql.Rows) ([]types.FileLock, error) {
	var out []types.FileLock
	for rows.Next() {
		l, err := scanFileLock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("gateway: rows: %w", err)
	}
	return out, nil
}
