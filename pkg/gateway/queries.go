package gateway

// SQL statements live here as named constants rather than inline in the
// accessor methods, so the shape of every query is visible in one place
// and the business-logic files read as intent, not SQL.
const (
	qInsertWorkItem = `
INSERT INTO work_items (
	id, repo, branch, type, spec, description, title, labels, status, priority,
	worker_id, iteration, max_iterations, retry_count, next_retry_at,
	parent_work_item_id, pr_number, pr_url, verification_passed,
	source, source_ref, metadata, error, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
	$11, $12, $13, $14, $15,
	$16, $17, $18, $19,
	$20, $21, $22, $23, $24, $25
)`

	qGetWorkItem = `
SELECT id, repo, branch, type, spec, description, title, labels, status, priority,
	worker_id, iteration, max_iterations, retry_count, next_retry_at,
	parent_work_item_id, pr_number, pr_url, verification_passed,
	source, source_ref, metadata, error, created_at, updated_at
FROM work_items WHERE id = $1`

	qListWorkItems = `
SELECT id, repo, branch, type, spec, description, title, labels, status, priority,
	worker_id, iteration, max_iterations, retry_count, next_retry_at,
	parent_work_item_id, pr_number, pr_url, verification_passed,
	source, source_ref, metadata, error, created_at, updated_at
FROM work_items
WHERE ($1 = '' OR type = $1)
ORDER BY CASE priority WHEN 'critical' THEN 3 WHEN 'high' THEN 2 WHEN 'medium' THEN 1 ELSE 0 END DESC,
	created_at ASC`

	qListEligibleWorkItems = `
SELECT id, repo, branch, type, spec, description, title, labels, status, priority,
	worker_id, iteration, max_iterations, retry_count, next_retry_at,
	parent_work_item_id, pr_number, pr_url, verification_passed,
	source, source_ref, metadata, error, created_at, updated_at
FROM work_items
WHERE status = 'queued' AND (next_retry_at IS NULL OR next_retry_at <= $1)
ORDER BY CASE priority WHEN 'critical' THEN 3 WHEN 'high' THEN 2 WHEN 'medium' THEN 1 ELSE 0 END DESC,
	created_at ASC`

	qAssignWorkItem = `
UPDATE work_items SET status = 'assigned', worker_id = $2, updated_at = now()
WHERE id = $1 AND status = 'queued'`

	qSpawnWorkItem = `
UPDATE work_items SET status = 'in_progress', worker_id = $2, updated_at = now()
WHERE id = $1 AND status = 'queued'`

	qStartWorkItem = `
UPDATE work_items SET status = 'in_progress', updated_at = now()
WHERE id = $1 AND status = 'assigned'`

	qRollbackSpawn = `
UPDATE work_items SET status = 'queued', worker_id = NULL, updated_at = now()
WHERE id = $1 AND status = 'in_progress'`

	qMergeVerificationStatus = `
UPDATE work_items SET metadata = metadata || $2::jsonb, updated_at = now()
WHERE id = $1`

	qAppendWorkItemError = `
UPDATE work_items SET error = coalesce(error || E'\n', '') || $2, updated_at = now()
WHERE id = $1`

	qCompleteWorkItem = `
UPDATE work_items SET status = 'completed', pr_number = $2, pr_url = $3,
	verification_passed = $4, updated_at = now()
WHERE id = $1 AND status = 'in_progress'`

	qFailWorkItem = `
UPDATE work_items SET status = 'failed', error = $2, updated_at = now()
WHERE id = $1 AND status IN ('assigned', 'in_progress')`

	qRequeueWorkItem = `
UPDATE work_items SET status = 'queued', worker_id = NULL, retry_count = 0,
	error = NULL, next_retry_at = NULL, updated_at = now()
WHERE id = $1 AND status IN ('failed', 'cancelled')`

	qRetryWorkItem = `
UPDATE work_items SET status = 'queued', worker_id = NULL, retry_count = $2,
	iteration = $3, next_retry_at = $4, updated_at = now()
WHERE id = $1 AND status IN ('assigned', 'in_progress')`

	qCancelWorkItem = `
UPDATE work_items SET status = 'cancelled', updated_at = now()
WHERE id = $1 AND status IN ('generating', 'queued')`

	qIncrementIteration = `
UPDATE work_items SET iteration = iteration + 1, updated_at = now() WHERE id = $1`

	qQueueStatsByStatus = `SELECT status, count(*) FROM work_items GROUP BY status`

	qQueueStatsByPriority = `
SELECT priority, count(*) FROM work_items WHERE status = 'queued' GROUP BY priority`

	qInsertWorker = `
INSERT INTO workers (
	id, work_item_id, status, iteration, last_heartbeat, started_at,
	completed_at, container_id, exit_code, error
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	qGetWorker = `
SELECT id, work_item_id, status, iteration, last_heartbeat, started_at,
	completed_at, container_id, exit_code, error
FROM workers WHERE id = $1`

	qListWorkersByWorkItem = `
SELECT id, work_item_id, status, iteration, last_heartbeat, started_at,
	completed_at, container_id, exit_code, error
FROM workers WHERE work_item_id = $1 ORDER BY started_at ASC`

	qHeartbeatWorker = `
UPDATE workers SET last_heartbeat = now()
WHERE id = $1 AND status IN ('starting', 'running')`

	qHeartbeatWorkerIteration = `
UPDATE workers SET last_heartbeat = now(), iteration = $2, status = 'running'
WHERE id = $1 AND status IN ('starting', 'running')`

	qRegisterWorker = `
UPDATE workers SET status = 'running', container_id = $2, last_heartbeat = now()
WHERE id = $1 AND status = 'starting'`

	qSetWorkerContainerID = `
UPDATE workers SET container_id = $2
WHERE id = $1 AND status IN ('starting', 'running')`

	qAdvanceWorkerToRunning = `
UPDATE workers SET status = 'running', last_heartbeat = now()
WHERE id = $1 AND status IN ('starting', 'running')`

	qCompleteWorker = `
UPDATE workers SET status = 'completed', exit_code = $2, completed_at = now()
WHERE id = $1 AND status IN ('starting', 'running')`

	qFailWorker = `
UPDATE workers SET status = 'failed', error = $2, exit_code = $3, completed_at = now()
WHERE id = $1 AND status IN ('starting', 'running')`

	qStuckWorker = `
UPDATE workers SET status = 'stuck' WHERE id = $1 AND status IN ('starting', 'running')`

	qKillWorker = `
UPDATE workers SET status = 'killed', completed_at = now()
WHERE id = $1 AND status IN ('starting', 'running', 'stuck')`

	qActiveWorkerCountByStatus = `
SELECT status, count(*) FROM workers
WHERE status IN ('starting', 'running', 'stuck') GROUP BY status`

	qStaleWorkers = `
SELECT id, work_item_id, status, iteration, last_heartbeat, started_at,
	completed_at, container_id, exit_code, error
FROM workers
WHERE status IN ('starting', 'running') AND last_heartbeat <= $1`

	qStuckWorkers = `
SELECT id, work_item_id, status, iteration, last_heartbeat, started_at,
	completed_at, container_id, exit_code, error
FROM workers
WHERE status = 'stuck' AND last_heartbeat <= $1`

	qAcquireFileLock = `
INSERT INTO file_locks (worker_id, repo, file_path, acquired_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (repo, file_path) DO NOTHING`

	qReleaseFileLocks = `
DELETE FROM file_locks WHERE worker_id = $1 AND repo = $2 AND file_path = ANY($3)`

	qReleaseAllFileLocks = `DELETE FROM file_locks WHERE worker_id = $1`

	qGetLocksForWorker = `
SELECT worker_id, repo, file_path, acquired_at FROM file_locks WHERE worker_id = $1`

	qGetLockHolder = `
SELECT worker_id, repo, file_path, acquired_at FROM file_locks WHERE repo = $1 AND file_path = $2`

	qFileLockCount = `SELECT count(*) FROM file_locks`

	qInsertMetricRecord = `
INSERT INTO worker_metrics (
	id, work_item_id, worker_id, tokens_in, tokens_out, duration_ms,
	files_modified, tests_run, tests_passed, iteration, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	qAggregateCountByStatusSince = `
SELECT count(*) FROM work_items WHERE status = $1 AND updated_at >= $2`

	qAggregateIterationsSince = `
SELECT coalesce(sum(iteration), 0) FROM worker_metrics WHERE created_at >= $1`

	qAggregateAvgDurationSince = `
SELECT coalesce(avg(duration_ms), 0) FROM worker_metrics WHERE created_at >= $1`

	qInsertPRReview = `
INSERT INTO pr_reviews (id, work_item_id, pr_number, body, approved, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

	qListLearningsByWorkItem = `
SELECT id, work_item_id, content, created_at FROM learnings
WHERE work_item_id = $1 ORDER BY created_at ASC`
)
