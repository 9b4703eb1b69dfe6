// Package types defines the data structures shared by every orchestration
// kernel component.
//
// # Core Types
//
// Queue:
//   - WorkItem: a unit of scheduled work (execution or verification)
//   - WorkItemStatus: generating, queued, assigned, in_progress, completed, failed, cancelled
//   - Priority: low, medium, high, critical — ordered by Rank()
//
// Execution:
//   - Worker: one execution attempt of a WorkItem, realized as a container
//   - WorkerStatus: starting, running, completed, failed, stuck, killed
//
// Coordination:
//   - FileLock: an exclusive per-(repo, filePath) token
//   - RateCounters / RateStatus: fast-store rate limiter state
//
// Reporting:
//   - MetricRecord: one append-only row per completed worker
//   - QueueStats / AggregateMetrics: read-only summaries
//
// # State Machine
//
// A work item moves:
//
//	queued -> in_progress -> completed
//	              |
//	              +-> queued (automatic retry; execution items wait out a backoff)
//	              +-> failed (retry budget exhausted)
//
//	failed, cancelled -> queued (manual requeue)
//
// Spawn moves a queued item straight to in_progress; the gateway also
// offers queued -> assigned -> in_progress as two separate steps.
//
// A worker moves:
//
//	starting -> running -> completed
//	               |
//	               +-> failed
//	               +-> stuck -> killed
package types
