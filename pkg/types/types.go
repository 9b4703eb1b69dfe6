// Package types defines the domain model shared by every orchestration
// kernel component: work items, workers, file locks, rate counters, and
// completion metrics.
package types

import "time"

// WorkItemType distinguishes an original execution task from its follow-up
// verification task.
type WorkItemType string

const (
	WorkItemExecution    WorkItemType = "execution"
	WorkItemVerification WorkItemType = "verification"
)

// WorkItemStatus is the work item's position in its state machine.
type WorkItemStatus string

const (
	StatusGenerating WorkItemStatus = "generating"
	StatusQueued     WorkItemStatus = "queued"
	StatusAssigned   WorkItemStatus = "assigned"
	StatusInProgress WorkItemStatus = "in_progress"
	StatusCompleted  WorkItemStatus = "completed"
	StatusFailed     WorkItemStatus = "failed"
	StatusCancelled  WorkItemStatus = "cancelled"
)

// Priority orders queued items: critical > high > medium > low.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// priorityRank gives a total order for SQL ORDER BY and in-memory sorts;
// higher rank is scheduled first.
var priorityRank = map[Priority]int{
	PriorityCritical: 3,
	PriorityHigh:     2,
	PriorityMedium:   1,
	PriorityLow:      0,
}

// Rank returns the priority's sort weight, defaulting unknown values to
// the weight of PriorityLow rather than panicking.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return priorityRank[PriorityLow]
}

// VerificationStatus is merged into WorkItem.Metadata under the
// "verificationStatus" key once a verification item tied to this work
// item's PR completes. Its presence with Passed set is what makes
// "at most one verification chain per PR" enforceable.
type VerificationStatus struct {
	Passed                 *bool      `json:"passed,omitempty"`
	VerificationWorkItemID string     `json:"verificationWorkItemId,omitempty"`
	CompletedAt            *time.Time `json:"completedAt,omitempty"`
}

// Metadata is the opaque, caller-defined JSON blob attached to a work item.
// The kernel only ever reads/writes the "verificationStatus" key itself;
// everything else passes through untouched.
type Metadata map[string]any

// VerificationStatus extracts and decodes the verificationStatus entry, if
// present. A missing or malformed entry returns the zero value, not an
// error — metadata is opaque and callers may store arbitrary shapes there.
func (m Metadata) VerificationStatus() VerificationStatus {
	var vs VerificationStatus
	raw, ok := m["verificationStatus"]
	if !ok {
		return vs
	}
	switch v := raw.(type) {
	case VerificationStatus:
		return v
	case map[string]any:
		if p, ok := v["passed"].(bool); ok {
			vs.Passed = &p
		}
		if id, ok := v["verificationWorkItemId"].(string); ok {
			vs.VerificationWorkItemID = id
		}
		if ts, ok := v["completedAt"].(time.Time); ok {
			vs.CompletedAt = &ts
		}
	}
	return vs
}

// WithVerificationStatus returns a copy of m with verificationStatus set.
func (m Metadata) WithVerificationStatus(vs VerificationStatus) Metadata {
	out := make(Metadata, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out["verificationStatus"] = vs
	return out
}

// WorkItem is the unit of scheduled work: a repository, a specification
// (or pending generation), its retry/priority bookkeeping, and — for
// verification items — a link back to the parent execution item and PR.
type WorkItem struct {
	ID          string       `json:"id"`
	Repo        string       `json:"repo"`
	Branch      string       `json:"branch"`
	Type        WorkItemType `json:"type"`
	Spec        *string      `json:"spec,omitempty"`
	Description *string      `json:"description,omitempty"`
	Title       string       `json:"title,omitempty"`
	Labels      []string     `json:"labels,omitempty"`
	Status      WorkItemStatus `json:"status"`
	Priority    Priority       `json:"priority"`

	WorkerID *string `json:"workerId,omitempty"`

	Iteration     int        `json:"iteration"`
	MaxIterations int        `json:"maxIterations"`
	RetryCount    int        `json:"retryCount"`
	NextRetryAt   *time.Time `json:"nextRetryAt,omitempty"`

	ParentWorkItemID *string `json:"parentWorkItemId,omitempty"`
	PRNumber         *int    `json:"prNumber,omitempty"`
	PRURL            *string `json:"prUrl,omitempty"`

	VerificationPassed *bool `json:"verificationPassed,omitempty"`

	Source    string   `json:"source,omitempty"`
	SourceRef string   `json:"sourceRef,omitempty"`
	Metadata  Metadata `json:"metadata,omitempty"`

	Error *string `json:"error,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsVerification reports whether this item is a verification follow-up.
func (w *WorkItem) IsVerification() bool {
	return w.Type == WorkItemVerification
}

// Eligible reports whether the item is ready for the scheduler to pick it
// up: queued, and either unscheduled for retry or its retry delay elapsed.
func (w *WorkItem) Eligible(now time.Time) bool {
	if w.Status != StatusQueued {
		return false
	}
	if w.NextRetryAt == nil {
		return true
	}
	return !now.Before(*w.NextRetryAt)
}

// WorkerStatus is a single execution attempt's lifecycle position.
type WorkerStatus string

const (
	WorkerStarting  WorkerStatus = "starting"
	WorkerRunning   WorkerStatus = "running"
	WorkerCompleted WorkerStatus = "completed"
	WorkerFailed    WorkerStatus = "failed"
	WorkerStuck     WorkerStatus = "stuck"
	WorkerKilled    WorkerStatus = "killed"
)

// ActiveWorkerStatuses is the set of statuses Worker Supervisor invariants
// treat as "this worker currently owns the work item".
var ActiveWorkerStatuses = []WorkerStatus{WorkerStarting, WorkerRunning}

// IsActive reports whether s is one of the statuses a live worker can be
// in (i.e. not yet terminal).
func (s WorkerStatus) IsActive() bool {
	return s == WorkerStarting || s == WorkerRunning
}

// IsTerminal reports whether s ends the worker's run: completed, failed,
// stuck or killed. A stuck worker can still be moved on to killed.
func (s WorkerStatus) IsTerminal() bool {
	switch s {
	case WorkerCompleted, WorkerFailed, WorkerStuck, WorkerKilled:
		return true
	default:
		return false
	}
}

// Worker represents one execution attempt of a WorkItem, realized as a
// container.
type Worker struct {
	ID         string       `json:"id"`
	WorkItemID string       `json:"workItemId"`
	Status     WorkerStatus `json:"status"`

	Iteration     int        `json:"iteration"`
	LastHeartbeat time.Time  `json:"lastHeartbeat"`
	StartedAt     time.Time  `json:"startedAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`

	ContainerID *string `json:"containerId,omitempty"`
	ExitCode    *int    `json:"exitCode,omitempty"`
	Error       *string `json:"error,omitempty"`
}

// FileLock is an exclusive, advisory per-(repo, filePath) token held by a
// worker for cooperative mutual exclusion between concurrent workers
// operating on the same repository.
type FileLock struct {
	WorkerID   string
	Repo       string
	FilePath   string
	AcquiredAt time.Time
}

// RateCounters is the fast-store snapshot consumed and mutated by the Rate
// Limiter.
type RateCounters struct {
	ActiveWorkers   int
	LastSpawnMs     int64
	DailyIterations int
	DailyResetDate  string // YYYY-MM-DD, UTC
}

// RateStatus is the Rate Limiter's read-only snapshot, including the
// derived CanSpawn verdict.
type RateStatus struct {
	RateCounters
	MaxWorkers      int
	DailyBudget     int
	CooldownSeconds int
	CanSpawn        bool
}

// MetricRecord is one append-only row recorded when a worker completes
// with metrics attached.
type MetricRecord struct {
	ID            string    `json:"id,omitempty"`
	WorkItemID    string    `json:"workItemId,omitempty"`
	WorkerID      string    `json:"workerId,omitempty"`
	TokensIn      int64     `json:"tokensIn"`
	TokensOut     int64     `json:"tokensOut"`
	DurationMs    int64     `json:"durationMs"`
	FilesModified int       `json:"filesModified"`
	TestsRun      int       `json:"testsRun"`
	TestsPassed   int       `json:"testsPassed"`
	Iteration     int       `json:"iteration"`
	CreatedAt     time.Time `json:"createdAt,omitempty"`
}

// QueueStats summarizes work item counts by status and priority, as
// returned by the Queue Manager's getStats and surfaced by the Metrics
// Aggregator.
type QueueStats struct {
	ByStatus   map[WorkItemStatus]int `json:"byStatus"`
	ByPriority map[Priority]int      `json:"byPriority"`
}

// AggregateMetrics is the Metrics Aggregator's read-only summary over the
// durable store.
type AggregateMetrics struct {
	ActiveWorkers         int     `json:"activeWorkers"`
	QueuedItems           int     `json:"queuedItems"`
	CompletedToday        int     `json:"completedToday"`
	FailedToday           int     `json:"failedToday"`
	IterationsToday       int     `json:"iterationsToday"`
	AverageCompletionSecs float64 `json:"averageCompletionSecs"`
	SuccessRate           float64 `json:"successRate"` // completed / (completed + failed), 0 when both are 0
}

// PRReview is an opaque, collaborator-owned completion side effect: the
// kernel persists it verbatim alongside a completed execution work item
// but never reads or interprets its fields itself.
type PRReview struct {
	ID         string    `json:"id,omitempty"`
	WorkItemID string    `json:"workItemId,omitempty"`
	PRNumber   int       `json:"prNumber"`
	Body       string    `json:"body"`
	Approved   bool      `json:"approved"`
	CreatedAt  time.Time `json:"createdAt,omitempty"`
}

// Learning is an opaque, collaborator-owned row the kernel stores but
// never generates or interprets; the learnings endpoint passes it through
// read-only.
type Learning struct {
	ID         string    `json:"id"`
	WorkItemID string    `json:"workItemId"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}
