// Package queue is the Queue Manager: creates, lists, cancels, and
// requeues work items, and chains verification items onto completed
// execution items. It owns no state beyond what the Persistence Gateway
// holds — every operation is a thin, validated wrapper over gateway calls.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/codefactory/orchestrator/pkg/apierr"
	"github.com/codefactory/orchestrator/pkg/gateway"
	"github.com/codefactory/orchestrator/pkg/types"
)

// Store is the subset of pkg/gateway.Gateway the Queue Manager depends on.
type Store interface {
	InsertWorkItem(ctx context.Context, w types.WorkItem) error
	GetWorkItem(ctx context.Context, id string) (types.WorkItem, error)
	ListWorkItems(ctx context.Context, typeFilter types.WorkItemType) ([]types.WorkItem, error)
	CancelWorkItem(ctx context.Context, id string) error
	RequeueWorkItem(ctx context.Context, id string) error
	QueueStats(ctx context.Context) (types.QueueStats, error)
	ListEligibleWorkItems(ctx context.Context, now time.Time) ([]types.WorkItem, error)
}

// Manager implements the Queue Manager's public contract.
type Manager struct {
	store Store
	now   func() time.Time
}

// New builds a Manager. now defaults to time.Now.
func New(store Store, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{store: store, now: now}
}

// AddRequest is the caller-supplied shape for Add. Exactly one of Spec or
// Description must be set.
type AddRequest struct {
	Repo          string
	Spec          *string
	Description   *string
	Source        string
	SourceRef     string
	Priority      types.Priority
	MaxIterations int
}

// Add validates request and creates a new execution work item. A
// description-only request starts in "generating" status, awaiting an
// external spec-synthesis collaborator; a spec-bearing request goes
// straight to "queued".
func (m *Manager) Add(ctx context.Context, req AddRequest) (types.WorkItem, error) {
	hasSpec := req.Spec != nil && *req.Spec != ""
	hasDescription := req.Description != nil && *req.Description != ""
	if hasSpec == hasDescription {
		return types.WorkItem{}, apierr.Validation("exactly one of spec or description must be present")
	}
	if req.Repo == "" {
		return types.WorkItem{}, apierr.Validation("repo is required")
	}

	status := types.StatusQueued
	if hasDescription {
		status = types.StatusGenerating
	}

	priority := req.Priority
	if priority == "" {
		priority = types.PriorityMedium
	}
	maxIterations := req.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 10
	}

	id := uuid.NewString()
	now := m.now()
	item := types.WorkItem{
		ID:            id,
		Repo:          req.Repo,
		Branch:        "factory/" + id,
		Type:          types.WorkItemExecution,
		Spec:          req.Spec,
		Description:   req.Description,
		Status:        status,
		Priority:      priority,
		MaxIterations: maxIterations,
		Source:        req.Source,
		SourceRef:     req.SourceRef,
		Metadata:      types.Metadata{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := m.store.InsertWorkItem(ctx, item); err != nil {
		return types.WorkItem{}, fmt.Errorf("queue: add: %w", err)
	}
	return item, nil
}

// Get fetches a single work item, translating a missing row into
// apierr.NotFound.
func (m *Manager) Get(ctx context.Context, id string) (types.WorkItem, error) {
	item, err := m.store.GetWorkItem(ctx, id)
	if errors.Is(err, gateway.ErrNotFound) {
		return types.WorkItem{}, apierr.NotFound("work item %s not found", id)
	}
	if err != nil {
		return types.WorkItem{}, fmt.Errorf("queue: get: %w", err)
	}
	return item, nil
}

// List returns every work item, optionally filtered by type.
func (m *Manager) List(ctx context.Context, typeFilter types.WorkItemType) ([]types.WorkItem, error) {
	items, err := m.store.ListWorkItems(ctx, typeFilter)
	if err != nil {
		return nil, fmt.Errorf("queue: list: %w", err)
	}
	return items, nil
}

// GetStats summarizes work item counts by status and by priority.
func (m *Manager) GetStats(ctx context.Context) (types.QueueStats, error) {
	stats, err := m.store.QueueStats(ctx)
	if err != nil {
		return types.QueueStats{}, fmt.Errorf("queue: get stats: %w", err)
	}
	return stats, nil
}

// Cancel moves a generating or queued item to cancelled. It reports false,
// not an error, when the item exists but is in a non-cancellable status,
// distinguishing "not found" from "wrong state" for the caller.
func (m *Manager) Cancel(ctx context.Context, id string) (bool, error) {
	err := m.store.CancelWorkItem(ctx, id)
	if errors.Is(err, gateway.ErrNotFound) {
		if _, getErr := m.Get(ctx, id); getErr != nil {
			return false, getErr
		}
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("queue: cancel: %w", err)
	}
	return true, nil
}

// Requeue moves a failed or cancelled item back to queued, clearing its
// retry bookkeeping. Any other current status is an invalid-state error,
// distinct from not-found.
func (m *Manager) Requeue(ctx context.Context, id string) (types.WorkItem, error) {
	item, err := m.Get(ctx, id)
	if err != nil {
		return types.WorkItem{}, err
	}
	if item.Status != types.StatusFailed && item.Status != types.StatusCancelled {
		return types.WorkItem{}, apierr.InvalidState("work item %s is %s, not failed or cancelled", id, item.Status)
	}

	if err := m.store.RequeueWorkItem(ctx, id); err != nil {
		return types.WorkItem{}, fmt.Errorf("queue: requeue: %w", err)
	}
	return m.Get(ctx, id)
}

// NextEligible returns the highest-priority, oldest queued item that's
// past its retry delay (if any), or (zero, false) when nothing is ready.
// The Scheduler Loop calls this once per tick.
func (m *Manager) NextEligible(ctx context.Context) (types.WorkItem, bool, error) {
	items, err := m.store.ListEligibleWorkItems(ctx, m.now())
	if err != nil {
		return types.WorkItem{}, false, fmt.Errorf("queue: next eligible: %w", err)
	}
	if len(items) == 0 {
		return types.WorkItem{}, false, nil
	}
	return items[0], true, nil
}

// AddVerificationWorkItem creates a verification-typed item bound to
// parent's PR, inheriting repo and source but tracking its own iteration
// budget.
func (m *Manager) AddVerificationWorkItem(ctx context.Context, parent types.WorkItem, prNumber int) (types.WorkItem, error) {
	id := uuid.NewString()
	now := m.now()
	item := types.WorkItem{
		ID:               id,
		Repo:             parent.Repo,
		Branch:           "factory/" + id,
		Type:             types.WorkItemVerification,
		Status:           types.StatusQueued,
		Priority:         parent.Priority,
		MaxIterations:    5,
		ParentWorkItemID: &parent.ID,
		PRNumber:         &prNumber,
		Source:           parent.Source,
		SourceRef:        parent.SourceRef,
		Metadata:         types.Metadata{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := m.store.InsertWorkItem(ctx, item); err != nil {
		return types.WorkItem{}, fmt.Errorf("queue: add verification work item: %w", err)
	}
	return item, nil
}
