package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefactory/orchestrator/pkg/apierr"
	"github.com/codefactory/orchestrator/pkg/gateway/gatewaytest"
	"github.com/codefactory/orchestrator/pkg/queue"
	"github.com/codefactory/orchestrator/pkg/types"
)

func newManager() (*queue.Manager, *gatewaytest.Gateway) {
	store := gatewaytest.New()
	return queue.New(store, func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }), store
}

func TestAdd_SpecGoesStraightToQueued(t *testing.T) {
	m, _ := newManager()
	spec := "# Do X"

	item, err := m.Add(context.Background(), queue.AddRequest{Repo: "o/r", Spec: &spec})
	require.NoError(t, err)
	assert.Equal(t, types.StatusQueued, item.Status)
	assert.NotEmpty(t, item.Branch)
}

func TestAdd_DescriptionStartsGenerating(t *testing.T) {
	m, _ := newManager()
	desc := "do a thing"

	item, err := m.Add(context.Background(), queue.AddRequest{Repo: "o/r", Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, types.StatusGenerating, item.Status)
}

func TestAdd_RejectsBothOrNeither(t *testing.T) {
	m, _ := newManager()

	_, err := m.Add(context.Background(), queue.AddRequest{Repo: "o/r"})
	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.CodeValidation, apiErr.Code)

	spec, desc := "s", "d"
	_, err = m.Add(context.Background(), queue.AddRequest{Repo: "o/r", Spec: &spec, Description: &desc})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.CodeValidation, apiErr.Code)
}

func TestCancel_FromQueuedSucceeds(t *testing.T) {
	m, _ := newManager()
	spec := "s"
	item, err := m.Add(context.Background(), queue.AddRequest{Repo: "o/r", Spec: &spec})
	require.NoError(t, err)

	ok, err := m.Cancel(context.Background(), item.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := m.Get(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, got.Status)
}

func TestCancel_FromCompletedReturnsFalse(t *testing.T) {
	m, store := newManager()
	spec := "s"
	item, err := m.Add(context.Background(), queue.AddRequest{Repo: "o/r", Spec: &spec})
	require.NoError(t, err)

	require.NoError(t, store.AssignWorkItem(context.Background(), item.ID, "w1"))
	require.NoError(t, store.StartWorkItem(context.Background(), item.ID))
	require.NoError(t, store.CompleteWorkItem(context.Background(), item.ID, nil, nil, nil))

	ok, err := m.Cancel(context.Background(), item.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRequeue_FromInvalidStatusErrors(t *testing.T) {
	m, _ := newManager()
	spec := "s"
	item, err := m.Add(context.Background(), queue.AddRequest{Repo: "o/r", Spec: &spec})
	require.NoError(t, err)

	_, err = m.Requeue(context.Background(), item.ID)
	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.CodeInvalidState, apiErr.Code)
}

func TestNextEligible_ReturnsHighestPriorityQueuedItem(t *testing.T) {
	m, _ := newManager()
	spec := "s"
	low, err := m.Add(context.Background(), queue.AddRequest{Repo: "o/r", Spec: &spec, Priority: types.PriorityLow})
	require.NoError(t, err)
	_ = low

	critical, err := m.Add(context.Background(), queue.AddRequest{Repo: "o/r", Spec: &spec, Priority: types.PriorityCritical})
	require.NoError(t, err)

	next, ok, err := m.NextEligible(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, critical.ID, next.ID)
}

func TestNextEligible_EmptyQueueReturnsFalse(t *testing.T) {
	m, _ := newManager()
	_, ok, err := m.NextEligible(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAddVerificationWorkItem_InheritsParent(t *testing.T) {
	m, _ := newManager()
	spec := "s"
	parent, err := m.Add(context.Background(), queue.AddRequest{Repo: "o/r", Spec: &spec, Source: "github"})
	require.NoError(t, err)

	verification, err := m.AddVerificationWorkItem(context.Background(), parent, 42)
	require.NoError(t, err)
	assert.Equal(t, types.WorkItemVerification, verification.Type)
	assert.Equal(t, parent.ID, *verification.ParentWorkItemID)
	assert.Equal(t, 42, *verification.PRNumber)
	assert.Equal(t, "github", verification.Source)
}
