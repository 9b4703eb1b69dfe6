package metricsagg_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefactory/orchestrator/pkg/gateway/gatewaytest"
	"github.com/codefactory/orchestrator/pkg/metricsagg"
	"github.com/codefactory/orchestrator/pkg/types"
)

func TestSummary_ZeroSafeOnEmptyCorpus(t *testing.T) {
	store := gatewaytest.New()
	agg := metricsagg.New(store, nil)

	summary, err := agg.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.AggregateMetrics{}, summary)
}

func TestSummary_ComputesSuccessRate(t *testing.T) {
	store := gatewaytest.New()
	now := time.Now()
	agg := metricsagg.New(store, func() time.Time { return now })

	spec := "do it"
	for i, status := range []types.WorkItemStatus{types.StatusCompleted, types.StatusCompleted, types.StatusFailed} {
		item := types.WorkItem{
			ID:        "item-" + string(rune('a'+i)),
			Repo:      "acme/repo",
			Branch:    "factory/item-" + string(rune('a'+i)),
			Type:      types.WorkItemExecution,
			Spec:      &spec,
			Status:    status,
			Priority:  types.PriorityMedium,
			CreatedAt: now,
			UpdatedAt: now,
		}
		require.NoError(t, store.InsertWorkItem(context.Background(), item))
	}

	summary, err := agg.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.CompletedToday)
	assert.Equal(t, 1, summary.FailedToday)
	assert.InDelta(t, 2.0/3.0, summary.SuccessRate, 0.0001)
}
