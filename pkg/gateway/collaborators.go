package gateway

import (
	"context"
	"fmt"

	"github.com/codefactory/orchestrator/pkg/types"
)

// InsertPRReview persists a collaborator-owned review record verbatim.
// The kernel never reads the fields back for its own logic — this is a
// narrow passthrough, per spec.md §4.1's "does not interpret semantics".
func (g *Gateway) InsertPRReview(ctx context.Context, r types.PRReview) error {
	_, err := g.db.ExecContext(ctx, qInsertPRReview, r.ID, r.WorkItemID, r.PRNumber, r.Body, r.Approved, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("gateway: insert pr review: %w", err)
	}
	return nil
}

// LearningsForWorkItem returns the collaborator-owned learnings recorded
// against a work item, oldest first. The learnings table is populated by
// a collaborator system, not by anything in this module.
func (g *Gateway) LearningsForWorkItem(ctx context.Context, workItemID string) ([]types.Learning, error) {
	rows, err := g.db.QueryContext(ctx, qListLearningsByWorkItem, workItemID)
	if err != nil {
		return nil, fmt.Errorf("gateway: list learnings: %w", err)
	}
	defer rows.Close()

	var out []types.Learning
	for rows.Next() {
		var l types.Learning
		if err := rows.Scan(&l.ID, &l.WorkItemID, &l.Content, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("gateway: scan learning: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("gateway: learnings rows: %w", err)
	}
	return out, nil
}
