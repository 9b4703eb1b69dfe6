package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/codefactory/orchestrator/pkg/apierr"
	"github.com/codefactory/orchestrator/pkg/queue"
	"github.com/codefactory/orchestrator/pkg/types"
)

type submitWorkItemRequest struct {
	Repo          string         `json:"repo"`
	Spec          *string        `json:"spec,omitempty"`
	Description   *string        `json:"description,omitempty"`
	Source        string         `json:"source,omitempty"`
	SourceRef     string         `json:"sourceRef,omitempty"`
	Priority      types.Priority `json:"priority,omitempty"`
	MaxIterations int            `json:"maxIterations,omitempty"`
}

func (rt *Router) submitWorkItem(w http.ResponseWriter, r *http.Request) {
	var req submitWorkItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	item, err := rt.deps.Queue.Add(r.Context(), queue.AddRequest{
		Repo:          req.Repo,
		Spec:          req.Spec,
		Description:   req.Description,
		Source:        req.Source,
		SourceRef:     req.SourceRef,
		Priority:      req.Priority,
		MaxIterations: req.MaxIterations,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (rt *Router) getWorkItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	item, err := rt.deps.Queue.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (rt *Router) listWorkItems(w http.ResponseWriter, r *http.Request) {
	typeFilter := types.WorkItemType(r.URL.Query().Get("type"))
	if typeFilter != "" && typeFilter != types.WorkItemExecution && typeFilter != types.WorkItemVerification {
		writeError(w, apierr.Validation("unknown type filter %q", typeFilter))
		return
	}

	items, err := rt.deps.Queue.List(r.Context(), typeFilter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (rt *Router) cancelWorkItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cancelled, err := rt.deps.Queue.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !cancelled {
		writeError(w, apierr.InvalidState("work item %s is not in a cancellable state", id))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (rt *Router) requeueWorkItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	item, err := rt.deps.Queue.Requeue(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (rt *Router) learningsForWorkItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if rt.deps.Learnings == nil {
		writeJSON(w, http.StatusOK, []types.Learning{})
		return
	}
	learnings, err := rt.deps.Learnings.LearningsForWorkItem(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if learnings == nil {
		learnings = []types.Learning{}
	}
	writeJSON(w, http.StatusOK, learnings)
}
