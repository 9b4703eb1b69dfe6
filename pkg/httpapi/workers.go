package httpapi

import (
	"net/http"

	"github.com/codefactory/orchestrator/pkg/apierr"
	"github.com/codefactory/orchestrator/pkg/supervisor"
	"github.com/codefactory/orchestrator/pkg/types"
)

type registerWorkerRequest struct {
	WorkItemID  string `json:"workItemId"`
	ContainerID string `json:"containerId,omitempty"`
}

type registerWorkerResponse struct {
	WorkerID string         `json:"workerId"`
	WorkItem types.WorkItem `json:"workItem"`
	Token    string         `json:"token,omitempty"`
}

func (rt *Router) registerWorker(w http.ResponseWriter, r *http.Request) {
	var req registerWorkerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.WorkItemID == "" {
		writeError(w, apierr.Validation("workItemId is required"))
		return
	}

	result, err := rt.deps.Worker.Register(r.Context(), req.WorkItemID, req.ContainerID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, registerWorkerResponse{
		WorkerID: result.Worker.ID,
		WorkItem: result.WorkItem,
		Token:    result.Token,
	})
}

type heartbeatRequest struct {
	WorkerID  string `json:"workerId"`
	Iteration int    `json:"iteration"`
}

func (rt *Router) heartbeatWorker(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := checkWorkerMatch(r, req.WorkerID); err != nil {
		writeError(w, err)
		return
	}

	if err := rt.deps.Worker.Heartbeat(r.Context(), req.WorkerID, req.Iteration); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type acquireLocksRequest struct {
	WorkerID string   `json:"workerId"`
	Repo     string   `json:"repo"`
	Files    []string `json:"files"`
}

type acquireLocksResponse struct {
	Acquired []string `json:"acquired"`
	Blocked  []string `json:"blocked"`
}

func (rt *Router) acquireLocks(w http.ResponseWriter, r *http.Request) {
	var req acquireLocksRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := checkWorkerMatch(r, req.WorkerID); err != nil {
		writeError(w, err)
		return
	}

	result, err := rt.deps.Locks.AcquireLocks(r.Context(), req.WorkerID, req.Repo, req.Files)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acquireLocksResponse{Acquired: result.Acquired, Blocked: result.Blocked})
}

type releaseLocksRequest struct {
	WorkerID string   `json:"workerId"`
	Repo     string   `json:"repo"`
	Files    []string `json:"files"`
}

func (rt *Router) releaseLocks(w http.ResponseWriter, r *http.Request) {
	var req releaseLocksRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := checkWorkerMatch(r, req.WorkerID); err != nil {
		writeError(w, err)
		return
	}

	if err := rt.deps.Locks.ReleaseLocks(r.Context(), req.WorkerID, req.Repo, req.Files); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type reviewInput struct {
	Body     string `json:"body"`
	Approved bool   `json:"approved"`
}

type completeWorkerRequest struct {
	WorkerID            string             `json:"workerId"`
	ExitCode            int                `json:"exitCode"`
	PRURL               *string            `json:"prUrl,omitempty"`
	PRNumber            *int               `json:"prNumber,omitempty"`
	VerificationPassed  *bool              `json:"verificationPassed,omitempty"`
	VerificationEnabled bool               `json:"verificationEnabled,omitempty"`
	Metrics             *types.MetricRecord `json:"metrics,omitempty"`
	Review              *reviewInput        `json:"review,omitempty"`
}

func (rt *Router) completeWorker(w http.ResponseWriter, r *http.Request) {
	var req completeWorkerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := checkWorkerMatch(r, req.WorkerID); err != nil {
		writeError(w, err)
		return
	}

	payload := supervisor.CompletePayload{
		ExitCode:           req.ExitCode,
		PRNumber:           req.PRNumber,
		PRURL:              req.PRURL,
		VerificationPassed: req.VerificationPassed,
		ChainVerification:  req.VerificationEnabled,
		Metrics:            req.Metrics,
	}
	if req.Review != nil {
		payload.Review = &supervisor.ReviewInput{Body: req.Review.Body, Approved: req.Review.Approved}
	}

	if err := rt.deps.Worker.Complete(r.Context(), req.WorkerID, payload); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type failWorkerRequest struct {
	WorkerID  string `json:"workerId"`
	Error     string `json:"error"`
	Iteration int    `json:"iteration"`
}

func (rt *Router) failWorker(w http.ResponseWriter, r *http.Request) {
	var req failWorkerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := checkWorkerMatch(r, req.WorkerID); err != nil {
		writeError(w, err)
		return
	}

	if err := rt.deps.Worker.Fail(r.Context(), req.WorkerID, req.Error, req.Iteration); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type stuckWorkerRequest struct {
	WorkerID string `json:"workerId"`
	Reason   string `json:"reason"`
	Attempts int    `json:"attempts"`
}

func (rt *Router) stuckWorker(w http.ResponseWriter, r *http.Request) {
	var req stuckWorkerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := checkWorkerMatch(r, req.WorkerID); err != nil {
		writeError(w, err)
		return
	}

	if err := rt.deps.Worker.Stuck(r.Context(), req.WorkerID, req.Reason, req.Attempts); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type killWorkerRequest struct {
	WorkerID string `json:"workerId"`
	Reason   string `json:"reason"`
}

func (rt *Router) killWorker(w http.ResponseWriter, r *http.Request) {
	var req killWorkerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := checkWorkerMatch(r, req.WorkerID); err != nil {
		writeError(w, err)
		return
	}

	if err := rt.deps.Worker.Kill(r.Context(), req.WorkerID, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
