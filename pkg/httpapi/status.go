package httpapi

import (
	"net/http"

	"github.com/codefactory/orchestrator/pkg/types"
)

type statusResponse struct {
	Status  string                `json:"status"`
	Queue   types.QueueStats      `json:"queue"`
	Metrics types.AggregateMetrics `json:"metrics"`
}

func (rt *Router) status(w http.ResponseWriter, r *http.Request) {
	queueStats, err := rt.deps.Metrics.QueueStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	summary, err := rt.deps.Metrics.Summary(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok", Queue: queueStats, Metrics: summary})
}

func (rt *Router) metricsSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := rt.deps.Metrics.Summary(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
