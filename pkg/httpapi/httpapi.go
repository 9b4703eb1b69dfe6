package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/codefactory/orchestrator/pkg/conflict"
	"github.com/codefactory/orchestrator/pkg/log"
	"github.com/codefactory/orchestrator/pkg/queue"
	"github.com/codefactory/orchestrator/pkg/supervisor"
	"github.com/codefactory/orchestrator/pkg/types"
	"github.com/codefactory/orchestrator/pkg/workerauth"
)

// QueueManager is the subset of pkg/queue.Manager the API surface needs.
type QueueManager interface {
	Add(ctx context.Context, req queue.AddRequest) (types.WorkItem, error)
	Get(ctx context.Context, id string) (types.WorkItem, error)
	List(ctx context.Context, typeFilter types.WorkItemType) ([]types.WorkItem, error)
	Cancel(ctx context.Context, id string) (bool, error)
	Requeue(ctx context.Context, id string) (types.WorkItem, error)
}

// WorkerSupervisor is the subset of pkg/supervisor.Supervisor the API
// surface needs — every worker-callback operation except Spawn and
// HealthCheck, which belong to the Scheduler Loop, not the HTTP adapter.
type WorkerSupervisor interface {
	Register(ctx context.Context, workItemID, containerID string) (supervisor.RegisterResult, error)
	Heartbeat(ctx context.Context, workerID string, iteration int) error
	Complete(ctx context.Context, workerID string, payload supervisor.CompletePayload) error
	Fail(ctx context.Context, workerID, errMsg string, iteration int) error
	Stuck(ctx context.Context, workerID, reason string, attempts int) error
	Kill(ctx context.Context, workerID, reason string) error
}

// LockArbiter is the subset of pkg/conflict.Arbiter the API surface needs.
type LockArbiter interface {
	AcquireLocks(ctx context.Context, workerID, repo string, filePaths []string) (conflict.AcquireResult, error)
	ReleaseLocks(ctx context.Context, workerID, repo string, filePaths []string) error
}

// MetricsSource is the subset of pkg/metricsagg.Aggregator the API surface
// needs.
type MetricsSource interface {
	Summary(ctx context.Context) (types.AggregateMetrics, error)
	QueueStats(ctx context.Context) (types.QueueStats, error)
}

// LearningsSource is the narrow passthrough onto pkg/gateway.Gateway's
// collaborator-owned learnings table.
type LearningsSource interface {
	LearningsForWorkItem(ctx context.Context, workItemID string) ([]types.Learning, error)
}

// TokenValidator is the subset of pkg/workerauth.Issuer the API surface
// needs to authenticate worker callbacks.
type TokenValidator interface {
	Validate(value string) (*workerauth.Token, error)
}

// Dependencies wires every core component the HTTP adapter depends on.
// Tokens is optional: a nil Tokens disables worker-callback authentication
// entirely, which is useful for tests and for operators who haven't
// wired workerauth into their deployment.
type Dependencies struct {
	Queue     QueueManager
	Worker    WorkerSupervisor
	Locks     LockArbiter
	Metrics   MetricsSource
	Learnings LearningsSource
	Tokens    TokenValidator
	Logger    zerolog.Logger
}

// Router builds the chi.Mux implementing the orchestration kernel's
// HTTP/JSON surface.
type Router struct {
	deps Dependencies
}

// NewRouter constructs the full route table over deps.
func NewRouter(deps Dependencies) *chi.Mux {
	if deps.Logger == (zerolog.Logger{}) {
		deps.Logger = log.WithComponent("httpapi")
	}
	rt := &Router{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(rt.deps.Logger))

	r.Route("/work-items", func(r chi.Router) {
		r.Post("/", rt.submitWorkItem)
		r.Get("/", rt.listWorkItems)
		r.Get("/{id}", rt.getWorkItem)
		r.Post("/{id}/cancel", rt.cancelWorkItem)
		r.Post("/{id}/requeue", rt.requeueWorkItem)
		r.Get("/{id}/learnings", rt.learningsForWorkItem)
	})

	r.Route("/workers", func(r chi.Router) {
		r.Post("/register", rt.registerWorker)
		r.With(rt.requireWorkerAuth).Post("/heartbeat", rt.heartbeatWorker)
		r.With(rt.requireWorkerAuth).Post("/locks/acquire", rt.acquireLocks)
		r.With(rt.requireWorkerAuth).Post("/locks/release", rt.releaseLocks)
		r.With(rt.requireWorkerAuth).Post("/complete", rt.completeWorker)
		r.With(rt.requireWorkerAuth).Post("/fail", rt.failWorker)
		r.With(rt.requireWorkerAuth).Post("/stuck", rt.stuckWorker)
		r.With(rt.requireWorkerAuth).Post("/kill", rt.killWorker)
	})

	r.Get("/status", rt.status)
	r.Get("/metrics/summary", rt.metricsSummary)

	return r
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("request")
			next.ServeHTTP(w, r)
		})
	}
}
