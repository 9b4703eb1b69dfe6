// Package runtimetest provides an in-memory runtime.Runtime fake so
// pkg/supervisor can be unit tested without a live containerd socket.
package runtimetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/codefactory/orchestrator/pkg/runtime"
)

// Runtime is a mutex-guarded in-memory fake. FailCreate/FailStart let
// tests exercise the Worker Supervisor's spawn-rollback path.
type Runtime struct {
	mu         sync.Mutex
	containers map[string]*handle
	FailCreate bool
	FailStart  bool

	// LastSpec records the CreateSpec passed to the most recent
	// CreateContainer call, so tests can assert on the env/resource
	// limits the Worker Supervisor built without a live containerd.
	LastSpec runtime.CreateSpec
}

// New creates an empty Runtime.
func New() *Runtime {
	return &Runtime{containers: make(map[string]*handle)}
}

func (r *Runtime) CreateContainer(ctx context.Context, spec runtime.CreateSpec) (runtime.Handle, error) {
	r.mu.Lock()
	r.LastSpec = spec
	r.mu.Unlock()
	if r.FailCreate {
		return nil, fmt.Errorf("runtimetest: simulated create failure")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	h := &handle{id: spec.ID, rt: r}
	r.containers[spec.ID] = h
	return h, nil
}

func (r *Runtime) GetContainer(ctx context.Context, id string) (runtime.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.containers[id]
	if !ok {
		return nil, runtime.ErrContainerNotFound
	}
	return h, nil
}

func (r *Runtime) Close() error { return nil }

type handle struct {
	id      string
	rt      *Runtime
	started bool
	stopped bool
}

func (h *handle) ID() string { return h.id }

func (h *handle) Start(ctx context.Context) error {
	if h.rt.FailStart {
		return fmt.Errorf("runtimetest: simulated start failure")
	}
	h.started = true
	return nil
}

func (h *handle) Stop(ctx context.Context, graceSeconds int) error {
	h.stopped = true
	return nil
}

func (h *handle) Logs(ctx context.Context, opts runtime.LogOptions) ([]byte, error) {
	return []byte("fake container log\n"), nil
}

func (h *handle) Inspect(ctx context.Context) (runtime.Inspect, error) {
	return runtime.Inspect{ID: h.id, Found: true, Running: h.started && !h.stopped}, nil
}
