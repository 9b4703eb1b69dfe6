package runtime

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/errdefs"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// DefaultNamespace is the containerd namespace agent worker containers run
// in, isolating them from any other workload on the host.
const DefaultNamespace = "codefactory"

// DefaultSocketPath is containerd's default control socket.
const DefaultSocketPath = "/run/containerd/containerd.sock"

// CreateSpec is the container creation request the Worker Supervisor
// issues for each spawn.
type CreateSpec struct {
	ID          string
	Image       string
	Env         []string
	MemoryBytes int64
	CPUCores    float64
	PIDLimit    int
	Network     string
	AutoRemove  bool
	Mounts      []Mount
}

// Mount bind-mounts a host path into a spawned container, used to give an
// agent-worker container access to its work item's repo checkout.
type Mount struct {
	Source      string
	Destination string
	ReadOnly    bool
}

// LogOptions controls Handle.Logs.
type LogOptions struct {
	Tail   int
	Stdout bool
	Stderr bool
}

// Inspect is a handle's point-in-time status snapshot.
type Inspect struct {
	ID       string
	Running  bool
	ExitCode int
	Found    bool
}

// Handle is a single container's lifecycle surface.
type Handle interface {
	ID() string
	Start(ctx context.Context) error
	Stop(ctx context.Context, graceSeconds int) error
	Logs(ctx context.Context, opts LogOptions) ([]byte, error)
	Inspect(ctx context.Context) (Inspect, error)
}

// Runtime creates and looks up container handles.
type Runtime interface {
	CreateContainer(ctx context.Context, spec CreateSpec) (Handle, error)
	GetContainer(ctx context.Context, id string) (Handle, error)
	Close() error
}

// ContainerdRuntime implements Runtime over a containerd client.
type ContainerdRuntime struct {
	client    *containerd.Client
	namespace string
}

// NewContainerdRuntime dials socketPath (DefaultSocketPath if empty).
func NewContainerdRuntime(socketPath string) (*ContainerdRuntime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("runtime: connect to containerd: %w", err)
	}

	return &ContainerdRuntime{client: client, namespace: DefaultNamespace}, nil
}

// Close releases the containerd client connection.
func (r *ContainerdRuntime) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

func ociMounts(mounts []Mount) []specs.Mount {
	out := make([]specs.Mount, 0, len(mounts))
	for _, m := range mounts {
		options := []string{"rbind"}
		if m.ReadOnly {
			options = append(options, "ro")
		} else {
			options = append(options, "rw")
		}
		out = append(out, specs.Mount{
			Source:      m.Source,
			Destination: m.Destination,
			Type:        "bind",
			Options:     options,
		})
	}
	return out
}

func (r *ContainerdRuntime) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, r.namespace)
}

// CreateContainer pulls spec.Image if needed and creates (but does not
// start) a container with the requested resource limits and mounts. A
// non-empty spec.Network only sets the container's hostname to spec.ID; no
// network is attached.
func (r *ContainerdRuntime) CreateContainer(ctx context.Context, spec CreateSpec) (Handle, error) {
	ctx = r.ctx(ctx)

	image, err := r.client.GetImage(ctx, spec.Image)
	if err != nil {
		image, err = r.client.Pull(ctx, spec.Image, containerd.WithPullUnpack)
		if err != nil {
			return nil, fmt.Errorf("runtime: pull image %s: %w", spec.Image, err)
		}
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(spec.Env),
	}
	if spec.CPUCores > 0 {
		shares := uint64(spec.CPUCores * 1024)
		quota := int64(spec.CPUCores * 100000)
		opts = append(opts, oci.WithCPUShares(shares), oci.WithCPUCFS(quota, 100000))
	}
	if spec.MemoryBytes > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(spec.MemoryBytes)))
	}
	if spec.PIDLimit > 0 {
		opts = append(opts, oci.WithPidsLimit(int64(spec.PIDLimit)))
	}
	if spec.Network != "" {
		opts = append(opts, oci.WithHostname(spec.ID))
	}
	if len(spec.Mounts) > 0 {
		opts = append(opts, oci.WithMounts(ociMounts(spec.Mounts)))
	}

	ctrdContainer, err := r.client.NewContainer(
		ctx,
		spec.ID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(spec.ID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return nil, fmt.Errorf("runtime: create container %s: %w", spec.ID, err)
	}

	return &containerdHandle{id: ctrdContainer.ID(), runtime: r, autoRemove: spec.AutoRemove}, nil
}

// GetContainer looks up an existing container by ID.
func (r *ContainerdRuntime) GetContainer(ctx context.Context, id string) (Handle, error) {
	ctx = r.ctx(ctx)
	if _, err := r.client.LoadContainer(ctx, id); err != nil {
		if errdefs.IsNotFound(err) {
			return nil, ErrContainerNotFound
		}
		return nil, fmt.Errorf("runtime: load container %s: %w", id, err)
	}
	return &containerdHandle{id: id, runtime: r}, nil
}

// ErrContainerNotFound is returned by GetContainer for an unknown ID. The
// Worker Supervisor and healthCheck treat it as benign.
var ErrContainerNotFound = errors.New("runtime: container not found")

type containerdHandle struct {
	id         string
	runtime    *ContainerdRuntime
	autoRemove bool
}

func (h *containerdHandle) ID() string { return h.id }

func (h *containerdHandle) Start(ctx context.Context) error {
	ctx = h.runtime.ctx(ctx)

	c, err := h.runtime.client.LoadContainer(ctx, h.id)
	if err != nil {
		return fmt.Errorf("runtime: load container %s: %w", h.id, err)
	}

	task, err := c.NewTask(ctx, cio.NullIO)
	if err != nil {
		return fmt.Errorf("runtime: create task %s: %w", h.id, err)
	}
	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("runtime: start task %s: %w", h.id, err)
	}
	return nil
}

// Stop sends SIGTERM, waits up to graceSeconds, then SIGKILLs and tears
// down the task. "Already gone" at any step is tolerated.
func (h *containerdHandle) Stop(ctx context.Context, graceSeconds int) error {
	ctx = h.runtime.ctx(ctx)

	c, err := h.runtime.client.LoadContainer(ctx, h.id)
	if errdefs.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("runtime: load container %s: %w", h.id, err)
	}

	task, err := c.Task(ctx, nil)
	if err != nil {
		return nil // no task: nothing running to stop
	}

	if graceSeconds <= 0 {
		graceSeconds = 10
	}
	stopCtx, cancel := context.WithTimeout(ctx, time.Duration(graceSeconds)*time.Second)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("runtime: sigterm %s: %w", h.id, err)
	}

	statusC, err := task.Wait(stopCtx)
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("runtime: wait %s: %w", h.id, err)
	}
	if err == nil {
		select {
		case <-statusC:
		case <-stopCtx.Done():
			if err := task.Kill(ctx, syscall.SIGKILL); err != nil && !errdefs.IsNotFound(err) {
				return fmt.Errorf("runtime: sigkill %s: %w", h.id, err)
			}
		}
	}

	if _, err := task.Delete(ctx); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("runtime: delete task %s: %w", h.id, err)
	}

	if h.autoRemove {
		if err := c.Delete(ctx, containerd.WithSnapshotCleanup); err != nil && !errdefs.IsNotFound(err) {
			return fmt.Errorf("runtime: delete container %s: %w", h.id, err)
		}
	}
	return nil
}

// Logs returns the container's stdio output. Live log capture requires a
// cio.LogFile attached at Start; until that's wired up, callers get an
// empty slice rather than an error so the Worker Supervisor's kill path
// can proceed without logs instead of failing its rollback.
func (h *containerdHandle) Logs(ctx context.Context, opts LogOptions) ([]byte, error) {
	ctx = h.runtime.ctx(ctx)
	if _, err := h.runtime.client.LoadContainer(ctx, h.id); err != nil {
		if errdefs.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("runtime: load container %s: %w", h.id, err)
	}
	return nil, nil
}

func (h *containerdHandle) Inspect(ctx context.Context) (Inspect, error) {
	ctx = h.runtime.ctx(ctx)

	c, err := h.runtime.client.LoadContainer(ctx, h.id)
	if errdefs.IsNotFound(err) {
		return Inspect{ID: h.id, Found: false}, nil
	}
	if err != nil {
		return Inspect{}, fmt.Errorf("runtime: load container %s: %w", h.id, err)
	}

	task, err := c.Task(ctx, nil)
	if err != nil {
		return Inspect{ID: h.id, Found: true}, nil
	}

	status, err := task.Status(ctx)
	if err != nil {
		return Inspect{}, fmt.Errorf("runtime: task status %s: %w", h.id, err)
	}

	return Inspect{
		ID:       h.id,
		Found:    true,
		Running:  status.Status == containerd.Running || status.Status == containerd.Paused,
		ExitCode: int(status.ExitStatus),
	}, nil
}
