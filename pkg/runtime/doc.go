// Package runtime wraps containerd to realize each Worker as an isolated
// container: create with resource limits, start, stop with a grace
// period, tail logs, and inspect — the exact surface the Worker
// Supervisor's spawn/kill/healthCheck operations need and nothing more.
//
// Every operation is scoped to a dedicated containerd namespace so
// orchestrator containers never collide with unrelated workloads on the
// same host. "Not found" on stop, logs, or inspect is treated as benign:
// the worker the caller asked about is already gone, which is the
// outcome they wanted anyway.
package runtime
