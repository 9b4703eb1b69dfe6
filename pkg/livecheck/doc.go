/*
Package livecheck provides liveness probes for agent worker containers.

Three checker types share the Checker interface: HTTPChecker polls an
HTTP endpoint, TCPChecker dials a port, ExecChecker runs a command
inside the container and checks its exit code. The Worker Supervisor's
healthCheck pass uses these to decide whether a running worker's
container is still alive between heartbeats, independent of the
heartbeat the worker itself reports.

# Usage

	checker := livecheck.NewHTTPChecker("http://127.0.0.1:8080/health")
	result := checker.Check(ctx)
	if !result.Healthy {
		// container unresponsive
	}

Status tracks consecutive failures/successes so a single flaky probe
doesn't flip a worker's health; Config.Retries controls how many
consecutive failures are required before Status.Healthy goes false.
*/
package livecheck
