// Package httpapi is the thin HTTP/JSON adapter over the orchestration
// kernel: it translates chi-routed requests into calls against the Queue
// Manager, Worker Supervisor, Conflict Arbiter, and Metrics Aggregator,
// and maps their apierr.Code classification onto the closed status-code
// set {201, 200, 400, 404, 500}. It holds no domain logic of its own —
// every handler decodes a request, calls the core operation(s) it maps
// onto, and encodes the result or error.
package httpapi
