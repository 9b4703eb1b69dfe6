/*
Package metrics provides Prometheus metrics collection and exposition.

Metrics are registered at package init and exposed via Handler() for
scraping. Categories: queue (work items by status/priority), workers
(active count, spawn/stuck/kill totals), scheduler (tick latency, spawn
duration, work item duration), rate limiter (daily iterations, denied
spawns), conflict arbiter (locks held, conflicts), and the HTTP API
(request count and duration).

Collector polls pkg/gateway and pkg/ratelimit on an interval and keeps
the gauge-shaped metrics (WorkItemsByStatus, WorkItemsByPriority,
WorkersActive, WorkersByStatus, RateLimiterDailyIterations,
FileLocksHeld) in sync with durable state. Of the counters and
histograms, the Scheduler Loop records SchedulingLatency and
WorkersSpawnedTotal; the others are registered and exposed, but no
component records them.

# Usage

	http.Handle("/metrics", metrics.Handler())

	c := metrics.NewCollector(gw, limiter, 15*time.Second)
	go c.Run(ctx)
*/
package metrics
