package metrics

import (
	"context"
	"time"

	"github.com/codefactory/orchestrator/pkg/types"
)

// StatsSource is the read-only subset of pkg/gateway and pkg/metricsagg
// the collector needs to keep gauges in sync with durable state.
type StatsSource interface {
	QueueStats(ctx context.Context) (types.QueueStats, error)
	ActiveWorkerCountByStatus(ctx context.Context) (map[types.WorkerStatus]int, error)
	FileLockCount(ctx context.Context) (int, error)
}

// RateSource is the read-only subset of pkg/ratelimit the collector polls.
type RateSource interface {
	GetStatus(ctx context.Context) (types.RateStatus, error)
}

// Collector periodically snapshots durable and fast-store state into the
// gauge-shaped Prometheus metrics; it does not touch counters or
// histograms.
type Collector struct {
	stats    StatsSource
	rate     RateSource
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(stats StatsSource, rate RateSource, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		stats:    stats,
		rate:     rate,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Run blocks, collecting on each tick until ctx is cancelled or Stop is called.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.collect(ctx)

	for {
		select {
		case <-ticker.C:
			c.collect(ctx)
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		}
	}
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect(ctx context.Context) {
	c.collectQueueMetrics(ctx)
	c.collectWorkerMetrics(ctx)
	c.collectRateMetrics(ctx)
	c.collectLockMetrics(ctx)
}

func (c *Collector) collectQueueMetrics(ctx context.Context) {
	stats, err := c.stats.QueueStats(ctx)
	if err != nil {
		return
	}

	for status, count := range stats.ByStatus {
		WorkItemsByStatus.WithLabelValues(string(status)).Set(float64(count))
	}
	for priority, count := range stats.ByPriority {
		WorkItemsByPriority.WithLabelValues(string(priority)).Set(float64(count))
	}
}

func (c *Collector) collectWorkerMetrics(ctx context.Context) {
	byStatus, err := c.stats.ActiveWorkerCountByStatus(ctx)
	if err != nil {
		return
	}

	active := 0
	for status, count := range byStatus {
		WorkersByStatus.WithLabelValues(string(status)).Set(float64(count))
		if status.IsActive() {
			active += count
		}
	}
	WorkersActive.Set(float64(active))
}

func (c *Collector) collectRateMetrics(ctx context.Context) {
	status, err := c.rate.GetStatus(ctx)
	if err != nil {
		return
	}
	RateLimiterDailyIterations.Set(float64(status.DailyIterations))
}

func (c *Collector) collectLockMetrics(ctx context.Context) {
	count, err := c.stats.FileLockCount(ctx)
	if err != nil {
		return
	}
	FileLocksHeld.Set(float64(count))
}
