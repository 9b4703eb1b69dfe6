/*
Package scheduler is the Scheduler Loop: a single ticking goroutine that
drives admission of queued work onto containers. Each tick it asks the
Rate Limiter whether a spawn is currently allowed, asks the Queue Manager
for the highest-priority eligible work item, hands it to the Worker
Supervisor to spawn, and then runs the Supervisor's health check over
active workers, killing any whose heartbeat has gone stale.

At most one work item is spawned per tick, so a burst of newly-eligible
items drains at one per tick rather than all at once — this is the
admission throttle the Rate Limiter's cooldown window assumes.
*/
package scheduler
