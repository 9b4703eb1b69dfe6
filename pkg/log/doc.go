/*
Package log provides structured logging via zerolog.

The log package wraps zerolog to give JSON-structured logging with
component-specific child loggers, a configurable level, and helper
functions for common logging patterns.

# Usage

Initializing the logger:

	import "github.com/codefactory/orchestrator/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Simple logging:

	log.Info("orchestrator starting")
	log.Error("containerd connection failed")

Component and context loggers:

	schedulerLog := log.WithComponent("scheduler")
	schedulerLog.Info().Msg("tick")

	workerLog := log.WithWorkerID("wk-abc123")
	workerLog.Info().Str("work_item_id", "wi-123").Msg("spawned")

# Log Levels

Debug is for development; Info is the default production level; Warn
flags situations that may need attention; Error marks failed
operations; Fatal logs and exits — reserve it for unrecoverable
startup failures.

# Security

Never log secrets or bearer tokens. Use structured fields (.Str, .Int)
rather than string concatenation to avoid log injection.
*/
package log
