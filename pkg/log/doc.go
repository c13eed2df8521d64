/*
Package log provides structured logging for the wikifarm services using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers and configurable log levels. All logs include
timestamps and support filtering by severity level.

# Usage

Initializing the logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Structured logging:

	log.Logger.Info().
		Str("slug", "demo-1").
		Str("task_id", taskID).
		Msg("provisioning queued")

Context loggers:

	workerLog := log.WithComponent("worker")
	workerLog.Error().Err(err).Msg("job failed")

	taskLog := log.WithTask(taskID)
	taskLog.Debug().Msg("phase started")

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing

Structured Logging Pattern:
  - Use typed fields (.Str, .Int, .Err)
  - Enables log aggregation and querying
  - Never concatenate user input into log messages
*/
package log
