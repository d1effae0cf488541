/*
Package log provides structured logging for paddock using zerolog.

The log package wraps zerolog to provide JSON or console-formatted logging
with component-specific child loggers, configurable log levels, and helper
functions for common logging patterns.

# Usage

Initializing the logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component loggers:

	schedulerLog := log.WithComponent("scheduler")
	schedulerLog.Info().Msg("dialing paddockd")

	procLog := log.WithProcess("api")
	procLog.Info().Int("pid", pid).Msg("process started")

# Design

A single package-level Logger is initialized once via Init and read
concurrently from every other package. Context loggers (WithComponent,
WithProcess, WithStack, WithProject) attach a single field and are cheap
to create per call site; they do not need to be cached.

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
*/
package log
