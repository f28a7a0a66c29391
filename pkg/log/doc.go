/*
Package log provides structured logging for Vigil using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Thread-safe for concurrent writes

Log Levels:
  - Debug: detailed protocol tracing (vote receipts, heartbeat sends)
  - Info: lifecycle events (node joined, zone created, consensus reached)
  - Warn: degraded conditions (peer silent, broadcast partially failed)
  - Error: failed operations (reconnect exhausted, action execution failed)
  - Fatal: unrecoverable startup errors (process exits)

Context Loggers:
  - WithComponent: adds the owning component ("node", "zone", "consensus", ...)

Per-entity fields (node_id, zone_id, alert_id) are attached at the call
site, not carried in logger context.

# Usage

Initializing:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component loggers:

	logger := log.WithComponent("consensus")
	logger.Info().
		Str("alert_id", alert.ID).
		Int("required_votes", required).
		Msg("consensus round started")

Error logging:

	logger.Error().
		Err(err).
		Str("node_id", node.ID).
		Msg("reconnect failed")

# Output Examples

JSON format (production):

	{"level":"info","component":"node","node_id":"node-2","time":"2026-08-25T10:30:00Z","message":"node joined"}

Console format (development):

	10:30:00 INF node joined component=node node_id=node-2

# Conventions

Every manager takes a child logger via WithComponent at construction and
attaches entity ids with typed fields, never string interpolation. Secrets
and raw measurement payloads are never logged.

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
*/
package log
