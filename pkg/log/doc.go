/*
Package log provides structured logging for the bridge daemon using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific child loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│  Global Logger (zerolog.Logger), initialized via Init()   │
	│         │                                                 │
	│  Config: Level / JSONOutput / Output                      │
	│         │                                                 │
	│  Context loggers: WithComponent / WithWorker / WithTaskID  │
	│         │                                                 │
	│  JSON:    {"level":"info","component":"bridge",...}       │
	│  Console: 2026-01-01T10:30:00Z INF task claimed component=bridge │
	└────────────────────────────────────────────────────────┘

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	log.Info("bridge daemon starting")

	workerLog := log.WithWorker("team-a", "worker-1")
	workerLog.Info().Str("task_id", "42").Msg("task claimed")

# Conventions

Never log task subjects or descriptions verbatim — they are untrusted lead
content (see pkg/prompt's injection guard) and may contain control
characters or extremely long text. Log the task id instead.
*/
package log
