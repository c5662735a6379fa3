/*
Package log provides structured logging for Accord built on zerolog.

Call Init once at startup, then use the global Logger or the With*
helpers to create child loggers scoped to a component, session,
participant, or connection:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	logger := log.WithComponent("broadcaster")
	logger.Info().Str("broadcast_id", id).Msg("delivery failed")

Console output (the default) is for interactive use; JSON output is for
production log aggregation.
*/
package log
