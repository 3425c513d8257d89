// Package audit provides structured audit logging for the namespace server.
// A claim namespace is shared mutable state across hosts; the audit trail
// records who changed it, from where, and whether they were allowed to.
package audit

import (
	"github.com/rs/zerolog"
)

// Logger provides structured audit logging for namespace mutations.
// All events carry structured fields for filtering and analysis.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates an audit logger from a zerolog.Logger.
func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger}
}

// LogAuth logs an authentication event on the namespace API.
// result: "allowed" or "denied".
func (l *Logger) LogAuth(result, details, sourceIP string) {
	level := zerolog.InfoLevel
	if result == "denied" {
		level = zerolog.WarnLevel
	}

	event := l.logger.WithLevel(level).
		Str("event_type", "auth").
		Str("method", "bearer").
		Str("result", result).
		Str("source_ip", sourceIP)

	if details != "" {
		event = event.Str("details", details)
	}
	event.Msg("Authentication event")
}

// LogNamespaceCreated logs the first creation of a namespace.
func (l *Logger) LogNamespaceCreated(namespace, sourceIP string) {
	l.logger.Info().
		Str("event_type", "namespace_created").
		Str("namespace", namespace).
		Str("source_ip", sourceIP).
		Msg("Namespace created")
}

// LogClaim logs a record write in a namespace.
// result: "created" for a won conditional create, "conflict" for a lost one,
// "overwritten" for an unconditional write.
func (l *Logger) LogClaim(namespace, record, result, sourceIP string) {
	l.logger.Info().
		Str("event_type", "claim").
		Str("namespace", namespace).
		Str("record", record).
		Str("result", result).
		Str("source_ip", sourceIP).
		Msg("Claim record write")
}

// LogRelease logs a record deletion in a namespace.
func (l *Logger) LogRelease(namespace, record string, includeDerived bool, sourceIP string) {
	l.logger.Info().
		Str("event_type", "release").
		Str("namespace", namespace).
		Str("record", record).
		Bool("derived", includeDerived).
		Str("source_ip", sourceIP).
		Msg("Claim record deleted")
}
