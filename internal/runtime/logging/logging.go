// Package logging defines the ServiceLogger contract used across the pipeline
// and adapters for slog, logrus-style entries, zap and Watermill.
package logging

// LogFields represents structured logging key/value pairs.
type LogFields map[string]any

// Field keys shared by every component so log lines about one comment can be
// joined across the api and consumer processes.
const (
	FieldComponent = "component"
	FieldQueue     = "queue"
	FieldCommentID = "comment_id"
	FieldMessageID = "message_uuid"
)

// ServiceLogger is the logging contract shared by the producer, the consumer
// and the intake API.
type ServiceLogger interface {
	With(fields LogFields) ServiceLogger
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Error(msg string, err error, fields LogFields)
	Trace(msg string, fields LogFields)
}

// Component returns log tagged with the component name and any extra fields.
func Component(log ServiceLogger, name string, extra ...LogFields) ServiceLogger {
	fields := LogFields{FieldComponent: name}
	for _, e := range extra {
		for k, v := range e {
			fields[k] = v
		}
	}
	return log.With(fields)
}

// Nop returns a logger that discards everything.
func Nop() ServiceLogger {
	return nopLogger{}
}

type nopLogger struct{}

func (n nopLogger) With(LogFields) ServiceLogger { return n }
func (nopLogger) Debug(string, LogFields)        {}
func (nopLogger) Info(string, LogFields)         {}
func (nopLogger) Error(string, error, LogFields) {}
func (nopLogger) Trace(string, LogFields)        {}

// merge returns a new map holding base overlaid with extra.
func merge(base, extra LogFields) LogFields {
	if len(extra) == 0 {
		return base
	}
	if len(base) == 0 {
		return extra
	}
	out := make(LogFields, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
