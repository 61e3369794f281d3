package logging

// EntryLoggerAdapter is the shape of a chaining entry logger. *logrus.Entry
// satisfies it with T = *logrus.Entry.
type EntryLoggerAdapter[T any] interface {
	Error(args ...any)
	Info(args ...any)
	Debug(args ...any)
	Trace(args ...any)
	WithError(err error) T
	WithField(key string, value any) T
}

type entryServiceLogger[T EntryLoggerAdapter[T]] struct {
	entry T
}

// NewEntryServiceLogger backs a ServiceLogger with an entry logger. This is
// how the logrus backend is wired.
func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	if any(entry) == nil {
		panic("commentflow: entry logger cannot be nil")
	}
	return &entryServiceLogger[T]{entry: entry}
}

func (e *entryServiceLogger[T]) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return e
	}
	return &entryServiceLogger[T]{entry: annotate(e.entry, fields, nil)}
}

func (e *entryServiceLogger[T]) Trace(msg string, fields LogFields) {
	annotate(e.entry, fields, nil).Trace(msg)
}

func (e *entryServiceLogger[T]) Debug(msg string, fields LogFields) {
	annotate(e.entry, fields, nil).Debug(msg)
}

func (e *entryServiceLogger[T]) Info(msg string, fields LogFields) {
	annotate(e.entry, fields, nil).Info(msg)
}

func (e *entryServiceLogger[T]) Error(msg string, err error, fields LogFields) {
	annotate(e.entry, fields, err).Error(msg)
}

// annotate returns a derived entry; the receiver's entry is never modified.
func annotate[T EntryLoggerAdapter[T]](entry T, fields LogFields, err error) T {
	for key, value := range fields {
		entry = entry.WithField(key, value)
	}
	if err != nil {
		entry = entry.WithError(err)
	}
	return entry
}
