package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/commentflow/internal/runtime/jsoncodec"
)

type record struct {
	level  string
	msg    string
	err    error
	fields LogFields
}

// recorder is a ServiceLogger that keeps every call.
type recorder struct {
	base LogFields
	logs *[]record
}

func newRecorder() *recorder {
	return &recorder{logs: &[]record{}}
}

func (r *recorder) With(fields LogFields) ServiceLogger {
	return &recorder{base: merge(r.base, fields), logs: r.logs}
}

func (r *recorder) add(level, msg string, err error, fields LogFields) {
	*r.logs = append(*r.logs, record{level: level, msg: msg, err: err, fields: merge(r.base, fields)})
}

func (r *recorder) Debug(msg string, fields LogFields) { r.add("debug", msg, nil, fields) }
func (r *recorder) Info(msg string, fields LogFields)  { r.add("info", msg, nil, fields) }
func (r *recorder) Error(msg string, err error, fields LogFields) {
	r.add("error", msg, err, fields)
}
func (r *recorder) Trace(msg string, fields LogFields) { r.add("trace", msg, nil, fields) }

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, jsoncodec.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestSlogServiceLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogServiceLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	child := logger.With(LogFields{FieldComponent: "consumer"})
	child.Info("message acknowledged", LogFields{FieldCommentID: "c-1"})
	child.Error("persist failed", errors.New("db down"), LogFields{FieldQueue: "comments"})
	child.Trace("below debug", nil)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)

	assert.Equal(t, "INFO", lines[0]["level"])
	assert.Equal(t, "message acknowledged", lines[0]["msg"])
	assert.Equal(t, "consumer", lines[0]["component"])
	assert.Equal(t, "c-1", lines[0]["comment_id"])

	assert.Equal(t, "ERROR", lines[1]["level"])
	assert.Equal(t, "db down", lines[1]["error"])
	assert.Equal(t, "comments", lines[1]["queue"])
}

func TestSlogServiceLoggerTraceLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogServiceLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: LevelTrace})))

	logger.Trace("delivery received", LogFields{"delivery_tag": 3})

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "delivery received", lines[0]["msg"])
	assert.EqualValues(t, 3, lines[0]["delivery_tag"])
}

func TestSlogServiceLoggerWithoutFieldsReturnsSelf(t *testing.T) {
	logger := NewSlogServiceLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	assert.Same(t, logger, logger.With(nil))
}

func TestEntryServiceLoggerDoesNotLeakFields(t *testing.T) {
	entry := &fakeEntry{logs: &[]record{}}
	logger := NewEntryServiceLogger(entry)

	logger.Info("first", LogFields{"a": 1})
	logger.Info("second", nil)

	logs := *entry.logs
	require.Len(t, logs, 2)
	assert.Equal(t, 1, logs[0].fields["a"])
	assert.NotContains(t, logs[1].fields, "a")
}

func TestWatermillAdapterDemotesDebugToTrace(t *testing.T) {
	rec := newRecorder()
	adapter := NewWatermillAdapter(rec).With(watermill.LogFields{"topic": "comments.received"})

	adapter.Debug("Message handled", watermill.LogFields{"handler": "broadcast_relay"})
	adapter.Info("Starting router", nil)
	adapter.Error("Subscriber closed", errors.New("eof"), nil)

	logs := *rec.logs
	require.Len(t, logs, 3)
	assert.Equal(t, "trace", logs[0].level)
	assert.Equal(t, "comments.received", logs[0].fields["topic"])
	assert.Equal(t, "broadcast_relay", logs[0].fields["handler"])
	assert.Equal(t, "info", logs[1].level)
	assert.EqualError(t, logs[2].err, "eof")
}

func TestWatermillServiceLoggerDelegates(t *testing.T) {
	capture := watermill.NewCaptureLogger()
	logger := NewWatermillServiceLogger(capture)

	logger.Info("relay started", LogFields{"topic": "comments.received"})
	logger.Error("relay failed", errors.New("closed"), nil)

	captured := capture.Captured()
	require.Len(t, captured[watermill.InfoLogLevel], 1)
	info := captured[watermill.InfoLogLevel][0]
	assert.Equal(t, "relay started", info.Msg)
	assert.Equal(t, "comments.received", info.Fields["topic"])

	require.Len(t, captured[watermill.ErrorLogLevel], 1)
	assert.EqualError(t, captured[watermill.ErrorLogLevel][0].Err, "closed")
}

func TestComponent(t *testing.T) {
	rec := newRecorder()
	Component(rec, "producer", LogFields{FieldQueue: "comments"}).Info("connected", nil)

	logs := *rec.logs
	require.Len(t, logs, 1)
	assert.Equal(t, "producer", logs[0].fields[FieldComponent])
	assert.Equal(t, "comments", logs[0].fields[FieldQueue])
}

func TestNop(t *testing.T) {
	logger := Nop()
	assert.NotPanics(t, func() {
		logger.With(LogFields{"a": 1}).Info("ignored", nil)
		logger.Error("ignored", errors.New("x"), nil)
	})
}

func TestConstructorsPanicOnNil(t *testing.T) {
	assert.Panics(t, func() { NewSlogServiceLogger(nil) })
	assert.Panics(t, func() { NewWatermillServiceLogger(nil) })
	assert.Panics(t, func() { NewWatermillAdapter(nil) })
}

func TestMerge(t *testing.T) {
	base := LogFields{"a": 1}
	out := merge(base, LogFields{"b": 2})
	assert.Equal(t, LogFields{"a": 1, "b": 2}, out)
	assert.Equal(t, LogFields{"a": 1}, base)
	assert.Equal(t, base, merge(base, nil))
}

type fakeEntry struct {
	fields LogFields
	err    error
	logs   *[]record
}

func (f *fakeEntry) log(level string, args ...any) {
	msg := ""
	if len(args) > 0 {
		msg, _ = args[0].(string)
	}
	*f.logs = append(*f.logs, record{level: level, msg: msg, err: f.err, fields: f.fields})
}

func (f *fakeEntry) Error(args ...any) { f.log("error", args...) }
func (f *fakeEntry) Info(args ...any)  { f.log("info", args...) }
func (f *fakeEntry) Debug(args ...any) { f.log("debug", args...) }
func (f *fakeEntry) Trace(args ...any) { f.log("trace", args...) }

func (f *fakeEntry) WithError(err error) *fakeEntry {
	clone := *f
	clone.err = err
	return &clone
}

func (f *fakeEntry) WithField(key string, value any) *fakeEntry {
	clone := *f
	clone.fields = merge(f.fields, LogFields{key: value})
	return &clone
}
