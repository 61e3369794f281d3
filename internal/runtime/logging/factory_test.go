package logging

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/drblury/commentflow/internal/runtime/config"
)

func TestNew_Backends(t *testing.T) {
	for _, backend := range []string{"slog", "logrus", "zap"} {
		t.Run(backend, func(t *testing.T) {
			logger, err := New(config.LogConfig{Backend: backend, Level: "debug", Format: "json"})
			require.NoError(t, err)
			require.NotNil(t, logger)
		})
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(config.LogConfig{Backend: "glog", Level: "info"})
	assert.Error(t, err)
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(config.LogConfig{Backend: "logrus", Level: "loud"})
	assert.Error(t, err)
	_, err = New(config.LogConfig{Backend: "zap", Level: "loud"})
	assert.Error(t, err)
}

func TestNew_WritesToRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commentflow.log")
	logger, err := New(config.LogConfig{Backend: "slog", Level: "info", File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	logger.Info("message acknowledged", LogFields{"comment_id": "c-1"})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "message acknowledged")
	assert.Contains(t, string(data), "c-1")
}

func TestLogrusEntryAdapter(t *testing.T) {
	base, hook := logrustest.NewNullLogger()
	base.SetLevel(logrus.TraceLevel)
	logger := NewEntryServiceLogger(logrus.NewEntry(base)).With(LogFields{"component": "consumer"})

	logger.Error("rejected message", errors.New("bad json"), LogFields{"delivery_tag": 7})
	logger.Trace("waiting", nil)

	require.Len(t, hook.AllEntries(), 2)
	first := hook.AllEntries()[0]
	assert.Equal(t, logrus.ErrorLevel, first.Level)
	assert.Equal(t, "consumer", first.Data["component"])
	assert.Equal(t, 7, first.Data["delivery_tag"])
	assert.EqualError(t, first.Data[logrus.ErrorKey].(error), "bad json")
	assert.Equal(t, logrus.TraceLevel, hook.LastEntry().Level)
}

func TestZapServiceLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapServiceLogger(zap.New(core)).With(LogFields{"component": "producer"})

	logger.Info("connected", LogFields{"queue": "comments"})
	logger.Error("publish failed", errors.New("channel closed"), nil)
	logger.Trace("declare", nil)

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "connected", entries[0].Message)
	assert.Equal(t, "producer", entries[0].ContextMap()["component"])
	assert.Equal(t, "comments", entries[0].ContextMap()["queue"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "channel closed", entries[1].ContextMap()["error"])
	assert.Equal(t, zapcore.DebugLevel, entries[2].Level)
	assert.Equal(t, true, entries[2].ContextMap()["trace"])
}

func TestZapServiceLoggerPanicsOnNil(t *testing.T) {
	assert.Panics(t, func() { NewZapServiceLogger(nil) })
}
