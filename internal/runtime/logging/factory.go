package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/drblury/commentflow/internal/runtime/config"
)

// New builds the ServiceLogger selected by cfg.Backend. When cfg.File is set
// output goes to a lumberjack rotated file instead of stdout.
func New(cfg config.LogConfig) (ServiceLogger, error) {
	out := writer(cfg)
	switch strings.ToLower(cfg.Backend) {
	case "", "slog":
		return newSlog(cfg, out), nil
	case "logrus":
		return newLogrus(cfg, out)
	case "zap":
		return newZap(cfg, out)
	default:
		return nil, fmt.Errorf("commentflow: unsupported log backend %q", cfg.Backend)
	}
}

func writer(cfg config.LogConfig) io.Writer {
	if cfg.File == "" {
		return os.Stdout
	}
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
}

func newSlog(cfg config.LogConfig, out io.Writer) ServiceLogger {
	var level slog.Level
	if strings.EqualFold(cfg.Level, "trace") {
		level = LevelTrace
	} else if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewJSONHandler(out, opts)
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	}
	return NewSlogServiceLogger(slog.New(handler))
}

func newLogrus(cfg config.LogConfig, out io.Writer) (ServiceLogger, error) {
	l := logrus.New()
	l.SetOutput(out)
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	l.SetLevel(level)
	if strings.EqualFold(cfg.Format, "text") {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	return NewEntryServiceLogger(logrus.NewEntry(l)), nil
}

func newZap(cfg config.LogConfig, out io.Writer) (ServiceLogger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder = zapcore.NewJSONEncoder(encCfg)
	if strings.EqualFold(cfg.Format, "text") {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, zapcore.AddSync(out), level)
	return NewZapServiceLogger(zap.New(core, zap.AddCaller())), nil
}
