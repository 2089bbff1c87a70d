package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/phsym/console-slog"
)

// SlogLogger implements Logger on top of log/slog.
//
// When the FOTOLINK_ENV environment variable is set to "development" the
// logger writes human-readable console output via console-slog; otherwise
// it writes JSON records with a "ts" timestamp key.
type SlogLogger struct {
	logger *slog.Logger
	level  *slog.LevelVar
	output io.Writer
}

// NewSlog creates a slog-backed Logger writing to stdout.
func NewSlog(level Level, addSource bool) Logger {
	inst := &SlogLogger{
		output: os.Stdout,
		level:  &slog.LevelVar{},
	}
	inst.level.Set(toSlogLevel(level))

	var handler slog.Handler
	if os.Getenv("FOTOLINK_ENV") == "development" {
		handler = console.NewHandler(inst.output, &console.HandlerOptions{
			AddSource: true,
			Level:     inst.level,
		})
	} else {
		handler = slog.NewJSONHandler(inst.output, &slog.HandlerOptions{
			AddSource: addSource,
			Level:     inst.level,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey {
					a.Key = "ts"
				}
				return a
			},
		})
	}
	inst.logger = slog.New(handler)

	return inst
}

func (l *SlogLogger) Debug(msg string, keysAndValues ...any) {
	l.log(slog.LevelDebug, msg, keysAndValues...)
}

func (l *SlogLogger) Info(msg string, keysAndValues ...any) {
	l.log(slog.LevelInfo, msg, keysAndValues...)
}

func (l *SlogLogger) Warn(msg string, keysAndValues ...any) {
	l.log(slog.LevelWarn, msg, keysAndValues...)
}

func (l *SlogLogger) Error(msg string, keysAndValues ...any) {
	l.log(slog.LevelError, msg, keysAndValues...)
}

func (l *SlogLogger) Fatal(msg string, keysAndValues ...any) {
	l.log(slog.LevelError, msg, keysAndValues...)
	os.Exit(1)
}

func (l *SlogLogger) With(keysAndValues ...any) Logger {
	return &SlogLogger{
		logger: l.logger.With(keysAndValues...),
		level:  l.level,
		output: l.output,
	}
}

func (l *SlogLogger) Level() Level {
	switch l.level.Level() {
	case slog.LevelDebug:
		return DebugLevel
	case slog.LevelInfo:
		return InfoLevel
	case slog.LevelWarn:
		return WarnLevel
	default:
		return ErrorLevel
	}
}

func (l *SlogLogger) SetLevel(level Level) {
	l.level.Set(toSlogLevel(level))
}

// log is the low-level logging method. It must be called directly by an
// exported logging method because it uses a fixed call depth to obtain
// the caller's pc for AddSource.
func (l *SlogLogger) log(level slog.Level, msg string, args ...any) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}

	var pcs [1]uintptr
	// skip [runtime.Callers, this function, this function's caller]
	runtime.Callers(3, pcs[:])

	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(args...)
	_ = l.logger.Handler().Handle(ctx, r)
}

func toSlogLevel(level Level) slog.Level {
	switch level {
	case DebugLevel:
		return slog.LevelDebug
	case InfoLevel:
		return slog.LevelInfo
	case WarnLevel:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
