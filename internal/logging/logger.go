// Package logging provides structured logging for the agent.
// It wraps zap's sugared logger to write JSON lines with persistent
// attributes (component, peer, instance ID), rotating log files through
// lumberjack.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log levels supported by the logger
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Rotation limits for file logs
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultRotation is used by NewLogger when no Rotation is given.
var DefaultRotation = Rotation{MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 28}

// Logger provides structured logging. It is safe for concurrent use.
type Logger struct {
	sugar *zap.SugaredLogger
	level zap.AtomicLevel
	out   *closer
}

// closer is shared by a Logger and its children so Close happens once
type closer struct {
	mu sync.Mutex
	c  io.Closer
}

// NewLogger creates a Logger writing JSON lines to path, or to stderr when
// path is empty. Files rotate by size; pass a Rotation to change the limits.
func NewLogger(path string, level string, rotation ...Rotation) (*Logger, error) {
	if path == "" {
		return NewWriterLogger(os.Stderr, level), nil
	}

	r := DefaultRotation
	if len(rotation) > 0 {
		r = rotation[0]
	}
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    r.MaxSizeMB,
		MaxBackups: r.MaxBackups,
		MaxAge:     r.MaxAgeDays,
		Compress:   r.Compress,
	}

	l := newLogger(zapcore.AddSync(file), level)
	l.out = &closer{c: file}
	return l, nil
}

// NewWriterLogger creates a Logger writing JSON lines to w.
func NewWriterLogger(w io.Writer, level string) *Logger {
	return newLogger(zapcore.AddSync(w), level)
}

func newLogger(ws zapcore.WriteSyncer, level string) *Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "time"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder

	atomic := zap.NewAtomicLevelAt(ParseLevel(level))
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), ws, atomic)
	return &Logger{
		sugar: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar(),
		level: atomic,
		out:   &closer{},
	}
}

// NopLogger returns a Logger that discards everything.
func NopLogger() *Logger {
	return &Logger{
		sugar: zap.NewNop().Sugar(),
		level: zap.NewAtomicLevelAt(zapcore.FatalLevel),
		out:   &closer{},
	}
}

// OrNop returns l, or a discarding logger when l is nil.
func OrNop(l *Logger) *Logger {
	if l == nil {
		return NopLogger()
	}
	return l
}

// ParseLevel converts a string log level to a zap level.
// Defaults to INFO if the level string is not recognized.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToUpper(level) {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelWarn, "WARNING":
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// WithComponent returns a child Logger tagging every entry with component.
func (l *Logger) WithComponent(component string) *Logger {
	return l.With("component", component)
}

// With returns a child Logger with arbitrary key-value attributes.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}
	return &Logger{sugar: l.sugar.With(args...), level: l.level, out: l.out}
}

// SetLevel changes the level of l and every logger derived from the same
// root, while they run.
func (l *Logger) SetLevel(level string) {
	l.level.SetLevel(ParseLevel(level))
}

// Level returns the current level name.
func (l *Logger) Level() string {
	return l.level.Level().CapitalString()
}

// Debug logs a message at DEBUG level with optional key-value pairs.
func (l *Logger) Debug(msg string, args ...any) {
	l.sugar.Debugw(msg, args...)
}

// Info logs a message at INFO level with optional key-value pairs.
func (l *Logger) Info(msg string, args ...any) {
	l.sugar.Infow(msg, args...)
}

// Warn logs a message at WARN level with optional key-value pairs.
func (l *Logger) Warn(msg string, args ...any) {
	l.sugar.Warnw(msg, args...)
}

// Error logs a message at ERROR level with optional key-value pairs.
func (l *Logger) Error(msg string, args ...any) {
	l.sugar.Errorw(msg, args...)
}

// Enabled reports whether entries at level would be written.
func (l *Logger) Enabled(level zapcore.Level) bool {
	return l.sugar.Desugar().Core().Enabled(level)
}

// Close flushes and closes the log file. It is a no-op for stderr and
// writer loggers.
func (l *Logger) Close() error {
	_ = l.sugar.Sync()

	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	if l.out.c == nil {
		return nil
	}
	err := l.out.c.Close()
	l.out.c = nil
	return err
}
