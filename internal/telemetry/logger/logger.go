package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Logger is the logging surface every component depends on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger

	// WithContext binds ctx to later calls and tags them with the
	// request ID ctx carries, if any.
	WithContext(ctx context.Context) Logger

	// Slog exposes the underlying handler chain for libraries that
	// take a *slog.Logger. Redaction still applies.
	Slog() *slog.Logger
}

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config holds logger configuration.
type Config struct {
	// Level is debug, info, warn or error. Empty means warn.
	Level string
	// Format is text or json. Empty means text.
	Format string
	// Output defaults to os.Stderr, which keeps stdout for command output.
	Output io.Writer
	// AddSource adds source file information to log entries.
	AddSource bool
}

// DefaultConfig returns the configuration of a command line invocation:
// warnings and errors only, as text on stderr.
func DefaultConfig() Config {
	return Config{
		Level:  "warn",
		Format: FormatText,
		Output: os.Stderr,
	}
}

var levelsByName = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// level is shared by every handler New builds, so SetLevel also reaches
// loggers handed out earlier (the badger adapter, the config watcher).
var level = new(slog.LevelVar)

// New builds a logger. It fails on an unknown level or format.
func New(cfg Config) (Logger, error) {
	lvl, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			return redactSensitive(a)
		},
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", FormatText:
		handler = slog.NewTextHandler(output, opts)
	case FormatJSON:
		handler = slog.NewJSONHandler(output, opts)
	default:
		return nil, fmt.Errorf("logger: unknown format %q (text, json)", cfg.Format)
	}

	level.Set(lvl)
	return wrap(slog.New(handler)), nil
}

// NewNop returns a logger that discards everything.
func NewNop() Logger {
	return wrap(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 4})))
}

// SetLevel changes the level of every logger built by New. The REPL calls
// it when log.level changes in the config file.
func SetLevel(name string) error {
	lvl, err := parseLevel(name)
	if err != nil {
		return err
	}
	level.Set(lvl)
	return nil
}

// GetLevel returns the current level name.
func GetLevel() string {
	return strings.ToLower(level.Level().String())
}

// ValidLevel reports whether name is a level SetLevel accepts.
func ValidLevel(name string) bool {
	_, ok := levelsByName[strings.ToLower(name)]
	return ok
}

func parseLevel(name string) (slog.Level, error) {
	if name == "" {
		return slog.LevelWarn, nil
	}
	lvl, ok := levelsByName[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("logger: unknown level %q", name)
	}
	return lvl, nil
}

type slogLogger struct {
	logger *slog.Logger
	ctx    context.Context
}

func wrap(l *slog.Logger) *slogLogger {
	return &slogLogger{logger: l, ctx: context.Background()}
}

func (l *slogLogger) Debug(msg string, args ...any) {
	l.logger.DebugContext(l.ctx, msg, args...)
}

func (l *slogLogger) Info(msg string, args ...any) {
	l.logger.InfoContext(l.ctx, msg, args...)
}

func (l *slogLogger) Warn(msg string, args ...any) {
	l.logger.WarnContext(l.ctx, msg, args...)
}

func (l *slogLogger) Error(msg string, args ...any) {
	l.logger.ErrorContext(l.ctx, msg, args...)
}

func (l *slogLogger) With(args ...any) Logger {
	return &slogLogger{logger: l.logger.With(args...), ctx: l.ctx}
}

func (l *slogLogger) WithContext(ctx context.Context) Logger {
	sl := l.logger
	if id := RequestIDFromContext(ctx); id != "" {
		sl = sl.With("request_id", id)
	}
	return &slogLogger{logger: sl, ctx: ctx}
}

func (l *slogLogger) Slog() *slog.Logger {
	return l.logger
}

var defaultLogger atomic.Pointer[slogLogger]

func init() {
	l, _ := New(DefaultConfig())
	defaultLogger.Store(l.(*slogLogger))
}

// SetDefault replaces the process logger returned by Default.
func SetDefault(l Logger) {
	if sl, ok := l.(*slogLogger); ok {
		defaultLogger.Store(sl)
	}
}

// Default returns the process logger.
func Default() Logger {
	return defaultLogger.Load()
}

// Debug logs at debug level using the default logger.
func Debug(msg string, args ...any) {
	defaultLogger.Load().Debug(msg, args...)
}

// Info logs at info level using the default logger.
func Info(msg string, args ...any) {
	defaultLogger.Load().Info(msg, args...)
}

// Warn logs at warn level using the default logger.
func Warn(msg string, args ...any) {
	defaultLogger.Load().Warn(msg, args...)
}

// Error logs at error level using the default logger.
func Error(msg string, args ...any) {
	defaultLogger.Load().Error(msg, args...)
}
