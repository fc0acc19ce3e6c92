package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultService tags every record when Config.Service is empty.
const DefaultService = "escrowd"

// Redacted replaces the value of sensitive attributes.
const Redacted = "[REDACTED]"

// Config describes how the process loggers behave.
type Config struct {
	Level  string
	Format string
	// OutputPaths accepts "stdout", "stderr" or file paths. Files rotate
	// according to Rotation.
	OutputPaths []string
	Rotation    Rotation
	Audit       AuditConfig
	Service     string
}

// Rotation configures lumberjack for file outputs.
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AuditConfig routes admin and signing events to a dedicated rotating file.
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

var (
	mu            sync.Mutex
	defaultLogger *slog.Logger
	auditLogger   *slog.Logger
	closers       []io.Closer
)

// sensitive lists attribute keys whose values never reach a log sink.
var sensitive = map[string]struct{}{
	"private_key":   {},
	"owner_key":     {},
	"session_key":   {},
	"credential":    {},
	"secret":        {},
	"api_key":       {},
	"authorization": {},
	"access_token":  {},
	"signature":     {},
}

// Init configures the global loggers. Calling it again replaces them and
// closes the previous sinks.
func Init(cfg Config) error {
	service := cfg.Service
	if service == "" {
		service = DefaultService
	}

	w, owned, err := openOutputs(cfg.OutputPaths, cfg.Rotation)
	if err != nil {
		closeAll(owned)
		return err
	}
	base := New(w, cfg.Format, cfg.Level).With(slog.String("service", service))

	audit := base.With(slog.String("stream", "audit"))
	if cfg.Audit.Enabled {
		if cfg.Audit.Path == "" {
			closeAll(owned)
			return errors.New("audit log path cannot be empty when enabled")
		}
		rot, err := rotating(cfg.Audit.Path, Rotation{
			MaxSizeMB:  cfg.Audit.MaxSizeMB,
			MaxBackups: cfg.Audit.MaxBackups,
			MaxAgeDays: cfg.Audit.MaxAgeDays,
			Compress:   cfg.Audit.Compress,
		})
		if err != nil {
			closeAll(owned)
			return err
		}
		owned = append(owned, rot)
		audit = New(rot, "json", "info").With(slog.String("service", service), slog.String("stream", "audit"))
	}

	mu.Lock()
	prev := closers
	defaultLogger, auditLogger, closers = base, audit, owned
	mu.Unlock()
	closeAll(prev)
	return nil
}

// New builds a redacting logger over w. Format "text" selects the text
// handler; anything else is JSON.
func New(w io.Writer, format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(level),
		AddSource:   parseLevel(level) == slog.LevelDebug,
		ReplaceAttr: redact,
	}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if _, ok := sensitive[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, Redacted)
	}
	return a
}

func openOutputs(paths []string, rot Rotation) (io.Writer, []io.Closer, error) {
	if len(paths) == 0 {
		return os.Stdout, nil, nil
	}
	var (
		writers []io.Writer
		owned   []io.Closer
	)
	for _, p := range paths {
		switch strings.ToLower(strings.TrimSpace(p)) {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			lj, err := rotating(p, rot)
			if err != nil {
				return nil, owned, err
			}
			writers = append(writers, lj)
			owned = append(owned, lj)
		}
	}
	if len(writers) == 1 {
		return writers[0], owned, nil
	}
	return io.MultiWriter(writers...), owned, nil
}

func rotating(path string, rot Rotation) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    positiveOr(rot.MaxSizeMB, 100),
		MaxBackups: positiveOr(rot.MaxBackups, 7),
		MaxAge:     positiveOr(rot.MaxAgeDays, 30),
		Compress:   rot.Compress,
	}, nil
}

func positiveOr(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func closeAll(cs []io.Closer) error {
	var err error
	for _, c := range cs {
		err = errors.Join(err, c.Close())
	}
	return err
}

// L returns the process logger, initialising a stdout JSON logger on first use.
func L() *slog.Logger {
	mu.Lock()
	l := defaultLogger
	mu.Unlock()
	if l != nil {
		return l
	}
	_ = Init(Config{})
	mu.Lock()
	defer mu.Unlock()
	return defaultLogger
}

// Audit returns the audit logger.
func Audit() *slog.Logger {
	mu.Lock()
	a := auditLogger
	mu.Unlock()
	if a == nil {
		return L().With(slog.String("stream", "audit"))
	}
	return a
}

// Sync closes file sinks so buffered rotation state is flushed.
func Sync() error {
	mu.Lock()
	cs := closers
	closers = nil
	mu.Unlock()
	return closeAll(cs)
}

// Named returns a child logger tagged with the component name.
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}
