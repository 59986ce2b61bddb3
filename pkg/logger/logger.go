// Package logger wires the process-wide slog loggers: one for application
// output and one for audit records, optionally rotated through lumberjack.
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

// Config describes application log output.
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	Audit       AuditConfig
}

// AuditConfig controls the rotated audit trail.
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

const (
	defaultAuditSizeMB  = 100
	defaultAuditBackups = 7
	defaultAuditAgeDays = 30
)

type state struct {
	app      *slog.Logger
	audit    *slog.Logger
	closers  []io.Closer
	implicit bool
}

var (
	mu      sync.RWMutex
	current *state
)

// Init installs the global loggers. It replaces the stdout fallback that L
// creates on first use, but a second explicit call returns an error.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()
	if current != nil && !current.implicit {
		return errors.New("logger already initialised")
	}
	st, err := build(cfg)
	if err != nil {
		return err
	}
	current = st
	return nil
}

func build(cfg Config) (*state, error) {
	st := &state{}
	out, err := st.outputs(cfg.OutputPaths)
	if err != nil {
		st.close()
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: true}
	var handler slog.Handler = slog.NewJSONHandler(out, opts)
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	}
	st.app = slog.New(handler)
	st.audit = st.app

	if cfg.Audit.Enabled {
		w, err := newAuditWriter(cfg.Audit)
		if err != nil {
			st.close()
			return nil, err
		}
		st.closers = append(st.closers, w)
		st.audit = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return st, nil
}

// outputs resolves the configured destinations into a single writer.
func (st *state) outputs(paths []string) (io.Writer, error) {
	if len(paths) == 0 {
		return os.Stdout, nil
	}
	writers := make([]io.Writer, 0, len(paths))
	for _, p := range paths {
		switch strings.ToLower(p) {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			f, err := openFile(p)
			if err != nil {
				return nil, err
			}
			st.closers = append(st.closers, f)
			writers = append(writers, f)
		}
	}
	if len(writers) == 1 {
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

func (st *state) close() error {
	var err error
	for _, c := range st.closers {
		err = errors.Join(err, c.Close())
	}
	st.closers = nil
	return err
}

func openFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return f, nil
}

// newAuditWriter returns a size-rotated file writer for audit records.
func newAuditWriter(cfg AuditConfig) (*lumberjack.Logger, error) {
	if cfg.Path == "" {
		return nil, errors.New("audit log path cannot be empty when enabled")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    positiveOr(cfg.MaxSizeMB, defaultAuditSizeMB),
		MaxBackups: positiveOr(cfg.MaxBackups, defaultAuditBackups),
		MaxAge:     positiveOr(cfg.MaxAgeDays, defaultAuditAgeDays),
		Compress:   cfg.Compress,
	}, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	switch strings.ToLower(level) {
	case "warning":
		return slog.LevelWarn
	case "debug", "warn", "error":
		_ = l.UnmarshalText([]byte(level))
		return l
	default:
		return slog.LevelInfo
	}
}

func get() *state {
	mu.RLock()
	st := current
	mu.RUnlock()
	if st != nil {
		return st
	}
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		current, _ = build(Config{})
		current.implicit = true
	}
	return current
}

// L returns the application logger, installing a stdout JSON logger on first use.
func L() *slog.Logger {
	return get().app
}

// Audit returns the audit logger. It falls back to L when no audit file is configured.
func Audit() *slog.Logger {
	return get().audit
}

// Sync closes file outputs opened by Init.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		return nil
	}
	return current.close()
}

// Named returns a logger tagged with the component name.
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}
