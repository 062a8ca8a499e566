// Package logging sets up the daemon's zerolog-based structured
// logging, grounded on the teacher's internal/logging (Config-driven
// Init, parseLevel, selectWriter, a size-and-day-rotating file writer
// with prune-by-count) generalized to this daemon's named sinks
// (spec.md §6: app/audit/exceptions/rejections logs).
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config drives Init.
type Config struct {
	Level     string // error|warn|info|debug
	LogDir    string // empty disables file sinks entirely
	MaxFiles  int    // rolled files retained per sink, beyond which the oldest are pruned
	MaxSizeMB int    // size at which a dated sink reopens its file; the day's file is not split by size
	Component string
	Console   bool // also mirror output to stderr, e.g. for interactive runs
}

var mu sync.Mutex

// exceptionLogger and rejectionLogger back exceptions.log and
// rejections.log (spec.md §6): non-dated, append-only sinks for
// recovered internal errors (−32603) and disallowed/admission-denied
// outcomes (−31001/−30001) respectively. They default to a no-op
// logger until Init configures them.
var (
	exceptionLogger zerolog.Logger = zerolog.Nop()
	rejectionLogger zerolog.Logger = zerolog.Nop()
)

// Exceptions returns the logger backing exceptions.log.
func Exceptions() *zerolog.Logger { return &exceptionLogger }

// Rejections returns the logger backing rejections.log.
func Rejections() *zerolog.Logger { return &rejectionLogger }

// Init installs the process-wide zerolog logger per cfg. It is safe
// to call more than once (e.g. after a config hot-reload changes the
// level or log directory).
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339

	var writers []io.Writer
	if cfg.Console || cfg.LogDir == "" {
		writers = append(writers, selectConsoleWriter())
	}

	if cfg.LogDir != "" {
		app, err := NewDatedWriter(cfg.LogDir, "app", cfg.MaxSizeMB, cfg.MaxFiles)
		if err != nil {
			return fmt.Errorf("logging: init app sink: %w", err)
		}
		writers = append(writers, app)
	}

	var out io.Writer = io.MultiWriter(writers...)
	logger := zerolog.New(out).With().Timestamp()
	if cfg.Component != "" {
		logger = logger.Str("component", cfg.Component)
	}
	appLogger := logger.Logger()

	if cfg.LogDir != "" {
		excWriter, err := NewStaticWriter(cfg.LogDir, "exceptions.log")
		if err != nil {
			return fmt.Errorf("logging: init exceptions sink: %w", err)
		}
		rejWriter, err := NewStaticWriter(cfg.LogDir, "rejections.log")
		if err != nil {
			return fmt.Errorf("logging: init rejections sink: %w", err)
		}
		excLogger := zerolog.New(excWriter).With().Timestamp()
		rejLogger := zerolog.New(rejWriter).With().Timestamp()
		if cfg.Component != "" {
			excLogger = excLogger.Str("component", cfg.Component)
			rejLogger = rejLogger.Str("component", cfg.Component)
		}
		exceptionLogger = excLogger.Logger()
		rejectionLogger = rejLogger.Logger()
	} else {
		exceptionLogger = appLogger
		rejectionLogger = appLogger
	}

	log.Logger = appLogger
	return nil
}

// SetLevel updates the process-wide zerolog level without touching
// any configured sinks, for hot-reloading logging.level without a
// daemon restart (SPEC_FULL.md §2.2).
func SetLevel(level string) {
	zerolog.SetGlobalLevel(parseLevel(level))
}

func selectConsoleWriter() io.Writer {
	return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewDatedWriter returns an io.Writer appending to
// <dir>/<prefix>-YYYY-MM-DD.log. When the calendar day advances it
// switches to the new day's file and prunes the oldest dated files
// beyond maxFiles; rolled files are not compressed. Exceeding
// maxSizeMB closes and reopens the same day's file rather than
// starting a separate one, so a single day's file is not split by size.
func NewDatedWriter(dir, prefix string, maxSizeMB, maxFiles int) (io.Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: create log dir %s: %w", dir, err)
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 100
	}
	if maxFiles <= 0 {
		maxFiles = 7
	}
	w := &datedWriter{dir: dir, prefix: prefix, maxBytes: int64(maxSizeMB) * 1024 * 1024, maxFiles: maxFiles}
	if err := w.openLocked(); err != nil {
		return nil, err
	}
	return w, nil
}

// NewStaticWriter returns an append-only io.Writer over
// <dir>/<name> (used for exceptions.log / rejections.log, which
// spec.md §6 names without a date component — they accumulate for
// the life of the log directory rather than rolling daily).
func NewStaticWriter(dir, name string) (io.Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: create log dir %s: %w", dir, err)
	}
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open %s: %w", name, err)
	}
	return f, nil
}

type datedWriter struct {
	mu       sync.Mutex
	dir      string
	prefix   string
	maxBytes int64
	maxFiles int

	file    *os.File
	day     string
	written int64
}

func (w *datedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	today := time.Now().Format("2006-01-02")
	if today != w.day || (w.maxBytes > 0 && w.written+int64(len(p)) > w.maxBytes) {
		if err := w.rotateLocked(today); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.written += int64(n)
	return n, err
}

func (w *datedWriter) openLocked() error {
	return w.openForDayLocked(time.Now().Format("2006-01-02"))
}

func (w *datedWriter) openForDayLocked(day string) error {
	path := filepath.Join(w.dir, fmt.Sprintf("%s-%s.log", w.prefix, day))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("logging: open %s: %w", path, err)
	}
	info, _ := f.Stat()
	w.file = f
	w.day = day
	if info != nil {
		w.written = info.Size()
	}
	return nil
}

func (w *datedWriter) rotateLocked(day string) error {
	if w.file != nil {
		w.file.Close()
	}
	w.written = 0
	if err := w.openForDayLocked(day); err != nil {
		return err
	}
	return w.pruneLocked()
}

func (w *datedWriter) pruneLocked() error {
	matches, err := filepath.Glob(filepath.Join(w.dir, w.prefix+"-*.log"))
	if err != nil || len(matches) <= w.maxFiles {
		return nil
	}
	// Oldest-first by lexical filename order, which matches chronological
	// order for YYYY-MM-DD-suffixed names.
	excess := len(matches) - w.maxFiles
	for i := 0; i < excess; i++ {
		os.Remove(matches[i])
	}
	return nil
}
