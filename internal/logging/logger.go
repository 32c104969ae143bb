// Package logging provides config-driven categorized file-based logging.
// Logs are written to .labindex/logs/ with a separate file per category.
// Logging is controlled by debug_mode in the workspace config; when false,
// nothing is written.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot       Category = "boot"       // Startup and configuration
	CategoryHandlers   Category = "handlers"   // File-type handler selection and parsing
	CategoryMatcher    Category = "matcher"    // Reference-to-file matching
	CategoryFeatures   Category = "features"   // Feature extraction and soft scoring
	CategoryRouter     Category = "router"     // Candidate routing decisions
	CategoryAudit      Category = "audit"      // Auditor verdicts and fallbacks
	CategoryClassifier Category = "classifier" // Training and ML scoring
	CategoryStore      Category = "store"      // SQLite store operations
	CategoryPipeline   Category = "pipeline"   // Orchestration runs
	CategoryAPI        Category = "api"        // LLM API calls
)

// Log levels
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Logger wraps a standard logger bound to one category file.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	enabled   bool
	logLevel  = LevelInfo
	configMu  sync.RWMutex
)

// Initialize sets up the logging directory. Call once at startup with the
// workspace path. Until called, Get returns no-op loggers.
func Initialize(workspace string, debugMode bool, level string) error {
	if workspace == "" {
		return fmt.Errorf("workspace path required")
	}

	configMu.Lock()
	defer configMu.Unlock()

	enabled = debugMode
	switch level {
	case "debug":
		logLevel = LevelDebug
	case "warn":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}

	if !enabled {
		return nil
	}

	logsDir = filepath.Join(workspace, ".labindex", "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}
	return nil
}

// Get returns the logger for a category, creating its file on first use.
// Safe to call from any goroutine; returns a no-op logger when logging is
// disabled or a file cannot be opened.
func Get(category Category) *Logger {
	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	l := &Logger{category: category}

	configMu.RLock()
	active := enabled && logsDir != ""
	configMu.RUnlock()

	if active {
		path := filepath.Join(logsDir, string(category)+".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err == nil {
			l.file = f
			l.logger = log.New(f, "", 0)
		}
	}

	loggers[category] = l
	return l
}

func (l *Logger) write(level int, prefix, format string, args ...interface{}) {
	if l == nil || l.logger == nil {
		return
	}
	configMu.RLock()
	min := logLevel
	configMu.RUnlock()
	if level < min {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	l.logger.Printf("%s [%s] %s", ts, prefix, fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.write(LevelDebug, "DEBUG", format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.write(LevelInfo, "INFO", format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.write(LevelWarn, "WARN", format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.write(LevelError, "ERROR", format, args...)
}

// Timer measures an operation and logs its duration on Stop.
type Timer struct {
	logger *Logger
	name   string
	start  time.Time
}

// StartTimer begins timing a named operation.
func (l *Logger) StartTimer(name string) *Timer {
	return &Timer{logger: l, name: name, start: time.Now()}
}

// Stop logs the elapsed time. Operations over a second log at warn level.
func (t *Timer) Stop() {
	if t == nil || t.logger == nil {
		return
	}
	elapsed := time.Since(t.start)
	if elapsed > time.Second {
		t.logger.Warn("%s took %s", t.name, elapsed)
	} else {
		t.logger.Debug("%s took %s", t.name, elapsed)
	}
}

// Close flushes and closes all category log files. Call at shutdown.
func Close() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			_ = l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}
