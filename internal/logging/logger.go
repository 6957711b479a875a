// Package logging provides config-driven categorized logging for mudcore.
// Every subsystem logs through a category logger; all categories share one
// zap core configured by Initialize. Until Initialize (or SetLogger) is
// called every logger is a no-op, which keeps tests and embedded use quiet.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot     Category = "boot"     // Startup and configuration
	CategoryCompiler Category = "compiler" // Module compilation and reload
	CategoryCache    Category = "cache"    // Module cache lookups and edges
	CategoryStorage  Category = "storage"  // Storage records and migration
	CategoryMXC      Category = "mxc"      // Execution context stack
	CategoryDriver   Category = "driver"   // Object calls and permission checks
	CategoryWatcher  Category = "watcher"  // Source file watcher
	CategoryPersist  Category = "persist"  // Record persistence
)

// Config mirrors config.LoggingConfig to avoid an import cycle.
type Config struct {
	Level      string          // debug, info, warn, error
	Format     string          // json, console
	File       string          // empty means stderr
	Categories map[string]bool // missing categories are enabled
}

// Logger is a category-scoped logger.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu         sync.RWMutex
	base       = zap.NewNop()
	logFile    *os.File // owned by base; nil for stderr
	categories map[string]bool
	loggers    = make(map[Category]*Logger)
)

// Initialize builds the shared zap logger from cfg.
func Initialize(cfg Config) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc, err := newEncoder(cfg.Format, encCfg)
	if err != nil {
		return err
	}

	sink := zapcore.Lock(os.Stderr)
	var f *os.File
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err = os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		sink = zapcore.Lock(f)
	}

	install(zap.New(zapcore.NewCore(enc, sink, level)), cfg.Categories, f)
	Get(CategoryBoot).Debug("logging initialized: level=%s format=%s", level, cfg.Format)
	return nil
}

// Validate checks the level and format without building a logger.
func (c Config) Validate() error {
	if _, err := parseLevel(c.Level); err != nil {
		return err
	}
	_, err := newEncoder(c.Format, zap.NewProductionEncoderConfig())
	return err
}

func newEncoder(format string, encCfg zapcore.EncoderConfig) (zapcore.Encoder, error) {
	switch strings.ToLower(format) {
	case "json":
		return zapcore.NewJSONEncoder(encCfg), nil
	case "", "console", "text":
		return zapcore.NewConsoleEncoder(encCfg), nil
	}
	return nil, fmt.Errorf("unknown log format %q (valid: json, console, text)", format)
}

// SetLogger installs l as the shared logger. A nil logger disables logging.
func SetLogger(l *zap.Logger, enabled map[string]bool) {
	install(l, enabled, nil)
}

// install swaps the shared logger and closes the file owned by the one it
// replaces.
func install(l *zap.Logger, enabled map[string]bool, f *os.File) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	prev, prevFile := base, logFile
	base = l
	logFile = f
	categories = enabled
	loggers = make(map[Category]*Logger)
	mu.Unlock()

	if prevFile != nil {
		_ = prev.Sync()
		_ = prevFile.Close()
	}
}

// L returns the shared zap logger.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Sync flushes buffered log entries.
func Sync() {
	_ = L().Sync()
}

func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
}

// IsCategoryEnabled reports whether a category is enabled.
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	enabled, exists := categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
func Get(category Category) *Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	z := zap.NewNop()
	if enabled, exists := categories[string(category)]; !exists || enabled {
		z = base.Named(string(category))
	}
	l := &Logger{category: category, sugar: z.Sugar()}
	loggers[category] = l
	return l
}

func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// With returns a logger carrying structured key/value pairs.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// Category helpers

func Boot(format string, args ...interface{})          { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...interface{})     { Get(CategoryBoot).Debug(format, args...) }
func Compiler(format string, args ...interface{})      { Get(CategoryCompiler).Info(format, args...) }
func CompilerDebug(format string, args ...interface{}) { Get(CategoryCompiler).Debug(format, args...) }
func CompilerWarn(format string, args ...interface{})  { Get(CategoryCompiler).Warn(format, args...) }
func Cache(format string, args ...interface{})         { Get(CategoryCache).Info(format, args...) }
func CacheDebug(format string, args ...interface{})    { Get(CategoryCache).Debug(format, args...) }
func Storage(format string, args ...interface{})       { Get(CategoryStorage).Info(format, args...) }
func StorageDebug(format string, args ...interface{})  { Get(CategoryStorage).Debug(format, args...) }
func MXCDebug(format string, args ...interface{})      { Get(CategoryMXC).Debug(format, args...) }
func MXCError(format string, args ...interface{})      { Get(CategoryMXC).Error(format, args...) }
func Driver(format string, args ...interface{})        { Get(CategoryDriver).Info(format, args...) }
func DriverDebug(format string, args ...interface{})   { Get(CategoryDriver).Debug(format, args...) }
func DriverWarn(format string, args ...interface{})    { Get(CategoryDriver).Warn(format, args...) }
func Watcher(format string, args ...interface{})       { Get(CategoryWatcher).Info(format, args...) }
func WatcherDebug(format string, args ...interface{})  { Get(CategoryWatcher).Debug(format, args...) }
func WatcherError(format string, args ...interface{})  { Get(CategoryWatcher).Error(format, args...) }
func Persist(format string, args ...interface{})       { Get(CategoryPersist).Info(format, args...) }
func PersistDebug(format string, args ...interface{})  { Get(CategoryPersist).Debug(format, args...) }

// Timer measures the duration of an operation.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
