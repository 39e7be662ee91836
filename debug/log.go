package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where and how much gets logged.
type Config struct {
	Level      string // debug, info, warn, error
	Path       string // empty disables the file core
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	Stderr     bool // tee to stderr; only for headless commands, the TUI owns the terminal
}

var (
	mu       sync.RWMutex
	logger   = zap.NewNop()
	rotator  io.Closer
	counters = make(map[string]int)
)

// DefaultPath returns ~/.config/stepseq/debug.log.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "debug.log"
	}
	return filepath.Join(home, ".config", "stepseq", "debug.log")
}

// ParseLevel maps a config level name to a zap level. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	return zapcore.ParseLevel(s)
}

// Init replaces the global logger. It can be called again (the previous
// log file is closed).
func Init(cfg Config) error {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "cat",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var cores []zapcore.Core
	var lj *lumberjack.Logger
	if cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return err
		}
		lj = &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(lj), level))
	}
	if cfg.Stderr {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(os.Stderr), level))
	}

	next := zap.NewNop()
	if len(cores) > 0 {
		next = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	}

	mu.Lock()
	prev, prevRotator := logger, rotator
	logger = next
	rotator = nil
	if lj != nil {
		rotator = lj
	}
	mu.Unlock()

	_ = prev.Sync()
	if prevRotator != nil {
		prevRotator.Close()
	}
	next.Debug("logging started", zap.String("level", level.String()), zap.String("path", cfg.Path))
	return nil
}

// Close flushes and closes the log file. Logging afterwards is a no-op.
func Close() {
	mu.Lock()
	prev, prevRotator := logger, rotator
	logger = zap.NewNop()
	rotator = nil
	mu.Unlock()

	_ = prev.Sync()
	if prevRotator != nil {
		prevRotator.Close()
	}
}

// L returns the global logger. Before Init it discards everything.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Named returns a child logger for one subsystem (engine, midi, store, tui).
func Named(category string) *zap.Logger {
	return L().Named(category)
}

// Log writes a printf-style debug line under a category.
func Log(category, format string, args ...any) {
	Named(category).Sugar().Debugf(format, args...)
}

// LogEvery logs only every N calls (use for high-frequency events)
func LogEvery(n int, category, format string, args ...any) {
	mu.Lock()
	key := category + format
	counters[key]++
	count := counters[key]
	mu.Unlock()

	if n > 0 && count%n == 0 {
		Log(category, format+" (every %d, count=%d)", append(args, n, count)...)
	}
}
