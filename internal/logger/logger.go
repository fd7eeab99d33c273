// Package logger is the process-wide structured logger.
package logger

import (
	"fmt"
	"os"
	"sync"
)

// LegacyEnv selects the plain fmt logger when set to "true".
const LegacyEnv = "DDB_USE_LEGACY_LOGGER"

var (
	defaultLogger Logger
	mu            sync.RWMutex
	initialized   bool
)

// Init 初始化全域 logger
func Init(config Config) error {
	mu.Lock()
	defer mu.Unlock()

	if initialized {
		return fmt.Errorf("logger already initialized; call Shutdown() before re-initializing")
	}

	// 回退機制
	if os.Getenv(LegacyEnv) == "true" {
		legacy := NewLegacyLogger()
		legacy.SetLevel(config.Level)
		defaultLogger = legacy
		initialized = true
		return nil
	}

	l, err := NewSlogLogger(config)
	if err != nil {
		return fmt.Errorf("failed to create slog logger: %w", err)
	}

	defaultLogger = l
	initialized = true
	return nil
}

// Get 取得全域 logger；未初始化時回傳 NullLogger
func Get() Logger {
	mu.RLock()
	defer mu.RUnlock()

	if !initialized {
		return &NullLogger{}
	}
	return defaultLogger
}

// With 建立帶 context 的子 logger
func With(args ...any) Logger {
	return Get().With(args...)
}

// Component returns a child of the global logger tagged with a component name.
func Component(name string) Logger {
	return Get().With("component", name)
}

// Sync 強制 flush
func Sync() error {
	return Get().Sync()
}

// Shutdown 優雅關閉
func Shutdown() error {
	mu.Lock()
	if !initialized {
		mu.Unlock()
		return nil
	}

	l := defaultLogger
	initialized = false
	defaultLogger = nil
	// logger.Shutdown() may log; do not hold mu while it runs
	mu.Unlock()

	return l.Shutdown()
}

// SetLevel 動態調整日誌級別（僅 legacy logger 支援）
func SetLevel(level Level) {
	mu.RLock()
	defer mu.RUnlock()

	if legacy, ok := defaultLogger.(*LegacyLogger); ok {
		legacy.SetLevel(level)
	}
}

// NullLogger 空 logger（不做任何事）
type NullLogger struct{}

func (n *NullLogger) Debug(msg string, args ...any) {}
func (n *NullLogger) Info(msg string, args ...any)  {}
func (n *NullLogger) Warn(msg string, args ...any)  {}
func (n *NullLogger) Error(msg string, args ...any) {}
func (n *NullLogger) With(args ...any) Logger       { return n }
func (n *NullLogger) Sync() error                   { return nil }
func (n *NullLogger) Shutdown() error               { return nil }
