package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// LegacyLogger 舊版 logger（純文字輸出到 stderr，用於回退）
type LegacyLogger struct {
	mu     sync.RWMutex
	level  Level
	out    io.Writer
	fields []any
}

// NewLegacyLogger 建立 legacy logger
func NewLegacyLogger() *LegacyLogger {
	return &LegacyLogger{level: LevelInfo, out: os.Stderr}
}

// SetLevel 設定日誌級別
func (l *LegacyLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *LegacyLogger) write(level Level, msg string, args []any) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if level < l.level {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s", time.Now().Format(time.RFC3339), strings.ToUpper(level.String()), msg)
	all := append(append([]any{}, l.fields...), args...)
	for i := 0; i+1 < len(all); i += 2 {
		fmt.Fprintf(&b, " %v=%v", all[i], all[i+1])
	}
	b.WriteByte('\n')
	io.WriteString(l.out, b.String())
}

// Debug 記錄 debug 級別日誌
func (l *LegacyLogger) Debug(msg string, args ...any) { l.write(LevelDebug, msg, args) }

// Info 記錄 info 級別日誌
func (l *LegacyLogger) Info(msg string, args ...any) { l.write(LevelInfo, msg, args) }

// Warn 記錄 warn 級別日誌
func (l *LegacyLogger) Warn(msg string, args ...any) { l.write(LevelWarn, msg, args) }

// Error 記錄 error 級別日誌
func (l *LegacyLogger) Error(msg string, args ...any) { l.write(LevelError, msg, args) }

// With 回傳帶固定欄位的 logger，與父 logger 共用輸出
func (l *LegacyLogger) With(args ...any) Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &LegacyLogger{
		level:  l.level,
		out:    l.out,
		fields: append(append([]any{}, l.fields...), args...),
	}
}

// Sync 強制 flush
func (l *LegacyLogger) Sync() error { return nil }

// Shutdown 優雅關閉
func (l *LegacyLogger) Shutdown() error { return nil }
