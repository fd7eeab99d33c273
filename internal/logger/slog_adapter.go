package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// SlogLogger slog 實作。With 產生的子 logger 共用 handler 但不擁有 writers
type SlogLogger struct {
	logger    *slog.Logger
	sanitizer *Sanitizer
	writers   []io.WriteCloser // 只有 root logger 需要關閉
	root      bool
}

// NewSlogLogger 建立新的 slog logger
func NewSlogLogger(config Config) (*SlogLogger, error) {
	var (
		writers   []io.Writer
		closeable []io.WriteCloser
	)

	for _, output := range config.Outputs {
		w, c, err := openOutput(output, config.File)
		if err != nil {
			for _, opened := range closeable {
				opened.Close()
			}
			return nil, err
		}
		if w == nil {
			continue
		}
		writers = append(writers, w)
		if c != nil {
			closeable = append(closeable, c)
		}
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	opts := &slog.HandlerOptions{Level: convertLevel(config.Level)}
	out := io.MultiWriter(writers...)

	var handler slog.Handler
	if config.Format == FormatJSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return &SlogLogger{
		logger:    slog.New(handler),
		sanitizer: NewSanitizer(),
		writers:   closeable,
		root:      true,
	}, nil
}

// openOutput returns the writer of one output and, when the logger owns
// it, the closer. A disabled file output yields no writer.
func openOutput(output OutputConfig, file FileConfig) (io.Writer, io.WriteCloser, error) {
	switch output.Type {
	case OutputStdout, OutputStderr:
		if output.Writer == nil {
			if output.Type == OutputStdout {
				return os.Stdout, nil, nil
			}
			return os.Stderr, nil, nil
		}
		if wc, ok := output.Writer.(io.WriteCloser); ok && !isStdStream(wc) {
			return output.Writer, wc, nil
		}
		return output.Writer, nil, nil
	case OutputFile:
		if !file.Enabled {
			return nil, nil, nil
		}
		fw, err := createFileWriter(file)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create file writer: %w", err)
		}
		return fw, fw, nil
	}
	return nil, nil, fmt.Errorf("unknown log output %d", output.Type)
}

func isStdStream(w io.Writer) bool {
	return w == os.Stdout || w == os.Stderr || w == os.Stdin
}

// createFileWriter 建立檔案 writer（使用 lumberjack 支援 rotation）
func createFileWriter(config FileConfig) (io.WriteCloser, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("log file path cannot be empty")
	}

	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return &lumberjack.Logger{
		Filename:   config.Path,
		MaxSize:    config.MaxSizeMB,
		MaxAge:     config.MaxAgeDays,
		MaxBackups: config.MaxBackups,
		Compress:   config.Compress,
	}, nil
}

// convertLevel 轉換內部 Level 到 slog.Level
func convertLevel(level Level) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// emit 過濾敏感資訊後輸出
func (l *SlogLogger) emit(level slog.Level, msg string, args []any) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}
	l.logger.Log(ctx, level, l.sanitizer.Sanitize(msg), l.sanitizer.SanitizeArgs(args)...)
}

// Debug 記錄 debug 級別日誌
func (l *SlogLogger) Debug(msg string, args ...any) { l.emit(slog.LevelDebug, msg, args) }

// Info 記錄 info 級別日誌
func (l *SlogLogger) Info(msg string, args ...any) { l.emit(slog.LevelInfo, msg, args) }

// Warn 記錄 warn 級別日誌
func (l *SlogLogger) Warn(msg string, args ...any) { l.emit(slog.LevelWarn, msg, args) }

// Error 記錄 error 級別日誌
func (l *SlogLogger) Error(msg string, args ...any) { l.emit(slog.LevelError, msg, args) }

// With 建立帶 context 的子 logger
func (l *SlogLogger) With(args ...any) Logger {
	return &SlogLogger{
		logger:    l.logger.With(l.sanitizer.SanitizeArgs(args)...),
		sanitizer: l.sanitizer,
	}
}

// Sync 強制 flush；lumberjack 每次寫入即落盤
func (l *SlogLogger) Sync() error {
	return nil
}

// Shutdown 關閉 root logger 擁有的 writers；子 logger 為 no-op
func (l *SlogLogger) Shutdown() error {
	if !l.root {
		return nil
	}
	var lastErr error
	for _, w := range l.writers {
		if err := w.Close(); err != nil {
			lastErr = err
		}
	}
	l.writers = nil
	return lastErr
}
