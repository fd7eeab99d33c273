package logger

import (
	"io"
	"strings"
)

// Logger 統一日誌介面
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
	Sync() error     // 強制 flush
	Shutdown() error // 優雅關閉
}

// Level 日誌級別
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warn",
	LevelError: "error",
}

// String returns the string representation of the level
func (l Level) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return "unknown"
}

// ParseLevel parses a string into a Level (case-insensitive).
// Unknown names fall back to info.
func ParseLevel(s string) Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		return LevelWarn
	}
	for l, name := range levelNames {
		if name == s {
			return l
		}
	}
	return LevelInfo
}

// Format 日誌格式
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// String returns the string representation of the format
func (f Format) String() string {
	if f == FormatJSON {
		return "json"
	}
	return "text"
}

// ParseFormat parses a string into a Format (case-insensitive)
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), "json") {
		return FormatJSON
	}
	return FormatText
}

// Output 日誌輸出目標
type Output int

const (
	OutputStdout Output = iota
	OutputStderr
	OutputFile
)

// ParseOutput parses "stdout", "stderr" or "file". ok is false otherwise.
func ParseOutput(s string) (Output, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stdout":
		return OutputStdout, true
	case "stderr":
		return OutputStderr, true
	case "file":
		return OutputFile, true
	}
	return OutputStderr, false
}

// Config 日誌配置
type Config struct {
	Level   Level
	Format  Format
	Outputs []OutputConfig
	File    FileConfig
}

// DefaultConfig logs text at info level to stderr, keeping stdout for
// command output.
func DefaultConfig() Config {
	return Config{
		Level:   LevelInfo,
		Format:  FormatText,
		Outputs: []OutputConfig{{Type: OutputStderr}},
	}
}

// OutputConfig 輸出配置
type OutputConfig struct {
	Type   Output
	Writer io.Writer // 可選，用於測試
}

// FileConfig 檔案日誌配置（lumberjack rotation）
type FileConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int  // 單位：MB
	MaxAgeDays int  // 保留天數
	MaxBackups int  // 保留備份數
	Compress   bool // 是否壓縮
}
