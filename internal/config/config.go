// Package config loads the ddb configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/Ning0612/ddb/internal/core/checksum"
	"github.com/Ning0612/ddb/internal/domain"
	"github.com/Ning0612/ddb/internal/logger"
)

// Config represents the complete configuration for ddb
type Config struct {
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Hash      HashConfig      `mapstructure:"hash" yaml:"hash"`
	Add       AddConfig       `mapstructure:"add" yaml:"add"`
	Build     BuildConfig     `mapstructure:"build" yaml:"build"`
	Thumbnail ThumbnailConfig `mapstructure:"thumbnail" yaml:"thumbnail"`
	Tile      TileConfig      `mapstructure:"tile" yaml:"tile"`
}

// LogConfig configures the global logger
type LogConfig struct {
	Level   string        `mapstructure:"level" yaml:"level"`
	Format  string        `mapstructure:"format" yaml:"format"`
	Outputs []string      `mapstructure:"outputs" yaml:"outputs"`
	File    LogFileConfig `mapstructure:"file" yaml:"file"`
}

// LogFileConfig configures the rotated log file
type LogFileConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Path       string `mapstructure:"path" yaml:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// HashConfig selects the content digest
type HashConfig struct {
	Algorithm  string `mapstructure:"algorithm" yaml:"algorithm"`
	BufferSize int    `mapstructure:"buffer_size" yaml:"buffer_size"`
	// MaxSize rejects larger files, 0 means unlimited
	MaxSize int64 `mapstructure:"max_size" yaml:"max_size"`
}

// AddConfig tunes Add
type AddConfig struct {
	// Concurrency bounds the files classified at once
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
}

// BuildConfig tunes the build pipeline
type BuildConfig struct {
	// PointsPerNode caps the points of one EPT node before it splits
	PointsPerNode int `mapstructure:"points_per_node" yaml:"points_per_node"`
	// MaxDepth caps the EPT octree depth
	MaxDepth int `mapstructure:"max_depth" yaml:"max_depth"`
	// ZstdLevel is the zstd encoder level of EPT nodes (1-4)
	ZstdLevel int `mapstructure:"zstd_level" yaml:"zstd_level"`
	// TileSize is the edge of raster pyramid tiles in pixels
	TileSize int `mapstructure:"tile_size" yaml:"tile_size"`
	// ZoomLevels is how many levels below the native zoom are built
	ZoomLevels int `mapstructure:"zoom_levels" yaml:"zoom_levels"`
	// Concurrency bounds the tiles rendered at once
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
}

// ThumbnailConfig configures thumbnails
type ThumbnailConfig struct {
	Size    int `mapstructure:"size" yaml:"size"`
	Quality int `mapstructure:"quality" yaml:"quality"`
}

// TileConfig configures single tile rendering
type TileConfig struct {
	Size int  `mapstructure:"size" yaml:"size"`
	TMS  bool `mapstructure:"tms" yaml:"tms"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:   "info",
			Format:  "text",
			Outputs: []string{"stderr"},
			File: LogFileConfig{
				MaxSizeMB:  10,
				MaxAgeDays: 30,
				MaxBackups: 3,
			},
		},
		Hash: HashConfig{
			Algorithm:  string(checksum.SHA256),
			BufferSize: 64 * 1024,
		},
		Add: AddConfig{
			Concurrency: runtime.NumCPU(),
		},
		Build: BuildConfig{
			PointsPerNode: 100000,
			MaxDepth:      8,
			ZstdLevel:     2,
			TileSize:      256,
			ZoomLevels:    3,
			Concurrency:   runtime.NumCPU(),
		},
		Thumbnail: ThumbnailConfig{
			Size:    512,
			Quality: 85,
		},
		Tile: TileConfig{
			Size: 256,
		},
	}
}

// Validate checks if the configuration is complete and consistent
func (c *Config) Validate() error {
	if _, ok := parseOutputs(c.Log.Outputs); !ok {
		return fmt.Errorf("%w: unknown log output in %v", domain.ErrConfigInvalid, c.Log.Outputs)
	}
	if c.Log.File.Enabled && c.Log.File.Path == "" {
		return fmt.Errorf("%w: log file enabled without a path", domain.ErrConfigInvalid)
	}
	if !checksum.IsSupported(checksum.Algorithm(c.Hash.Algorithm)) {
		return fmt.Errorf("%w: unsupported hash algorithm: %s", domain.ErrConfigInvalid, c.Hash.Algorithm)
	}
	if c.Hash.BufferSize <= 0 {
		return fmt.Errorf("%w: hash buffer size must be positive", domain.ErrConfigInvalid)
	}
	if c.Hash.MaxSize < 0 {
		return fmt.Errorf("%w: hash max size cannot be negative", domain.ErrConfigInvalid)
	}
	if c.Add.Concurrency < 1 {
		return fmt.Errorf("%w: add concurrency must be at least 1", domain.ErrConfigInvalid)
	}
	if c.Build.PointsPerNode < 1 || c.Build.MaxDepth < 0 || c.Build.Concurrency < 1 {
		return fmt.Errorf("%w: invalid build limits", domain.ErrConfigInvalid)
	}
	if c.Build.ZstdLevel < 1 || c.Build.ZstdLevel > 4 {
		return fmt.Errorf("%w: zstd level must be between 1 and 4", domain.ErrConfigInvalid)
	}
	if !validTileSize(c.Build.TileSize) || !validTileSize(c.Tile.Size) {
		return fmt.Errorf("%w: tile size must be a power of two between 64 and 1024", domain.ErrConfigInvalid)
	}
	if c.Build.ZoomLevels < 0 || c.Build.ZoomLevels > 10 {
		return fmt.Errorf("%w: zoom levels must be between 0 and 10", domain.ErrConfigInvalid)
	}
	if c.Thumbnail.Size < 1 || c.Thumbnail.Size > 4096 {
		return fmt.Errorf("%w: thumbnail size must be between 1 and 4096", domain.ErrConfigInvalid)
	}
	if c.Thumbnail.Quality < 1 || c.Thumbnail.Quality > 100 {
		return fmt.Errorf("%w: thumbnail quality must be between 1 and 100", domain.ErrConfigInvalid)
	}
	return nil
}

func validTileSize(n int) bool {
	return n >= 64 && n <= 1024 && n&(n-1) == 0
}

func parseOutputs(names []string) ([]logger.OutputConfig, bool) {
	outputs := make([]logger.OutputConfig, 0, len(names))
	for _, name := range names {
		out, ok := logger.ParseOutput(name)
		if !ok {
			return nil, false
		}
		outputs = append(outputs, logger.OutputConfig{Type: out})
	}
	return outputs, true
}

// LoggerConfig converts the log section for logger.Init
func (c *Config) LoggerConfig() logger.Config {
	outputs, ok := parseOutputs(c.Log.Outputs)
	if !ok || len(outputs) == 0 {
		outputs = []logger.OutputConfig{{Type: logger.OutputStderr}}
	}
	return logger.Config{
		Level:   logger.ParseLevel(c.Log.Level),
		Format:  logger.ParseFormat(c.Log.Format),
		Outputs: outputs,
		File: logger.FileConfig{
			Enabled:    c.Log.File.Enabled,
			Path:       ExpandPath(c.Log.File.Path),
			MaxSizeMB:  c.Log.File.MaxSizeMB,
			MaxAgeDays: c.Log.File.MaxAgeDays,
			MaxBackups: c.Log.File.MaxBackups,
			Compress:   c.Log.File.Compress,
		},
	}
}

// ChecksumOptions converts the hash section for checksum.NewCalculator
func (c *Config) ChecksumOptions() checksum.Options {
	return checksum.Options{
		Algorithm:  checksum.Algorithm(c.Hash.Algorithm),
		MaxSize:    c.Hash.MaxSize,
		BufferSize: c.Hash.BufferSize,
	}
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			if len(path) == 1 {
				path = home
			} else if path[1] == '/' || path[1] == filepath.Separator {
				path = filepath.Join(home, path[2:])
			}
		}
	}
	return filepath.Clean(os.ExpandEnv(path))
}
