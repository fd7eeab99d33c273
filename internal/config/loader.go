package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/Ning0612/ddb/internal/domain"
)

// EnvPrefix prefixes environment overrides, e.g. DDB_HASH_ALGORITHM
const EnvPrefix = "DDB"

// DefaultConfigPaths returns the default paths to search for config files
func DefaultConfigPaths() []string {
	paths := []string{"."}

	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		paths = append(paths, filepath.Join(dir, "ddb"))
	} else if configDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(configDir, "ddb"))
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".ddb"))
	}

	return paths
}

// newViper returns a viper instance carrying every default, so that each
// key can be overridden from the environment.
func newViper() *viper.Viper {
	v := viper.New()
	d := Default()

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.outputs", d.Log.Outputs)
	v.SetDefault("log.file.enabled", d.Log.File.Enabled)
	v.SetDefault("log.file.path", d.Log.File.Path)
	v.SetDefault("log.file.max_size_mb", d.Log.File.MaxSizeMB)
	v.SetDefault("log.file.max_age_days", d.Log.File.MaxAgeDays)
	v.SetDefault("log.file.max_backups", d.Log.File.MaxBackups)
	v.SetDefault("log.file.compress", d.Log.File.Compress)

	v.SetDefault("hash.algorithm", d.Hash.Algorithm)
	v.SetDefault("hash.buffer_size", d.Hash.BufferSize)
	v.SetDefault("hash.max_size", d.Hash.MaxSize)

	v.SetDefault("add.concurrency", d.Add.Concurrency)

	v.SetDefault("build.points_per_node", d.Build.PointsPerNode)
	v.SetDefault("build.max_depth", d.Build.MaxDepth)
	v.SetDefault("build.zstd_level", d.Build.ZstdLevel)
	v.SetDefault("build.tile_size", d.Build.TileSize)
	v.SetDefault("build.zoom_levels", d.Build.ZoomLevels)
	v.SetDefault("build.concurrency", d.Build.Concurrency)

	v.SetDefault("thumbnail.size", d.Thumbnail.Size)
	v.SetDefault("thumbnail.quality", d.Thumbnail.Quality)

	v.SetDefault("tile.size", d.Tile.Size)
	v.SetDefault("tile.tms", d.Tile.TMS)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads and parses a configuration file.
// If path is empty, searches default locations for config.yaml and
// returns domain.ErrConfigNotFound when there is none.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(ExpandPath(path))
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, p := range DefaultConfigPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil, domain.ErrConfigNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	return decode(v)
}

// LoadOrDefault is Load falling back to defaults (with environment
// overrides) when no config file exists.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, domain.ErrConfigNotFound) && path == "" {
		return decode(newViper())
	}
	return cfg, err
}

// LoadFromString parses configuration from a YAML string
func LoadFromString(yamlContent string) (*Config, error) {
	v := newViper()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(strings.NewReader(yamlContent)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	cfg.Hash.Algorithm = strings.ToLower(cfg.Hash.Algorithm)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
