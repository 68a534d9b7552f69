// Package config loads estatemap settings from YAML and ESTATEMAP_*
// environment variables through viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"web/estatemap/logging"
)

const envPrefix = "ESTATEMAP"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Cluster   ClusterConfig   `mapstructure:"cluster"`
	Viewport  ViewportConfig  `mapstructure:"viewport"`
	Runner    RunnerConfig    `mapstructure:"runner"`
	Isochrone IsochroneConfig `mapstructure:"isochrone"`
	POI       POIConfig       `mapstructure:"poi"`
	Data      DataConfig      `mapstructure:"data"`
	Log       logging.Config  `mapstructure:"log"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// ClusterConfig holds the clustering parameters. They are fixed per
// deployment rather than derived from point density.
type ClusterConfig struct {
	RadiusPx  float64 `mapstructure:"radius_px"`
	MaxZoom   int     `mapstructure:"max_zoom"`
	MinPoints int     `mapstructure:"min_points"`
	TileSize  float64 `mapstructure:"tile_size"`
}

type ViewportConfig struct {
	PaddingRatio float64 `mapstructure:"padding_ratio"`
}

type RunnerConfig struct {
	MaxSessions int           `mapstructure:"max_sessions"`
	IdleTTL     time.Duration `mapstructure:"idle_ttl"`
}

type IsochroneConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type POIConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Amenity  string        `mapstructure:"amenity"`
}

type DataConfig struct {
	Listings      string `mapstructure:"listings"`
	Neighborhoods string `mapstructure:"neighborhoods"`
	Datasets      string `mapstructure:"datasets"`
	WatchListings bool   `mapstructure:"watch_listings"`
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindKeys(v)
	return v
}

// bindKeys registers every key so AutomaticEnv also applies to Unmarshal
// when no config file mentions it.
func bindKeys(v *viper.Viper) {
	for _, key := range []string{
		"server.addr", "server.read_timeout", "server.write_timeout",
		"cluster.radius_px", "cluster.max_zoom", "cluster.min_points", "cluster.tile_size",
		"viewport.padding_ratio",
		"runner.max_sessions", "runner.idle_ttl",
		"isochrone.base_url", "isochrone.token", "isochrone.timeout",
		"poi.endpoint", "poi.timeout", "poi.amenity",
		"data.listings", "data.neighborhoods", "data.datasets", "data.watch_listings",
		"log.level", "log.format",
	} {
		_ = v.BindEnv(key)
	}
}

// Load reads path (if not empty), applies env overrides and defaults and
// validates the result.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

func ApplyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Cluster.RadiusPx == 0 {
		cfg.Cluster.RadiusPx = 60
	}
	if cfg.Cluster.MaxZoom == 0 {
		cfg.Cluster.MaxZoom = 16
	}
	if cfg.Cluster.MinPoints == 0 {
		cfg.Cluster.MinPoints = 2
	}
	if cfg.Cluster.TileSize == 0 {
		cfg.Cluster.TileSize = 256
	}
	if cfg.Viewport.PaddingRatio == 0 {
		cfg.Viewport.PaddingRatio = 1
	}
	if cfg.Runner.MaxSessions == 0 {
		cfg.Runner.MaxSessions = 64
	}
	if cfg.Runner.IdleTTL == 0 {
		cfg.Runner.IdleTTL = 30 * time.Minute
	}
	if cfg.Isochrone.Timeout == 0 {
		cfg.Isochrone.Timeout = 10 * time.Second
	}
	if cfg.POI.Endpoint == "" {
		cfg.POI.Endpoint = "https://overpass-api.de/api/interpreter"
	}
	if cfg.POI.Timeout == 0 {
		cfg.POI.Timeout = 20 * time.Second
	}
	if cfg.POI.Amenity == "" {
		cfg.POI.Amenity = "school|hospital|pharmacy|supermarket|park"
	}
	if cfg.Data.Datasets == "" {
		cfg.Data.Datasets = "data/datasets"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Cluster.RadiusPx <= 0 {
		errs = append(errs, fmt.Errorf("cluster.radius_px must be positive, got %v", c.Cluster.RadiusPx))
	}
	if c.Cluster.MinPoints < 2 {
		errs = append(errs, fmt.Errorf("cluster.min_points must be at least 2, got %d", c.Cluster.MinPoints))
	}
	if c.Cluster.MaxZoom < 0 || c.Cluster.MaxZoom > 22 {
		errs = append(errs, fmt.Errorf("cluster.max_zoom must be within [0, 22], got %d", c.Cluster.MaxZoom))
	}
	if c.Viewport.PaddingRatio < 0 {
		errs = append(errs, fmt.Errorf("viewport.padding_ratio must not be negative"))
	}
	if c.Runner.MaxSessions < 1 {
		errs = append(errs, fmt.Errorf("runner.max_sessions must be at least 1"))
	}
	return errors.Join(errs...)
}
