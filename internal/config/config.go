// Package config provides configuration management for burnmap.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds the complete application configuration loaded from environment variables.
type Config struct {
	Server   ServerConfig   `envPrefix:"SERVER_"`
	Catalog  CatalogConfig  `envPrefix:"CATALOG_"`
	Pipeline PipelineConfig `envPrefix:"PIPELINE_"`
	Logging  LoggingConfig  `envPrefix:"LOG_"`
}

// ServerConfig contains HTTP server configuration for serve mode.
type ServerConfig struct {
	Host            string        `env:"HOST" envDefault:"0.0.0.0"`
	Port            int           `env:"PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RunTTL          time.Duration `env:"RUN_TTL" envDefault:"24h"`
}

// CatalogConfig contains STAC API client configuration.
type CatalogConfig struct {
	BaseURL      string        `env:"BASE_URL" envDefault:"https://earth-search.aws.element84.com/v1"`
	Collection   string        `env:"COLLECTION" envDefault:"sentinel-2-l2a"`
	CloudCoverLT float64       `env:"CLOUD_COVER_LT" envDefault:"1.0"`
	PageLimit    int           `env:"PAGE_LIMIT" envDefault:"100"`
	MaxItems     int           `env:"MAX_ITEMS" envDefault:"1000"`
	Timeout      time.Duration `env:"TIMEOUT" envDefault:"60s"`
}

// PipelineConfig contains processing configuration.
type PipelineConfig struct {
	InDir               string        `env:"IN_DIR" envDefault:"/scratch/in"`
	OutDir              string        `env:"OUT_DIR" envDefault:"/scratch/out"`
	DateOffsetDays      int           `env:"DATE_OFFSET_DAYS" envDefault:"10"`
	Crop                bool          `env:"CROP" envDefault:"true"`
	NIRAsset            string        `env:"NIR_ASSET" envDefault:"nir"`
	NIRToken            string        `env:"NIR_TOKEN" envDefault:"B08"`
	SWIRAsset           string        `env:"SWIR_ASSET" envDefault:"swir22"`
	SWIRToken           string        `env:"SWIR_TOKEN" envDefault:"B12"`
	ReferenceResolution float64       `env:"REFERENCE_RESOLUTION" envDefault:"10"`
	NoData              float64       `env:"NODATA" envDefault:"-9999"`
	DownloadTimeout     time.Duration `env:"DOWNLOAD_TIMEOUT" envDefault:"10m"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

// Load parses configuration from environment variables.
// It returns an error if required fields are missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}

	opts := env.Options{
		RequiredIfNoDef: true,
	}

	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Defaults returns the default configuration without reading the process
// environment.
func Defaults() *Config {
	cfg := &Config{}

	// Defaults are static; parsing an empty environment cannot fail.
	_ = env.ParseWithOptions(cfg, env.Options{Environment: map[string]string{}})

	return cfg
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive, got %s", c.Server.ReadTimeout)
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive, got %s", c.Server.WriteTimeout)
	}

	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server shutdown timeout must be positive, got %s", c.Server.ShutdownTimeout)
	}

	if c.Server.RunTTL <= 0 {
		return fmt.Errorf("run TTL must be positive, got %s", c.Server.RunTTL)
	}

	// Validate catalog config
	if u, err := url.Parse(c.Catalog.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("catalog base URL must be an absolute URL, got %q", c.Catalog.BaseURL)
	}

	if c.Catalog.Collection == "" {
		return fmt.Errorf("catalog collection is required")
	}

	if c.Catalog.CloudCoverLT < 0 || c.Catalog.CloudCoverLT > 100 {
		return fmt.Errorf("cloud cover threshold must be between 0 and 100, got %g", c.Catalog.CloudCoverLT)
	}

	if c.Catalog.PageLimit < 1 {
		return fmt.Errorf("catalog page limit must be at least 1, got %d", c.Catalog.PageLimit)
	}

	if c.Catalog.MaxItems < 2 {
		return fmt.Errorf("catalog max items must be at least 2, got %d", c.Catalog.MaxItems)
	}

	if c.Catalog.Timeout <= 0 {
		return fmt.Errorf("catalog timeout must be positive, got %s", c.Catalog.Timeout)
	}

	// Validate pipeline config
	if c.Pipeline.OutDir == "" {
		return fmt.Errorf("output directory is required")
	}

	if c.Pipeline.DateOffsetDays < 0 {
		return fmt.Errorf("date offset must not be negative, got %d", c.Pipeline.DateOffsetDays)
	}

	if c.Pipeline.NIRAsset == "" || c.Pipeline.SWIRAsset == "" {
		return fmt.Errorf("NIR and SWIR asset keys are required")
	}

	if c.Pipeline.NIRToken == "" || c.Pipeline.SWIRToken == "" {
		return fmt.Errorf("NIR and SWIR file tokens are required")
	}

	if c.Pipeline.NIRToken == c.Pipeline.SWIRToken {
		return fmt.Errorf("NIR and SWIR file tokens must differ, both are %q", c.Pipeline.NIRToken)
	}

	if c.Pipeline.ReferenceResolution <= 0 {
		return fmt.Errorf("reference resolution must be positive, got %g", c.Pipeline.ReferenceResolution)
	}

	if c.Pipeline.DownloadTimeout <= 0 {
		return fmt.Errorf("download timeout must be positive, got %s", c.Pipeline.DownloadTimeout)
	}

	// Validate logging config
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, text", c.Logging.Format)
	}

	return nil
}

// Address returns the server listen address in the format "host:port".
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Assets returns the catalog asset keys to download, SWIR first.
func (p *PipelineConfig) Assets() []string {
	return []string{p.SWIRAsset, p.NIRAsset}
}
