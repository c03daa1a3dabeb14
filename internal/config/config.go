// Package config provides configuration management for hlsforge using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort        = 8080
	defaultShutdownTimeout   = 10 * time.Second
	defaultMaxOpenConns      = 25
	defaultMaxIdleConns      = 10
	defaultConnMaxIdleTime   = 30 * time.Minute
	defaultOrphanMaxAge      = time.Hour
	defaultHLSTime           = 2
	defaultMonitorInterval   = 5 * time.Second
	defaultChunkSize         = 64 * 1024
	defaultMaxUploadSize     = 4 * 1000 * 1000 * 1000 // 4GB
	defaultSessionTimeout    = 2 * time.Hour
	defaultWSReadLimit       = 1024 * 1024
	minChunkSize             = 4 * 1024
	maxChunkSize             = 1024 * 1024
	defaultSegmentPattern    = "%03d.ts"
	defaultPlaylistName      = "index.m3u8"
	defaultResourcesDir      = "resources"
	defaultVideoCodec        = "libx264"
	defaultRedactedFieldsCSV = "dsn,DSN,password,Password,token,Token"
)

// Route segments under which playlists and their segments are served.
const (
	StreamURLPathComponent  = "stream"
	SegmentURLPathComponent = "segment"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	FFmpeg   FFmpegConfig   `mapstructure:"ffmpeg"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	// PublicPrefix is prepended to segment URLs written into playlists,
	// e.g. "https://cdn.example.com". Empty means root-relative URLs.
	PublicPrefix string `mapstructure:"public_prefix"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"`
}

// StorageConfig holds on-disk layout configuration.
type StorageConfig struct {
	// ResourcesDir holds one working directory per stream, named by stream id.
	ResourcesDir string `mapstructure:"resources_dir"`
	// OrphanMaxAge is how old an unreferenced working directory must be
	// before the sweep removes it.
	OrphanMaxAge time.Duration `mapstructure:"orphan_max_age"`
	// SweepSchedule is a cron expression for the periodic orphan sweep.
	// Empty disables the periodic sweep; the startup sweep always runs.
	SweepSchedule string `mapstructure:"sweep_schedule"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level          string   `mapstructure:"level"`
	Format         string   `mapstructure:"format"`
	AddSource      bool     `mapstructure:"add_source"`
	TimeFormat     string   `mapstructure:"time_format"`
	RequestLogging bool     `mapstructure:"request_logging"`
	RedactFields   []string `mapstructure:"redact_fields"`
}

// FFmpegConfig holds transcoder configuration.
type FFmpegConfig struct {
	BinaryPath      string        `mapstructure:"binary_path"`
	VideoCodec      string        `mapstructure:"video_codec"`
	HLSTime         int           `mapstructure:"hls_time"`
	SegmentPattern  string        `mapstructure:"segment_pattern"`
	PlaylistName    string        `mapstructure:"playlist_name"`
	ExtraArgs       []string      `mapstructure:"extra_args"`
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`
}

// IngestConfig holds upload pipeline configuration.
type IngestConfig struct {
	ChunkSize             ByteSize      `mapstructure:"chunk_size"`
	MaxUploadSize         ByteSize      `mapstructure:"max_upload_size"`
	RequireContentLength  bool          `mapstructure:"require_content_length"`
	SessionTimeout        time.Duration `mapstructure:"session_timeout"`
	RollbackRecord        bool          `mapstructure:"rollback_record"`
	MaxConcurrentSessions int           `mapstructure:"max_concurrent_sessions"`
	WSReadLimit           ByteSize      `mapstructure:"ws_read_limit"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with HLSFORGE_ and use underscores for nesting.
// Example: HLSFORGE_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/hlsforge")
		v.AddConfigPath("$HOME/.hlsforge")
	}

	v.SetEnvPrefix("HLSFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return decode(v)
}

// FromViper decodes and validates configuration from an already populated
// viper instance. Used by the CLI after binding flags.
func FromViper(v *viper.Viper) (*Config, error) {
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults. Uploads stream for as long as the transcode runs, so
	// the write timeout is disabled and ingest.session_timeout bounds them.
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", time.Duration(0))
	v.SetDefault("server.write_timeout", time.Duration(0))
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.public_prefix", "")

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "hlsforge.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.resources_dir", defaultResourcesDir)
	v.SetDefault("storage.orphan_max_age", defaultOrphanMaxAge)
	v.SetDefault("storage.sweep_schedule", "@every 15m")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
	v.SetDefault("logging.request_logging", true)
	v.SetDefault("logging.redact_fields", strings.Split(defaultRedactedFieldsCSV, ","))

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.video_codec", defaultVideoCodec)
	v.SetDefault("ffmpeg.hls_time", defaultHLSTime)
	v.SetDefault("ffmpeg.segment_pattern", defaultSegmentPattern)
	v.SetDefault("ffmpeg.playlist_name", defaultPlaylistName)
	v.SetDefault("ffmpeg.extra_args", []string{})
	v.SetDefault("ffmpeg.monitor_interval", defaultMonitorInterval)

	// Ingest defaults
	v.SetDefault("ingest.chunk_size", defaultChunkSize)
	v.SetDefault("ingest.max_upload_size", defaultMaxUploadSize)
	v.SetDefault("ingest.require_content_length", true)
	v.SetDefault("ingest.session_timeout", defaultSessionTimeout)
	v.SetDefault("ingest.rollback_record", true)
	v.SetDefault("ingest.max_concurrent_sessions", 0)
	v.SetDefault("ingest.ws_read_limit", defaultWSReadLimit)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}
	if c.Server.PublicPrefix != "" && strings.HasSuffix(c.Server.PublicPrefix, "/") {
		return fmt.Errorf("server.public_prefix must not end with '/'")
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Storage.ResourcesDir == "" {
		return fmt.Errorf("storage.resources_dir is required")
	}
	if c.Storage.OrphanMaxAge < 0 {
		return fmt.Errorf("storage.orphan_max_age must not be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.FFmpeg.VideoCodec == "" {
		return fmt.Errorf("ffmpeg.video_codec is required")
	}
	if c.FFmpeg.HLSTime < 1 {
		return fmt.Errorf("ffmpeg.hls_time must be at least 1")
	}
	if !strings.Contains(c.FFmpeg.SegmentPattern, "%") {
		return fmt.Errorf("ffmpeg.segment_pattern must contain a numeric verb, e.g. %%03d.ts")
	}
	if c.FFmpeg.PlaylistName == "" || filepath.Base(c.FFmpeg.PlaylistName) != c.FFmpeg.PlaylistName {
		return fmt.Errorf("ffmpeg.playlist_name must be a bare file name")
	}

	if c.Ingest.ChunkSize < minChunkSize || c.Ingest.ChunkSize > maxChunkSize {
		return fmt.Errorf("ingest.chunk_size must be between %s and %s",
			ByteSize(minChunkSize), ByteSize(maxChunkSize))
	}
	if c.Ingest.MaxUploadSize <= 0 {
		return fmt.Errorf("ingest.max_upload_size must be positive")
	}
	if c.Ingest.SessionTimeout <= 0 {
		return fmt.Errorf("ingest.session_timeout must be positive")
	}
	if c.Ingest.MaxConcurrentSessions < 0 {
		return fmt.Errorf("ingest.max_concurrent_sessions must not be negative")
	}
	if c.Ingest.WSReadLimit < c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.ws_read_limit must be at least ingest.chunk_size")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SegmentBaseURL returns the URL prefix embedded in playlists for the
// segments of the given stream, always ending in '/'.
func (c *ServerConfig) SegmentBaseURL(streamID string) string {
	return c.PublicPrefix + "/" + SegmentURLPathComponent + "/" + streamID + "/"
}

// PlaylistURL returns the public URL of a stream's playlist.
func (c *ServerConfig) PlaylistURL(streamID string) string {
	return c.PublicPrefix + "/" + StreamURLPathComponent + "/" + streamID
}
