// Package config provides configuration management for segsight using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/segsight/segsight/pkg/duration"
)

// Default configuration values.
const (
	defaultServerPort       = 8080
	defaultServerTimeout    = 30 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultMaxOpenConns     = 25
	defaultMaxIdleConns     = 10
	defaultConnMaxIdleTime  = 30 * time.Minute
	defaultPollInterval     = time.Second
	defaultWorkerCount      = 2
	defaultLeaseTTL         = 2 * time.Minute
	defaultLeaseWait        = 5 * time.Second
	defaultMaxRetries       = 3
	defaultBackoffCap       = 60 * time.Second
	defaultRemoteTimeout    = 30 * time.Second
	defaultHealthTimeout    = 5 * time.Second
	defaultThreshold        = 0.5
	defaultQueueRetention   = 7 * 24 * time.Hour
	defaultRegistryCacheTTL = time.Hour
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Events   EventsConfig   `mapstructure:"events"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	FFmpeg   FFmpegConfig   `mapstructure:"ffmpeg"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	BaseDir  string `mapstructure:"base_dir"`
	MediaDir string `mapstructure:"media_dir"` // where the segmenter writes .ts segments
	CacheDir string `mapstructure:"cache_dir"` // registry mirror and other disk caches
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// EventsConfig holds segment event source configuration.
type EventsConfig struct {
	// Source selects the active event source: filewatcher, cloud, webhook.
	Source string `mapstructure:"source"`
	// PollInterval is the directory watcher poll interval.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// SegmentExt is the segment file extension the watcher matches.
	SegmentExt string `mapstructure:"segment_ext"`
	// WebhookSecret is the HMAC secret for signed segment callbacks.
	WebhookSecret string `mapstructure:"webhook_secret"`
	// Bucket is the object-store bucket name for the cloud source.
	Bucket string `mapstructure:"bucket"`
	// Endpoint is the object-store notification endpoint for the cloud
	// source.
	Endpoint string `mapstructure:"endpoint"`
}

// AnalysisConfig holds the analysis pipeline configuration.
type AnalysisConfig struct {
	// Mode selects the execution strategy: local, remote_lan, cloud.
	Mode string `mapstructure:"mode"`
	// WorkerHost is the remote LAN worker address (host[:port]).
	WorkerHost string `mapstructure:"worker_host"`
	// WorkerTimeout bounds a single remote analysis call.
	WorkerTimeout time.Duration `mapstructure:"worker_timeout"`
	// HealthTimeout bounds the remote worker health probe.
	HealthTimeout time.Duration `mapstructure:"health_timeout"`
	// CredentialsFile is the cloud backend credential reference.
	CredentialsFile string `mapstructure:"credentials_file"`
	// ConfidenceThreshold is the default detection cut-off.
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	// WorkerCount is the inference worker pool size.
	WorkerCount int `mapstructure:"worker_count"`
	// LeaseTTL is how long a leased queue item stays claimed before it
	// becomes re-deliverable.
	LeaseTTL time.Duration `mapstructure:"lease_ttl"`
	// LeaseWait is how long a Lease call blocks waiting for work.
	LeaseWait time.Duration `mapstructure:"lease_wait"`
	// MaxRetries is the retry budget for transient failures.
	MaxRetries int `mapstructure:"max_retries"`
	// QueueRetention is how long done/failed queue items are kept.
	QueueRetention time.Duration `mapstructure:"queue_retention"`
	// RegistryCacheTTL is the shared provider-snapshot mirror TTL.
	RegistryCacheTTL time.Duration `mapstructure:"registry_cache_ttl"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // Path to ffmpeg binary (empty = auto-detect)
	ProbePath  string `mapstructure:"probe_path"`  // Path to ffprobe binary (empty = auto-detect)
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with SEGSIGHT_ and use underscores for
// nesting, e.g. SEGSIGHT_SERVER_PORT=8080. A handful of unprefixed legacy
// names are also honored (AI_PROCESSING_MODE and friends).
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
		v.AddConfigPath("/etc/segsight")
		v.AddConfigPath("$HOME/.segsight")
	}

	v.SetEnvPrefix("SEGSIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	BindLegacyEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, DecodeOption()); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// BindLegacyEnv maps the historical unprefixed environment variables onto
// their config keys. These predate the SEGSIGHT_ prefix and are still what
// deployments set.
func BindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("analysis.mode", "SEGSIGHT_ANALYSIS_MODE", "AI_PROCESSING_MODE")
	_ = v.BindEnv("analysis.worker_host", "SEGSIGHT_ANALYSIS_WORKER_HOST", "AI_WORKER_HOST")
	_ = v.BindEnv("analysis.worker_timeout", "SEGSIGHT_ANALYSIS_WORKER_TIMEOUT", "AI_WORKER_TIMEOUT")
	_ = v.BindEnv("analysis.credentials_file", "SEGSIGHT_ANALYSIS_CREDENTIALS_FILE", "GOOGLE_APPLICATION_CREDENTIALS")
	_ = v.BindEnv("events.source", "SEGSIGHT_EVENTS_SOURCE", "SEGMENT_EVENT_SOURCE")
	_ = v.BindEnv("events.poll_interval", "SEGSIGHT_EVENTS_POLL_INTERVAL", "FILE_WATCHER_POLL_INTERVAL")
}

// DecodeOption returns the viper unmarshal option used for config decoding.
// Every caller that unmarshals into Config must pass it so duration fields
// decode consistently.
func DecodeOption() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		stringToDurationHook,
		mapstructure.StringToSliceHookFunc(","),
	))
}

// stringToDurationHook decodes duration fields from Go duration strings,
// extended forms like "7d", and bare numbers. The legacy env vars carry
// unitless seconds (AI_WORKER_TIMEOUT=30, FILE_WATCHER_POLL_INTERVAL=1.0),
// so a bare number is read as seconds.
func stringToDurationHook(f reflect.Type, t reflect.Type, data any) (any, error) {
	if t != reflect.TypeOf(time.Duration(0)) || f.Kind() != reflect.String {
		return data, nil
	}
	s := strings.TrimSpace(data.(string))
	if s == "" {
		return time.Duration(0), nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return duration.Parse(s)
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "segsight.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.media_dir", "./data/media")
	v.SetDefault("storage.cache_dir", "./data/cache")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Event source defaults
	v.SetDefault("events.source", "filewatcher")
	v.SetDefault("events.poll_interval", defaultPollInterval)
	v.SetDefault("events.segment_ext", "ts")
	v.SetDefault("events.webhook_secret", "")
	v.SetDefault("events.bucket", "media-segments")
	v.SetDefault("events.endpoint", "")

	// Analysis defaults
	v.SetDefault("analysis.mode", "local")
	v.SetDefault("analysis.worker_host", "")
	v.SetDefault("analysis.worker_timeout", defaultRemoteTimeout)
	v.SetDefault("analysis.health_timeout", defaultHealthTimeout)
	v.SetDefault("analysis.credentials_file", "")
	v.SetDefault("analysis.confidence_threshold", defaultThreshold)
	v.SetDefault("analysis.worker_count", defaultWorkerCount)
	v.SetDefault("analysis.lease_ttl", defaultLeaseTTL)
	v.SetDefault("analysis.lease_wait", defaultLeaseWait)
	v.SetDefault("analysis.max_retries", defaultMaxRetries)
	v.SetDefault("analysis.queue_retention", defaultQueueRetention)
	v.SetDefault("analysis.registry_cache_ttl", defaultRegistryCacheTTL)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	validSources := map[string]bool{"filewatcher": true, "cloud": true, "webhook": true}
	if !validSources[c.Events.Source] {
		return fmt.Errorf("events.source must be one of: filewatcher, cloud, webhook")
	}
	if c.Events.PollInterval <= 0 {
		return fmt.Errorf("events.poll_interval must be positive")
	}

	validModes := map[string]bool{"local": true, "remote_lan": true, "cloud": true}
	if !validModes[c.Analysis.Mode] {
		return fmt.Errorf("analysis.mode must be one of: local, remote_lan, cloud")
	}
	if c.Analysis.ConfidenceThreshold < 0 || c.Analysis.ConfidenceThreshold > 1 {
		return fmt.Errorf("analysis.confidence_threshold must be in [0,1]")
	}
	if c.Analysis.WorkerCount < 1 {
		return fmt.Errorf("analysis.worker_count must be at least 1")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RegistryCachePath returns the path of the provider snapshot mirror.
func (c *StorageConfig) RegistryCachePath() string {
	return fmt.Sprintf("%s/providers.json", c.CacheDir)
}
