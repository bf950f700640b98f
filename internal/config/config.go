// Package config provides configuration management for reelcut using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxIdleTime = 30 * time.Minute

	defaultMaxUploadSize = 4 * 1024 * 1024 * 1024 // 4GB
	defaultGrantTTL      = 15 * time.Minute

	defaultModelTimeout      = 5 * time.Minute
	defaultModelRetries      = 3
	defaultModelRetryBackoff = 2 * time.Second

	defaultSilenceThresholdDB = -40.0
	defaultMinSilenceMs       = 500
	defaultSegmentMinSeconds  = 30.0
	defaultSegmentMaxSeconds  = 300.0
	defaultMinImportance      = 0.3
	defaultClipMinSeconds     = 105.0
	defaultClipMaxSeconds     = 330.0
	defaultMaxClips           = 5
	defaultCompileWorkers     = 2
	defaultChunkSeconds       = 300.0
	defaultChunkParallelism   = 3
	defaultChunkTriggerBytes  = 10 * 1024 * 1024

	defaultStageTimeout        = 30 * time.Minute
	defaultCompileStageTimeout = 60 * time.Minute
	defaultStageRetries        = 2
	defaultStageRetryBackoff   = 60 * time.Second
	defaultCancelGrace         = 10 * time.Second

	defaultConcurrentJobs = 3
	defaultRunnerWorkers  = 2
	defaultPollInterval   = 5 * time.Second
	defaultJobTimeout     = 3 * time.Hour
	defaultLockTimeout    = 30 * time.Minute
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Media     MediaConfig     `mapstructure:"media"`
	Models    ModelsConfig    `mapstructure:"models"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Runner    RunnerConfig    `mapstructure:"runner"`
	Retention RetentionConfig `mapstructure:"retention"`
	Auth      AuthConfig      `mapstructure:"auth"`
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

// StorageConfig holds blob storage and scratch-space configuration.
type StorageConfig struct {
	// BaseDir is the root of the local blob store.
	BaseDir string `mapstructure:"base_dir"`
	// TempDir holds per-job scratch directories.
	TempDir string `mapstructure:"temp_dir"`
	// GrantTTL is how long an issued upload grant stays valid.
	GrantTTL time.Duration `mapstructure:"grant_ttl"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// MediaConfig holds external media tool configuration.
type MediaConfig struct {
	FFmpegPath  string `mapstructure:"ffmpeg_path"`  // empty = look up in PATH
	FFprobePath string `mapstructure:"ffprobe_path"` // empty = look up in PATH
}

// ModelsConfig holds external model endpoint configuration.
type ModelsConfig struct {
	SpeechURL   string `mapstructure:"speech_url"`
	VisionURL   string `mapstructure:"vision_url"`
	LanguageURL string `mapstructure:"language_url"`

	Timeout      time.Duration `mapstructure:"timeout"`
	RetryCount   int           `mapstructure:"retry_count"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// PipelineConfig holds stage algorithm parameters and executor policy.
type PipelineConfig struct {
	SilenceThresholdDB float64 `mapstructure:"silence_threshold_dbfs"`
	MinSilenceMs       int     `mapstructure:"min_silence_ms"`

	SegmentMinSeconds float64 `mapstructure:"segment_min_seconds"`
	SegmentMaxSeconds float64 `mapstructure:"segment_max_seconds"`
	MinImportance     float64 `mapstructure:"min_importance_score"`

	ClipMinSeconds float64 `mapstructure:"clip_min_duration_seconds"`
	ClipMaxSeconds float64 `mapstructure:"clip_max_duration_seconds"`
	MaxClips       int     `mapstructure:"max_clips_per_job"`

	CompileMaxWorkers int `mapstructure:"compile_max_workers"` // 1-4

	// Chunked transcription: the compressed stream is split when it exceeds
	// either ChunkTriggerBytes or ChunkSeconds.
	ChunkSeconds      float64  `mapstructure:"chunk_seconds"`
	ChunkParallelism  int      `mapstructure:"chunk_parallelism"`
	ChunkTriggerBytes ByteSize `mapstructure:"chunk_trigger_bytes"`

	StageTimeout        time.Duration `mapstructure:"stage_timeout"`
	CompileStageTimeout time.Duration `mapstructure:"compile_stage_timeout"`
	StageMaxRetries     int           `mapstructure:"stage_max_retries"`
	StageRetryBackoff   time.Duration `mapstructure:"stage_retry_backoff"`
	CancelGrace         time.Duration `mapstructure:"cancel_grace"`
}

// RateLimit is one token-bucket definition: sustained requests per second
// plus burst capacity.
type RateLimit struct {
	PerSecond float64 `mapstructure:"per_second"`
	Burst     int     `mapstructure:"burst"`
}

// LimitsConfig holds admission control configuration.
type LimitsConfig struct {
	MaxUploadSize       ByteSize `mapstructure:"max_upload_size"`
	AllowedContentTypes []string `mapstructure:"allowed_content_types"`
	AllowedExtensions   []string `mapstructure:"allowed_extensions"`

	ConcurrentJobsPerPrincipal int `mapstructure:"concurrent_jobs_per_principal"`

	// RateLimits is keyed by endpoint class: submit, progress, status,
	// results, admin.
	RateLimits map[string]RateLimit `mapstructure:"rate_limits"`
}

// RunnerConfig holds the job runner configuration.
type RunnerConfig struct {
	Workers      int           `mapstructure:"workers"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	JobTimeout   time.Duration `mapstructure:"job_timeout"`
	LockTimeout  time.Duration `mapstructure:"lock_timeout"`
}

// RetentionConfig holds the terminal-job retention sweeper configuration.
type RetentionConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Cron    string        `mapstructure:"cron"` // 6-field cron expression
	MaxAge  time.Duration `mapstructure:"max_age"`
}

// AuthConfig holds the service key material. Both keys are hex-encoded.
type AuthConfig struct {
	// TokenSigningKey signs bearer tokens and upload grants.
	TokenSigningKey string `mapstructure:"token_signing_key"`
	// CredentialMasterKey encrypts stored model API keys (AES-256-GCM,
	// 32 bytes).
	CredentialMasterKey string `mapstructure:"credential_master_key"`

	// AdminPrincipals may use the admin read surface.
	AdminPrincipals []string `mapstructure:"admin_principals"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with REELCUT_ and use underscores for
// nesting. Example: REELCUT_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/reelcut")
		v.AddConfigPath("$HOME/.reelcut")
	}

	// Environment variable settings
	v.SetEnvPrefix("REELCUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file.
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
	v.SetDefault("database.dsn", "reelcut.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.base_dir", "./data/blobs")
	v.SetDefault("storage.temp_dir", "./data/temp")
	v.SetDefault("storage.grant_ttl", defaultGrantTTL)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Media tool defaults
	v.SetDefault("media.ffmpeg_path", "")
	v.SetDefault("media.ffprobe_path", "")

	// Model gateway defaults
	v.SetDefault("models.speech_url", "")
	v.SetDefault("models.vision_url", "")
	v.SetDefault("models.language_url", "")
	v.SetDefault("models.timeout", defaultModelTimeout)
	v.SetDefault("models.retry_count", defaultModelRetries)
	v.SetDefault("models.retry_backoff", defaultModelRetryBackoff)

	// Pipeline defaults
	v.SetDefault("pipeline.silence_threshold_dbfs", defaultSilenceThresholdDB)
	v.SetDefault("pipeline.min_silence_ms", defaultMinSilenceMs)
	v.SetDefault("pipeline.segment_min_seconds", defaultSegmentMinSeconds)
	v.SetDefault("pipeline.segment_max_seconds", defaultSegmentMaxSeconds)
	v.SetDefault("pipeline.min_importance_score", defaultMinImportance)
	v.SetDefault("pipeline.clip_min_duration_seconds", defaultClipMinSeconds)
	v.SetDefault("pipeline.clip_max_duration_seconds", defaultClipMaxSeconds)
	v.SetDefault("pipeline.max_clips_per_job", defaultMaxClips)
	v.SetDefault("pipeline.compile_max_workers", defaultCompileWorkers)
	v.SetDefault("pipeline.chunk_seconds", defaultChunkSeconds)
	v.SetDefault("pipeline.chunk_parallelism", defaultChunkParallelism)
	v.SetDefault("pipeline.chunk_trigger_bytes", defaultChunkTriggerBytes)
	v.SetDefault("pipeline.stage_timeout", defaultStageTimeout)
	v.SetDefault("pipeline.compile_stage_timeout", defaultCompileStageTimeout)
	v.SetDefault("pipeline.stage_max_retries", defaultStageRetries)
	v.SetDefault("pipeline.stage_retry_backoff", defaultStageRetryBackoff)
	v.SetDefault("pipeline.cancel_grace", defaultCancelGrace)

	// Admission defaults
	v.SetDefault("limits.max_upload_size", defaultMaxUploadSize)
	v.SetDefault("limits.allowed_content_types", []string{
		"video/mp4", "video/quicktime", "video/x-matroska", "video/webm",
	})
	v.SetDefault("limits.allowed_extensions", []string{
		".mp4", ".mov", ".mkv", ".webm",
	})
	v.SetDefault("limits.concurrent_jobs_per_principal", defaultConcurrentJobs)
	v.SetDefault("limits.rate_limits.submit.per_second", 0.5)
	v.SetDefault("limits.rate_limits.submit.burst", 3)
	v.SetDefault("limits.rate_limits.progress.per_second", 2.0)
	v.SetDefault("limits.rate_limits.progress.burst", 10)
	v.SetDefault("limits.rate_limits.status.per_second", 5.0)
	v.SetDefault("limits.rate_limits.status.burst", 20)
	v.SetDefault("limits.rate_limits.results.per_second", 2.0)
	v.SetDefault("limits.rate_limits.results.burst", 10)
	v.SetDefault("limits.rate_limits.admin.per_second", 1.0)
	v.SetDefault("limits.rate_limits.admin.burst", 5)

	// Runner defaults
	v.SetDefault("runner.workers", defaultRunnerWorkers)
	v.SetDefault("runner.poll_interval", defaultPollInterval)
	v.SetDefault("runner.job_timeout", defaultJobTimeout)
	v.SetDefault("runner.lock_timeout", defaultLockTimeout)

	// Retention defaults
	v.SetDefault("retention.enabled", true)
	v.SetDefault("retention.cron", "0 0 3 * * *") // Daily at 3 AM (6-field cron)
	v.SetDefault("retention.max_age", 30*24*time.Hour)

	// Auth defaults (keys must be provided by the operator)
	v.SetDefault("auth.token_signing_key", "")
	v.SetDefault("auth.credential_master_key", "")
	v.SetDefault("auth.admin_principals", []string{})
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

	if c.Pipeline.CompileMaxWorkers < 1 || c.Pipeline.CompileMaxWorkers > 4 {
		return fmt.Errorf("pipeline.compile_max_workers must be between 1 and 4")
	}
	if c.Pipeline.ClipMinSeconds >= c.Pipeline.ClipMaxSeconds {
		return fmt.Errorf("pipeline.clip_min_duration_seconds must be below clip_max_duration_seconds")
	}
	if c.Pipeline.SegmentMinSeconds >= c.Pipeline.SegmentMaxSeconds {
		return fmt.Errorf("pipeline.segment_min_seconds must be below segment_max_seconds")
	}
	if c.Pipeline.MaxClips < 1 {
		return fmt.Errorf("pipeline.max_clips_per_job must be at least 1")
	}
	if c.Pipeline.ChunkParallelism < 1 || c.Pipeline.ChunkParallelism > 3 {
		return fmt.Errorf("pipeline.chunk_parallelism must be between 1 and 3")
	}

	if c.Limits.ConcurrentJobsPerPrincipal < 1 {
		return fmt.Errorf("limits.concurrent_jobs_per_principal must be at least 1")
	}

	if c.Auth.CredentialMasterKey != "" {
		key, err := hex.DecodeString(c.Auth.CredentialMasterKey)
		if err != nil {
			return fmt.Errorf("auth.credential_master_key must be hex-encoded: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("auth.credential_master_key must decode to 32 bytes, got %d", len(key))
		}
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SigningKey returns the decoded token signing key.
func (c *AuthConfig) SigningKey() ([]byte, error) {
	if c.TokenSigningKey == "" {
		return nil, fmt.Errorf("auth.token_signing_key is not configured")
	}
	key, err := hex.DecodeString(c.TokenSigningKey)
	if err != nil {
		return nil, fmt.Errorf("decoding auth.token_signing_key: %w", err)
	}
	return key, nil
}

// MasterKey returns the decoded credential master key.
func (c *AuthConfig) MasterKey() ([]byte, error) {
	if c.CredentialMasterKey == "" {
		return nil, fmt.Errorf("auth.credential_master_key is not configured")
	}
	key, err := hex.DecodeString(c.CredentialMasterKey)
	if err != nil {
		return nil, fmt.Errorf("decoding auth.credential_master_key: %w", err)
	}
	return key, nil
}

// IsAdmin reports whether the principal may use the admin read surface.
func (c *AuthConfig) IsAdmin(principal string) bool {
	for _, p := range c.AdminPrincipals {
		if p == principal {
			return true
		}
	}
	return false
}

// StageTimeoutFor returns the timeout for the named stage.
func (c *PipelineConfig) StageTimeoutFor(stageID string) time.Duration {
	if stageID == "compile_clips" {
		return c.CompileStageTimeout
	}
	return c.StageTimeout
}
