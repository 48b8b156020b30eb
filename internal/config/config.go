// Package config provides configuration management for the ezclips server.
// Configuration comes from built-in defaults, an optional YAML file and
// environment variables, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// Default values
	DefaultPort     = 8080
	DefaultLogLevel = "info"
	DefaultDataDir  = ".ezclips"

	DefaultStoreDriver     = "sqlite"
	DefaultQueueDriver     = "local"
	DefaultWorkers         = 2
	DefaultAMQPQueuePrefix = "ezclips"

	DefaultAcquireTimeout  = 30 * time.Minute
	DefaultCutTimeout      = 10 * time.Minute
	DefaultProbeTimeout    = 60 * time.Second
	DefaultMaxUploadBytes  = 2 << 30 // 2GiB
	DefaultCleanupInterval = time.Hour
	DefaultCleanupMaxAge   = 24 * time.Hour

	// Environment variable names
	EnvConfigFile      = "EZCLIPS_CONFIG_FILE"
	EnvPort            = "EZCLIPS_PORT"
	EnvLogLevel        = "EZCLIPS_LOG_LEVEL"
	EnvDataDir         = "EZCLIPS_DATA_DIR"
	EnvStoreDriver     = "EZCLIPS_STORE_DRIVER"
	EnvPostgresDSN     = "EZCLIPS_POSTGRES_DSN"
	EnvQueueDriver     = "EZCLIPS_QUEUE_DRIVER"
	EnvAMQPURL         = "EZCLIPS_AMQP_URL"
	EnvAMQPQueuePrefix = "EZCLIPS_AMQP_QUEUE_PREFIX"
	EnvWorkers         = "EZCLIPS_WORKERS"
	EnvAcquireTimeout  = "EZCLIPS_ACQUIRE_TIMEOUT"
	EnvCutTimeout      = "EZCLIPS_CUT_TIMEOUT"
	EnvProbeTimeout    = "EZCLIPS_PROBE_TIMEOUT"
	EnvFFmpegPath      = "EZCLIPS_FFMPEG_PATH"
	EnvFFprobePath     = "EZCLIPS_FFPROBE_PATH"
	EnvYtDlpPath       = "EZCLIPS_YTDLP_PATH"
	EnvMaxUploadBytes  = "EZCLIPS_MAX_UPLOAD_BYTES"
	EnvCleanupInterval = "EZCLIPS_CLEANUP_INTERVAL"
	EnvCleanupMaxAge   = "EZCLIPS_CLEANUP_MAX_AGE"
	EnvS3Bucket        = "EZCLIPS_S3_BUCKET"
	EnvS3Prefix        = "EZCLIPS_S3_PREFIX"
	EnvS3Region        = "EZCLIPS_S3_REGION"
	EnvPublicBaseURL   = "EZCLIPS_PUBLIC_BASE_URL"

	// Database filename
	DBFilename = "ezclips.db"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	UploadsDir() string
	DownloadsDir() string
	SeriesDir() string

	StoreDriver() string
	PostgresDSN() string
	QueueDriver() string
	AMQPURL() string
	AMQPQueuePrefix() string
	Workers() int

	AcquireTimeout() time.Duration
	CutTimeout() time.Duration
	ProbeTimeout() time.Duration
	FFmpegPath() string
	FFprobePath() string
	YtDlpPath() string

	MaxUploadBytes() int64
	CleanupInterval() time.Duration
	CleanupMaxAge() time.Duration

	S3Bucket() string
	S3Prefix() string
	S3Region() string
	PublicBaseURL() string
}

// EnvConfig holds the resolved configuration.
type EnvConfig struct {
	port     int
	logLevel string
	dataDir  string

	storeDriver     string
	postgresDSN     string
	queueDriver     string
	amqpURL         string
	amqpQueuePrefix string
	workers         int

	acquireTimeout time.Duration
	cutTimeout     time.Duration
	probeTimeout   time.Duration
	ffmpegPath     string
	ffprobePath    string
	ytDlpPath      string

	maxUploadBytes  int64
	cleanupInterval time.Duration
	cleanupMaxAge   time.Duration

	s3Bucket      string
	s3Prefix      string
	s3Region      string
	publicBaseURL string
}

// New creates a new EnvConfig with defaults, the optional YAML file named by
// EZCLIPS_CONFIG_FILE (or found in a standard location) and environment
// variable overrides.
func New() (*EnvConfig, error) {
	cfg := defaults()

	path := os.Getenv(EnvConfigFile)
	if path == "" {
		path = FindConfigFile()
	}
	if path != "" {
		fc, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		fc.apply(cfg)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *EnvConfig {
	return &EnvConfig{
		port:            DefaultPort,
		logLevel:        DefaultLogLevel,
		dataDir:         defaultDataDir(),
		storeDriver:     DefaultStoreDriver,
		queueDriver:     DefaultQueueDriver,
		amqpQueuePrefix: DefaultAMQPQueuePrefix,
		workers:         DefaultWorkers,
		acquireTimeout:  DefaultAcquireTimeout,
		cutTimeout:      DefaultCutTimeout,
		probeTimeout:    DefaultProbeTimeout,
		ffmpegPath:      "ffmpeg",
		ffprobePath:     "ffprobe",
		maxUploadBytes:  DefaultMaxUploadBytes,
		cleanupInterval: DefaultCleanupInterval,
		cleanupMaxAge:   DefaultCleanupMaxAge,
	}
}

func (c *EnvConfig) applyEnv() error {
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	setString(&c.logLevel, EnvLogLevel)
	setString(&c.dataDir, EnvDataDir)
	setString(&c.storeDriver, EnvStoreDriver)
	setString(&c.postgresDSN, EnvPostgresDSN)
	setString(&c.queueDriver, EnvQueueDriver)
	setString(&c.amqpURL, EnvAMQPURL)
	setString(&c.amqpQueuePrefix, EnvAMQPQueuePrefix)
	setString(&c.ffmpegPath, EnvFFmpegPath)
	setString(&c.ffprobePath, EnvFFprobePath)
	setString(&c.ytDlpPath, EnvYtDlpPath)
	setString(&c.s3Bucket, EnvS3Bucket)
	setString(&c.s3Prefix, EnvS3Prefix)
	setString(&c.s3Region, EnvS3Region)
	setString(&c.publicBaseURL, EnvPublicBaseURL)

	if w := os.Getenv(EnvWorkers); w != "" {
		n, err := strconv.Atoi(w)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvWorkers, err)
		}
		c.workers = n
	}

	if v := os.Getenv(EnvMaxUploadBytes); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvMaxUploadBytes, err)
		}
		c.maxUploadBytes = n
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{EnvAcquireTimeout, &c.acquireTimeout},
		{EnvCutTimeout, &c.cutTimeout},
		{EnvProbeTimeout, &c.probeTimeout},
		{EnvCleanupInterval, &c.cleanupInterval},
		{EnvCleanupMaxAge, &c.cleanupMaxAge},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.env, err)
		}
		*d.dst = parsed
	}

	return nil
}

func (c *EnvConfig) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port %d: port must be between 1 and 65535", c.port)
	}
	switch c.storeDriver {
	case "sqlite":
	case "postgres":
		if c.postgresDSN == "" {
			return fmt.Errorf("%s is required when store driver is postgres", EnvPostgresDSN)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.storeDriver)
	}
	switch c.queueDriver {
	case "local":
	case "amqp":
		if c.amqpURL == "" {
			return fmt.Errorf("%s is required when queue driver is amqp", EnvAMQPURL)
		}
		if c.storeDriver != "postgres" {
			return fmt.Errorf("queue driver amqp needs a shared store: set %s=postgres", EnvStoreDriver)
		}
	default:
		return fmt.Errorf("unknown queue driver %q", c.queueDriver)
	}
	if c.workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.workers)
	}
	if c.maxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive")
	}
	return nil
}

func setString(dst *string, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		*dst = v
	}
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// UploadsDir holds directly uploaded source videos.
func (c *EnvConfig) UploadsDir() string {
	return filepath.Join(c.dataDir, "uploads")
}

// DownloadsDir holds videos fetched by reference.
func (c *EnvConfig) DownloadsDir() string {
	return filepath.Join(c.dataDir, "downloads")
}

// SeriesDir holds one directory of clips per generated series.
func (c *EnvConfig) SeriesDir() string {
	return filepath.Join(c.dataDir, "series")
}

func (c *EnvConfig) StoreDriver() string { return c.storeDriver }

func (c *EnvConfig) PostgresDSN() string { return c.postgresDSN }

func (c *EnvConfig) QueueDriver() string { return c.queueDriver }

func (c *EnvConfig) AMQPURL() string { return c.amqpURL }

func (c *EnvConfig) AMQPQueuePrefix() string { return c.amqpQueuePrefix }

func (c *EnvConfig) Workers() int { return c.workers }

func (c *EnvConfig) AcquireTimeout() time.Duration { return c.acquireTimeout }

func (c *EnvConfig) CutTimeout() time.Duration { return c.cutTimeout }

func (c *EnvConfig) ProbeTimeout() time.Duration { return c.probeTimeout }

func (c *EnvConfig) FFmpegPath() string { return c.ffmpegPath }

func (c *EnvConfig) FFprobePath() string { return c.ffprobePath }

// YtDlpPath returns the configured yt-dlp command; empty means auto-detect.
func (c *EnvConfig) YtDlpPath() string { return c.ytDlpPath }

func (c *EnvConfig) MaxUploadBytes() int64 { return c.maxUploadBytes }

func (c *EnvConfig) CleanupInterval() time.Duration { return c.cleanupInterval }

func (c *EnvConfig) CleanupMaxAge() time.Duration { return c.cleanupMaxAge }

func (c *EnvConfig) S3Bucket() string { return c.s3Bucket }

func (c *EnvConfig) S3Prefix() string { return c.s3Prefix }

func (c *EnvConfig) S3Region() string { return c.s3Region }

func (c *EnvConfig) PublicBaseURL() string { return c.publicBaseURL }

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
