package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// File mirrors the YAML config file. Zero values leave the default in place.
type File struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	DataDir  string `yaml:"data_dir"`

	Store struct {
		Driver      string `yaml:"driver"`
		PostgresDSN string `yaml:"postgres_dsn"`
	} `yaml:"store"`

	Queue struct {
		Driver      string `yaml:"driver"`
		AMQPURL     string `yaml:"amqp_url"`
		QueuePrefix string `yaml:"queue_prefix"`
		Workers     int    `yaml:"workers"`
	} `yaml:"queue"`

	Media struct {
		FFmpeg         string        `yaml:"ffmpeg"`
		FFprobe        string        `yaml:"ffprobe"`
		YtDlp          string        `yaml:"yt_dlp"`
		AcquireTimeout time.Duration `yaml:"acquire_timeout"`
		CutTimeout     time.Duration `yaml:"cut_timeout"`
		ProbeTimeout   time.Duration `yaml:"probe_timeout"`
		MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	} `yaml:"media"`

	Cleanup struct {
		Interval time.Duration `yaml:"interval"`
		MaxAge   time.Duration `yaml:"max_age"`
	} `yaml:"cleanup"`

	S3 struct {
		Bucket string `yaml:"bucket"`
		Prefix string `yaml:"prefix"`
		Region string `yaml:"region"`
	} `yaml:"s3"`

	PublicBaseURL string `yaml:"public_base_url"`
}

// LoadFile loads configuration from a YAML file
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc File
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return &fc, nil
}

// FindConfigFile searches for a config file in standard locations.
// Returns empty string if not found (non-fatal).
func FindConfigFile() string {
	locations := []string{
		"./ezclips.yaml",
		"./ezclips.yml",
		"/etc/ezclips/config.yaml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		locations = append(locations, filepath.Join(home, DefaultDataDir, "config.yaml"))
	}

	for _, path := range locations {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

func (f *File) apply(c *EnvConfig) {
	if f.Port != 0 {
		c.port = f.Port
	}
	overlay(&c.logLevel, f.LogLevel)
	overlay(&c.dataDir, f.DataDir)
	overlay(&c.storeDriver, f.Store.Driver)
	overlay(&c.postgresDSN, f.Store.PostgresDSN)
	overlay(&c.queueDriver, f.Queue.Driver)
	overlay(&c.amqpURL, f.Queue.AMQPURL)
	overlay(&c.amqpQueuePrefix, f.Queue.QueuePrefix)
	if f.Queue.Workers != 0 {
		c.workers = f.Queue.Workers
	}
	overlay(&c.ffmpegPath, f.Media.FFmpeg)
	overlay(&c.ffprobePath, f.Media.FFprobe)
	overlay(&c.ytDlpPath, f.Media.YtDlp)
	if f.Media.AcquireTimeout > 0 {
		c.acquireTimeout = f.Media.AcquireTimeout
	}
	if f.Media.CutTimeout > 0 {
		c.cutTimeout = f.Media.CutTimeout
	}
	if f.Media.ProbeTimeout > 0 {
		c.probeTimeout = f.Media.ProbeTimeout
	}
	if f.Media.MaxUploadBytes > 0 {
		c.maxUploadBytes = f.Media.MaxUploadBytes
	}
	if f.Cleanup.Interval > 0 {
		c.cleanupInterval = f.Cleanup.Interval
	}
	if f.Cleanup.MaxAge > 0 {
		c.cleanupMaxAge = f.Cleanup.MaxAge
	}
	overlay(&c.s3Bucket, f.S3.Bucket)
	overlay(&c.s3Prefix, f.S3.Prefix)
	overlay(&c.s3Region, f.S3.Region)
	overlay(&c.publicBaseURL, f.PublicBaseURL)
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
