package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	t.Setenv(EnvDataDir, t.TempDir())

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != DefaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port(), DefaultPort)
	}
	if cfg.StoreDriver() != "sqlite" || cfg.QueueDriver() != "local" {
		t.Errorf("drivers = %s/%s, want sqlite/local", cfg.StoreDriver(), cfg.QueueDriver())
	}
	if cfg.Workers() != DefaultWorkers {
		t.Errorf("Workers = %d, want %d", cfg.Workers(), DefaultWorkers)
	}
	if cfg.CutTimeout() != 10*time.Minute {
		t.Errorf("CutTimeout = %v, want 10m", cfg.CutTimeout())
	}
	if filepath.Base(cfg.SeriesDir()) != "series" {
		t.Errorf("SeriesDir = %s", cfg.SeriesDir())
	}
}

func TestNew_EnvOverrides(t *testing.T) {
	t.Setenv(EnvPort, "9000")
	t.Setenv(EnvWorkers, "4")
	t.Setenv(EnvCutTimeout, "90s")
	t.Setenv(EnvS3Bucket, "clips-bucket")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Port())
	}
	if cfg.Workers() != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Workers())
	}
	if cfg.CutTimeout() != 90*time.Second {
		t.Errorf("CutTimeout = %v, want 90s", cfg.CutTimeout())
	}
	if cfg.S3Bucket() != "clips-bucket" {
		t.Errorf("S3Bucket = %q", cfg.S3Bucket())
	}
}

func TestNew_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"port not a number", map[string]string{EnvPort: "abc"}},
		{"port out of range", map[string]string{EnvPort: "70000"}},
		{"bad duration", map[string]string{EnvAcquireTimeout: "soon"}},
		{"postgres without dsn", map[string]string{EnvStoreDriver: "postgres"}},
		{"amqp without url", map[string]string{EnvQueueDriver: "amqp"}},
		{"amqp on sqlite", map[string]string{EnvQueueDriver: "amqp", EnvAMQPURL: "amqp://localhost"}},
		{"zero workers", map[string]string{EnvWorkers: "0"}},
		{"unknown store", map[string]string{EnvStoreDriver: "mysql"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := New(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNew_FileOverlayBelowEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ezclips.yaml")
	content := `
port: 7000
log_level: debug
queue:
  workers: 3
media:
  cut_timeout: 5m
cleanup:
  max_age: 12h
s3:
  bucket: from-file
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfigFile, path)
	t.Setenv(EnvS3Bucket, "from-env")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 7000 || cfg.LogLevel() != "debug" || cfg.Workers() != 3 {
		t.Errorf("file values not applied: port=%d level=%s workers=%d", cfg.Port(), cfg.LogLevel(), cfg.Workers())
	}
	if cfg.CutTimeout() != 5*time.Minute {
		t.Errorf("CutTimeout = %v, want 5m", cfg.CutTimeout())
	}
	if cfg.CleanupMaxAge() != 12*time.Hour {
		t.Errorf("CleanupMaxAge = %v, want 12h", cfg.CleanupMaxAge())
	}
	if cfg.S3Bucket() != "from-env" {
		t.Errorf("S3Bucket = %q, env must win over file", cfg.S3Bucket())
	}
}

func TestLoadFile_Errors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("port: [1, 2"), 0o644)
	if _, err := LoadFile(path); err == nil {
		t.Error("expected error for malformed YAML")
	}
}
