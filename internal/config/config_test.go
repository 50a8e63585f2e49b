package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"convertd/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("CONVERTD_API_TOKEN", "")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "convertd")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Paths.BlobDir != filepath.Join(wantData, "blobs") {
		t.Fatalf("unexpected blob dir: %q", cfg.Paths.BlobDir)
	}
	if cfg.DatabasePath() != filepath.Join(wantData, "executions.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if cfg.API.Bind != "127.0.0.1:7600" {
		t.Fatalf("unexpected api bind: %q", cfg.API.Bind)
	}
	if cfg.Worker.Mode != config.WorkerLocal {
		t.Fatalf("expected local worker mode by default, got %q", cfg.Worker.Mode)
	}
	if cfg.Storage.Backend != config.StorageFS {
		t.Fatalf("expected fs storage by default, got %q", cfg.Storage.Backend)
	}
	if cfg.Execution.MaxAttempts != 3 {
		t.Fatalf("expected default max attempts 3, got %d", cfg.Execution.MaxAttempts)
	}
	if cfg.Lease() != 10*time.Minute {
		t.Fatalf("expected default lease 10m, got %s", cfg.Lease())
	}
	if cfg.Tracing.Enabled {
		t.Fatal("expected tracing disabled by default")
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "convertd.toml")

	type payload struct {
		Paths struct {
			DataDir string `toml:"data_dir"`
		} `toml:"paths"`
		Worker struct {
			Mode     string `toml:"mode"`
			Endpoint string `toml:"endpoint"`
		} `toml:"worker"`
		Execution struct {
			MaxAttempts  int `toml:"max_attempts"`
			LeaseSeconds int `toml:"lease_seconds"`
		} `toml:"execution"`
	}
	custom := payload{}
	custom.Paths.DataDir = filepath.Join(tempDir, "data")
	custom.Worker.Mode = "Remote"
	custom.Worker.Endpoint = "http://worker.internal:7601/"
	custom.Execution.MaxAttempts = 5
	custom.Execution.LeaseSeconds = 120
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Paths.DataDir != filepath.Join(tempDir, "data") {
		t.Fatalf("unexpected data dir: %q", cfg.Paths.DataDir)
	}
	if cfg.Worker.Mode != config.WorkerRemote {
		t.Fatalf("expected normalized remote mode, got %q", cfg.Worker.Mode)
	}
	if cfg.Worker.Endpoint != "http://worker.internal:7601" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Worker.Endpoint)
	}
	if cfg.Execution.MaxAttempts != 5 {
		t.Fatalf("expected max attempts 5, got %d", cfg.Execution.MaxAttempts)
	}
	if cfg.Lease() != 2*time.Minute {
		t.Fatalf("expected lease 2m, got %s", cfg.Lease())
	}
	if cfg.MaxRuntime() != 30*time.Minute {
		t.Fatalf("expected default max runtime 30m, got %s", cfg.MaxRuntime())
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "convertd.toml")
	if err := os.WriteFile(configPath, []byte("[api]\nbnid = \"x\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(configPath); err == nil {
		t.Fatal("expected error for misspelled key")
	}
}

func TestEnvVarFallbackForSecrets(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CONVERTD_API_TOKEN", "env-api")
	t.Setenv("CONVERTD_WORKER_TOKEN", "env-worker")
	t.Setenv("MINIO_ACCESS_KEY", "env-access")
	t.Setenv("MINIO_SECRET_KEY", "env-secret")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.API.Token != "env-api" {
		t.Errorf("expected api token from env, got %q", cfg.API.Token)
	}
	if cfg.Worker.Token != "env-worker" {
		t.Errorf("expected worker token from env, got %q", cfg.Worker.Token)
	}
	if cfg.Storage.MinIO.AccessKey != "env-access" || cfg.Storage.MinIO.SecretKey != "env-secret" {
		t.Errorf("expected minio credentials from env, got %q/%q", cfg.Storage.MinIO.AccessKey, cfg.Storage.MinIO.SecretKey)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "[storage.minio]") {
		t.Fatalf("sample config missing minio section: %s", contents)
	}

	t.Setenv("HOME", t.TempDir())
	if _, _, exists, err := config.Load(path); err != nil || !exists {
		t.Fatalf("sample config should load cleanly: exists=%v err=%v", exists, err)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"remote without endpoint", func(c *config.Config) { c.Worker.Mode = config.WorkerRemote }},
		{"relative endpoint", func(c *config.Config) {
			c.Worker.Mode = config.WorkerRemote
			c.Worker.Endpoint = "worker:7601"
		}},
		{"unknown worker mode", func(c *config.Config) { c.Worker.Mode = "cluster" }},
		{"zero trigger attempts", func(c *config.Config) { c.Dispatch.TriggerAttempts = 0 }},
		{"inverted backoff", func(c *config.Config) { c.Dispatch.TriggerMaxBackoffMS = 10 }},
		{"heartbeat not below lease", func(c *config.Config) { c.Execution.HeartbeatIntervalSeconds = c.Execution.LeaseSeconds }},
		{"negative runtime budget", func(c *config.Config) { c.Execution.MaxRuntimeSeconds = -1 }},
		{"zero retention", func(c *config.Config) { c.Retention.WindowHours = 0 }},
		{"minio without endpoint", func(c *config.Config) { c.Storage.Backend = config.StorageMinIO }},
		{"unknown backend", func(c *config.Config) { c.Storage.Backend = "ceph" }},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }},
		{"negative upload cap", func(c *config.Config) { c.API.MaxUploadBytes = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
