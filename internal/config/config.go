package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	BlobDir string `toml:"blob_dir"`
	WorkDir string `toml:"work_dir"`
	LogDir  string `toml:"log_dir"`
}

// API contains configuration for the public HTTP surface.
type API struct {
	Bind           string `toml:"bind"`
	Token          string `toml:"token"`
	MaxUploadBytes int64  `toml:"max_upload_bytes"`
}

// Worker contains configuration for the execution side of the dispatcher.
type Worker struct {
	// Mode is "local" (in-process pool) or "remote" (HTTP trigger to Endpoint).
	Mode        string `toml:"mode"`
	Bind        string `toml:"bind"`
	Endpoint    string `toml:"endpoint"`
	Token       string `toml:"token"`
	Concurrency int    `toml:"concurrency"`
}

// Dispatch contains trigger-side retry settings.
type Dispatch struct {
	TriggerAttempts         int `toml:"trigger_attempts"`
	TriggerInitialBackoffMS int `toml:"trigger_initial_backoff_ms"`
	TriggerMaxBackoffMS     int `toml:"trigger_max_backoff_ms"`
	TriggerTimeoutSeconds   int `toml:"trigger_timeout_seconds"`
	Senders                 int `toml:"senders"`
	QueueSize               int `toml:"queue_size"`
}

// Execution contains the default attempt budget and lease timing. Tools may
// override MaxAttempts, LeaseSeconds and MaxRuntimeSeconds through the tool
// manifest. Heartbeats stop once an attempt has run for MaxRuntimeSeconds.
type Execution struct {
	MaxAttempts              int `toml:"max_attempts"`
	LeaseSeconds             int `toml:"lease_seconds"`
	HeartbeatIntervalSeconds int `toml:"heartbeat_interval_seconds"`
	MaxRuntimeSeconds        int `toml:"max_runtime_seconds"`
}

// Retention contains reaper scheduling.
type Retention struct {
	WindowHours          int `toml:"window_hours"`
	SweepIntervalSeconds int `toml:"sweep_interval_seconds"`
	WorkspaceMaxAgeHours int `toml:"workspace_max_age_hours"`
}

// MinIO contains connection settings for the object storage backend.
type MinIO struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	UseSSL    bool   `toml:"use_ssl"`
}

// Storage selects the blob staging backend.
type Storage struct {
	Backend string `toml:"backend"`
	MinIO   MinIO  `toml:"minio"`
}

// Tools points at the optional per-tool override manifest.
type Tools struct {
	Manifest string `toml:"manifest"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Tracing contains OpenTelemetry exporter settings.
type Tracing struct {
	Enabled     bool   `toml:"enabled"`
	Exporter    string `toml:"exporter"`
	ServiceName string `toml:"service_name"`
}

// Config encapsulates all configuration values for convertd.
//
// Configuration sections by subsystem:
//   - Paths: record database, blob, workspace, and log directories
//   - API: public HTTP bind, token, upload cap
//   - Worker: execution side mode and endpoint
//   - Dispatch: trigger retry budget and sender pool
//   - Execution: attempt ceiling and lease timing
//   - Retention: reaper window and cadence
//   - Storage: blob backend selection (fs or minio)
//   - Tools: per-tool override manifest
//   - Logging: log format, level, and retention
//   - Tracing: span export
type Config struct {
	Paths     Paths     `toml:"paths"`
	API       API       `toml:"api"`
	Worker    Worker    `toml:"worker"`
	Dispatch  Dispatch  `toml:"dispatch"`
	Execution Execution `toml:"execution"`
	Retention Retention `toml:"retention"`
	Storage   Storage   `toml:"storage"`
	Tools     Tools     `toml:"tools"`
	Logging   Logging   `toml:"logging"`
	Tracing   Tracing   `toml:"tracing"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("convertd.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// BlobDir is only created for the filesystem backend.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.WorkDir, c.Paths.LogDir}
	if c.Storage.Backend == StorageFS {
		dirs = append(dirs, c.Paths.BlobDir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the execution record database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "executions.db")
}

// LockPath returns the daemon single-instance lock location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "convertd.lock")
}

// ReaperLockPath returns the lock guarding concurrent retention sweeps.
func (c *Config) ReaperLockPath() string {
	return filepath.Join(c.Paths.DataDir, "reaper.lock")
}

// Lease returns the default execution lease.
func (c *Config) Lease() time.Duration {
	return time.Duration(c.Execution.LeaseSeconds) * time.Second
}

// MaxRuntime returns the default wall-clock budget of a single attempt.
func (c *Config) MaxRuntime() time.Duration {
	return time.Duration(c.Execution.MaxRuntimeSeconds) * time.Second
}

// HeartbeatInterval returns how often a worker extends its lease.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Execution.HeartbeatIntervalSeconds) * time.Second
}

// RetentionWindow returns how long terminal executions are kept.
func (c *Config) RetentionWindow() time.Duration {
	return time.Duration(c.Retention.WindowHours) * time.Hour
}

// SweepInterval returns the reaper cadence.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Retention.SweepIntervalSeconds) * time.Second
}

// WorkspaceMaxAge returns the age after which abandoned plugin workspaces are removed.
func (c *Config) WorkspaceMaxAge() time.Duration {
	return time.Duration(c.Retention.WorkspaceMaxAgeHours) * time.Hour
}

// TriggerBackoff returns the initial and maximum trigger retry delays.
func (c *Config) TriggerBackoff() (time.Duration, time.Duration) {
	return time.Duration(c.Dispatch.TriggerInitialBackoffMS) * time.Millisecond,
		time.Duration(c.Dispatch.TriggerMaxBackoffMS) * time.Millisecond
}

// TriggerTimeout bounds a single trigger send.
func (c *Config) TriggerTimeout() time.Duration {
	return time.Duration(c.Dispatch.TriggerTimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
