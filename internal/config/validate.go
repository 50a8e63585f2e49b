package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validateDispatch(); err != nil {
		return err
	}
	if err := c.validateExecution(); err != nil {
		return err
	}
	if err := c.validateRetention(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return c.validateTracing()
}

func (c *Config) validateAPI() error {
	if c.API.MaxUploadBytes <= 0 {
		return errors.New("api.max_upload_bytes must be positive")
	}
	return nil
}

func (c *Config) validateWorker() error {
	switch c.Worker.Mode {
	case WorkerLocal:
	case WorkerRemote:
		if c.Worker.Endpoint == "" {
			return errors.New("worker.endpoint must be set when worker.mode is \"remote\"")
		}
		parsed, err := url.Parse(c.Worker.Endpoint)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("worker.endpoint %q is not an absolute URL", c.Worker.Endpoint)
		}
	default:
		return fmt.Errorf("worker.mode: unsupported value %q (want local or remote)", c.Worker.Mode)
	}
	if c.Worker.Concurrency <= 0 {
		return errors.New("worker.concurrency must be positive")
	}
	return nil
}

func (c *Config) validateDispatch() error {
	if err := ensurePositiveMap(map[string]int{
		"dispatch.trigger_attempts":           c.Dispatch.TriggerAttempts,
		"dispatch.trigger_initial_backoff_ms": c.Dispatch.TriggerInitialBackoffMS,
		"dispatch.trigger_max_backoff_ms":     c.Dispatch.TriggerMaxBackoffMS,
		"dispatch.trigger_timeout_seconds":    c.Dispatch.TriggerTimeoutSeconds,
		"dispatch.senders":                    c.Dispatch.Senders,
		"dispatch.queue_size":                 c.Dispatch.QueueSize,
	}); err != nil {
		return err
	}
	if c.Dispatch.TriggerMaxBackoffMS < c.Dispatch.TriggerInitialBackoffMS {
		return errors.New("dispatch.trigger_max_backoff_ms must be >= dispatch.trigger_initial_backoff_ms")
	}
	return nil
}

func (c *Config) validateExecution() error {
	if err := ensurePositiveMap(map[string]int{
		"execution.max_attempts":               c.Execution.MaxAttempts,
		"execution.lease_seconds":              c.Execution.LeaseSeconds,
		"execution.heartbeat_interval_seconds": c.Execution.HeartbeatIntervalSeconds,
		"execution.max_runtime_seconds":        c.Execution.MaxRuntimeSeconds,
	}); err != nil {
		return err
	}
	if c.Execution.HeartbeatIntervalSeconds >= c.Execution.LeaseSeconds {
		return errors.New("execution.heartbeat_interval_seconds must be less than execution.lease_seconds")
	}
	return nil
}

func (c *Config) validateRetention() error {
	return ensurePositiveMap(map[string]int{
		"retention.window_hours":            c.Retention.WindowHours,
		"retention.sweep_interval_seconds":  c.Retention.SweepIntervalSeconds,
		"retention.workspace_max_age_hours": c.Retention.WorkspaceMaxAgeHours,
	})
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageFS:
		return nil
	case StorageMinIO:
		if c.Storage.MinIO.Endpoint == "" {
			return errors.New("storage.minio.endpoint must be set when storage.backend is \"minio\"")
		}
		if c.Storage.MinIO.AccessKey == "" || c.Storage.MinIO.SecretKey == "" {
			return errors.New("storage.minio access_key and secret_key must be set (or MINIO_ACCESS_KEY / MINIO_SECRET_KEY)")
		}
		return nil
	default:
		return fmt.Errorf("storage.backend: unsupported value %q (want fs or minio)", c.Storage.Backend)
	}
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be >= 0")
	}
	return nil
}

func (c *Config) validateTracing() error {
	if !c.Tracing.Enabled {
		return nil
	}
	if c.Tracing.Exporter != defaultTracingExporter {
		return fmt.Errorf("tracing.exporter: unsupported value %q", c.Tracing.Exporter)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

// Summary renders a short human-readable description of the effective setup.
func (c *Config) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "api=%s worker=%s storage=%s", c.API.Bind, c.Worker.Mode, c.Storage.Backend)
	if c.Worker.Mode == WorkerRemote {
		fmt.Fprintf(&b, " endpoint=%s", c.Worker.Endpoint)
	}
	return b.String()
}
