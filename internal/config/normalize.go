package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAPI()
	c.normalizeWorker()
	c.normalizeDispatch()
	c.normalizeExecution()
	c.normalizeRetention()
	c.normalizeStorage()
	if err := c.normalizeTools(); err != nil {
		return err
	}
	c.normalizeLogging()
	c.normalizeTracing()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.BlobDir) == "" {
		c.Paths.BlobDir = defaultBlobDir
	}
	if c.Paths.BlobDir, err = expandPath(c.Paths.BlobDir); err != nil {
		return fmt.Errorf("paths.blob_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.Token == "" {
		if value, ok := os.LookupEnv("CONVERTD_API_TOKEN"); ok {
			c.API.Token = strings.TrimSpace(value)
		}
	}
	if c.API.MaxUploadBytes == 0 {
		c.API.MaxUploadBytes = defaultMaxUploadBytes
	}
}

func (c *Config) normalizeWorker() {
	c.Worker.Mode = strings.ToLower(strings.TrimSpace(c.Worker.Mode))
	if c.Worker.Mode == "" {
		c.Worker.Mode = WorkerLocal
	}
	c.Worker.Bind = strings.TrimSpace(c.Worker.Bind)
	if c.Worker.Bind == "" {
		c.Worker.Bind = defaultWorkerBind
	}
	c.Worker.Endpoint = strings.TrimRight(strings.TrimSpace(c.Worker.Endpoint), "/")
	c.Worker.Token = strings.TrimSpace(c.Worker.Token)
	if c.Worker.Token == "" {
		if value, ok := os.LookupEnv("CONVERTD_WORKER_TOKEN"); ok {
			c.Worker.Token = strings.TrimSpace(value)
		}
	}
	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = defaultWorkerConcurrency
	}
}

func (c *Config) normalizeDispatch() {
	if c.Dispatch.TriggerAttempts == 0 {
		c.Dispatch.TriggerAttempts = defaultTriggerAttempts
	}
	if c.Dispatch.TriggerInitialBackoffMS == 0 {
		c.Dispatch.TriggerInitialBackoffMS = defaultTriggerInitialBackoffMS
	}
	if c.Dispatch.TriggerMaxBackoffMS == 0 {
		c.Dispatch.TriggerMaxBackoffMS = defaultTriggerMaxBackoffMS
	}
	if c.Dispatch.TriggerTimeoutSeconds == 0 {
		c.Dispatch.TriggerTimeoutSeconds = defaultTriggerTimeoutSeconds
	}
	if c.Dispatch.Senders == 0 {
		c.Dispatch.Senders = defaultDispatchSenders
	}
	if c.Dispatch.QueueSize == 0 {
		c.Dispatch.QueueSize = defaultDispatchQueueSize
	}
}

func (c *Config) normalizeExecution() {
	if c.Execution.MaxAttempts == 0 {
		c.Execution.MaxAttempts = defaultMaxAttempts
	}
	if c.Execution.LeaseSeconds == 0 {
		c.Execution.LeaseSeconds = defaultLeaseSeconds
	}
	if c.Execution.HeartbeatIntervalSeconds == 0 {
		c.Execution.HeartbeatIntervalSeconds = defaultHeartbeatIntervalSeconds
	}
	if c.Execution.MaxRuntimeSeconds == 0 {
		c.Execution.MaxRuntimeSeconds = defaultMaxRuntimeSeconds
	}
}

func (c *Config) normalizeRetention() {
	if c.Retention.WindowHours == 0 {
		c.Retention.WindowHours = defaultRetentionWindowHours
	}
	if c.Retention.SweepIntervalSeconds == 0 {
		c.Retention.SweepIntervalSeconds = defaultSweepIntervalSeconds
	}
	if c.Retention.WorkspaceMaxAgeHours == 0 {
		c.Retention.WorkspaceMaxAgeHours = defaultWorkspaceMaxAgeHours
	}
}

func (c *Config) normalizeStorage() {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageFS
	}
	m := &c.Storage.MinIO
	m.Endpoint = strings.TrimSpace(m.Endpoint)
	m.Bucket = strings.TrimSpace(m.Bucket)
	if m.Bucket == "" {
		m.Bucket = defaultMinIOBucket
	}
	m.Region = strings.TrimSpace(m.Region)
	m.AccessKey = strings.TrimSpace(m.AccessKey)
	if m.AccessKey == "" {
		if value, ok := os.LookupEnv("MINIO_ACCESS_KEY"); ok {
			m.AccessKey = strings.TrimSpace(value)
		}
	}
	m.SecretKey = strings.TrimSpace(m.SecretKey)
	if m.SecretKey == "" {
		if value, ok := os.LookupEnv("MINIO_SECRET_KEY"); ok {
			m.SecretKey = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeTools() error {
	c.Tools.Manifest = strings.TrimSpace(c.Tools.Manifest)
	if c.Tools.Manifest == "" {
		return nil
	}
	var err error
	if c.Tools.Manifest, err = expandPath(c.Tools.Manifest); err != nil {
		return fmt.Errorf("tools.manifest: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeTracing() {
	c.Tracing.Exporter = strings.ToLower(strings.TrimSpace(c.Tracing.Exporter))
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = defaultTracingExporter
	}
	c.Tracing.ServiceName = strings.TrimSpace(c.Tracing.ServiceName)
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = defaultTracingServiceName
	}
}
