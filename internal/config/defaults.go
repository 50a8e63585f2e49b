package config

const (
	defaultConfigPath               = "~/.config/convertd/config.toml"
	defaultDataDir                  = "~/.local/share/convertd"
	defaultBlobDir                  = "~/.local/share/convertd/blobs"
	defaultWorkDir                  = "~/.local/share/convertd/work"
	defaultLogDir                   = "~/.local/share/convertd/logs"
	defaultAPIBind                  = "127.0.0.1:7600"
	defaultMaxUploadBytes           = 64 << 20
	defaultWorkerBind               = "127.0.0.1:7601"
	defaultWorkerConcurrency        = 4
	defaultTriggerAttempts          = 5
	defaultTriggerInitialBackoffMS  = 200
	defaultTriggerMaxBackoffMS      = 5000
	defaultTriggerTimeoutSeconds    = 10
	defaultDispatchSenders          = 2
	defaultDispatchQueueSize        = 256
	defaultMaxAttempts              = 3
	defaultLeaseSeconds             = 600
	defaultHeartbeatIntervalSeconds = 30
	defaultMaxRuntimeSeconds        = 1800
	defaultRetentionWindowHours     = 24
	defaultSweepIntervalSeconds     = 60
	defaultWorkspaceMaxAgeHours     = 6
	defaultMinIOBucket              = "convertd"
	defaultLogFormat                = "console"
	defaultLogLevel                 = "info"
	defaultLogRetentionDays         = 30
	defaultTracingExporter          = "stdout"
	defaultTracingServiceName       = "convertd"
)

const (
	// StorageFS stores blobs under paths.blob_dir.
	StorageFS = "fs"
	// StorageMinIO stores blobs in a MinIO (S3-compatible) bucket.
	StorageMinIO = "minio"

	// WorkerLocal runs the execution side in-process.
	WorkerLocal = "local"
	// WorkerRemote triggers an execution side reachable at worker.endpoint.
	WorkerRemote = "remote"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			BlobDir: defaultBlobDir,
			WorkDir: defaultWorkDir,
			LogDir:  defaultLogDir,
		},
		API: API{
			Bind:           defaultAPIBind,
			MaxUploadBytes: defaultMaxUploadBytes,
		},
		Worker: Worker{
			Mode:        WorkerLocal,
			Bind:        defaultWorkerBind,
			Concurrency: defaultWorkerConcurrency,
		},
		Dispatch: Dispatch{
			TriggerAttempts:         defaultTriggerAttempts,
			TriggerInitialBackoffMS: defaultTriggerInitialBackoffMS,
			TriggerMaxBackoffMS:     defaultTriggerMaxBackoffMS,
			TriggerTimeoutSeconds:   defaultTriggerTimeoutSeconds,
			Senders:                 defaultDispatchSenders,
			QueueSize:               defaultDispatchQueueSize,
		},
		Execution: Execution{
			MaxAttempts:              defaultMaxAttempts,
			LeaseSeconds:             defaultLeaseSeconds,
			HeartbeatIntervalSeconds: defaultHeartbeatIntervalSeconds,
			MaxRuntimeSeconds:        defaultMaxRuntimeSeconds,
		},
		Retention: Retention{
			WindowHours:          defaultRetentionWindowHours,
			SweepIntervalSeconds: defaultSweepIntervalSeconds,
			WorkspaceMaxAgeHours: defaultWorkspaceMaxAgeHours,
		},
		Storage: Storage{
			Backend: StorageFS,
			MinIO: MinIO{
				Bucket: defaultMinIOBucket,
			},
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Tracing: Tracing{
			Exporter:    defaultTracingExporter,
			ServiceName: defaultTracingServiceName,
		},
	}
}
