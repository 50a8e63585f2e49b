package testsupport

import (
	"path/filepath"
	"testing"

	"convertd/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.BlobDir = filepath.Join(base, "blobs")
	cfgVal.Paths.WorkDir = filepath.Join(base, "work")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.Worker.Bind = "127.0.0.1:0"
	cfgVal.Dispatch.TriggerInitialBackoffMS = 1
	cfgVal.Dispatch.TriggerMaxBackoffMS = 5

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithMaxAttempts overrides the default attempt ceiling.
func WithMaxAttempts(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Execution.MaxAttempts = n
	}
}

// WithLeaseSeconds overrides the default lease.
func WithLeaseSeconds(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Execution.LeaseSeconds = seconds
		if b.cfg.Execution.HeartbeatIntervalSeconds >= seconds {
			b.cfg.Execution.HeartbeatIntervalSeconds = max(1, seconds/2)
		}
	}
}

// WithRemoteWorker switches the dispatcher to HTTP triggers against endpoint.
func WithRemoteWorker(endpoint, token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Worker.Mode = config.WorkerRemote
		b.cfg.Worker.Endpoint = endpoint
		b.cfg.Worker.Token = token
	}
}

// WithTriggerAttempts overrides the trigger retry ceiling.
func WithTriggerAttempts(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Dispatch.TriggerAttempts = n
	}
}

// WithAPIToken sets the bearer token required by the public API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.Token = token
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
