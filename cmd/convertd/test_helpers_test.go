package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"convertd/internal/config"
	"convertd/internal/daemon"
	"convertd/internal/daemonrun"
	"convertd/internal/logging"
	"convertd/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	server     string
}

// setupCLITestEnv writes a config file for a fresh temp layout. When
// withDaemon is set a daemon is started against it and server holds its URL.
func setupCLITestEnv(t *testing.T, withDaemon bool) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)
	env := &cliTestEnv{cfg: cfg, configPath: configPath}
	if !withDaemon {
		return env
	}

	store, blobs, registry, err := daemonrun.OpenComponents(context.Background(), cfg)
	if err != nil {
		t.Fatalf("OpenComponents: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	d, err := daemon.New(cfg, store, blobs, registry, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(d.Stop)
	env.server = "http://" + d.APIAddr()
	return env
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	full := append([]string{"--config", e.configPath}, args...)
	if e.server != "" {
		full = append([]string{"--server", e.server}, full...)
	}
	return runCLI(t, full...)
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}
