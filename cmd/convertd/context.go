package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"convertd/internal/blob"
	"convertd/internal/config"
	"convertd/internal/daemonrun"
	"convertd/internal/execution"
	"convertd/internal/plugin"
)

type commandContext struct {
	configFlag *string
	serverFlag *string
	tokenFlag  *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, serverFlag, tokenFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		serverFlag: serverFlag,
		tokenFlag:  tokenFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

// withComponents opens the store, blob backend, and registry for offline
// commands and closes the store afterwards.
func (c *commandContext) withComponents(ctx context.Context, fn func(*execution.Store, blob.Store, *plugin.Registry) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, blobs, registry, err := daemonrun.OpenComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store, blobs, registry)
}

func (c *commandContext) client() (*apiClient, error) {
	base := ""
	if c.serverFlag != nil {
		base = strings.TrimSpace(*c.serverFlag)
	}
	cfg := c.configValue()
	if base == "" {
		if cfg == nil {
			return nil, errors.New("no --server given and no configuration loaded")
		}
		base = serverURLFromBind(cfg.API.Bind)
	}
	token := ""
	if c.tokenFlag != nil {
		token = strings.TrimSpace(*c.tokenFlag)
	}
	if token == "" && cfg != nil {
		token = cfg.API.Token
	}
	return newAPIClient(base, token), nil
}

// serverURLFromBind turns a listen address into a URL a local client can
// dial; wildcard hosts become loopback.
func serverURLFromBind(bind string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(bind))
	if err != nil {
		return "http://" + bind
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func wrapDialError(err error, base string) error {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("connect to daemon: %s refused the connection; start it with `convertd serve`", base)
	default:
		return fmt.Errorf("connect to daemon: %w", err)
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
