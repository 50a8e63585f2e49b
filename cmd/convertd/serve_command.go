package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"convertd/internal/blob"
	"convertd/internal/config"
	"convertd/internal/daemonrun"
	"convertd/internal/dispatch"
	"convertd/internal/execution"
	"convertd/internal/logging"
	"convertd/internal/plugin"
	"convertd/internal/reaper"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var opts daemonrun.Options

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon (API, dispatcher, reaper, and local workers)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return daemonrun.Run(cmd.Context(), cfg, opts)
		},
	}
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "Override logging.level")
	cmd.Flags().BoolVar(&opts.Development, "dev", false, "Include source locations in log output")
	return cmd
}

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	var opts daemonrun.Options

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run only the execution side, accepting triggers over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return daemonrun.RunWorker(cmd.Context(), cfg, opts)
		},
	}
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "Override logging.level")
	cmd.Flags().BoolVar(&opts.Development, "dev", false, "Include source locations in log output")
	return cmd
}

func newReapCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Run one retention and lease sweep",
		Long: "Run one retention and lease sweep. Expired executions with attempts left are\n" +
			"re-dispatched: over HTTP in remote worker mode, in this process otherwise.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			return ctx.withComponents(cmd.Context(), func(store *execution.Store, blobs blob.Store, registry *plugin.Registry) error {
				trigger, stop, err := reapTrigger(cmd.Context(), cfg, store, blobs, registry)
				if err != nil {
					return err
				}
				defer stop()

				r, err := reaper.New(reaper.OptionsFromConfig(cfg, store, blobs, trigger, logging.NewNop()))
				if err != nil {
					return err
				}
				res, err := r.Sweep(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if res.Skipped {
					fmt.Fprintln(out, "Sweep skipped: another process holds the reaper lock")
					return nil
				}
				fmt.Fprint(out, renderTable(
					[]string{"Phase", "Count"},
					[][]string{
						{"Re-dispatched", fmt.Sprint(res.Retriggered)},
						{"Timed out", fmt.Sprint(res.Expired)},
						{"Reaped", fmt.Sprint(res.Reaped)},
						{"Blob errors", fmt.Sprint(res.BlobErrors)},
						{"Workspaces removed", fmt.Sprint(res.WorkspacesRemoved)},
					},
					[]columnAlignment{alignLeft, alignRight},
				))
				fmt.Fprintln(out)
				return nil
			})
		},
	}
}

// inlineTrigger runs each re-dispatched execution to completion before
// returning.
type inlineTrigger struct {
	exec *dispatch.Executor
}

func (t inlineTrigger) Trigger(ctx context.Context, req dispatch.TriggerRequest) error {
	_, err := t.exec.Execute(ctx, req)
	return err
}

func reapTrigger(ctx context.Context, cfg *config.Config, store *execution.Store, blobs blob.Store, registry *plugin.Registry) (dispatch.Triggerer, func(), error) {
	if cfg.Worker.Mode == config.WorkerRemote {
		transport, err := dispatch.NewHTTPTransport(cfg.Worker.Endpoint, cfg.Worker.Token, cfg.TriggerTimeout())
		if err != nil {
			return nil, nil, err
		}
		d, err := dispatch.NewDispatcher(dispatch.OptionsFromConfig(cfg, transport, store, logging.NewNop()))
		if err != nil {
			return nil, nil, err
		}
		d.Start(ctx)
		return d, d.Stop, nil
	}
	exec, err := dispatch.NewExecutor(dispatch.ExecutorOptions{
		Store:     store,
		Blobs:     blobs,
		Registry:  registry,
		WorkDir:   cfg.Paths.WorkDir,
		Heartbeat: cfg.HeartbeatInterval(),
	})
	if err != nil {
		return nil, nil, err
	}
	return inlineTrigger{exec: exec}, func() {}, nil
}
