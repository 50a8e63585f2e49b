package main

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status <id>...",
		Short: "Poll execution status from the daemon",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			var missing int
			for _, id := range args {
				report, err := client.Status(cmd.Context(), id)
				if errors.Is(err, errNotFound) {
					missing++
					fmt.Fprintln(out, renderStatusLine(id, statusError, "not found", colorize))
					continue
				}
				if err != nil {
					return err
				}
				if asJSON {
					if err := writeJSON(cmd, report); err != nil {
						return err
					}
					continue
				}
				fmt.Fprintln(out, renderReport(report, colorize))
			}
			if missing > 0 {
				return fmt.Errorf("%d execution(s) not found", missing)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of text")
	return cmd
}

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	var outputPath string
	var remove bool

	cmd := &cobra.Command{
		Use:   "download <id>",
		Short: "Download a completed execution's result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			target := outputPath
			if target == "" {
				target = "."
			}
			written, size, err := downloadResult(cmd.Context(), client, args[0], target)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s)\n", written, humanize.IBytes(uint64(size)))
			if remove {
				if err := client.Delete(cmd.Context(), args[0]); err != nil {
					return fmt.Errorf("delete execution: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Destination file or directory (default current directory)")
	cmd.Flags().BoolVar(&remove, "delete", false, "Delete the execution after a successful download")
	return cmd
}
