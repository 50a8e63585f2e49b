package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"convertd/internal/execution"
	"convertd/internal/status"
)

const defaultPollInterval = time.Second

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var rawParams []string
	var wait bool
	var outputPath string
	var pollInterval time.Duration
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "submit <tool> <file>",
		Short: "Upload a file for conversion",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(rawParams)
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			receipt, err := client.Submit(cmd.Context(), args[0], args[1], params)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !wait && outputPath == "" {
				if asJSON {
					return writeJSON(cmd, receipt)
				}
				fmt.Fprintf(out, "Submitted %s (%s)\n", receipt.ExecutionID, receipt.Status)
				return nil
			}

			report, err := waitForTerminal(cmd.Context(), client, receipt.ExecutionID, pollInterval)
			if err != nil {
				return err
			}
			if asJSON {
				if err := writeJSON(cmd, report); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(out, renderReport(report, shouldColorize(out)))
			}
			if report.Status == execution.StatusFailed {
				return fmt.Errorf("execution %s failed: %s", report.ExecutionID, report.ErrorMessage)
			}
			if outputPath == "" {
				return nil
			}
			written, size, err := downloadResult(cmd.Context(), client, report.ExecutionID, outputPath)
			if err != nil {
				return err
			}
			if !asJSON {
				fmt.Fprintf(out, "Saved %s (%s)\n", written, humanize.IBytes(uint64(size)))
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&rawParams, "param", "p", nil, "Tool parameter as key=value (repeatable)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Poll until the execution finishes")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Download the result to this path or directory (implies --wait)")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", defaultPollInterval, "Delay between status polls")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of text")
	return cmd
}

func parseParams(raw []string) (map[string]string, error) {
	params := make(map[string]string, len(raw))
	for _, entry := range raw {
		key, value, ok := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q (expected key=value)", entry)
		}
		params[key] = value
	}
	return params, nil
}

func waitForTerminal(ctx context.Context, client *apiClient, id string, interval time.Duration) (status.Report, error) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		report, err := client.Status(ctx, id)
		if err != nil {
			return status.Report{}, err
		}
		if report.Status.IsTerminal() {
			return report, nil
		}
		select {
		case <-ctx.Done():
			return status.Report{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func renderReport(report status.Report, colorize bool) string {
	message := string(report.Status)
	if report.ErrorMessage != "" {
		message += ": " + report.ErrorMessage
		if report.ErrorKind != "" {
			message += " (" + report.ErrorKind + ")"
		}
	} else if report.OutputAvailable {
		message += ", output ready"
	}
	return renderStatusLine(report.ExecutionID, executionStatusKind(report.Status), message, colorize)
}

// downloadResult streams the result to target. A directory target (or one
// ending in a separator) receives the server-suggested filename.
func downloadResult(ctx context.Context, client *apiClient, id, target string) (string, int64, error) {
	body, name, err := client.Download(ctx, id)
	if err != nil {
		return "", 0, err
	}
	defer body.Close()

	dest := target
	if info, statErr := os.Stat(target); (statErr == nil && info.IsDir()) || strings.HasSuffix(target, string(os.PathSeparator)) {
		if name == "" {
			name = id
		}
		dest = filepath.Join(target, name)
	}
	if dir := filepath.Dir(dest); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", 0, fmt.Errorf("create output directory: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".convertd-download-*")
	if err != nil {
		return "", 0, fmt.Errorf("create output file: %w", err)
	}
	n, copyErr := io.Copy(tmp, body)
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("write output: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		_ = os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("finalize output: %w", err)
	}
	return dest, n, nil
}
