package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"convertd/internal/api"
	"convertd/internal/blob"
	"convertd/internal/execution"
	"convertd/internal/logging"
	"convertd/internal/plugin"
	"convertd/internal/status"
)

func newExecutionsCommand(ctx *commandContext) *cobra.Command {
	execCmd := &cobra.Command{
		Use:     "executions",
		Aliases: []string{"exec"},
		Short:   "Inspect execution records in the local database",
	}

	execCmd.AddCommand(newExecutionsListCommand(ctx))
	execCmd.AddCommand(newExecutionsShowCommand(ctx))
	execCmd.AddCommand(newExecutionsDeleteCommand(ctx))

	return execCmd
}

func newExecutionsListCommand(ctx *commandContext) *cobra.Command {
	var filter execution.Filter
	var statuses []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List executions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, raw := range statuses {
				st, ok := execution.ParseStatus(raw)
				if !ok {
					return fmt.Errorf("unknown status %q", raw)
				}
				filter.Statuses = append(filter.Statuses, st)
			}
			return ctx.withComponents(cmd.Context(), func(store *execution.Store, _ blob.Store, _ *plugin.Registry) error {
				records, err := store.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.ExecutionListResponse{Executions: api.FromRecords(records)})
				}
				if len(records) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No executions")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Tool", "Owner", "Status", "Attempts", "Updated", "Error"},
					buildExecutionRows(records, time.Now()),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				fmt.Fprintln(cmd.OutOrStdout())
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().StringVar(&filter.Owner, "owner", "", "Filter by owner")
	cmd.Flags().StringVar(&filter.Tool, "tool", "", "Filter by tool name")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 50, "Maximum rows (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

func buildExecutionRows(records []*execution.Record, now time.Time) [][]string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{
			rec.ID,
			rec.ToolName,
			rec.Owner,
			string(rec.Status),
			fmt.Sprintf("%d/%d", rec.AttemptCount, rec.MaxAttempts),
			humanize.RelTime(rec.UpdatedAt, now, "ago", "from now"),
			truncate(rec.ErrorMessage, 48),
		})
	}
	return rows
}

func newExecutionsShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one execution in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(cmd.Context(), func(store *execution.Store, _ blob.Store, _ *plugin.Registry) error {
				rec, err := store.Get(cmd.Context(), args[0])
				if errors.Is(err, execution.ErrNotFound) {
					return fmt.Errorf("execution %s not found", args[0])
				}
				if err != nil {
					return err
				}
				dto := api.FromRecord(rec)
				if asJSON {
					return writeJSON(cmd, dto)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderKeyValues(executionDetails(dto)))
				fmt.Fprintln(cmd.OutOrStdout())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

func executionDetails(dto api.Execution) [][2]string {
	params := make([]string, 0, len(dto.Parameters))
	for k, v := range dto.Parameters {
		params = append(params, k+"="+v)
	}
	rows := [][2]string{
		{"ID", dto.ID},
		{"Tool", dto.Tool},
		{"Category", dto.Category},
		{"Owner", dto.Owner},
		{"Status", dto.Status},
		{"Attempts", fmt.Sprintf("%d/%d", dto.AttemptCount, dto.MaxAttempts)},
		{"Input", dto.OriginalFilename + " (" + dto.InputRef + ")"},
		{"Parameters", strings.Join(sortedStrings(params), ", ")},
		{"Created", dto.CreatedAt},
		{"Updated", dto.UpdatedAt},
	}
	if dto.OutputRef != "" {
		rows = append(rows, [2]string{"Output", dto.OutputRef})
	}
	if dto.LeaseExpiresAt != "" {
		rows = append(rows, [2]string{"Lease expires", dto.LeaseExpiresAt})
	}
	if dto.ErrorMessage != "" {
		rows = append(rows, [2]string{"Error", fmt.Sprintf("%s (%s)", dto.ErrorMessage, dto.ErrorKind)})
	}
	return rows
}

func newExecutionsDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete executions and their blobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(cmd.Context(), func(store *execution.Store, blobs blob.Store, _ *plugin.Registry) error {
				svc := status.New(store, blobs, logging.NewNop())
				for _, id := range args {
					if err := svc.Delete(cmd.Context(), id); err != nil {
						return fmt.Errorf("delete %s: %w", id, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
				}
				return nil
			})
		},
	}
}
