package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"convertd/internal/api"
	"convertd/internal/plugin"
	"convertd/internal/plugin/gpxtool"
)

func newToolsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List registered conversion tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			registry, err := plugin.Build(cfg, gpxtool.Plugins()...)
			if err != nil {
				return err
			}
			descs := registry.Descriptors()
			if asJSON {
				return writeJSON(cmd, api.ToolListResponse{Tools: api.FromDescriptors(descs)})
			}
			if len(descs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No tools registered")
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(
				[]string{"Name", "Label", "Category", "Input", "Output", "Max Size", "Attempts", "Lease", "Inline"},
				buildToolRows(descs),
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
			))
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

func buildToolRows(descs []plugin.Descriptor) [][]string {
	title := cases.Title(language.Und)
	rows := make([][]string, 0, len(descs))
	for _, d := range descs {
		label := d.Label
		if label == "" {
			label = title.String(strings.ReplaceAll(d.Name, "-", " "))
		}
		rows = append(rows, []string{
			d.Name,
			label,
			d.Category,
			strings.Join(d.InputExtensions, ", "),
			d.OutputExtension,
			humanize.IBytes(uint64(d.MaxInputBytes)),
			fmt.Sprint(d.MaxAttempts),
			d.Lease.String(),
			yesNo(d.Inline),
		})
	}
	return rows
}
