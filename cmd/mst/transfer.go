package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/milestep/milestep/internal/export"
)

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "advanced",
	Short:   "Merge records from an export file",
	Long: `Merge every record in a JSON, YAML or TOML export into the tracker, as if
each had been logged with 'mst add'. Records for days that already have an
entry are added to it. The format is taken from the file extension.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		withSettings, _ := cmd.Flags().GetBool("settings")

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		records, settings, skipped, err := export.Read(data, export.FormatFromPath(args[0]))
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		return withApp(ctx, true, func(a *app) error {
			merged, err := a.session.Import(ctx, records)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Merged %d record(s)", merged)
			if skipped > 0 {
				fmt.Fprintf(out, ", skipped %d invalid", skipped)
			}
			fmt.Fprintln(out)

			if withSettings && settings != nil {
				if err := a.session.SetStepsPerUnit(ctx, settings.StepsPerUnit); err != nil {
					return err
				}
				fmt.Fprintf(out, "Steps per mile set to %d\n", settings.StepsPerUnit)
			}
			return nil
		})
	},
}

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "advanced",
	Short:   "Write all records to stdout or a file",
	Long: `Export every record, most recent first. JSON output is a plain array that
'mst import' and the watch inbox accept; YAML and TOML also carry settings.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		formatName, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		format, err := export.ParseFormat(formatName)
		if err != nil {
			return err
		}
		if !cmd.Flags().Changed("format") && output != "" {
			format = export.FormatFromPath(output)
		}

		snap, err := snapshot(cmd)
		if err != nil {
			return err
		}

		var w io.Writer = out
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}
			defer f.Close()
			w = f
		}

		if err := export.Write(w, format, snap.Records, snap.Settings); err != nil {
			return err
		}
		if output != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d record(s) to %s\n", len(snap.Records), output)
		}
		return nil
	},
}

func init() {
	importCmd.Flags().Bool("settings", false, "also apply settings stored in a YAML or TOML export")
	exportCmd.Flags().StringP("format", "f", "json", "output format: json, yaml or toml")
	exportCmd.Flags().StringP("output", "o", "", "write to file instead of stdout")

	rootCmd.AddCommand(importCmd, exportCmd)
}
