package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/deltaengine/delta/internal/run"
	"github.com/deltaengine/delta/internal/workspace"
)

func newListRunsCmd() *cobra.Command {
	var (
		workDir       string
		statusFilter  string
		format        string
		first         bool
		onlyResumable bool
	)

	cmd := &cobra.Command{
		Use:   "list-runs",
		Short: "List runs in a workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			abs, err := filepath.Abs(workDir)
			if err != nil {
				return exitf(exitFailed, "resolve --work-dir: %v", err)
			}
			infos, err := workspace.Runs(abs)
			if err != nil {
				return exitf(exitFailed, "%v", err)
			}
			if statusFilter != "" {
				want := run.Status(strings.ToUpper(statusFilter))
				filtered := infos[:0]
				for _, info := range infos {
					if info.Metadata.Status == want {
						filtered = append(filtered, info)
					}
				}
				infos = filtered
			}
			if onlyResumable {
				filtered := infos[:0]
				for _, info := range infos {
					if info.Metadata.Status.Resumable() {
						filtered = append(filtered, info)
					}
				}
				infos = filtered
			}
			if first && len(infos) > 1 {
				infos = infos[:1]
			}

			if format == formatJSON {
				rows := make([]run.Metadata, 0, len(infos))
				for _, info := range infos {
					rows = append(rows, info.Metadata)
				}
				data, err := json.MarshalIndent(rows, "", "  ")
				if err != nil {
					return exitf(exitFailed, "encode runs: %v", err)
				}
				fmt.Println(string(data))
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN_ID\tSTATUS\tITERATIONS\tSTART\tTASK")
			for _, info := range infos {
				task := truncateTask(info.Metadata.Task, 60)
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					info.RunID,
					info.Metadata.Status,
					info.Metadata.IterationsCompleted,
					info.Metadata.StartTime,
					task)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&workDir, "work-dir", ".", "workspace directory to scan")
	cmd.Flags().StringVar(&statusFilter, "status", "", "only show runs with this status")
	cmd.Flags().BoolVar(&first, "first", false, "show only the first matching run")
	cmd.Flags().BoolVar(&onlyResumable, "resumable", false, "only show WAITING_FOR_INPUT and INTERRUPTED runs")
	cmd.Flags().StringVarP(&format, "format", "o", formatText, "output format: text, json")
	return cmd
}

// truncateTask caps the task column at max runes, marking elision.
func truncateTask(s string, max int) string {
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
