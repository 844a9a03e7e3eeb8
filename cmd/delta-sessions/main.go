// Command delta-sessions manages long-lived PTY sessions inside a
// workspace, so an agent's tools can drive interactive programs across
// separate tool invocations. All results are printed as JSON on stdout.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/deltaengine/delta/internal/sessions"
)

func main() {
	// Hidden re-exec path: the start command launches this same binary as
	// the detached session holder.
	if len(os.Args) >= 3 && os.Args[1] == sessions.HolderArg {
		if err := sessions.RunHolder(os.Args[2], os.Args[3:]); err != nil {
			fmt.Fprintln(os.Stderr, "holder:", err)
			os.Exit(1)
		}
		return
	}

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var workDir string

	root := &cobra.Command{
		Use:           "delta-sessions",
		Short:         "Manage PTY sessions in a workspace",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&workDir, "work-dir", ".", "workspace directory holding the sessions")

	manager := func() (*sessions.Manager, error) {
		abs, err := filepath.Abs(workDir)
		if err != nil {
			return nil, err
		}
		return sessions.NewManager(abs), nil
	}

	start := &cobra.Command{
		Use:   "start <command> [args...]",
		Short: "Start a command on a new PTY session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manager()
			if err != nil {
				return err
			}
			meta, err := m.Start(args)
			if err != nil {
				return err
			}
			return printJSON(meta)
		},
	}

	write := &cobra.Command{
		Use:   "write <session_id> <data>",
		Short: "Send input to a session's stdin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manager()
			if err != nil {
				return err
			}
			if err := m.Write(args[0], args[1]); err != nil {
				return err
			}
			return printJSON(map[string]string{"session_id": args[0], "status": "written"})
		},
	}

	var timeoutMS int
	read := &cobra.Command{
		Use:   "read <session_id>",
		Short: "Read new output since the previous read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manager()
			if err != nil {
				return err
			}
			out, err := m.Read(args[0], time.Duration(timeoutMS)*time.Millisecond)
			if err != nil {
				return err
			}
			return printJSON(map[string]string{"session_id": args[0], "output": out})
		},
	}
	read.Flags().IntVar(&timeoutMS, "timeout", 0, "wait up to this many milliseconds for output")

	end := &cobra.Command{
		Use:   "end <session_id>",
		Short: "Terminate a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manager()
			if err != nil {
				return err
			}
			if err := m.End(args[0]); err != nil {
				return err
			}
			return printJSON(map[string]string{"session_id": args[0], "status": "ended"})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List sessions in the workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manager()
			if err != nil {
				return err
			}
			metas, err := m.List()
			if err != nil {
				return err
			}
			if metas == nil {
				metas = []sessions.Metadata{}
			}
			return printJSON(metas)
		},
	}

	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "End every running session in the workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manager()
			if err != nil {
				return err
			}
			if err := m.CleanupAll(); err != nil {
				return err
			}
			return printJSON(map[string]string{"status": "cleaned"})
		},
	}

	root.AddCommand(start, write, read, end, list, cleanup)
	return root
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
