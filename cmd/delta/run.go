package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/deltaengine/delta/internal/agent"
	"github.com/deltaengine/delta/internal/journal"
	"github.com/deltaengine/delta/internal/run"
)

func newRunCmd() *cobra.Command {
	var (
		agentDir      string
		task          string
		workDir       string
		runID         string
		format        string
		assumeYes     bool
		interactive   bool
		maxIterations int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a new agent run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ag, err := agent.Load(agentDir)
			if err != nil {
				return exitf(exitFailed, "load agent: %v", err)
			}
			workspacePath, err := selectWorkspace(ag.Home, workDir, assumeYes)
			if err != nil {
				return exitf(exitFailed, "%v", err)
			}

			if runID == "" {
				runID = run.NewID(time.Now())
			} else if err := run.ValidateID(runID); err != nil {
				return exitf(exitFailed, "invalid --run-id: %v", err)
			}
			host, _ := os.Hostname()
			store, err := journal.Create(workspacePath, runID, run.Metadata{
				RunID:     runID,
				StartTime: time.Now().UTC().Format(time.RFC3339),
				AgentRef:  ag.Home,
				Task:      task,
				Status:    run.StatusRunning,
				Hostname:  host,
				PID:       os.Getpid(),
			})
			if err != nil {
				return exitf(exitFailed, "create run: %v", err)
			}
			return executeRun(ag, store, workspacePath, execOptions{
				task:          task,
				interactive:   interactive,
				maxIterations: maxIterations,
				format:        format,
			})
		},
	}

	cmd.Flags().StringVarP(&agentDir, "agent", "a", ".", "agent definition directory")
	cmd.Flags().StringVarP(&task, "task", "t", "", "task for the agent")
	cmd.Flags().StringVar(&workDir, "work-dir", "", "explicit workspace directory (skips selection, does not update LAST_USED)")
	cmd.Flags().StringVar(&runID, "run-id", "", "client-supplied run identifier (must be unique in the workspace)")
	cmd.Flags().StringVarP(&format, "format", "o", formatText, "output format: text, json, raw")
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "take the default workspace without prompting")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "answer ask_human prompts on the terminal")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "override the agent's iteration limit")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}
