package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/deltaengine/delta/internal/agent"
	"github.com/deltaengine/delta/internal/journal"
	"github.com/deltaengine/delta/internal/run"
	"github.com/deltaengine/delta/internal/workspace"
)

func newContinueCmd() *cobra.Command {
	var (
		agentDir      string
		task          string
		workDir       string
		runID         string
		format        string
		interactive   bool
		force         bool
		maxIterations int
	)

	cmd := &cobra.Command{
		Use:   "continue",
		Short: "Resume an existing run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			workspacePath, err := continueWorkspace(workDir)
			if err != nil {
				return exitf(exitFailed, "%v", err)
			}

			info, err := findRun(workspacePath, runID)
			if err != nil {
				return exitf(exitFailed, "%v", err)
			}
			meta := info.Metadata

			// A run recorded as RUNNING is either genuinely active or an
			// orphan from a crashed process; the janitor decides which.
			reclaimed := false
			if meta.Status == run.StatusRunning {
				reclaim, err := run.NewJanitor().ShouldReclaim(meta, force)
				if err != nil {
					return exitf(exitFailed, "%v", err)
				}
				if !reclaim {
					return exitf(exitFailed, "run %s is recorded as RUNNING and cannot be reclaimed", info.RunID)
				}
				reclaimed = true
			} else if meta.Status.Terminal() && !meta.Status.Resumable() && task == "" {
				return exitf(exitFailed, "run %s is %s; provide --task to extend it", info.RunID, meta.Status)
			}

			home := meta.AgentRef
			if agentDir != "" {
				home = agentDir
			}
			ag, err := agent.Load(home)
			if err != nil {
				return exitf(exitFailed, "load agent: %v", err)
			}

			store, err := journal.Open(workspacePath, info.RunID)
			if err != nil {
				return exitf(exitFailed, "open run: %v", err)
			}
			if err := claimRun(store, reclaimed); err != nil {
				store.Close()
				return exitf(exitFailed, "claim run: %v", err)
			}
			return executeRun(ag, store, workspacePath, execOptions{
				task:          task,
				interactive:   interactive,
				maxIterations: maxIterations,
				format:        format,
			})
		},
	}

	cmd.Flags().StringVarP(&agentDir, "agent", "a", "", "agent definition directory (default: the run's recorded agent)")
	cmd.Flags().StringVarP(&task, "task", "t", "", "continuation message appended to the conversation")
	cmd.Flags().StringVar(&workDir, "work-dir", "", "workspace directory containing the run")
	cmd.Flags().StringVar(&runID, "run-id", "", "run to resume")
	cmd.Flags().StringVarP(&format, "format", "o", formatText, "output format: text, json, raw")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "answer ask_human prompts on the terminal")
	cmd.Flags().BoolVar(&force, "force", false, "reclaim a run recorded on another host")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "override the agent's iteration limit")
	_ = cmd.MarkFlagRequired("work-dir")
	_ = cmd.MarkFlagRequired("run-id")
	return cmd
}

// continueWorkspace validates the workspace directory named by --work-dir.
// There is no "latest workspace" or "latest run" fallback: continuation
// always names its target explicitly.
func continueWorkspace(workDir string) (string, error) {
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return "", errors.New("workspace " + abs + " does not exist")
	}
	return abs, nil
}

// findRun locates the requested run in the workspace.
func findRun(workspacePath, runID string) (workspace.RunInfo, error) {
	infos, err := workspace.Runs(workspacePath)
	if err != nil {
		return workspace.RunInfo{}, err
	}
	for _, info := range infos {
		if info.RunID == runID {
			return info, nil
		}
	}
	return workspace.RunInfo{}, errors.New("run " + runID + " not found in " + workspacePath)
}

// claimRun records this process as the run's owner. A reclaimed orphan is
// first persisted as INTERRUPTED so the lifecycle transition survives even
// if the resume itself dies right after.
func claimRun(store *journal.Store, reclaimed bool) error {
	if reclaimed {
		if err := store.UpdateMetadata(func(m *run.Metadata) {
			m.Status = run.StatusInterrupted
		}); err != nil {
			return err
		}
	}
	host, _ := os.Hostname()
	return store.UpdateMetadata(func(m *run.Metadata) {
		m.PID = os.Getpid()
		m.Hostname = host
		m.EndTime = ""
	})
}
