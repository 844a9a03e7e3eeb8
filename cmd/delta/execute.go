package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/deltaengine/delta/internal/agent"
	"github.com/deltaengine/delta/internal/config"
	"github.com/deltaengine/delta/internal/engine"
	"github.com/deltaengine/delta/internal/journal"
	"github.com/deltaengine/delta/internal/llm/openai"
	"github.com/deltaengine/delta/internal/logging"
	"github.com/deltaengine/delta/internal/run"
	"github.com/deltaengine/delta/internal/sessions"
)

// Output formats for the run result.
const (
	formatText = "text"
	formatJSON = "json"
	formatRaw  = "raw"
)

type execOptions struct {
	task          string
	interactive   bool
	maxIterations int
	format        string
}

// executeRun drives the engine for an open store and emits the result.
// It owns the store from here on and closes it on every path.
func executeRun(ag *agent.Agent, store *journal.Store, workspacePath string, opts execOptions) error {
	defer store.Close()

	loaded := config.LoadEnv(workspacePath, ag.Home)
	client, err := openai.NewClientFromEnv(ag.LLM.Model)
	if err != nil {
		return exitf(exitFailed, "%v", err)
	}

	logger, closeLog, err := logging.NewRunLogger(store.EngineLogPath(), verbose)
	if err != nil {
		return exitf(exitFailed, "%v", err)
	}
	defer closeLog()
	for _, p := range loaded {
		logger.Debug("loaded env file", zap.String("path", p))
	}
	logger.Info("run starting",
		zap.String("run_id", store.RunID()),
		zap.String("agent", ag.Name),
		zap.String("workspace", workspacePath))

	// SIGINT/SIGTERM cancel the context; the engine notices at its next
	// checkpoint and records the interruption.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng := engine.New(engine.Options{
		Agent:         ag,
		Store:         store,
		Workspace:     workspacePath,
		Client:        client,
		Logger:        logger,
		Interactive:   opts.interactive,
		MaxIterations: opts.maxIterations,
	})
	outcome := eng.Run(ctx, opts.task)

	invMetas, _ := store.ListInvocationMeta()
	meta, _ := store.ReadMetadata()

	// Sessions survive only an intentional pause; every other termination
	// sweeps them so no PTY child outlives its run.
	if outcome.Status != run.StatusWaiting {
		if err := sessions.NewManager(workspacePath).CleanupAll(); err != nil {
			logger.Warn("session cleanup", zap.Error(err))
		}
	}

	return emitResult(buildResult(meta, outcome, invMetas, ag.Name, workspacePath), outcome, opts.format)
}

// buildResult assembles the RunResult document from the run's terminal
// state and its invocation artifacts.
func buildResult(meta run.Metadata, outcome engine.Outcome, invMetas []journal.InvocationMeta, agentName, workspacePath string) run.Result {
	res := run.Result{
		SchemaVersion: run.ResultSchemaVersion,
		RunID:         meta.RunID,
		Status:        outcome.Status,
		Metrics: run.Metrics{
			Iterations: meta.IterationsCompleted,
			StartTime:  meta.StartTime,
			EndTime:    meta.EndTime,
			Usage:      aggregateUsage(invMetas),
		},
		Metadata: run.ResultMetadata{
			AgentName:     agentName,
			WorkspacePath: workspacePath,
		},
	}
	if start, err := time.Parse(time.RFC3339, meta.StartTime); err == nil {
		end := time.Now().UTC()
		if t, err := time.Parse(time.RFC3339, meta.EndTime); err == nil {
			end = t
		}
		res.Metrics.DurationMS = end.Sub(start).Milliseconds()
	}

	switch outcome.Status {
	case run.StatusCompleted:
		res.Result = outcome.FinalResponse
	case run.StatusFailed:
		msg := "run failed"
		if outcome.Err != nil {
			msg = outcome.Err.Error()
		}
		res.Error = &run.ErrorInfo{Type: "execution_error", Message: msg}
	case run.StatusWaiting:
		if outcome.Interaction != nil {
			res.Interaction = &run.InteractionInfo{
				Prompt:    outcome.Interaction.Prompt,
				InputType: outcome.Interaction.InputType,
				Sensitive: outcome.Interaction.Sensitive,
			}
		}
	}
	return res
}

func aggregateUsage(invMetas []journal.InvocationMeta) run.Usage {
	usage := run.Usage{ModelUsage: map[string]run.ModelUsage{}}
	for _, m := range invMetas {
		usage.InputTokens += m.Usage.InputTokens
		usage.OutputTokens += m.Usage.OutputTokens
		mu := usage.ModelUsage[m.Model]
		mu.InputTokens += m.Usage.InputTokens
		mu.OutputTokens += m.Usage.OutputTokens
		usage.ModelUsage[m.Model] = mu
	}
	return usage
}

// emitResult prints the result in the selected format and maps the
// terminal status to the process exit code. Stdout carries only the
// result; everything else goes to stderr.
func emitResult(res run.Result, outcome engine.Outcome, format string) error {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return exitf(exitFailed, "encode result: %v", err)
		}
		fmt.Println(string(data))
	case formatRaw:
		if outcome.Status == run.StatusCompleted {
			fmt.Println(outcome.FinalResponse)
		}
	case formatText, "":
		switch outcome.Status {
		case run.StatusCompleted:
			fmt.Println(outcome.FinalResponse)
		case run.StatusWaiting:
			fmt.Fprintln(os.Stderr, "Run paused for human input.")
			if outcome.Interaction != nil {
				fmt.Fprintf(os.Stderr, "Prompt: %s\n", outcome.Interaction.Prompt)
			}
			fmt.Fprintf(os.Stderr, "Answer by writing response.txt next to request.json, then run: delta continue --run-id %s\n", res.RunID)
		case run.StatusInterrupted:
			fmt.Fprintln(os.Stderr, "Run interrupted.")
		}
	default:
		return exitf(exitFailed, "unknown format %q", format)
	}

	switch outcome.Status {
	case run.StatusCompleted:
		return nil
	case run.StatusWaiting:
		return &exitError{code: exitPaused}
	case run.StatusInterrupted:
		return &exitError{code: exitInterrupted}
	default:
		if format == formatJSON {
			return &exitError{code: exitFailed}
		}
		msg := "run failed"
		if outcome.Err != nil {
			msg = outcome.Err.Error()
		}
		return exitf(exitFailed, "%s", msg)
	}
}
