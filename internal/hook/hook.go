// Package hook invokes lifecycle hooks as child processes over a
// file-based I/O protocol. Each invocation gets a dedicated artifact
// directory with input/, output/, and execution_meta/; the hook reads its
// context and payload from input/ and may write an override payload or
// control directives to output/. Absence of an output file means no
// override.
package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/deltaengine/delta/internal/agent"
	"github.com/deltaengine/delta/internal/journal"
)

// defaultTimeout bounds hooks that declare no timeout; unbounded hooks
// would wedge the run.
const defaultTimeout = 60 * time.Second

// Outcome is the result of one hook invocation. A FAILED hook never aborts
// the run: the engine logs a warning and proceeds with the baseline
// payload.
type Outcome struct {
	Status       string // journal.HookSuccess or journal.HookFailed
	FinalPayload []byte // non-nil when the hook wrote an override
	Skip         bool   // control.json {"skip": true}, pre_tool_exec only
	IOPathRef    string // artifact directory, relative to the run directory
}

// control mirrors output/control.json.
type control struct {
	Skip bool `json:"skip"`
}

// Executor runs hook commands in the workspace data plane.
type Executor struct {
	store   *journal.Store
	workDir string
	logger  *zap.Logger
}

// NewExecutor creates a hook executor bound to a run store.
func NewExecutor(store *journal.Store, workDir string, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{store: store, workDir: workDir, logger: logger.Named("hook")}
}

// Run sets up the invocation directory, spawns the hook command, waits up
// to its timeout, and collects the optional overrides. The returned error
// is non-nil only for artifact I/O failures, which are fatal to the run;
// hook process failures are reported through Outcome.Status.
func (e *Executor) Run(ctx context.Context, point string, spec agent.HookSpec, hookCtx any, payload []byte) (Outcome, error) {
	ioDir, err := e.store.SetupHookInvocation(point, hookCtx, payload)
	if err != nil {
		return Outcome{}, err
	}
	rel, err := filepath.Rel(e.store.Dir(), ioDir)
	if err != nil {
		rel = ioDir
	}
	out := Outcome{Status: journal.HookFailed, IOPathRef: rel}

	timeout := time.Duration(spec.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(hctx, spec.Command[0], spec.Command[1:]...)
	cmd.Dir = e.workDir
	cmd.Env = append(os.Environ(), "DELTA_HOOK_IO_DIR="+ioDir)
	cmd.Args = append(cmd.Args, ioDir)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start).Milliseconds()

	exitCode := 0
	switch {
	case runErr == nil:
		out.Status = journal.HookSuccess
	case hctx.Err() == context.DeadlineExceeded:
		exitCode = -1
		e.logger.Warn("hook timed out", zap.String("hook", point), zap.Duration("timeout", timeout))
	default:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
		e.logger.Warn("hook failed", zap.String("hook", point), zap.Int("exit_code", exitCode))
	}

	e.writeExecutionMeta(ioDir, spec.Command, exitCode, duration, stdout.String(), stderr.String())

	if out.Status != journal.HookSuccess {
		return out, nil
	}

	// Optional override payload: final_payload.json, else payload_override.dat.
	for _, name := range []string{"final_payload.json", "payload_override.dat"} {
		data, err := os.ReadFile(filepath.Join(ioDir, "output", name))
		if err == nil {
			out.FinalPayload = data
			break
		}
	}

	if data, err := os.ReadFile(filepath.Join(ioDir, "output", "control.json")); err == nil {
		var ctl control
		if json.Unmarshal(data, &ctl) == nil {
			out.Skip = ctl.Skip
		}
	}
	return out, nil
}

// writeExecutionMeta records how the hook process ran. Best effort: a
// metadata write failure is logged but does not fail the invocation.
func (e *Executor) writeExecutionMeta(ioDir string, command []string, exitCode int, durationMS int64, stdout, stderr string) {
	meta := filepath.Join(ioDir, "execution_meta")
	files := map[string]string{
		"command.txt":     strings.Join(command, " "),
		"exit_code.txt":   strconv.Itoa(exitCode),
		"duration_ms.txt": strconv.FormatInt(durationMS, 10),
		"stdout.log":      stdout,
		"stderr.log":      stderr,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(meta, name), []byte(content), 0o644); err != nil {
			e.logger.Warn("write hook execution meta", zap.String("file", name), zap.Error(err))
		}
	}
}
