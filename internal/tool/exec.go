package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Result captures one tool child process execution.
type Result struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	DurationMS int64
	Success    bool
}

// Invocation is a fully resolved child-process invocation.
type Invocation struct {
	Argv  []string
	Stdin *string // non-nil when a stdin-injected parameter is present
}

// ResolvedCommand renders the invocation as a single display string for
// journaling; it is not used for execution.
func (inv Invocation) ResolvedCommand() string {
	return strings.Join(inv.Argv, " ")
}

// Resolve builds the child-process invocation for a tool call. Parameters
// are applied in declaration order: argument values append positionally,
// option values append as "<option_name> <value>" (two argv elements), and
// the stdin value is carried aside for the executor. Missing arguments
// resolve to the empty string so the child still sees a stable shape.
func Resolve(def Def, args map[string]string) (Invocation, error) {
	if err := def.Validate(); err != nil {
		return Invocation{}, err
	}
	argv := make([]string, len(def.Command))
	copy(argv, def.Command)

	var stdin *string
	for _, p := range def.Parameters {
		value := args[p.Name]
		switch p.InjectAs {
		case InjectStdin:
			v := value
			stdin = &v
		case InjectOption:
			argv = append(argv, p.OptionName, value)
		default: // argument
			argv = append(argv, value)
		}
	}
	return Invocation{Argv: argv, Stdin: stdin}, nil
}

// Executor spawns tool child processes in the workspace data plane.
type Executor struct {
	workDir string
}

// NewExecutor creates an executor whose children run in workDir.
func NewExecutor(workDir string) *Executor {
	return &Executor{workDir: workDir}
}

// Run spawns the invocation without a shell, writes the stdin parameter if
// any, captures both streams, and waits for exit. The child inherits the
// engine's environment. A non-zero exit is not an error here; it surfaces
// through Result.Success so the model can react to the failure.
func (e *Executor) Run(ctx context.Context, inv Invocation) (Result, error) {
	if len(inv.Argv) == 0 {
		return Result{}, fmt.Errorf("empty invocation")
	}
	cmd := exec.CommandContext(ctx, inv.Argv[0], inv.Argv[1:]...)
	cmd.Dir = e.workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if inv.Stdin != nil {
		cmd.Stdin = strings.NewReader(*inv.Stdin)
	}

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start).Milliseconds()

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			// Spawn failure (command not found, permission denied).
			return Result{
				Stderr:     err.Error(),
				ExitCode:   -1,
				DurationMS: duration,
			}, nil
		}
	}

	return Result{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		ExitCode:   exitCode,
		DurationMS: duration,
		Success:    exitCode == 0,
	}, nil
}
