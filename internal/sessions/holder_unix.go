//go:build unix

package sessions

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/creack/pty"
)

// RunHolder is the body of the detached holder process: it starts the
// session command on a PTY, publishes metadata, streams PTY output to
// output.log, and feeds the input FIFO into the PTY. It returns when the
// session command exits.
//
// The FIFO is reopened after each writer closes it, so every delta-sessions
// write invocation gets a fresh writer end.
func RunHolder(sessionDir string, command []string) error {
	if len(command) == 0 {
		return fmt.Errorf("holder: empty command")
	}
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Dir = filepath.Dir(filepath.Dir(sessionDir)) // workspace data plane

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("holder: start %q on pty: %w", command[0], err)
	}
	defer ptmx.Close()

	m := NewManager(filepath.Dir(filepath.Dir(sessionDir)))
	meta := Metadata{
		SessionID:      filepath.Base(sessionDir),
		Command:        command,
		PID:            cmd.Process.Pid,
		HolderPID:      os.Getpid(),
		CreatedAt:      nowISO(),
		LastAccessedAt: nowISO(),
		Status:         StatusRunning,
	}
	if err := m.writeMetadata(meta); err != nil {
		cmd.Process.Kill()
		return err
	}

	outputLog, err := os.OpenFile(filepath.Join(sessionDir, "output.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		cmd.Process.Kill()
		return fmt.Errorf("holder: open output log: %w", err)
	}
	defer outputLog.Close()

	done := make(chan struct{})
	go func() {
		// PTY read returns EIO when the child exits; that ends the copy.
		_, _ = io.Copy(outputLog, ptmx)
	}()
	go feedInput(filepath.Join(sessionDir, "input.pipe"), ptmx, done)

	err = cmd.Wait()
	close(done)

	meta.Status = StatusDead
	meta.LastAccessedAt = nowISO()
	_ = m.writeMetadata(meta)
	return err
}

// feedInput copies FIFO writers into the PTY until done is closed.
func feedInput(pipePath string, ptmx *os.File, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}
		// Blocks until a writer opens the FIFO.
		pipe, err := os.OpenFile(pipePath, os.O_RDONLY, 0)
		if err != nil {
			return
		}
		_, _ = io.Copy(ptmx, pipe)
		pipe.Close()
	}
}
