//go:build unix

package sessions

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"
)

// endGracePeriod is how long End waits after SIGTERM before SIGKILL.
const endGracePeriod = 2 * time.Second

// HolderArg is the hidden subcommand the sessions CLI re-execs itself with
// to become a session holder.
const HolderArg = "_holder"

// Start launches command on a PTY owned by a detached holder process and
// returns once the holder has published the session metadata.
func (m *Manager) Start(command []string) (Metadata, error) {
	if len(command) == 0 {
		return Metadata{}, fmt.Errorf("start: empty command")
	}
	id := newSessionID()
	dir := m.sessionDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Metadata{}, fmt.Errorf("create session directory: %w", err)
	}
	if err := syscall.Mkfifo(filepath.Join(dir, "input.pipe"), 0o600); err != nil {
		os.RemoveAll(dir)
		return Metadata{}, fmt.Errorf("create input pipe: %w", err)
	}

	exe, err := os.Executable()
	if err != nil {
		os.RemoveAll(dir)
		return Metadata{}, fmt.Errorf("resolve executable: %w", err)
	}
	args := append([]string{HolderArg, dir}, command...)
	holder := exec.Command(exe, args...)
	holder.Dir = filepath.Dir(m.root) // workspace data plane
	holder.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	holder.Stdout = nil
	holder.Stderr = nil
	if err := holder.Start(); err != nil {
		os.RemoveAll(dir)
		return Metadata{}, fmt.Errorf("start holder: %w", err)
	}
	// The holder now owns the session; don't leave a zombie behind.
	go func() { _ = holder.Wait() }()

	// Wait for the holder to publish metadata with the child PID.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		meta, err := m.readMetadata(id)
		if err == nil && meta.PID > 0 {
			return meta, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	os.RemoveAll(dir)
	return Metadata{}, fmt.Errorf("session holder did not start within 5s")
}

// Write sends data to the session's stdin via the input FIFO. The open is
// non-blocking so a dead holder surfaces as an error instead of a hang.
func (m *Manager) Write(id, data string) error {
	meta, err := m.readMetadata(id)
	if err != nil {
		return err
	}
	if meta.Status != StatusRunning {
		return fmt.Errorf("session %s is %s", id, meta.Status)
	}
	pipe := filepath.Join(m.sessionDir(id), "input.pipe")
	f, err := os.OpenFile(pipe, os.O_WRONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("session %s: open input pipe (holder gone?): %w", id, err)
	}
	defer f.Close()
	if _, err := f.WriteString(data); err != nil {
		return fmt.Errorf("session %s: write input: %w", id, err)
	}
	meta.LastAccessedAt = nowISO()
	return m.writeMetadata(meta)
}

// Read returns new PTY output since the previous Read, waiting up to
// timeout for output to appear. The read position persists in the session
// directory so consecutive CLI invocations continue where they left off.
func (m *Manager) Read(id string, timeout time.Duration) (string, error) {
	meta, err := m.readMetadata(id)
	if err != nil {
		return "", err
	}
	dir := m.sessionDir(id)
	offsetPath := filepath.Join(dir, "read_offset.txt")
	outputPath := filepath.Join(dir, "output.log")

	offset := int64(0)
	if data, err := os.ReadFile(offsetPath); err == nil {
		offset, _ = strconv.ParseInt(string(data), 10, 64)
	}

	deadline := time.Now().Add(timeout)
	for {
		data, err := os.ReadFile(outputPath)
		if err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("session %s: read output: %w", id, err)
		}
		if int64(len(data)) > offset {
			chunk := data[offset:]
			if err := os.WriteFile(offsetPath, []byte(strconv.FormatInt(int64(len(data)), 10)), 0o644); err != nil {
				return "", fmt.Errorf("session %s: record read offset: %w", id, err)
			}
			meta.LastAccessedAt = nowISO()
			_ = m.writeMetadata(meta)
			return string(chunk), nil
		}
		if time.Now().After(deadline) {
			return "", nil
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// End terminates a session: SIGTERM to the child, SIGKILL after the grace
// period, then the holder, and marks the session dead. Logs are retained.
func (m *Manager) End(id string) error {
	meta, err := m.readMetadata(id)
	if err != nil {
		return err
	}
	terminate(meta.PID)
	terminate(meta.HolderPID)
	meta.Status = StatusDead
	meta.LastAccessedAt = nowISO()
	return m.writeMetadata(meta)
}

// terminate is SIGTERM followed by SIGKILL after the grace period.
func terminate(pid int) {
	if pid <= 0 || !processAlive(pid) {
		return
	}
	_ = syscall.Kill(pid, syscall.SIGTERM)
	deadline := time.Now().Add(endGracePeriod)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	_ = syscall.Kill(pid, syscall.SIGKILL)
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}
