// Package sessions manages long-lived PTY-backed subprocesses that live
// inside a workspace under .sessions/. Each session is owned by a detached
// holder process that bridges the PTY to an input FIFO and an output log,
// so the CLI can write to and read from the session across invocations.
//
// The package is used both by the delta-sessions CLI and by the engine's
// termination cleanup, which ends every session in the workspace whenever
// a run terminates for any reason other than WAITING_FOR_INPUT.
package sessions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Session statuses.
const (
	StatusRunning = "running"
	StatusDead    = "dead"
)

// SessionsDirName is the per-workspace sessions directory.
const SessionsDirName = ".sessions"

// Metadata is the metadata.json of one session.
type Metadata struct {
	SessionID      string   `json:"session_id"`
	Command        []string `json:"command"`
	PID            int      `json:"pid"`
	HolderPID      int      `json:"holder_pid"`
	CreatedAt      string   `json:"created_at"`
	LastAccessedAt string   `json:"last_accessed_at"`
	Status         string   `json:"status"`
}

// Manager operates on the sessions of one workspace.
type Manager struct {
	root string
}

// NewManager creates a manager for the workspace's .sessions directory.
func NewManager(workspace string) *Manager {
	return &Manager{root: filepath.Join(workspace, SessionsDirName)}
}

// Root returns the sessions directory.
func (m *Manager) Root() string { return m.root }

func (m *Manager) sessionDir(id string) string { return filepath.Join(m.root, id) }

func newSessionID() string {
	return "sess_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func nowISO() string { return time.Now().UTC().Format(time.RFC3339) }

func (m *Manager) readMetadata(id string) (Metadata, error) {
	var meta Metadata
	data, err := os.ReadFile(filepath.Join(m.sessionDir(id), "metadata.json"))
	if err != nil {
		return meta, fmt.Errorf("session %s: %w", id, err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("session %s: parse metadata: %w", id, err)
	}
	return meta, nil
}

func (m *Manager) writeMetadata(meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session metadata: %w", err)
	}
	data = append(data, '\n')
	path := filepath.Join(m.sessionDir(meta.SessionID), "metadata.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session metadata: %w", err)
	}
	return os.Rename(tmp, path)
}

// List returns metadata for every session in the workspace, with status
// refreshed by a liveness check on the recorded PID.
func (m *Manager) List() ([]Metadata, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan sessions: %w", err)
	}
	var metas []Metadata
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := m.readMetadata(e.Name())
		if err != nil {
			continue
		}
		if meta.Status == StatusRunning && !processAlive(meta.PID) {
			meta.Status = StatusDead
			_ = m.writeMetadata(meta)
		}
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].SessionID < metas[j].SessionID })
	return metas, nil
}

// CleanupAll ends every running session in the workspace. Errors on
// individual sessions are collected but do not stop the sweep.
func (m *Manager) CleanupAll() error {
	metas, err := m.List()
	if err != nil {
		return err
	}
	var firstErr error
	for _, meta := range metas {
		if meta.Status != StatusRunning {
			continue
		}
		if err := m.End(meta.SessionID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
