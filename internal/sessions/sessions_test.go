//go:build unix

package sessions

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSession(t *testing.T, m *Manager, meta Metadata) {
	t.Helper()
	if err := os.MkdirAll(m.sessionDir(meta.SessionID), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := m.writeMetadata(meta); err != nil {
		t.Fatal(err)
	}
}

func TestManager_List_Empty(t *testing.T) {
	m := NewManager(t.TempDir())
	metas, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 0 {
		t.Errorf("expected no sessions, got %d", len(metas))
	}
}

func TestManager_List_RefreshesDeadSessions(t *testing.T) {
	m := NewManager(t.TempDir())
	writeSession(t, m, Metadata{
		SessionID: "sess_dead00000000",
		Command:   []string{"bash"},
		PID:       1 << 30, // almost certainly not a live PID
		Status:    StatusRunning,
	})
	writeSession(t, m, Metadata{
		SessionID: "sess_self00000000",
		Command:   []string{"bash"},
		PID:       os.Getpid(),
		Status:    StatusRunning,
	})

	metas, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 2 {
		t.Fatalf("got %d sessions", len(metas))
	}
	byID := map[string]Metadata{}
	for _, meta := range metas {
		byID[meta.SessionID] = meta
	}
	if byID["sess_dead00000000"].Status != StatusDead {
		t.Error("dead PID should flip the session to dead")
	}
	if byID["sess_self00000000"].Status != StatusRunning {
		t.Error("live PID should stay running")
	}
}

func TestManager_MetadataRoundTrip(t *testing.T) {
	m := NewManager(t.TempDir())
	meta := Metadata{
		SessionID: "sess_abc123def456",
		Command:   []string{"python3", "-i"},
		PID:       123,
		HolderPID: 122,
		Status:    StatusRunning,
	}
	writeSession(t, m, meta)

	got, err := m.readMetadata(meta.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if got.SessionID != meta.SessionID || got.PID != 123 || got.HolderPID != 122 {
		t.Errorf("round trip = %+v", got)
	}

	// The write is atomic: no .tmp file left behind.
	matches, err := filepath.Glob(filepath.Join(m.sessionDir(meta.SessionID), "*.tmp"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
}

func TestNewSessionID_Format(t *testing.T) {
	id := newSessionID()
	if len(id) != len("sess_")+12 {
		t.Errorf("id = %q", id)
	}
	if id[:5] != "sess_" {
		t.Errorf("id = %q", id)
	}
}
