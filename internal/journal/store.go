package journal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/deltaengine/delta/internal/run"
)

// ControlDirName is the hidden control-plane directory inside a workspace.
const ControlDirName = ".delta"

// SchemaVersion is the control-plane schema version written to
// .delta/VERSION by the workspace manager.
const SchemaVersion = "1.2"

// ErrDuplicateRun is returned by Create when the run ID already exists in
// the workspace. Uniqueness is enforced by the fail-if-exists directory
// creation, so two concurrent creators cannot both win.
var ErrDuplicateRun = errors.New("run already exists")

// tsLayout is the ISO-8601 timestamp format used throughout the store.
const tsLayout = "2006-01-02T15:04:05.000Z07:00"

func nowISO() string { return time.Now().UTC().Format(tsLayout) }

// Store owns all writes under .delta/<run_id>/ for one run: the journal,
// the metadata document, and the artifact side-store. Journal appends are
// serialized through a single mutex so the file never contains a torn line
// produced by this process.
type Store struct {
	workspace string
	runID     string
	dir       string

	mu      sync.Mutex
	journal *os.File
	seq     int64
	hookSeq int
	closed  bool
}

// RunDir returns the control-plane directory for a run.
func RunDir(workspace, runID string) string {
	return filepath.Join(workspace, ControlDirName, runID)
}

// Create initializes the control-plane subtree for a new run and returns an
// open store. It fails with ErrDuplicateRun when the run ID is already
// taken. On any later initialization failure the partially created run
// directory is removed, so a failed creation leaves nothing behind.
func Create(workspace, runID string, meta run.Metadata) (*Store, error) {
	ctl := filepath.Join(workspace, ControlDirName)
	if err := os.MkdirAll(ctl, 0o755); err != nil {
		return nil, fmt.Errorf("create control plane: %w", err)
	}
	dir := filepath.Join(ctl, runID)
	if err := os.Mkdir(dir, 0o755); err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRun, runID)
		}
		return nil, fmt.Errorf("create run directory: %w", err)
	}

	s, err := initRunDir(workspace, runID, dir, meta)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	return s, nil
}

func initRunDir(workspace, runID, dir string, meta run.Metadata) (*Store, error) {
	for _, sub := range []string{"io", filepath.Join("io", "invocations"), filepath.Join("io", "tool_executions"), filepath.Join("io", "hooks")} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create artifact directory %s: %w", sub, err)
		}
	}
	s := &Store{workspace: workspace, runID: runID, dir: dir}
	if err := s.writeMetadata(meta); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(s.JournalPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	s.journal = f
	return s, nil
}

// Open attaches to an existing run for resumption. The current sequence
// number is recovered from the maximum seq in the journal; a torn final
// line (crash during append) is truncated away before writing resumes.
func Open(workspace, runID string) (*Store, error) {
	dir := RunDir(workspace, runID)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("run %s not found in %s", runID, workspace)
	}
	s := &Store{workspace: workspace, runID: runID, dir: dir}
	if err := s.recoverJournal(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(s.JournalPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	s.journal = f
	s.hookSeq = s.countHookDirs()
	return s, nil
}

// recoverJournal scans the journal, records the max seq, and truncates a
// torn trailing line if the process crashed mid-append.
func (s *Store) recoverJournal() error {
	data, err := os.ReadFile(s.JournalPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	validEnd := 0
	for offset := 0; offset < len(data); {
		nl := bytes.IndexByte(data[offset:], '\n')
		if nl < 0 {
			break // unterminated trailing line: torn write
		}
		line := data[offset : offset+nl]
		var ev Event
		if json.Unmarshal(line, &ev) != nil {
			break // corrupt line: truncate from here
		}
		if ev.Seq > s.seq {
			s.seq = ev.Seq
		}
		offset += nl + 1
		validEnd = offset
	}
	if validEnd < len(data) {
		if err := os.Truncate(s.JournalPath(), int64(validEnd)); err != nil {
			return fmt.Errorf("truncate torn journal line: %w", err)
		}
	}
	return nil
}

func (s *Store) countHookDirs() int {
	entries, err := os.ReadDir(filepath.Join(s.dir, "io", "hooks"))
	if err != nil {
		return 0
	}
	return len(entries)
}

// Dir returns the run's control-plane directory.
func (s *Store) Dir() string { return s.dir }

// RunID returns the run identifier.
func (s *Store) RunID() string { return s.runID }

// Workspace returns the workspace the run executes in.
func (s *Store) Workspace() string { return s.workspace }

// JournalPath returns the journal file path.
func (s *Store) JournalPath() string { return filepath.Join(s.dir, "journal.jsonl") }

// MetadataPath returns the metadata file path.
func (s *Store) MetadataPath() string { return filepath.Join(s.dir, "metadata.json") }

// EngineLogPath returns the free-form diagnostic log path.
func (s *Store) EngineLogPath() string { return filepath.Join(s.dir, "engine.log") }

// InteractionDir returns the directory used for the ask-human handshake.
func (s *Store) InteractionDir() string { return filepath.Join(s.dir, "interaction") }

// AppendEvent assigns the next sequence number, stamps a timestamp, and
// appends one JSON line to the journal. The write is a single syscall
// followed by a sync, so a crash can tear at most the final line, which
// Open repairs. A failed append is fatal to the run.
func (s *Store) AppendEvent(t EventType, payload any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("append %s: store closed", t)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	ev := Event{Seq: s.seq + 1, Timestamp: nowISO(), Type: t, Payload: raw}
	line, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("marshal %s event: %w", t, err)
	}
	line = append(line, '\n')
	if _, err := s.journal.Write(line); err != nil {
		return 0, fmt.Errorf("append %s event: %w", t, err)
	}
	if err := s.journal.Sync(); err != nil {
		return 0, fmt.Errorf("sync journal: %w", err)
	}
	s.seq = ev.Seq
	return ev.Seq, nil
}

// ReadJournal deserializes all journal events in order.
func (s *Store) ReadJournal() ([]Event, error) {
	return ReadJournalFile(s.JournalPath())
}

// ReadJournalFile reads a journal without opening a store (read-only
// consumers such as list-runs).
func ReadJournalFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("corrupt journal line after seq %d: %w", lastSeq(events), err)
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}
	return events, nil
}

func lastSeq(events []Event) int64 {
	if len(events) == 0 {
		return 0
	}
	return events[len(events)-1].Seq
}

// ReadMetadata deserializes the run's metadata document.
func (s *Store) ReadMetadata() (run.Metadata, error) {
	return ReadMetadataFile(s.MetadataPath())
}

// ReadMetadataFile reads a metadata document without opening a store.
func ReadMetadataFile(path string) (run.Metadata, error) {
	var meta run.Metadata
	data, err := os.ReadFile(path)
	if err != nil {
		return meta, fmt.Errorf("read metadata: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("parse metadata: %w", err)
	}
	return meta, nil
}

// UpdateMetadata applies a mutation to the current metadata and writes the
// document back atomically (temp file + rename), so concurrent readers
// never observe a partial state.
func (s *Store) UpdateMetadata(mutate func(*run.Metadata)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, err := s.ReadMetadata()
	if err != nil {
		return err
	}
	mutate(&meta)
	return s.writeMetadata(meta)
}

func (s *Store) writeMetadata(meta run.Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	data = append(data, '\n')
	return atomicWrite(s.MetadataPath(), data)
}

// atomicWrite writes data to a temp file in the target directory, syncs,
// and renames it over the destination.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Flush makes all pending writes durable.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.journal == nil {
		return nil
	}
	return s.journal.Sync()
}

// Close flushes and closes the journal. Safe to call multiple times.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.journal == nil {
		return nil
	}
	if err := s.journal.Sync(); err != nil {
		s.journal.Close()
		return err
	}
	return s.journal.Close()
}
