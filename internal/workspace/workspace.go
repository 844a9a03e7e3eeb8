// Package workspace manages workspace directories under an agent home:
// creation with sequential names (W001, W002, ...), the LAST_USED pointer,
// the control-plane VERSION stamp, and run discovery by directory scan.
//
// There is deliberately no "latest run" pointer: runs are discovered by
// scanning .delta/ and sorting by name, which permits concurrent runs in
// the same workspace without a central mutable file.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/deltaengine/delta/internal/journal"
	"github.com/deltaengine/delta/internal/run"
)

// lastUsedFile records the most recently interactively selected workspace.
// Explicit --work-dir selections do not update it.
const lastUsedFile = "LAST_USED"

// Manager discovers and creates workspaces under <agentHome>/workspaces/.
type Manager struct {
	agentHome string
}

// NewManager creates a manager rooted at the given agent home directory.
func NewManager(agentHome string) *Manager {
	return &Manager{agentHome: agentHome}
}

// Root returns the workspaces directory.
func (m *Manager) Root() string {
	return filepath.Join(m.agentHome, "workspaces")
}

// List returns existing workspace names in sorted order.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.Root())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan workspaces: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "W") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Create allocates the next free W<NNN> workspace and initializes its
// control plane.
func (m *Manager) Create() (string, error) {
	names, err := m.List()
	if err != nil {
		return "", err
	}
	taken := make(map[string]bool, len(names))
	for _, n := range names {
		taken[n] = true
	}
	for i := 1; i < 1000; i++ {
		name := fmt.Sprintf("W%03d", i)
		if taken[name] {
			continue
		}
		dir := filepath.Join(m.Root(), name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create workspace %s: %w", name, err)
		}
		if err := EnsureControlPlane(dir); err != nil {
			return "", err
		}
		return dir, nil
	}
	return "", fmt.Errorf("no free workspace slot under %s", m.Root())
}

// LastUsed returns the workspace path recorded by the last interactive
// selection, or empty when none is recorded or it no longer exists.
func (m *Manager) LastUsed() string {
	data, err := os.ReadFile(filepath.Join(m.Root(), lastUsedFile))
	if err != nil {
		return ""
	}
	name := strings.TrimSpace(string(data))
	if name == "" {
		return ""
	}
	dir := filepath.Join(m.Root(), name)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return ""
	}
	return dir
}

// SetLastUsed records an interactively selected workspace.
func (m *Manager) SetLastUsed(dir string) error {
	if err := os.MkdirAll(m.Root(), 0o755); err != nil {
		return fmt.Errorf("create workspaces root: %w", err)
	}
	name := filepath.Base(dir)
	path := filepath.Join(m.Root(), lastUsedFile)
	if err := os.WriteFile(path, []byte(name+"\n"), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", lastUsedFile, err)
	}
	return nil
}

// EnsureControlPlane creates the hidden .delta directory and stamps the
// schema VERSION file if it is not already present.
func EnsureControlPlane(workspace string) error {
	ctl := filepath.Join(workspace, journal.ControlDirName)
	if err := os.MkdirAll(ctl, 0o755); err != nil {
		return fmt.Errorf("create control plane: %w", err)
	}
	versionPath := filepath.Join(ctl, "VERSION")
	if _, err := os.Stat(versionPath); os.IsNotExist(err) {
		if err := os.WriteFile(versionPath, []byte(journal.SchemaVersion+"\n"), 0o644); err != nil {
			return fmt.Errorf("write VERSION: %w", err)
		}
	}
	return nil
}

// RunInfo pairs a run ID with its metadata for listing.
type RunInfo struct {
	RunID    string
	Metadata run.Metadata
}

// Runs discovers runs in a workspace, sorted by run ID. Run IDs carry a
// timestamp prefix by default, so the sort is chronological for generated
// IDs.
func Runs(workspace string) ([]RunInfo, error) {
	ctl := filepath.Join(workspace, journal.ControlDirName)
	entries, err := os.ReadDir(ctl)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan runs: %w", err)
	}
	var infos []RunInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := journal.ReadMetadataFile(filepath.Join(ctl, e.Name(), "metadata.json"))
		if err != nil {
			continue // not a run directory
		}
		infos = append(infos, RunInfo{RunID: e.Name(), Metadata: meta})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].RunID < infos[j].RunID })
	return infos, nil
}
