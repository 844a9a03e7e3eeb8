package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/deltaengine/delta/internal/workspace"
)

// selectWorkspace resolves the workspace for a run.
//
// An explicit --work-dir is used as given (created if needed) and never
// touches LAST_USED. Otherwise the last interactively used workspace is the
// default; with --yes it is taken silently (or a first workspace is
// created), without --yes the user picks from a list. Only interactive
// selections update LAST_USED.
func selectWorkspace(agentHome, workDir string, assumeYes bool) (string, error) {
	if workDir != "" {
		abs, err := filepath.Abs(workDir)
		if err != nil {
			return "", fmt.Errorf("resolve --work-dir: %w", err)
		}
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return "", fmt.Errorf("create work dir: %w", err)
		}
		if err := workspace.EnsureControlPlane(abs); err != nil {
			return "", err
		}
		return abs, nil
	}

	mgr := workspace.NewManager(agentHome)
	if assumeYes {
		if last := mgr.LastUsed(); last != "" {
			return last, nil
		}
		return mgr.Create()
	}

	names, err := mgr.List()
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		dir, err := mgr.Create()
		if err != nil {
			return "", err
		}
		fmt.Fprintf(os.Stderr, "Created workspace %s\n", filepath.Base(dir))
		if err := mgr.SetLastUsed(dir); err != nil {
			return "", err
		}
		return dir, nil
	}

	defaultName := filepath.Base(mgr.LastUsed())
	if defaultName == "." || defaultName == "" {
		defaultName = names[0]
	}
	fmt.Fprintln(os.Stderr, "Workspaces:")
	defaultIdx := 1
	for i, n := range names {
		fmt.Fprintf(os.Stderr, "  %d. %s\n", i+1, n)
		if n == defaultName {
			defaultIdx = i + 1
		}
	}
	fmt.Fprintf(os.Stderr, "Select workspace [%d], or 'n' for a new one: ", defaultIdx)

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read workspace selection: %w", err)
	}
	line = strings.TrimSpace(line)

	var dir string
	switch {
	case line == "":
		dir = filepath.Join(mgr.Root(), names[defaultIdx-1])
	case line == "n" || line == "N":
		dir, err = mgr.Create()
		if err != nil {
			return "", err
		}
		fmt.Fprintf(os.Stderr, "Created workspace %s\n", filepath.Base(dir))
	default:
		idx, convErr := strconv.Atoi(line)
		if convErr != nil || idx < 1 || idx > len(names) {
			return "", fmt.Errorf("invalid selection %q", line)
		}
		dir = filepath.Join(mgr.Root(), names[idx-1])
	}
	if err := mgr.SetLastUsed(dir); err != nil {
		return "", err
	}
	return dir, nil
}
