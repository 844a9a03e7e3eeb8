package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/deltaengine/delta/internal/config"
)

func TestLoadEnv_WorkspaceWins(t *testing.T) {
	workspace := t.TempDir()
	agentHome := t.TempDir()

	if err := os.WriteFile(filepath.Join(workspace, ".env"), []byte("DELTA_TEST_VAR=from_workspace\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(agentHome, ".env"), []byte("DELTA_TEST_VAR=from_agent\nDELTA_TEST_ONLY_AGENT=yes\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	os.Unsetenv("DELTA_TEST_VAR")
	os.Unsetenv("DELTA_TEST_ONLY_AGENT")
	t.Cleanup(func() {
		os.Unsetenv("DELTA_TEST_VAR")
		os.Unsetenv("DELTA_TEST_ONLY_AGENT")
	})

	loaded := config.LoadEnv(workspace, agentHome)

	if len(loaded) != 2 {
		t.Errorf("loaded %v, want both .env files", loaded)
	}
	if got := os.Getenv("DELTA_TEST_VAR"); got != "from_workspace" {
		t.Errorf("DELTA_TEST_VAR = %q, workspace must win", got)
	}
	if got := os.Getenv("DELTA_TEST_ONLY_AGENT"); got != "yes" {
		t.Errorf("DELTA_TEST_ONLY_AGENT = %q, agent home should fill the gap", got)
	}
}

func TestLoadEnv_ProcessEnvNeverOverridden(t *testing.T) {
	workspace := t.TempDir()
	if err := os.WriteFile(filepath.Join(workspace, ".env"), []byte("DELTA_TEST_SHELL=from_file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DELTA_TEST_SHELL", "from_shell")

	config.LoadEnv(workspace, "")

	if got := os.Getenv("DELTA_TEST_SHELL"); got != "from_shell" {
		t.Errorf("DELTA_TEST_SHELL = %q, shell value must survive", got)
	}
}

func TestLoadEnv_NoFiles(t *testing.T) {
	loaded := config.LoadEnv(t.TempDir(), t.TempDir())
	if len(loaded) != 0 {
		t.Errorf("loaded = %v, want none", loaded)
	}
}
