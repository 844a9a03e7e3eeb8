package compose_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deltaengine/delta/internal/compose"
	"github.com/deltaengine/delta/internal/journal"
	"github.com/deltaengine/delta/internal/llm"
	"github.com/deltaengine/delta/internal/run"
)

func mustPayload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestReconstructMessages_Mapping(t *testing.T) {
	events := []journal.Event{
		{Seq: 1, Type: journal.EventRunStart, Payload: mustPayload(t, journal.RunStartPayload{Task: "t"})},
		{Seq: 2, Type: journal.EventUserMessage, Payload: mustPayload(t, journal.UserMessagePayload{Content: "do it"})},
		{Seq: 3, Type: journal.EventThought, Payload: mustPayload(t, journal.ThoughtPayload{
			Content:   "on it",
			ToolCalls: json.RawMessage(`[{"id":"call_1"}]`),
		})},
		{Seq: 4, Type: journal.EventActionResult, Payload: mustPayload(t, journal.ActionResultPayload{
			ActionID:           "call_1",
			Status:             journal.ActionSuccess,
			ObservationContent: "ok",
		})},
		{Seq: 5, Type: journal.EventSystemMessage, Payload: mustPayload(t, journal.SystemMessagePayload{Level: journal.LevelWarn, Content: "noise"})},
	}

	messages := compose.ReconstructMessages(events)
	require.Len(t, messages, 3, "bookkeeping events are skipped")

	require.Equal(t, llm.RoleUser, messages[0].Role)
	require.Equal(t, "do it", messages[0].Content)

	require.Equal(t, llm.RoleAssistant, messages[1].Role)
	require.JSONEq(t, `[{"id":"call_1"}]`, string(messages[1].ToolCalls))

	require.Equal(t, llm.RoleTool, messages[2].Role)
	require.Equal(t, "call_1", messages[2].ToolCallID)
}

func TestReconstructMessages_Deterministic(t *testing.T) {
	events := []journal.Event{
		{Seq: 1, Type: journal.EventUserMessage, Payload: mustPayload(t, journal.UserMessagePayload{Content: "a"})},
		{Seq: 2, Type: journal.EventThought, Payload: mustPayload(t, journal.ThoughtPayload{Content: "b"})},
	}
	first := compose.ReconstructMessages(events)
	second := compose.ReconstructMessages(events)
	require.Equal(t, first, second)
}

func TestCompose_FileSource(t *testing.T) {
	agentHome := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(agentHome, "knowledge.md"), []byte("domain facts"), 0o644))

	env := newComposeEnv(t, agentHome)
	m := manifest(t, compose.Source{
		Type: compose.SourceFile,
		Path: "${AGENT_HOME}/knowledge.md",
	})

	messages, err := compose.NewComposer(nil).Compose(context.Background(), m, env)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, llm.RoleSystem, messages[0].Role)
	require.Equal(t, "domain facts", messages[0].Content)
}

func TestCompose_FileSourceMissing(t *testing.T) {
	env := newComposeEnv(t, t.TempDir())

	t.Run("on_missing error fails composition", func(t *testing.T) {
		m := manifest(t, compose.Source{
			Type:      compose.SourceFile,
			Path:      "${AGENT_HOME}/absent.md",
			OnMissing: compose.OnMissingError,
		})
		_, err := compose.NewComposer(nil).Compose(context.Background(), m, env)
		require.Error(t, err)
	})

	t.Run("on_missing skip yields no message", func(t *testing.T) {
		m := manifest(t, compose.Source{
			Type:      compose.SourceFile,
			Path:      "${AGENT_HOME}/absent.md",
			OnMissing: compose.OnMissingSkip,
		})
		messages, err := compose.NewComposer(nil).Compose(context.Background(), m, env)
		require.NoError(t, err)
		require.Empty(t, messages)
	})
}

func TestCompose_ComputedFileSource(t *testing.T) {
	agentHome := t.TempDir()
	env := newComposeEnv(t, agentHome)
	out := filepath.Join(env.Workspace, "generated.md")

	m := manifest(t, compose.Source{
		Type:       compose.SourceComputedFile,
		Command:    []string{"sh", "-c", "printf generated > " + out},
		OutputPath: out,
	})

	messages, err := compose.NewComposer(nil).Compose(context.Background(), m, env)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "generated", messages[0].Content)
}

func TestCompose_GeneratorFailureFailsComposition(t *testing.T) {
	env := newComposeEnv(t, t.TempDir())
	m := manifest(t, compose.Source{
		Type:       compose.SourceComputedFile,
		Command:    []string{"sh", "-c", "exit 7"},
		OutputPath: filepath.Join(env.Workspace, "never.md"),
	})

	_, err := compose.NewComposer(nil).Compose(context.Background(), m, env)
	require.Error(t, err)
}

func TestDefaultManifest_JournalOnly(t *testing.T) {
	m := compose.DefaultManifest()
	require.Len(t, m.Sources, 1)
	require.Equal(t, compose.SourceJournal, m.Sources[0].Type)
}

func TestNormalize_AppendsJournalSource(t *testing.T) {
	m := compose.Manifest{Sources: []compose.Source{{
		Type: compose.SourceFile,
		Path: "x.md",
	}}}
	normalized, err := m.Normalize()
	require.NoError(t, err)
	require.Equal(t, compose.SourceJournal, normalized.Sources[len(normalized.Sources)-1].Type)
}

// manifest wraps sources plus the mandatory journal source.
func manifest(t *testing.T, sources ...compose.Source) compose.Manifest {
	t.Helper()
	m := compose.Manifest{Sources: sources}
	normalized, err := m.Normalize()
	require.NoError(t, err)
	return normalized
}

func newComposeEnv(t *testing.T, agentHome string) compose.Env {
	t.Helper()
	ws := t.TempDir()
	store, err := journal.Create(ws, "20260101_000000_aaaaaa", run.Metadata{RunID: "20260101_000000_aaaaaa"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return compose.Env{
		AgentHome: agentHome,
		Workspace: ws,
		RunID:     store.RunID(),
		Store:     store,
	}
}
