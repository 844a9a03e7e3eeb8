package hook_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deltaengine/delta/internal/agent"
	"github.com/deltaengine/delta/internal/hook"
	"github.com/deltaengine/delta/internal/journal"
	"github.com/deltaengine/delta/internal/run"
)

func newHookExecutor(t *testing.T) (*hook.Executor, *journal.Store) {
	t.Helper()
	ws := t.TempDir()
	store, err := journal.Create(ws, "20260101_000000_cccccc", run.Metadata{RunID: "20260101_000000_cccccc"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return hook.NewExecutor(store, ws, nil), store
}

func TestExecutor_Run_Success(t *testing.T) {
	ex, store := newHookExecutor(t)

	out, err := ex.Run(context.Background(), agent.HookPreLLMReq, agent.HookSpec{
		Command: []string{"sh", "-c", "true"},
	}, map[string]string{"run_id": "r"}, []byte(`{"model":"m"}`))
	require.NoError(t, err)

	require.Equal(t, journal.HookSuccess, out.Status)
	require.Nil(t, out.FinalPayload)
	require.False(t, out.Skip)

	// Input files are materialized before the hook runs.
	ioDir := filepath.Join(store.Dir(), out.IOPathRef)
	for _, name := range []string{"input/context.json", "input/payload.json", "execution_meta/exit_code.txt"} {
		_, err := os.Stat(filepath.Join(ioDir, name))
		require.NoError(t, err, name)
	}
}

func TestExecutor_Run_PayloadOverride(t *testing.T) {
	ex, _ := newHookExecutor(t)

	out, err := ex.Run(context.Background(), agent.HookPreLLMReq, agent.HookSpec{
		Command: []string{"sh", "-c", `printf '{"model":"override"}' > "$DELTA_HOOK_IO_DIR/output/final_payload.json"`},
	}, nil, []byte(`{"model":"base"}`))
	require.NoError(t, err)

	require.Equal(t, journal.HookSuccess, out.Status)
	require.JSONEq(t, `{"model":"override"}`, string(out.FinalPayload))
}

func TestExecutor_Run_SkipControl(t *testing.T) {
	ex, _ := newHookExecutor(t)

	out, err := ex.Run(context.Background(), agent.HookPreToolExec, agent.HookSpec{
		Command: []string{"sh", "-c", `printf '{"skip":true}' > "$DELTA_HOOK_IO_DIR/output/control.json"`},
	}, nil, []byte(`{}`))
	require.NoError(t, err)

	require.True(t, out.Skip)
}

func TestExecutor_Run_FailureIsNonFatal(t *testing.T) {
	ex, store := newHookExecutor(t)

	out, err := ex.Run(context.Background(), agent.HookOnError, agent.HookSpec{
		Command: []string{"sh", "-c", "echo broken >&2; exit 9"},
	}, nil, nil)
	require.NoError(t, err, "a failing hook is not an executor error")

	require.Equal(t, journal.HookFailed, out.Status)

	code, err := os.ReadFile(filepath.Join(store.Dir(), out.IOPathRef, "execution_meta", "exit_code.txt"))
	require.NoError(t, err)
	require.Equal(t, "9", string(code))

	stderr, err := os.ReadFile(filepath.Join(store.Dir(), out.IOPathRef, "execution_meta", "stderr.log"))
	require.NoError(t, err)
	require.Equal(t, "broken\n", string(stderr))
}

func TestExecutor_Run_Timeout(t *testing.T) {
	ex, _ := newHookExecutor(t)

	out, err := ex.Run(context.Background(), agent.HookPostLLMResp, agent.HookSpec{
		Command:   []string{"sleep", "5"},
		TimeoutMS: 50,
	}, nil, nil)
	require.NoError(t, err)

	require.Equal(t, journal.HookFailed, out.Status)
}

func TestExecutor_Run_BinaryPayloadLandsAsDat(t *testing.T) {
	ex, store := newHookExecutor(t)

	out, err := ex.Run(context.Background(), agent.HookPostToolExec, agent.HookSpec{
		Command: []string{"sh", "-c", "true"},
	}, nil, []byte{0xff, 0x00, 0x01})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(store.Dir(), out.IOPathRef, "input", "payload.dat"))
	require.NoError(t, err)
}
