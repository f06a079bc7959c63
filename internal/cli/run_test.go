package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tessera/internal/store"
)

func executeRun(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRunCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRunCommandRequiresDatabase(t *testing.T) {
	dir := writeScenarioDir(t, map[string]string{"toggle": toggleScenario})

	_, err := executeRun(t, &RootOptions{Format: "text"}, filepath.Join(dir, "toggle.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no database configured")
}

func TestRunCommandScenarioNotFound(t *testing.T) {
	opts := &RootOptions{Format: "json", Database: filepath.Join(t.TempDir(), "t.db")}

	out, err := executeRun(t, opts, "/nonexistent/toggle.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNotFound)
}

func TestRunCommandJournalsEvents(t *testing.T) {
	dir := writeScenarioDir(t, map[string]string{"toggle": toggleScenario})
	dbPath := filepath.Join(dir, "tessera.db")
	opts := &RootOptions{Format: "json", Database: dbPath}

	out, err := executeRun(t, opts, filepath.Join(dir, "toggle.yaml"), "--session", "demo")
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "toggle", resp.Data.Scenario)
	assert.Equal(t, "demo", resp.Data.Session)
	assert.True(t, resp.Data.Pass)
	assert.Equal(t, 2, resp.Data.Events)
	require.Len(t, resp.Data.Snapshots, 1)
	assert.Equal(t, "w", resp.Data.Snapshots[0].Alias)
	assert.NotEmpty(t, resp.Data.Snapshots[0].ID)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	entries, err := st.ReadJournal(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "AttributeAdded", entries[0].Kind)
	assert.Equal(t, "ValueChanged", entries[1].Kind)
	assert.Equal(t, "B", entries[1].Attr)

	ids, err := st.SnapshotsFor(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, []string{resp.Data.Snapshots[0].ID}, ids)
}

func TestRunCommandDefaultSessionText(t *testing.T) {
	dir := writeScenarioDir(t, map[string]string{"toggle": toggleScenario})
	opts := &RootOptions{Format: "text", Database: filepath.Join(dir, "tessera.db")}

	out, err := executeRun(t, opts, filepath.Join(dir, "toggle.yaml"), "--snapshots=false")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ toggle")
	assert.Contains(t, out, "Session: test-session-default")
	assert.Contains(t, out, "Events:  2")
	assert.NotContains(t, out, "Snapshot")
}

func TestRunCommandRerunContinuesSession(t *testing.T) {
	dir := writeScenarioDir(t, map[string]string{"toggle": toggleScenario})
	dbPath := filepath.Join(dir, "tessera.db")
	opts := &RootOptions{Format: "json", Database: dbPath}

	for range 2 {
		_, err := executeRun(t, opts, filepath.Join(dir, "toggle.yaml"), "--session", "again")
		require.NoError(t, err)
	}

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	entries, err := st.ReadJournal(context.Background(), "again")
	require.NoError(t, err)
	require.Len(t, entries, 4)
	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.Seq)
	}
}

func TestRunCommandFailingScenario(t *testing.T) {
	dir := writeScenarioDir(t, map[string]string{"failing": failingScenario})
	opts := &RootOptions{Format: "text", Database: filepath.Join(dir, "tessera.db")}

	out, err := executeRun(t, opts, filepath.Join(dir, "failing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ failing")
}
