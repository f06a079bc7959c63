package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tessera/internal/core"
	"github.com/roach88/tessera/internal/model"
	"github.com/roach88/tessera/internal/store"
)

func loadAndRun(t *testing.T, name string, opts ...Option) *Result {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	result, err := Run(context.Background(), s, opts...)
	require.NoError(t, err)
	return result
}

func TestRun_Scenarios(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, matches)

	for _, path := range matches {
		t.Run(filepath.Base(path), func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)
			result, err := Run(context.Background(), s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func inlineScenario(t *testing.T, steps string, assertions string) *Scenario {
	t.Helper()
	dir := t.TempDir()
	writeSchema(t, dir)
	s, err := ParseScenario([]byte("name: inline\ndescription: d\nschema: toggle.cue\nsteps:\n"+steps+assertions), dir)
	require.NoError(t, err)
	return s
}

func TestRun_UnexpectedStepErrorStopsRun(t *testing.T) {
	s := inlineScenario(t, `
  - {op: new_entity, type: Toggle, as: w, listen: true}
  - {op: set, entity: w, attr: B, value: "one"}
  - {op: set, entity: w, attr: B, value: 1}
`, "")

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "steps[1] set")
	assert.Contains(t, result.Errors[0], "TYPE_MISMATCH")
	assert.Empty(t, result.Trace)
}

func TestRun_ExpectErrorMismatch(t *testing.T) {
	s := inlineScenario(t, `
  - {op: new_entity, type: Toggle, as: w}
  - {op: set, entity: w, attr: B, value: 1, expect_error: NULL_NOT_ALLOWED}
`, "")

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "expected NULL_NOT_ALLOWED, got success")
}

func TestRun_UnknownAlias(t *testing.T) {
	s := inlineScenario(t, `
  - {op: listen, target: ghost}
`, "")

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], `unknown alias "ghost"`)
}

func TestRun_FailedAssertionReported(t *testing.T) {
	s := inlineScenario(t, `
  - {op: new_entity, type: Toggle, as: w, listen: true}
  - {op: set, entity: w, attr: B, value: 1}
`, `assertions:
  - {type: trace_count, kind: ValueChanged, count: 2}
`)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Assertion failed: trace_count")
	assert.Contains(t, result.Errors[0], "[2] w ValueChanged(B, 0, 1)")
}

func TestRun_SchemaLoadFailure(t *testing.T) {
	s := &Scenario{Name: "broken", Schema: filepath.Join(t.TempDir(), "absent.cue")}
	_, err := Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load schema")
}

func TestRun_JournalsTracedEvents(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "scenarios.db"))
	require.NoError(t, err)
	defer st.Close()

	result := loadAndRun(t, "optional_attribute_toggle", WithStore(st))
	require.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, DefaultSession, result.Session)

	entries, err := st.ReadJournal(ctx, DefaultSession)
	require.NoError(t, err)
	require.Len(t, entries, len(result.Trace))
	assert.Equal(t, "AttributeRemoved", entries[2].Kind)
	assert.Equal(t, "A", entries[2].Attr)
	assert.Equal(t, `"a"`, entries[2].Old)

	// A second run of the same session continues its sequence.
	loadAndRun(t, "optional_attribute_toggle", WithStore(st))
	entries, err = st.ReadJournal(ctx, DefaultSession)
	require.NoError(t, err)
	require.Len(t, entries, 2*len(result.Trace))
	assert.Equal(t, int64(8), entries[7].Seq)
}

func TestRun_FinalStateOrderedByAlias(t *testing.T) {
	result := loadAndRun(t, "collection_remove_at")
	require.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.Entities, 3)
	assert.Equal(t, []string{"first", "second", "third"},
		[]string{result.Entities[0].Alias, result.Entities[1].Alias, result.Entities[2].Alias})
	assert.Equal(t, "Item", result.Entities[1].Type)
	assert.Equal(t, "collection_remove_at-2", result.Entities[1].ID)
	assert.Equal(t, model.Int(0), result.Entities[1].Values["rank"])
}

func TestRun_StatisticsUseRuntimeCapacity(t *testing.T) {
	s := inlineScenario(t, `
  - {op: new_entity, type: Toggle, as: w}
  - {op: enable_statistics, entity: w, attr: B}
  - {op: set, entity: w, attr: B, value: 1}
  - {op: set, entity: w, attr: B, value: 2}
  - {op: set, entity: w, attr: B, value: 3}
`, `assertions:
  - {type: samples, entity: w, attr: B, count: 2}
`)

	result, err := Run(context.Background(), s, WithRuntimeOptions(core.WithStatCapacity(2)))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_SamplesWithoutStatistics(t *testing.T) {
	s := inlineScenario(t, `
  - {op: new_entity, type: Toggle, as: w}
`, `assertions:
  - {type: samples, entity: w, attr: B, count: 0}
`)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "statistics not enabled for w.B")
}
