package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSchema(t *testing.T, dir string) {
	t.Helper()
	src := `type: Toggle: {
	attr: {
		A: {kind: "string", default: "a", active_when: {field: "B", equals: 1}}
		B: {kind: "int", default: 0}
	}
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "toggle.cue"), []byte(src), 0644))
}

func TestLoadScenario_ResolvesSchemaRelativeToFile(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/optional_attribute_toggle.yaml")
	require.NoError(t, err)

	assert.Equal(t, "optional_attribute_toggle", s.Name)
	assert.Equal(t, filepath.Join("testdata", "schemas", "toggle.cue"), s.Schema)
	require.Len(t, s.Steps, 4)
	assert.Equal(t, OpNewEntity, s.Steps[0].Op)
	assert.True(t, s.Steps[0].Listen)
	assert.Equal(t, 1, s.Steps[1].Value)

	require.Len(t, s.Assertions, 3)
	assert.True(t, s.Assertions[0].Exact)
	assert.True(t, s.Assertions[1].Expect.Set)
	require.NotNil(t, s.Assertions[1].Present)
	assert.False(t, *s.Assertions[1].Present)
}

func TestParseScenario_ExplicitNullExpectation(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir)

	s, err := ParseScenario([]byte(`
name: n
description: d
schema: toggle.cue
steps:
  - {op: new_entity, type: Toggle, as: w}
assertions:
  - {type: value, entity: w, attr: A, expect: null}
`), dir)
	require.NoError(t, err)
	assert.True(t, s.Assertions[0].Expect.Set)
	assert.Nil(t, s.Assertions[0].Expect.Value)
}

func TestParseScenario_Errors(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir)

	header := "name: n\ndescription: d\nschema: toggle.cue\n"
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", header + "stepz: []\n", "field stepz not found"},
		{"missing name", "description: d\nschema: toggle.cue\nsteps: [{op: listen, target: w}]\n", "name is required"},
		{"missing schema", "name: n\ndescription: d\nsteps: [{op: listen, target: w}]\n", "schema is required"},
		{"schema not found", "name: n\ndescription: d\nschema: nope.cue\nsteps: [{op: listen, target: w}]\n", "schema not found"},
		{"no steps", header, "steps list is required"},
		{"unknown op", header + "steps: [{op: explode}]\n", `unknown op "explode"`},
		{"missing alias", header + "steps: [{op: new_entity, type: Toggle}]\n", "as is required for new_entity"},
		{"missing index", header + "steps: [{op: remove_at, collection: c}]\n", "index is required for remove_at"},
		{"negative max", header + "steps: [{op: set_limit, collection: c, max: -1}]\n", "max must be non-negative"},
		{"missing sort key", header + "steps: [{op: sort, collection: c}]\n", "by is required for sort"},
		{"unknown assertion", header + "steps: [{op: listen, target: w}]\nassertions: [{type: vibes}]\n", `unknown assertion type "vibes"`},
		{"value without expectation", header + "steps: [{op: listen, target: w}]\nassertions: [{type: value, entity: w, attr: A}]\n", "expect or present is required"},
		{"trace_count without matcher", header + "steps: [{op: listen, target: w}]\nassertions: [{type: trace_count, count: 1}]\n", "event or kind is required"},
		{"members without collection", header + "steps: [{op: listen, target: w}]\nassertions: [{type: members}]\n", "collection is required for members"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml), dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}
