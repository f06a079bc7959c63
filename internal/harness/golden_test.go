package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden(t *testing.T) {
	for _, name := range []string{
		"optional_attribute_toggle",
		"collection_remove_at",
		"fifo_eviction",
	} {
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
			require.NoError(t, err)

			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestMarshalTrace_Canonical(t *testing.T) {
	data, err := MarshalTrace("s", []TraceEvent{
		{Seq: 1, Source: "w", Event: `AttributeRemoved(A, "a")`},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario_name":"s","trace":[{"event":"AttributeRemoved(A, \"a\")","seq":1,"source":"w"}]}`,
		string(data))
}

func TestMarshalTrace_Empty(t *testing.T) {
	data, err := MarshalTrace("s", nil)
	require.NoError(t, err)
	assert.Equal(t, `{"scenario_name":"s","trace":[]}`, string(data))
}
