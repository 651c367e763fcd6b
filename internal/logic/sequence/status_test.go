package sequence

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventKind_Text(t *testing.T) {
	for kind, name := range eventNames {
		assert.Equal(t, name, kind.String())

		data, err := json.Marshal(Event{Kind: kind})
		require.NoError(t, err)
		assert.Contains(t, string(data), `"kind":"`+name+`"`)

		var back Event
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, kind, back.Kind)
	}
	assert.Equal(t, "unknown", EventKind(99).String())

	var k EventKind
	assert.Error(t, k.UnmarshalText([]byte("exploded")))
}

func TestStatus_JSONFields(t *testing.T) {
	on := true
	data, err := json.Marshal(Status{TargetAngles: []float64{45}, ManualOverride: &on})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	for _, key := range []string{
		"active", "angle", "target_angles", "current_target_index", "output_on",
		"target_reached", "current_run", "total_runs", "complete", "manual_override",
	} {
		assert.Contains(t, m, key)
	}
	assert.Equal(t, true, m["manual_override"])
}
