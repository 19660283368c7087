package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestTransformationYAMLKeepsMappingOrder(t *testing.T) {
	src := `
type: array_replace
mappings:
  tu: seconda-persona
  io: prima-persona
  lui: terza-persona
`
	var tr Transformation
	require.NoError(t, yaml.Unmarshal([]byte(src), &tr))

	assert.Equal(t, TransformArrayReplace, tr.Type)
	require.NotNil(t, tr.Replace)
	assert.Nil(t, tr.Merge)
	assert.Nil(t, tr.Custom)
	assert.Equal(t, []string{"tu", "io", "lui"}, tr.Mappings().Froms())
	assert.NoError(t, tr.Validate())
}

func TestTransformationYAMLListForm(t *testing.T) {
	src := `
type: value_replace
mappings:
  - from: Masculine
    to: masculine
`
	var tr Transformation
	require.NoError(t, yaml.Unmarshal([]byte(src), &tr))
	assert.Equal(t, Mappings{{From: "Masculine", To: "masculine"}}, tr.Mappings())
}

func TestTransformationYAMLRejectsForeignFields(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"mappings on merge", "type: json_merge\nmappings:\n  a: b\n"},
		{"additions on replace", "type: array_replace\nadditions:\n  a: b\n"},
		{"query on replace", "type: array_replace\ncustomQuery: SELECT 1\n"},
		{"unknown type", "type: shuffle\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tr Transformation
			assert.Error(t, yaml.Unmarshal([]byte(tt.src), &tr))
		})
	}
}

func TestTransformationJSONMergeDefaultsAdditions(t *testing.T) {
	var tr Transformation
	require.NoError(t, yaml.Unmarshal([]byte("type: json_add\n"), &tr))
	require.NotNil(t, tr.Merge)
	assert.NotNil(t, tr.Additions())
	assert.NoError(t, tr.Validate())
}

func TestTransformationJSONShape(t *testing.T) {
	tr := NewJSONMerge(map[string]any{"auxiliary": "avere"})
	data, err := json.Marshal(tr)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"json_merge","additions":{"auxiliary":"avere"}}`, string(data))

	var back Transformation
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "avere", back.Additions()["auxiliary"])
}

func TestTransformationValidate(t *testing.T) {
	assert.Error(t, NewArrayReplace().Validate())
	assert.Error(t, NewCustomTransformation("").Validate())
	assert.NoError(t, NewCustomTransformation("SELECT 1").Validate())

	both := NewArrayReplace(Mapping{From: "a", To: "b"})
	both.Merge = &MergeSpec{}
	assert.Error(t, both.Validate())
}

func TestMappingsCollision(t *testing.T) {
	injective := Mappings{{From: "io", To: "prima-persona"}, {From: "tu", To: "seconda-persona"}}
	_, _, ok := injective.Collision()
	assert.False(t, ok)

	lossy := Mappings{{From: "Plurale", To: "plurale"}, {From: "PLURALE", To: "plurale"}}
	first, second, ok := lossy.Collision()
	assert.True(t, ok)
	assert.Equal(t, "Plurale", first)
	assert.Equal(t, "PLURALE", second)
}

func TestMappingsDuplicateFrom(t *testing.T) {
	dup, ok := Mappings{{From: "io", To: "a"}, {From: "io", To: "b"}}.DuplicateFrom()
	assert.True(t, ok)
	assert.Equal(t, "io", dup)
}

func TestPatternValueStrings(t *testing.T) {
	assert.Nil(t, Pattern{}.ValueStrings())
	assert.Equal(t, []string{"auxiliary"}, Pattern{Value: "auxiliary"}.ValueStrings())
	assert.Equal(t, []string{"a", "1"}, Pattern{Value: []any{"a", 1}}.ValueStrings())
}

func TestRuleNeedsBackup(t *testing.T) {
	assert.False(t, Rule{RollbackStrategy: RollbackStrategy{Type: RollbackReverse}}.NeedsBackup())
	assert.True(t, Rule{RollbackStrategy: RollbackStrategy{Type: RollbackBackup}}.NeedsBackup())
	assert.True(t, Rule{RollbackStrategy: RollbackStrategy{Type: RollbackReverse, RetainBackup: true}}.NeedsBackup())
	assert.True(t, Rule{
		RollbackStrategy: RollbackStrategy{Type: RollbackReverse},
		SafetyChecks:     []SafetyCheck{{Type: CheckBackupTable}},
	}.NeedsBackup())
}

func TestPriorityRank(t *testing.T) {
	assert.Less(t, PriorityCritical.Rank(), PriorityHigh.Rank())
	assert.Less(t, PriorityHigh.Rank(), PriorityMedium.Rank())
	assert.Less(t, PriorityMedium.Rank(), PriorityLow.Rank())
	assert.False(t, Priority("urgent").Valid())
}
