package lexicon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultVocabulary(t *testing.T) {
	v := DefaultVocabulary()

	assert.Contains(t, v.Legacy(), "io")
	assert.Contains(t, v.Universal(), "prima-persona")
	assert.NotContains(t, v.Universal(), "io")
	assert.True(t, v.IsSensitive(TableWordForms))
	assert.False(t, v.IsSensitive(TableDictionary))

	for _, variant := range v.Variants() {
		assert.NotEqual(t, variant, v.FormattingVariants[variant])
	}
}

func TestUniversalIsDistinct(t *testing.T) {
	v := Vocabulary{LegacyTerms: map[string]string{"a": "x", "b": "x", "c": "y"}}
	assert.Equal(t, []string{"x", "y"}, v.Universal())
}

func TestLookupTable(t *testing.T) {
	meta, ok := LookupTable(TableWordTranslations)
	require.True(t, ok)

	tags := meta.GetColumnByName("TAGS")
	require.NotNil(t, tags)
	assert.True(t, tags.IsArray())

	metadata := meta.GetColumnByName(ColumnContextMetadata)
	require.NotNil(t, metadata)
	assert.True(t, metadata.IsJSON())
	assert.Equal(t, "public.word_translations", meta.QualifiedName())

	_, ok = LookupTable("audio_clips")
	assert.False(t, ok)
}
