// Package lexicon describes the dictionary tables the migration rules operate
// on and the tag vocabulary used to judge their quality.
package lexicon

import (
	"sort"

	"github.com/David-Botos/lexicon-migrate/pkg/model"
)

// Table names
const (
	TableDictionary       = "dictionary"
	TableWordForms        = "word_forms"
	TableWordTranslations = "word_translations"
	TableFormTranslations = "form_translations"
)

// Column names shared by the lexicon tables
const (
	ColumnID              = "id"
	ColumnTags            = "tags"
	ColumnContextMetadata = "context_metadata"
)

// Required context_metadata keys
const (
	KeyAuxiliary    = "auxiliary"
	KeyTransitivity = "transitivity"
)

// Tables returns metadata for the four lexicon tables
func Tables() []model.TableMetadata {
	return []model.TableMetadata{
		table(TableDictionary, model.Column{Name: "italian", DataType: "text"}),
		table(TableWordForms, model.Column{Name: "word_id", DataType: "uuid"}, model.Column{Name: "form_text", DataType: "text"}),
		table(TableWordTranslations, model.Column{Name: "word_id", DataType: "uuid"}, model.Column{Name: "translation", DataType: "text"}),
		table(TableFormTranslations, model.Column{Name: "form_id", DataType: "uuid"}, model.Column{Name: "translation_id", DataType: "uuid"}),
	}
}

func table(name string, extra ...model.Column) model.TableMetadata {
	cols := []model.Column{
		{Name: ColumnID, DataType: "uuid", IsPrimaryKey: true},
		{Name: ColumnTags, DataType: "text[]", Nullable: true},
		{Name: ColumnContextMetadata, DataType: "jsonb", Nullable: true},
	}
	return model.TableMetadata{
		Schema:      "public",
		Table:       name,
		Columns:     append(cols, extra...),
		PrimaryKeys: []string{ColumnID},
	}
}

// LookupTable returns metadata for a lexicon table
func LookupTable(name string) (model.TableMetadata, bool) {
	for _, t := range Tables() {
		if t.Table == name {
			return t, true
		}
	}
	return model.TableMetadata{}, false
}

// Vocabulary is the tag knowledge the analyzer and safety checks rely on
type Vocabulary struct {
	// LegacyTerms maps legacy person pronoun tags to universal terminology
	LegacyTerms map[string]string
	// DeprecatedTags maps retired tags to their replacements
	DeprecatedTags map[string]string
	// FormattingVariants maps non-canonical spellings to the canonical tag
	FormattingVariants map[string]string
	// SensitiveTables hold linguistically sensitive data
	SensitiveTables []string

	TerminologyTable string
	MetadataTable    string
	CleanupTable     string
}

// DefaultVocabulary returns the vocabulary for the Italian dictionary
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		LegacyTerms: map[string]string{
			"io":   "prima-persona",
			"tu":   "seconda-persona",
			"lui":  "terza-persona",
			"lei":  "terza-persona-femminile",
			"noi":  "prima-persona-plurale",
			"voi":  "seconda-persona-plurale",
			"loro": "terza-persona-plurale",
		},
		DeprecatedTags: map[string]string{
			"irregular-verb":  "irregolare",
			"reflexive-verb":  "riflessivo",
			"past-participle": "participio-passato",
			"gerund":          "gerundio",
		},
		FormattingVariants: map[string]string{
			"presente_indicativo": "presente-indicativo",
			"passato_prossimo":    "passato-prossimo",
			"Plurale":             "plurale",
			"PLURALE":             "plurale",
			"Singolare":           "singolare",
		},
		SensitiveTables:  []string{TableWordForms, TableFormTranslations},
		TerminologyTable: TableWordForms,
		MetadataTable:    TableWordTranslations,
		CleanupTable:     TableDictionary,
	}
}

// Legacy returns the legacy terms, sorted
func (v Vocabulary) Legacy() []string {
	return sortedKeys(v.LegacyTerms)
}

// Universal returns the distinct universal terms, sorted
func (v Vocabulary) Universal() []string {
	return sortedValues(v.LegacyTerms)
}

// Deprecated returns the deprecated tags, sorted
func (v Vocabulary) Deprecated() []string {
	return sortedKeys(v.DeprecatedTags)
}

// Variants returns the non-canonical formatting variants, sorted
func (v Vocabulary) Variants() []string {
	return sortedKeys(v.FormattingVariants)
}

// IsSensitive reports whether a table holds linguistically sensitive data
func (v Vocabulary) IsSensitive(table string) bool {
	for _, t := range v.SensitiveTables {
		if t == table {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedValues(m map[string]string) []string {
	seen := make(map[string]struct{}, len(m))
	out := make([]string, 0, len(m))
	for _, v := range m {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
