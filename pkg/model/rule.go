package model

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Category groups rules by the data-quality dimension they address
type Category string

const (
	CategoryTerminology Category = "terminology"
	CategoryMetadata    Category = "metadata"
	CategoryCleanup     Category = "cleanup"
	CategoryStructure   Category = "structure"
	CategoryCustom      Category = "custom"
)

// Valid reports whether c is a known category
func (c Category) Valid() bool {
	switch c {
	case CategoryTerminology, CategoryMetadata, CategoryCleanup, CategoryStructure, CategoryCustom:
		return true
	}
	return false
}

// Priority drives recommendation ordering and never changes at runtime
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank orders priorities, lowest rank first (critical = 0)
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// Valid reports whether p is a known priority
func (p Priority) Valid() bool {
	return p.Rank() < 4
}

// ConditionType selects how a pattern finds candidate records
type ConditionType string

const (
	ConditionArrayContains ConditionType = "array_contains"
	ConditionMissingKey    ConditionType = "missing_key"
	ConditionEquals        ConditionType = "equals"
	ConditionRegex         ConditionType = "regex"
	ConditionCustom        ConditionType = "custom"
)

// Valid reports whether c is a known condition
func (c ConditionType) Valid() bool {
	switch c {
	case ConditionArrayContains, ConditionMissingKey, ConditionEquals, ConditionRegex, ConditionCustom:
		return true
	}
	return false
}

// Pattern declares how to find the records a rule would affect
type Pattern struct {
	Table       string        `yaml:"table" json:"table"`
	Column      string        `yaml:"column" json:"column"`
	Condition   ConditionType `yaml:"condition" json:"condition"`
	Value       any           `yaml:"value,omitempty" json:"value,omitempty"`
	CustomQuery string        `yaml:"customQuery,omitempty" json:"customQuery,omitempty"`
}

// ValueStrings returns the pattern value as a list of strings.
// Scalars become a one-element list; nil becomes an empty list.
func (p Pattern) ValueStrings() []string {
	switch v := p.Value.(type) {
	case nil:
		return nil
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return []string{fmt.Sprint(v)}
	}
}

// TransformationType selects the payload carried by a Transformation
type TransformationType string

const (
	TransformArrayReplace TransformationType = "array_replace"
	TransformJSONMerge    TransformationType = "json_merge"
	TransformJSONAdd      TransformationType = "json_add"
	TransformValueReplace TransformationType = "value_replace"
	TransformCustom       TransformationType = "custom"
)

// IsJSON reports whether the transformation merges into a JSON column
func (t TransformationType) IsJSON() bool {
	return t == TransformJSONMerge || t == TransformJSONAdd
}

// Mapping is one old-value to new-value replacement
type Mapping struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
}

// Mappings keeps replacement pairs in declaration order
type Mappings []Mapping

// UnmarshalYAML accepts either an ordered YAML mapping (old: new) or a
// sequence of {from, to} pairs.
func (m *Mappings) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		out := make(Mappings, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			var pair Mapping
			if err := node.Content[i].Decode(&pair.From); err != nil {
				return fmt.Errorf("invalid mapping key at line %d: %w", node.Content[i].Line, err)
			}
			if err := node.Content[i+1].Decode(&pair.To); err != nil {
				return fmt.Errorf("invalid mapping value at line %d: %w", node.Content[i+1].Line, err)
			}
			out = append(out, pair)
		}
		*m = out
		return nil
	case yaml.SequenceNode:
		var pairs []Mapping
		if err := node.Decode(&pairs); err != nil {
			return err
		}
		*m = pairs
		return nil
	default:
		return fmt.Errorf("mappings at line %d must be a mapping or a list", node.Line)
	}
}

// Froms returns the old values in declaration order
func (m Mappings) Froms() []string {
	out := make([]string, 0, len(m))
	for _, pair := range m {
		out = append(out, pair.From)
	}
	return out
}

// DuplicateFrom returns the first old value declared twice
func (m Mappings) DuplicateFrom() (string, bool) {
	seen := make(map[string]struct{}, len(m))
	for _, pair := range m {
		if _, ok := seen[pair.From]; ok {
			return pair.From, true
		}
		seen[pair.From] = struct{}{}
	}
	return "", false
}

// Collision returns two distinct old values that share a new value.
// ok is false when the mapping is injective.
func (m Mappings) Collision() (first, second string, ok bool) {
	byTarget := make(map[string]string, len(m))
	for _, pair := range m {
		if prev, exists := byTarget[pair.To]; exists && prev != pair.From {
			return prev, pair.From, true
		}
		byTarget[pair.To] = pair.From
	}
	return "", "", false
}

// ReplaceSpec is the payload of array_replace and value_replace
type ReplaceSpec struct {
	Mappings Mappings
}

// MergeSpec is the payload of json_merge and json_add
type MergeSpec struct {
	Additions map[string]any
}

// CustomSpec is the payload of custom transformations
type CustomSpec struct {
	Query string
}

// Transformation is a tagged union over Type. Exactly one payload is set and
// it always matches Type.
type Transformation struct {
	Type    TransformationType
	Replace *ReplaceSpec
	Merge   *MergeSpec
	Custom  *CustomSpec
}

// NewArrayReplace builds an array_replace transformation
func NewArrayReplace(mappings ...Mapping) Transformation {
	return Transformation{Type: TransformArrayReplace, Replace: &ReplaceSpec{Mappings: mappings}}
}

// NewValueReplace builds a value_replace transformation
func NewValueReplace(from, to string) Transformation {
	return Transformation{Type: TransformValueReplace, Replace: &ReplaceSpec{Mappings: Mappings{{From: from, To: to}}}}
}

// NewJSONMerge builds a json_merge transformation
func NewJSONMerge(additions map[string]any) Transformation {
	return Transformation{Type: TransformJSONMerge, Merge: &MergeSpec{Additions: additions}}
}

// NewJSONAdd builds a json_add transformation
func NewJSONAdd(additions map[string]any) Transformation {
	return Transformation{Type: TransformJSONAdd, Merge: &MergeSpec{Additions: additions}}
}

// NewCustomTransformation builds a custom transformation
func NewCustomTransformation(query string) Transformation {
	return Transformation{Type: TransformCustom, Custom: &CustomSpec{Query: query}}
}

// Mappings returns the replacement pairs, or nil for non-replace types
func (t Transformation) Mappings() Mappings {
	if t.Replace == nil {
		return nil
	}
	return t.Replace.Mappings
}

// Additions returns the JSON additions, or nil for non-merge types
func (t Transformation) Additions() map[string]any {
	if t.Merge == nil {
		return nil
	}
	return t.Merge.Additions
}

// CustomQuery returns the raw query of a custom transformation
func (t Transformation) CustomQuery() string {
	if t.Custom == nil {
		return ""
	}
	return t.Custom.Query
}

// Validate checks that the payload matches Type
func (t Transformation) Validate() error {
	set := 0
	for _, present := range []bool{t.Replace != nil, t.Merge != nil, t.Custom != nil} {
		if present {
			set++
		}
	}
	if set > 1 {
		return fmt.Errorf("transformation %q carries more than one payload", t.Type)
	}

	switch t.Type {
	case TransformArrayReplace, TransformValueReplace:
		if t.Replace == nil || len(t.Replace.Mappings) == 0 {
			return fmt.Errorf("%s transformation requires non-empty mappings", t.Type)
		}
	case TransformJSONMerge, TransformJSONAdd:
		if t.Merge == nil {
			return fmt.Errorf("%s transformation requires an additions payload", t.Type)
		}
	case TransformCustom:
		if t.Custom == nil || t.Custom.Query == "" {
			return fmt.Errorf("custom transformation requires customQuery")
		}
	default:
		return fmt.Errorf("unknown transformation type %q", t.Type)
	}
	return nil
}

// transformationDoc is the flat on-disk shape of a Transformation
type transformationDoc struct {
	Type        TransformationType `yaml:"type" json:"type"`
	Mappings    Mappings           `yaml:"mappings,omitempty" json:"mappings,omitempty"`
	Additions   map[string]any     `yaml:"additions,omitempty" json:"additions,omitempty"`
	CustomQuery string             `yaml:"customQuery,omitempty" json:"customQuery,omitempty"`
}

func (d transformationDoc) build() (Transformation, error) {
	t := Transformation{Type: d.Type}
	switch d.Type {
	case TransformArrayReplace, TransformValueReplace:
		if d.Additions != nil || d.CustomQuery != "" {
			return t, fmt.Errorf("%s transformation only accepts mappings", d.Type)
		}
		t.Replace = &ReplaceSpec{Mappings: d.Mappings}
	case TransformJSONMerge, TransformJSONAdd:
		if d.Mappings != nil || d.CustomQuery != "" {
			return t, fmt.Errorf("%s transformation only accepts additions", d.Type)
		}
		additions := d.Additions
		if additions == nil {
			additions = map[string]any{}
		}
		t.Merge = &MergeSpec{Additions: additions}
	case TransformCustom:
		if d.Mappings != nil || d.Additions != nil {
			return t, fmt.Errorf("custom transformation only accepts customQuery")
		}
		t.Custom = &CustomSpec{Query: d.CustomQuery}
	default:
		return t, fmt.Errorf("unknown transformation type %q", d.Type)
	}
	return t, nil
}

func (t Transformation) doc() transformationDoc {
	return transformationDoc{
		Type:        t.Type,
		Mappings:    t.Mappings(),
		Additions:   t.Additions(),
		CustomQuery: t.CustomQuery(),
	}
}

// UnmarshalYAML decodes the flat form and rejects fields foreign to the type
func (t *Transformation) UnmarshalYAML(node *yaml.Node) error {
	var d transformationDoc
	if err := node.Decode(&d); err != nil {
		return err
	}
	built, err := d.build()
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*t = built
	return nil
}

// MarshalYAML encodes the flat form
func (t Transformation) MarshalYAML() (any, error) {
	return t.doc(), nil
}

// MarshalJSON encodes the flat form
func (t Transformation) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.doc())
}

// UnmarshalJSON decodes the flat form
func (t *Transformation) UnmarshalJSON(data []byte) error {
	var d transformationDoc
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	built, err := d.build()
	if err != nil {
		return err
	}
	*t = built
	return nil
}

// SafetyCheckType names a safety check
type SafetyCheckType string

const (
	CheckCountPreview     SafetyCheckType = "count_preview"
	CheckBackupTable      SafetyCheckType = "backup_table"
	CheckValidateTargets  SafetyCheckType = "validate_targets"
	CheckDryRun           SafetyCheckType = "dry_run"
	CheckUserConfirmation SafetyCheckType = "user_confirmation"
	// CheckManualInput is raised when required manual input is absent or invalid
	CheckManualInput SafetyCheckType = "manual_input"
)

// Valid reports whether c may appear in a rule definition
func (c SafetyCheckType) Valid() bool {
	switch c {
	case CheckCountPreview, CheckBackupTable, CheckValidateTargets, CheckDryRun, CheckUserConfirmation:
		return true
	}
	return false
}

// SafetyCheck is one entry of a rule's safety policy
type SafetyCheck struct {
	Type      SafetyCheckType `yaml:"type" json:"type"`
	Threshold int             `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Message   string          `yaml:"message,omitempty" json:"message,omitempty"`
}

// FieldType is the input widget type of a manual input field
type FieldType string

const (
	FieldText    FieldType = "text"
	FieldSelect  FieldType = "select"
	FieldBoolean FieldType = "boolean"
	FieldNumber  FieldType = "number"
)

// ManualInputField describes one value the caller must supply before execution
type ManualInputField struct {
	Key        string    `yaml:"key" json:"key"`
	Label      string    `yaml:"label" json:"label"`
	Type       FieldType `yaml:"type" json:"type"`
	Options    []string  `yaml:"options,omitempty" json:"options,omitempty"`
	Default    any       `yaml:"default,omitempty" json:"default,omitempty"`
	Required   bool      `yaml:"required" json:"required"`
	Validation string    `yaml:"validation,omitempty" json:"validation,omitempty"`
}

// RollbackType selects how an execution is reversed
type RollbackType string

const (
	RollbackReverse RollbackType = "reverse_transformation"
	RollbackBackup  RollbackType = "restore_backup"
	RollbackCustom  RollbackType = "custom"
)

// RollbackStrategy describes how to reverse an execution
type RollbackStrategy struct {
	Type         RollbackType `yaml:"type" json:"type"`
	CustomQuery  string       `yaml:"customQuery,omitempty" json:"customQuery,omitempty"`
	RetainBackup bool         `yaml:"retainBackup" json:"retainBackup"`
}

// Rule is an immutable declarative description of a data-quality fix
type Rule struct {
	ID                  string             `yaml:"id" json:"id"`
	Name                string             `yaml:"name" json:"name"`
	Description         string             `yaml:"description" json:"description"`
	Category            Category           `yaml:"category" json:"category"`
	Priority            Priority           `yaml:"priority" json:"priority"`
	Pattern             Pattern            `yaml:"pattern" json:"pattern"`
	Transformation      Transformation     `yaml:"transformation" json:"transformation"`
	SafetyChecks        []SafetyCheck      `yaml:"safetyChecks,omitempty" json:"safetyChecks,omitempty"`
	RequiresManualInput bool               `yaml:"requiresManualInput" json:"requiresManualInput"`
	ManualInputFields   []ManualInputField `yaml:"manualInputFields,omitempty" json:"manualInputFields,omitempty"`
	RollbackStrategy    RollbackStrategy   `yaml:"rollbackStrategy" json:"rollbackStrategy"`
	Editable            bool               `yaml:"editable" json:"editable"`
	AutoExecutable      bool               `yaml:"autoExecutable" json:"autoExecutable"`
}

// Check returns the first safety check of the given type
func (r Rule) Check(t SafetyCheckType) (SafetyCheck, bool) {
	for _, c := range r.SafetyChecks {
		if c.Type == t {
			return c, true
		}
	}
	return SafetyCheck{}, false
}

// HasCheck reports whether the rule declares a safety check of type t
func (r Rule) HasCheck(t SafetyCheckType) bool {
	_, ok := r.Check(t)
	return ok
}

// NeedsBackup reports whether execution must snapshot the target table first
func (r Rule) NeedsBackup() bool {
	return r.RollbackStrategy.RetainBackup ||
		r.RollbackStrategy.Type == RollbackBackup ||
		r.HasCheck(CheckBackupTable)
}
