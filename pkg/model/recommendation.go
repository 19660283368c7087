package model

import "time"

// Readiness classifies whether a rule can run unattended right now
type Readiness string

const (
	ReadinessReady      Readiness = "ready"
	ReadinessNeedsInput Readiness = "needs_input"
	ReadinessBlocked    Readiness = "blocked"
	ReadinessComplete   Readiness = "complete"
)

// Impact estimates what running a rule would touch
type Impact struct {
	AffectedRows   int      `json:"affectedRows"`
	AffectedTables []string `json:"affectedTables"`
	ExecutionTime  string   `json:"executionTime"`
}

// Recommendation wraps a rule with its current score and readiness
type Recommendation struct {
	Rule            Rule      `json:"rule"`
	Priority        Priority  `json:"priority"`
	Confidence      int       `json:"confidence"`
	EstimatedImpact Impact    `json:"estimatedImpact"`
	Readiness       Readiness `json:"readiness"`
	Blockers        []string  `json:"blockers,omitempty"`
	Reasons         []string  `json:"reasons"`
	Preview         *Preview  `json:"previewData,omitempty"`
}

// DataQuality is the weighted aggregate of the four analysis dimensions
type DataQuality struct {
	Score        int      `json:"score"`
	Issues       []string `json:"issues"`
	Improvements []string `json:"improvements"`
}

// MigrationAnalysis is the ranked migration plan
type MigrationAnalysis struct {
	Recommendations    []Recommendation `json:"recommendations"`
	ExecutionOrder     []string         `json:"executionOrder"`
	TotalIssues        int              `json:"totalIssuesFound"`
	CriticalIssues     int              `json:"criticalIssues"`
	EstimatedTotalTime string           `json:"estimatedTotalTime"`
	SafetyWarnings     []string         `json:"safetyWarnings"`
	DataQuality        DataQuality      `json:"dataQuality"`
	GeneratedAt        time.Time        `json:"generatedAt"`
}

// TerminologyState counts legacy versus universal vocabulary usage
type TerminologyState struct {
	LegacyTerms          int  `json:"legacyTerms"`
	UniversalTerms       int  `json:"universalTerms"`
	MixedUsage           int  `json:"mixedUsage"`
	CompletionPercentage int  `json:"completionPercentage"`
	Defaulted            bool `json:"defaulted,omitempty"`
}

// MetadataState counts records missing required metadata keys
type MetadataState struct {
	TotalRecords         int  `json:"totalRecords"`
	MissingAuxiliaries   int  `json:"missingAuxiliaries"`
	MissingTransitivity  int  `json:"missingTransitivity"`
	CompletionPercentage int  `json:"completionPercentage"`
	Defaulted            bool `json:"defaulted,omitempty"`
}

// CleanupState counts deprecated and inconsistently formatted tags
type CleanupState struct {
	TotalRecords           int  `json:"totalRecords"`
	DeprecatedTags         int  `json:"deprecatedTags"`
	InconsistentFormatting int  `json:"inconsistentFormatting"`
	CompletionPercentage   int  `json:"completionPercentage"`
	Defaulted              bool `json:"defaulted,omitempty"`
}

// StructureState counts referential integrity problems
type StructureState struct {
	OrphanedRecords      int  `json:"orphanedRecords"`
	MissingRelationships int  `json:"missingRelationships"`
	CompletionPercentage int  `json:"completionPercentage"`
	Defaulted            bool `json:"defaulted,omitempty"`
}

// DataStateAnalysis is one snapshot of the four quality dimensions
type DataStateAnalysis struct {
	Terminology TerminologyState `json:"terminology"`
	Metadata    MetadataState    `json:"metadata"`
	Cleanup     CleanupState     `json:"cleanup"`
	Structure   StructureState   `json:"structure"`
	AnalyzedAt  time.Time        `json:"analyzedAt"`
}

// HasIssues reports whether the analysis found outstanding work for a category
func (a DataStateAnalysis) HasIssues(c Category) bool {
	switch c {
	case CategoryTerminology:
		return a.Terminology.LegacyTerms > 0
	case CategoryMetadata:
		return a.Metadata.MissingAuxiliaries > 0 || a.Metadata.MissingTransitivity > 0
	case CategoryCleanup:
		return a.Cleanup.DeprecatedTags > 0 || a.Cleanup.InconsistentFormatting > 0
	case CategoryStructure:
		return a.Structure.OrphanedRecords > 0 || a.Structure.MissingRelationships > 0
	default:
		return false
	}
}
