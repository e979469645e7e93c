package models

import "time"

// AnalysisResult is the immutable outcome of the veraPDF stage.
type AnalysisResult struct {
	ID         uint   `json:"id" gorm:"primaryKey"`
	DocumentID string `json:"document_id" gorm:"size:36;uniqueIndex;not null"`

	// Verdict: an accessible document needs no summary.
	IsAccessible bool `json:"is_accessible"`

	ValidationProfile string `json:"validation_profile,omitempty"`
	TotalChecks       int    `json:"total_checks"`
	PassedChecks      int    `json:"passed_checks"`
	FailedChecks      int    `json:"failed_checks"`
	PassedRules       int    `json:"passed_rules"`
	FailedRules       int    `json:"failed_rules"`
	AnalyzerVersion   string `json:"analyzer_version,omitempty"`

	// Findings lists the failed rules, one per line.
	Findings   string    `json:"findings,omitempty" gorm:"type:text"`
	RawJSON    string    `json:"-" gorm:"type:text"`
	AnalyzedAt time.Time `json:"analyzed_at"`
}

// TableName sets the table name explicitly.
func (AnalysisResult) TableName() string {
	return "analysis_results"
}

// RequiresSummary reports whether the summary stage applies to this document.
func (r *AnalysisResult) RequiresSummary() bool {
	return r != nil && !r.IsAccessible
}
