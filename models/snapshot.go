package models

// Snapshot is the read-only status view clients poll.
type Snapshot struct {
	ID            string `json:"id"`
	Status        Status `json:"status"`
	Terminal      bool   `json:"terminal"`
	Error         string `json:"error,omitempty"`
	HasAnalysis   bool   `json:"has_analysis"`
	HasSummary    bool   `json:"has_summary"`
	IsAccessible  *bool  `json:"is_accessible,omitempty"`
	SummaryStatus Status `json:"summary_status,omitempty"`
}

// Report bundles everything known about a document.
type Report struct {
	Document *Document        `json:"document"`
	Analysis *AnalysisResult  `json:"analysis,omitempty"`
	Summary  *SummaryArtifact `json:"summary,omitempty"`
}
