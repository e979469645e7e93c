package models

import "time"

// SummaryArtifact holds the state and output of the summary stage.
type SummaryArtifact struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	DocumentID string `json:"document_id" gorm:"size:36;uniqueIndex;not null"`

	Status      Status     `json:"status" gorm:"size:16;index;not null;default:'pending'"`
	SummaryText *string    `json:"summary_text,omitempty" gorm:"type:text"`
	Error       *string    `json:"error,omitempty" gorm:"type:text"`
	ClaimToken  *string    `json:"-" gorm:"size:36"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty" gorm:"index"`
	Attempts    int        `json:"attempts" gorm:"not null;default:0"`

	// Provider metadata
	Provider         string `json:"provider,omitempty"`
	Model            string `json:"model,omitempty"`
	Prompt           string `json:"-" gorm:"type:text"`
	ResponseID       string `json:"response_id,omitempty"`
	FinishReason     string `json:"finish_reason,omitempty"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	RawResponseJSON  string `json:"-" gorm:"type:text"`

	RequestedAt *time.Time `json:"requested_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TableName sets the table name explicitly.
func (SummaryArtifact) TableName() string {
	return "summary_artifacts"
}
