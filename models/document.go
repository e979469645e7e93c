package models

import (
	"time"
)

// Document is one distinct uploaded PDF, identified by its content fingerprint.
type Document struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`

	Fingerprint      string `json:"fingerprint" gorm:"size:64;uniqueIndex;not null"`
	OriginalFilename string `json:"original_filename"`
	FileSize         int64  `json:"file_size"`
	PageCount        int    `json:"page_count"`
	StorageKey       string `json:"-"`

	// Submitter
	UserFirstName string `json:"user_first_name,omitempty"`
	UserLastName  string `json:"user_last_name,omitempty"`
	UserEmail     string `json:"user_email,omitempty" gorm:"index"`
	UserGroups    string `json:"user_groups,omitempty"` // comma separated

	// Claim state; ClaimToken and ClaimedAt are only set while processing.
	Status          Status     `json:"status" gorm:"size:16;index;not null;default:'pending'"`
	ClaimToken      *string    `json:"-" gorm:"size:36"`
	ClaimedAt       *time.Time `json:"claimed_at,omitempty" gorm:"index"`
	ProcessingError *string    `json:"processing_error,omitempty" gorm:"type:text"`
	Attempts        int        `json:"attempts" gorm:"not null;default:0"`
}

// TableName sets the table name explicitly.
func (Document) TableName() string {
	return "documents"
}
