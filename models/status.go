package models

import "strings"

// Status is the lifecycle state shared by documents and summary artifacts.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	// StatusSkipped only exists for artifacts; the pipeline never writes it.
	StatusSkipped Status = "skipped"
)

// IsTerminal reports whether no further transition happens without an operator reset.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

// ParseStatus converts user input into a known Status.
func ParseStatus(value string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(value)))
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusSkipped:
		return s, true
	default:
		return "", false
	}
}
