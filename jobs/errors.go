package jobs

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrNotFound means no row exists for the id.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyOwned means another worker holds a fresh claim.
	ErrAlreadyOwned = errors.New("already owned")
	// ErrAlreadyTerminal means the unit of work already completed or failed.
	ErrAlreadyTerminal = errors.New("already terminal")
	// ErrClaimLost means the row was released or re-claimed under a different token.
	ErrClaimLost = errors.New("claim lost")
	// ErrSummaryNotRequired means the analysis verdict rules out the summary stage.
	ErrSummaryNotRequired = errors.New("summary not required")
	// ErrNotReady means the document has no completed analysis yet.
	ErrNotReady = errors.New("analysis not completed")
)

// IsClaimConflict reports whether err only signals that someone else has or had the work.
func IsClaimConflict(err error) bool {
	return errors.IsAny(err, ErrAlreadyOwned, ErrAlreadyTerminal, ErrSummaryNotRequired, ErrNotReady)
}
