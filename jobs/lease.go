package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"pdf-checker/models"
)

// Lease is proof of a successful claim. Every later transition must present it.
type Lease struct {
	DocumentID string
	Token      string
	ClaimedAt  time.Time
	// Recovered is set when the claim took over a stale processing row.
	Recovered bool
}

func newLease(documentID string, now time.Time) Lease {
	return Lease{DocumentID: documentID, Token: uuid.NewString(), ClaimedAt: now}
}

func (l Lease) claimColumns() map[string]any {
	return map[string]any{
		"status":      models.StatusProcessing,
		"claim_token": l.Token,
		"claimed_at":  l.ClaimedAt,
		"attempts":    gorm.Expr("attempts + 1"),
	}
}

// Settlement describes what a Complete or Fail call did.
type Settlement struct {
	Status models.Status
	// Applied is false when the row was already terminal and the call was a no-op.
	Applied bool
}
