package jobs

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pdf-checker/models"
)

// SummaryOutput is what a successful summary stage stores on the artifact.
type SummaryOutput struct {
	Text             string
	Provider         string
	Model            string
	Prompt           string
	ResponseID       string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	RawResponseJSON  string
	RequestedAt      time.Time
}

// SummaryMachine owns the status of summary artifacts. Artifacts are keyed by
// document id; only documents whose analysis found them not accessible ever
// get one.
type SummaryMachine struct {
	db         *gorm.DB
	staleAfter time.Duration
}

func NewSummaryMachine(db *gorm.DB, staleAfter time.Duration) *SummaryMachine {
	return &SummaryMachine{db: db, staleAfter: staleAfter}
}

// Get returns the artifact for a document.
func (m *SummaryMachine) Get(ctx context.Context, documentID string) (*models.SummaryArtifact, error) {
	var artifact models.SummaryArtifact
	if err := m.db.WithContext(ctx).First(&artifact, "document_id = ?", documentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(ErrNotFound, "summary for document %s", documentID)
		}
		return nil, errors.Wrapf(err, "load summary for document %s", documentID)
	}
	return &artifact, nil
}

// Claim takes the summary stage for a document. A missing artifact is created
// already claimed. The document must be completed with a not-accessible
// verdict, otherwise ErrSummaryNotRequired or ErrNotReady is returned.
func (m *SummaryMachine) Claim(ctx context.Context, documentID string, now time.Time) (Lease, error) {
	var lease Lease
	err := retryOnBusy(ctx, func() error {
		return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			lease, err = claimSummary(tx, documentID, now.UTC(), m.staleAfter)
			return err
		})
	})
	return lease, err
}

func claimSummary(tx *gorm.DB, documentID string, now time.Time, staleAfter time.Duration) (Lease, error) {
	if err := requireSummary(tx, documentID); err != nil {
		return Lease{}, err
	}

	lease := newLease(documentID, now)
	artifact := models.SummaryArtifact{
		DocumentID: documentID,
		Status:     models.StatusProcessing,
		ClaimToken: &lease.Token,
		ClaimedAt:  &lease.ClaimedAt,
		Attempts:   1,
	}
	res := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "document_id"}}, DoNothing: true}).
		Create(&artifact)
	if res.Error != nil {
		return Lease{}, errors.Wrapf(res.Error, "create summary for document %s", documentID)
	}
	if res.RowsAffected == 1 {
		return lease, nil
	}

	res = tx.Model(&models.SummaryArtifact{}).
		Where("document_id = ? AND status = ?", documentID, models.StatusPending).
		Updates(lease.claimColumns())
	if res.Error != nil {
		return Lease{}, errors.Wrapf(res.Error, "claim summary for document %s", documentID)
	}
	if res.RowsAffected == 1 {
		return lease, nil
	}

	res = tx.Model(&models.SummaryArtifact{}).
		Where("document_id = ? AND status = ?", documentID, models.StatusProcessing).
		Where("(claimed_at IS NULL OR claimed_at < ?)", now.Add(-staleAfter)).
		Updates(lease.claimColumns())
	if res.Error != nil {
		return Lease{}, errors.Wrapf(res.Error, "reclaim summary for document %s", documentID)
	}
	if res.RowsAffected == 1 {
		lease.Recovered = true
		return lease, nil
	}

	var current models.SummaryArtifact
	if err := tx.Select("id", "status").First(&current, "document_id = ?", documentID).Error; err != nil {
		return Lease{}, errors.Wrapf(err, "load summary for document %s", documentID)
	}
	if current.Status.IsTerminal() {
		return Lease{}, errors.Wrapf(ErrAlreadyTerminal, "summary for document %s is %s", documentID, current.Status)
	}
	return Lease{}, errors.Wrapf(ErrAlreadyOwned, "summary for document %s", documentID)
}

// requireSummary enforces the cascade rule inside the claiming transaction.
func requireSummary(tx *gorm.DB, documentID string) error {
	var doc models.Document
	if err := tx.Select("id", "status").First(&doc, "id = ?", documentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.Wrapf(ErrNotFound, "document %s", documentID)
		}
		return errors.Wrapf(err, "load document %s", documentID)
	}
	if doc.Status == models.StatusFailed {
		return errors.Wrapf(ErrSummaryNotRequired, "document %s failed analysis", documentID)
	}
	if doc.Status != models.StatusCompleted {
		return errors.Wrapf(ErrNotReady, "document %s is %s", documentID, doc.Status)
	}

	var result models.AnalysisResult
	if err := tx.Select("id", "is_accessible").First(&result, "document_id = ?", documentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.Wrapf(ErrNotReady, "document %s has no analysis result", documentID)
		}
		return errors.Wrapf(err, "load analysis for document %s", documentID)
	}
	if !result.RequiresSummary() {
		return errors.Wrapf(ErrSummaryNotRequired, "document %s is accessible", documentID)
	}
	return nil
}

// Complete stores the summary and moves the artifact to completed.
// When the artifact is already terminal the call is a no-op.
func (m *SummaryMachine) Complete(ctx context.Context, lease Lease, out SummaryOutput) (Settlement, error) {
	now := time.Now().UTC()
	columns := map[string]any{
		"status":            models.StatusCompleted,
		"summary_text":      out.Text,
		"error":             nil,
		"claim_token":       nil,
		"claimed_at":        nil,
		"provider":          out.Provider,
		"model":             out.Model,
		"prompt":            out.Prompt,
		"response_id":       out.ResponseID,
		"finish_reason":     out.FinishReason,
		"prompt_tokens":     out.PromptTokens,
		"completion_tokens": out.CompletionTokens,
		"total_tokens":      out.TotalTokens,
		"raw_response_json": out.RawResponseJSON,
		"completed_at":      now,
	}
	if !out.RequestedAt.IsZero() {
		columns["requested_at"] = out.RequestedAt.UTC()
	}
	return m.settle(ctx, lease, models.StatusCompleted, columns)
}

// Fail moves the artifact to failed with the cause as its error detail.
// When the artifact is already terminal the call is a no-op.
func (m *SummaryMachine) Fail(ctx context.Context, lease Lease, cause error) (Settlement, error) {
	detail := "unknown error"
	if cause != nil {
		detail = cause.Error()
	}
	return m.settle(ctx, lease, models.StatusFailed, map[string]any{
		"status":       models.StatusFailed,
		"error":        detail,
		"claim_token":  nil,
		"claimed_at":   nil,
		"completed_at": time.Now().UTC(),
	})
}

func (m *SummaryMachine) settle(ctx context.Context, lease Lease, to models.Status, columns map[string]any) (Settlement, error) {
	var settled Settlement
	err := retryOnBusy(ctx, func() error {
		db := m.db.WithContext(ctx)
		res := db.Model(&models.SummaryArtifact{}).
			Where("document_id = ? AND status = ? AND claim_token = ?", lease.DocumentID, models.StatusProcessing, lease.Token).
			Updates(columns)
		if res.Error != nil {
			return errors.Wrapf(res.Error, "settle summary for document %s as %s", lease.DocumentID, to)
		}
		if res.RowsAffected == 1 {
			settled = Settlement{Status: to, Applied: true}
			return nil
		}
		var err error
		settled, err = summarySettlement(db, lease.DocumentID)
		return err
	})
	return settled, err
}

// Release hands the artifact back to pending without recording an outcome.
func (m *SummaryMachine) Release(ctx context.Context, lease Lease) error {
	return retryOnBusy(ctx, func() error {
		db := m.db.WithContext(ctx)
		res := db.Model(&models.SummaryArtifact{}).
			Where("document_id = ? AND status = ? AND claim_token = ?", lease.DocumentID, models.StatusProcessing, lease.Token).
			Updates(map[string]any{
				"status":      models.StatusPending,
				"claim_token": nil,
				"claimed_at":  nil,
			})
		if res.Error != nil {
			return errors.Wrapf(res.Error, "release summary for document %s", lease.DocumentID)
		}
		if res.RowsAffected == 0 {
			_, err := summarySettlement(db, lease.DocumentID)
			return err
		}
		return nil
	})
}

// Reset puts a failed artifact back to pending. It reports whether a row changed.
func (m *SummaryMachine) Reset(ctx context.Context, documentID string) (bool, error) {
	var changed bool
	err := retryOnBusy(ctx, func() error {
		res := m.db.WithContext(ctx).Model(&models.SummaryArtifact{}).
			Where("document_id = ? AND status = ?", documentID, models.StatusFailed).
			Updates(map[string]any{
				"status":       models.StatusPending,
				"error":        nil,
				"claim_token":  nil,
				"claimed_at":   nil,
				"completed_at": nil,
			})
		if res.Error != nil {
			return errors.Wrapf(res.Error, "reset summary for document %s", documentID)
		}
		changed = res.RowsAffected == 1
		return nil
	})
	if err != nil || changed {
		return changed, err
	}
	if _, err := m.Get(ctx, documentID); err != nil {
		return false, err
	}
	return false, nil
}

// ClaimBatch claims up to limit summaries, oldest first. Besides pending and
// stale artifacts it picks up not-accessible documents that never got an
// artifact, which happens when a process dies between the two stages.
// Documents in exclude are never picked.
func (m *SummaryMachine) ClaimBatch(ctx context.Context, limit int, now time.Time, exclude ...string) ([]Lease, error) {
	if limit <= 0 {
		return nil, nil
	}
	now = now.UTC()
	cutoff := now.Add(-m.staleAfter)

	var leases []Lease
	err := retryOnBusy(ctx, func() error {
		leases = leases[:0]
		return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var ids []string
			query := tx.Table("summary_artifacts").
				Clauses(clause.Locking{
					Strength: clause.LockingStrengthUpdate,
					Table:    clause.Table{Name: "summary_artifacts"},
					Options:  clause.LockingOptionsSkipLocked,
				}).
				Joins("JOIN documents ON documents.id = summary_artifacts.document_id").
				Joins("JOIN analysis_results ON analysis_results.document_id = summary_artifacts.document_id").
				Where("documents.status = ? AND analysis_results.is_accessible = ?", models.StatusCompleted, false).
				Where("summary_artifacts.status = ? OR (summary_artifacts.status = ? AND (summary_artifacts.claimed_at IS NULL OR summary_artifacts.claimed_at < ?))",
					models.StatusPending, models.StatusProcessing, cutoff)
			if len(exclude) > 0 {
				query = query.Where("summary_artifacts.document_id NOT IN ?", exclude)
			}
			err := query.
				Order("summary_artifacts.created_at").
				Limit(limit).
				Pluck("summary_artifacts.document_id", &ids).Error
			if err != nil {
				return errors.Wrap(err, "select claimable summaries")
			}

			if remaining := limit - len(ids); remaining > 0 {
				var orphans []string
				orphanQuery := tx.Table("documents").
					Joins("JOIN analysis_results ON analysis_results.document_id = documents.id").
					Joins("LEFT JOIN summary_artifacts ON summary_artifacts.document_id = documents.id").
					Where("documents.status = ? AND analysis_results.is_accessible = ? AND summary_artifacts.id IS NULL", models.StatusCompleted, false)
				if len(exclude) > 0 {
					orphanQuery = orphanQuery.Where("documents.id NOT IN ?", exclude)
				}
				err := orphanQuery.
					Order("documents.created_at").
					Limit(remaining).
					Pluck("documents.id", &orphans).Error
				if err != nil {
					return errors.Wrap(err, "select documents missing a summary")
				}
				ids = append(ids, orphans...)
			}

			for _, id := range ids {
				lease, err := claimSummary(tx, id, now, m.staleAfter)
				if IsClaimConflict(err) {
					continue
				}
				if err != nil {
					return err
				}
				leases = append(leases, lease)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return leases, nil
}

func summarySettlement(tx *gorm.DB, documentID string) (Settlement, error) {
	var artifact models.SummaryArtifact
	if err := tx.Select("id", "status").First(&artifact, "document_id = ?", documentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Settlement{}, errors.Wrapf(ErrNotFound, "summary for document %s", documentID)
		}
		return Settlement{}, errors.Wrapf(err, "load summary for document %s", documentID)
	}
	if artifact.Status.IsTerminal() {
		return Settlement{Status: artifact.Status}, nil
	}
	return Settlement{Status: artifact.Status}, errors.Wrapf(ErrClaimLost, "summary for document %s", documentID)
}
