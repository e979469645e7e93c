package jobs

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pdf-checker/models"
)

// DocumentMachine owns the status of documents (the analysis stage).
type DocumentMachine struct {
	db         *gorm.DB
	staleAfter time.Duration
}

// NewDocumentMachine returns a machine that treats processing claims older than staleAfter as abandoned.
func NewDocumentMachine(db *gorm.DB, staleAfter time.Duration) *DocumentMachine {
	return &DocumentMachine{db: db, staleAfter: staleAfter}
}

// StaleAfter is the staleness threshold this machine was configured with.
func (m *DocumentMachine) StaleAfter() time.Duration {
	return m.staleAfter
}

// Register inserts doc unless a document with the same fingerprint exists,
// and returns the stored row. created is false for a duplicate.
func (m *DocumentMachine) Register(ctx context.Context, doc *models.Document) (*models.Document, bool, error) {
	doc.Status = models.StatusPending
	doc.ClaimToken = nil
	doc.ClaimedAt = nil

	var created bool
	var stored models.Document
	err := retryOnBusy(ctx, func() error {
		res := m.db.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "fingerprint"}}, DoNothing: true}).
			Create(doc)
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected == 1
		return m.db.WithContext(ctx).Where("fingerprint = ?", doc.Fingerprint).First(&stored).Error
	})
	if err != nil {
		return nil, false, errors.Wrapf(err, "register document %s", doc.Fingerprint)
	}
	return &stored, created, nil
}

// Get returns the document row.
func (m *DocumentMachine) Get(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	if err := m.db.WithContext(ctx).First(&doc, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(ErrNotFound, "document %s", id)
		}
		return nil, errors.Wrapf(err, "load document %s", id)
	}
	return &doc, nil
}

// Analysis returns the stored analysis result of a document.
func (m *DocumentMachine) Analysis(ctx context.Context, id string) (*models.AnalysisResult, error) {
	var result models.AnalysisResult
	if err := m.db.WithContext(ctx).First(&result, "document_id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(ErrNotFound, "analysis for document %s", id)
		}
		return nil, errors.Wrapf(err, "load analysis for document %s", id)
	}
	return &result, nil
}

// Claim takes the document for analysis. It succeeds for a pending document
// or one whose processing claim is older than the staleness threshold.
func (m *DocumentMachine) Claim(ctx context.Context, id string, now time.Time) (Lease, error) {
	var lease Lease
	err := retryOnBusy(ctx, func() error {
		var err error
		lease, err = claimDocument(m.db.WithContext(ctx), id, now.UTC(), m.staleAfter)
		return err
	})
	return lease, err
}

func claimDocument(tx *gorm.DB, id string, now time.Time, staleAfter time.Duration) (Lease, error) {
	lease := newLease(id, now)

	res := tx.Model(&models.Document{}).
		Where("id = ? AND status = ?", id, models.StatusPending).
		Updates(lease.claimColumns())
	if res.Error != nil {
		return Lease{}, errors.Wrapf(res.Error, "claim document %s", id)
	}
	if res.RowsAffected == 1 {
		return lease, nil
	}

	res = tx.Model(&models.Document{}).
		Where("id = ? AND status = ?", id, models.StatusProcessing).
		Where("(claimed_at IS NULL OR claimed_at < ?)", now.Add(-staleAfter)).
		Updates(lease.claimColumns())
	if res.Error != nil {
		return Lease{}, errors.Wrapf(res.Error, "reclaim document %s", id)
	}
	if res.RowsAffected == 1 {
		lease.Recovered = true
		return lease, nil
	}

	var doc models.Document
	if err := tx.Select("id", "status").First(&doc, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Lease{}, errors.Wrapf(ErrNotFound, "document %s", id)
		}
		return Lease{}, errors.Wrapf(err, "load document %s", id)
	}
	if doc.Status.IsTerminal() {
		return Lease{}, errors.Wrapf(ErrAlreadyTerminal, "document %s is %s", id, doc.Status)
	}
	return Lease{}, errors.Wrapf(ErrAlreadyOwned, "document %s", id)
}

// Complete records the analysis result and moves the document to completed.
// When the document is already terminal the call is a no-op.
func (m *DocumentMachine) Complete(ctx context.Context, lease Lease, result *models.AnalysisResult) (Settlement, error) {
	var settled Settlement
	err := retryOnBusy(ctx, func() error {
		return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&models.Document{}).
				Where("id = ? AND status = ? AND claim_token = ?", lease.DocumentID, models.StatusProcessing, lease.Token).
				Updates(map[string]any{
					"status":           models.StatusCompleted,
					"claim_token":      nil,
					"claimed_at":       nil,
					"processing_error": nil,
				})
			if res.Error != nil {
				return errors.Wrapf(res.Error, "complete document %s", lease.DocumentID)
			}
			if res.RowsAffected == 0 {
				var err error
				settled, err = documentSettlement(tx, lease.DocumentID)
				return err
			}

			result.ID = 0
			result.DocumentID = lease.DocumentID
			if result.AnalyzedAt.IsZero() {
				result.AnalyzedAt = time.Now().UTC()
			}
			if err := tx.Create(result).Error; err != nil {
				return errors.Wrapf(err, "store analysis result for %s", lease.DocumentID)
			}
			settled = Settlement{Status: models.StatusCompleted, Applied: true}
			return nil
		})
	})
	return settled, err
}

// Fail moves the document to failed with the cause as its error detail.
// When the document is already terminal the call is a no-op.
func (m *DocumentMachine) Fail(ctx context.Context, lease Lease, cause error) (Settlement, error) {
	detail := "unknown error"
	if cause != nil {
		detail = cause.Error()
	}
	var settled Settlement
	err := retryOnBusy(ctx, func() error {
		return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&models.Document{}).
				Where("id = ? AND status = ? AND claim_token = ?", lease.DocumentID, models.StatusProcessing, lease.Token).
				Updates(map[string]any{
					"status":           models.StatusFailed,
					"claim_token":      nil,
					"claimed_at":       nil,
					"processing_error": detail,
				})
			if res.Error != nil {
				return errors.Wrapf(res.Error, "fail document %s", lease.DocumentID)
			}
			if res.RowsAffected == 0 {
				var err error
				settled, err = documentSettlement(tx, lease.DocumentID)
				return err
			}
			settled = Settlement{Status: models.StatusFailed, Applied: true}
			return nil
		})
	})
	return settled, err
}

// Release hands the document back to pending without recording an outcome.
func (m *DocumentMachine) Release(ctx context.Context, lease Lease) error {
	return retryOnBusy(ctx, func() error {
		res := m.db.WithContext(ctx).Model(&models.Document{}).
			Where("id = ? AND status = ? AND claim_token = ?", lease.DocumentID, models.StatusProcessing, lease.Token).
			Updates(map[string]any{
				"status":      models.StatusPending,
				"claim_token": nil,
				"claimed_at":  nil,
			})
		if res.Error != nil {
			return errors.Wrapf(res.Error, "release document %s", lease.DocumentID)
		}
		if res.RowsAffected == 0 {
			_, err := documentSettlement(m.db.WithContext(ctx), lease.DocumentID)
			return err
		}
		return nil
	})
}

// Reset puts a failed document back to pending. It reports whether a row changed.
func (m *DocumentMachine) Reset(ctx context.Context, id string) (bool, error) {
	var changed bool
	err := retryOnBusy(ctx, func() error {
		res := m.db.WithContext(ctx).Model(&models.Document{}).
			Where("id = ? AND status = ?", id, models.StatusFailed).
			Updates(map[string]any{
				"status":           models.StatusPending,
				"processing_error": nil,
				"claim_token":      nil,
				"claimed_at":       nil,
			})
		if res.Error != nil {
			return errors.Wrapf(res.Error, "reset document %s", id)
		}
		changed = res.RowsAffected == 1
		return nil
	})
	if err != nil || changed {
		return changed, err
	}
	if _, err := m.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// ClaimBatch claims up to limit claimable documents, oldest first. Rows locked
// by a concurrent sweep are skipped rather than waited on, and ids in exclude
// are never picked.
func (m *DocumentMachine) ClaimBatch(ctx context.Context, limit int, now time.Time, exclude ...string) ([]Lease, error) {
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
			query := tx.Model(&models.Document{}).
				Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate, Options: clause.LockingOptionsSkipLocked}).
				Where("status = ? OR (status = ? AND (claimed_at IS NULL OR claimed_at < ?))",
					models.StatusPending, models.StatusProcessing, cutoff)
			if len(exclude) > 0 {
				query = query.Where("id NOT IN ?", exclude)
			}
			err := query.
				Order("created_at").
				Limit(limit).
				Pluck("id", &ids).Error
			if err != nil {
				return errors.Wrap(err, "select claimable documents")
			}
			for _, id := range ids {
				lease, err := claimDocument(tx, id, now, m.staleAfter)
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

// documentSettlement explains why a token-guarded update matched nothing.
func documentSettlement(tx *gorm.DB, id string) (Settlement, error) {
	var doc models.Document
	if err := tx.Select("id", "status").First(&doc, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Settlement{}, errors.Wrapf(ErrNotFound, "document %s", id)
		}
		return Settlement{}, errors.Wrapf(err, "load document %s", id)
	}
	if doc.Status.IsTerminal() {
		return Settlement{Status: doc.Status}, nil
	}
	return Settlement{Status: doc.Status}, errors.Wrapf(ErrClaimLost, "document %s", id)
}
