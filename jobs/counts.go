package jobs

import (
	"context"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"

	"pdf-checker/models"
)

type statusCount struct {
	Status models.Status
	Count  int
}

func countByStatus(ctx context.Context, db *gorm.DB, model any) (map[models.Status]int, error) {
	var rows []statusCount
	err := db.WithContext(ctx).Model(model).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[models.Status]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// Counts returns the number of documents per status.
func (m *DocumentMachine) Counts(ctx context.Context) (map[models.Status]int, error) {
	counts, err := countByStatus(ctx, m.db, &models.Document{})
	return counts, errors.Wrap(err, "count documents")
}

// Counts returns the number of summary artifacts per status.
func (m *SummaryMachine) Counts(ctx context.Context) (map[models.Status]int, error) {
	counts, err := countByStatus(ctx, m.db, &models.SummaryArtifact{})
	return counts, errors.Wrap(err, "count summaries")
}
