package services

import (
	"context"

	"github.com/cockroachdb/errors"

	"pdf-checker/jobs"
	"pdf-checker/models"
)

// Projector builds the read-only views clients poll. It never writes.
type Projector struct {
	Documents *jobs.DocumentMachine
	Summaries *jobs.SummaryMachine
}

func NewProjector(documents *jobs.DocumentMachine, summaries *jobs.SummaryMachine) *Projector {
	return &Projector{Documents: documents, Summaries: summaries}
}

// Snapshot returns the current status of a document. Terminal is true once
// nothing further will happen without an operator reset.
func (p *Projector) Snapshot(ctx context.Context, id string) (models.Snapshot, error) {
	report, err := p.Report(ctx, id)
	if err != nil {
		return models.Snapshot{}, err
	}
	doc := report.Document

	snap := models.Snapshot{
		ID:          doc.ID,
		Status:      doc.Status,
		HasAnalysis: report.Analysis != nil,
	}
	if doc.ProcessingError != nil {
		snap.Error = *doc.ProcessingError
	}
	if report.Analysis != nil {
		accessible := report.Analysis.IsAccessible
		snap.IsAccessible = &accessible
	}

	needsSummary := report.Analysis.RequiresSummary()
	if a := report.Summary; a != nil {
		snap.SummaryStatus = a.Status
		snap.HasSummary = a.Status == models.StatusCompleted
		if a.Status == models.StatusFailed && a.Error != nil && snap.Error == "" {
			snap.Error = *a.Error
		}
	} else if needsSummary && doc.Status == models.StatusCompleted {
		snap.SummaryStatus = models.StatusPending
	}

	switch doc.Status {
	case models.StatusFailed:
		snap.Terminal = true
	case models.StatusCompleted:
		snap.Terminal = !needsSummary || snap.SummaryStatus.IsTerminal()
	}
	return snap, nil
}

// Report returns the document with its analysis and summary, when present.
func (p *Projector) Report(ctx context.Context, id string) (*models.Report, error) {
	doc, err := p.Documents.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	report := &models.Report{Document: doc}

	analysis, err := p.Documents.Analysis(ctx, id)
	switch {
	case err == nil:
		report.Analysis = analysis
	case !errors.Is(err, jobs.ErrNotFound):
		return nil, err
	}

	summary, err := p.Summaries.Get(ctx, id)
	switch {
	case err == nil:
		report.Summary = summary
	case !errors.Is(err, jobs.ErrNotFound):
		return nil, err
	}
	return report, nil
}
