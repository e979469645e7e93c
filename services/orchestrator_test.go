package services

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-checker/models"
	"pdf-checker/providers"
)

func TestAccessibleDocumentCompletesWithoutSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.submit(t, "accessible")

	report, err := f.orchestrator.RunInline(ctx, id, fastDeadlines)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, report.Analysis)
	assert.Equal(t, OutcomeNotRequired, report.Summary)
	assert.Equal(t, 0, f.summarizer.Calls())

	snap, err := f.projector.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, snap.Status)
	assert.True(t, snap.Terminal)
	assert.True(t, snap.HasAnalysis)
	assert.False(t, snap.HasSummary)
	require.NotNil(t, snap.IsAccessible)
	assert.True(t, *snap.IsAccessible)
	assert.Empty(t, snap.SummaryStatus)
}

func TestInaccessibleDocumentIsSummarizedInline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.analyzer.set(false, inaccessible, nil)
	id := f.submit(t, "inaccessible")

	report, err := f.orchestrator.RunInline(ctx, id, fastDeadlines)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, report.Analysis)
	assert.Equal(t, OutcomeCompleted, report.Summary)

	require.Equal(t, 1, f.summarizer.Calls())
	req := f.summarizer.requests[0]
	assert.Equal(t, id, req.DocumentID)
	assert.Equal(t, "inaccessible.pdf", req.OriginalFilename)
	assert.Equal(t, inaccessible.FailedRuleDescriptions, req.Verdict.FailedRuleDescriptions)

	snap, err := f.projector.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.True(t, snap.Terminal)
	assert.True(t, snap.HasSummary)
	assert.Equal(t, models.StatusCompleted, snap.SummaryStatus)

	full, err := f.projector.Report(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, full.Summary)
	require.NotNil(t, full.Summary.SummaryText)
	assert.Equal(t, "fake-summarizer", full.Summary.Provider)
	assert.Equal(t, 42, full.Summary.TotalTokens)
	assert.Equal(t, 1, full.Summary.Attempts)
}

func TestAnalyzerTimeoutLeavesDocumentPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.analyzer.set(true, nil, nil)
	id := f.submit(t, "slow-analysis")

	report, err := f.orchestrator.RunInline(ctx, id, tightDeadlines)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeferred, report.Analysis)
	assert.Empty(t, report.Summary)

	snap, err := f.projector.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, snap.Status)
	assert.False(t, snap.Terminal)
	assert.Empty(t, snap.Error)

	// The sweep has more time and finishes the job.
	f.analyzer.set(false, inaccessible, nil)
	docs, err := f.selector.SweepDocuments(ctx, SweepOptions{BatchSize: 5, Deadlines: fastDeadlines})
	require.NoError(t, err)
	assert.Equal(t, 1, docs.Claimed)
	assert.Equal(t, 1, docs.Outcomes[OutcomeCompleted])

	snap, err = f.projector.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, snap.Status)
	assert.True(t, snap.HasSummary, "sweep should cascade into the summary stage")
	assert.True(t, snap.Terminal)
}

func TestSummarizerTimeoutLeavesArtifactForSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.analyzer.set(false, inaccessible, nil)
	f.summarizer.set(true, nil)
	id := f.submit(t, "slow-summary")

	report, err := f.orchestrator.RunInline(ctx, id, tightDeadlines)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, report.Analysis)
	assert.Equal(t, OutcomeDeferred, report.Summary)

	snap, err := f.projector.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, snap.Status)
	assert.Equal(t, models.StatusPending, snap.SummaryStatus)
	assert.False(t, snap.HasSummary)
	assert.False(t, snap.Terminal)

	f.summarizer.set(false, nil)
	sums, err := f.selector.SweepSummaries(ctx, SweepOptions{BatchSize: 5, Deadlines: fastDeadlines})
	require.NoError(t, err)
	assert.Equal(t, 1, sums.Claimed)
	assert.Equal(t, 1, sums.Outcomes[OutcomeCompleted])

	snap, err = f.projector.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.True(t, snap.HasSummary)
	assert.True(t, snap.Terminal)

	artifact, err := f.summaries.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, artifact.Attempts)
}

func TestAnalyzerFailureIsTerminalUntilReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.analyzer.set(false, nil, providers.Execution("verapdf", "exit status 2", nil))
	id := f.submit(t, "broken")

	report, err := f.orchestrator.RunInline(ctx, id, fastDeadlines)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, report.Analysis)
	assert.Error(t, report.Err)
	assert.Equal(t, 0, f.summarizer.Calls())

	snap, err := f.projector.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, snap.Status)
	assert.True(t, snap.Terminal)
	assert.Contains(t, snap.Error, "exit status 2")

	// Sweeps never pick up failed documents.
	docs, err := f.selector.SweepDocuments(ctx, SweepOptions{BatchSize: 5, Deadlines: fastDeadlines})
	require.NoError(t, err)
	assert.Zero(t, docs.Claimed)

	reset, err := f.documents.Reset(ctx, id)
	require.NoError(t, err)
	assert.True(t, reset)

	f.analyzer.set(false, nil, nil)
	docs, err = f.selector.SweepDocuments(ctx, SweepOptions{BatchSize: 5, Deadlines: fastDeadlines})
	require.NoError(t, err)
	assert.Equal(t, 1, docs.Outcomes[OutcomeCompleted])
}

func TestSummaryFailureIsRecordedOnArtifact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.analyzer.set(false, inaccessible, nil)
	f.summarizer.set(false, providers.ErrAuth)
	id := f.submit(t, "bad-credentials")

	report, err := f.orchestrator.RunInline(ctx, id, fastDeadlines)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, report.Analysis)
	assert.Equal(t, OutcomeFailed, report.Summary)
	assert.ErrorIs(t, report.Err, providers.ErrAuth)

	snap, err := f.projector.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, snap.Status)
	assert.Equal(t, models.StatusFailed, snap.SummaryStatus)
	assert.True(t, snap.Terminal)
	assert.False(t, snap.HasSummary)
	assert.Contains(t, snap.Error, providers.ErrAuth.Error())
}

func TestRunInlineLeavesSettledDocumentAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.submit(t, "twice")

	_, err := f.orchestrator.RunInline(ctx, id, fastDeadlines)
	require.NoError(t, err)

	report, err := f.orchestrator.RunInline(ctx, id, fastDeadlines)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, report.Analysis)
	assert.Equal(t, 1, f.analyzer.Calls())
}

func TestMissingBlobFailsDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.submit(t, "vanished")

	doc, err := f.documents.Get(ctx, id)
	require.NoError(t, err)
	require.NoError(t, os.Remove(f.store.Path(doc.StorageKey)))

	report, err := f.orchestrator.RunInline(ctx, id, fastDeadlines)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, report.Analysis)
	assert.Equal(t, 0, f.analyzer.Calls())
}

func TestStaleAnalysisIsRecoveredAndLateResultDiscarded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.submit(t, "crashed-worker")

	// A worker claimed the document long ago and never came back.
	abandoned, err := f.documents.Claim(ctx, id, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	docs, err := f.selector.SweepDocuments(ctx, SweepOptions{BatchSize: 5, Deadlines: fastDeadlines})
	require.NoError(t, err)
	assert.Equal(t, 1, docs.Claimed)
	assert.Equal(t, 1, docs.Outcomes[OutcomeCompleted])

	settled, err := f.documents.Complete(ctx, abandoned, &models.AnalysisResult{IsAccessible: false})
	require.NoError(t, err)
	assert.False(t, settled.Applied)

	analysis, err := f.documents.Analysis(ctx, id)
	require.NoError(t, err)
	assert.True(t, analysis.IsAccessible, "the late verdict must not overwrite the stored one")
}
