package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-checker/jobs"
	"pdf-checker/models"
)

func TestSnapshotOfFreshSubmission(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, "fresh")

	snap, err := f.projector.Snapshot(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, snap.ID)
	assert.Equal(t, models.StatusPending, snap.Status)
	assert.False(t, snap.Terminal)
	assert.False(t, snap.HasAnalysis)
	assert.Nil(t, snap.IsAccessible)
	assert.Empty(t, snap.SummaryStatus)
}

func TestSnapshotOfUnknownDocument(t *testing.T) {
	f := newFixture(t)

	_, err := f.projector.Snapshot(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, jobs.ErrNotFound)
}

func TestReportDoesNotWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.analyzer.set(false, inaccessible, nil)
	f.summarizer.set(true, nil)
	id := f.submit(t, "read-only")
	_, err := f.orchestrator.RunInline(ctx, id, tightDeadlines)
	require.NoError(t, err)

	before, err := f.summaries.Get(ctx, id)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		report, err := f.projector.Report(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, report.Analysis)
		assert.False(t, report.Analysis.IsAccessible)
	}
	after, err := f.summaries.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.Attempts, after.Attempts)
	assert.Equal(t, 1, f.summarizer.Calls())
}
