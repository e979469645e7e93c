package services

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"pdf-checker/jobs"
	"pdf-checker/metrics"
	"pdf-checker/models"
	"pdf-checker/providers"
	"pdf-checker/storage"
)

// Outcome is how one stage attempt ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	// OutcomeDeferred means the deadline passed and the work went back to pending.
	OutcomeDeferred Outcome = "deferred"
	OutcomeFailed   Outcome = "failed"
	// OutcomeNotRequired means the verdict ruled out the summary stage.
	OutcomeNotRequired Outcome = "not_required"
	// OutcomeConflict means someone else owns or already finished the work.
	OutcomeConflict Outcome = "conflict"
)

const (
	stageAnalysis = "analysis"
	stageSummary  = "summary"

	TriggerInline = "inline"
	TriggerSweep  = "sweep"
)

// Deadlines bound each collaborator call. They are per stage, not global.
type Deadlines struct {
	Analyzer   time.Duration
	Summarizer time.Duration
}

// RunReport describes one pass over a document. Summary is empty when the
// summary stage was not reached.
type RunReport struct {
	DocumentID string
	Analysis   Outcome
	Summary    Outcome
	// Err is the collaborator error behind a failed outcome.
	Err error
}

// StageResult is the outcome of a single stage attempt.
type StageResult struct {
	Outcome Outcome
	Err     error
	// NeedsSummary is set when this attempt completed the analysis with a not-accessible verdict.
	NeedsSummary bool
}

// Orchestrator runs the two stages for a claimed unit of work. The inline
// request path and the sweeps share it.
type Orchestrator struct {
	Documents  *jobs.DocumentMachine
	Summaries  *jobs.SummaryMachine
	Store      storage.BlobStore
	Analyzer   providers.Analyzer
	Summarizer providers.Summarizer
	Logger     *zap.Logger
	// Now is the clock used for claims.
	Now func() time.Time
}

// NewOrchestrator creates a new orchestrator.
func NewOrchestrator(documents *jobs.DocumentMachine, summaries *jobs.SummaryMachine, store storage.BlobStore,
	analyzer providers.Analyzer, summarizer providers.Summarizer, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		Documents:  documents,
		Summaries:  summaries,
		Store:      store,
		Analyzer:   analyzer,
		Summarizer: summarizer,
		Logger:     logger,
		Now:        time.Now,
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

// RunInline claims the document and runs both stages under the given
// deadlines. A document someone else owns or already finished is left alone.
// The returned error is reserved for store failures.
func (o *Orchestrator) RunInline(ctx context.Context, documentID string, d Deadlines) (RunReport, error) {
	lease, err := o.Documents.Claim(ctx, documentID, o.now())
	if err != nil {
		if jobs.IsClaimConflict(err) {
			metrics.Claims.WithLabelValues(stageAnalysis, "conflict").Inc()
			o.Logger.Debug("Document not claimable, leaving it to its owner",
				zap.String("document_id", documentID), zap.Error(err))
			return RunReport{DocumentID: documentID, Analysis: OutcomeConflict}, nil
		}
		return RunReport{DocumentID: documentID}, err
	}
	countClaim(stageAnalysis, lease)
	return o.RunClaimed(ctx, lease, d, TriggerInline)
}

// RunClaimed runs the analysis for a claimed document and, when the verdict
// asks for it, the summary stage right after.
func (o *Orchestrator) RunClaimed(ctx context.Context, lease jobs.Lease, d Deadlines, trigger string) (RunReport, error) {
	report := RunReport{DocumentID: lease.DocumentID}

	analysis, err := o.ProcessDocument(ctx, lease, d.Analyzer, trigger)
	if err != nil {
		return report, err
	}
	report.Analysis = analysis.Outcome
	report.Err = analysis.Err
	if !analysis.NeedsSummary {
		if analysis.Outcome == OutcomeCompleted {
			report.Summary = OutcomeNotRequired
		}
		return report, nil
	}

	// The artifact is created already claimed, before the summarizer is
	// called, so a concurrent sweep cannot start a second call.
	summaryLease, err := o.Summaries.Claim(ctx, lease.DocumentID, o.now())
	if err != nil {
		if jobs.IsClaimConflict(err) {
			metrics.Claims.WithLabelValues(stageSummary, "conflict").Inc()
			report.Summary = OutcomeConflict
			return report, nil
		}
		return report, err
	}
	countClaim(stageSummary, summaryLease)

	summary, err := o.ProcessSummary(ctx, summaryLease, d.Summarizer, trigger)
	if err != nil {
		return report, err
	}
	report.Summary = summary.Outcome
	if summary.Err != nil {
		report.Err = summary.Err
	}
	return report, nil
}

// ProcessDocument runs the analyzer for a claimed document and settles the
// claim: complete on success, release on timeout, fail on any other error.
func (o *Orchestrator) ProcessDocument(ctx context.Context, lease jobs.Lease, timeout time.Duration, trigger string) (StageResult, error) {
	log := o.Logger.With(
		zap.String("document_id", lease.DocumentID),
		zap.String("stage", stageAnalysis),
		zap.String("trigger", trigger))
	// Settling must happen even when the caller's context is gone.
	settleCtx := context.WithoutCancel(ctx)

	doc, err := o.Documents.Get(ctx, lease.DocumentID)
	if err != nil {
		o.release(settleCtx, log, stageAnalysis, lease)
		return StageResult{}, err
	}

	path, cleanup, err := storage.Materialize(ctx, o.Store, doc.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return o.failDocument(settleCtx, log, lease, trigger, err)
		}
		o.release(settleCtx, log, stageAnalysis, lease)
		return StageResult{}, err
	}
	defer cleanup()

	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	start := time.Now()
	verdict, err := o.Analyzer.Analyze(stageCtx, path)
	cancel()
	metrics.CollaboratorDuration.WithLabelValues(stageAnalysis).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
	case providers.IsTimeout(err):
		log.Info("Analyzer missed its deadline, releasing document", zap.Duration("timeout", timeout), zap.Error(err))
		o.release(settleCtx, log, stageAnalysis, lease)
		return o.finish(stageAnalysis, trigger, StageResult{Outcome: OutcomeDeferred}), nil
	default:
		return o.failDocument(settleCtx, log, lease, trigger, err)
	}

	result := &models.AnalysisResult{
		IsAccessible:      verdict.IsAccessible,
		ValidationProfile: verdict.ValidationProfile,
		TotalChecks:       verdict.TotalChecks,
		PassedChecks:      verdict.PassedChecks,
		FailedChecks:      verdict.FailedChecks,
		PassedRules:       verdict.PassedRules,
		FailedRules:       verdict.FailedRules,
		AnalyzerVersion:   verdict.AnalyzerVersion,
		Findings:          strings.Join(verdict.FailedRuleDescriptions, "\n"),
		RawJSON:           verdict.RawJSON,
		AnalyzedAt:        time.Now().UTC(),
	}
	settled, err := o.Documents.Complete(settleCtx, lease, result)
	if err != nil {
		if errors.Is(err, jobs.ErrClaimLost) {
			log.Warn("Claim lost before the analysis was stored, discarding result", zap.Error(err))
			return o.finish(stageAnalysis, trigger, StageResult{Outcome: OutcomeConflict}), nil
		}
		return StageResult{}, err
	}
	if !settled.Applied {
		log.Warn("Document already settled, discarding late analysis", zap.String("status", string(settled.Status)))
		return o.finish(stageAnalysis, trigger, StageResult{Outcome: OutcomeConflict}), nil
	}

	log.Info("Analysis completed", zap.Bool("is_accessible", verdict.IsAccessible))
	return o.finish(stageAnalysis, trigger, StageResult{
		Outcome:      OutcomeCompleted,
		NeedsSummary: result.RequiresSummary(),
	}), nil
}

func (o *Orchestrator) failDocument(ctx context.Context, log *zap.Logger, lease jobs.Lease, trigger string, cause error) (StageResult, error) {
	log.Warn("Analysis failed", zap.Error(cause))
	settled, err := o.Documents.Fail(ctx, lease, cause)
	if err != nil {
		if errors.Is(err, jobs.ErrClaimLost) {
			return o.finish(stageAnalysis, trigger, StageResult{Outcome: OutcomeConflict}), nil
		}
		return StageResult{}, err
	}
	if !settled.Applied {
		return o.finish(stageAnalysis, trigger, StageResult{Outcome: OutcomeConflict}), nil
	}
	return o.finish(stageAnalysis, trigger, StageResult{Outcome: OutcomeFailed, Err: cause}), nil
}

// ProcessSummary runs the summarizer for a claimed artifact and settles the
// claim the same way ProcessDocument does.
func (o *Orchestrator) ProcessSummary(ctx context.Context, lease jobs.Lease, timeout time.Duration, trigger string) (StageResult, error) {
	log := o.Logger.With(
		zap.String("document_id", lease.DocumentID),
		zap.String("stage", stageSummary),
		zap.String("trigger", trigger),
		zap.String("provider", o.Summarizer.Name()))
	settleCtx := context.WithoutCancel(ctx)

	doc, err := o.Documents.Get(ctx, lease.DocumentID)
	if err != nil {
		o.release(settleCtx, log, stageSummary, lease)
		return StageResult{}, err
	}
	analysis, err := o.Documents.Analysis(ctx, lease.DocumentID)
	if err != nil {
		o.release(settleCtx, log, stageSummary, lease)
		return StageResult{}, err
	}

	req := providers.SummaryRequest{
		DocumentID:       doc.ID,
		OriginalFilename: doc.OriginalFilename,
		Verdict:          verdictFromResult(analysis),
	}

	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	start := time.Now()
	summary, err := o.Summarizer.Summarize(stageCtx, req)
	cancel()
	metrics.CollaboratorDuration.WithLabelValues(stageSummary).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
	case providers.IsTimeout(err):
		log.Info("Summarizer missed its deadline, releasing summary", zap.Duration("timeout", timeout), zap.Error(err))
		o.release(settleCtx, log, stageSummary, lease)
		return o.finish(stageSummary, trigger, StageResult{Outcome: OutcomeDeferred}), nil
	default:
		log.Warn("Summary failed", zap.Error(err))
		settled, ferr := o.Summaries.Fail(settleCtx, lease, err)
		if ferr != nil {
			if errors.Is(ferr, jobs.ErrClaimLost) {
				return o.finish(stageSummary, trigger, StageResult{Outcome: OutcomeConflict}), nil
			}
			return StageResult{}, ferr
		}
		if !settled.Applied {
			return o.finish(stageSummary, trigger, StageResult{Outcome: OutcomeConflict}), nil
		}
		return o.finish(stageSummary, trigger, StageResult{Outcome: OutcomeFailed, Err: err}), nil
	}

	settled, err := o.Summaries.Complete(settleCtx, lease, jobs.SummaryOutput{
		Text:             summary.Text,
		Provider:         summary.Provider,
		Model:            summary.Model,
		Prompt:           summary.Prompt,
		ResponseID:       summary.ResponseID,
		FinishReason:     summary.FinishReason,
		PromptTokens:     summary.PromptTokens,
		CompletionTokens: summary.CompletionTokens,
		TotalTokens:      summary.TotalTokens,
		RawResponseJSON:  summary.RawResponseJSON,
		RequestedAt:      summary.RequestedAt,
	})
	if err != nil {
		if errors.Is(err, jobs.ErrClaimLost) {
			log.Warn("Claim lost before the summary was stored, discarding result", zap.Error(err))
			return o.finish(stageSummary, trigger, StageResult{Outcome: OutcomeConflict}), nil
		}
		return StageResult{}, err
	}
	if !settled.Applied {
		log.Warn("Summary already settled, discarding late result", zap.String("status", string(settled.Status)))
		return o.finish(stageSummary, trigger, StageResult{Outcome: OutcomeConflict}), nil
	}

	log.Info("Summary completed", zap.Int("total_tokens", summary.TotalTokens))
	return o.finish(stageSummary, trigger, StageResult{Outcome: OutcomeCompleted}), nil
}

type releaser interface {
	Release(ctx context.Context, lease jobs.Lease) error
}

func (o *Orchestrator) release(ctx context.Context, log *zap.Logger, stage string, lease jobs.Lease) {
	var r releaser = o.Documents
	if stage == stageSummary {
		r = o.Summaries
	}
	if err := r.Release(ctx, lease); err != nil {
		// Staleness recovery picks the row up later.
		log.Warn("Release failed", zap.Error(err))
	}
}

func (o *Orchestrator) finish(stage, trigger string, r StageResult) StageResult {
	metrics.StageOutcomes.WithLabelValues(stage, trigger, string(r.Outcome)).Inc()
	return r
}

func countClaim(stage string, lease jobs.Lease) {
	result := "claimed"
	if lease.Recovered {
		result = "recovered"
	}
	metrics.Claims.WithLabelValues(stage, result).Inc()
}

func verdictFromResult(r *models.AnalysisResult) *providers.Verdict {
	v := &providers.Verdict{
		IsAccessible:      r.IsAccessible,
		ValidationProfile: r.ValidationProfile,
		TotalChecks:       r.TotalChecks,
		PassedChecks:      r.PassedChecks,
		FailedChecks:      r.FailedChecks,
		PassedRules:       r.PassedRules,
		FailedRules:       r.FailedRules,
		AnalyzerVersion:   r.AnalyzerVersion,
	}
	for _, line := range strings.Split(r.Findings, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			v.FailedRuleDescriptions = append(v.FailedRuleDescriptions, line)
		}
	}
	return v
}
