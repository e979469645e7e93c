package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pdf-checker/jobs"
	"pdf-checker/metrics"
)

// SweepOptions bound one sweep run.
type SweepOptions struct {
	BatchSize int
	// Concurrency is the number of items processed in parallel; at least 1.
	Concurrency int
	Deadlines   Deadlines
	// Now overrides the clock used for claims and the staleness cutoff.
	Now time.Time
}

// SweepReport counts what one sweep did.
type SweepReport struct {
	Stage    string
	Claimed  int
	Outcomes map[Outcome]int
	Duration time.Duration
}

func (r *SweepReport) add(o Outcome) {
	if o == "" {
		return
	}
	r.Outcomes[o]++
}

// Selector finds claimable work (pending, or processing past the staleness
// threshold) and runs it through the orchestrator with sweep deadlines.
type Selector struct {
	Orchestrator *Orchestrator
	Logger       *zap.Logger
}

func NewSelector(orchestrator *Orchestrator, logger *zap.Logger) *Selector {
	return &Selector{Orchestrator: orchestrator, Logger: logger}
}

type claimFunc func(ctx context.Context, limit int, now time.Time, exclude ...string) ([]jobs.Lease, error)

type processFunc func(ctx context.Context, lease jobs.Lease) (RunReport, error)

// SweepDocuments claims and analyzes up to BatchSize documents. Documents
// that turn out not accessible go straight on to the summary stage.
func (s *Selector) SweepDocuments(ctx context.Context, opts SweepOptions) (SweepReport, error) {
	o := s.Orchestrator
	return s.sweep(ctx, stageAnalysis, opts, o.Documents.ClaimBatch,
		func(ctx context.Context, lease jobs.Lease) (RunReport, error) {
			return o.RunClaimed(ctx, lease, opts.Deadlines, TriggerSweep)
		})
}

// SweepSummaries claims and summarizes up to BatchSize artifacts, including
// not-accessible documents that never got one.
func (s *Selector) SweepSummaries(ctx context.Context, opts SweepOptions) (SweepReport, error) {
	o := s.Orchestrator
	return s.sweep(ctx, stageSummary, opts, o.Summaries.ClaimBatch,
		func(ctx context.Context, lease jobs.Lease) (RunReport, error) {
			r, err := o.ProcessSummary(ctx, lease, opts.Deadlines.Summarizer, TriggerSweep)
			return RunReport{DocumentID: lease.DocumentID, Summary: r.Outcome, Err: r.Err}, err
		})
}

// SweepAll runs both sweeps concurrently.
func (s *Selector) SweepAll(ctx context.Context, opts SweepOptions) (SweepReport, SweepReport, error) {
	var documents, summaries SweepReport
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		documents, err = s.SweepDocuments(gctx, opts)
		return err
	})
	g.Go(func() error {
		var err error
		summaries, err = s.SweepSummaries(gctx, opts)
		return err
	})
	err := g.Wait()
	return documents, summaries, err
}

// sweep claims one item at a time so every claim timestamp is fresh when
// its work starts. An item is claimed at most once per sweep: one that times
// out goes back to pending for the next sweep instead of being picked again
// ahead of younger work. Workers stop when the batch budget is spent or
// nothing claimable is left.
func (s *Selector) sweep(ctx context.Context, stage string, opts SweepOptions, claim claimFunc, process processFunc) (SweepReport, error) {
	start := time.Now()
	report := SweepReport{Stage: stage, Outcomes: map[Outcome]int{}}
	if opts.BatchSize <= 0 {
		return report, nil
	}
	workers := opts.Concurrency
	if workers < 1 {
		workers = 1
	}
	if workers > opts.BatchSize {
		workers = opts.BatchSize
	}

	var (
		mu      sync.Mutex
		claimed []string
		budget  atomic.Int64
	)
	budget.Store(int64(opts.BatchSize))

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for budget.Add(-1) >= 0 {
				if err := gctx.Err(); err != nil {
					return err
				}
				now := opts.Now
				if now.IsZero() {
					now = s.Orchestrator.now()
				}
				mu.Lock()
				exclude := append([]string(nil), claimed...)
				mu.Unlock()
				leases, err := claim(gctx, 1, now, exclude...)
				if err != nil {
					return err
				}
				if len(leases) == 0 {
					return nil
				}
				lease := leases[0]
				mu.Lock()
				claimed = append(claimed, lease.DocumentID)
				mu.Unlock()
				countClaim(stage, lease)
				if lease.Recovered {
					s.Logger.Info("Recovered stale claim",
						zap.String("stage", stage), zap.String("document_id", lease.DocumentID))
				}

				run, err := process(gctx, lease)
				mu.Lock()
				report.Claimed++
				if stage == stageAnalysis {
					report.add(run.Analysis)
				} else {
					report.add(run.Summary)
				}
				mu.Unlock()
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	err := g.Wait()
	report.Duration = time.Since(start)
	metrics.SweepDuration.WithLabelValues(stage).Observe(report.Duration.Seconds())

	log := s.Logger.With(zap.String("stage", stage), zap.Int("claimed", report.Claimed), zap.Duration("duration", report.Duration))
	if err != nil {
		log.Error("Sweep aborted", zap.Error(err))
		return report, err
	}
	if report.Claimed > 0 {
		log.Info("Sweep finished", zap.Any("outcomes", report.Outcomes))
	} else {
		log.Debug("Sweep found nothing to do")
	}
	return report, nil
}
