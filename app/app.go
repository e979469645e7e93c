// Package app wires configuration into the pipeline for the server and the CLI.
package app

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"pdf-checker/api"
	"pdf-checker/config"
	"pdf-checker/jobs"
	"pdf-checker/providers"
	"pdf-checker/providers/openrouter"
	"pdf-checker/providers/verapdf"
	"pdf-checker/providers/vertex"
	"pdf-checker/services"
	"pdf-checker/storage"
)

// App is the assembled pipeline.
type App struct {
	Config       *config.Config
	DB           *gorm.DB
	Documents    *jobs.DocumentMachine
	Summaries    *jobs.SummaryMachine
	Store        storage.BlobStore
	Orchestrator *services.Orchestrator
	Selector     *services.Selector
	Projector    *services.Projector
	Submissions  *services.Submissions
	Fetcher      *services.RemoteFetcher

	closers []io.Closer
}

// New opens the database, the blob store and the collaborators.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	db, err := jobs.Open(cfg.DBDriver, cfg.DSN())
	if err != nil {
		return nil, err
	}
	logger.Info("Connected to database", zap.String("driver", cfg.DBDriver), zap.String("dsn", cfg.RedactedDSN()))

	a := &App{Config: cfg, DB: db}
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB)
	}

	a.Store, err = storage.New(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, errors.Wrap(err, "blob store")
	}
	if c, ok := a.Store.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	summarizer, err := newSummarizer(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	if c, ok := summarizer.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	analyzer := verapdf.NewAnalyzer(logger.Named("verapdf"),
		verapdf.WithBinary(cfg.VeraPDFPath),
		verapdf.WithFlavour(cfg.VeraPDFFlavour))

	a.Documents = jobs.NewDocumentMachine(db, cfg.StalenessThreshold)
	a.Summaries = jobs.NewSummaryMachine(db, cfg.StalenessThreshold)
	a.Orchestrator = services.NewOrchestrator(a.Documents, a.Summaries, a.Store, analyzer, summarizer, logger)
	a.Selector = services.NewSelector(a.Orchestrator, logger.Named("sweep"))
	a.Projector = services.NewProjector(a.Documents, a.Summaries)
	a.Submissions = services.NewSubmissions(a.Documents, a.Store, cfg.MaxUploadBytes, logger)
	a.Fetcher = services.NewRemoteFetcher(cfg.MaxUploadBytes, logger.Named("fetch"))

	logger.Info("Pipeline ready",
		zap.String("storage", a.Store.Name()),
		zap.String("analyzer", analyzer.Name()),
		zap.String("summarizer", summarizer.Name()))
	return a, nil
}

func newSummarizer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (providers.Summarizer, error) {
	switch cfg.SummarizerProvider {
	case "openrouter":
		if cfg.OpenRouterAPIKey == "" {
			logger.Warn("OPENROUTER_API_KEY is empty; summaries will fail with an auth error")
		}
		return openrouter.NewClient(openrouter.Config{
			APIKey:            cfg.OpenRouterAPIKey,
			Model:             cfg.OpenRouterModel,
			BaseURL:           cfg.OpenRouterBaseURL,
			RequestsPerSecond: cfg.OpenRouterRPS,
		}, logger.Named("openrouter")), nil
	case "vertex":
		client, err := vertex.NewClient(ctx, cfg.VertexProjectID, cfg.VertexRegion, cfg.VertexModel, logger.Named("vertex"))
		if err != nil {
			return nil, errors.Wrap(err, "vertex summarizer")
		}
		return client, nil
	default:
		return nil, errors.Newf("unknown summarizer provider %q", cfg.SummarizerProvider)
	}
}

// InlineDeadlines are used while a client waits for the response.
func (a *App) InlineDeadlines() services.Deadlines {
	return services.Deadlines{Analyzer: a.Config.InlineAnalyzerTimeout, Summarizer: a.Config.InlineSummarizerTimeout}
}

// SweepDeadlines are used by background sweeps.
func (a *App) SweepDeadlines() services.Deadlines {
	return services.Deadlines{Analyzer: a.Config.SweepAnalyzerTimeout, Summarizer: a.Config.SweepSummarizerTimeout}
}

// SweepOptions returns the configured batch with sweep deadlines.
func (a *App) SweepOptions() services.SweepOptions {
	return services.SweepOptions{BatchSize: a.Config.SweepBatchSize, Deadlines: a.SweepDeadlines()}
}

// Handler builds the HTTP handler set.
func (a *App) Handler(logger *zap.Logger) *api.Handler {
	return &api.Handler{
		Submissions:  a.Submissions,
		Fetcher:      a.Fetcher,
		Orchestrator: a.Orchestrator,
		Selector:     a.Selector,
		Projector:    a.Projector,
		Inline:       a.InlineDeadlines(),
		Sweep:        a.SweepDeadlines(),
		BatchSize:    a.Config.SweepBatchSize,
		APIKey:       a.Config.APISecretKey,
		Logger:       logger,
	}
}

// Close releases clients in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
}
