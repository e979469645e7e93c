package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"pdf-checker/api"
	"pdf-checker/app"
	"pdf-checker/config"
	"pdf-checker/services"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.LogDevelopment {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logging, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline, err := app.New(ctx, cfg, logging)
	if err != nil {
		logging.Fatal("Failed to assemble pipeline", zap.Error(err))
	}
	defer pipeline.Close()

	if !cfg.LogDevelopment {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(pipeline.Handler(logging.Named("api")))

	// Setup Cron
	cronScheduler := cron.New()
	if cfg.SweepEnabled {
		schedule(ctx, cronScheduler, logging, cfg.DocumentSweepSchedule, "analysis", func(ctx context.Context) (services.SweepReport, error) {
			return pipeline.Selector.SweepDocuments(ctx, pipeline.SweepOptions())
		})
		schedule(ctx, cronScheduler, logging, cfg.SummarySweepSchedule, "summary", func(ctx context.Context) (services.SweepReport, error) {
			return pipeline.Selector.SweepSummaries(ctx, pipeline.SweepOptions())
		})
		cronScheduler.Start()
	} else {
		logging.Info("In-process sweeps disabled; run `pdfchecker sweep` from an external scheduler")
	}

	// A sweep request waits for the slowest collaborator call.
	writeTimeout := 60 * time.Second
	if d := cfg.SweepAnalyzerTimeout + cfg.SweepSummarizerTimeout + 30*time.Second; d > writeTimeout {
		writeTimeout = d
	}
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logging.Info("Shutting down")
		<-cronScheduler.Stop().Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Error("Server shutdown failed", zap.Error(err))
		}
	}()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

// schedule registers a sweep; cron skips a tick while the previous run of the
// same sweep is still going.
func schedule(ctx context.Context, c *cron.Cron, logging *zap.Logger, spec, stage string, run func(context.Context) (services.SweepReport, error)) {
	if _, err := c.AddJob(spec, sweepJob(ctx, logging, stage, run)); err != nil {
		logging.Fatal("Invalid sweep schedule", zap.String("stage", stage), zap.String("schedule", spec), zap.Error(err))
	}
	logging.Info("Sweep scheduled", zap.String("stage", stage), zap.String("schedule", spec))
}

// sweepJob runs under ctx so shutdown cancels collaborator calls in flight;
// cancelled work is released and picked up by a later sweep.
func sweepJob(ctx context.Context, logging *zap.Logger, stage string, run func(context.Context) (services.SweepReport, error)) cron.Job {
	return cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.Error("Scheduled sweep failed", zap.String("stage", stage), zap.Error(err))
		}
	}))
}
