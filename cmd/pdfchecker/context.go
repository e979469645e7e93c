package main

import (
	"context"

	"go.uber.org/zap"

	"pdf-checker/app"
	"pdf-checker/config"
)

type commandContext struct {
	verbose bool
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

func (c *commandContext) logger(cfg *config.Config) (*zap.Logger, error) {
	if c.verbose || cfg.LogDevelopment {
		return zap.NewDevelopment()
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return zc.Build()
}

// withApp loads the configuration, assembles the pipeline and hands it to fn.
func (c *commandContext) withApp(ctx context.Context, fn func(a *app.App, logger *zap.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := c.logger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a, logger)
}
