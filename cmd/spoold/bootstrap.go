package main

import (
	"log/slog"

	"spool/internal/config"
	"spool/internal/logging"
	"spool/internal/nfo"
	"spool/internal/pipeline"
	"spool/internal/queue"
	"spool/internal/services/registry"
)

// buildPipeline assembles the service registry, the tracker targets, and
// the stage handlers. The queue store doubles as the TMDB payload cache.
func buildPipeline(cfg *config.Config, store *queue.Store, logger *slog.Logger) (*pipeline.Pipeline, error) {
	reg, err := registry.New(cfg, store, logger)
	if err != nil {
		return nil, err
	}
	targets, err := pipeline.BuildTargets(cfg, reg, logger)
	if err != nil {
		return nil, err
	}
	return pipeline.New(cfg, store, reg, targets, nfo.NewTemplateRenderer(), logging.NewComponentLogger(logger, "pipeline")), nil
}
