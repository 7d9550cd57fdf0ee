// Package pipeline implements the stage handlers that carry a file entry
// from discovery to tracker upload. Each handler owns one checkpoint; the
// workflow manager derives the next stage from the entry's checkpoints and
// persists artifacts atomically with the checkpoint, so a crashed or
// requeued run resumes exactly where the last committed stage left off.
package pipeline

import (
	"context"
	"log/slog"

	"spool/internal/config"
	"spool/internal/logging"
	"spool/internal/nfo"
	"spool/internal/queue"
	"spool/internal/services/registry"
	"spool/internal/stage"
	"spool/internal/trackers"
)

// Tracker is the slice of the adapter surface the pipeline consumes.
// *trackers.Adapter satisfies it; tests substitute stubs.
type Tracker interface {
	Slug() string
	Name() string
	Schema() *trackers.Schema
	AnnounceURL() string
	Authenticate(ctx context.Context) error
	DuplicateCheck(ctx context.Context, query trackers.DuplicateQuery) (*trackers.DuplicateDecision, error)
	Upload(ctx context.Context, uploadCtx map[string]any) (*trackers.UploadResult, error)
	ResolveCategory(ctx context.Context, keys []string) (string, bool)
	BuildOptions(ctx context.Context, input trackers.OptionInput) map[string]any
}

// Target pairs one tracker client with its per-tracker policy from config.
type Target struct {
	Client         Tracker
	SkipDuplicates bool
}

// Pipeline owns the seven stage handlers and hands them to the workflow
// manager keyed by stage.
type Pipeline struct {
	handlers map[queue.Stage]stage.Handler
}

// New assembles the handlers from config, the queue store, the service
// registry, the tracker targets, and the NFO renderer.
func New(cfg *config.Config, store *queue.Store, reg *registry.Registry, targets []Target, renderer nfo.Renderer, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	if renderer == nil {
		renderer = nfo.NewTemplateRenderer()
	}
	return &Pipeline{
		handlers: map[queue.Stage]stage.Handler{
			queue.StageScan:     NewScanner(cfg, logger),
			queue.StageAnalyze:  NewAnalyzeHandler(cfg, reg.Media, reg.TMDB, logger),
			queue.StageApprove:  NewApprover(cfg, logger),
			queue.StagePrepare:  NewPreparer(cfg, reg.ImageHost, logger),
			queue.StageRename:   NewRenamer(cfg, logger),
			queue.StageGenerate: NewGenerator(cfg, reg.Media, targets, renderer, logger),
			queue.StageUpload:   NewUploader(cfg, store, reg.QBittorrent, targets, renderer, reg.Media, logger),
		},
	}
}

// HandlerFor returns the handler that sets the given stage's checkpoint.
func (p *Pipeline) HandlerFor(st queue.Stage) (stage.Handler, bool) {
	handler, ok := p.handlers[st]
	return handler, ok
}

// Health polls every handler and returns the reports in stage order.
func (p *Pipeline) Health(ctx context.Context) []stage.Health {
	out := make([]stage.Health, 0, len(p.handlers))
	for _, st := range queue.Stages() {
		handler, ok := p.handlers[st]
		if !ok {
			continue
		}
		out = append(out, handler.HealthCheck(ctx))
	}
	return out
}

// BuildTargets loads every enabled tracker schema from config and wires an
// adapter for it: shared limiter with schema overrides applied, one breaker
// per slug, the FlareSolverr client for Cloudflare-protected trackers.
func BuildTargets(cfg *config.Config, reg *registry.Registry, logger *slog.Logger) ([]Target, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	targets := make([]Target, 0, len(cfg.Trackers))
	for _, tc := range cfg.Trackers {
		if !tc.IsEnabled() {
			continue
		}
		schema, err := trackers.LoadSchema(tc.SchemaPath)
		if err != nil {
			return nil, err
		}
		if err := reg.Limiter.Apply(schema.LimitOverrides()); err != nil {
			return nil, err
		}
		adapter := trackers.NewAdapter(schema, trackers.Credentials{
			APIKey:   tc.APIKey,
			Passkey:  tc.Passkey,
			Username: tc.Username,
			Password: tc.Password,
			Cookie:   tc.Cookie,
		},
			trackers.WithLimiter(reg.Limiter),
			trackers.WithBreaker(reg.Breaker(schema.Tracker.Slug)),
			trackers.WithSolver(reg.FlareSolverr),
			trackers.WithLogger(logging.NewComponentLogger(logger, "tracker."+schema.Tracker.Slug)),
		)
		targets = append(targets, Target{Client: adapter, SkipDuplicates: tc.SkipDuplicates()})
	}
	return targets, nil
}
