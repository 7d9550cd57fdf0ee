package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"spool/internal/config"
	"spool/internal/logging"
	"spool/internal/queue"
	"spool/internal/stage"
)

// ErrAwaitingApproval is returned by the approve stage when the policy is
// hold. The worker completes the job at this boundary and leaves the entry
// parked until an operator approves it.
var ErrAwaitingApproval = errors.New("awaiting manual approval")

// Approver gates the pipeline behind the configured approval policy.
type Approver struct {
	cfg    *config.Config
	logger *slog.Logger
}

// NewApprover constructs the approve stage handler.
func NewApprover(cfg *config.Config, logger *slog.Logger) *Approver {
	return &Approver{cfg: cfg, logger: logging.NewComponentLogger(logger, "approve")}
}

// Prepare requires identified metadata before the gate is evaluated.
func (a *Approver) Prepare(ctx context.Context, entry *queue.FileEntry) error {
	_, err := stage.ParseMetadata(entry)
	return err
}

// Execute approves immediately under the auto policy and parks the entry
// under hold.
func (a *Approver) Execute(ctx context.Context, entry *queue.FileEntry, artifacts *queue.Artifacts) error {
	logger := logging.WithContext(ctx, a.logger)
	if a.cfg.Approval.Mode == config.ApprovalHold {
		logger.Info("holding entry for manual approval")
		return ErrAwaitingApproval
	}
	logger.Info("approved automatically")
	return nil
}

// HealthCheck always passes; the gate has no external dependencies.
func (a *Approver) HealthCheck(ctx context.Context) stage.Health {
	return stage.Healthy("approve")
}
