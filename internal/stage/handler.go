package stage

import (
	"context"

	"spool/internal/queue"
)

// Handler is the contract the worker needs from each pipeline stage.
// Prepare validates preconditions and cheap derived state; Execute performs
// the work and fills the artifacts the store persists atomically with the
// stage checkpoint.
type Handler interface {
	Prepare(context.Context, *queue.FileEntry) error
	Execute(context.Context, *queue.FileEntry, *queue.Artifacts) error
	HealthCheck(context.Context) Health
}
