// Package queueaccess gives the CLI one queue view that works whether or
// not the daemon is running. Reads prefer the daemon status API and fall
// back to opening the store directly.
package queueaccess

import (
	"context"

	"spool/internal/api"
	"spool/internal/queue"
)

// Access provides queue reads regardless of API or direct store backing.
type Access interface {
	Stats(ctx context.Context) (map[string]int, error)
	List(ctx context.Context, statuses []string) ([]api.QueueEntry, error)
	Describe(ctx context.Context, id int64) (*api.QueueEntry, error)
	Health(ctx context.Context) (*api.HealthResponse, error)
}

// NewAPIAccess returns an Access backed by the daemon status API.
func NewAPIAccess(client *api.Client) Access {
	return &apiAccess{client: client}
}

// NewStoreAccess returns an Access backed by direct DB access.
func NewStoreAccess(store *queue.Store) Access {
	return &storeAccess{store: store, service: api.NewQueueService(store)}
}

type apiAccess struct {
	client *api.Client
}

func (a *apiAccess) Stats(ctx context.Context) (map[string]int, error) {
	status, err := a.client.Status(ctx)
	if err != nil {
		return nil, err
	}
	return status.Entries, nil
}

func (a *apiAccess) List(ctx context.Context, statuses []string) ([]api.QueueEntry, error) {
	return a.client.Queue(ctx, statuses)
}

func (a *apiAccess) Describe(ctx context.Context, id int64) (*api.QueueEntry, error) {
	return a.client.Describe(ctx, id)
}

func (a *apiAccess) Health(ctx context.Context) (*api.HealthResponse, error) {
	return a.client.Health(ctx)
}

type storeAccess struct {
	store   *queue.Store
	service *api.QueueService
}

func (a *storeAccess) Stats(ctx context.Context) (map[string]int, error) {
	return a.service.Stats(ctx)
}

func (a *storeAccess) List(ctx context.Context, statuses []string) ([]api.QueueEntry, error) {
	var filters []queue.Status
	for _, s := range statuses {
		if parsed, ok := queue.ParseStatus(s); ok {
			filters = append(filters, parsed)
		}
	}
	return a.service.List(ctx, filters...)
}

func (a *storeAccess) Describe(ctx context.Context, id int64) (*api.QueueEntry, error) {
	return a.service.Describe(ctx, id)
}

func (a *storeAccess) Health(ctx context.Context) (*api.HealthResponse, error) {
	summary, err := a.store.Health(ctx)
	if err != nil {
		return nil, err
	}
	return &api.HealthResponse{
		Healthy: true,
		Queue: api.QueueHealth{
			Total:     summary.Total,
			Pending:   summary.Pending,
			InFlight:  summary.InFlight,
			Uploaded:  summary.Uploaded,
			Failed:    summary.Failed,
			Cancelled: summary.Cancelled,
		},
	}, nil
}
