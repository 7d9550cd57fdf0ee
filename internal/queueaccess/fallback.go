package queueaccess

import (
	"context"
	"fmt"

	"spool/internal/api"
	"spool/internal/queue"
)

// Session represents a queue access handle and its cleanup function.
type Session struct {
	Access Access

	// Store is non-nil only for direct store sessions. Mutating commands
	// require it because the status API is read-only.
	Store *queue.Store

	close func() error
}

// Close releases resources associated with the session.
func (s Session) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// ViaAPI reports whether the session talks to a running daemon.
func (s Session) ViaAPI() bool {
	return s.Store == nil
}

// OpenWithFallback tries API-backed access first, then falls back to
// direct store access.
func OpenWithFallback(
	ctx context.Context,
	client *api.Client,
	openStore func() (*queue.Store, error),
) (Session, error) {
	if client != nil && client.Ping(ctx) {
		return Session{
			Access: NewAPIAccess(client),
			close:  nil,
		}, nil
	}

	if openStore == nil {
		return Session{}, fmt.Errorf("open queue store: no store opener configured")
	}
	store, err := openStore()
	if err != nil {
		return Session{}, fmt.Errorf("open queue store: %w", err)
	}
	return Session{
		Access: NewStoreAccess(store),
		Store:  store,
		close:  store.Close,
	}, nil
}

// OpenStore opens a direct store session, bypassing the API. Mutating
// commands use this even while the daemon runs.
func OpenStore(openStore func() (*queue.Store, error)) (Session, error) {
	if openStore == nil {
		return Session{}, fmt.Errorf("open queue store: no store opener configured")
	}
	store, err := openStore()
	if err != nil {
		return Session{}, fmt.Errorf("open queue store: %w", err)
	}
	return Session{
		Access: NewStoreAccess(store),
		Store:  store,
		close:  store.Close,
	}, nil
}
