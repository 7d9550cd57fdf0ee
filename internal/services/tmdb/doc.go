// Package tmdb looks up movie metadata from The Movie Database.
//
// Lookups by id consult the persistent payload cache before touching the
// network, so re-processing a queue entry costs nothing against the API
// quota. All network calls are paced through the shared rate limiter and
// retried with backoff; failures carry taxonomy markers so the worker can
// tell a bad api key from a flaky connection.
package tmdb
