package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CacheTMDB stores or refreshes the raw TMDB payload for a movie id.
func (s *Store) CacheTMDB(ctx context.Context, tmdbID int64, payload []byte) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO tmdb_cache (tmdb_id, payload, fetched_at) VALUES (?, ?, ?)
         ON CONFLICT(tmdb_id) DO UPDATE SET payload = excluded.payload, fetched_at = excluded.fetched_at`,
		tmdbID,
		string(payload),
		formatTime(time.Now()),
	); err != nil {
		return fmt.Errorf("cache tmdb payload: %w", err)
	}
	return nil
}

// CachedTMDB returns the stored TMDB payload for a movie id when it is
// younger than the TTL. Expired or missing rows report ok=false.
func (s *Store) CachedTMDB(ctx context.Context, tmdbID int64, ttl time.Duration) ([]byte, bool, error) {
	var (
		payload   string
		fetchedAt string
	)
	err := s.db.QueryRowContext(
		ctx,
		`SELECT payload, fetched_at FROM tmdb_cache WHERE tmdb_id = ?`,
		tmdbID,
	).Scan(&payload, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read tmdb cache: %w", err)
	}

	ts := parseTimeString(fetchedAt)
	if ts == nil || (ttl > 0 && time.Since(*ts) > ttl) {
		return nil, false, nil
	}
	return []byte(payload), true, nil
}

// PruneTMDBCache deletes cache rows older than the TTL.
func (s *Store) PruneTMDBCache(ctx context.Context, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, nil
	}
	cutoff := formatTime(time.Now().Add(-ttl))
	res, err := s.execWithRetry(ctx, `DELETE FROM tmdb_cache WHERE fetched_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune tmdb cache: %w", err)
	}
	return res.RowsAffected()
}
