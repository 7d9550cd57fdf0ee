package trackers

import (
	"context"
	"net/http"
	"strings"

	"spool/internal/services/flaresolverr"
)

// SearchResult is one torrent listed by a tracker's search endpoint,
// normalized across the Torznab and JSON wire formats.
type SearchResult struct {
	ID          string
	Name        string
	Category    string
	DownloadURL string
	PublishedAt string
	InfoHash    string
	IMDBID      string
	TMDBID      string
	SizeBytes   int64
	Seeders     int
	Leechers    int
}

// DuplicateQuery carries the release identity the duplicate check matches
// against. Identifiers are tried in decreasing precision: TMDB id, IMDB id,
// then the normalized release name.
type DuplicateQuery struct {
	TMDBID      int64
	IMDBID      string
	ReleaseName string
	SizeBytes   int64
	Quality     string
}

// DuplicateDecision is the outcome of a duplicate check. Duplicate is true
// only for an exact match (size within tolerance); similar releases are
// reported through Matches with Duplicate false so the upload proceeds.
type DuplicateDecision struct {
	Duplicate bool
	Method    string
	Reason    string
	Matches   []SearchResult
}

// UploadResult reports a parsed upload response.
type UploadResult struct {
	TorrentID  string
	TorrentURL string
	Raw        map[string]any
}

// TestReport is the outcome of one dry-run probe (auth, search, upload).
type TestReport struct {
	Operation string
	OK        bool
	Detail    string
}

// Credentials is the runtime-mutable secret material paired with a schema.
type Credentials struct {
	APIKey   string
	Passkey  string
	Username string
	Password string
	Cookie   string
}

// key returns the effective credential for header-based auth types.
func (c Credentials) key() string {
	if k := strings.TrimSpace(c.APIKey); k != "" {
		return k
	}
	return strings.TrimSpace(c.Passkey)
}

// HTTPDoer abstracts http.Client.Do for testing.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Limiter is the slice of the rate-limit registry the adapter consumes.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// Solver obtains Cloudflare clearance sessions for protected trackers.
// *flaresolverr.Client satisfies it.
type Solver interface {
	Session(ctx context.Context, targetURL string) (*flaresolverr.Session, error)
	Invalidate(targetURL string)
}
