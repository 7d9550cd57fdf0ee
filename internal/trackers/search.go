package trackers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"spool/internal/logging"
	"spool/internal/services"
)

// Query names the identifiers a search may carry. Zero-valued fields are
// omitted from the request.
type Query struct {
	TMDBID int64
	IMDBID string
	Text   string
}

func (q Query) empty() bool {
	return q.TMDBID == 0 && strings.TrimSpace(q.IMDBID) == "" && strings.TrimSpace(q.Text) == ""
}

// paramName maps a semantic query key through the schema's renames.
func (s *SearchSpec) paramName(key, fallback string) string {
	if s.Params != nil {
		if renamed, ok := s.Params[key]; ok && renamed != "" {
			return renamed
		}
	}
	return fallback
}

// Search issues the schema's search endpoint and parses the response per the
// configured wire format. The call is paced by the tracker's search bucket
// and retried on transient failures.
func (a *Adapter) Search(ctx context.Context, query Query) ([]SearchResult, error) {
	endpoint, ok := a.schema.Endpoints["search"]
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, a.Slug(), "search", "no search endpoint in schema", nil)
	}

	params := url.Values{}
	if query.TMDBID > 0 {
		params.Set(a.schema.Search.paramName("tmdb_id", "tmdbId"), strconv.FormatInt(query.TMDBID, 10))
	}
	if imdb := strings.TrimSpace(query.IMDBID); imdb != "" {
		params.Set(a.schema.Search.paramName("imdb_id", "imdb"), imdb)
	}
	if text := strings.TrimSpace(query.Text); text != "" {
		params.Set(a.schema.Search.paramName("query", "q"), text)
	}
	if params.Get("q") == "" && query.empty() && a.schema.Search.DefaultQuery != "" {
		params.Set(a.schema.Search.paramName("query", "q"), a.schema.Search.DefaultQuery)
	}

	if err := a.waitLimiter(ctx, a.searchKey()); err != nil {
		return nil, err
	}

	var payload []byte
	err := services.Retry(ctx, "tracker search", func() error {
		reply, err := a.do(ctx, endpoint, params, nil, defaultRequestTimeout)
		if err != nil {
			return err
		}
		if statusErr := services.ErrorFromStatus(a.Slug(), "search", reply.StatusCode, reply.retryAfter()); statusErr != nil {
			return statusErr
		}
		payload = reply.Body
		return nil
	}, services.WithRetryLogger(a.logger))
	if err != nil {
		return nil, err
	}

	results, err := a.parseSearchPayload(payload)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("search completed", logging.Int("results", len(results)))
	return results, nil
}

// parseSearchPayload dispatches on the configured mode, sniffing XML when a
// JSON-mode tracker answers with a Torznab feed anyway.
func (a *Adapter) parseSearchPayload(payload []byte) ([]SearchResult, error) {
	trimmed := bytes.TrimSpace(payload)
	looksXML := bytes.HasPrefix(trimmed, []byte("<?xml")) || bytes.HasPrefix(trimmed, []byte("<rss"))
	if a.schema.Search.Mode == SearchModeTorznab || looksXML {
		return parseTorznab(a.Slug(), trimmed)
	}
	return a.parseJSONSearch(trimmed)
}

func (a *Adapter) parseJSONSearch(payload []byte) ([]SearchResult, error) {
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, services.Wrap(services.ErrExternalUnavailable, a.Slug(), "search", "decode response", err)
	}
	listValue := decoded
	if path := a.schema.Search.ResponsePath; path != "" {
		resolved, ok := ResolvePath(decoded, path)
		if !ok {
			return nil, nil
		}
		listValue = resolved
	}
	items, ok := listValue.([]any)
	if !ok {
		return nil, services.Wrap(services.ErrExternalUnavailable, a.Slug(), "search",
			fmt.Sprintf("response path %q is not a list", a.schema.Search.ResponsePath), nil)
	}
	results := make([]SearchResult, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		results = append(results, a.jsonSearchResult(entry))
	}
	return results, nil
}

func (a *Adapter) jsonSearchResult(entry map[string]any) SearchResult {
	result := SearchResult{}
	for _, field := range a.schema.Search.IDFields {
		if value, ok := PathString(entry, field); ok && value != "" {
			result.ID = value
			break
		}
	}
	pick := func(paths ...string) string {
		for _, path := range paths {
			if value, ok := PathString(entry, path); ok && value != "" {
				return value
			}
		}
		return ""
	}
	result.Name = pick("name", "title", "attributes.name", "release_name")
	result.Category = pick("category", "category_name", "attributes.category")
	result.DownloadURL = pick("download_url", "download", "link", "attributes.download_link")
	result.PublishedAt = pick("created_at", "published", "pubDate", "attributes.created_at")
	result.InfoHash = strings.ToLower(pick("info_hash", "infohash", "attributes.info_hash"))
	result.IMDBID = pick("imdb_id", "imdb", "attributes.imdb_id")
	result.TMDBID = pick("tmdb_id", "tmdb", "attributes.tmdb_id")
	if size := pick("size", "size_bytes", "attributes.size"); size != "" {
		if parsed, err := strconv.ParseInt(size, 10, 64); err == nil {
			result.SizeBytes = parsed
		}
	}
	result.Seeders = atoiSafe(pick("seeders", "attributes.seeders"))
	result.Leechers = atoiSafe(pick("leechers", "peers", "attributes.leechers"))
	return result
}

// sizeTolerance is the relative size window for an exact duplicate match.
const sizeTolerance = 0.01

var yearSuffixPattern = regexp.MustCompile(`[.\s][12][09]\d{2}([.\s].*)?$`)

// normalizedTitle strips a release name down to its searchable title:
// everything from the year token on is dropped and dots become spaces.
func normalizedTitle(releaseName string) string {
	name := yearSuffixPattern.ReplaceAllString(releaseName, "")
	name = strings.ReplaceAll(name, ".", " ")
	return strings.Join(strings.Fields(name), " ")
}

// DuplicateCheck searches the tracker for an existing copy of the release.
// Identifiers are tried from most to least precise; the first search that
// returns candidates decides. An exact duplicate is a candidate whose size
// sits within one percent of ours. Search failures never block an upload:
// the decision reports the error and lets the caller proceed.
func (a *Adapter) DuplicateCheck(ctx context.Context, query DuplicateQuery) (*DuplicateDecision, error) {
	type attempt struct {
		method string
		query  Query
	}
	attempts := make([]attempt, 0, 3)
	if query.TMDBID > 0 {
		attempts = append(attempts, attempt{method: "tmdb", query: Query{TMDBID: query.TMDBID}})
	}
	if imdb := strings.TrimSpace(query.IMDBID); imdb != "" {
		attempts = append(attempts, attempt{method: "imdb", query: Query{IMDBID: imdb}})
	}
	if title := normalizedTitle(query.ReleaseName); title != "" {
		attempts = append(attempts, attempt{method: "name", query: Query{Text: title}})
	}
	if len(attempts) == 0 {
		return &DuplicateDecision{Reason: "no identifiers to search by"}, nil
	}

	for _, att := range attempts {
		if err := ctx.Err(); err != nil {
			return nil, services.Wrap(services.ErrCancelled, a.Slug(), "duplicate check", "", err)
		}
		results, err := a.Search(ctx, att.query)
		if err != nil {
			// Availability beats strictness: a tracker that cannot answer
			// does not get to block the upload.
			a.logger.Warn("duplicate check search failed; proceeding",
				logging.String("method", att.method),
				logging.Error(err),
			)
			return &DuplicateDecision{
				Method: att.method,
				Reason: fmt.Sprintf("search failed: %v", err),
			}, nil
		}
		candidates := filterByQuality(results, query.Quality)
		if len(candidates) == 0 {
			continue
		}
		decision := &DuplicateDecision{Method: att.method, Matches: candidates}
		for _, candidate := range candidates {
			if exactSizeMatch(query.SizeBytes, candidate.SizeBytes) {
				decision.Duplicate = true
				decision.Reason = fmt.Sprintf("existing torrent %q matches size within %.0f%%",
					candidate.Name, sizeTolerance*100)
				return decision, nil
			}
		}
		decision.Reason = fmt.Sprintf("%d similar release(s) found by %s, none size-exact", len(candidates), att.method)
		return decision, nil
	}
	return &DuplicateDecision{Reason: "no matching releases found"}, nil
}

func filterByQuality(results []SearchResult, quality string) []SearchResult {
	quality = strings.ToLower(strings.TrimSpace(quality))
	if quality == "" {
		return results
	}
	filtered := make([]SearchResult, 0, len(results))
	for _, result := range results {
		if strings.Contains(strings.ToLower(result.Name), quality) {
			filtered = append(filtered, result)
		}
	}
	return filtered
}

func exactSizeMatch(want, got int64) bool {
	if want <= 0 || got <= 0 {
		return false
	}
	diff := want - got
	if diff < 0 {
		diff = -diff
	}
	return float64(diff) <= float64(want)*sizeTolerance
}
