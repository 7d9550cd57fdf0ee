package trackers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"

	"spool/internal/logging"
	"spool/internal/services"
)

// DynamicOption is one entry of a lazily fetched option list (a category or
// tag the tracker serves over its API instead of baking into the schema).
type DynamicOption struct {
	ID   string
	Name string
}

// dynamicCache memoizes fetched option lists per source name with the
// schema's TTL.
type dynamicCache struct {
	adapter *Adapter
	cache   *ttlcache.Cache[string, []DynamicOption]
}

func newDynamicCache(a *Adapter) *dynamicCache {
	return &dynamicCache{
		adapter: a,
		cache: ttlcache.New(ttlcache.Options[string, []DynamicOption]{}.
			SetDefaultTTL(time.Duration(defaultDynamicTTLSeconds) * time.Second)),
	}
}

// DynamicOptions returns the named dynamic source's entries, fetching and
// caching on first use. Unknown source names are configuration errors.
func (a *Adapter) DynamicOptions(ctx context.Context, name string) ([]DynamicOption, error) {
	source, ok := a.schema.DynamicSources[name]
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, a.Slug(), "dynamic options",
			fmt.Sprintf("no dynamic source %q in schema", name), nil)
	}
	key := a.Slug() + ":" + name
	if cached, found := a.dynamic.cache.Get(key); found {
		return cached, nil
	}
	options, err := a.fetchDynamicSource(ctx, name, source)
	if err != nil {
		return nil, err
	}
	a.dynamic.cache.Set(key, options, time.Duration(source.TTLSeconds)*time.Second)
	return options, nil
}

func (a *Adapter) fetchDynamicSource(ctx context.Context, name string, source DynamicSourceSpec) ([]DynamicOption, error) {
	endpoint := Endpoint{URL: source.Endpoint}
	var payload []byte
	err := services.Retry(ctx, "tracker dynamic source", func() error {
		reply, err := a.do(ctx, endpoint, nil, nil, defaultRequestTimeout)
		if err != nil {
			return err
		}
		if statusErr := services.ErrorFromStatus(a.Slug(), "dynamic options", reply.StatusCode, reply.retryAfter()); statusErr != nil {
			return statusErr
		}
		payload = reply.Body
		return nil
	}, services.WithRetryLogger(a.logger))
	if err != nil {
		return nil, err
	}

	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, services.Wrap(services.ErrExternalUnavailable, a.Slug(), "dynamic options",
			fmt.Sprintf("decode %s response", name), err)
	}
	listValue := decoded
	if source.ResponsePath != "" {
		resolved, ok := ResolvePath(decoded, source.ResponsePath)
		if !ok {
			return nil, nil
		}
		listValue = resolved
	}
	items, ok := listValue.([]any)
	if !ok {
		return nil, services.Wrap(services.ErrExternalUnavailable, a.Slug(), "dynamic options",
			fmt.Sprintf("source %q response path is not a list", name), nil)
	}
	options := make([]DynamicOption, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := PathString(entry, source.IDField)
		label, _ := PathString(entry, source.NameField)
		if id == "" {
			continue
		}
		options = append(options, DynamicOption{ID: id, Name: label})
	}
	return options, nil
}

// dynamicCategorySource is the source name consulted for categories when
// the static map has no entry.
const dynamicCategorySource = "categories"

// ResolveCategory maps release keys to a category id. The static map wins;
// schemas declaring a "categories" dynamic source fall back to the fetched
// list, matched by normalized name.
func (a *Adapter) ResolveCategory(ctx context.Context, keys []string) (string, bool) {
	if id, ok := a.schema.CategoryID(keys); ok {
		return id, true
	}
	if _, ok := a.schema.DynamicSources[dynamicCategorySource]; !ok {
		return "", false
	}
	options, err := a.DynamicOptions(ctx, dynamicCategorySource)
	if err != nil {
		a.logger.Warn("dynamic category fetch failed", logging.Error(err))
		return "", false
	}
	for _, key := range keys {
		normalized := normalizeKey(key)
		if normalized == "" {
			continue
		}
		for _, option := range options {
			name := normalizeKey(option.Name)
			if name == "" {
				continue
			}
			if name == normalized || strings.Contains(name, normalized) || strings.Contains(normalized, name) {
				return option.ID, true
			}
		}
	}
	return "", false
}

// CategoryID walks lookup keys from most to least specific and returns the
// first category the schema maps.
func (s *Schema) CategoryID(keys []string) (string, bool) {
	for _, key := range keys {
		if id, ok := s.Categories[normalizeKey(key)]; ok && id != "" {
			return id, true
		}
	}
	return "", false
}

// SubcategoryID resolves the optional subcategory the same way.
func (s *Schema) SubcategoryID(keys []string) (string, bool) {
	for _, key := range keys {
		if id, ok := s.Subcategories[normalizeKey(key)]; ok && id != "" {
			return id, true
		}
	}
	return "", false
}
