package trackers

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"spool/internal/logging"
)

// OptionInput is the release view the option mapper consumes: detected
// languages, quality facets, TMDB genres, and season/episode numbers for
// trackers that take them.
type OptionInput struct {
	Languages   []string
	Resolution  string
	Source      string
	ReleaseName string
	GenreIDs    []int64
	GenreNames  []string
	Season      int
	Episode     int
}

// Facet names with dedicated mapping semantics. Any other facet uses the
// generic direct-then-default resolution.
const (
	facetLanguage = "language"
	facetQuality  = "quality"
	facetGenres   = "genres"
	facetGenre    = "genre"
	facetSeason   = "season"
	facetEpisode  = "episode"
)

// BuildOptions resolves every option section of the schema against the
// release. The result is keyed by the schema's option type id; values are
// int for single-select and []int for multi-select facets. Facets that
// resolve to nothing are omitted. Facets declaring a dynamic_source consult
// the fetched list first; the static mappings remain the fallback.
func (a *Adapter) BuildOptions(ctx context.Context, input OptionInput) map[string]any {
	if len(a.schema.Options) == 0 {
		return nil
	}
	out := make(map[string]any, len(a.schema.Options))
	for facet, spec := range a.schema.Options {
		key := string(spec.Type)
		if key == "" {
			key = facet
		}
		var (
			values []int
			found  bool
		)
		if spec.DynamicSource != "" {
			values, found = a.resolveFromDynamicSource(ctx, facet, &spec, input)
		}
		if found {
			if spec.MultiSelect {
				out[key] = values
			} else if len(values) > 0 {
				out[key] = values[0]
			}
			continue
		}
		switch normalizeKey(facet) {
		case facetLanguage:
			values, found = resolveLanguage(&spec, input.Languages)
		case facetQuality:
			values, found = resolveQuality(&spec, input)
		case facetGenres, facetGenre:
			values, found = resolveGenres(&spec, input)
		case facetSeason:
			values, found = resolveCounter(&spec, input.Season)
		case facetEpisode:
			values, found = resolveCounter(&spec, input.Episode)
		default:
			values, found = resolveGeneric(&spec, input)
		}
		if !found {
			if len(spec.Default) == 0 {
				continue
			}
			values = spec.Default
		}
		if spec.MultiSelect {
			out[key] = values
		} else if len(values) > 0 {
			out[key] = values[0]
		}
	}
	return out
}

// resolveFromDynamicSource matches the facet's release terms against a
// lazily fetched option list by name, direct match before partial. Fetch
// failures log and fall through to the static ladder.
func (a *Adapter) resolveFromDynamicSource(ctx context.Context, facet string, spec *OptionSpec, input OptionInput) ([]int, bool) {
	options, err := a.DynamicOptions(ctx, spec.DynamicSource)
	if err != nil {
		a.logger.Warn("dynamic source fetch failed, using static mappings",
			logging.String("facet", facet),
			logging.String("source", spec.DynamicSource),
			logging.Error(err),
		)
		return nil, false
	}
	var matched []int
	seen := make(map[int]struct{})
	for _, term := range dynamicFacetTerms(facet, input) {
		normalized := normalizeKey(term)
		if normalized == "" {
			continue
		}
		for _, option := range options {
			name := normalizeKey(option.Name)
			if name == "" {
				continue
			}
			if name != normalized && !strings.Contains(name, normalized) && !strings.Contains(normalized, name) {
				continue
			}
			id, convErr := strconv.Atoi(option.ID)
			if convErr != nil {
				continue
			}
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				matched = append(matched, id)
			}
			break
		}
	}
	if len(matched) == 0 {
		return nil, false
	}
	if !spec.MultiSelect {
		matched = matched[:1]
	}
	return matched, true
}

// dynamicFacetTerms picks the release values worth matching against a
// fetched list for the given facet.
func dynamicFacetTerms(facet string, input OptionInput) []string {
	switch normalizeKey(facet) {
	case facetLanguage:
		return input.Languages
	case facetGenres, facetGenre:
		return input.GenreNames
	default:
		return []string{input.Resolution, input.Source}
	}
}

// resolveLanguage: direct key match, then partial match, then the
// auto-multi rule promoting french+english to the MULTi id.
func resolveLanguage(spec *OptionSpec, languages []string) ([]int, bool) {
	normalized := make([]string, 0, len(languages))
	for _, lang := range languages {
		normalized = append(normalized, normalizeKey(lang))
	}

	var matched []int
	seen := make(map[int]struct{})
	add := func(id int) {
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			matched = append(matched, id)
		}
	}
	for _, lang := range normalized {
		if id, ok := spec.Mappings[lang]; ok {
			add(id)
			continue
		}
		for _, key := range sortedKeys(spec.Mappings) {
			if strings.Contains(lang, key) || strings.Contains(key, lang) {
				add(spec.Mappings[key])
				break
			}
		}
	}

	if spec.AutoMulti && hasLanguage(normalized, "fr") && hasLanguage(normalized, "en") {
		return []int{spec.AutoMultiValue}, true
	}
	if len(matched) == 0 {
		return nil, false
	}
	return matched, true
}

func hasLanguage(normalized []string, prefix string) bool {
	for _, lang := range normalized {
		if strings.HasPrefix(lang, prefix) {
			return true
		}
	}
	return false
}

// resolveQuality walks the precedence ladder: light-encode detection
// patterns, the combined resolution_source key, substring passes over the
// release name, the resolution fallback table, then the default.
func resolveQuality(spec *OptionSpec, input OptionInput) ([]int, bool) {
	resolution := normalizeKey(input.Resolution)
	source := normalizeKey(input.Source)
	name := strings.ToLower(input.ReleaseName)

	for _, key := range sortedDetectorKeys(spec.detectors) {
		if spec.detectors[key].MatchString(input.ReleaseName) {
			if id, ok := spec.Mappings[key]; ok {
				return []int{id}, true
			}
		}
	}
	if resolution != "" && source != "" {
		if id, ok := spec.Mappings[resolution+"_"+source]; ok {
			return []int{id}, true
		}
	}
	for _, key := range sortedKeys(spec.Mappings) {
		if key == resolution || key == source {
			return []int{spec.Mappings[key]}, true
		}
	}
	for _, key := range sortedKeys(spec.Mappings) {
		if strings.Contains(name, strings.ReplaceAll(key, "_", ".")) || strings.Contains(name, key) {
			return []int{spec.Mappings[key]}, true
		}
	}
	if resolution != "" {
		if id, ok := spec.ResolutionFallback[resolution]; ok {
			return []int{id}, true
		}
	}
	return nil, false
}

// resolveGenres: tmdb id mappings first, then normalized partial name
// matches.
func resolveGenres(spec *OptionSpec, input OptionInput) ([]int, bool) {
	var matched []int
	seen := make(map[int]struct{})
	add := func(id int) {
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			matched = append(matched, id)
		}
	}
	for _, genreID := range input.GenreIDs {
		if id, ok := spec.TMDBMappings[strconv.FormatInt(genreID, 10)]; ok {
			add(id)
		}
	}
	for _, name := range input.GenreNames {
		normalized := normalizeKey(name)
		if id, ok := spec.NameMappings[normalized]; ok {
			add(id)
			continue
		}
		for _, key := range sortedKeys(spec.NameMappings) {
			if strings.Contains(normalized, key) || strings.Contains(key, normalized) {
				add(spec.NameMappings[key])
				break
			}
		}
	}
	if len(matched) == 0 {
		return nil, false
	}
	if !spec.MultiSelect {
		matched = matched[:1]
	}
	return matched, true
}

// resolveCounter maps a season or episode number: zero means "complete"
// when the schema declares a complete value, otherwise base_value+n capped
// at max_value.
func resolveCounter(spec *OptionSpec, n int) ([]int, bool) {
	if n <= 0 {
		if spec.CompleteValue != 0 {
			return []int{spec.CompleteValue}, true
		}
		return nil, false
	}
	if spec.BaseValue == 0 && spec.MaxValue == 0 {
		return nil, false
	}
	value := spec.BaseValue + n
	if spec.MaxValue > 0 && value > spec.MaxValue {
		value = spec.MaxValue
	}
	return []int{value}, true
}

// resolveGeneric matches the facet's mappings against the release name and
// the quality facets.
func resolveGeneric(spec *OptionSpec, input OptionInput) ([]int, bool) {
	for _, key := range sortedDetectorKeys(spec.detectors) {
		if spec.detectors[key].MatchString(input.ReleaseName) {
			if id, ok := spec.Mappings[key]; ok {
				return []int{id}, true
			}
		}
	}
	candidates := []string{normalizeKey(input.Resolution), normalizeKey(input.Source)}
	name := strings.ToLower(input.ReleaseName)
	for _, key := range sortedKeys(spec.Mappings) {
		for _, candidate := range candidates {
			if candidate != "" && candidate == key {
				return []int{spec.Mappings[key]}, true
			}
		}
		if key != "" && strings.Contains(name, key) {
			return []int{spec.Mappings[key]}, true
		}
	}
	return nil, false
}

func sortedDetectorKeys(detectors map[string]*regexp.Regexp) []string {
	keys := make([]string, 0, len(detectors))
	for key := range detectors {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
