// Package trackers implements the schema-driven adapter engine for private
// tracker uploads. Every tracker is described by one YAML document covering
// auth, endpoints, upload form layout, option mappings, and response parsing;
// the engine interprets the schema and carries no per-tracker branches.
package trackers

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"spool/internal/ratelimit"
	"spool/internal/services"
	"spool/internal/torrents"
)

// Auth types a schema may declare.
const (
	AuthNone    = "none"
	AuthBearer  = "bearer"
	AuthAPIKey  = "api_key"
	AuthPasskey = "passkey"
	AuthCookie  = "cookie"
)

// Upload field types.
const (
	FieldFile     = "file"
	FieldString   = "string"
	FieldJSON     = "json"
	FieldBoolean  = "boolean"
	FieldRepeated = "repeated"
	FieldNumber   = "number"
)

// Sanitize operation types.
const (
	SanitizeReplaceSpaces = "replace_spaces"
	SanitizeRemovePattern = "remove_pattern"
	SanitizeCollapseDots  = "collapse_dots"
	SanitizeStripDots     = "strip_dots"
	SanitizeMaxLength     = "max_length"
	SanitizeLowercase     = "lowercase"
	SanitizeUppercase     = "uppercase"
)

// Search response modes.
const (
	SearchModeJSON    = "json"
	SearchModeTorznab = "torznab"
)

const (
	defaultAnnounceTemplate   = "{base_url}/announce?passkey={passkey}"
	defaultTorrentURLTemplate = "{base_url}/torrent/{torrent_id}"
	defaultSuccessField       = "success"
	defaultErrorField         = "error"
	defaultTorrentIDField     = "data.id"
	defaultDynamicTTLSeconds  = 3600
	minPasskeyLength          = 10
)

// Schema is one tracker's full engine configuration, decoded from YAML.
type Schema struct {
	Tracker             TrackerInfo                  `yaml:"tracker"`
	Auth                AuthSpec                     `yaml:"auth"`
	Cloudflare          CloudflareSpec               `yaml:"cloudflare"`
	Endpoints           map[string]Endpoint          `yaml:"endpoints"`
	RateLimiting        RateLimitSpec                `yaml:"rate_limiting"`
	Upload              UploadSpec                   `yaml:"upload"`
	Options             map[string]OptionSpec        `yaml:"options"`
	Categories          StringByKey                  `yaml:"categories"`
	Subcategories       StringByKey                  `yaml:"subcategories"`
	Search              SearchSpec                   `yaml:"search"`
	Response            ResponseSpec                 `yaml:"response"`
	Validation          map[string]ValidationRule    `yaml:"validation"`
	Sanitize            []SanitizeOp                 `yaml:"sanitize"`
	Prowlarr            ProwlarrSpec                 `yaml:"prowlarr"`
	SourceFlag          string                       `yaml:"source_flag"`
	AnnounceURLTemplate string                       `yaml:"announce_url_template"`
	PieceSizeStrategy   string                       `yaml:"piece_size_strategy"`
	DynamicSources      map[string]DynamicSourceSpec `yaml:"dynamic_sources"`

	pieceStrategy torrents.Strategy
}

// TrackerInfo identifies the tracker.
type TrackerInfo struct {
	Name    string `yaml:"name"`
	Slug    string `yaml:"slug"`
	BaseURL string `yaml:"base_url"`
}

// AuthSpec describes how credentials travel on requests. Header and Prefix
// default per type: bearer sends "Authorization: Bearer <key>", api_key
// sends "X-API-Key: <key>", passkey rides the query string.
type AuthSpec struct {
	Type         string `yaml:"type"`
	Header       string `yaml:"header"`
	Prefix       string `yaml:"prefix"`
	PasskeyParam string `yaml:"passkey_param"`
}

// CloudflareSpec marks a tracker as challenge-protected. Service names the
// solver ("flaresolverr"). UseRequestsSession is accepted for compatibility
// with older schemas; the engine always reuses one HTTP session.
type CloudflareSpec struct {
	Enabled            bool   `yaml:"enabled"`
	Service            string `yaml:"service"`
	UseRequestsSession bool   `yaml:"use_requests_session"`
}

// Endpoint is one named URL template, either a bare string or {url, method}.
// Relative URLs are joined onto the tracker base URL.
type Endpoint struct {
	URL    string
	Method string
}

// UnmarshalYAML accepts both the scalar and the mapping form.
func (e *Endpoint) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		e.URL = node.Value
		return nil
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			value := node.Content[i+1].Value
			switch key {
			case "url":
				e.URL = value
			case "method":
				e.Method = value
			default:
				return fmt.Errorf("line %d: unknown endpoint key %q", node.Content[i].Line, key)
			}
		}
		return nil
	default:
		return fmt.Errorf("line %d: endpoint must be a string or {url, method}", node.Line)
	}
}

// RateLimitSpec overrides the default pacing for this tracker.
type RateLimitSpec struct {
	SearchPerSec float64 `yaml:"search_per_sec"`
	UploadPerSec float64 `yaml:"upload_per_sec"`
	Burst        int     `yaml:"burst"`
}

// UploadSpec lays out the multipart upload form.
type UploadSpec struct {
	Fields []FieldSpec `yaml:"fields"`
}

// FieldSpec is one upload form field. Source is a dotted path into the
// upload context; Default applies when the path resolves to nothing.
type FieldSpec struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Source      string `yaml:"source"`
	Default     any    `yaml:"default"`
	Required    bool   `yaml:"required"`
	Filename    string `yaml:"filename"`
	ContentType string `yaml:"content_type"`
}

// OptionSpec maps one release facet (language, quality, genres, season,
// episode) onto a tracker form option.
type OptionSpec struct {
	Type               FlexString  `yaml:"type"`
	MultiSelect        bool        `yaml:"multi_select"`
	Default            IntList     `yaml:"default"`
	Mappings           IntByKey    `yaml:"mappings"`
	TMDBMappings       IntByKey    `yaml:"tmdb_mappings"`
	NameMappings       IntByKey    `yaml:"name_mappings"`
	ResolutionFallback IntByKey    `yaml:"resolution_fallback"`
	DetectionPatterns  StringByKey `yaml:"detection_patterns"`
	DynamicSource      string      `yaml:"dynamic_source"`
	AutoMulti          bool        `yaml:"auto_multi"`
	AutoMultiValue     int         `yaml:"auto_multi_value"`
	CompleteValue      int         `yaml:"complete_value"`
	BaseValue          int         `yaml:"base_value"`
	MaxValue           int         `yaml:"max_value"`

	detectors map[string]*regexp.Regexp
}

// SearchSpec configures the search endpoint's wire format. Params renames
// the query parameters when a tracker deviates from tmdbid/imdbid/q.
type SearchSpec struct {
	DefaultQuery string            `yaml:"default_query"`
	Mode         string            `yaml:"mode"`
	ResponsePath string            `yaml:"response_path"`
	IDFields     []string          `yaml:"id_fields"`
	Params       map[string]string `yaml:"params"`
}

// ResponseSpec configures response parsing per operation.
type ResponseSpec struct {
	Upload UploadResponseSpec `yaml:"upload"`
}

// UploadResponseSpec names the fields to extract from an upload response.
type UploadResponseSpec struct {
	SuccessField       string `yaml:"success_field"`
	ErrorField         string `yaml:"error_field"`
	TorrentIDField     string `yaml:"torrent_id_field"`
	TorrentURLTemplate string `yaml:"torrent_url_template"`
}

// ValidationRule constrains one upload context value before any network I/O.
type ValidationRule struct {
	Required  bool   `yaml:"required"`
	MinLength int    `yaml:"min_length"`
	MaxLength int    `yaml:"max_length"`
	Pattern   string `yaml:"pattern"`

	compiled *regexp.Regexp
}

// SanitizeOp is one step of the release-name sanitize pipeline.
type SanitizeOp struct {
	Type        string `yaml:"type"`
	Replacement string `yaml:"replacement"`
	Pattern     string `yaml:"pattern"`
	Length      int    `yaml:"length"`

	compiled *regexp.Regexp
}

// ProwlarrSpec links the tracker to its Prowlarr indexer for search fallback.
type ProwlarrSpec struct {
	IndexerName string `yaml:"indexer_name"`
	IndexerID   int64  `yaml:"indexer_id"`
}

// DynamicSourceSpec declares a lazily fetched option list (categories, tags)
// cached for TTLSeconds.
type DynamicSourceSpec struct {
	Endpoint     string `yaml:"endpoint"`
	ResponsePath string `yaml:"response_path"`
	TTLSeconds   int    `yaml:"ttl"`
	IDField      string `yaml:"id_field"`
	NameField    string `yaml:"name_field"`
}

// FlexString accepts any YAML scalar and keeps its literal text, so numeric
// ids in schemas do not need quoting.
type FlexString string

// UnmarshalYAML implements yaml.Unmarshaler.
func (f *FlexString) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar value", node.Line)
	}
	*f = FlexString(node.Value)
	return nil
}

// IntByKey is a string-to-int map that also accepts unquoted integer keys,
// which genre schemas use for TMDB ids.
type IntByKey map[string]int

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *IntByKey) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping", node.Line)
	}
	out := make(map[string]int, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var value int
		if err := node.Content[i+1].Decode(&value); err != nil {
			return err
		}
		out[node.Content[i].Value] = value
	}
	*m = out
	return nil
}

// StringByKey is a string-to-string map tolerant of unquoted scalar keys and
// values on both sides.
type StringByKey map[string]string

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *StringByKey) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping", node.Line)
	}
	out := make(map[string]string, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		value := node.Content[i+1]
		if value.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: expected a scalar value", value.Line)
		}
		out[node.Content[i].Value] = value.Value
	}
	*m = out
	return nil
}

// IntList accepts either a single integer or a list of integers.
type IntList []int

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *IntList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var v int
		if err := node.Decode(&v); err != nil {
			return err
		}
		*l = IntList{v}
		return nil
	case yaml.SequenceNode:
		var vs []int
		if err := node.Decode(&vs); err != nil {
			return err
		}
		*l = IntList(vs)
		return nil
	default:
		return fmt.Errorf("line %d: expected an integer or a list of integers", node.Line)
	}
}

// LoadSchema reads and validates one tracker schema file.
func LoadSchema(path string) (*Schema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "trackers", "load", fmt.Sprintf("read %s", path), err)
	}
	schema, err := ParseSchema(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return schema, nil
}

// ParseSchema decodes one YAML document strictly: unknown keys are rejected
// so a typoed schema fails at load instead of silently changing behavior.
func ParseSchema(raw []byte) (*Schema, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var schema Schema
	if err := dec.Decode(&schema); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "trackers", "parse", "invalid schema", err)
	}
	schema.applyDefaults()
	if err := schema.validate(); err != nil {
		return nil, err
	}
	return &schema, nil
}

// LoadDir loads every .yml/.yaml schema in dir, sorted by filename.
func LoadDir(dir string) ([]*Schema, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "trackers", "load", fmt.Sprintf("read dir %s", dir), err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".yml" || ext == ".yaml" {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	schemas := make([]*Schema, 0, len(names))
	seen := make(map[string]string, len(names))
	for _, name := range names {
		schema, err := LoadSchema(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[schema.Tracker.Slug]; dup {
			return nil, services.Wrap(services.ErrConfiguration, "trackers", "load",
				fmt.Sprintf("slug %q declared by both %s and %s", schema.Tracker.Slug, prev, name), nil)
		}
		seen[schema.Tracker.Slug] = name
		schemas = append(schemas, schema)
	}
	return schemas, nil
}

func (s *Schema) applyDefaults() {
	s.Tracker.Slug = strings.TrimSpace(s.Tracker.Slug)
	s.Tracker.BaseURL = strings.TrimRight(strings.TrimSpace(s.Tracker.BaseURL), "/")
	if s.Tracker.Name == "" {
		s.Tracker.Name = s.Tracker.Slug
	}
	if s.Auth.Type == "" {
		s.Auth.Type = AuthNone
	}
	if s.Search.Mode == "" {
		s.Search.Mode = SearchModeJSON
	}
	if len(s.Search.IDFields) == 0 {
		s.Search.IDFields = []string{"id", "guid", "torrent_id"}
	}
	if s.Response.Upload.SuccessField == "" {
		s.Response.Upload.SuccessField = defaultSuccessField
	}
	if s.Response.Upload.ErrorField == "" {
		s.Response.Upload.ErrorField = defaultErrorField
	}
	if s.Response.Upload.TorrentIDField == "" {
		s.Response.Upload.TorrentIDField = defaultTorrentIDField
	}
	if s.Response.Upload.TorrentURLTemplate == "" {
		s.Response.Upload.TorrentURLTemplate = defaultTorrentURLTemplate
	}
	if s.AnnounceURLTemplate == "" {
		s.AnnounceURLTemplate = defaultAnnounceTemplate
	}
	for name, source := range s.DynamicSources {
		if source.TTLSeconds <= 0 {
			source.TTLSeconds = defaultDynamicTTLSeconds
		}
		if source.IDField == "" {
			source.IDField = "id"
		}
		if source.NameField == "" {
			source.NameField = "name"
		}
		s.DynamicSources[name] = source
	}
}

func (s *Schema) validate() error {
	fail := func(msg string) error {
		return services.Wrap(services.ErrConfiguration, "trackers", "validate", msg, nil)
	}
	if s.Tracker.Slug == "" {
		return fail("tracker.slug is required")
	}
	if s.Tracker.BaseURL == "" {
		return fail(fmt.Sprintf("%s: tracker.base_url is required", s.Tracker.Slug))
	}
	switch s.Auth.Type {
	case AuthNone, AuthBearer, AuthAPIKey, AuthPasskey, AuthCookie:
	default:
		return fail(fmt.Sprintf("%s: unknown auth type %q", s.Tracker.Slug, s.Auth.Type))
	}
	switch s.Search.Mode {
	case SearchModeJSON, SearchModeTorznab:
	default:
		return fail(fmt.Sprintf("%s: unknown search mode %q", s.Tracker.Slug, s.Search.Mode))
	}
	for i, field := range s.Upload.Fields {
		if strings.TrimSpace(field.Name) == "" {
			return fail(fmt.Sprintf("%s: upload field %d has no name", s.Tracker.Slug, i))
		}
		switch field.Type {
		case FieldFile, FieldString, FieldJSON, FieldBoolean, FieldRepeated, FieldNumber:
		case "":
			s.Upload.Fields[i].Type = FieldString
		default:
			return fail(fmt.Sprintf("%s: upload field %q has unknown type %q", s.Tracker.Slug, field.Name, field.Type))
		}
	}
	for i := range s.Sanitize {
		op := &s.Sanitize[i]
		switch op.Type {
		case SanitizeReplaceSpaces, SanitizeCollapseDots, SanitizeStripDots,
			SanitizeMaxLength, SanitizeLowercase, SanitizeUppercase:
		case SanitizeRemovePattern:
			re, err := regexp.Compile(op.Pattern)
			if err != nil {
				return fail(fmt.Sprintf("%s: sanitize pattern %q: %v", s.Tracker.Slug, op.Pattern, err))
			}
			op.compiled = re
		default:
			return fail(fmt.Sprintf("%s: unknown sanitize op %q", s.Tracker.Slug, op.Type))
		}
	}
	for name, rule := range s.Validation {
		if rule.Pattern == "" {
			continue
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return fail(fmt.Sprintf("%s: validation pattern for %q: %v", s.Tracker.Slug, name, err))
		}
		rule.compiled = re
		s.Validation[name] = rule
	}
	for facet, spec := range s.Options {
		if spec.DynamicSource != "" {
			if _, ok := s.DynamicSources[spec.DynamicSource]; !ok {
				return fail(fmt.Sprintf("%s: option %q references undeclared dynamic source %q",
					s.Tracker.Slug, facet, spec.DynamicSource))
			}
		}
		if len(spec.DetectionPatterns) == 0 {
			continue
		}
		detectors := make(map[string]*regexp.Regexp, len(spec.DetectionPatterns))
		for key, pattern := range spec.DetectionPatterns {
			re, err := regexp.Compile("(?i)" + pattern)
			if err != nil {
				return fail(fmt.Sprintf("%s: detection pattern %q for option %q: %v", s.Tracker.Slug, pattern, facet, err))
			}
			detectors[key] = re
		}
		spec.detectors = detectors
		s.Options[facet] = spec
	}
	for name, source := range s.DynamicSources {
		if strings.TrimSpace(source.Endpoint) == "" {
			return fail(fmt.Sprintf("%s: dynamic source %q has no endpoint", s.Tracker.Slug, name))
		}
	}
	strategy, err := torrents.ParseStrategy(s.PieceSizeStrategy)
	if err != nil {
		return fail(fmt.Sprintf("%s: %v", s.Tracker.Slug, err))
	}
	s.pieceStrategy = strategy
	return nil
}

// PieceStrategy returns the validated piece-size table selector.
func (s *Schema) PieceStrategy() torrents.Strategy { return s.pieceStrategy }

// LimitOverrides translates the schema's rate_limiting block into limiter
// registry overrides keyed per tracker.
func (s *Schema) LimitOverrides() map[string]ratelimit.Limit {
	burst := s.RateLimiting.Burst
	if burst <= 0 {
		burst = 1
	}
	out := make(map[string]ratelimit.Limit, 2)
	if rate := s.RateLimiting.SearchPerSec; rate > 0 {
		out[ratelimit.ForTracker(ratelimit.KeyTrackerSearch, s.Tracker.Slug)] = ratelimit.Limit{Rate: rate, Burst: burst}
	}
	if rate := s.RateLimiting.UploadPerSec; rate > 0 {
		out[ratelimit.ForTracker(ratelimit.KeyTrackerUpload, s.Tracker.Slug)] = ratelimit.Limit{Rate: rate, Burst: burst}
	}
	return out
}

// interpolate substitutes {name} placeholders in a template.
func interpolate(template string, values map[string]string) string {
	if !strings.Contains(template, "{") {
		return template
	}
	pairs := make([]string, 0, len(values)*2)
	for name, value := range values {
		pairs = append(pairs, "{"+name+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// sortedKeys returns map keys in stable order so mapping passes that probe
// key by key behave deterministically.
func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// normalizeKey folds a lookup key to the schema convention: lowercase with
// underscores between tokens.
func normalizeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, r := range []string{"-", " ", "."} {
		s = strings.ReplaceAll(s, r, "_")
	}
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return strings.Trim(s, "_")
}

// atoiSafe parses an integer, returning zero on failure.
func atoiSafe(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
