package metadata

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Genre is one TMDB genre assignment carried through to tracker options.
type Genre struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Release is the identified view of one queue entry: TMDB identity plus the
// normalized media facets release naming and tracker uploads consume. It is
// persisted as the entry's metadata blob, so fields marshal stably.
type Release struct {
	TMDBID        int64   `json:"tmdb_id,omitempty"`
	IMDBID        string  `json:"imdb_id,omitempty"`
	Title         string  `json:"title"`
	OriginalTitle string  `json:"original_title,omitempty"`
	Year          int     `json:"year,omitempty"`
	Overview      string  `json:"overview,omitempty"`
	Runtime       int     `json:"runtime_minutes,omitempty"`
	VoteAverage   float64 `json:"vote_average,omitempty"`
	Genres        []Genre `json:"genres,omitempty"`

	Container     string   `json:"container,omitempty"`
	SizeBytes     int64    `json:"size_bytes,omitempty"`
	DurationSec   int64    `json:"duration_seconds,omitempty"`
	Resolution    string   `json:"resolution,omitempty"`
	Source        string   `json:"source,omitempty"`
	VideoCodec    string   `json:"video_codec,omitempty"`
	AudioCodec    string   `json:"audio_codec,omitempty"`
	AudioChannels string   `json:"audio_channels,omitempty"`
	Languages     []string `json:"languages,omitempty"`
	LanguageToken string   `json:"language_token,omitempty"`
	HDR           string   `json:"hdr,omitempty"`
	ReleaseGroup  string   `json:"release_group,omitempty"`
}

// ParseRelease decodes a persisted metadata blob.
func ParseRelease(payload []byte) (*Release, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("metadata: empty payload")
	}
	var release Release
	if err := json.Unmarshal(payload, &release); err != nil {
		return nil, fmt.Errorf("metadata: decode release: %w", err)
	}
	return &release, nil
}

// Encode renders the release for persistence on the queue entry.
func (r *Release) Encode() (string, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("metadata: encode release: %w", err)
	}
	return string(payload), nil
}

// GenreNames returns the genre names in TMDB order.
func (r *Release) GenreNames() []string {
	if len(r.Genres) == 0 {
		return nil
	}
	names := make([]string, 0, len(r.Genres))
	for _, genre := range r.Genres {
		names = append(names, genre.Name)
	}
	return names
}

// GenreIDs returns the TMDB genre ids in order.
func (r *Release) GenreIDs() []int64 {
	if len(r.Genres) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(r.Genres))
	for _, genre := range r.Genres {
		ids = append(ids, genre.ID)
	}
	return ids
}

// HasGenre reports whether the release carries the named genre.
func (r *Release) HasGenre(name string) bool {
	for _, genre := range r.Genres {
		if strings.EqualFold(genre.Name, name) {
			return true
		}
	}
	return false
}

// Kind classifies the release for category lookups: documentaries get their
// own tracker categories when the schema declares them.
func (r *Release) Kind() string {
	if r.HasGenre("Documentary") {
		return "documentary"
	}
	return "movie"
}

// CategoryKeys lists category lookup keys from most to least specific, e.g.
// [movie_2160p movie_4k movie default]. Tracker schemas map whichever key
// they carry first.
func (r *Release) CategoryKeys() []string {
	kind := r.Kind()
	keys := make([]string, 0, 4)
	resolution := strings.ToLower(strings.TrimSpace(r.Resolution))
	if resolution != "" {
		keys = append(keys, kind+"_"+resolution)
		if resolution == "2160p" {
			keys = append(keys, kind+"_4k")
		}
	}
	keys = append(keys, kind, "default")
	return keys
}

// Label is the short human identity used in logs and notifications.
func (r *Release) Label() string {
	if r.Year > 0 {
		return fmt.Sprintf("%s (%d)", r.Title, r.Year)
	}
	return r.Title
}
