// Package naming builds tracker-ready release names from identified
// metadata. Facet tokens run through normalization maps so the same file
// yields the same name regardless of how the source spelled its tokens.
package naming

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultGroup is the release group used when none was parsed or configured.
const DefaultGroup = "SPL"

// Parts carries the facets a release name is assembled from. Title is
// required; everything else is optional and skipped when empty.
type Parts struct {
	Title         string
	Year          int
	Documentary   bool
	Language      string
	Resolution    string
	Source        string
	Remux         bool
	HDR           string
	Audio         string
	AudioChannels string
	Video         string
	Group         string
}

var (
	separatorPattern = regexp.MustCompile(`[\s_]+`)
	invalidPattern   = regexp.MustCompile(`[^A-Za-z0-9.\-']`)
	dotRunPattern    = regexp.MustCompile(`\.+`)
)

// foldAccents is the NFD decompose / strip-marks / NFC recompose chain.
var foldAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// FoldAccents strips diacritical marks: "Amélie" becomes "Amelie".
func FoldAccents(text string) string {
	folded, _, err := transform.String(foldAccents, text)
	if err != nil {
		return text
	}
	return folded
}

// SanitizeTitle prepares a title for use inside a release name: accents
// folded, separators dotted, apostrophes dropped, anything outside
// [A-Za-z0-9.-] removed, dot runs collapsed and trimmed.
func SanitizeTitle(title string) string {
	title = FoldAccents(strings.TrimSpace(title))
	if title == "" {
		return ""
	}
	title = separatorPattern.ReplaceAllString(title, ".")
	title = invalidPattern.ReplaceAllString(title, "")
	title = strings.ReplaceAll(title, "'", "")
	title = dotRunPattern.ReplaceAllString(title, ".")
	return strings.Trim(title, ".")
}

// Build assembles the release name:
//
//	Title.Year.[DOC].[Language].Resolution.Source[.REMUX].[HDR].Audio[.Channels].Video-GROUP
//
// Facets are normalized through the package maps. Empty facets are omitted;
// a missing group falls back to DefaultGroup.
func Build(p Parts) (string, error) {
	title := SanitizeTitle(p.Title)
	if title == "" {
		return "", errors.New("naming: title required")
	}

	components := []string{title}
	if p.Year > 0 {
		components = append(components, strconv.Itoa(p.Year))
	}
	if p.Documentary {
		components = append(components, "DOC")
	}
	if lang := NormalizeLanguage(p.Language); lang != "" {
		components = append(components, lang)
	}
	if res := NormalizeResolution(p.Resolution); res != "" {
		components = append(components, res)
	}
	if src := NormalizeSource(p.Source); src != "" {
		components = append(components, src)
		if p.Remux {
			components = append(components, "REMUX")
		}
	} else if p.Remux {
		components = append(components, "BluRay", "REMUX")
	}
	if hdr := strings.TrimSpace(p.HDR); hdr != "" && !strings.EqualFold(hdr, "SDR") {
		components = append(components, hdr)
	}
	if audio := NormalizeAudio(p.Audio); audio != "" {
		if channels := strings.TrimSpace(p.AudioChannels); channels != "" {
			audio += "." + channels
		}
		components = append(components, audio)
	}
	if video := NormalizeVideo(p.Video); video != "" {
		components = append(components, video)
	}

	group := strings.TrimSpace(p.Group)
	if group == "" {
		group = DefaultGroup
	}
	return strings.Join(components, ".") + "-" + group, nil
}
