package nfo

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"spool/internal/media"
)

// Field is one labeled line in the NFO layout.
type Field struct {
	Label string
	Value string
}

type nfoView struct {
	Rule        string
	MediaType   string
	Summary     []Field
	General     []Field
	Video       [][]Field
	Audio       [][]Field
	Subtitles   []string
	Screenshots []string
}

type descriptionView struct {
	PosterURL   string
	Heading     string
	Rating      string
	Genres      string
	Overview    string
	Quality     string
	Format      string
	HDR         string
	Duration    string
	VideoCodec  string
	AudioLines  []string
	Languages   string
	Subtitles   string
	FileSize    string
	Screenshots []string
}

func buildNFOView(meta Meta) nfoView {
	view := nfoView{
		Rule:        strings.Repeat("-", lineWidth),
		MediaType:   meta.MediaType,
		Screenshots: meta.ScreenshotURLs,
	}
	if view.MediaType == "" {
		view.MediaType = "Movies"
	}

	info := meta.Media
	if info == nil {
		view.General = []Field{{Label: "File Name", Value: meta.ReleaseName}}
		return view
	}

	primaryCodec := ""
	if primary := info.PrimaryAudio(); primary != nil {
		primaryCodec = audioCodecLabel(*primary)
		if primary.Layout != "" {
			primaryCodec += " " + primary.Layout
		}
	}
	view.Summary = []Field{
		{Label: "Source", Value: sourceFromRelease(meta.ReleaseName)},
		{Label: "Resolution", Value: info.ResolutionClass},
		{Label: "Codec Video", Value: videoCodecDisplay(info.VideoCodec)},
		{Label: "Codec Audio", Value: primaryCodec},
	}

	fileName := filepath.Base(info.Path)
	if fileName == "." || fileName == "/" || fileName == "" {
		fileName = meta.ReleaseName
	}
	view.General = []Field{
		{Label: "File Name", Value: fileName},
		{Label: "Format", Value: strings.ToUpper(info.Container)},
		{Label: "File Size", Value: FormatSize(info.SizeBytes)},
	}
	if info.Duration > 0 {
		view.General = append(view.General, Field{Label: "Duration", Value: FormatDuration(info.Duration)})
	}
	if info.BitRate > 0 {
		view.General = append(view.General, Field{Label: "Overall Bitrate", Value: FormatBitrate(info.BitRate)})
	}

	if info.VideoCodec != "" || info.Width > 0 {
		track := []Field{{Label: "Format", Value: videoCodecDisplay(info.VideoCodec)}}
		if info.VideoProfile != "" {
			track = append(track, Field{Label: "Format Profile", Value: info.VideoProfile})
		}
		if info.Width > 0 && info.Height > 0 {
			track = append(track, Field{Label: "Resolution", Value: fmt.Sprintf("%dx%d", info.Width, info.Height)})
		}
		if info.HDR.Any() {
			track = append(track, Field{Label: "HDR Format", Value: hdrDisplay(info.HDR)})
		}
		view.Video = append(view.Video, track)
	}

	for _, audio := range info.Audio {
		track := []Field{{Label: "Format", Value: audioCodecLabel(audio)}}
		if audio.Channels > 0 {
			track = append(track, Field{Label: "Channels", Value: fmt.Sprintf("%d", audio.Channels)})
		}
		if audio.Layout != "" {
			track = append(track, Field{Label: "Channel Positions", Value: audio.Layout})
		}
		if audio.BitRate > 0 {
			track = append(track, Field{Label: "Bitrate", Value: FormatBitrate(audio.BitRate)})
		}
		track = append(track, Field{Label: "Language", Value: languageName(audio.Language)})
		if audio.Title != "" {
			track = append(track, Field{Label: "Title", Value: audio.Title})
		}
		view.Audio = append(view.Audio, track)
	}

	for i, sub := range info.Subtitles {
		label := fmt.Sprintf("Subtitle #%d", i+1)
		codec := sub.Codec
		if codec == "" {
			codec = "utf-8"
		}
		line := fmt.Sprintf("%s: %s (%s)", padLabel(label), languageName(sub.Language), strings.ToUpper(codec))
		switch {
		case sub.Forced:
			line += " [Forced]"
		case sub.SDH:
			line += " [SDH]"
		}
		view.Subtitles = append(view.Subtitles, line)
	}

	return view
}

func buildDescriptionView(meta Meta) descriptionView {
	view := descriptionView{
		Heading:     meta.ReleaseName,
		Rating:      "0/10",
		HDR:         "SDR",
		Screenshots: meta.ScreenshotURLs,
	}

	if movie := meta.Movie; movie != nil {
		if movie.Title != "" {
			if year := movie.Year(); year > 0 {
				view.Heading = fmt.Sprintf("%s (%d)", movie.Title, year)
			} else {
				view.Heading = movie.Title
			}
		}
		if movie.VoteAverage > 0 {
			view.Rating = fmt.Sprintf("%.1f/10", movie.VoteAverage)
		}
		view.Genres = strings.Join(movie.GenreNames(), ", ")
		view.Overview = movie.Overview
		view.PosterURL = posterURL(movie.PosterPath)
	}

	info := meta.Media
	if info == nil {
		view.Subtitles = "Aucun"
		return view
	}

	source := sourceFromRelease(meta.ReleaseName)
	view.Quality = strings.TrimSpace(source + " " + info.ResolutionClass)
	view.Format = formatDisplay(info)
	view.HDR = hdrDisplay(info.HDR)
	if info.Duration > 0 {
		view.Duration = FormatDuration(info.Duration)
	}
	view.VideoCodec = videoCodecDisplay(info.VideoCodec)
	if info.BitRate > 0 {
		view.VideoCodec += " @ " + FormatBitrate(info.BitRate)
	}
	view.AudioLines = audioLines(info)
	view.Languages = languagesSummary(info)
	view.Subtitles = subtitlesSummary(info)
	view.FileSize = FormatSize(info.SizeBytes)
	return view
}

// FormatSize renders a byte count in the French units the NFO layout uses.
func FormatSize(size int64) string {
	switch {
	case size >= 1<<30:
		return fmt.Sprintf("%.2f Go", float64(size)/(1<<30))
	case size >= 1<<20:
		return fmt.Sprintf("%.2f Mo", float64(size)/(1<<20))
	case size >= 1<<10:
		return fmt.Sprintf("%.2f Ko", float64(size)/(1<<10))
	}
	return fmt.Sprintf("%d bytes", size)
}

// FormatDuration renders a duration as 1h 58mn 03s, dropping empty parts.
func FormatDuration(d time.Duration) string {
	total := int(d / time.Second)
	if total <= 0 {
		return ""
	}
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	var parts []string
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%02dmn", minutes))
	}
	if seconds > 0 {
		parts = append(parts, fmt.Sprintf("%02ds", seconds))
	}
	return strings.Join(parts, " ")
}

// FormatBitrate renders a bits-per-second rate in Kbps.
func FormatBitrate(bps int64) string {
	if bps <= 0 {
		return ""
	}
	return fmt.Sprintf("%d Kbps", bps/1000)
}

var languageNames = map[string]string{
	"fr": "Français", "fra": "Français", "fre": "Français", "french": "Français",
	"en": "Anglais", "eng": "Anglais", "english": "Anglais",
	"es": "Espagnol", "spa": "Espagnol", "spanish": "Espagnol",
	"de": "Allemand", "deu": "Allemand", "ger": "Allemand", "german": "Allemand",
	"it": "Italien", "ita": "Italien", "italian": "Italien",
	"pt": "Portugais", "por": "Portugais", "portuguese": "Portugais",
	"ja": "Japonais", "jpn": "Japonais", "japanese": "Japonais",
	"ko": "Coréen", "kor": "Coréen", "korean": "Coréen",
	"zh": "Chinois", "zho": "Chinois", "chi": "Chinois", "chinese": "Chinois",
	"ru": "Russe", "rus": "Russe", "russian": "Russe",
	"ar": "Arabe", "ara": "Arabe", "arabic": "Arabe",
}

func languageName(code string) string {
	if code == "" {
		return "Inconnu"
	}
	lowered := strings.ToLower(strings.TrimSpace(code))
	if name, ok := languageNames[lowered]; ok {
		return name
	}
	return strings.ToUpper(lowered[:1]) + lowered[1:]
}

// audioVersions in match order: longer markers first so vostfr never reads
// as vf.
var audioVersions = []struct {
	marker  string
	version string
}{
	{"vostfr", "VOSTFR"},
	{"vost", "VOST"},
	{"vff", "VFF"},
	{"vfq", "VFQ"},
	{"vfi", "VFI"},
	{"vf", "VF"},
	{"vo", "VO"},
}

func audioVersion(title, language string) string {
	lowered := strings.ToLower(title)
	for _, candidate := range audioVersions {
		if strings.Contains(lowered, candidate.marker) {
			return candidate.version
		}
	}
	switch strings.ToLower(language) {
	case "fr", "fra", "fre", "french":
		return "VFF"
	case "en", "eng", "english":
		return "VO"
	}
	return ""
}

func audioCodecLabel(track media.AudioTrack) string {
	profile := strings.ToUpper(track.Profile)
	label := ""
	switch track.Codec {
	case "eac3":
		label = "E-AC3"
	case "ac3":
		label = "AC-3"
	case "dts":
		switch {
		case strings.Contains(profile, "MA"):
			label = "DTS-HD MA"
		case strings.Contains(profile, "X"):
			label = "DTS:X"
		case strings.Contains(profile, "HRA"), strings.Contains(profile, "HIGH"):
			label = "DTS-HD HRA"
		default:
			label = "DTS"
		}
	case "truehd":
		label = "TrueHD"
	case "aac":
		label = "AAC"
	case "flac":
		label = "FLAC"
	case "opus":
		label = "Opus"
	case "mp3":
		label = "MP3"
	case "vorbis":
		label = "Vorbis"
	default:
		if strings.HasPrefix(track.Codec, "pcm") {
			label = "PCM"
		} else {
			label = strings.ToUpper(track.Codec)
		}
	}
	if track.Atmos {
		label += " Atmos"
	}
	return label
}

func videoCodecDisplay(codec string) string {
	switch strings.ToLower(codec) {
	case "h264", "avc":
		return "H.264"
	case "h265", "hevc":
		return "H.265"
	case "av1":
		return "AV1"
	case "vp9":
		return "VP9"
	case "":
		return "Unknown"
	}
	return strings.ToUpper(codec)
}

func hdrDisplay(hdr media.HDRInfo) string {
	var parts []string
	if hdr.DolbyVision {
		parts = append(parts, "Dolby Vision")
	}
	if hdr.HDR10Plus {
		parts = append(parts, "HDR10+")
	} else if hdr.HDR10 {
		parts = append(parts, "HDR10")
	}
	if len(parts) == 0 {
		return "SDR"
	}
	return strings.Join(parts, " / ")
}

func formatDisplay(info *media.Info) string {
	container := strings.ToUpper(info.Container)
	if container == "" {
		container = "MKV"
	}
	codec := videoCodecDisplay(info.VideoCodec)
	if info.VideoProfile != "" {
		return fmt.Sprintf("%s (%s %s)", container, codec, info.VideoProfile)
	}
	return fmt.Sprintf("%s (%s)", container, codec)
}

func audioLines(info *media.Info) []string {
	var lines []string
	for _, track := range info.Audio {
		lang := languageName(track.Language)
		if version := audioVersion(track.Title, track.Language); version != "" {
			lang = fmt.Sprintf("%s (%s)", lang, version)
		}
		line := fmt.Sprintf("- %s : %s", lang, audioCodecLabel(track))
		if track.Layout != "" {
			line += " " + track.Layout
		}
		if track.BitRate > 0 {
			line += " @ " + FormatBitrate(track.BitRate)
		}
		lines = append(lines, line)
	}
	return lines
}

func languagesSummary(info *media.Info) string {
	var ordered []string
	seen := make(map[string]struct{})
	versions := make(map[string][]string)
	for _, track := range info.Audio {
		name := languageName(track.Language)
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			ordered = append(ordered, name)
		}
		if version := audioVersion(track.Title, track.Language); version != "" {
			known := versions[name]
			if !containsString(known, version) {
				versions[name] = append(known, version)
			}
		}
	}

	parts := make([]string, 0, len(ordered))
	for _, name := range ordered {
		if name == "Français" && len(versions[name]) > 0 {
			parts = append(parts, fmt.Sprintf("%s (%s)", name, strings.Join(versions[name], " + ")))
			continue
		}
		parts = append(parts, name)
	}
	return strings.Join(parts, ", ")
}

func subtitlesSummary(info *media.Info) string {
	if len(info.Subtitles) == 0 {
		return "Aucun"
	}
	var ordered []string
	seen := make(map[string]struct{})
	for _, sub := range info.Subtitles {
		name := languageName(sub.Language)
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}

		variants := []string{"Complets"}
		forced, sdh := false, false
		for _, other := range info.Subtitles {
			if languageName(other.Language) != name {
				continue
			}
			forced = forced || other.Forced
			sdh = sdh || other.SDH
		}
		if forced {
			variants = append(variants, "Forcés")
		}
		if sdh {
			variants = append(variants, "SDH")
		}
		ordered = append(ordered, fmt.Sprintf("%s (%s)", name, strings.Join(variants, " & ")))
	}
	return strings.Join(ordered, ", ")
}

func posterURL(path string) string {
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return "https://image.tmdb.org/t/p/w500" + path
}

var sourceMarkers = []struct {
	pattern *regexp.Regexp
	label   string
}{
	{regexp.MustCompile(`(?i)\bREMUX\b`), "BluRay REMUX"},
	{regexp.MustCompile(`(?i)BLU-?RAY|\bBDRIP\b|\bBRRIP\b`), "BluRay"},
	{regexp.MustCompile(`(?i)WEB[-.]?DL`), "WEB-DL"},
	{regexp.MustCompile(`(?i)\bWEBRIP\b`), "WEBRip"},
	{regexp.MustCompile(`(?i)\bHDTV\b`), "HDTV"},
	{regexp.MustCompile(`(?i)\bDVDRIP\b`), "DVDRip"},
	{regexp.MustCompile(`(?i)\bHDRIP\b`), "HDRip"},
	{regexp.MustCompile(`(?i)[.\s]WEB[.\s]`), "WEB"},
}

func sourceFromRelease(releaseName string) string {
	for _, marker := range sourceMarkers {
		if marker.pattern.MatchString(releaseName) {
			return marker.label
		}
	}
	return "Unknown"
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
