package media

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"spool/internal/media/ffprobe"
	"spool/internal/services"
)

// Info is the analyzed view of one media file: what the container holds,
// normalized far enough for release naming and tracker upload facets.
type Info struct {
	Path            string          `json:"path"`
	Container       string          `json:"container"`
	SizeBytes       int64           `json:"size_bytes"`
	Duration        time.Duration   `json:"duration_ns"`
	Width           int             `json:"width"`
	Height          int             `json:"height"`
	ResolutionClass string          `json:"resolution_class"`
	VideoCodec      string          `json:"video_codec"`
	VideoProfile    string          `json:"video_profile"`
	BitRate         int64           `json:"bit_rate"`
	HDR             HDRInfo         `json:"hdr"`
	Audio           []AudioTrack    `json:"audio"`
	Subtitles       []SubtitleTrack `json:"subtitles,omitempty"`
	Languages       []string        `json:"languages"`
	RawFFprobe      json.RawMessage `json:"-"`
}

// HDRInfo captures the high dynamic range signalling found on the primary
// video stream.
type HDRInfo struct {
	HDR10       bool `json:"hdr10"`
	HDR10Plus   bool `json:"hdr10_plus"`
	DolbyVision bool `json:"dolby_vision"`
}

// Any reports whether any HDR format was detected.
func (h HDRInfo) Any() bool {
	return h.HDR10 || h.HDR10Plus || h.DolbyVision
}

// Label returns the release-name token for the detected HDR formats.
func (h HDRInfo) Label() string {
	switch {
	case h.DolbyVision && h.HDR10Plus:
		return "DV.HDR10+"
	case h.DolbyVision && h.HDR10:
		return "DV.HDR10"
	case h.DolbyVision:
		return "DV"
	case h.HDR10Plus:
		return "HDR10+"
	case h.HDR10:
		return "HDR10"
	}
	return ""
}

// AudioTrack describes one audio stream.
type AudioTrack struct {
	Index    int    `json:"index"`
	Codec    string `json:"codec"`
	Profile  string `json:"profile"`
	Channels int    `json:"channels"`
	Layout   string `json:"layout"`
	BitRate  int64  `json:"bit_rate,omitempty"`
	Language string `json:"language"`
	Title    string `json:"title,omitempty"`
	Atmos    bool   `json:"atmos"`
	Lossless bool   `json:"lossless"`
	Default  bool   `json:"default"`
}

// SubtitleTrack describes one subtitle stream.
type SubtitleTrack struct {
	Index    int    `json:"index"`
	Codec    string `json:"codec"`
	Language string `json:"language"`
	Title    string `json:"title,omitempty"`
	Forced   bool   `json:"forced"`
	SDH      bool   `json:"sdh"`
}

// PrimaryAudio returns the track the release name should describe: the
// richest channel layout wins, lossless beats lossy, the container default
// flag breaks ties, earlier tracks win otherwise. Nil when the file carries
// no audio.
func (i *Info) PrimaryAudio() *AudioTrack {
	if len(i.Audio) == 0 {
		return nil
	}
	best := 0
	bestScore := scoreAudio(i.Audio[0], 0)
	for idx := 1; idx < len(i.Audio); idx++ {
		if score := scoreAudio(i.Audio[idx], idx); score > bestScore {
			best = idx
			bestScore = score
		}
	}
	return &i.Audio[best]
}

func scoreAudio(track AudioTrack, order int) float64 {
	score := 0.0
	switch {
	case track.Channels >= 8:
		score += 1000
	case track.Channels >= 6:
		score += 800
	case track.Channels >= 4:
		score += 600
	case track.Channels >= 2:
		score += 400
	default:
		score += 200
	}
	if track.Lossless {
		score += 100
	} else {
		score += 50
	}
	if track.Atmos {
		score += 20
	}
	if track.Default {
		score += 5
	}
	return score - float64(order)*0.1
}

// Analyzer shells out to ffprobe and maps its output into Info.
type Analyzer struct {
	binary string
}

// NewAnalyzer returns an Analyzer using the given ffprobe binary (or the one
// on PATH when empty).
func NewAnalyzer(binary string) *Analyzer {
	if strings.TrimSpace(binary) == "" {
		binary = "ffprobe"
	}
	return &Analyzer{binary: binary}
}

// Analyze inspects the file at path. A missing ffprobe binary is a
// configuration error; ffprobe rejecting the file is a validation error.
func (a *Analyzer) Analyze(ctx context.Context, path string) (*Info, error) {
	result, err := ffprobe.Inspect(ctx, a.binary, path)
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
			return nil, services.Wrap(services.ErrConfiguration, "media", "analyze", "ffprobe binary not found", err)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, services.Wrap(services.ErrValidation, "media", "analyze", "ffprobe rejected "+path, err)
		}
		return nil, services.Wrap(services.ErrExternalUnavailable, "media", "analyze", "ffprobe failed", err)
	}

	info := FromProbe(result, path)
	if info.Width == 0 && info.Height == 0 {
		return nil, services.Wrap(services.ErrValidation, "media", "analyze", "no video stream in "+path, nil)
	}
	if info.SizeBytes == 0 {
		if st, statErr := os.Stat(path); statErr == nil {
			info.SizeBytes = st.Size()
		}
	}
	return info, nil
}

// FromProbe maps a parsed ffprobe result into Info without touching the
// filesystem.
func FromProbe(result ffprobe.Result, path string) *Info {
	info := &Info{
		Path:       path,
		Container:  containerName(result.Format.FormatName),
		SizeBytes:  result.SizeBytes(),
		BitRate:    result.BitRate(),
		RawFFprobe: result.RawJSON(),
	}
	if secs := result.DurationSeconds(); secs > 0 && !math.IsNaN(secs) {
		info.Duration = time.Duration(secs * float64(time.Second))
	}

	if videos := result.VideoStreams(); len(videos) > 0 {
		v := videos[0]
		info.Width = v.Width
		info.Height = v.Height
		info.ResolutionClass = resolutionClass(v.Width, v.Height)
		info.VideoCodec = strings.ToLower(strings.TrimSpace(v.CodecName))
		info.VideoProfile = v.Profile
		info.HDR = hdrFromStream(v)
	}

	seenLang := make(map[string]struct{})
	for _, stream := range result.AudioStreams() {
		track := audioTrackFromStream(stream)
		info.Audio = append(info.Audio, track)
		if track.Language != "" {
			if _, ok := seenLang[track.Language]; !ok {
				seenLang[track.Language] = struct{}{}
				info.Languages = append(info.Languages, track.Language)
			}
		}
	}
	for _, stream := range result.SubtitleStreams() {
		info.Subtitles = append(info.Subtitles, subtitleTrackFromStream(stream))
	}
	return info
}

func subtitleTrackFromStream(stream ffprobe.Stream) SubtitleTrack {
	track := SubtitleTrack{
		Index:    stream.Index,
		Codec:    strings.ToLower(strings.TrimSpace(stream.CodecName)),
		Language: streamLanguage(stream.Tags),
		Title:    streamTitle(stream.Tags),
		Forced:   stream.Disposition != nil && stream.Disposition["forced"] == 1,
	}
	lowered := strings.ToLower(track.Title)
	if strings.Contains(lowered, "sdh") || strings.Contains(lowered, "hearing") {
		track.SDH = true
	}
	if !track.Forced && strings.Contains(lowered, "forc") {
		track.Forced = true
	}
	return track
}

func containerName(formatName string) string {
	name := strings.ToLower(strings.TrimSpace(formatName))
	switch {
	case strings.Contains(name, "matroska"):
		return "mkv"
	case strings.Contains(name, "mp4"):
		return "mp4"
	case strings.Contains(name, "avi"):
		return "avi"
	}
	if idx := strings.IndexByte(name, ','); idx > 0 {
		return name[:idx]
	}
	return name
}

func resolutionClass(width, height int) string {
	switch {
	case height >= 1600 || width >= 3000:
		return "2160p"
	case height >= 900 || width >= 1700:
		return "1080p"
	case height >= 650 || width >= 1200:
		return "720p"
	case height > 0 || width > 0:
		return "480p"
	}
	return ""
}

func hdrFromStream(stream ffprobe.Stream) HDRInfo {
	var info HDRInfo
	transfer := strings.ToLower(stream.ColorTransfer)
	if transfer == "smpte2084" || transfer == "arib-std-b67" {
		info.HDR10 = true
	}
	for _, side := range stream.SideDataList {
		kind := strings.ToLower(side.SideDataType)
		switch {
		case strings.Contains(kind, "dovi") || strings.Contains(kind, "dolby vision"):
			info.DolbyVision = true
		case strings.Contains(kind, "2094") || strings.Contains(kind, "hdr dynamic metadata"):
			info.HDR10Plus = true
		case strings.Contains(kind, "mastering display") || strings.Contains(kind, "content light"):
			info.HDR10 = true
		}
	}
	return info
}

func audioTrackFromStream(stream ffprobe.Stream) AudioTrack {
	track := AudioTrack{
		Index:    stream.Index,
		Codec:    strings.ToLower(strings.TrimSpace(stream.CodecName)),
		Profile:  strings.TrimSpace(stream.Profile),
		Channels: channelCount(stream),
		Language: streamLanguage(stream.Tags),
		Title:    streamTitle(stream.Tags),
		Default:  stream.Disposition != nil && stream.Disposition["default"] == 1,
	}
	if rate, err := strconv.ParseInt(stream.BitRate, 10, 64); err == nil {
		track.BitRate = rate
	}
	track.Layout = layoutLabel(stream.ChannelLayout, track.Channels)
	track.Atmos = detectAtmos(stream)
	track.Lossless = detectLossless(stream)
	return track
}

func streamLanguage(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	for _, key := range []string{"language", "LANGUAGE", "Language", "language_ietf", "LANG"} {
		if value, ok := tags[key]; ok {
			value = strings.ToLower(strings.TrimSpace(value))
			if value != "" && value != "und" {
				return value
			}
		}
	}
	return ""
}

func channelCount(stream ffprobe.Stream) int {
	if stream.Channels > 0 {
		return stream.Channels
	}
	layout := strings.ToLower(strings.TrimSpace(stream.ChannelLayout))
	switch {
	case strings.HasPrefix(layout, "7.1"):
		return 8
	case strings.HasPrefix(layout, "6.1"):
		return 7
	case strings.HasPrefix(layout, "5.1"):
		return 6
	case strings.HasPrefix(layout, "5.0"):
		return 5
	case strings.HasPrefix(layout, "4.0"), strings.HasPrefix(layout, "quad"):
		return 4
	case strings.HasPrefix(layout, "2.1"):
		return 3
	case strings.HasPrefix(layout, "stereo"), strings.HasPrefix(layout, "2.0"):
		return 2
	case strings.HasPrefix(layout, "mono"), strings.HasPrefix(layout, "1.0"):
		return 1
	}
	return 0
}

func layoutLabel(layout string, channels int) string {
	cleaned := strings.ToLower(strings.TrimSpace(layout))
	if idx := strings.IndexByte(cleaned, '('); idx > 0 {
		cleaned = cleaned[:idx]
	}
	if cleaned != "" && cleaned != "stereo" && cleaned != "mono" && strings.ContainsRune(cleaned, '.') {
		return cleaned
	}
	switch channels {
	case 8:
		return "7.1"
	case 7:
		return "6.1"
	case 6:
		return "5.1"
	case 5:
		return "5.0"
	case 4:
		return "4.0"
	case 3:
		return "2.1"
	case 2:
		return "2.0"
	case 1:
		return "1.0"
	}
	return ""
}

func detectAtmos(stream ffprobe.Stream) bool {
	combined := strings.ToLower(strings.Join([]string{
		stream.Profile,
		stream.CodecLong,
		streamTitle(stream.Tags),
	}, " "))
	return strings.Contains(combined, "atmos")
}

func streamTitle(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	for _, key := range []string{"title", "TITLE", "handler_name", "HANDLER_NAME"} {
		if value, ok := tags[key]; ok {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func detectLossless(stream ffprobe.Stream) bool {
	name := strings.ToLower(stream.CodecName)
	long := strings.ToLower(stream.CodecLong)
	profile := strings.ToLower(stream.Profile)
	switch name {
	case "truehd", "flac", "mlp", "alac", "pcm_s16le", "pcm_s24le", "pcm_s32le", "pcm_bluray", "pcm_s24be", "pcm_s16be":
		return true
	}
	if strings.Contains(long, "lossless") {
		return true
	}
	if strings.Contains(profile, "ma") && name == "dts" {
		return true
	}
	return strings.Contains(long, "master audio")
}
