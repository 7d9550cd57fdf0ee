package naming

import "strings"

// languageMap normalizes language tokens to their release-name form.
var languageMap = map[string]string{
	"french":       "FRENCH",
	"francais":     "FRENCH",
	"fr":           "FRENCH",
	"vf":           "FRENCH",
	"english":      "ENGLISH",
	"en":           "ENGLISH",
	"multi":        "MULTi",
	"multilingual": "MULTi",
	"vostfr":       "VOSTFR",
	"vo":           "VO",
	"vff":          "VFF",
	"vof":          "VOF",
	"vfq":          "VFQ",
	"vfi":          "VFI",
	"vf2":          "VF2",
	"truefrench":   "TRUEFRENCH",
}

// resolutionMap normalizes height tokens to the canonical p-suffixed class.
var resolutionMap = map[string]string{
	"4k":   "2160p",
	"uhd":  "2160p",
	"2160": "2160p",
	"1440": "1440p",
	"1080": "1080p",
	"720":  "720p",
	"576":  "576p",
	"480":  "480p",
}

// sourceMap normalizes media source tokens. WEB-DL variants collapse to WEB.
var sourceMap = map[string]string{
	"bluray":   "BluRay",
	"blu-ray":  "BluRay",
	"bdrip":    "BDRip",
	"brrip":    "BRRip",
	"web":      "WEB",
	"web-dl":   "WEB",
	"webdl":    "WEB",
	"web.dl":   "WEB",
	"webrip":   "WEBRip",
	"hdtv":     "HDTV",
	"dvdrip":   "DVDRip",
	"dvd":      "DVDRip",
	"hdrip":    "HDRip",
	"hd-rip":   "HDRip",
	"hdcam":    "HDCAM",
	"cam":      "CAM",
	"ts":       "TS",
	"telesync": "TS",
	"mhd":      "mHD",
	"vod":      "VOD",
}

// audioMap normalizes audio codec tokens.
var audioMap = map[string]string{
	"aac":       "AAC",
	"ac3":       "AC3",
	"ac-3":      "AC3",
	"dd":        "AC3",
	"dd5.1":     "AC3",
	"eac3":      "EAC3",
	"e-ac-3":    "EAC3",
	"dd+":       "EAC3",
	"ddp":       "EAC3",
	"dts":       "DTS",
	"dts-hd":    "DTS-HD",
	"dts-hd.ma": "DTS-HD.MA",
	"dts-hd ma": "DTS-HD.MA",
	"truehd":    "TrueHD",
	"atmos":     "Atmos",
	"flac":      "FLAC",
	"opus":      "Opus",
	"mp3":       "MP3",
	"pcm":       "PCM",
}

// videoMap normalizes video codec tokens. Encoded h264/h265 read as x264/x265.
var videoMap = map[string]string{
	"h264":  "x264",
	"h.264": "x264",
	"avc":   "x264",
	"x264":  "x264",
	"h265":  "x265",
	"h.265": "x265",
	"hevc":  "x265",
	"x265":  "x265",
	"av1":   "AV1",
	"vp9":   "VP9",
	"vc1":   "VC1",
	"vc-1":  "VC1",
	"xvid":  "XviD",
	"divx":  "DivX",
	"mpeg2": "MPEG2",
}

// NormalizeLanguage maps a language token to its release form. Unknown tokens
// are uppercased; empty input stays empty.
func NormalizeLanguage(language string) string {
	token := strings.ToLower(strings.TrimSpace(language))
	if token == "" {
		return ""
	}
	if mapped, ok := languageMap[token]; ok {
		return mapped
	}
	return strings.ToUpper(token)
}

// NormalizeResolution maps a resolution token to the p-suffixed class.
func NormalizeResolution(resolution string) string {
	token := strings.ToLower(strings.TrimSpace(resolution))
	if token == "" {
		return ""
	}
	trimmed := strings.TrimSuffix(token, "p")
	if mapped, ok := resolutionMap[trimmed]; ok {
		return mapped
	}
	if !strings.HasSuffix(token, "p") {
		return token + "p"
	}
	return token
}

// NormalizeSource maps a source token to its release form. Unknown tokens
// pass through unchanged.
func NormalizeSource(source string) string {
	token := strings.ToLower(strings.TrimSpace(source))
	if token == "" {
		return ""
	}
	if mapped, ok := sourceMap[token]; ok {
		return mapped
	}
	return strings.TrimSpace(source)
}

// NormalizeAudio maps an audio codec token to its release form. Compound
// tokens like "truehd atmos" normalize each part. Unknown tokens uppercase.
func NormalizeAudio(codec string) string {
	token := strings.ToLower(strings.TrimSpace(codec))
	if token == "" {
		return ""
	}
	if mapped, ok := audioMap[token]; ok {
		return mapped
	}
	if parts := strings.Fields(token); len(parts) > 1 {
		mapped := make([]string, 0, len(parts))
		for _, part := range parts {
			mapped = append(mapped, NormalizeAudio(part))
		}
		return strings.Join(mapped, ".")
	}
	return strings.ToUpper(token)
}

// NormalizeVideo maps a video codec token to its release form. Unknown
// tokens pass through unchanged.
func NormalizeVideo(codec string) string {
	token := strings.ToLower(strings.TrimSpace(codec))
	if token == "" {
		return ""
	}
	if mapped, ok := videoMap[token]; ok {
		return mapped
	}
	return strings.TrimSpace(codec)
}
