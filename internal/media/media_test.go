package media_test

import (
	"testing"
	"time"

	"spool/internal/media"
	"spool/internal/media/ffprobe"
)

const uhdProbePayload = `{
	"streams": [
		{
			"index": 0,
			"codec_name": "hevc",
			"codec_type": "video",
			"profile": "Main 10",
			"width": 3840,
			"height": 2160,
			"pix_fmt": "yuv420p10le",
			"color_transfer": "smpte2084",
			"side_data_list": [
				{"side_data_type": "DOVI configuration record"},
				{"side_data_type": "Mastering display metadata"}
			]
		},
		{
			"index": 1,
			"codec_name": "truehd",
			"codec_long_name": "TrueHD",
			"codec_type": "audio",
			"channels": 8,
			"channel_layout": "7.1",
			"disposition": {"default": 1},
			"tags": {"language": "eng", "title": "TrueHD Atmos 7.1"}
		},
		{
			"index": 2,
			"codec_name": "ac3",
			"codec_long_name": "ATSC A/52A (AC-3)",
			"codec_type": "audio",
			"channels": 6,
			"channel_layout": "5.1(side)",
			"disposition": {"default": 0},
			"tags": {"language": "fre"}
		},
		{
			"index": 3,
			"codec_name": "aac",
			"codec_type": "audio",
			"channels": 2,
			"channel_layout": "stereo",
			"disposition": {"default": 0, "comment": 1},
			"tags": {"language": "eng", "title": "Director Commentary"}
		}
	],
	"format": {
		"format_name": "matroska,webm",
		"duration": "8230.500000",
		"size": "52000000000",
		"bit_rate": "50500000"
	}
}`

func TestFromProbeMapsFullFeaturedFile(t *testing.T) {
	result, err := ffprobe.Parse([]byte(uhdProbePayload))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	info := media.FromProbe(result, "/library/movie.mkv")

	if info.Container != "mkv" {
		t.Fatalf("unexpected container: %q", info.Container)
	}
	if info.SizeBytes != 52000000000 {
		t.Fatalf("unexpected size: %d", info.SizeBytes)
	}
	if got := info.Duration; got < 8230*time.Second || got > 8231*time.Second {
		t.Fatalf("unexpected duration: %s", got)
	}
	if info.ResolutionClass != "2160p" {
		t.Fatalf("unexpected resolution class: %q", info.ResolutionClass)
	}
	if info.VideoCodec != "hevc" || info.VideoProfile != "Main 10" {
		t.Fatalf("unexpected video codec: %q profile %q", info.VideoCodec, info.VideoProfile)
	}
	if !info.HDR.HDR10 || !info.HDR.DolbyVision || info.HDR.HDR10Plus {
		t.Fatalf("unexpected HDR flags: %+v", info.HDR)
	}
	if label := info.HDR.Label(); label != "DV.HDR10" {
		t.Fatalf("unexpected HDR label: %q", label)
	}
	if len(info.Audio) != 3 {
		t.Fatalf("expected 3 audio tracks, got %d", len(info.Audio))
	}
	if got, want := info.Languages, []string{"eng", "fre"}; len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("unexpected languages: %v", got)
	}
}

func TestFromProbeAudioTrackDetails(t *testing.T) {
	result, err := ffprobe.Parse([]byte(uhdProbePayload))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	info := media.FromProbe(result, "/library/movie.mkv")

	truehd := info.Audio[0]
	if truehd.Codec != "truehd" || truehd.Channels != 8 || truehd.Layout != "7.1" {
		t.Fatalf("unexpected truehd track: %+v", truehd)
	}
	if !truehd.Atmos {
		t.Fatal("atmos not detected from track title")
	}
	if !truehd.Lossless {
		t.Fatal("truehd should be lossless")
	}
	if !truehd.Default {
		t.Fatal("default disposition lost")
	}

	ac3 := info.Audio[1]
	if ac3.Layout != "5.1" {
		t.Fatalf("side-channel layout not cleaned: %q", ac3.Layout)
	}
	if ac3.Lossless || ac3.Atmos {
		t.Fatalf("ac3 misclassified: %+v", ac3)
	}
	if ac3.Language != "fre" {
		t.Fatalf("unexpected ac3 language: %q", ac3.Language)
	}
}

func TestPrimaryAudioPrefersChannelsThenLossless(t *testing.T) {
	result, err := ffprobe.Parse([]byte(uhdProbePayload))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	info := media.FromProbe(result, "/library/movie.mkv")

	primary := info.PrimaryAudio()
	if primary == nil {
		t.Fatal("expected a primary track")
	}
	if primary.Codec != "truehd" {
		t.Fatalf("expected truehd primary, got %q", primary.Codec)
	}

	// With the TrueHD track gone the default lossy 5.1 beats the stereo
	// commentary.
	info.Audio = info.Audio[1:]
	primary = info.PrimaryAudio()
	if primary == nil || primary.Codec != "ac3" {
		t.Fatalf("expected ac3 primary, got %+v", primary)
	}

	info.Audio = nil
	if info.PrimaryAudio() != nil {
		t.Fatal("expected nil primary for silent file")
	}
}

func TestFromProbeResolutionClasses(t *testing.T) {
	cases := []struct {
		name   string
		width  int
		height int
		want   string
	}{
		{"uhd", 3840, 2160, "2160p"},
		{"uhd scope crop", 3840, 1600, "2160p"},
		{"full hd", 1920, 1080, "1080p"},
		{"full hd scope crop", 1920, 804, "1080p"},
		{"hd", 1280, 720, "720p"},
		{"hd scope crop", 1280, 536, "720p"},
		{"pal dvd", 720, 576, "480p"},
		{"no video", 0, 0, ""},
	}
	for _, tc := range cases {
		result := ffprobe.Result{}
		if tc.width > 0 {
			result.Streams = []ffprobe.Stream{{
				CodecType: "video",
				CodecName: "h264",
				Width:     tc.width,
				Height:    tc.height,
			}}
		}
		info := media.FromProbe(result, "/x.mkv")
		if info.ResolutionClass != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.name, info.ResolutionClass, tc.want)
		}
	}
}

func TestHDRLabels(t *testing.T) {
	cases := []struct {
		hdr  media.HDRInfo
		want string
	}{
		{media.HDRInfo{}, ""},
		{media.HDRInfo{HDR10: true}, "HDR10"},
		{media.HDRInfo{HDR10Plus: true}, "HDR10+"},
		{media.HDRInfo{DolbyVision: true}, "DV"},
		{media.HDRInfo{DolbyVision: true, HDR10: true}, "DV.HDR10"},
		{media.HDRInfo{DolbyVision: true, HDR10Plus: true, HDR10: true}, "DV.HDR10+"},
	}
	for _, tc := range cases {
		if got := tc.hdr.Label(); got != tc.want {
			t.Fatalf("%+v: got %q, want %q", tc.hdr, got, tc.want)
		}
	}
}

func TestFromProbeDetectsHDR10PlusSideData(t *testing.T) {
	result := ffprobe.Result{
		Streams: []ffprobe.Stream{{
			CodecType:     "video",
			CodecName:     "hevc",
			Width:         3840,
			Height:        2160,
			ColorTransfer: "smpte2084",
			SideDataList: []ffprobe.SideData{
				{SideDataType: "HDR Dynamic Metadata SMPTE2094-40 (HDR10+)"},
			},
		}},
	}
	info := media.FromProbe(result, "/x.mkv")
	if !info.HDR.HDR10 || !info.HDR.HDR10Plus || info.HDR.DolbyVision {
		t.Fatalf("unexpected HDR flags: %+v", info.HDR)
	}
	if info.HDR.Label() != "HDR10+" {
		t.Fatalf("unexpected label: %q", info.HDR.Label())
	}
}
