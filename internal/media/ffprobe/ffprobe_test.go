package ffprobe

import (
	"math"
	"testing"
)

func TestResultHelpers(t *testing.T) {
	result := Result{
		Streams: []Stream{
			{CodecType: "video"},
			{CodecType: "audio"},
			{CodecType: "audio"},
		},
		Format: Format{
			Duration: "123.45",
			Size:     "1000",
			BitRate:  "32000",
		},
	}
	if result.VideoStreamCount() != 1 {
		t.Fatalf("expected 1 video stream, got %d", result.VideoStreamCount())
	}
	if result.AudioStreamCount() != 2 {
		t.Fatalf("expected 2 audio streams, got %d", result.AudioStreamCount())
	}
	if result.DurationSeconds() != 123.45 {
		t.Fatalf("unexpected duration: %v", result.DurationSeconds())
	}
	if result.SizeBytes() != 1000 {
		t.Fatalf("unexpected size: %d", result.SizeBytes())
	}
	if result.BitRate() != 32000 {
		t.Fatalf("unexpected bitrate: %d", result.BitRate())
	}
}

func TestParseKeepsRawPayloadAndSplitsStreams(t *testing.T) {
	payload := []byte(`{
		"streams": [
			{"index": 0, "codec_type": "video", "codec_name": "hevc", "width": 3840, "height": 2160,
			 "color_transfer": "smpte2084",
			 "side_data_list": [{"side_data_type": "DOVI configuration record"}]},
			{"index": 1, "codec_type": "audio", "codec_name": "truehd", "channels": 8,
			 "channel_layout": "7.1", "disposition": {"default": 1}, "tags": {"language": "eng"}}
		],
		"format": {"format_name": "matroska,webm", "duration": "5400.5", "size": "4000000000"}
	}`)
	result, err := Parse(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(result.VideoStreams()) != 1 || len(result.AudioStreams()) != 1 {
		t.Fatalf("unexpected stream split: %d video, %d audio", len(result.VideoStreams()), len(result.AudioStreams()))
	}
	video := result.VideoStreams()[0]
	if video.ColorTransfer != "smpte2084" {
		t.Fatalf("unexpected color transfer: %q", video.ColorTransfer)
	}
	if len(video.SideDataList) != 1 || video.SideDataList[0].SideDataType != "DOVI configuration record" {
		t.Fatalf("side data not parsed: %+v", video.SideDataList)
	}
	audio := result.AudioStreams()[0]
	if audio.Channels != 8 || audio.Tags["language"] != "eng" || audio.Disposition["default"] != 1 {
		t.Fatalf("audio stream not parsed: %+v", audio)
	}
	if len(result.RawJSON()) == 0 {
		t.Fatal("raw payload not retained")
	}
}

func TestParseRejectsMalformedPayload(t *testing.T) {
	if _, err := Parse([]byte("not json")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestResultHelpersHandleInvalidNumbers(t *testing.T) {
	result := Result{
		Format: Format{
			Duration: "bad",
			Size:     "-1",
			BitRate:  "nope",
		},
	}
	if !math.IsNaN(result.DurationSeconds()) {
		t.Fatalf("expected duration NaN, got %v", result.DurationSeconds())
	}
	if result.SizeBytes() != 0 {
		t.Fatalf("expected size 0, got %d", result.SizeBytes())
	}
	if result.BitRate() != 0 {
		t.Fatalf("expected bitrate 0, got %d", result.BitRate())
	}
}
