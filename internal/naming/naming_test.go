package naming

import "testing"

func TestSanitizeTitle(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"spaces to dots", "The Long Voyage", "The.Long.Voyage"},
		{"accents folded", "Amélie Poulain", "Amelie.Poulain"},
		{"apostrophes dropped", "L'homme d'à côté", "Lhomme.da.cote"},
		{"underscores to dots", "some_file_name", "some.file.name"},
		{"invalid stripped", "Títle: The (Best)!", "Title.The.Best"},
		{"dot runs collapse", "a...b..c", "a.b.c"},
		{"edges trimmed", ".padded.", "padded"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeTitle(tt.input); got != tt.want {
				t.Errorf("SanitizeTitle(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeLanguage(t *testing.T) {
	tests := []struct{ input, want string }{
		{"french", "FRENCH"},
		{"vf", "FRENCH"},
		{"VFF", "VFF"},
		{"truefrench", "TRUEFRENCH"},
		{"multi", "MULTi"},
		{"english", "ENGLISH"},
		{"klingon", "KLINGON"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeLanguage(tt.input); got != tt.want {
			t.Errorf("NormalizeLanguage(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestNormalizeResolution(t *testing.T) {
	tests := []struct{ input, want string }{
		{"4k", "2160p"},
		{"UHD", "2160p"},
		{"2160", "2160p"},
		{"2160p", "2160p"},
		{"1080", "1080p"},
		{"720p", "720p"},
		{"480", "480p"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeResolution(tt.input); got != tt.want {
			t.Errorf("NormalizeResolution(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestNormalizeSource(t *testing.T) {
	tests := []struct{ input, want string }{
		{"web-dl", "WEB"},
		{"WEBDL", "WEB"},
		{"webrip", "WEBRip"},
		{"bluray", "BluRay"},
		{"Blu-Ray", "BluRay"},
		{"hdtv", "HDTV"},
		{"laserdisc", "laserdisc"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeSource(tt.input); got != tt.want {
			t.Errorf("NormalizeSource(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestNormalizeAudio(t *testing.T) {
	tests := []struct{ input, want string }{
		{"ddp", "EAC3"},
		{"dd+", "EAC3"},
		{"dd", "AC3"},
		{"dts-hd ma", "DTS-HD.MA"},
		{"truehd", "TrueHD"},
		{"truehd atmos", "TrueHD.Atmos"},
		{"opus", "Opus"},
		{"unknowncodec", "UNKNOWNCODEC"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeAudio(tt.input); got != tt.want {
			t.Errorf("NormalizeAudio(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestNormalizeVideo(t *testing.T) {
	tests := []struct{ input, want string }{
		{"h264", "x264"},
		{"AVC", "x264"},
		{"hevc", "x265"},
		{"h.265", "x265"},
		{"av1", "AV1"},
		{"rv40", "rv40"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeVideo(tt.input); got != tt.want {
			t.Errorf("NormalizeVideo(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestBuildFullName(t *testing.T) {
	name, err := Build(Parts{
		Title:         "The Long Voyage",
		Year:          2023,
		Language:      "multi",
		Resolution:    "1080",
		Source:        "web-dl",
		Audio:         "ddp",
		AudioChannels: "5.1",
		Video:         "h264",
		Group:         "GRP",
	})
	if err != nil {
		t.Fatal(err)
	}
	want := "The.Long.Voyage.2023.MULTi.1080p.WEB.EAC3.5.1.x264-GRP"
	if name != want {
		t.Errorf("Build() = %q, want %q", name, want)
	}
}

func TestBuildDefaultGroup(t *testing.T) {
	name, err := Build(Parts{Title: "Solo", Year: 2020, Resolution: "720p", Video: "x264"})
	if err != nil {
		t.Fatal(err)
	}
	want := "Solo.2020.720p.x264-" + DefaultGroup
	if name != want {
		t.Errorf("Build() = %q, want %q", name, want)
	}
}

func TestBuildRemuxComposition(t *testing.T) {
	name, err := Build(Parts{
		Title:      "Midnight Harbor",
		Year:       2019,
		Resolution: "2160p",
		Source:     "bluray",
		Remux:      true,
		HDR:        "DV.HDR10",
		Audio:      "truehd atmos",
		Video:      "hevc",
		Group:      "GRP",
	})
	if err != nil {
		t.Fatal(err)
	}
	want := "Midnight.Harbor.2019.2160p.BluRay.REMUX.DV.HDR10.TrueHD.Atmos.x265-GRP"
	if name != want {
		t.Errorf("Build() = %q, want %q", name, want)
	}
}

func TestBuildDocumentaryMarker(t *testing.T) {
	name, err := Build(Parts{
		Title:       "Deep Oceans",
		Year:        2021,
		Documentary: true,
		Language:    "french",
		Resolution:  "1080p",
		Source:      "web",
		Audio:       "eac3",
		Video:       "h265",
		Group:       "GRP",
	})
	if err != nil {
		t.Fatal(err)
	}
	want := "Deep.Oceans.2021.DOC.FRENCH.1080p.WEB.EAC3.x265-GRP"
	if name != want {
		t.Errorf("Build() = %q, want %q", name, want)
	}
}

func TestBuildSDRSkipped(t *testing.T) {
	name, err := Build(Parts{Title: "Plain", Year: 2022, HDR: "SDR", Video: "x264", Group: "GRP"})
	if err != nil {
		t.Fatal(err)
	}
	want := "Plain.2022.x264-GRP"
	if name != want {
		t.Errorf("Build() = %q, want %q", name, want)
	}
}

func TestBuildRequiresTitle(t *testing.T) {
	if _, err := Build(Parts{Year: 2023}); err == nil {
		t.Fatal("expected error for missing title")
	}
	// A title that sanitizes to nothing is as missing.
	if _, err := Build(Parts{Title: "???"}); err == nil {
		t.Fatal("expected error for unsanitizable title")
	}
}
