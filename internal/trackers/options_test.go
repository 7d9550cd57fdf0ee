package trackers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func demoAdapter(t *testing.T) *Adapter {
	t.Helper()
	return NewAdapter(parseDemoSchema(t), Credentials{APIKey: "k"})
}

func TestBuildOptionsLanguageDirectMatch(t *testing.T) {
	adapter := demoAdapter(t)
	options := adapter.BuildOptions(context.Background(), OptionInput{Languages: []string{"French"}})
	require.Equal(t, 2, options["9"])
}

func TestBuildOptionsAutoMultiBeatsDirectMatches(t *testing.T) {
	adapter := demoAdapter(t)
	options := adapter.BuildOptions(context.Background(), OptionInput{Languages: []string{"fre", "eng"}})
	require.Equal(t, 3, options["9"], "french plus english audio promotes to the MULTi id")
}

func TestBuildOptionsLanguageFallsBackToDefault(t *testing.T) {
	adapter := demoAdapter(t)
	options := adapter.BuildOptions(context.Background(), OptionInput{Languages: []string{"japanese"}})
	require.Equal(t, 1, options["9"])
}

func TestBuildOptionsQualityPrecedence(t *testing.T) {
	adapter := demoAdapter(t)

	// Detection pattern wins over everything.
	options := adapter.BuildOptions(context.Background(), OptionInput{
		ReleaseName: "The.Movie.2021.1080p.HDLight.x264-GRP",
		Resolution:  "1080p",
		Source:      "web",
	})
	require.Equal(t, 18, options["7"])

	// Combined resolution_source key.
	options = adapter.BuildOptions(context.Background(), OptionInput{
		ReleaseName: "The.Movie.2021.2160p.WEB.H265-GRP",
		Resolution:  "2160p",
		Source:      "web",
	})
	require.Equal(t, 12, options["7"])

	// Resolution fallback when no combined key applies.
	options = adapter.BuildOptions(context.Background(), OptionInput{
		ReleaseName: "The.Movie.2021.BluRay-GRP",
		Resolution:  "2160p",
		Source:      "bluray",
	})
	require.Equal(t, 12, options["7"])

	// Default as the last resort.
	options = adapter.BuildOptions(context.Background(), OptionInput{ReleaseName: "Obscure.Release"})
	require.Equal(t, 11, options["7"])
}

func TestBuildOptionsGenresCollectMultiSelect(t *testing.T) {
	adapter := demoAdapter(t)
	options := adapter.BuildOptions(context.Background(), OptionInput{
		GenreIDs:   []int64{16, 99},
		GenreNames: []string{"Action & Adventure"},
	})
	require.ElementsMatch(t, []int{51, 52, 40}, options["12"].([]int))
}

func TestBuildOptionsGenresOmittedWithoutMatch(t *testing.T) {
	adapter := demoAdapter(t)
	options := adapter.BuildOptions(context.Background(), OptionInput{GenreNames: []string{"Musical"}})
	_, present := options["12"]
	require.False(t, present, "no default declared, facet omitted")
}

func TestBuildOptionsSeasonEpisodeCounters(t *testing.T) {
	doc := `
tracker:
  slug: tv-demo
  base_url: https://tv.example
options:
  season:
    type: "6"
    complete_value: 100
    base_value: 100
    max_value: 130
  episode:
    type: "7"
    complete_value: 200
    base_value: 200
    max_value: 260
`
	schema, err := ParseSchema([]byte(doc))
	require.NoError(t, err)
	adapter := NewAdapter(schema, Credentials{})

	options := adapter.BuildOptions(context.Background(), OptionInput{Season: 2, Episode: 5})
	require.Equal(t, 102, options["6"])
	require.Equal(t, 205, options["7"])

	options = adapter.BuildOptions(context.Background(), OptionInput{})
	require.Equal(t, 100, options["6"], "zero season means complete")
	require.Equal(t, 200, options["7"])

	options = adapter.BuildOptions(context.Background(), OptionInput{Season: 99})
	require.Equal(t, 130, options["6"], "capped at max_value")
}

func TestNormalizedTitleStripsYearAndDots(t *testing.T) {
	require.Equal(t, "The Movie", normalizedTitle("The.Movie.2021.1080p.WEB.H264-GRP"))
	require.Equal(t, "No Year Here", normalizedTitle("No.Year.Here"))
}
