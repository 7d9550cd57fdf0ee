package trackers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// serverSchema rewrites the demo schema's base URL onto a test server.
func serverSchema(t *testing.T, serverURL string) *Schema {
	t.Helper()
	doc := strings.ReplaceAll(demoSchema, "https://demo.example/", serverURL)
	schema, err := ParseSchema([]byte(doc))
	require.NoError(t, err)
	return schema
}

func uploadContext() map[string]any {
	return map[string]any{
		"release_name": "The.Movie.2021.1080p.WEB.H264-GRP",
		"torrent_data": []byte("d4:infod4:name3:xyzee"),
		"tmdb_id":      int64(550),
		"tag_ids":      []int{10, 15, 20},
		"tmdb_data":    map[string]any{"id": 550, "title": "The Movie"},
	}
}

func TestUploadEmitsRepeatedFormKeys(t *testing.T) {
	var tagValues []string
	var fileNames []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(4<<20))
		tagValues = r.MultipartForm.Value["tag_ids"]
		for _, headers := range r.MultipartForm.File {
			for _, header := range headers {
				fileNames = append(fileNames, header.Filename)
			}
		}
		require.Equal(t, "k123", r.Header.Get("X-API-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": true, "data": {"id": 4242}}`))
	}))
	defer server.Close()

	adapter := NewAdapter(serverSchema(t, server.URL), Credentials{APIKey: "k123"})
	result, err := adapter.Upload(context.Background(), uploadContext())
	require.NoError(t, err)

	require.Equal(t, []string{"10", "15", "20"}, tagValues,
		"repeated field must arrive as three form entries under one key")
	require.Equal(t, []string{"The.Movie.2021.1080p.WEB.H264-GRP.torrent"}, fileNames)
	require.Equal(t, "4242", result.TorrentID)
	require.Equal(t, server.URL+"/torrent/4242", result.TorrentURL)
}

func TestUploadValidatesBeforeAnyNetworkCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for an invalid payload")
	}))
	defer server.Close()

	adapter := NewAdapter(serverSchema(t, server.URL), Credentials{APIKey: "k123"})

	ctx := uploadContext()
	delete(ctx, "release_name")
	_, err := adapter.Upload(context.Background(), ctx)
	require.Error(t, err)

	ctx = uploadContext()
	delete(ctx, "torrent_data")
	_, err = adapter.Upload(context.Background(), ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "torrent")
}

func TestUploadSurfacesTrackerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": false, "error": "release already exists"}`))
	}))
	defer server.Close()

	adapter := NewAdapter(serverSchema(t, server.URL), Credentials{APIKey: "k123"})
	_, err := adapter.Upload(context.Background(), uploadContext())
	require.Error(t, err)
	require.Contains(t, err.Error(), "release already exists")
}

func TestUploadAcceptsPlainTextSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "OK")
	}))
	defer server.Close()

	adapter := NewAdapter(serverSchema(t, server.URL), Credentials{APIKey: "k123"})
	result, err := adapter.Upload(context.Background(), uploadContext())
	require.NoError(t, err)
	require.Empty(t, result.TorrentID)
}

func TestSearchParsesJSONWithResponsePath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "550", r.URL.Query().Get("tmdbId"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": [
			{"id": 7, "attributes": {"name": "The.Movie.2021.1080p.WEB.H264-GRP", "size": 4200000000, "seeders": 12, "tmdb_id": 550}}
		]}`))
	}))
	defer server.Close()

	adapter := NewAdapter(serverSchema(t, server.URL), Credentials{APIKey: "k123"})
	results, err := adapter.Search(context.Background(), Query{TMDBID: 550})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "7", results[0].ID)
	require.Equal(t, "The.Movie.2021.1080p.WEB.H264-GRP", results[0].Name)
	require.Equal(t, int64(4200000000), results[0].SizeBytes)
	require.Equal(t, 12, results[0].Seeders)
	require.Equal(t, "550", results[0].TMDBID)
}

func TestSearchSniffsTorznabFeed(t *testing.T) {
	feed := `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:torznab="http://torznab.com/schemas/2015/feed">
 <channel>
  <item>
   <title>The.Movie.2021.1080p.WEB.H264-GRP</title>
   <guid>https://demo.example/t/991</guid>
   <link>https://demo.example/dl/991</link>
   <enclosure url="https://demo.example/dl/991" length="4200000000" type="application/x-bittorrent"/>
   <torznab:attr name="seeders" value="8"/>
   <torznab:attr name="peers" value="3"/>
   <torznab:attr name="tmdbid" value="550"/>
   <torznab:attr name="infohash" value="ABCDEF0123"/>
  </item>
 </channel>
</rss>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = io.WriteString(w, feed)
	}))
	defer server.Close()

	adapter := NewAdapter(serverSchema(t, server.URL), Credentials{APIKey: "k123"})
	results, err := adapter.Search(context.Background(), Query{TMDBID: 550})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, 8, results[0].Seeders)
	require.Equal(t, 3, results[0].Leechers)
	require.Equal(t, "abcdef0123", results[0].InfoHash)
	require.Equal(t, "550", results[0].TMDBID)
	require.Equal(t, int64(4200000000), results[0].SizeBytes)
}

func TestSearchReadsSlowChunkedBody(t *testing.T) {
	payload := `{"data": [` +
		`{"id": 7, "attributes": {"name": "The.Movie.2021.1080p.WEB.H264-GRP", "size": 4200000000, "seeders": 12, "tmdb_id": 550}}` +
		`]}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, payload[:len(`{"data": [`)])
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		time.Sleep(300 * time.Millisecond)
		_, _ = io.WriteString(w, payload[len(`{"data": [`):])
	}))
	defer server.Close()

	adapter := NewAdapter(serverSchema(t, server.URL), Credentials{APIKey: "k123"})
	results, err := adapter.Search(context.Background(), Query{TMDBID: 550})
	require.NoError(t, err, "a body that arrives in two bursts must still be read to the end")
	require.Len(t, results, 1)
	require.Equal(t, "7", results[0].ID)
}

func TestDuplicateCheckFlagsExactSizeMatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": [
			{"id": 1, "attributes": {"name": "The.Movie.2021.1080p.WEB.H264-OTHER", "size": 4000000000}}
		]}`))
	}))
	defer server.Close()

	adapter := NewAdapter(serverSchema(t, server.URL), Credentials{APIKey: "k123"})
	decision, err := adapter.DuplicateCheck(context.Background(), DuplicateQuery{
		TMDBID:      550,
		ReleaseName: "The.Movie.2021.1080p.WEB.H264-GRP",
		SizeBytes:   4010000000, // within 1%
		Quality:     "1080p",
	})
	require.NoError(t, err)
	require.True(t, decision.Duplicate)
	require.Equal(t, "tmdb", decision.Method)
	require.Len(t, decision.Matches, 1)
}

func TestDuplicateCheckSimilarOnlyProceeds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": [
			{"id": 1, "attributes": {"name": "The.Movie.2021.1080p.WEB.H264-OTHER", "size": 9000000000}}
		]}`))
	}))
	defer server.Close()

	adapter := NewAdapter(serverSchema(t, server.URL), Credentials{APIKey: "k123"})
	decision, err := adapter.DuplicateCheck(context.Background(), DuplicateQuery{
		TMDBID:    550,
		SizeBytes: 4010000000,
	})
	require.NoError(t, err)
	require.False(t, decision.Duplicate)
	require.Len(t, decision.Matches, 1)
}

func TestDuplicateCheckSearchFailureDoesNotBlock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer server.Close()

	adapter := NewAdapter(serverSchema(t, server.URL), Credentials{APIKey: "k123"})
	decision, err := adapter.DuplicateCheck(context.Background(), DuplicateQuery{TMDBID: 550})
	require.NoError(t, err)
	require.False(t, decision.Duplicate)
	require.Contains(t, decision.Reason, "search failed")
}

func TestAuthenticateVerifiesEndpointAndRejects401(t *testing.T) {
	var status = http.StatusOK
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.WriteHeader(status)
	}))
	defer server.Close()

	doc := strings.ReplaceAll(`
tracker:
  slug: bearer-demo
  base_url: SERVER
auth:
  type: bearer
endpoints:
  authenticate: /api/meta
`, "SERVER", server.URL)
	schema, err := ParseSchema([]byte(doc))
	require.NoError(t, err)

	adapter := NewAdapter(schema, Credentials{APIKey: "tok"})
	require.NoError(t, adapter.Authenticate(context.Background()))

	status = http.StatusUnauthorized
	adapter.InvalidateSession()
	err = adapter.Authenticate(context.Background())
	require.Error(t, err)
}

func TestPasskeyAuthRidesQueryString(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "secretpasskey1", r.URL.Query().Get("passkey"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": []}`))
	}))
	defer server.Close()

	doc := strings.ReplaceAll(`
tracker:
  slug: pk-demo
  base_url: SERVER
auth:
  type: passkey
endpoints:
  search: /api/search
search:
  mode: json
  response_path: data
`, "SERVER", server.URL)
	schema, err := ParseSchema([]byte(doc))
	require.NoError(t, err)

	adapter := NewAdapter(schema, Credentials{Passkey: "secretpasskey1"})
	require.NoError(t, adapter.Authenticate(context.Background()))
	_, err = adapter.Search(context.Background(), Query{Text: "movie"})
	require.NoError(t, err)
}

func TestTestUploadStopsBeforeTransmission(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("dry run must not reach the network")
	}))
	defer server.Close()

	adapter := NewAdapter(serverSchema(t, server.URL), Credentials{APIKey: "k123"})
	report := adapter.TestUpload(context.Background(), uploadContext())
	require.True(t, report.OK, report.Detail)
	require.Contains(t, report.Detail, "not transmitted")
}

func TestDynamicOptionsFetchOnceWithinTTL(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": [{"id": 3, "name": "Movies"}, {"id": 5, "name": "Documentaries"}]}`))
	}))
	defer server.Close()

	doc := strings.ReplaceAll(`
tracker:
  slug: dyn-demo
  base_url: SERVER
dynamic_sources:
  categories:
    endpoint: /api/categories
    response_path: data
`, "SERVER", server.URL)
	schema, err := ParseSchema([]byte(doc))
	require.NoError(t, err)

	adapter := NewAdapter(schema, Credentials{})
	first, err := adapter.DynamicOptions(context.Background(), "categories")
	require.NoError(t, err)
	require.Equal(t, []DynamicOption{{ID: "3", Name: "Movies"}, {ID: "5", Name: "Documentaries"}}, first)

	_, err = adapter.DynamicOptions(context.Background(), "categories")
	require.NoError(t, err)
	require.Equal(t, 1, calls, "second lookup must come from cache")
}

func TestBuildOptionsResolvesDynamicSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": [{"id": 3, "name": "Animation"}, {"id": 7, "name": "Documentary"}]}`))
	}))
	defer server.Close()

	doc := strings.ReplaceAll(`
tracker:
  slug: dyn-demo
  base_url: SERVER
dynamic_sources:
  genres:
    endpoint: /api/genres
    response_path: data
options:
  genres:
    type: "12"
    multi_select: true
    dynamic_source: genres
    name_mappings:
      documentary: 99
`, "SERVER", server.URL)
	schema, err := ParseSchema([]byte(doc))
	require.NoError(t, err)

	adapter := NewAdapter(schema, Credentials{})
	options := adapter.BuildOptions(context.Background(), OptionInput{GenreNames: []string{"Documentary"}})
	require.Equal(t, map[string]any{"12": []int{7}},
		options, "the fetched list must win over the static name mappings")
}

func TestBuildOptionsFallsBackToStaticOnFetchFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	doc := strings.ReplaceAll(`
tracker:
  slug: dyn-demo
  base_url: SERVER
dynamic_sources:
  genres:
    endpoint: /api/genres
options:
  genres:
    type: "12"
    multi_select: true
    dynamic_source: genres
    name_mappings:
      documentary: 99
`, "SERVER", server.URL)
	schema, err := ParseSchema([]byte(doc))
	require.NoError(t, err)

	adapter := NewAdapter(schema, Credentials{})
	options := adapter.BuildOptions(context.Background(), OptionInput{GenreNames: []string{"Documentary"}})
	require.Equal(t, map[string]any{"12": []int{99}}, options)
}

func TestResolveCategoryPrefersStaticThenDynamic(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": [{"id": 31, "name": "Movies"}]}`))
	}))
	defer server.Close()

	doc := strings.ReplaceAll(`
tracker:
  slug: dyn-demo
  base_url: SERVER
categories:
  documentary: "9"
dynamic_sources:
  categories:
    endpoint: /api/categories
    response_path: data
`, "SERVER", server.URL)
	schema, err := ParseSchema([]byte(doc))
	require.NoError(t, err)
	adapter := NewAdapter(schema, Credentials{})

	id, ok := adapter.ResolveCategory(context.Background(), []string{"documentary"})
	require.True(t, ok)
	require.Equal(t, "9", id)
	require.Zero(t, calls, "a static hit must not fetch")

	id, ok = adapter.ResolveCategory(context.Background(), []string{"movie"})
	require.True(t, ok)
	require.Equal(t, "31", id)
	require.Equal(t, 1, calls)
}

func TestSchemaRejectsUndeclaredDynamicSourceReference(t *testing.T) {
	_, err := ParseSchema([]byte(`
tracker:
  slug: dyn-demo
  base_url: https://demo.example
options:
  genres:
    type: "12"
    dynamic_source: genres
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "undeclared dynamic source")
}

func TestAnnounceURLInterpolatesPasskey(t *testing.T) {
	schema := parseDemoSchema(t)
	adapter := NewAdapter(schema, Credentials{Passkey: "pk0123456789"})
	require.Equal(t, "https://demo.example/announce?passkey=pk0123456789", adapter.AnnounceURL())
}
