package qbittorrent

import (
	"context"
	"errors"
	"testing"

	qbt "github.com/autobrr/go-qbittorrent"

	"spool/internal/services"
)

type fakeEngine struct {
	logins    int
	addErr    error
	added     []map[string]string
	tagged    map[string]string
	torrents  []qbt.Torrent
	pingErr   error
	versionOK bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{tagged: make(map[string]string), versionOK: true}
}

func (f *fakeEngine) LoginCtx(context.Context) error {
	f.logins++
	return nil
}

func (f *fakeEngine) AddTorrentFromMemoryCtx(_ context.Context, _ []byte, options map[string]string) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, options)
	return nil
}

func (f *fakeEngine) GetTorrentsCtx(_ context.Context, o qbt.TorrentFilterOptions) ([]qbt.Torrent, error) {
	out := make([]qbt.Torrent, 0, len(f.torrents))
	for _, torrent := range f.torrents {
		if o.Category == "" || torrent.Category == o.Category {
			out = append(out, torrent)
		}
	}
	return out, nil
}

func (f *fakeEngine) AddTagsCtx(_ context.Context, hashes []string, tags string) error {
	for _, hash := range hashes {
		f.tagged[hash] = tags
	}
	return nil
}

func (f *fakeEngine) GetWebAPIVersionCtx(context.Context) (string, error) {
	if !f.versionOK {
		return "", errors.New("unreachable")
	}
	return "2.11.2", nil
}

func testClient(engine Engine) *Client {
	return New(Options{
		URL:          "http://localhost:8080",
		Category:     "spool",
		LocalRoot:    "/srv/spool/output",
		RemoteRoot:   "/downloads/spool",
		SkipChecking: true,
	}, WithEngine(engine))
}

func TestAddTorrentBuildsInjectionOptions(t *testing.T) {
	engine := newFakeEngine()
	client := testClient(engine)

	err := client.AddTorrent(context.Background(), []byte("d4:infoe"), "ABCDEF", "/srv/spool/output/The.Matrix.1999", "ptx")
	if err != nil {
		t.Fatalf("add torrent: %v", err)
	}
	if len(engine.added) != 1 {
		t.Fatalf("expected 1 injection, got %d", len(engine.added))
	}
	got := engine.added[0]
	if got["savepath"] != "/downloads/spool/The.Matrix.1999" {
		t.Fatalf("save path not mapped: %q", got["savepath"])
	}
	if got["category"] != "spool" || got["skip_checking"] != "true" || got["autoTMM"] != "false" {
		t.Fatalf("unexpected options: %v", got)
	}
	if got["tags"] != "PTX" {
		t.Fatalf("tag not uppercased: %q", got["tags"])
	}
}

func TestAddTorrentDegradesToTaggingWhenAlreadyPresent(t *testing.T) {
	engine := newFakeEngine()
	engine.addErr = errors.New("torrent is already in the session")
	client := testClient(engine)

	err := client.AddTorrent(context.Background(), []byte("d4:infoe"), "ABCDEF0123", "/srv/spool/output/x", "ptx")
	if err != nil {
		t.Fatalf("add torrent: %v", err)
	}
	if tags, ok := engine.tagged["abcdef0123"]; !ok || tags != "PTX" {
		t.Fatalf("existing torrent not tagged: %v", engine.tagged)
	}
}

func TestAddTorrentReportsOtherFailures(t *testing.T) {
	engine := newFakeEngine()
	engine.addErr = errors.New("permission denied")
	client := testClient(engine)

	err := client.AddTorrent(context.Background(), []byte("d4:infoe"), "ABCDEF", "/srv/spool/output/x", "ptx")
	if services.KindOf(err) != services.KindExternalUnavailable {
		t.Fatalf("expected external unavailable, got %v", err)
	}
}

func TestLoginHappensOncePerSession(t *testing.T) {
	engine := newFakeEngine()
	client := testClient(engine)

	for range 3 {
		if err := client.Healthy(context.Background()); err != nil {
			t.Fatalf("healthy: %v", err)
		}
	}
	if engine.logins != 1 {
		t.Fatalf("expected 1 login, got %d", engine.logins)
	}
}

func TestMapSavePathLeavesForeignPathsAlone(t *testing.T) {
	client := testClient(newFakeEngine())
	if got := client.MapSavePath("/mnt/elsewhere/file"); got != "/mnt/elsewhere/file" {
		t.Fatalf("foreign path rewritten: %q", got)
	}
	if got := client.MapSavePath("/srv/spool/output"); got != "/downloads/spool" {
		t.Fatalf("root not mapped: %q", got)
	}
}

func TestTorrentsByCategoryFilters(t *testing.T) {
	engine := newFakeEngine()
	engine.torrents = []qbt.Torrent{
		{Hash: "a", Category: "spool"},
		{Hash: "b", Category: "other"},
	}
	client := testClient(engine)

	torrents, err := client.TorrentsByCategory(context.Background(), "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(torrents) != 1 || torrents[0].Hash != "a" {
		t.Fatalf("unexpected torrents: %+v", torrents)
	}
}
