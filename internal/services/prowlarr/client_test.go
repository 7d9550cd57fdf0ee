package prowlarr

import (
	"context"
	"errors"
	"testing"

	"golift.io/starr/prowlarr"

	"spool/internal/services"
)

type fakeFetcher struct {
	statusErr error
	indexers  []*prowlarr.IndexerOutput
}

func (f *fakeFetcher) GetSystemStatusContext(context.Context) (*prowlarr.SystemStatus, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return &prowlarr.SystemStatus{Version: "1.21.2"}, nil
}

func (f *fakeFetcher) GetIndexersContext(context.Context) ([]*prowlarr.IndexerOutput, error) {
	return f.indexers, nil
}

func catalogue() *fakeFetcher {
	return &fakeFetcher{
		indexers: []*prowlarr.IndexerOutput{
			{
				ID:             1,
				Name:           "PrivateTrackerX",
				DefinitionName: "privatetrackerx",
				Enable:         true,
				IndexerUrls:    []string{"https://tracker.example/"},
			},
			{
				ID:             2,
				Name:           "Alpha",
				DefinitionName: "alpha",
				Enable:         false,
				IndexerUrls:    []string{"https://alpha.example/"},
			},
		},
	}
}

func TestMatchIndexerByDefinitionNameAndHost(t *testing.T) {
	client := New("", "", WithFetcher(catalogue()))

	byDef, err := client.MatchIndexer(context.Background(), Hints{Definition: "PrivateTrackerX"})
	if err != nil || byDef.ID != 1 {
		t.Fatalf("match by definition: %v %+v", err, byDef)
	}
	byName, err := client.MatchIndexer(context.Background(), Hints{Name: "alpha"})
	if err != nil || byName.ID != 2 {
		t.Fatalf("match by name: %v %+v", err, byName)
	}
	byHost, err := client.MatchIndexer(context.Background(), Hints{Host: "tracker.example"})
	if err != nil || byHost.ID != 1 {
		t.Fatalf("match by host: %v %+v", err, byHost)
	}
}

func TestMatchIndexerReportsMisses(t *testing.T) {
	client := New("", "", WithFetcher(catalogue()))
	_, err := client.MatchIndexer(context.Background(), Hints{Name: "unknown"})
	if services.KindOf(err) != services.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := client.MatchIndexer(context.Background(), Hints{}); services.KindOf(err) != services.KindValidation {
		t.Fatalf("expected validation error for empty hints, got %v", err)
	}
}

func TestTestIndexerRejectsDisabledIndexer(t *testing.T) {
	client := New("", "", WithFetcher(catalogue()))

	indexer, err := client.TestIndexer(context.Background(), Hints{Name: "Alpha"})
	if services.KindOf(err) != services.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if indexer == nil || indexer.ID != 2 {
		t.Fatalf("disabled indexer should still be returned: %+v", indexer)
	}

	ok, err := client.TestIndexer(context.Background(), Hints{Name: "PrivateTrackerX"})
	if err != nil || !ok.Enabled {
		t.Fatalf("healthy indexer rejected: %v %+v", err, ok)
	}
}

func TestPingMapsFailures(t *testing.T) {
	fetcher := catalogue()
	fetcher.statusErr = errors.New("connection refused")
	client := New("", "", WithFetcher(fetcher))
	if err := client.Ping(context.Background()); services.KindOf(err) != services.KindExternalUnavailable {
		t.Fatalf("expected external unavailable, got %v", err)
	}

	unconfigured := New("", "")
	if unconfigured.Configured() {
		t.Fatal("client without url should not be configured")
	}
	if err := unconfigured.Ping(context.Background()); services.KindOf(err) != services.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
