package stage

import (
	"testing"

	"spool/internal/queue"
	"spool/internal/services"
)

func TestParseMetadataValid(t *testing.T) {
	entry := &queue.FileEntry{MetadataJSON: `{"tmdb_id":550,"title":"The Movie","year":2021}`}
	release, err := ParseMetadata(entry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if release.TMDBID != 550 || release.Title != "The Movie" {
		t.Fatalf("unexpected release: %+v", release)
	}
}

func TestParseMetadataMissing(t *testing.T) {
	_, err := ParseMetadata(&queue.FileEntry{})
	if err == nil {
		t.Fatal("expected error for empty metadata")
	}
	if services.KindOf(err) != services.KindValidation {
		t.Fatalf("expected validation kind, got %s", services.KindOf(err))
	}
}

func TestParseMetadataInvalid(t *testing.T) {
	_, err := ParseMetadata(&queue.FileEntry{MetadataJSON: "{invalid"})
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}
