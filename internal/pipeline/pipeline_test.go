package pipeline

import (
	"context"
	"fmt"
	"testing"

	"spool/internal/metadata"
	"spool/internal/trackers"
)

func mustRelease(t *testing.T, payload string) *metadata.Release {
	t.Helper()
	release, err := metadata.ParseRelease([]byte(payload))
	if err != nil {
		t.Fatalf("parse release: %v", err)
	}
	return release
}

func mustSchema(t *testing.T, slug, sourceFlag string) *trackers.Schema {
	t.Helper()
	schema, err := trackers.ParseSchema([]byte(fmt.Sprintf(`
tracker:
  name: %[1]s
  slug: %[1]s
  base_url: https://%[1]s.example
source_flag: %[2]s
categories:
  movie: "19"
  default: "1"
`, slug, sourceFlag)))
	if err != nil {
		t.Fatalf("parse schema: %v", err)
	}
	return schema
}

// stubTracker scripts the adapter surface for stage tests.
type stubTracker struct {
	schema    *trackers.Schema
	authErr   error
	decision  *trackers.DuplicateDecision
	dupErr    error
	result    *trackers.UploadResult
	uploadErr error

	authCalls int
	dupCalls  int
	uploads   []map[string]any
}

func (s *stubTracker) Slug() string             { return s.schema.Tracker.Slug }
func (s *stubTracker) Name() string             { return s.schema.Tracker.Name }
func (s *stubTracker) Schema() *trackers.Schema { return s.schema }

func (s *stubTracker) AnnounceURL() string {
	return s.schema.Tracker.BaseURL + "/announce?passkey=stub"
}

func (s *stubTracker) Authenticate(ctx context.Context) error {
	s.authCalls++
	return s.authErr
}

func (s *stubTracker) DuplicateCheck(ctx context.Context, query trackers.DuplicateQuery) (*trackers.DuplicateDecision, error) {
	s.dupCalls++
	if s.dupErr != nil {
		return nil, s.dupErr
	}
	if s.decision != nil {
		return s.decision, nil
	}
	return &trackers.DuplicateDecision{Method: "tmdb"}, nil
}

func (s *stubTracker) Upload(ctx context.Context, uploadCtx map[string]any) (*trackers.UploadResult, error) {
	s.uploads = append(s.uploads, uploadCtx)
	if s.uploadErr != nil {
		return nil, s.uploadErr
	}
	if s.result != nil {
		return s.result, nil
	}
	return &trackers.UploadResult{TorrentID: "1"}, nil
}

func (s *stubTracker) ResolveCategory(ctx context.Context, keys []string) (string, bool) {
	return s.schema.CategoryID(keys)
}

func (s *stubTracker) BuildOptions(ctx context.Context, input trackers.OptionInput) map[string]any {
	return map[string]any{"resolution": input.Resolution}
}
