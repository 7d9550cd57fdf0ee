package pipeline

import (
	"context"
	"errors"
	"testing"

	"spool/internal/config"
	"spool/internal/logging"
	"spool/internal/queue"
	"spool/internal/testsupport"
)

func TestApproverAutoPasses(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithApprovalMode(config.ApprovalAuto))
	approver := NewApprover(cfg, logging.NewNop())

	entry := &queue.FileEntry{MetadataJSON: `{"title":"Some Movie"}`}
	if err := approver.Prepare(context.Background(), entry); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := approver.Execute(context.Background(), entry, &queue.Artifacts{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestApproverHoldParksEntry(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithApprovalMode(config.ApprovalHold))
	approver := NewApprover(cfg, logging.NewNop())

	entry := &queue.FileEntry{MetadataJSON: `{"title":"Some Movie"}`}
	err := approver.Execute(context.Background(), entry, &queue.Artifacts{})
	if !errors.Is(err, ErrAwaitingApproval) {
		t.Fatalf("expected ErrAwaitingApproval, got %v", err)
	}
}

func TestApproverPrepareRequiresMetadata(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	approver := NewApprover(cfg, logging.NewNop())
	if err := approver.Prepare(context.Background(), &queue.FileEntry{}); err == nil {
		t.Fatal("expected error without metadata")
	}
}
