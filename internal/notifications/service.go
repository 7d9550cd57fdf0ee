package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"spool/internal/config"
)

const userAgent = "spool/0.1.0"

// Service defines the notification surface exposed to workflow components.
type Service interface {
	NotifyUploadCompleted(ctx context.Context, releaseName string, trackers []string) error
	NotifyDuplicateDetected(ctx context.Context, releaseName, tracker, reason string) error
	NotifyEntryFailed(ctx context.Context, releaseName, kind, message string) error
	NotifyApprovalNeeded(ctx context.Context, releaseName string) error
	NotifyBatchCompleted(ctx context.Context, name string, succeeded, failed int, duration time.Duration) error
	TestNotification(ctx context.Context) error
}

// NewService builds a webhook-backed service. When no webhook URL is
// configured a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	endpoint := strings.TrimSpace(cfg.Notifications.WebhookURL)
	if endpoint == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &webhookService{
		endpoint: endpoint,
		prefs:    cfg.Notifications,
		client:   &http.Client{Timeout: timeout},
	}
}

// event is the JSON body posted to the webhook.
type event struct {
	Event    string         `json:"event"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Priority string         `json:"priority,omitempty"`
	Fields   map[string]any `json:"fields,omitempty"`
}

type webhookService struct {
	endpoint string
	prefs    config.Notifications
	client   *http.Client
}

func (w *webhookService) NotifyUploadCompleted(ctx context.Context, releaseName string, trackers []string) error {
	if !w.prefs.Uploads {
		return nil
	}
	return w.send(ctx, event{
		Event:   "upload_completed",
		Title:   "Upload complete",
		Message: fmt.Sprintf("%s uploaded to %s", releaseName, strings.Join(trackers, ", ")),
		Fields:  map[string]any{"release_name": releaseName, "trackers": trackers},
	})
}

func (w *webhookService) NotifyDuplicateDetected(ctx context.Context, releaseName, tracker, reason string) error {
	if !w.prefs.Duplicates {
		return nil
	}
	return w.send(ctx, event{
		Event:   "duplicate_detected",
		Title:   "Duplicate skipped",
		Message: fmt.Sprintf("%s already on %s: %s", releaseName, tracker, reason),
		Fields:  map[string]any{"release_name": releaseName, "tracker": tracker},
	})
}

func (w *webhookService) NotifyEntryFailed(ctx context.Context, releaseName, kind, message string) error {
	if !w.prefs.Failures {
		return nil
	}
	return w.send(ctx, event{
		Event:    "entry_failed",
		Title:    "Processing failed",
		Message:  fmt.Sprintf("%s failed (%s): %s", releaseName, kind, message),
		Priority: "high",
		Fields:   map[string]any{"release_name": releaseName, "error_kind": kind},
	})
}

func (w *webhookService) NotifyApprovalNeeded(ctx context.Context, releaseName string) error {
	return w.send(ctx, event{
		Event:   "approval_needed",
		Title:   "Awaiting approval",
		Message: fmt.Sprintf("%s is parked until approved", releaseName),
		Fields:  map[string]any{"release_name": releaseName},
	})
}

func (w *webhookService) NotifyBatchCompleted(ctx context.Context, name string, succeeded, failed int, duration time.Duration) error {
	if !w.prefs.Batches {
		return nil
	}
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	title := "Batch complete"
	message := fmt.Sprintf("%s: %d uploaded in %s", name, succeeded, duration)
	if failed > 0 {
		title = "Batch complete (with errors)"
		message = fmt.Sprintf("%s: %d uploaded, %d failed in %s", name, succeeded, failed, duration)
	}
	return w.send(ctx, event{
		Event:   "batch_completed",
		Title:   title,
		Message: message,
		Fields:  map[string]any{"batch": name, "succeeded": succeeded, "failed": failed},
	})
}

func (w *webhookService) TestNotification(ctx context.Context) error {
	return w.send(ctx, event{
		Event:    "test",
		Title:    "Test",
		Message:  "notification system test",
		Priority: "low",
	})
}

func (w *webhookService) send(ctx context.Context, data event) error {
	if w == nil || w.client == nil {
		return nil
	}
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyUploadCompleted(context.Context, string, []string) error { return nil }
func (noopService) NotifyDuplicateDetected(context.Context, string, string, string) error {
	return nil
}
func (noopService) NotifyEntryFailed(context.Context, string, string, string) error { return nil }
func (noopService) NotifyApprovalNeeded(context.Context, string) error              { return nil }
func (noopService) NotifyBatchCompleted(context.Context, string, int, int, time.Duration) error {
	return nil
}
func (noopService) TestNotification(context.Context) error { return nil }
