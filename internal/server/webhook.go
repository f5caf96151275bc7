package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/kilupskalvis/kotoimi/internal/models"
)

// WebhookEvent is the payload sent to webhook URLs. It never carries the
// submitted texts or the author hash.
type WebhookEvent struct {
	Event        string              `json:"event"`
	RecordID     string              `json:"record_id"`
	EventTag     string              `json:"event_tag"`
	Mode         string              `json:"mode"`
	QualityFlags models.QualityFlags `json:"quality_flags"`
	Timestamp    string              `json:"timestamp"`
}

// WebhookNotifier posts submission events to configured webhook URLs.
type WebhookNotifier struct {
	urls   []string
	client *http.Client
	logger *slog.Logger
	retry  *retryPolicy
	wg     sync.WaitGroup
}

// NewWebhookNotifier creates a webhook notifier. Returns nil if no URLs are configured.
func NewWebhookNotifier(urls []string, logger *slog.Logger) *WebhookNotifier {
	if len(urls) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookNotifier{
		urls:   urls,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
		retry:  defaultRetryPolicy(),
	}
}

// NotifySubmission sends a submission event to all configured URLs.
// Runs asynchronously and does not block the caller.
func (wn *WebhookNotifier) NotifySubmission(sub *models.Submission) {
	if wn == nil {
		return
	}

	event := &WebhookEvent{
		Event:        "submission",
		RecordID:     sub.ID,
		EventTag:     string(sub.EventCategory),
		Mode:         string(sub.Mode),
		QualityFlags: sub.QualityFlags,
		Timestamp:    sub.Timestamp.UTC().Format(time.RFC3339),
	}

	wn.wg.Add(1)
	go func() {
		defer wn.wg.Done()
		wn.send(event)
	}()
}

// Wait blocks until every pending delivery has finished.
func (wn *WebhookNotifier) Wait() {
	if wn == nil {
		return
	}
	wn.wg.Wait()
}

// send delivers the webhook event to all configured URLs.
func (wn *WebhookNotifier) send(event *WebhookEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		wn.logger.Error("webhook: marshal event", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	for _, url := range wn.urls {
		if err := wn.post(ctx, url, data); err != nil {
			wn.logger.Warn("webhook: delivery failed", "url", url, "error", err)
		} else {
			wn.logger.Debug("webhook: delivered", "url", url, "record_id", event.RecordID)
		}
	}
}

// post sends a single webhook POST, retrying network errors, 429 and 5xx.
func (wn *WebhookNotifier) post(ctx context.Context, url string, data []byte) error {
	return wn.retry.do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "kotoimi/1.0")

		resp, err := wn.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		return &statusError{Status: resp.StatusCode}
	})
}
