package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/italolelis/flipcache/internal/events"
	"github.com/italolelis/flipcache/internal/logctx"
)

type Notifier interface {
	Notify(ctx context.Context, content string) error
}

type DiscordNotifier struct {
	WebhookURL string
	Client     *http.Client
}

func NewDiscordNotifier(webhookURL string) *DiscordNotifier {
	return &DiscordNotifier{WebhookURL: webhookURL, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (d *DiscordNotifier) Notify(ctx context.Context, content string) error {
	if d.WebhookURL == "" {
		return errors.New("webhook URL is not set")
	}

	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

// Nop drops every notification; used when no webhook is configured.
type Nop struct{}

func (Nop) Notify(context.Context, string) error { return nil }

// OnDownloadFailed returns a bus handler that notifies about failed flip downloads.
func OnDownloadFailed(n Notifier) events.Handler {
	return func(ctx context.Context, e events.DownloadFinished) {
		if !e.Failed() {
			return
		}

		content := fmt.Sprintf("Download failed for flip %q (%s): %v", e.Flip.Word, e.Flip.ID, e.Err)

		if err := n.Notify(ctx, content); err != nil {
			logctx.LoggerFromContext(ctx).Error("failed to send notification", "flip_id", e.Flip.ID, "err", err)
		}
	}
}
