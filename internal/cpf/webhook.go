package cpf

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/tisystems/user-sync-service/internal/config"
)

// Pusher is the outbound boundary that delivers one corrected CPF.
type Pusher interface {
	Push(ctx context.Context, directoryID int64, cpf string) bool
}

// WebhookClient pushes corrected CPFs to the directory service webhook. One
// attempt per call; any failure is logged and reported as false, never
// raised.
type WebhookClient struct {
	baseURL    string
	field      string
	httpClient *http.Client
}

// NewWebhookClient creates a new webhook push client
func NewWebhookClient(cfg config.CPF) *WebhookClient {
	return &WebhookClient{
		baseURL: cfg.WebhookURL,
		field:   cfg.WebhookField,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
	}
}

// Push sends one user.update call. True only on a 2xx response.
func (w *WebhookClient) Push(ctx context.Context, directoryID int64, cpf string) bool {
	if w.baseURL == "" {
		log.Printf("webhook base URL not configured, skipping push for id %d", directoryID)
		return false
	}

	url := strings.TrimSuffix(w.baseURL, "/") + "/user.update.json"
	payload := map[string]any{
		"ID":    directoryID,
		w.field: cpf,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal webhook payload for id %d: %v", directoryID, err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		log.Printf("failed to create webhook request for id %d: %v", directoryID, err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		log.Printf("webhook push failed for id %d: %v", directoryID, err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("webhook push for id %d returned status %d", directoryID, resp.StatusCode)
		return false
	}
	return true
}
