package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tisystems/user-sync-service/internal/config"
	"github.com/tisystems/user-sync-service/internal/models"
)

// ErrNotList indicates the upstream responded with valid JSON that is not an
// array. Every source contract is a flat JSON list.
var ErrNotList = errors.New("response is not a JSON list")

// Client fetches raw records from the six external sources
type Client struct {
	cfg        config.Sources
	httpClient *http.Client
}

// NewClient creates a new fetch client
func NewClient(cfg config.Sources) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// fetchList fetches a JSON list from url with retry. Total attempts are the
// configured retries plus the initial one.
func (c *Client) fetchList(ctx context.Context, source, url string, headers map[string]string) ([]models.RawPayload, error) {
	if url == "" {
		return nil, fmt.Errorf("%s: source URL is not configured", source)
	}

	attempts := c.cfg.Retries + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		rows, err := c.fetchListOnce(ctx, url, headers)
		if err == nil {
			return rows, nil
		}

		lastErr = err
		if attempt < attempts-1 {
			waitTime := time.Duration(attempt+1) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(waitTime):
			}
		}
	}

	return nil, fmt.Errorf("%s: failed after %d attempts: %w", source, attempts, lastErr)
}

// fetchListOnce performs a single fetch attempt
func (c *Client) fetchListOnce(ctx context.Context, url string, headers map[string]string) ([]models.RawPayload, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	list, ok := decoded.([]any)
	if !ok {
		return nil, ErrNotList
	}

	rows := make([]models.RawPayload, 0, len(list))
	for _, item := range list {
		if obj, ok := item.(map[string]any); ok {
			rows = append(rows, models.RawPayload(obj))
		} else {
			// Non-object entries are kept as nil rows so the caller can
			// count them as skipped instead of losing track of them.
			rows = append(rows, nil)
		}
	}
	return rows, nil
}

// DirectoryUsers fetches the canonical directory records.
func (c *Client) DirectoryUsers(ctx context.Context) ([]models.RawPayload, error) {
	return c.fetchList(ctx, models.SourceDirectory, c.cfg.DirectoryURL, nil)
}

// TimeclockContacts fetches and unwraps the time-tracking contacts. Each
// upstream record nests the payload one level under "json"; malformed
// wrappers and records empty after trim are dropped here, before counting.
func (c *Client) TimeclockContacts(ctx context.Context) ([]models.TimeclockContact, error) {
	if c.cfg.TimeclockToken == "" {
		return nil, fmt.Errorf("%s: TIMECLOCK_TOKEN is not configured", models.SourceTimeclock)
	}
	headers := map[string]string{
		"Authentication": c.cfg.TimeclockToken,
		"Accept":         "application/json",
	}
	rows, err := c.fetchList(ctx, models.SourceTimeclock, c.cfg.TimeclockURL, headers)
	if err != nil {
		return nil, err
	}

	var contacts []models.TimeclockContact
	for _, row := range rows {
		if row == nil {
			continue
		}
		inner, ok := row["json"].(map[string]any)
		if !ok {
			continue
		}
		name := strings.TrimSpace(stringValue(inner["nome"]))
		email := strings.TrimSpace(stringValue(inner["email"]))
		if name == "" && email == "" {
			continue
		}
		contacts = append(contacts, models.TimeclockContact{Name: name, Email: email, Raw: row})
	}
	return contacts, nil
}

// AccountingUsers fetches the accounting/CRM user records.
func (c *Client) AccountingUsers(ctx context.Context) ([]models.RawPayload, error) {
	return c.fetchList(ctx, models.SourceAccounting, c.cfg.AccountingURL, nil)
}

// ERPAccounts fetches the legacy ERP account records.
func (c *Client) ERPAccounts(ctx context.Context) ([]models.RawPayload, error) {
	return c.fetchList(ctx, models.SourceERP, c.cfg.ERPURL, nil)
}

// PortalUsers fetches the web-portal user records.
func (c *Client) PortalUsers(ctx context.Context) ([]models.RawPayload, error) {
	return c.fetchList(ctx, models.SourcePortal, c.cfg.PortalURL, nil)
}

// LogicUsers fetches the logic-service user records.
func (c *Client) LogicUsers(ctx context.Context) ([]models.RawPayload, error) {
	return c.fetchList(ctx, models.SourceLogic, c.cfg.LogicURL, nil)
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
