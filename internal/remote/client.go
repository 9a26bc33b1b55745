// Package remote is the HTTP client for the record store's multi-route
// surface: upsert, list, delete, config, blob viewing, and receipt analysis.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"receiptpocket/internal/receipt"
	"go.uber.org/zap"
)

// ErrNotConfigured is returned when no API URL is set; the caller treats it
// like any other push failure.
var ErrNotConfigured = errors.New("sync API URL is not configured")

// UpsertResult is the record store's answer to a push. URL and EvidenceURL
// carry the stable blob references when the pushed record embedded data URIs.
type UpsertResult struct {
	Success     bool   `json:"success"`
	URL         string `json:"url"`
	EvidenceURL string `json:"evidenceUrl"`
}

// Config is the remote settings snapshot. Absent keys come back as nil
// slices and leave the local values untouched.
type Config struct {
	Categories         []string `json:"categories"`
	ReimbursementNames []string `json:"reimbursementNames"`
}

// Extraction holds the field guesses returned by the analyze endpoint. They
// are suggestions only; the caller edits them before saving.
type Extraction struct {
	Date          string  `json:"date"`
	Vendor        string  `json:"vendor"`
	Amount        float64 `json:"amount"`
	Category      string  `json:"category"`
	PaymentMethod string  `json:"paymentMethod"`
	Description   string  `json:"description"`
}

// AnalyzeRequest is the analyze endpoint's request body.
type AnalyzeRequest struct {
	Base64Data string   `json:"base64Data"`
	MimeType   string   `json:"mimeType"`
	Categories []string `json:"categories"`
	Language   string   `json:"language"`
}

// Client talks to one record store instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a client for the given base URL. An empty URL produces a
// client whose calls all fail with ErrNotConfigured, mirroring the web
// client's behavior when SYNC_API_URL is unset.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Enabled reports whether a base URL is configured.
func (c *Client) Enabled() bool { return c.baseURL != "" }

// Upsert pushes a full record to the store. The store persists any embedded
// data-URI payloads to blob storage first and answers with their stable URLs.
func (c *Client) Upsert(ctx context.Context, r receipt.Receipt) (UpsertResult, error) {
	var result UpsertResult
	if !c.Enabled() {
		return result, ErrNotConfigured
	}

	body, err := json.Marshal(r)
	if err != nil {
		return result, fmt.Errorf("failed to encode receipt: %w", err)
	}

	if err := c.doJSON(ctx, http.MethodPost, "/", body, &result); err != nil {
		c.logger.Warn("Receipt push failed", zap.String("id", r.ID), zap.Error(err))
		return UpsertResult{}, err
	}
	result.Success = true
	return result, nil
}

// List fetches the full remote snapshot. Every returned record is marked
// synced, since its presence in the snapshot is the confirmation.
func (c *Client) List(ctx context.Context) ([]receipt.Receipt, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}

	var records []receipt.Receipt
	if err := c.doJSON(ctx, http.MethodGet, "/list", nil, &records); err != nil {
		return nil, err
	}
	for i := range records {
		records[i].Synced = true
	}
	return records, nil
}

// Delete removes a record by id.
func (c *Client) Delete(ctx context.Context, id string) error {
	if !c.Enabled() {
		return ErrNotConfigured
	}
	path := "/delete?id=" + url.QueryEscape(id)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// FetchConfig retrieves the remote settings snapshot.
func (c *Client) FetchConfig(ctx context.Context) (*Config, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}
	var cfg Config
	if err := c.doJSON(ctx, http.MethodGet, "/config", nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveConfig stores one settings key. Last write wins.
func (c *Client) SaveConfig(ctx context.Context, key string, value interface{}) error {
	if !c.Enabled() {
		return ErrNotConfigured
	}
	body, err := json.Marshal(map[string]interface{}{"key": key, "value": value})
	if err != nil {
		return fmt.Errorf("failed to encode config value: %w", err)
	}
	return c.doJSON(ctx, http.MethodPost, "/config", body, nil)
}

// Analyze sends an encoded receipt image to the store's image-understanding
// endpoint and returns the extracted field guesses.
func (c *Client) Analyze(ctx context.Context, req AnalyzeRequest) (*Extraction, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode analyze request: %w", err)
	}
	var result Extraction
	if err := c.doJSON(ctx, http.MethodPost, "/analyze", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ViewBlob retrieves a stored blob by its reference id.
func (c *Client) ViewBlob(ctx context.Context, id string) ([]byte, string, error) {
	if !c.Enabled() {
		return nil, "", ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("blob request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("blob request returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read blob body: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// doJSON performs one request against the store and decodes a JSON response
// into out when out is non-nil. Non-2xx statuses are transport failures.
func (c *Client) doJSON(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s returned status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
