// Package memory fronts the external memory service with validation,
// deduplication, daily quotas and background consolidation.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wargame-agent/backend/internal/storage/models"
	"github.com/wargame-agent/backend/pkg/correlation"
	"github.com/wargame-agent/backend/pkg/logger"
)

// Backend is the wire contract to the memory service. The gateway owns all
// policy; the backend only moves records.
type Backend interface {
	Search(ctx context.Context, query, userID string, limit int, scopes []string) ([]models.MemoryHit, error)
	Add(ctx context.Context, record models.MemoryRecord) (string, error)
	Delete(ctx context.Context, memoryID string) (bool, error)
	List(ctx context.Context, userID string, limit int, scope string, tags []string) ([]models.MemoryRecord, error)
}

type HTTPBackend struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPBackend(baseURL, apiKey string, timeout time.Duration) *HTTPBackend {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type wireMetadata struct {
	Scope      string   `json:"scope,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Source     string   `json:"source,omitempty"`
	Importance float64  `json:"importance,omitempty"`
}

type wireMemory struct {
	ID        string       `json:"id"`
	Memory    string       `json:"memory"`
	UserID    string       `json:"user_id"`
	Score     float64      `json:"score,omitempty"`
	Metadata  wireMetadata `json:"metadata"`
	CreatedAt time.Time    `json:"created_at"`
}

func (w wireMemory) toRecord() models.MemoryRecord {
	return models.MemoryRecord{
		MemoryID:   w.ID,
		UserID:     w.UserID,
		Scope:      w.Metadata.Scope,
		Memory:     w.Memory,
		Tags:       w.Metadata.Tags,
		Source:     w.Metadata.Source,
		Importance: w.Metadata.Importance,
		CreatedAt:  w.CreatedAt,
	}
}

func (b *HTTPBackend) Search(ctx context.Context, query, userID string, limit int, scopes []string) ([]models.MemoryHit, error) {
	payload := map[string]any{
		"query":   query,
		"user_id": userID,
		"limit":   limit,
	}
	if len(scopes) > 0 {
		payload["filters"] = map[string]any{"scope": scopes}
	}

	var response struct {
		Results []wireMemory `json:"results"`
	}
	if err := b.do(ctx, http.MethodPost, "/v1/memories/search", payload, &response); err != nil {
		return nil, fmt.Errorf("failed to search memories: %w", err)
	}

	hits := make([]models.MemoryHit, 0, len(response.Results))
	for _, w := range response.Results {
		hits = append(hits, models.MemoryHit{
			MemoryRecord: w.toRecord(),
			Score:        w.Score,
		})
	}
	return hits, nil
}

func (b *HTTPBackend) Add(ctx context.Context, record models.MemoryRecord) (string, error) {
	payload := map[string]any{
		"user_id": record.UserID,
		"memory":  record.Memory,
		"metadata": wireMetadata{
			Scope:      record.Scope,
			Tags:       record.Tags,
			Source:     record.Source,
			Importance: record.Importance,
		},
	}

	var response struct {
		ID string `json:"id"`
	}
	if err := b.do(ctx, http.MethodPost, "/v1/memories", payload, &response); err != nil {
		return "", fmt.Errorf("failed to add memory: %w", err)
	}
	return response.ID, nil
}

// Delete returns false without error when the backend reports the id unknown.
func (b *HTTPBackend) Delete(ctx context.Context, memoryID string) (bool, error) {
	req, err := b.newRequest(ctx, http.MethodDelete, "/v1/memories/"+url.PathEscape(memoryID), nil)
	if err != nil {
		return false, err
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to delete memory: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Errorf("memory backend returned status %d", resp.StatusCode)
	}
	return true, nil
}

func (b *HTTPBackend) List(ctx context.Context, userID string, limit int, scope string, tags []string) ([]models.MemoryRecord, error) {
	params := url.Values{}
	params.Add("user_id", userID)
	params.Add("limit", fmt.Sprintf("%d", limit))
	if scope != "" {
		params.Add("scope", scope)
	}
	if len(tags) > 0 {
		params.Add("tags", strings.Join(tags, ","))
	}

	var response struct {
		Results []wireMemory `json:"results"`
	}
	if err := b.do(ctx, http.MethodGet, "/v1/memories?"+params.Encode(), nil, &response); err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}

	records := make([]models.MemoryRecord, 0, len(response.Results))
	for _, w := range response.Results {
		records = append(records, w.toRecord())
	}
	return records, nil
}

func (b *HTTPBackend) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}
	if id := correlation.FromContext(ctx); id != "" {
		req.Header.Set(correlation.Header, id)
	}
	return req, nil
}

func (b *HTTPBackend) do(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := b.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		logger.Warn("Memory backend error response",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(snippet)),
		)
		return fmt.Errorf("memory backend returned status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
