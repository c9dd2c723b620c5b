package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/triagestack/triage-engine/internal/cache"
	"github.com/triagestack/triage-engine/internal/models"
	"github.com/triagestack/triage-engine/internal/utils"
)

// LogSearchClient fetches correlated runtime log entries from the log-search
// service. Responses are cached briefly per correlation identifier since the
// reasoning loop may re-request the same window.
type LogSearchClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cache      cache.Provider
	queryTTL   time.Duration
}

// NewLogSearchClient constructs a client targeting the configured log-search
// backend.
func NewLogSearchClient(baseURL, apiKey string, timeout time.Duration, cacheProvider cache.Provider, queryTTL time.Duration) *LogSearchClient {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if queryTTL < 0 {
		queryTTL = 0
	}
	return &LogSearchClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cacheProvider,
		queryTTL:   queryTTL,
	}
}

// FetchByCorrelation returns log entries matching the event's correlation
// identifier within the scope, most recent first.
func (c *LogSearchClient) FetchByCorrelation(ctx context.Context, scope models.Scope, correlationID string, limit int) ([]models.LogExcerpt, error) {
	if c == nil || c.baseURL == "" {
		return nil, utils.PermanentSource(models.SourceLogs, fmt.Errorf("log-search endpoint not configured"))
	}
	if limit <= 0 {
		limit = 100
	}

	cacheKey := ""
	if c.queryTTL > 0 {
		cacheKey = fmt.Sprintf("logsearch:%s:%s:%d", scope.Key(), correlationID, limit)
		if data, err := c.cache.Get(ctx, cacheKey); err == nil {
			var cached []models.LogExcerpt
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}

	payload := map[string]interface{}{
		"application":    scope.Application,
		"environment":    scope.Environment,
		"correlation_id": correlationID,
		"limit":          limit,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal log-search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/logs/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, utils.TransientSource(models.SourceLogs, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(models.SourceLogs, resp); err != nil {
		return nil, err
	}

	var response struct {
		Entries []struct {
			Timestamp time.Time `json:"timestamp"`
			Severity  string    `json:"severity"`
			Message   string    `json:"message"`
		} `json:"entries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, utils.PermanentSource(models.SourceLogs, fmt.Errorf("decode response: %w", err))
	}

	excerpts := make([]models.LogExcerpt, 0, len(response.Entries))
	for _, e := range response.Entries {
		excerpts = append(excerpts, models.LogExcerpt{
			Timestamp: e.Timestamp,
			Severity:  e.Severity,
			Message:   e.Message,
		})
	}

	if c.queryTTL > 0 && cacheKey != "" && len(excerpts) > 0 {
		if data, err := json.Marshal(excerpts); err == nil {
			_ = c.cache.Set(ctx, cacheKey, data, c.queryTTL)
		}
	}

	return excerpts, nil
}
