package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/triagestack/triage-engine/internal/models"
	"github.com/triagestack/triage-engine/internal/utils"
)

// IssueTrackerClient fetches ticket metadata from the issue-tracker service.
type IssueTrackerClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewIssueTrackerClient constructs a client targeting the configured tracker.
func NewIssueTrackerClient(baseURL, apiKey string, timeout time.Duration) *IssueTrackerClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &IssueTrackerClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchTickets resolves ticket keys (as extracted from commit messages) into
// ticket references, most relevant first as returned by the tracker.
func (c *IssueTrackerClient) FetchTickets(ctx context.Context, keys []string) ([]models.TicketRef, error) {
	if c == nil || c.baseURL == "" {
		return nil, utils.PermanentSource(models.SourceTickets, fmt.Errorf("tracker endpoint not configured"))
	}
	if len(keys) == 0 {
		return nil, nil
	}

	var response struct {
		Tickets []ticketPayload `json:"tickets"`
	}
	payload := map[string]interface{}{"keys": keys}
	if err := c.postJSON(ctx, c.baseURL+"/api/v1/tickets/lookup", payload, &response); err != nil {
		return nil, err
	}
	return toTicketRefs(response.Tickets), nil
}

// SearchTickets performs a free-text search, used by the reasoning loop for
// narrower follow-up queries.
func (c *IssueTrackerClient) SearchTickets(ctx context.Context, query string, limit int) ([]models.TicketRef, error) {
	if c == nil || c.baseURL == "" {
		return nil, utils.PermanentSource(models.SourceTickets, fmt.Errorf("tracker endpoint not configured"))
	}
	if limit <= 0 {
		limit = 10
	}

	var response struct {
		Tickets []ticketPayload `json:"tickets"`
	}
	payload := map[string]interface{}{"query": query, "limit": limit}
	if err := c.postJSON(ctx, c.baseURL+"/api/v1/tickets/search", payload, &response); err != nil {
		return nil, err
	}
	return toTicketRefs(response.Tickets), nil
}

type ticketPayload struct {
	Key     string    `json:"key"`
	Summary string    `json:"summary"`
	Status  string    `json:"status"`
	URL     string    `json:"url"`
	Updated time.Time `json:"updated"`
}

func toTicketRefs(payloads []ticketPayload) []models.TicketRef {
	refs := make([]models.TicketRef, 0, len(payloads))
	for _, t := range payloads {
		refs = append(refs, models.TicketRef{
			Key:     t.Key,
			Summary: t.Summary,
			Status:  t.Status,
			URL:     t.URL,
			Updated: t.Updated,
		})
	}
	return refs
}

func (c *IssueTrackerClient) postJSON(ctx context.Context, url string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal tracker request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return utils.TransientSource(models.SourceTickets, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(models.SourceTickets, resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return utils.PermanentSource(models.SourceTickets, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// classifyStatus maps HTTP status codes onto the source-error taxonomy:
// auth and not-found are permanent, everything else non-2xx is transient.
func classifyStatus(source string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	data, _ := io.ReadAll(resp.Body)
	err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return utils.PermanentSource(source, err)
	default:
		return utils.TransientSource(source, err)
	}
}
