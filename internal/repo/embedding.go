package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/triagestack/triage-engine/internal/utils"
)

// EmbeddingClient calls the external embedding service that turns stack
// traces into vectors. The model itself is hosted elsewhere; this client is
// the stable boundary.
type EmbeddingClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewEmbeddingClient constructs a client for the configured embedding service.
func NewEmbeddingClient(baseURL, apiKey string, timeout time.Duration) *EmbeddingClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &EmbeddingClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Embed returns the normalized embedding vector for the given text. Any
// failure is reported as ErrEmbeddingUnavailable so the gate can degrade to
// "new incident" instead of dropping the event.
func (c *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("%w: endpoint not configured", utils.ErrEmbeddingUnavailable)
	}

	payload, err := json.Marshal(map[string]string{"input": text})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrEmbeddingUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", utils.ErrEmbeddingUnavailable, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var response struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", utils.ErrEmbeddingUnavailable, err)
	}
	if len(response.Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", utils.ErrEmbeddingUnavailable)
	}

	return Normalize(response.Embedding), nil
}

// Normalize scales the vector to unit length so that cosine distance is
// well-defined downstream. Zero vectors are returned unchanged.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
