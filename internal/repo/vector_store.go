package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/triagestack/triage-engine/internal/models"
	"github.com/triagestack/triage-engine/internal/utils"
)

// Neighbor is one nearest-fingerprint match, nearest first in query results.
type Neighbor struct {
	FingerprintID string
	EventID       string
	Distance      float64
	CreatedAt     time.Time
}

// WeaviateVectorStore persists stack-trace fingerprints and answers
// nearest-neighbour queries scoped to (application, environment). Vectors
// from different scopes are never compared.
type WeaviateVectorStore struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewWeaviateVectorStore constructs a vector store client.
func NewWeaviateVectorStore(endpoint, apiKey string, timeout time.Duration) *WeaviateVectorStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WeaviateVectorStore{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Put stores a fingerprint vector under the given scope and returns the new
// fingerprint identifier. Fingerprints are append-only and never mutated.
func (s *WeaviateVectorStore) Put(ctx context.Context, scope models.Scope, vector []float32, eventID string) (string, error) {
	if s == nil || s.endpoint == "" {
		return "", fmt.Errorf("%w: endpoint not configured", utils.ErrStoreUnavailable)
	}

	fingerprintID := uuid.NewString()
	payload := map[string]interface{}{
		"class":  "StackFingerprint",
		"id":     fingerprintID,
		"vector": vector,
		"properties": map[string]interface{}{
			"fingerprintId": fingerprintID,
			"application":   scope.Application,
			"environment":   scope.Environment,
			"eventId":       eventID,
			"createdAt":     time.Now().UTC().Format(time.RFC3339),
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal fingerprint: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/v1/objects", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	s.setHeaders(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", utils.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: store fingerprint failed: %s", utils.ErrStoreUnavailable, strings.TrimSpace(string(data)))
	}

	return fingerprintID, nil
}

// QueryNearest returns up to k fingerprints nearest to the query vector
// within the scope, ordered nearest first. The result is a point-in-time
// snapshot. Equidistant candidates are ordered most recent first so that a
// tie merges into the active incident.
func (s *WeaviateVectorStore) QueryNearest(ctx context.Context, scope models.Scope, vector []float32, k int) ([]Neighbor, error) {
	if s == nil || s.endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint not configured", utils.ErrStoreUnavailable)
	}
	if k <= 0 {
		k = 1
	}

	vec, err := json.Marshal(vector)
	if err != nil {
		return nil, fmt.Errorf("marshal query vector: %w", err)
	}

	gql := map[string]interface{}{
		"query": fmt.Sprintf(`{
          Get {
            StackFingerprint(
              limit: %d
              nearVector: {vector: %s}
              where: {
                operator: And
                operands: [
                  {path: ["application"], operator: Equal, valueString: %q}
                  {path: ["environment"], operator: Equal, valueString: %q}
                ]
              }
            ) {
              fingerprintId
              eventId
              createdAt
              _additional { distance }
            }
          }
        }`, k, string(vec), scope.Application, scope.Environment),
	}

	payload, err := json.Marshal(gql)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/v1/graphql", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	s.setHeaders(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: nearest query failed: %s", utils.ErrStoreUnavailable, strings.TrimSpace(string(data)))
	}

	var response struct {
		Data struct {
			Get struct {
				StackFingerprint []struct {
					FingerprintID string `json:"fingerprintId"`
					EventID       string `json:"eventId"`
					CreatedAt     string `json:"createdAt"`
					Additional    struct {
						Distance float64 `json:"distance"`
					} `json:"_additional"`
				} `json:"StackFingerprint"`
			} `json:"Get"`
		} `json:"data"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", utils.ErrStoreUnavailable, err)
	}

	neighbors := make([]Neighbor, 0, len(response.Data.Get.StackFingerprint))
	for _, rec := range response.Data.Get.StackFingerprint {
		createdAt, _ := time.Parse(time.RFC3339, rec.CreatedAt)
		neighbors = append(neighbors, Neighbor{
			FingerprintID: rec.FingerprintID,
			EventID:       rec.EventID,
			Distance:      rec.Additional.Distance,
			CreatedAt:     createdAt,
		})
	}

	SortNeighbors(neighbors)
	return neighbors, nil
}

// SortNeighbors orders matches nearest first, breaking distance ties in
// favour of the most recently created fingerprint.
func SortNeighbors(neighbors []Neighbor) {
	sort.SliceStable(neighbors, func(i, j int) bool {
		if neighbors[i].Distance != neighbors[j].Distance {
			return neighbors[i].Distance < neighbors[j].Distance
		}
		return neighbors[i].CreatedAt.After(neighbors[j].CreatedAt)
	})
}

func (s *WeaviateVectorStore) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
}
