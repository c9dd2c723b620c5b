package repo

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/triagestack/triage-engine/internal/cache"
	"github.com/triagestack/triage-engine/internal/models"
	"github.com/triagestack/triage-engine/internal/utils"
)

// memoryCache is a minimal in-process cache.Provider for tests.
type memoryCache struct {
	mu    sync.Mutex
	items map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{items: make(map[string][]byte)}
}

func (m *memoryCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.items[key]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return data, nil
}

func (m *memoryCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
	return nil
}

func (m *memoryCache) Close() error { return nil }

func TestFetchByCorrelationDecodesEntries(t *testing.T) {
	scope := models.Scope{Application: "checkout-api", Environment: "prod"}
	client := NewLogSearchClient("http://logs.local", "lk", time.Second, nil, 0)
	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/api/v1/logs/search" {
			t.Fatalf("unexpected path %s", req.URL.Path)
		}
		var payload struct {
			Application   string `json:"application"`
			Environment   string `json:"environment"`
			CorrelationID string `json:"correlation_id"`
			Limit         int    `json:"limit"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if payload.Application != "checkout-api" || payload.CorrelationID != "corr-1" {
			t.Fatalf("scope or correlation not forwarded: %+v", payload)
		}
		if payload.Limit != 100 {
			t.Fatalf("expected default limit 100, got %d", payload.Limit)
		}
		return jsonResponse(http.StatusOK, `{"entries": [
          {"timestamp": "2026-08-20T10:00:00Z", "severity": "ERROR", "message": "payment timed out"}
        ]}`), nil
	})

	excerpts, err := client.FetchByCorrelation(context.Background(), scope, "corr-1", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(excerpts) != 1 || excerpts[0].Message != "payment timed out" || excerpts[0].Severity != "ERROR" {
		t.Fatalf("unexpected excerpts: %+v", excerpts)
	}
}

func TestFetchByCorrelationCacheHitSkipsBackend(t *testing.T) {
	scope := models.Scope{Application: "checkout-api", Environment: "prod"}
	calls := 0
	client := NewLogSearchClient("http://logs.local", "", time.Second, newMemoryCache(), time.Minute)
	client.httpClient = newTestClient(func(*http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(http.StatusOK, `{"entries": [
          {"timestamp": "2026-08-20T10:00:00Z", "severity": "WARN", "message": "retrying payment"}
        ]}`), nil
	})

	for i := 0; i < 2; i++ {
		excerpts, err := client.FetchByCorrelation(context.Background(), scope, "corr-1", 10)
		if err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
		if len(excerpts) != 1 || excerpts[0].Message != "retrying payment" {
			t.Fatalf("call %d: unexpected excerpts: %+v", i, excerpts)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 backend call after cache hit, got %d", calls)
	}
}

func TestFetchByCorrelationEmptyResultNotCached(t *testing.T) {
	calls := 0
	client := NewLogSearchClient("http://logs.local", "", time.Second, newMemoryCache(), time.Minute)
	client.httpClient = newTestClient(func(*http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(http.StatusOK, `{"entries": []}`), nil
	})

	for i := 0; i < 2; i++ {
		if _, err := client.FetchByCorrelation(context.Background(), models.Scope{}, "corr-2", 10); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}
	if calls != 2 {
		t.Fatalf("empty responses should not be cached, got %d calls", calls)
	}
}

func TestFetchByCorrelationServerErrorIsTransient(t *testing.T) {
	client := NewLogSearchClient("http://logs.local", "", time.Second, nil, 0)
	client.httpClient = newTestClient(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusBadGateway, `backend down`), nil
	})

	_, err := client.FetchByCorrelation(context.Background(), models.Scope{}, "corr-3", 10)
	if err == nil || !utils.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}
