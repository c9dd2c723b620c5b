// Command mock-services emulates the external dependencies of triage-engine
// for local development: the embedding service, the log-search backend, and
// the issue tracker.
package main

import (
	"encoding/json"
	"hash/fnv"
	"log"
	"math"
	"net/http"
	"time"
)

type logEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
}

type ticket struct {
	Key     string    `json:"key"`
	Summary string    `json:"summary"`
	Status  string    `json:"status"`
	URL     string    `json:"url"`
	Updated time.Time `json:"updated"`
}

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req struct {
			Input string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{"embedding": fakeEmbedding(req.Input)})
	})

	mux.HandleFunc("/api/v1/logs/search", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		writeJSON(w, map[string]any{
			"entries": []logEntry{
				{Timestamp: time.Now().Add(-3 * time.Minute), Severity: "error", Message: "NullPointerException in OrderService.submit"},
				{Timestamp: time.Now().Add(-2 * time.Minute), Severity: "warn", Message: "downstream inventory call exceeded 800ms"},
				{Timestamp: time.Now().Add(-1 * time.Minute), Severity: "error", Message: "retry budget exhausted for payments"},
			},
		})
	})

	mux.HandleFunc("/api/v1/tickets/lookup", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req struct {
			Keys []string `json:"keys"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		tickets := make([]ticket, 0, len(req.Keys))
		for _, key := range req.Keys {
			tickets = append(tickets, ticket{
				Key:     key,
				Summary: "Known failure tracked as " + key,
				Status:  "In Progress",
				URL:     "https://tracker.local/browse/" + key,
				Updated: time.Now().Add(-6 * time.Hour),
			})
		}
		writeJSON(w, map[string]any{"tickets": tickets})
	})

	mux.HandleFunc("/api/v1/tickets/search", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		writeJSON(w, map[string]any{
			"tickets": []ticket{
				{
					Key:     "OPS-1204",
					Summary: "Intermittent timeouts on order submission",
					Status:  "Open",
					URL:     "https://tracker.local/browse/OPS-1204",
					Updated: time.Now().Add(-30 * time.Hour),
				},
			},
		})
	})

	logger := log.New(log.Writer(), "mock-services ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8080",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8080")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

// fakeEmbedding derives a deterministic unit vector from the input so equal
// stack traces collide and different ones usually do not.
func fakeEmbedding(input string) []float32 {
	const dim = 16
	vec := make([]float32, dim)
	h := fnv.New64a()
	_, _ = h.Write([]byte(input))
	seed := h.Sum64()
	var norm float64
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		v := float64(int64(seed>>32)) / float64(math.MaxInt32)
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
