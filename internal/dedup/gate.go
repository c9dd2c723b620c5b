package dedup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/triagestack/triage-engine/internal/models"
	"github.com/triagestack/triage-engine/internal/repo"
)

// Default dedup tuning used when an application row carries no explicit
// values. The throttle window is the rolling interval within which a
// near-duplicate is suppressed rather than re-processed.
const (
	DefaultThreshold = 0.15
	DefaultWindow    = 24 * time.Hour

	// How many nearest fingerprints to pull per lookup. A single candidate
	// would let the backend's internal order pick among equidistant
	// fingerprints; fetching a few lets recency break the tie here.
	neighborCandidates = 4
)

// Embedder turns a stack trace into a normalized vector. It is an external,
// possibly-failing collaborator.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorStore is the fingerprint persistence boundary used by the gate.
type VectorStore interface {
	Put(ctx context.Context, scope models.Scope, vector []float32, eventID string) (string, error)
	QueryNearest(ctx context.Context, scope models.Scope, vector []float32, k int) ([]repo.Neighbor, error)
}

// Decision is the gate's classification of one incoming event.
type Decision struct {
	Duplicate bool

	// Set on duplicates: the prior event this one restates.
	MatchedEventID       string
	MatchedFingerprintID string
	Distance             float64

	// Set on new incidents when the fingerprint was stored.
	FingerprintID string

	// Degraded marks a "new" classification that was forced by embedding or
	// store failure rather than decided by distance.
	Degraded bool
}

// Gate classifies incoming events as duplicates of an active incident or as
// new incidents. Duplicate iff the nearest in-scope fingerprint is within
// the configured cosine-distance threshold (inclusive) AND inside the
// throttle window; the two conditions are conjunctive.
type Gate struct {
	embedder Embedder
	store    VectorStore
	logger   *slog.Logger

	// Serializes conflicting writes within a scope; different scopes
	// proceed concurrently.
	mu         sync.Mutex
	scopeLocks map[string]*sync.Mutex
}

// NewGate constructs a similarity gate.
func NewGate(embedder Embedder, store VectorStore, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		embedder:   embedder,
		store:      store,
		logger:     logger,
		scopeLocks: make(map[string]*sync.Mutex),
	}
}

// Classify decides duplicate vs. new for the event under its application
// config. Embedding or store failure never drops the event: the gate
// degrades to "new incident" and the pipeline proceeds.
func (g *Gate) Classify(ctx context.Context, event models.ErrorEvent, cfg models.AppConfig) Decision {
	scope := event.Scope()
	threshold := cfg.SimilarityThreshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	window := cfg.ThrottleWindow
	if window <= 0 {
		window = DefaultWindow
	}

	vec, err := g.embedder.Embed(ctx, event.StackTrace)
	if err != nil {
		g.logger.Warn("embedding unavailable, treating event as new",
			slog.String("scope", scope.Key()), slog.Any("error", err))
		return Decision{Degraded: true}
	}

	lock := g.scopeLock(scope)
	lock.Lock()
	defer lock.Unlock()

	neighbors, err := g.store.QueryNearest(ctx, scope, vec, neighborCandidates)
	if err != nil {
		g.logger.Warn("vector store unavailable, treating event as new",
			slog.String("scope", scope.Key()), slog.Any("error", err))
		return Decision{Degraded: true}
	}

	// Nearest first, equidistant fingerprints most recent first.
	repo.SortNeighbors(neighbors)

	if len(neighbors) > 0 {
		nearest := neighbors[0]
		if nearest.Distance <= threshold && time.Since(nearest.CreatedAt) <= window {
			return Decision{
				Duplicate:            true,
				MatchedEventID:       nearest.EventID,
				MatchedFingerprintID: nearest.FingerprintID,
				Distance:             nearest.Distance,
			}
		}
	}

	fingerprintID, err := g.store.Put(ctx, scope, vec, event.CorrelationID)
	if err != nil {
		// The run still proceeds; it just leaves no fingerprint behind.
		g.logger.Warn("fingerprint store failed",
			slog.String("scope", scope.Key()), slog.Any("error", err))
		return Decision{Degraded: true}
	}

	return Decision{FingerprintID: fingerprintID}
}

func (g *Gate) scopeLock(scope models.Scope) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	lock, ok := g.scopeLocks[scope.Key()]
	if !ok {
		lock = &sync.Mutex{}
		g.scopeLocks[scope.Key()] = lock
	}
	return lock
}
