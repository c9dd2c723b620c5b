package runctx

import (
	"fmt"
	"sync"
	"testing"
)

func TestCacheOpenIsIdempotent(t *testing.T) {
	cache := NewCache()

	a := cache.Open("run-1")
	b := cache.Open("run-1")
	if a != b {
		t.Fatal("Open must return the same context for one run")
	}

	if c := cache.Open("run-2"); c == a {
		t.Fatal("runs must not share contexts")
	}
}

func TestCacheDrop(t *testing.T) {
	cache := NewCache()
	cache.Open("run-1").Set(SlotLogs, "entries")
	cache.Drop("run-1")

	if _, ok := cache.Lookup("run-1"); ok {
		t.Fatal("dropped context still live")
	}

	// Reopening after drop starts clean.
	if _, ok := cache.Open("run-1").Get(SlotLogs); ok {
		t.Fatal("context not reset after drop")
	}
}

func TestRunContextConcurrentSlotWrites(t *testing.T) {
	rc := NewCache().Open("run-1")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			slot := fmt.Sprintf("slot-%d", n%4)
			rc.Set(slot, n)
			rc.Get(slot)
			rc.Snapshot()
		}(i)
	}
	wg.Wait()

	snapshot := rc.Snapshot()
	if len(snapshot) != 4 {
		t.Fatalf("expected 4 slots, got %d", len(snapshot))
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	rc := NewCache().Open("run-1")
	rc.Set(SlotGraph, "summary")

	snapshot := rc.Snapshot()
	snapshot[SlotGraph] = "mutated"

	v, ok := rc.Get(SlotGraph)
	if !ok || v != "summary" {
		t.Fatalf("snapshot mutation leaked into the context: %v", v)
	}
}
