package services

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestPoolRunsSubmittedJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := NewPool(ctx, testLogger(), 2, 8)
	defer pool.Shutdown()

	var ran atomic.Int32
	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		err := pool.Submit(func(context.Context) {
			if ran.Add(1) == 5 {
				close(done)
			}
		})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("jobs did not drain, ran %d of 5", ran.Load())
	}
}

func TestPoolRejectsWhenQueueFull(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := NewPool(ctx, testLogger(), 1, 1)

	started := make(chan struct{})
	release := make(chan struct{})
	if err := pool.Submit(func(context.Context) {
		close(started)
		<-release
	}); err != nil {
		t.Fatalf("submit blocker: %v", err)
	}
	<-started

	// Worker is busy; this one sits in the queue.
	if err := pool.Submit(func(context.Context) {}); err != nil {
		t.Fatalf("submit queued job: %v", err)
	}

	err := pool.Submit(func(context.Context) {})
	if err == nil || !strings.Contains(err.Error(), "queue is full") {
		t.Fatalf("expected queue-full rejection, got %v", err)
	}

	close(release)
	pool.Shutdown()
}

func TestPoolRejectsAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := NewPool(ctx, testLogger(), 1, 1)
	pool.Shutdown()

	err := pool.Submit(func(context.Context) {})
	if err == nil || !strings.Contains(err.Error(), "shut down") {
		t.Fatalf("expected shutdown rejection, got %v", err)
	}
}

func TestPoolSurvivesPanickingJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := NewPool(ctx, testLogger(), 1, 4)
	defer pool.Shutdown()

	if err := pool.Submit(func(context.Context) { panic("job blew up") }); err != nil {
		t.Fatalf("submit panicking job: %v", err)
	}

	done := make(chan struct{})
	if err := pool.Submit(func(context.Context) { close(done) }); err != nil {
		t.Fatalf("submit follow-up job: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not recover from panic")
	}
}
