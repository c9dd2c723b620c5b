package enrich

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/triagestack/triage-engine/internal/models"
	"github.com/triagestack/triage-engine/internal/utils"
)

func TestRetryRecoversFromTransient(t *testing.T) {
	calls := 0
	err := fastRetry().Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return utils.TransientSource(models.SourceLogs, errors.New("flake"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryStopsOnPermanent(t *testing.T) {
	calls := 0
	err := fastRetry().Do(context.Background(), func(context.Context) error {
		calls++
		return utils.PermanentSource(models.SourceLogs, errors.New("forbidden"))
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("permanent errors must not be retried, got %d calls", calls)
	}
}

func TestRetryExhaustsBudget(t *testing.T) {
	calls := 0
	err := fastRetry().Do(context.Background(), func(context.Context) error {
		calls++
		return utils.TransientSource(models.SourceLogs, errors.New("flake"))
	})
	if err == nil {
		t.Fatalf("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	policy := RetryPolicy{Attempts: 5, InitialBackoff: 50 * time.Millisecond, MaxBackoff: time.Second}
	calls := 0
	err := policy.Do(ctx, func(context.Context) error {
		calls++
		return utils.TransientSource(models.SourceLogs, errors.New("flake"))
	})
	if err == nil {
		t.Fatalf("expected error from cancelled context")
	}
	if calls != 1 {
		t.Fatalf("cancelled context must stop retrying, got %d calls", calls)
	}
}
