package enrich

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/triagestack/triage-engine/internal/gitx"
	"github.com/triagestack/triage-engine/internal/models"
	"github.com/triagestack/triage-engine/internal/runctx"
	"github.com/triagestack/triage-engine/internal/utils"
)

type fakeCheckout struct {
	commits []gitx.Commit
	err     error
}

func (f *fakeCheckout) RecentCommits(context.Context, int) ([]gitx.Commit, error) {
	return f.commits, f.err
}

func (f *fakeCheckout) CommitsTouching(context.Context, string, int) ([]gitx.Commit, error) {
	return f.commits, f.err
}

func (f *fakeCheckout) Location() (string, string, string) {
	return "/tmp/co", "main", "abc123"
}

type fakeCheckoutManager struct {
	checkout *fakeCheckout
	err      error
	calls    int
}

func (f *fakeCheckoutManager) Ensure(context.Context, string, string) (SourceCheckout, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.checkout, nil
}

type fakeTickets struct {
	tickets []models.TicketRef
	err     error
	keys    []string
}

func (f *fakeTickets) FetchTickets(_ context.Context, keys []string) ([]models.TicketRef, error) {
	f.keys = keys
	return f.tickets, f.err
}

type fakeLogs struct {
	logs     []models.LogExcerpt
	failures int
	calls    int
}

func (f *fakeLogs) FetchByCorrelation(context.Context, models.Scope, string, int) ([]models.LogExcerpt, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, utils.TransientSource(models.SourceLogs, errors.New("log search flaked"))
	}
	return f.logs, nil
}

type fakeGraphs struct {
	summary models.GraphSummary
	err     error
}

func (f *fakeGraphs) Build(string, string, string) (models.GraphSummary, error) {
	return f.summary, f.err
}

func fastRetry() RetryPolicy {
	return RetryPolicy{Attempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func enrichEvent() models.ErrorEvent {
	return models.ErrorEvent{
		ApplicationName: "checkout",
		Environment:     "prod",
		CorrelationID:   "corr-1",
		StackTrace:      "at com.acme.OrderService.submit(OrderService.java:12)",
	}
}

func enrichConfig() models.AppConfig {
	return models.AppConfig{GitRemoteURL: "https://git.local/checkout.git", LookupBranchPattern: "main"}
}

func TestEnrichAllSourcesSucceed(t *testing.T) {
	manager := &fakeCheckoutManager{checkout: &fakeCheckout{commits: []gitx.Commit{
		{Hash: "a", Subject: "OPS-42 fix order submit"},
		{Hash: "b", Subject: "OPS-42 follow-up, also OPS-77"},
	}}}
	tickets := &fakeTickets{tickets: []models.TicketRef{{Key: "OPS-42"}}}
	logs := &fakeLogs{logs: []models.LogExcerpt{{Message: "boom"}}}
	graphs := &fakeGraphs{summary: models.GraphSummary{Module: "orders", Files: 3}}

	o := NewOrchestrator(nil, manager, tickets, logs, graphs, nil, nil, fastRetry(), time.Second)
	rc := runctx.NewCache().Open("run-1")

	bundle := o.Enrich(context.Background(), enrichEvent(), enrichConfig(), rc)

	for _, source := range []string{models.SourceCheckout, models.SourceTickets, models.SourceLogs, models.SourceGraph} {
		if bundle.Status[source] != models.SourceSuccess {
			t.Fatalf("source %s: expected success, got %s (%s)", source, bundle.Status[source], bundle.Errors[source])
		}
	}
	if bundle.Revision != "abc123" || bundle.Branch != "main" {
		t.Fatalf("checkout identity not recorded: %+v", bundle)
	}
	if len(bundle.Tickets) != 1 || bundle.Graph.Module != "orders" || len(bundle.Logs) != 1 {
		t.Fatalf("bundle payload incomplete: %+v", bundle)
	}
	if len(tickets.keys) != 2 {
		t.Fatalf("expected deduplicated ticket keys OPS-42, OPS-77, got %v", tickets.keys)
	}
	if _, ok := rc.Get(runctx.SlotCheckout); !ok {
		t.Fatalf("checkout handle missing from run context")
	}
}

func TestEnrichCheckoutFailureDegradesDependents(t *testing.T) {
	manager := &fakeCheckoutManager{err: utils.PermanentSource(models.SourceCheckout, errors.New("no such remote"))}
	logs := &fakeLogs{logs: []models.LogExcerpt{{Message: "boom"}}}

	o := NewOrchestrator(nil, manager, &fakeTickets{}, logs, &fakeGraphs{}, nil, nil, fastRetry(), time.Second)
	rc := runctx.NewCache().Open("run-1")

	bundle := o.Enrich(context.Background(), enrichEvent(), enrichConfig(), rc)

	if bundle.Status[models.SourceCheckout] != models.SourceFailed {
		t.Fatalf("expected checkout failed, got %s", bundle.Status[models.SourceCheckout])
	}
	if bundle.Status[models.SourceTickets] != models.SourceFailed || bundle.Status[models.SourceGraph] != models.SourceFailed {
		t.Fatalf("checkout-dependent sources must fail: %+v", bundle.Status)
	}
	if bundle.Status[models.SourceLogs] != models.SourceSuccess {
		t.Fatalf("log search is independent of the checkout: %+v", bundle.Status)
	}
	if bundle.UsableSources() != 1 {
		t.Fatalf("expected exactly one usable source, got %d", bundle.UsableSources())
	}
}

func TestEnrichRetriesTransientLogFailure(t *testing.T) {
	logs := &fakeLogs{logs: []models.LogExcerpt{{Message: "boom"}}, failures: 2}
	manager := &fakeCheckoutManager{checkout: &fakeCheckout{}}

	o := NewOrchestrator(nil, manager, &fakeTickets{}, logs, &fakeGraphs{}, nil, nil, fastRetry(), time.Second)
	rc := runctx.NewCache().Open("run-1")

	bundle := o.Enrich(context.Background(), enrichEvent(), enrichConfig(), rc)

	if bundle.Status[models.SourceLogs] != models.SourceSuccess {
		t.Fatalf("transient failures within the retry budget must recover: %s", bundle.Errors[models.SourceLogs])
	}
	if logs.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", logs.calls)
	}
}

func TestEnrichRedactionFailsClosed(t *testing.T) {
	// Filtering enabled with no policy: content is dropped, never leaked.
	logs := &fakeLogs{logs: []models.LogExcerpt{{Message: "user=alice@example.com"}}}
	manager := &fakeCheckoutManager{checkout: &fakeCheckout{}}

	o := NewOrchestrator(nil, manager, &fakeTickets{}, logs, &fakeGraphs{}, nil, nil, fastRetry(), time.Second)
	rc := runctx.NewCache().Open("run-1")

	cfg := enrichConfig()
	cfg.FilterPII = true
	bundle := o.Enrich(context.Background(), enrichEvent(), cfg, rc)

	if len(bundle.Logs) != 0 {
		t.Fatalf("unredactable content must be dropped, got %v", bundle.Logs)
	}
	if bundle.Status[models.SourceLogs] != models.SourcePartial {
		t.Fatalf("dropped content must mark the source partial, got %s", bundle.Status[models.SourceLogs])
	}
}

func TestEnrichRedactionAppliesPolicy(t *testing.T) {
	logs := &fakeLogs{logs: []models.LogExcerpt{{Message: "user=alice@example.com failed login"}}}
	manager := &fakeCheckoutManager{checkout: &fakeCheckout{}}

	policy := func(line string) (string, error) {
		return strings.ReplaceAll(line, "alice@example.com", "[EMAIL]"), nil
	}
	o := NewOrchestrator(nil, manager, &fakeTickets{}, logs, &fakeGraphs{}, policy, nil, fastRetry(), time.Second)
	rc := runctx.NewCache().Open("run-1")

	cfg := enrichConfig()
	cfg.FilterPII = true
	bundle := o.Enrich(context.Background(), enrichEvent(), cfg, rc)

	if bundle.Status[models.SourceLogs] != models.SourceSuccess {
		t.Fatalf("redacted fetch should be success, got %s", bundle.Status[models.SourceLogs])
	}
	if len(bundle.Logs) != 1 || !bundle.Logs[0].Redacted {
		t.Fatalf("log line not marked redacted: %+v", bundle.Logs)
	}
	if strings.Contains(bundle.Logs[0].Message, "alice@example.com") {
		t.Fatalf("PII leaked through redaction: %q", bundle.Logs[0].Message)
	}
}

func TestEnrichNoRemoteConfigured(t *testing.T) {
	logs := &fakeLogs{logs: []models.LogExcerpt{{Message: "boom"}}}
	o := NewOrchestrator(nil, &fakeCheckoutManager{}, &fakeTickets{}, logs, &fakeGraphs{}, nil, nil, fastRetry(), time.Second)
	rc := runctx.NewCache().Open("run-1")

	bundle := o.Enrich(context.Background(), enrichEvent(), models.AppConfig{}, rc)

	if bundle.Status[models.SourceCheckout] != models.SourceFailed {
		t.Fatalf("missing remote must mark checkout failed")
	}
	if bundle.Status[models.SourceLogs] != models.SourceSuccess {
		t.Fatalf("logs must still be fetched")
	}
}

func TestEnrichTicketPatternFromConfig(t *testing.T) {
	manager := &fakeCheckoutManager{checkout: &fakeCheckout{commits: []gitx.Commit{
		{Hash: "a", Subject: "bug/1234: fix submit path"},
	}}}
	tickets := &fakeTickets{}
	pattern := regexp.MustCompile(`bug/\d+`)

	o := NewOrchestrator(nil, manager, tickets, &fakeLogs{}, &fakeGraphs{}, nil, pattern, fastRetry(), time.Second)
	rc := runctx.NewCache().Open("run-1")

	o.Enrich(context.Background(), enrichEvent(), enrichConfig(), rc)

	if len(tickets.keys) != 1 || tickets.keys[0] != "bug/1234" {
		t.Fatalf("custom ticket pattern not applied: %v", tickets.keys)
	}
}
