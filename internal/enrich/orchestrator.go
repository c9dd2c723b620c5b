package enrich

import (
	"context"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/triagestack/triage-engine/internal/gitx"
	"github.com/triagestack/triage-engine/internal/metrics"
	"github.com/triagestack/triage-engine/internal/models"
	"github.com/triagestack/triage-engine/internal/runctx"
)

// SourceCheckout is the slice of checkout behaviour the orchestrator needs.
type SourceCheckout interface {
	RecentCommits(ctx context.Context, n int) ([]gitx.Commit, error)
	CommitsTouching(ctx context.Context, path string, n int) ([]gitx.Commit, error)
	Location() (dir, branch, revision string)
}

// CheckoutManager resolves and caches source-control checkouts.
type CheckoutManager interface {
	Ensure(ctx context.Context, remote, branchPattern string) (SourceCheckout, error)
}

// GitCheckouts adapts *gitx.Manager to the CheckoutManager interface.
type GitCheckouts struct {
	Manager *gitx.Manager
}

func (g GitCheckouts) Ensure(ctx context.Context, remote, branchPattern string) (SourceCheckout, error) {
	return g.Manager.Ensure(ctx, remote, branchPattern)
}

// TicketSource resolves ticket keys into tracker references.
type TicketSource interface {
	FetchTickets(ctx context.Context, keys []string) ([]models.TicketRef, error)
}

// LogSource fetches correlated runtime log entries.
type LogSource interface {
	FetchByCorrelation(ctx context.Context, scope models.Scope, correlationID string, limit int) ([]models.LogExcerpt, error)
}

// GraphBuilder summarises the dependency graph of the implicated module.
type GraphBuilder interface {
	Build(checkoutDir, implicatedFile, revision string) (models.GraphSummary, error)
}

// RedactionPolicy is the external PII policy applied per log line. A nil
// policy with filtering enabled fails closed: the affected content is
// dropped rather than leaked.
type RedactionPolicy func(line string) (string, error)

// Orchestrator gathers context from the independent external sources and
// aggregates it into a ContextBundle under partial-failure tolerance.
type Orchestrator struct {
	logger        *slog.Logger
	checkouts     CheckoutManager
	tickets       TicketSource
	logs          LogSource
	graphs        GraphBuilder
	redact        RedactionPolicy
	ticketPattern *regexp.Regexp
	retry         RetryPolicy
	sourceTimeout time.Duration
	commitDepth   int
	logLimit      int
}

// NewOrchestrator constructs the enrichment orchestrator. ticketPattern
// extracts tracker keys from commit subjects.
func NewOrchestrator(
	logger *slog.Logger,
	checkouts CheckoutManager,
	tickets TicketSource,
	logs LogSource,
	graphs GraphBuilder,
	redact RedactionPolicy,
	ticketPattern *regexp.Regexp,
	retry RetryPolicy,
	sourceTimeout time.Duration,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if ticketPattern == nil {
		ticketPattern = regexp.MustCompile(`[A-Z][A-Z0-9]+-\d+`)
	}
	if sourceTimeout <= 0 {
		sourceTimeout = 10 * time.Second
	}
	return &Orchestrator{
		logger:        logger,
		checkouts:     checkouts,
		tickets:       tickets,
		logs:          logs,
		graphs:        graphs,
		redact:        redact,
		ticketPattern: ticketPattern,
		retry:         retry,
		sourceTimeout: sourceTimeout,
		commitDepth:   20,
		logLimit:      100,
	}
}

// Enrich produces a ContextBundle for the event. The checkout is a
// prerequisite for ticket and graph extraction only; ticket, graph and log
// fetches then run concurrently. The bundle is returned even when sources
// fail — enrichment degrades, it does not abort the run.
func (o *Orchestrator) Enrich(ctx context.Context, event models.ErrorEvent, cfg models.AppConfig, rc *runctx.RunContext) models.ContextBundle {
	bundle := models.ContextBundle{
		Status: make(map[string]models.SourceStatus),
		Errors: make(map[string]string),
	}
	var mu sync.Mutex

	checkout := o.ensureCheckout(ctx, cfg, &bundle, rc)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		tickets, status, err := o.fetchTickets(gctx, event, checkout)
		mu.Lock()
		defer mu.Unlock()
		bundle.Tickets = tickets
		o.record(&bundle, models.SourceTickets, status, err)
		return nil
	})

	g.Go(func() error {
		summary, status, err := o.buildGraph(gctx, event, checkout)
		mu.Lock()
		defer mu.Unlock()
		bundle.Graph = summary
		o.record(&bundle, models.SourceGraph, status, err)
		return nil
	})

	g.Go(func() error {
		logs, status, err := o.fetchLogs(gctx, event, cfg)
		mu.Lock()
		defer mu.Unlock()
		bundle.Logs = logs
		o.record(&bundle, models.SourceLogs, status, err)
		return nil
	})

	// Workers report failures through the bundle, never through the group.
	_ = g.Wait()

	rc.Set(runctx.SlotTickets, bundle.Tickets)
	rc.Set(runctx.SlotLogs, bundle.Logs)
	rc.Set(runctx.SlotGraph, bundle.Graph)

	return bundle
}

func (o *Orchestrator) ensureCheckout(ctx context.Context, cfg models.AppConfig, bundle *models.ContextBundle, rc *runctx.RunContext) SourceCheckout {
	if o.checkouts == nil || cfg.GitRemoteURL == "" {
		bundle.Status[models.SourceCheckout] = models.SourceFailed
		bundle.Errors[models.SourceCheckout] = "no source repository configured"
		metrics.ObserveSourceFetch(models.SourceCheckout, string(models.SourceFailed))
		return nil
	}

	var checkout SourceCheckout
	err := o.retry.Do(ctx, func(ctx context.Context) error {
		fetchCtx, cancel := context.WithTimeout(ctx, o.sourceTimeout)
		defer cancel()
		co, err := o.checkouts.Ensure(fetchCtx, cfg.GitRemoteURL, cfg.LookupBranchPattern)
		if err != nil {
			return err
		}
		checkout = co
		return nil
	})
	if err != nil {
		o.logger.Warn("checkout failed", slog.String("remote", cfg.GitRemoteURL), slog.Any("error", err))
		bundle.Status[models.SourceCheckout] = models.SourceFailed
		bundle.Errors[models.SourceCheckout] = err.Error()
		metrics.ObserveSourceFetch(models.SourceCheckout, string(models.SourceFailed))
		return nil
	}

	_, branch, revision := checkout.Location()
	bundle.Branch = branch
	bundle.Revision = revision
	bundle.Status[models.SourceCheckout] = models.SourceSuccess
	metrics.ObserveSourceFetch(models.SourceCheckout, string(models.SourceSuccess))
	rc.Set(runctx.SlotCheckout, checkout)
	return checkout
}

func (o *Orchestrator) fetchTickets(ctx context.Context, event models.ErrorEvent, checkout SourceCheckout) ([]models.TicketRef, models.SourceStatus, error) {
	if checkout == nil {
		return nil, models.SourceFailed, errCheckoutUnavailable
	}

	var commits []gitx.Commit
	err := o.retry.Do(ctx, func(ctx context.Context) error {
		fetchCtx, cancel := context.WithTimeout(ctx, o.sourceTimeout)
		defer cancel()
		var err error
		if file := event.ImplicatedFile(); file != "" {
			commits, err = checkout.CommitsTouching(fetchCtx, file, o.commitDepth)
			if err == nil && len(commits) > 0 {
				return nil
			}
		}
		commits, err = checkout.RecentCommits(fetchCtx, o.commitDepth)
		return err
	})
	if err != nil {
		return nil, models.SourceFailed, err
	}

	keys := o.extractTicketKeys(commits)
	if len(keys) == 0 {
		return nil, models.SourceSuccess, nil
	}

	var tickets []models.TicketRef
	err = o.retry.Do(ctx, func(ctx context.Context) error {
		fetchCtx, cancel := context.WithTimeout(ctx, o.sourceTimeout)
		defer cancel()
		var err error
		tickets, err = o.tickets.FetchTickets(fetchCtx, keys)
		return err
	})
	if err != nil {
		return nil, models.SourceFailed, err
	}
	return tickets, models.SourceSuccess, nil
}

func (o *Orchestrator) buildGraph(ctx context.Context, event models.ErrorEvent, checkout SourceCheckout) (models.GraphSummary, models.SourceStatus, error) {
	if checkout == nil {
		return models.GraphSummary{}, models.SourceFailed, errCheckoutUnavailable
	}
	select {
	case <-ctx.Done():
		return models.GraphSummary{}, models.SourceFailed, ctx.Err()
	default:
	}

	dir, _, revision := checkout.Location()
	summary, err := o.graphs.Build(dir, event.ImplicatedFile(), revision)
	if err != nil {
		return models.GraphSummary{}, models.SourceFailed, err
	}
	return summary, models.SourceSuccess, nil
}

func (o *Orchestrator) fetchLogs(ctx context.Context, event models.ErrorEvent, cfg models.AppConfig) ([]models.LogExcerpt, models.SourceStatus, error) {
	var logs []models.LogExcerpt
	err := o.retry.Do(ctx, func(ctx context.Context) error {
		fetchCtx, cancel := context.WithTimeout(ctx, o.sourceTimeout)
		defer cancel()
		var err error
		logs, err = o.logs.FetchByCorrelation(fetchCtx, event.Scope(), event.CorrelationID, o.logLimit)
		return err
	})
	if err != nil {
		return nil, models.SourceFailed, err
	}

	if !cfg.FilterPII {
		return logs, models.SourceSuccess, nil
	}
	redacted, dropped := o.applyRedaction(logs)
	if dropped > 0 {
		o.logger.Warn("redaction dropped log content",
			slog.String("scope", event.Scope().Key()), slog.Int("dropped", dropped))
		return redacted, models.SourcePartial, nil
	}
	return redacted, models.SourceSuccess, nil
}

// applyRedaction applies the external PII policy per log line, failing
// closed: a line the policy cannot process is dropped, never passed through.
func (o *Orchestrator) applyRedaction(logs []models.LogExcerpt) ([]models.LogExcerpt, int) {
	if o.redact == nil {
		return nil, len(logs)
	}
	out := make([]models.LogExcerpt, 0, len(logs))
	dropped := 0
	for _, entry := range logs {
		clean, err := o.redact(entry.Message)
		if err != nil {
			dropped++
			continue
		}
		entry.Message = clean
		entry.Redacted = true
		out = append(out, entry)
	}
	return out, dropped
}

func (o *Orchestrator) extractTicketKeys(commits []gitx.Commit) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, c := range commits {
		for _, key := range o.ticketPattern.FindAllString(c.Subject, -1) {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	return keys
}

func (o *Orchestrator) record(bundle *models.ContextBundle, source string, status models.SourceStatus, err error) {
	bundle.Status[source] = status
	if err != nil {
		bundle.Errors[source] = err.Error()
	}
	metrics.ObserveSourceFetch(source, string(status))
}

var errCheckoutUnavailable = checkoutError{}

type checkoutError struct{}

func (checkoutError) Error() string { return "source checkout unavailable" }
